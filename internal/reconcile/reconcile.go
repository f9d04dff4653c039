// Package reconcile computes the diff between a remote enumeration and the
// local inventory. It is pure: no I/O, no persistence, no mutation of its
// inputs. Callers act on the result.
package reconcile

import (
	"github.com/expertdocs/drivescope/internal/gdrive"
	"github.com/expertdocs/drivescope/internal/inventory"
)

// Match pairs one remote entry with the local record it was matched to.
type Match struct {
	Remote gdrive.Entry
	Local  inventory.Record
}

// Result partitions the inputs. Every remote entry lands in exactly one of
// Matching or New. LocalOnly holds records absent from the remote in both
// key spaces: their RemoteID is not any remote entry's id and their Name is
// not any remote entry's name.
type Result struct {
	Matching  []Match
	New       []gdrive.Entry
	LocalOnly []inventory.Record
}

// Reconcile diffs remote entries against local records using two keys in
// priority order: a record whose RemoteID equals an entry's ID matches that
// entry; among the leftovers, an exact case-sensitive name match pairs the
// two. Each local record is consumed at most once. Names are compared as
// stored — enumeration already normalized remote names to NFC.
func Reconcile(remote []gdrive.Entry, local []inventory.Record) Result {
	byRemoteID := make(map[string]int, len(local))
	byName := make(map[string][]int, len(local))

	for i := range local {
		if local[i].RemoteID != "" {
			// First record wins on duplicate remote ids.
			if _, ok := byRemoteID[local[i].RemoteID]; !ok {
				byRemoteID[local[i].RemoteID] = i
			}
		}

		byName[local[i].Name] = append(byName[local[i].Name], i)
	}

	result := Result{}
	consumed := make([]bool, len(local))

	// Pass 1: id matches take priority over name matches, so a renamed
	// remote entry still pairs with its record.
	var unmatched []gdrive.Entry

	for _, e := range remote {
		if idx, ok := byRemoteID[e.ID]; ok && !consumed[idx] {
			consumed[idx] = true
			result.Matching = append(result.Matching, Match{Remote: e, Local: local[idx]})

			continue
		}

		unmatched = append(unmatched, e)
	}

	// Pass 2: exact name match among records not consumed by pass 1.
	for _, e := range unmatched {
		matched := false

		for _, idx := range byName[e.Name] {
			if consumed[idx] {
				continue
			}

			consumed[idx] = true
			matched = true

			result.Matching = append(result.Matching, Match{Remote: e, Local: local[idx]})

			break
		}

		if !matched {
			result.New = append(result.New, e)
		}
	}

	// A record with a stale remote id whose name still exists remotely is
	// not local-only: something remote still claims it in one key space.
	remoteIDs := make(map[string]struct{}, len(remote))
	remoteNames := make(map[string]struct{}, len(remote))

	for _, e := range remote {
		remoteIDs[e.ID] = struct{}{}
		remoteNames[e.Name] = struct{}{}
	}

	for i := range local {
		if consumed[i] {
			continue
		}

		_, idKnown := remoteIDs[local[i].RemoteID]
		_, nameKnown := remoteNames[local[i].Name]

		if local[i].RemoteID == "" {
			idKnown = false
		}

		if !idKnown && !nameKnown {
			result.LocalOnly = append(result.LocalOnly, local[i])
		}
	}

	return result
}

// Subtotal counts the entries satisfying pred and sums their sizes. Entries
// without a reported size count toward the total but contribute zero bytes.
func Subtotal(entries []gdrive.Entry, pred func(gdrive.Entry) bool) (count int, bytes int64) {
	for _, e := range entries {
		if pred == nil || pred(e) {
			count++

			if e.Size != nil {
				bytes += *e.Size
			}
		}
	}

	return count, bytes
}
