// Package enumerate implements a breadth-first crawler over a remote Drive
// folder tree. Each folder is listed exactly once — a visited set guards
// against duplicate listing and infinite loops on malformed parent graphs —
// and a failed folder is logged and skipped rather than aborting the run.
// Authentication failures are the exception: a dead token fails every
// remaining folder the same way, so the crawl aborts immediately.
package enumerate

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/expertdocs/drivescope/internal/gdrive"
)

// DefaultFanout is the bounded concurrency for per-folder list calls within
// one BFS level. Purely a performance knob — correctness never depends on
// ordering across folders.
const DefaultFanout = 4

// Stats summarizes one enumeration run.
type Stats struct {
	FoldersListed int
	PagesFetched  int
	Errors        int
}

// Enumerator walks a folder tree breadth-first via a Lister.
type Enumerator struct {
	lister gdrive.Lister
	fanout int
	logger *slog.Logger
}

// New creates an Enumerator. fanout <= 0 falls back to DefaultFanout.
func New(lister gdrive.Lister, fanout int, logger *slog.Logger) *Enumerator {
	if fanout <= 0 {
		fanout = DefaultFanout
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Enumerator{lister: lister, fanout: fanout, logger: logger}
}

// folderResult collects the outcome of listing one folder.
type folderResult struct {
	entries []gdrive.Entry
	pages   int
	failed  bool
}

// Enumerate walks the tree rooted at rootFolderID and returns every entry
// found, finite and idempotent across calls (modulo remote changes). A
// list failure for one folder skips that folder's remaining subtree and is
// counted in Stats.Errors; an authentication failure or caller cancellation
// aborts the whole run.
func (e *Enumerator) Enumerate(ctx context.Context, rootFolderID string) ([]gdrive.Entry, Stats, error) {
	e.logger.Info("enumeration started",
		slog.String("root_folder_id", rootFolderID),
	)

	var (
		entries []gdrive.Entry
		stats   Stats
	)

	visited := map[string]bool{rootFolderID: true}
	frontier := []string{rootFolderID}

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, stats, fmt.Errorf("enumerate: canceled: %w", err)
		}

		results, err := e.listLevel(ctx, frontier)
		if err != nil {
			return nil, stats, err
		}

		var next []string

		for i := range results {
			res := &results[i]
			stats.PagesFetched += res.pages

			if res.failed {
				stats.Errors++
			} else {
				stats.FoldersListed++
			}

			for j := range res.entries {
				child := &res.entries[j]
				entries = append(entries, *child)

				// Enqueue unvisited child folders. Even if a malformed graph
				// reaches a folder via two paths, it is listed once.
				if child.IsFolder() && !visited[child.ID] {
					visited[child.ID] = true
					next = append(next, child.ID)
				}
			}
		}

		frontier = next
	}

	if err := ctx.Err(); err != nil {
		return nil, stats, fmt.Errorf("enumerate: canceled: %w", err)
	}

	e.logger.Info("enumeration complete",
		slog.String("root_folder_id", rootFolderID),
		slog.Int("entries", len(entries)),
		slog.Int("folders_listed", stats.FoldersListed),
		slog.Int("pages_fetched", stats.PagesFetched),
		slog.Int("errors", stats.Errors),
	)

	return entries, stats, nil
}

// listLevel lists every folder of the current BFS frontier with bounded
// fan-out. Results land in per-folder slots, so no ordering across folders
// matters and no mutex is needed. Only auth-class failures escape a worker;
// the errgroup then cancels the level's siblings and the error aborts the
// run.
func (e *Enumerator) listLevel(ctx context.Context, frontier []string) ([]folderResult, error) {
	results := make([]folderResult, len(frontier))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.fanout)

	for i, folderID := range frontier {
		g.Go(func() error {
			res, err := e.listFolder(gctx, folderID)
			results[i] = res

			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// listFolder pages through one folder's children until the page token is
// exhausted. A page failure is logged and marks the folder failed; entries
// from pages fetched before the failure are kept. An authentication failure
// is returned as an error instead: it is not a property of this folder.
func (e *Enumerator) listFolder(ctx context.Context, folderID string) (folderResult, error) {
	var res folderResult

	pageToken := ""

	for {
		page, err := e.lister.ListChildren(ctx, folderID, pageToken)
		if err != nil {
			if gdrive.IsAuth(err) {
				e.logger.Error("aborting enumeration on authentication failure",
					slog.String("folder_id", folderID),
					slog.String("error", err.Error()),
				)

				return res, fmt.Errorf("enumerate: listing folder %s: %w", folderID, err)
			}

			e.logger.Warn("skipping folder subtree after list failure",
				slog.String("folder_id", folderID),
				slog.Int("pages_fetched", res.pages),
				slog.String("error", err.Error()),
			)

			res.failed = true

			return res, nil
		}

		res.pages++
		res.entries = append(res.entries, page.Entries...)

		if page.NextPageToken == "" {
			return res, nil
		}

		pageToken = page.NextPageToken
	}
}
