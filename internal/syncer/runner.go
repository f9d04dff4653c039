// Package syncer orchestrates one sync run: token acquisition, remote
// enumeration, reconciliation against the local inventory, and persistence
// of the diff with an append-only run record.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/expertdocs/drivescope/internal/enumerate"
	"github.com/expertdocs/drivescope/internal/gdrive"
	"github.com/expertdocs/drivescope/internal/inventory"
	"github.com/expertdocs/drivescope/internal/reconcile"
	"github.com/expertdocs/drivescope/internal/token"
)

// TokenProvider supplies a usable access token, refreshing if needed.
type TokenProvider interface {
	GetOrRefresh(ctx context.Context) (*token.Token, error)
}

// Enumerator walks the remote tree under a root folder.
type Enumerator interface {
	Enumerate(ctx context.Context, rootID string) ([]gdrive.Entry, enumerate.Stats, error)
}

// RunStore is the persistence surface a run needs from the inventory store.
type RunStore interface {
	CreateRun(ctx context.Context, rootFolderID string) (*inventory.SyncRun, error)
	CompleteRun(ctx context.Context, run *inventory.SyncRun) error
	ListActiveRecords(ctx context.Context) ([]inventory.Record, error)
	InsertRecords(ctx context.Context, records []inventory.Record) error
	RefreshRecords(ctx context.Context, refreshes []inventory.RecordRefresh) error
}

// Summary is the structured result of a run. Callers get this plus the
// persisted SyncRun row; failures surface as status and message, never as a
// bare panic up to a UI layer.
type Summary struct {
	RunID      string
	Status     inventory.RunStatus
	Added      int
	Updated    int
	LocalOnly  int
	Errors     int
	FilesSeen  int
	BytesSeen  int64
	Message    string
	Superseded bool
}

// Runner executes sync runs.
type Runner struct {
	tokens TokenProvider
	enum   Enumerator
	store  RunStore
	logger *slog.Logger
}

// NewRunner wires a runner from its collaborators.
func NewRunner(tokens TokenProvider, enum Enumerator, store RunStore, logger *slog.Logger) *Runner {
	return &Runner{tokens: tokens, enum: enum, store: store, logger: logger}
}

// Run performs one full sync of the tree under rootFolderID. An auth failure
// aborts immediately (the run is recorded as failed); per-folder enumeration
// failures only bump the run's error count.
func (r *Runner) Run(ctx context.Context, rootFolderID string) (*Summary, error) {
	run, err := r.store.CreateRun(ctx, rootFolderID)
	if err != nil {
		return nil, fmt.Errorf("syncer: creating run: %w", err)
	}

	r.logger.Info("sync run starting",
		"run_id", run.ID, "root_folder_id", rootFolderID)

	if _, err := r.tokens.GetOrRefresh(ctx); err != nil {
		return r.fail(ctx, run, fmt.Errorf("syncer: acquiring token: %w", err))
	}

	entries, stats, err := r.enum.Enumerate(ctx, rootFolderID)
	if err != nil {
		return r.fail(ctx, run, fmt.Errorf("syncer: enumerating %s: %w", rootFolderID, err))
	}

	local, err := r.store.ListActiveRecords(ctx)
	if err != nil {
		return r.fail(ctx, run, fmt.Errorf("syncer: loading inventory: %w", err))
	}

	diff := reconcile.Reconcile(entries, local)

	if err := r.persistDiff(ctx, rootFolderID, entries, diff); err != nil {
		return r.fail(ctx, run, err)
	}

	filesSeen, bytesSeen := reconcile.Subtotal(entries, func(e gdrive.Entry) bool {
		return !e.IsFolder()
	})

	run.Added = len(diff.New)
	run.Updated = len(diff.Matching)
	run.Errors = stats.Errors
	run.Status = inventory.RunCompleted

	if stats.Errors > 0 {
		run.Status = inventory.RunCompletedWithErrors
		run.Message = fmt.Sprintf("%d folder(s) skipped after list failures", stats.Errors)
	}

	superseded := false

	if err := r.store.CompleteRun(ctx, run); err != nil {
		if !errors.Is(err, inventory.ErrRunSuperseded) {
			return nil, fmt.Errorf("syncer: completing run: %w", err)
		}

		superseded = true
	}

	summary := &Summary{
		RunID:      run.ID,
		Status:     run.Status,
		Added:      run.Added,
		Updated:    run.Updated,
		LocalOnly:  len(diff.LocalOnly),
		Errors:     run.Errors,
		FilesSeen:  filesSeen,
		BytesSeen:  bytesSeen,
		Message:    run.Message,
		Superseded: superseded,
	}

	r.logger.Info("sync run finished",
		"run_id", run.ID, "status", string(run.Status),
		"added", summary.Added, "updated", summary.Updated,
		"local_only", summary.LocalOnly, "errors", summary.Errors,
		"superseded", superseded)

	return summary, nil
}

// fail records the run as failed with the error message, then propagates the
// original error. The completion write is best-effort here.
func (r *Runner) fail(ctx context.Context, run *inventory.SyncRun, cause error) (*Summary, error) {
	run.Status = inventory.RunFailed
	run.Message = cause.Error()

	if err := r.store.CompleteRun(ctx, run); err != nil && !errors.Is(err, inventory.ErrRunSuperseded) {
		r.logger.Error("failed to record run failure",
			"run_id", run.ID, "error", err)
	}

	return nil, cause
}

// persistDiff inserts new records and refreshes matched ones.
func (r *Runner) persistDiff(ctx context.Context, rootFolderID string, entries []gdrive.Entry, diff reconcile.Result) error {
	paths := folderPaths(entries, rootFolderID)

	if len(diff.New) > 0 {
		records := make([]inventory.Record, 0, len(diff.New))

		for _, e := range diff.New {
			rec := inventory.Record{
				Name:        e.Name,
				RemoteID:    e.ID,
				MimeType:    e.MimeType,
				RootDriveID: rootFolderID,
			}

			if len(e.ParentIDs) > 0 {
				rec.ParentPath = paths[e.ParentIDs[0]]
				rec.ParentID = e.ParentIDs[0]
			}

			records = append(records, rec)
		}

		if err := r.store.InsertRecords(ctx, records); err != nil {
			return fmt.Errorf("syncer: inserting new records: %w", err)
		}
	}

	if len(diff.Matching) > 0 {
		refreshes := make([]inventory.RecordRefresh, 0, len(diff.Matching))

		for _, m := range diff.Matching {
			refreshes = append(refreshes, inventory.RecordRefresh{
				ID:       m.Local.ID,
				RemoteID: m.Remote.ID,
				Name:     m.Remote.Name,
				MimeType: m.Remote.MimeType,
			})
		}

		if err := r.store.RefreshRecords(ctx, refreshes); err != nil {
			return fmt.Errorf("syncer: refreshing matched records: %w", err)
		}
	}

	return nil
}

// folderPaths materializes a remote-folder-id to slash-path map from the
// enumerated entries, rooted at "/". Entries whose parent was not enumerated
// (the root's own children) resolve to the root path.
func folderPaths(entries []gdrive.Entry, rootID string) map[string]string {
	byID := make(map[string]gdrive.Entry, len(entries))

	for _, e := range entries {
		if e.IsFolder() {
			byID[e.ID] = e
		}
	}

	paths := map[string]string{rootID: "/"}

	var resolve func(id string, depth int) string

	resolve = func(id string, depth int) string {
		if p, ok := paths[id]; ok {
			return p
		}

		// Depth guard against a malformed parent graph with a cycle.
		if depth > 512 {
			return "/"
		}

		e, ok := byID[id]
		if !ok {
			return "/"
		}

		parent := "/"
		if len(e.ParentIDs) > 0 {
			parent = resolve(e.ParentIDs[0], depth+1)
		}

		p := parent
		if p != "/" {
			p += "/"
		}

		p += e.Name
		paths[id] = p

		return p
	}

	for id := range byID {
		resolve(id, 0)
	}

	return paths
}
