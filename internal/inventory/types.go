// Package inventory implements the persistence layer: the local file
// inventory, append-only sync-run history, the current token row, and
// filter profiles with their drive bindings — all in an embedded SQLite
// database with WAL mode.
package inventory

import "time"

// Record is one row of the local inventory. Reconciliation reads and
// classifies records; only the store's writers mutate them.
type Record struct {
	ID          string
	Name        string
	RemoteID    string // empty when the row predates remote-id capture
	MimeType    string
	ParentPath  string
	ParentID    string // local id of the parent folder record, when known
	RootDriveID string // root folder this record was synced under
	Deleted     bool
	CreatedAt   int64 // Unix nanoseconds
	UpdatedAt   int64 // Unix nanoseconds
}

// RunStatus is the lifecycle state of a sync run.
type RunStatus string

// Run statuses as stored in the sync_runs table.
const (
	RunInProgress          RunStatus = "in_progress"
	RunCompleted           RunStatus = "completed"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	RunFailed              RunStatus = "failed"
)

// SyncRun is one row of the append-only run history. Created at run start,
// updated exactly once at completion.
type SyncRun struct {
	ID           string
	RootFolderID string
	Status       RunStatus
	Added        int
	Updated      int
	Errors       int
	StartedAt    int64  // Unix nanoseconds
	CompletedAt  *int64 // nil while in progress
	Message      string // human-readable completion note
}

// FilterProfile is a named visibility scope. At most one profile is active
// at any time; the store enforces this with a partial unique index and a
// single-transaction activation.
type FilterProfile struct {
	ID          string
	Name        string
	Description string
	IsActive    bool
}

// DriveBinding scopes a profile to one root drive folder. A profile with no
// bindings is unscoped: all data visible.
type DriveBinding struct {
	ProfileID       string
	RootDriveID     string
	IncludeChildren bool
}

// NowNano returns the current time as Unix nanoseconds. All row timestamps
// use int64 nanoseconds; conversion to time.Time happens at display
// boundaries only.
func NowNano() int64 {
	return time.Now().UnixNano()
}
