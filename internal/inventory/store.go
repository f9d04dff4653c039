package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/expertdocs/drivescope/internal/token"
)

// ErrRunSuperseded is returned by CompleteRun when a newer run for the same
// root has started; the superseded run is finished as failed instead of
// racing the newer run's counts.
var ErrRunSuperseded = errors.New("inventory: sync run superseded by a newer run")

// ErrProfileNotFound is returned when a profile id does not exist.
var ErrProfileNotFound = errors.New("inventory: filter profile not found")

// walJournalSizeLimit caps the WAL file at 64 MiB.
const walJournalSizeLimit = 67108864

// defaultPrincipal keys the single current token row.
const defaultPrincipal = "default"

// Store persists the local inventory, sync-run history, the current token,
// and filter profiles in an embedded SQLite database with WAL mode.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// Prepared statements for repeated queries, grouped by domain.
	recordStmts  recordStatements
	runStmts     runStatements
	profileStmts profileStatements
	bindingStmts bindingStatements
	tokenStmts   tokenStatements
}

type recordStatements struct {
	insert, refresh, listActive *sql.Stmt
}

type runStatements struct {
	insert, get, list *sql.Stmt
}

type profileStatements struct {
	insert, get, list, update, delete, active *sql.Stmt
}

type bindingStatements struct {
	insert, delete, list *sql.Stmt
}

type tokenStatements struct {
	get, save *sql.Stmt
}

// NewStore opens the database at dbPath, applies migrations, and prepares
// all repeated statements. Use ":memory:" for tests.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	logger.Info("opening inventory database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Session pragmas (foreign_keys in particular) apply per connection, so
	// the pool is pinned to one. SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := setPragmas(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareAllStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	logger.Info("inventory database ready", "path", dbPath)

	return s, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{"PRAGMA busy_timeout = 5000", "busy timeout"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", "pragma", p.desc)
	}

	return nil
}

// --- SQL query constants ---

const (
	sqlRecordColumns = `id, name, remote_id, mime_type, parent_path,
		parent_id, root_drive_id, deleted, created_at, updated_at`

	sqlInsertRecord = `INSERT INTO inventory (` + sqlRecordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlRefreshRecord = `UPDATE inventory
		SET remote_id = ?, name = ?, mime_type = ?, updated_at = ?
		WHERE id = ?`

	sqlListActiveRecords = `SELECT ` + sqlRecordColumns +
		` FROM inventory WHERE deleted = 0`
)

const (
	sqlInsertRun = `INSERT INTO sync_runs
		(id, root_folder_id, status, added, updated, errors, started_at, completed_at, message)
		VALUES (?, ?, ?, 0, 0, 0, ?, NULL, '')`

	sqlGetRun = `SELECT id, root_folder_id, status, added, updated, errors,
		started_at, completed_at, message
		FROM sync_runs WHERE id = ?`

	sqlListRuns = `SELECT id, root_folder_id, status, added, updated, errors,
		started_at, completed_at, message
		FROM sync_runs WHERE root_folder_id = ? ORDER BY started_at DESC`
)

const (
	sqlInsertProfile = `INSERT INTO filter_profiles (id, name, description, is_active)
		VALUES (?, ?, ?, 0)`

	sqlGetProfile = `SELECT id, name, description, is_active
		FROM filter_profiles WHERE id = ?`

	sqlListProfiles = `SELECT id, name, description, is_active
		FROM filter_profiles ORDER BY name`

	sqlUpdateProfile = `UPDATE filter_profiles SET name = ?, description = ?
		WHERE id = ?`

	sqlDeleteProfile = `DELETE FROM filter_profiles WHERE id = ?`

	sqlActiveProfile = `SELECT id, name, description, is_active
		FROM filter_profiles WHERE is_active = 1`
)

const (
	sqlInsertBinding = `INSERT INTO profile_drive_bindings
		(profile_id, root_drive_id, include_children) VALUES (?, ?, ?)
		ON CONFLICT(profile_id, root_drive_id) DO UPDATE
		SET include_children = excluded.include_children`

	sqlDeleteBinding = `DELETE FROM profile_drive_bindings
		WHERE profile_id = ? AND root_drive_id = ?`

	sqlListBindings = `SELECT profile_id, root_drive_id, include_children
		FROM profile_drive_bindings WHERE profile_id = ?`
)

const (
	sqlGetToken = `SELECT access_value, refresh_value, acquired_at, expires_at, window_ns
		FROM tokens WHERE principal = ?` //nolint:gosec // SQL columns, not credentials

	// The whole row is superseded in one statement so access value and
	// expiry can never be observed mismatched.
	sqlSaveToken = `INSERT INTO tokens
		(principal, access_value, refresh_value, acquired_at, expires_at, window_ns)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(principal) DO UPDATE SET
			access_value  = excluded.access_value,
			refresh_value = excluded.refresh_value,
			acquired_at   = excluded.acquired_at,
			expires_at    = excluded.expires_at,
			window_ns     = excluded.window_ns`
)

// stmtDef maps a SQL string to the prepared statement pointer it should populate.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

// prepareAll prepares a batch of statements, returning on first error.
func prepareAll(ctx context.Context, db *sql.DB, defs []stmtDef) error {
	for i := range defs {
		stmt, err := db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

// prepareAllStatements creates all prepared statements grouped by domain.
func (s *Store) prepareAllStatements(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.recordStmts.insert, sqlInsertRecord, "insertRecord"},
		{&s.recordStmts.refresh, sqlRefreshRecord, "refreshRecord"},
		{&s.recordStmts.listActive, sqlListActiveRecords, "listActiveRecords"},
		{&s.runStmts.insert, sqlInsertRun, "insertRun"},
		{&s.runStmts.get, sqlGetRun, "getRun"},
		{&s.runStmts.list, sqlListRuns, "listRuns"},
		{&s.profileStmts.insert, sqlInsertProfile, "insertProfile"},
		{&s.profileStmts.get, sqlGetProfile, "getProfile"},
		{&s.profileStmts.list, sqlListProfiles, "listProfiles"},
		{&s.profileStmts.update, sqlUpdateProfile, "updateProfile"},
		{&s.profileStmts.delete, sqlDeleteProfile, "deleteProfile"},
		{&s.profileStmts.active, sqlActiveProfile, "activeProfile"},
		{&s.bindingStmts.insert, sqlInsertBinding, "insertBinding"},
		{&s.bindingStmts.delete, sqlDeleteBinding, "deleteBinding"},
		{&s.bindingStmts.list, sqlListBindings, "listBindings"},
		{&s.tokenStmts.get, sqlGetToken, "getToken"},
		{&s.tokenStmts.save, sqlSaveToken, "saveToken"},
	})
}

// --- Record scanning helpers ---

// scanRecord scans a full inventory row into a Record.
func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	r := &Record{}

	var deleted int

	err := row.Scan(
		&r.ID, &r.Name, &r.RemoteID, &r.MimeType, &r.ParentPath,
		&r.ParentID, &r.RootDriveID, &deleted, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Deleted = deleted == 1

	return r, nil
}

// scanRecordRows iterates over sql.Rows and collects Records.
func scanRecordRows(rows *sql.Rows) ([]Record, error) {
	var records []Record

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory row: %w", err)
		}

		records = append(records, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory rows: %w", err)
	}

	return records, nil
}

// --- Record methods ---

// ListActiveRecords returns all non-deleted inventory records.
func (s *Store) ListActiveRecords(ctx context.Context) ([]Record, error) {
	s.logger.Debug("listing active inventory records")

	rows, err := s.recordStmts.listActive.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active records: %w", err)
	}
	defer rows.Close()

	return scanRecordRows(rows)
}

// ListRecords executes a built Query against the inventory table. An
// unsatisfiable query short-circuits to zero rows without touching the
// database — that is the typed empty-result sentinel.
func (s *Store) ListRecords(ctx context.Context, q *Query) ([]Record, error) {
	if q.IsUnsatisfiable() {
		s.logger.Debug("unsatisfiable query short-circuited to empty result")
		return []Record{}, nil
	}

	where, args, err := q.SQL()
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + sqlRecordColumns + ` FROM inventory WHERE ` + where

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	return scanRecordRows(rows)
}

// InsertRecords inserts a batch of records in a single transaction.
// Records with an empty ID are assigned one.
func (s *Store) InsertRecords(ctx context.Context, records []Record) error {
	s.logger.Debug("inserting inventory records", "count", len(records))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert tx: %w", err)
	}

	stmt := tx.StmtContext(ctx, s.recordStmts.insert)
	now := NowNano()

	for i := range records {
		r := &records[i]
		if r.ID == "" {
			r.ID = uuid.NewString()
		}

		if r.CreatedAt == 0 {
			r.CreatedAt = now
		}

		if r.UpdatedAt == 0 {
			r.UpdatedAt = now
		}

		deleted := 0
		if r.Deleted {
			deleted = 1
		}

		_, execErr := stmt.ExecContext(ctx,
			r.ID, r.Name, r.RemoteID, r.MimeType, r.ParentPath,
			r.ParentID, r.RootDriveID, deleted, r.CreatedAt, r.UpdatedAt,
		)
		if execErr != nil {
			rollbackErr := tx.Rollback()
			return fmt.Errorf("insert record %d (%s): %w (rollback: %v)",
				i, r.Name, execErr, rollbackErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}

	return nil
}

// RecordRefresh carries the remote fields applied to a matched record.
type RecordRefresh struct {
	ID       string
	RemoteID string
	Name     string
	MimeType string
}

// RefreshRecords applies remote-side fields to matched records in one
// transaction. This is the persistence half of reconciliation — the diff
// itself never writes.
func (s *Store) RefreshRecords(ctx context.Context, refreshes []RecordRefresh) error {
	s.logger.Debug("refreshing inventory records", "count", len(refreshes))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin refresh tx: %w", err)
	}

	stmt := tx.StmtContext(ctx, s.recordStmts.refresh)
	now := NowNano()

	for i := range refreshes {
		u := &refreshes[i]

		_, execErr := stmt.ExecContext(ctx, u.RemoteID, u.Name, u.MimeType, now, u.ID)
		if execErr != nil {
			rollbackErr := tx.Rollback()
			return fmt.Errorf("refresh record %s: %w (rollback: %v)", u.ID, execErr, rollbackErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit refresh: %w", err)
	}

	return nil
}

// ResolveIDsByRemoteIDs returns the local ids of non-deleted records whose
// remote_id is in remoteIDs. Used by the filter fallback strategy.
func (s *Store) ResolveIDsByRemoteIDs(ctx context.Context, remoteIDs []string) ([]string, error) {
	if len(remoteIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?, ", len(remoteIDs)-1) + "?"
	query := `SELECT id FROM inventory WHERE deleted = 0 AND remote_id IN (` + placeholders + `)`

	args := make([]any, len(remoteIDs))
	for i, id := range remoteIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve ids by remote ids: %w", err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan resolved id: %w", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolved ids: %w", err)
	}

	return ids, nil
}

// --- Sync run methods ---

// CreateRun appends a new in-progress run for the root folder and makes it
// the head run for that root. Any still-running older run for the same root
// is thereby superseded: its completion write will fail the head check.
func (s *Store) CreateRun(ctx context.Context, rootFolderID string) (*SyncRun, error) {
	run := &SyncRun{
		ID:           uuid.NewString(),
		RootFolderID: rootFolderID,
		Status:       RunInProgress,
		StartedAt:    NowNano(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create run tx: %w", err)
	}

	if _, execErr := tx.StmtContext(ctx, s.runStmts.insert).ExecContext(ctx,
		run.ID, run.RootFolderID, string(run.Status), run.StartedAt,
	); execErr != nil {
		rollbackErr := tx.Rollback()
		return nil, fmt.Errorf("insert run: %w (rollback: %v)", execErr, rollbackErr)
	}

	if _, execErr := tx.ExecContext(ctx,
		`INSERT INTO run_heads (root_folder_id, run_id) VALUES (?, ?)
		 ON CONFLICT(root_folder_id) DO UPDATE SET run_id = excluded.run_id`,
		rootFolderID, run.ID,
	); execErr != nil {
		rollbackErr := tx.Rollback()
		return nil, fmt.Errorf("update run head: %w (rollback: %v)", execErr, rollbackErr)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create run: %w", err)
	}

	s.logger.Info("sync run created",
		"run_id", run.ID, "root_folder_id", rootFolderID)

	return run, nil
}

// CompleteRun writes a run's final status and counts, exactly once. If the
// run is no longer the head for its root, the run is finished as failed with
// a superseded note and ErrRunSuperseded is returned.
func (s *Store) CompleteRun(ctx context.Context, run *SyncRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete run tx: %w", err)
	}

	var headID string

	err = tx.QueryRowContext(ctx,
		`SELECT run_id FROM run_heads WHERE root_folder_id = ?`, run.RootFolderID,
	).Scan(&headID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		rollbackErr := tx.Rollback()
		return fmt.Errorf("read run head: %w (rollback: %v)", err, rollbackErr)
	}

	now := NowNano()
	superseded := headID != run.ID

	status := run.Status
	message := run.Message

	if superseded {
		status = RunFailed
		message = "superseded by a newer run for the same root"
	}

	if _, execErr := tx.ExecContext(ctx,
		`UPDATE sync_runs
		 SET status = ?, added = ?, updated = ?, errors = ?, completed_at = ?, message = ?
		 WHERE id = ?`,
		string(status), run.Added, run.Updated, run.Errors, now, message, run.ID,
	); execErr != nil {
		rollbackErr := tx.Rollback()
		return fmt.Errorf("complete run %s: %w (rollback: %v)", run.ID, execErr, rollbackErr)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete run: %w", err)
	}

	run.Status = status
	run.Message = message
	run.CompletedAt = &now

	if superseded {
		s.logger.Warn("sync run superseded", "run_id", run.ID)
		return ErrRunSuperseded
	}

	s.logger.Info("sync run completed",
		"run_id", run.ID, "status", string(status),
		"added", run.Added, "updated", run.Updated, "errors", run.Errors)

	return nil
}

// scanRun scans a sync run row.
func scanRun(row interface{ Scan(...any) error }) (*SyncRun, error) {
	run := &SyncRun{}

	var status string

	err := row.Scan(
		&run.ID, &run.RootFolderID, &status, &run.Added, &run.Updated,
		&run.Errors, &run.StartedAt, &run.CompletedAt, &run.Message,
	)
	if err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)

	return run, nil
}

// GetRun retrieves a sync run by id. Returns (nil, nil) when absent.
func (s *Store) GetRun(ctx context.Context, id string) (*SyncRun, error) {
	run, err := scanRun(s.runStmts.get.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil run means "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}

	return run, nil
}

// ListRuns returns the run history for a root, newest first.
func (s *Store) ListRuns(ctx context.Context, rootFolderID string) ([]*SyncRun, error) {
	rows, err := s.runStmts.list.QueryContext(ctx, rootFolderID)
	if err != nil {
		return nil, fmt.Errorf("list runs %s: %w", rootFolderID, err)
	}
	defer rows.Close()

	var runs []*SyncRun

	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan run row: %w", scanErr)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}

	return runs, nil
}

// --- Filter profile methods ---

// CreateProfile inserts a new inactive profile.
func (s *Store) CreateProfile(ctx context.Context, name, description string) (*FilterProfile, error) {
	p := &FilterProfile{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
	}

	if _, err := s.profileStmts.insert.ExecContext(ctx, p.ID, p.Name, p.Description); err != nil {
		return nil, fmt.Errorf("create profile %q: %w", name, err)
	}

	s.logger.Info("filter profile created", "profile_id", p.ID, "name", name)

	return p, nil
}

// scanProfile scans a filter profile row.
func scanProfile(row interface{ Scan(...any) error }) (*FilterProfile, error) {
	p := &FilterProfile{}

	var active int

	if err := row.Scan(&p.ID, &p.Name, &p.Description, &active); err != nil {
		return nil, err
	}

	p.IsActive = active == 1

	return p, nil
}

// GetProfile retrieves a profile by id. Returns ErrProfileNotFound when absent.
func (s *Store) GetProfile(ctx context.Context, id string) (*FilterProfile, error) {
	p, err := scanProfile(s.profileStmts.get.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", id, err)
	}

	return p, nil
}

// ListProfiles returns all profiles ordered by name.
func (s *Store) ListProfiles(ctx context.Context) ([]*FilterProfile, error) {
	rows, err := s.profileStmts.list.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*FilterProfile

	for rows.Next() {
		p, scanErr := scanProfile(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan profile row: %w", scanErr)
		}

		profiles = append(profiles, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profile rows: %w", err)
	}

	return profiles, nil
}

// UpdateProfile updates a profile's name and description.
func (s *Store) UpdateProfile(ctx context.Context, p *FilterProfile) error {
	res, err := s.profileStmts.update.ExecContext(ctx, p.Name, p.Description, p.ID)
	if err != nil {
		return fmt.Errorf("update profile %s: %w", p.ID, err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrProfileNotFound
	}

	return nil
}

// DeleteProfile removes a profile; its bindings cascade.
func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	res, err := s.profileStmts.delete.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("delete profile %s: %w", id, err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrProfileNotFound
	}

	s.logger.Info("filter profile deleted", "profile_id", id)

	return nil
}

// SetActiveProfile deactivates every other profile and activates the target
// inside one transaction. A reader racing this write observes either the old
// exclusively-active profile or the new one, never zero or two.
func (s *Store) SetActiveProfile(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activation tx: %w", err)
	}

	if _, execErr := tx.ExecContext(ctx,
		`UPDATE filter_profiles SET is_active = 0 WHERE is_active = 1 AND id != ?`, id,
	); execErr != nil {
		rollbackErr := tx.Rollback()
		return fmt.Errorf("deactivate profiles: %w (rollback: %v)", execErr, rollbackErr)
	}

	res, execErr := tx.ExecContext(ctx,
		`UPDATE filter_profiles SET is_active = 1 WHERE id = ?`, id,
	)
	if execErr != nil {
		rollbackErr := tx.Rollback()
		return fmt.Errorf("activate profile %s: %w (rollback: %v)", id, execErr, rollbackErr)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil {
			return fmt.Errorf("%w (rollback: %v)", ErrProfileNotFound, rollbackErr)
		}

		return ErrProfileNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activation: %w", err)
	}

	s.logger.Info("filter profile activated", "profile_id", id)

	return nil
}

// ActiveProfile returns the exclusively-active profile, or (nil, nil) when
// no profile is active.
func (s *Store) ActiveProfile(ctx context.Context) (*FilterProfile, error) {
	p, err := scanProfile(s.profileStmts.active.QueryRowContext(ctx))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil profile means "none active"
	}

	if err != nil {
		return nil, fmt.Errorf("get active profile: %w", err)
	}

	return p, nil
}

// --- Binding methods ---

// BindDrive attaches a root drive folder to a profile (upsert).
func (s *Store) BindDrive(ctx context.Context, profileID, rootDriveID string, includeChildren bool) error {
	children := 0
	if includeChildren {
		children = 1
	}

	if _, err := s.bindingStmts.insert.ExecContext(ctx, profileID, rootDriveID, children); err != nil {
		return fmt.Errorf("bind drive %s to profile %s: %w", rootDriveID, profileID, err)
	}

	return nil
}

// UnbindDrive removes a root drive binding from a profile.
func (s *Store) UnbindDrive(ctx context.Context, profileID, rootDriveID string) error {
	if _, err := s.bindingStmts.delete.ExecContext(ctx, profileID, rootDriveID); err != nil {
		return fmt.Errorf("unbind drive %s from profile %s: %w", rootDriveID, profileID, err)
	}

	return nil
}

// ListBindings returns all drive bindings for a profile.
func (s *Store) ListBindings(ctx context.Context, profileID string) ([]DriveBinding, error) {
	rows, err := s.bindingStmts.list.QueryContext(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("list bindings %s: %w", profileID, err)
	}
	defer rows.Close()

	var bindings []DriveBinding

	for rows.Next() {
		var (
			b        DriveBinding
			children int
		)

		if err := rows.Scan(&b.ProfileID, &b.RootDriveID, &children); err != nil {
			return nil, fmt.Errorf("scan binding row: %w", err)
		}

		b.IncludeChildren = children == 1
		bindings = append(bindings, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate binding rows: %w", err)
	}

	return bindings, nil
}

// --- Token store adapter ---

// tokenStore adapts the tokens table to token.Store.
type tokenStore struct {
	s *Store
}

// TokenStore returns a token.Store persisting the single current token row.
func (s *Store) TokenStore() token.Store {
	return &tokenStore{s: s}
}

func (t *tokenStore) Load(ctx context.Context) (*token.Token, error) {
	var (
		tok                   token.Token
		acquiredAt, expiresAt int64
		windowNS              int64
	)

	err := t.s.tokenStmts.get.QueryRowContext(ctx, defaultPrincipal).Scan(
		&tok.AccessValue, &tok.RefreshValue, &acquiredAt, &expiresAt, &windowNS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}

	tok.AcquiredAt = time.Unix(0, acquiredAt)
	tok.ExpiresAt = time.Unix(0, expiresAt)
	tok.Window = time.Duration(windowNS)

	return &tok, nil
}

func (t *tokenStore) Save(ctx context.Context, tok *token.Token) error {
	_, err := t.s.tokenStmts.save.ExecContext(ctx,
		defaultPrincipal, tok.AccessValue, tok.RefreshValue,
		tok.AcquiredAt.UnixNano(), tok.ExpiresAt.UnixNano(), int64(tok.Window),
	)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}

	return nil
}

// --- Maintenance methods ---

// Checkpoint forces a WAL checkpoint to consolidate the WAL file into the
// main database.
func (s *Store) Checkpoint() error {
	_, err := s.db.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}

	return nil
}

// Close closes all prepared statements and the database connection.
func (s *Store) Close() error {
	s.logger.Info("closing inventory database")

	if err := s.closeStatements(); err != nil {
		s.logger.Error("error closing statements", "error", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	return nil
}

// closeStatements closes all prepared statements, collecting errors.
func (s *Store) closeStatements() error {
	stmts := []*sql.Stmt{
		s.recordStmts.insert, s.recordStmts.refresh, s.recordStmts.listActive,
		s.runStmts.insert, s.runStmts.get, s.runStmts.list,
		s.profileStmts.insert, s.profileStmts.get, s.profileStmts.list,
		s.profileStmts.update, s.profileStmts.delete, s.profileStmts.active,
		s.bindingStmts.insert, s.bindingStmts.delete, s.bindingStmts.list,
		s.tokenStmts.get, s.tokenStmts.save,
	}

	var errs []string

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close statements: %s", strings.Join(errs, "; "))
	}

	return nil
}
