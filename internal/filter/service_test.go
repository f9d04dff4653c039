package filter

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expertdocs/drivescope/internal/inventory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fallbackFieldMap disables the direct-relation strategy so tests exercise
// the resolved-id path.
var fallbackFieldMap = FieldMap{RemoteIDColumn: "remote_id"}

// directFieldMap enables the direct-relation strategy.
var directFieldMap = FieldMap{RemoteIDColumn: "remote_id", RootDriveColumn: "root_drive_id"}

func newTestService(t *testing.T, fm FieldMap) (*Service, *inventory.Store) {
	t.Helper()

	store, err := inventory.NewStore(filepath.Join(t.TempDir(), "test.db"), testLogger())
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return NewService(store, fm, testLogger()), store
}

func recordIDs(records []inventory.Record) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}

	return ids
}

func TestApplyFilterBoundRootRestrictsResults(t *testing.T) {
	// One binding to root R1; only the record carrying R1 as its remote id
	// (and anything under it) is visible.
	svc, store := newTestService(t, fallbackFieldMap)
	ctx := context.Background()

	require.NoError(t, store.InsertRecords(ctx, []inventory.Record{
		{ID: "l1", Name: "a", RemoteID: "R1"},
		{ID: "l2", Name: "b", RemoteID: "R2"},
	}))

	p, err := svc.CreateProfile(ctx, "work", "")
	require.NoError(t, err)
	require.NoError(t, svc.BindDrive(ctx, p.ID, "R1", true))

	q, err := svc.ApplyFilterToQuery(ctx, inventory.NewQuery(), p.ID)
	require.NoError(t, err)

	got, err := store.ListRecords(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"l1"}, recordIDs(got))
}

func TestApplyFilterIncludesChildrenOfResolvedRecords(t *testing.T) {
	svc, store := newTestService(t, fallbackFieldMap)
	ctx := context.Background()

	require.NoError(t, store.InsertRecords(ctx, []inventory.Record{
		{ID: "l1", Name: "root-folder", RemoteID: "R1"},
		{ID: "l2", Name: "child", RemoteID: "R5", ParentID: "l1"},
		{ID: "l3", Name: "elsewhere", RemoteID: "R9"},
	}))

	p, err := svc.CreateProfile(ctx, "work", "")
	require.NoError(t, err)
	require.NoError(t, svc.BindDrive(ctx, p.ID, "R1", true))

	q, err := svc.ApplyFilterToQuery(ctx, inventory.NewQuery(), p.ID)
	require.NoError(t, err)

	got, err := store.ListRecords(ctx, q)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"l1", "l2"}, recordIDs(got))
}

func TestApplyFilterSelfOnlyBindingExcludesChildren(t *testing.T) {
	// Bound without children: only the root's own record is visible, not
	// the records hanging off it.
	svc, store := newTestService(t, fallbackFieldMap)
	ctx := context.Background()

	require.NoError(t, store.InsertRecords(ctx, []inventory.Record{
		{ID: "l1", Name: "root-folder", RemoteID: "R1"},
		{ID: "l2", Name: "child", RemoteID: "R5", ParentID: "l1"},
	}))

	p, err := svc.CreateProfile(ctx, "narrow", "")
	require.NoError(t, err)
	require.NoError(t, svc.BindDrive(ctx, p.ID, "R1", false))

	q, err := svc.ApplyFilterToQuery(ctx, inventory.NewQuery(), p.ID)
	require.NoError(t, err)

	got, err := store.ListRecords(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"l1"}, recordIDs(got))
}

func TestApplyFilterMixedBindings(t *testing.T) {
	svc, store := newTestService(t, fallbackFieldMap)
	ctx := context.Background()

	require.NoError(t, store.InsertRecords(ctx, []inventory.Record{
		{ID: "l1", Name: "wide-root", RemoteID: "R1"},
		{ID: "l2", Name: "wide-child", RemoteID: "R5", ParentID: "l1"},
		{ID: "l3", Name: "narrow-root", RemoteID: "R2"},
		{ID: "l4", Name: "narrow-child", RemoteID: "R6", ParentID: "l3"},
	}))

	p, err := svc.CreateProfile(ctx, "mixed", "")
	require.NoError(t, err)
	require.NoError(t, svc.BindDrive(ctx, p.ID, "R1", true))
	require.NoError(t, svc.BindDrive(ctx, p.ID, "R2", false))

	q, err := svc.ApplyFilterToQuery(ctx, inventory.NewQuery(), p.ID)
	require.NoError(t, err)

	got, err := store.ListRecords(ctx, q)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"l1", "l2", "l3"}, recordIDs(got),
		"the child of a self-only binding stays out of scope")
}

func TestApplyFilterUnresolvableBindingYieldsZeroRows(t *testing.T) {
	// A binding to R9 with no matching local record must return zero rows,
	// never fall through to unscoped results.
	svc, store := newTestService(t, fallbackFieldMap)
	ctx := context.Background()

	require.NoError(t, store.InsertRecords(ctx, []inventory.Record{
		{ID: "l1", Name: "a", RemoteID: "R1"},
	}))

	p, err := svc.CreateProfile(ctx, "ghost", "")
	require.NoError(t, err)
	require.NoError(t, svc.BindDrive(ctx, p.ID, "R9", true))

	q, err := svc.ApplyFilterToQuery(ctx, inventory.NewQuery(), p.ID)
	require.NoError(t, err)
	assert.True(t, q.IsUnsatisfiable())

	got, err := store.ListRecords(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestApplyFilterNoBindingsIsUnscoped(t *testing.T) {
	svc, store := newTestService(t, fallbackFieldMap)
	ctx := context.Background()

	require.NoError(t, store.InsertRecords(ctx, []inventory.Record{
		{ID: "l1", Name: "a", RemoteID: "R1"},
		{ID: "l2", Name: "b", RemoteID: "R2"},
	}))

	p, err := svc.CreateProfile(ctx, "open", "")
	require.NoError(t, err)

	q, err := svc.ApplyFilterToQuery(ctx, inventory.NewQuery(), p.ID)
	require.NoError(t, err)

	got, err := store.ListRecords(ctx, q)
	require.NoError(t, err)
	assert.Len(t, got, 2, "a profile with no bindings is unscoped, not blocked")
}

func TestApplyFilterNoActiveProfileIsUnscoped(t *testing.T) {
	svc, store := newTestService(t, fallbackFieldMap)
	ctx := context.Background()

	require.NoError(t, store.InsertRecords(ctx, []inventory.Record{
		{ID: "l1", Name: "a", RemoteID: "R1"},
	}))

	q, err := svc.ApplyFilterToQuery(ctx, inventory.NewQuery(), "")
	require.NoError(t, err)

	got, err := store.ListRecords(ctx, q)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestApplyFilterFallsBackToActiveProfile(t *testing.T) {
	svc, store := newTestService(t, fallbackFieldMap)
	ctx := context.Background()

	require.NoError(t, store.InsertRecords(ctx, []inventory.Record{
		{ID: "l1", Name: "a", RemoteID: "R1"},
		{ID: "l2", Name: "b", RemoteID: "R2"},
	}))

	p, err := svc.CreateProfile(ctx, "work", "")
	require.NoError(t, err)
	require.NoError(t, svc.BindDrive(ctx, p.ID, "R2", true))
	require.NoError(t, svc.SetActive(ctx, p.ID))

	q, err := svc.ApplyFilterToQuery(ctx, inventory.NewQuery(), "")
	require.NoError(t, err)

	got, err := store.ListRecords(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"l2"}, recordIDs(got))
}

func TestApplyFilterDirectRelationStrategy(t *testing.T) {
	svc, store := newTestService(t, directFieldMap)
	ctx := context.Background()

	require.NoError(t, store.InsertRecords(ctx, []inventory.Record{
		{ID: "l1", Name: "a", RemoteID: "rA", RootDriveID: "R1"},
		{ID: "l2", Name: "b", RemoteID: "rB", RootDriveID: "R2"},
	}))

	p, err := svc.CreateProfile(ctx, "work", "")
	require.NoError(t, err)
	require.NoError(t, svc.BindDrive(ctx, p.ID, "R1", true))

	q, err := svc.ApplyFilterToQuery(ctx, inventory.NewQuery(), p.ID)
	require.NoError(t, err)

	got, err := store.ListRecords(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"l1"}, recordIDs(got), "direct relation filters without id resolution")
}

func TestApplyFilterDirectRelationSelfOnlyBinding(t *testing.T) {
	// In the direct strategy a self-only binding matches the record whose
	// remote id is the bound root, not everything under it.
	svc, store := newTestService(t, directFieldMap)
	ctx := context.Background()

	require.NoError(t, store.InsertRecords(ctx, []inventory.Record{
		{ID: "l1", Name: "root-folder", RemoteID: "R1", RootDriveID: "R1"},
		{ID: "l2", Name: "child", RemoteID: "R5", RootDriveID: "R1"},
	}))

	p, err := svc.CreateProfile(ctx, "narrow", "")
	require.NoError(t, err)
	require.NoError(t, svc.BindDrive(ctx, p.ID, "R1", false))

	q, err := svc.ApplyFilterToQuery(ctx, inventory.NewQuery(), p.ID)
	require.NoError(t, err)

	got, err := store.ListRecords(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"l1"}, recordIDs(got))
}

func TestProfileDriveIDsMemoized(t *testing.T) {
	svc, _ := newTestService(t, fallbackFieldMap)
	ctx := context.Background()

	p, err := svc.CreateProfile(ctx, "work", "")
	require.NoError(t, err)
	require.NoError(t, svc.BindDrive(ctx, p.ID, "R1", true))

	before := svc.FetchCount()

	first, err := svc.ProfileDriveIDs(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"R1"}, first)
	assert.Equal(t, before+1, svc.FetchCount())

	// Cached: no second lookup.
	_, err = svc.ProfileDriveIDs(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, before+1, svc.FetchCount())

	// Eviction forces a re-fetch.
	svc.ClearDrivesCache(p.ID)

	_, err = svc.ProfileDriveIDs(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, before+2, svc.FetchCount(), "clearing the cache must force a re-fetch")
}

func TestBindDriveEvictsCache(t *testing.T) {
	svc, _ := newTestService(t, fallbackFieldMap)
	ctx := context.Background()

	p, err := svc.CreateProfile(ctx, "work", "")
	require.NoError(t, err)
	require.NoError(t, svc.BindDrive(ctx, p.ID, "R1", true))

	ids, err := svc.ProfileDriveIDs(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	require.NoError(t, svc.BindDrive(ctx, p.ID, "R2", true))

	ids, err = svc.ProfileDriveIDs(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 2, "binding a drive must invalidate the cached id set")
}

func TestSetActiveIsExclusiveThroughService(t *testing.T) {
	svc, _ := newTestService(t, fallbackFieldMap)
	ctx := context.Background()

	a, err := svc.CreateProfile(ctx, "a", "")
	require.NoError(t, err)

	b, err := svc.CreateProfile(ctx, "b", "")
	require.NoError(t, err)

	require.NoError(t, svc.SetActive(ctx, a.ID))
	require.NoError(t, svc.SetActive(ctx, b.ID))

	profiles, err := svc.ListProfiles(ctx)
	require.NoError(t, err)

	activeCount := 0

	for _, p := range profiles {
		if p.IsActive {
			activeCount++
			assert.Equal(t, b.ID, p.ID)
		}
	}

	assert.Equal(t, 1, activeCount)
}
