// Package filter manages filter profiles and rewrites inventory queries to
// respect the active (or an explicitly supplied) profile's drive scope.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/expertdocs/drivescope/internal/inventory"
)

// ProfileStore is the persistence surface the service needs. The inventory
// store satisfies it.
type ProfileStore interface {
	CreateProfile(ctx context.Context, name, description string) (*inventory.FilterProfile, error)
	GetProfile(ctx context.Context, id string) (*inventory.FilterProfile, error)
	ListProfiles(ctx context.Context) ([]*inventory.FilterProfile, error)
	UpdateProfile(ctx context.Context, p *inventory.FilterProfile) error
	DeleteProfile(ctx context.Context, id string) error
	SetActiveProfile(ctx context.Context, id string) error
	ActiveProfile(ctx context.Context) (*inventory.FilterProfile, error)
	BindDrive(ctx context.Context, profileID, rootDriveID string, includeChildren bool) error
	UnbindDrive(ctx context.Context, profileID, rootDriveID string) error
	ListBindings(ctx context.Context, profileID string) ([]inventory.DriveBinding, error)
	ResolveIDsByRemoteIDs(ctx context.Context, remoteIDs []string) ([]string, error)
}

// FieldMap names the inventory columns the query rewriter may use. It comes
// from configuration so a schema change is a config edit, not a code change.
type FieldMap struct {
	// RemoteIDColumn holds the remote id on each record.
	RemoteIDColumn string
	// RootDriveColumn, when non-empty, is a direct relation to the bound
	// root id and enables the direct-relation strategy.
	RootDriveColumn string
}

// Service owns profile CRUD, exclusive activation, the per-profile drive-id
// cache, and query rewriting.
type Service struct {
	store    ProfileStore
	fieldMap FieldMap
	logger   *slog.Logger

	mu      sync.Mutex
	cache   map[string][]inventory.DriveBinding // profile id -> drive bindings
	fetches int                                 // binding lookups issued, observable in tests
}

// NewService creates a filter service backed by store.
func NewService(store ProfileStore, fieldMap FieldMap, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		fieldMap: fieldMap,
		logger:   logger,
		cache:    make(map[string][]inventory.DriveBinding),
	}
}

// CreateProfile creates a new inactive profile.
func (s *Service) CreateProfile(ctx context.Context, name, description string) (*inventory.FilterProfile, error) {
	return s.store.CreateProfile(ctx, name, description)
}

// GetProfile retrieves a profile by id.
func (s *Service) GetProfile(ctx context.Context, id string) (*inventory.FilterProfile, error) {
	return s.store.GetProfile(ctx, id)
}

// ListProfiles returns all profiles.
func (s *Service) ListProfiles(ctx context.Context) ([]*inventory.FilterProfile, error) {
	return s.store.ListProfiles(ctx)
}

// UpdateProfile updates a profile's name and description.
func (s *Service) UpdateProfile(ctx context.Context, p *inventory.FilterProfile) error {
	return s.store.UpdateProfile(ctx, p)
}

// DeleteProfile removes a profile and evicts its cached drive ids.
func (s *Service) DeleteProfile(ctx context.Context, id string) error {
	if err := s.store.DeleteProfile(ctx, id); err != nil {
		return err
	}

	s.ClearDrivesCache(id)

	return nil
}

// SetActive activates the target profile, deactivating every other one as a
// single storage transaction. The drive-id cache is keyed by profile id and
// unaffected by activation changes, so nothing is invalidated here.
func (s *Service) SetActive(ctx context.Context, id string) error {
	return s.store.SetActiveProfile(ctx, id)
}

// ActiveProfile returns the active profile, or (nil, nil) when none is.
func (s *Service) ActiveProfile(ctx context.Context) (*inventory.FilterProfile, error) {
	return s.store.ActiveProfile(ctx)
}

// BindDrive attaches a root drive to a profile and evicts the stale cache
// entry for that profile.
func (s *Service) BindDrive(ctx context.Context, profileID, rootDriveID string, includeChildren bool) error {
	if err := s.store.BindDrive(ctx, profileID, rootDriveID, includeChildren); err != nil {
		return err
	}

	s.ClearDrivesCache(profileID)

	return nil
}

// UnbindDrive detaches a root drive from a profile and evicts its cache entry.
func (s *Service) UnbindDrive(ctx context.Context, profileID, rootDriveID string) error {
	if err := s.store.UnbindDrive(ctx, profileID, rootDriveID); err != nil {
		return err
	}

	s.ClearDrivesCache(profileID)

	return nil
}

// ProfileDriveIDs returns the root drive ids bound to a profile, memoized
// per profile id. A cache miss issues exactly one bindings lookup.
func (s *Service) ProfileDriveIDs(ctx context.Context, profileID string) ([]string, error) {
	bindings, err := s.profileBindings(ctx, profileID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(bindings))
	for _, b := range bindings {
		ids = append(ids, b.RootDriveID)
	}

	return ids, nil
}

// profileBindings loads a profile's drive bindings through the per-profile
// cache.
func (s *Service) profileBindings(ctx context.Context, profileID string) ([]inventory.DriveBinding, error) {
	s.mu.Lock()

	if bindings, ok := s.cache[profileID]; ok {
		s.mu.Unlock()
		return bindings, nil
	}

	s.mu.Unlock()

	bindings, err := s.store.ListBindings(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("filter: listing drive bindings: %w", err)
	}

	s.mu.Lock()
	s.cache[profileID] = bindings
	s.fetches++
	s.mu.Unlock()

	return bindings, nil
}

// ClearDrivesCache evicts the cached drive ids for a profile. The next
// ProfileDriveIDs call re-fetches from the store.
func (s *Service) ClearDrivesCache(profileID string) {
	s.mu.Lock()
	delete(s.cache, profileID)
	s.mu.Unlock()
}

// FetchCount reports how many binding lookups the service has issued.
func (s *Service) FetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.fetches
}

// ApplyFilterToQuery rewrites q to respect the profile's drive scope. An
// empty profileID falls back to the active profile; with no active profile,
// or a profile with no bindings, the query is returned unchanged (unscoped
// means visible to all, not blocked).
func (s *Service) ApplyFilterToQuery(ctx context.Context, q *inventory.Query, profileID string) (*inventory.Query, error) {
	if profileID == "" {
		active, err := s.store.ActiveProfile(ctx)
		if err != nil {
			return nil, fmt.Errorf("filter: resolving active profile: %w", err)
		}

		if active == nil {
			return q, nil
		}

		profileID = active.ID
	}

	bindings, err := s.profileBindings(ctx, profileID)
	if err != nil {
		return nil, err
	}

	if len(bindings) == 0 {
		return q, nil
	}

	// A binding without children scopes to the bound root's own record; one
	// with children covers its whole subtree.
	var withChildren, selfOnly []string

	for _, b := range bindings {
		if b.IncludeChildren {
			withChildren = append(withChildren, b.RootDriveID)
		} else {
			selfOnly = append(selfOnly, b.RootDriveID)
		}
	}

	// Direct-relation strategy: the record carries the bound root id as a
	// column of its own, so filter on it without any resolution step.
	// Self-only bindings match on the remote id instead — the root record is
	// the one carrying the bound id itself.
	if s.fieldMap.RootDriveColumn != "" {
		return q.WhereAnyIn(
			inventory.InSet{Col: s.fieldMap.RootDriveColumn, Vals: withChildren},
			inventory.InSet{Col: s.fieldMap.RemoteIDColumn, Vals: selfOnly},
		), nil
	}

	// Resolved-id fallback: map bound root ids to the local records that
	// carry them as remote ids, then scope to those records — plus their
	// children where the binding includes them.
	resolvedChildren, err := s.store.ResolveIDsByRemoteIDs(ctx, withChildren)
	if err != nil {
		return nil, fmt.Errorf("filter: resolving bound root ids: %w", err)
	}

	resolvedSelf, err := s.store.ResolveIDsByRemoteIDs(ctx, selfOnly)
	if err != nil {
		return nil, fmt.Errorf("filter: resolving bound root ids: %w", err)
	}

	if len(resolvedChildren)+len(resolvedSelf) == 0 {
		return s.unsatisfiableScope(q, profileID, len(bindings)), nil
	}

	return q.WhereAnyIn(
		inventory.InSet{Col: "id", Vals: append(resolvedChildren, resolvedSelf...)},
		inventory.InSet{Col: "parent_id", Vals: resolvedChildren},
	), nil
}

// unsatisfiableScope is the empty-result sentinel path: bindings are
// configured but none resolve to a local record. Returning zero rows
// surfaces the likely misconfiguration instead of silently widening the
// scope to everything.
func (s *Service) unsatisfiableScope(q *inventory.Query, profileID string, boundRoots int) *inventory.Query {
	s.logger.Warn("filter scope resolves to no local records",
		"profile_id", profileID, "bound_roots", boundRoots)

	return q.MarkUnsatisfiable()
}
