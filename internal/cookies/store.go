// Package cookies keeps the upstream authentication cookies valid.
//
// The Store holds the current set behind a single mutex that is only ever
// held while the map is read or swapped. Network work (session probes,
// challenge solving, operator prompts) happens in the Refresher, outside the
// lock, and the Manager coalesces concurrent refreshes so a cold start with
// N waiting requests runs the refresh chain once.
package cookies

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"akash-router/internal/models"
)

// ErrNoCookies is returned when every refresh tier failed.
var ErrNoCookies = errors.New("no usable upstream cookies")

const refreshKey = "refresh"

// Store holds the current cookie set.
type Store struct {
	mu   sync.Mutex
	snap models.Snapshot
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{snap: models.Snapshot{Cookies: models.CookieSet{}}}
}

// Get returns a copy of the current set.
func (s *Store) Get() models.CookieSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Cookies.Clone()
}

// Snapshot returns a copy of the current set and its timestamp.
func (s *Store) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.Snapshot{Cookies: s.snap.Cookies.Clone(), UpdatedAt: s.snap.UpdatedAt}
}

// Replace swaps in set wholesale.
func (s *Store) Replace(set models.CookieSet, at time.Time) {
	next := set.Clone()
	s.mu.Lock()
	s.snap = models.Snapshot{Cookies: next, UpdatedAt: at}
	s.mu.Unlock()
}

// RefreshFunc runs the refresh chain once.
type RefreshFunc func(ctx context.Context) (models.CookieSet, bool)

// Manager combines the store with its refresh chain.
type Manager struct {
	store   *Store
	refresh RefreshFunc
	sf      singleflight.Group
	now     func() time.Time
}

// NewManager wires a store to a refresh function, usually (*Refresher).Refresh.
func NewManager(store *Store, refresh RefreshFunc) *Manager {
	return &Manager{
		store:   store,
		refresh: refresh,
		now:     time.Now,
	}
}

// Store exposes the underlying store.
func (m *Manager) Store() *Store {
	return m.store
}

// GetCookies returns the current set without blocking on refresh.
func (m *Manager) GetCookies() models.CookieSet {
	return m.store.Get()
}

// EnsureValid returns the current set, running the refresh chain first when
// it is empty or incomplete. Concurrent callers share one refresh.
func (m *Manager) EnsureValid(ctx context.Context) (models.CookieSet, error) {
	if set := m.store.Get(); set.Complete() {
		return set, nil
	}

	v, err, shared := m.sf.Do(refreshKey, func() (any, error) {
		if set := m.store.Get(); set.Complete() {
			return set, nil
		}
		// Waiters that join later must not fail because the first caller left.
		set, ok := m.runRefresh(context.WithoutCancel(ctx))
		if !ok {
			return nil, ErrNoCookies
		}
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.Debug("joined in-flight cookie refresh")
	}
	return v.(models.CookieSet).Clone(), nil
}

// Refresh runs the chain unconditionally, coalesced with any refresh already
// in flight. On success the store is replaced. Cancelling ctx abandons the
// chain.
func (m *Manager) Refresh(ctx context.Context) (models.CookieSet, bool) {
	v, _, _ := m.sf.Do(refreshKey, func() (any, error) {
		set, ok := m.runRefresh(ctx)
		if !ok {
			return nil, ErrNoCookies
		}
		return set, nil
	})
	set, ok := v.(models.CookieSet)
	if !ok || set == nil {
		return nil, false
	}
	return set.Clone(), true
}

// Adopt replaces the store with an externally obtained complete set.
func (m *Manager) Adopt(set models.CookieSet, at time.Time) bool {
	if !set.Complete() {
		return false
	}
	m.store.Replace(set, at)
	return true
}

// RefreshInBackground is the body of the periodic refresh task.
func (m *Manager) RefreshInBackground(ctx context.Context) {
	if _, ok := m.Refresh(ctx); ok {
		slog.Info("cookies refreshed in background")
		return
	}
	if ctx.Err() != nil {
		slog.Debug("background cookie refresh cancelled")
		return
	}
	slog.Warn("background cookie refresh failed; keeping current set")
}

func (m *Manager) runRefresh(ctx context.Context) (models.CookieSet, bool) {
	set, ok := m.refresh(ctx)
	if !ok || !set.Complete() {
		return nil, false
	}
	m.store.Replace(set, m.now())
	return set, true
}
