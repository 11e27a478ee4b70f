// Package state owns the coordinator's shared mutable state: one status record
// per configured exchange and the registry of active strategy groups.
//
// Exchange entries are created at construction and never removed, each behind
// its own lock. Groups sit in a registry whose lock is only held to insert,
// remove or look up an entry; mutations of one group are serialized by that
// group's own mutex so work on different groups never contends.
package state

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/mselser95/venuecoord/pkg/types"
)

type exchangeEntry struct {
	mu     sync.RWMutex
	status types.ExchangeStatus
}

type groupEntry struct {
	mu      sync.Mutex
	group   *types.CrossExchangeGroup
	removed bool
}

// Store is the coordination state.
type Store struct {
	names     []string
	exchanges map[string]*exchangeEntry

	mu     sync.RWMutex
	groups map[string]*groupEntry
}

// New creates a store with an unknown status record for every exchange.
func New(exchanges []string) *Store {
	s := &Store{
		exchanges: make(map[string]*exchangeEntry, len(exchanges)),
		groups:    make(map[string]*groupEntry),
	}
	for _, name := range exchanges {
		if _, ok := s.exchanges[name]; ok {
			continue
		}
		s.names = append(s.names, name)
		s.exchanges[name] = &exchangeEntry{status: types.ExchangeStatus{
			Name:   name,
			Status: types.HealthUnknown,
		}}
	}
	return s
}

// Exchanges returns the configured exchange names in configuration order.
func (s *Store) Exchanges() []string {
	return slices.Clone(s.names)
}

// ExchangeStatus returns a copy of one exchange's status.
func (s *Store) ExchangeStatus(name string) (types.ExchangeStatus, bool) {
	e, ok := s.exchanges[name]
	if !ok {
		return types.ExchangeStatus{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status, true
}

// IsHealthy reports whether name is configured and healthy.
func (s *Store) IsHealthy(name string) bool {
	st, ok := s.ExchangeStatus(name)
	return ok && st.IsHealthy()
}

// ExchangeStatuses returns a snapshot of every exchange status.
func (s *Store) ExchangeStatuses() map[string]types.ExchangeStatus {
	out := make(map[string]types.ExchangeStatus, len(s.exchanges))
	for name := range s.exchanges {
		st, _ := s.ExchangeStatus(name)
		out[name] = st
	}
	return out
}

// UpdateExchangeStatus applies fn to the status of name under its write lock
// and returns the status before and after.
func (s *Store) UpdateExchangeStatus(name string, fn func(*types.ExchangeStatus)) (before, after types.ExchangeStatus, err error) {
	e, ok := s.exchanges[name]
	if !ok {
		return before, after, fmt.Errorf("%w: %s", types.ErrUnknownExchange, name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	before = e.status
	fn(&e.status)
	e.status.Name = name
	after = e.status
	return before, after, nil
}

// InsertGroup stores a copy of g.
func (s *Store) InsertGroup(g *types.CrossExchangeGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[g.ID]; ok {
		return fmt.Errorf("group %s already exists", g.ID)
	}
	s.groups[g.ID] = &groupEntry{group: g.Clone()}
	return nil
}

func (s *Store) entry(id string) (*groupEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.groups[id]
	return e, ok
}

// UpdateGroup runs fn on the live group while holding that group's lock.
// fn may mutate the group in place; its error is returned as is.
func (s *Store) UpdateGroup(id string, fn func(*types.CrossExchangeGroup) error) error {
	e, ok := s.entry(id)
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrGroupNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return fmt.Errorf("%w: %s", types.ErrGroupNotFound, id)
	}
	return fn(e.group)
}

// RemoveGroup deletes the group and returns its final state. It waits for any
// in-flight UpdateGroup on the same group.
func (s *Store) RemoveGroup(id string) (*types.CrossExchangeGroup, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrGroupNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return nil, fmt.Errorf("%w: %s", types.ErrGroupNotFound, id)
	}
	e.removed = true

	s.mu.Lock()
	delete(s.groups, id)
	s.mu.Unlock()

	return e.group.Clone(), nil
}

// Group returns a deep copy of one group.
func (s *Store) Group(id string) (*types.CrossExchangeGroup, bool) {
	e, ok := s.entry(id)
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return nil, false
	}
	return e.group.Clone(), true
}

// GroupIDs lists the registered group IDs in sorted order.
func (s *Store) GroupIDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.groups))
	for id := range s.groups {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Groups returns deep copies of every group ordered by creation time, then ID.
func (s *Store) Groups() []*types.CrossExchangeGroup {
	ids := s.GroupIDs()
	out := make([]*types.CrossExchangeGroup, 0, len(ids))
	for _, id := range ids {
		if g, ok := s.Group(id); ok {
			out = append(out, g)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ActiveStrategyCount counts strategies in groups that are not stopped.
func (s *Store) ActiveStrategyCount() int {
	n := 0
	for _, g := range s.Groups() {
		if g.Status != types.GroupStopped {
			n += len(g.Strategies)
		}
	}
	return n
}

// ActiveConflictKeys returns the conflict keys of strategies in active groups.
func (s *Store) ActiveConflictKeys() map[string]bool {
	keys := make(map[string]bool)
	for _, g := range s.Groups() {
		if g.Status != types.GroupActive {
			continue
		}
		for _, spec := range g.Strategies {
			keys[spec.ConflictKey()] = true
		}
	}
	return keys
}
