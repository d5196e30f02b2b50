package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bitespeed/internal/models"
)

// MemoryStore keeps contacts in process memory. It backs the service tests and the
// "memory" driver for local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	contacts map[int64]*models.Contact
	nextID   int64
	clock    Clock

	// atomicMu serializes Atomic units so a rollback never discards another unit's writes.
	atomicMu sync.Mutex
}

// NewMemoryStore creates an empty store whose ids start at 1.
func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		contacts: make(map[int64]*models.Contact),
		nextID:   1,
		clock:    clock,
	}
}

// Put stores c exactly as given, id and timestamps included. It is meant for seeding
// fixtures such as legacy link chains.
func (s *MemoryStore) Put(c *models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.ID] = c.Clone()
	if c.ID >= s.nextID {
		s.nextID = c.ID + 1
	}
}

// All returns every stored contact ordered by id.
func (s *MemoryStore) All() []*models.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindMany returns live contacts matching any filter field, oldest first.
func (s *MemoryStore) FindMany(_ context.Context, filter ContactFilter) ([]*models.Contact, error) {
	if filter.IsEmpty() {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Contact
	for _, c := range s.contacts {
		if filter.matches(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// FindByID returns the live contact with id or ErrNotFound.
func (s *MemoryStore) FindByID(_ context.Context, id int64) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok || c.DeletedAt != nil {
		return nil, fmt.Errorf("contact %d: %w", id, ErrNotFound)
	}
	return c.Clone(), nil
}

// Create assigns the next id and stamps both timestamps.
func (s *MemoryStore) Create(_ context.Context, c *models.Contact) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	out := c.Clone()
	out.ID = s.nextID
	out.Email = models.NormalizeEmail(c.Email)
	out.PhoneNumber = models.NormalizePhone(c.PhoneNumber)
	out.CreatedAt = now
	out.UpdatedAt = now
	s.nextID++
	s.contacts[out.ID] = out
	return out.Clone(), nil
}

// UpdateMany relinks the given contacts; unknown ids are ignored.
func (s *MemoryStore) UpdateMany(_ context.Context, ids []int64, update ContactUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedAt := update.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.clock()
	}
	for _, id := range ids {
		c, ok := s.contacts[id]
		if !ok {
			continue
		}
		c.LinkPrecedence = update.LinkPrecedence
		c.LinkedID = nil
		if update.LinkedID != nil {
			c.LinkedID = models.Int64Ptr(*update.LinkedID)
		}
		c.UpdatedAt = updatedAt
	}
	return nil
}

// Atomic runs fn and restores the pre-call snapshot if fn fails.
func (s *MemoryStore) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	s.atomicMu.Lock()
	defer s.atomicMu.Unlock()

	s.mu.RLock()
	snapshot := make(map[int64]*models.Contact, len(s.contacts))
	for id, c := range s.contacts {
		snapshot[id] = c.Clone()
	}
	nextID := s.nextID
	s.mu.RUnlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.contacts = snapshot
		s.nextID = nextID
		s.mu.Unlock()
		return err
	}
	return nil
}
