package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps catalogs in process memory. It backs STORE_DRIVER=memory
// and the unit tests, and exposes status helpers for the in-memory reservation store.
type MemoryRepository struct {
	mu      sync.RWMutex
	seats   map[uuid.UUID]Seat
	byEvent map[uuid.UUID][]uuid.UUID
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		seats:   make(map[uuid.UUID]Seat),
		byEvent: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (m *MemoryRepository) CreateCatalog(_ context.Context, eventID uuid.UUID, seats []Seat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.byEvent[eventID]) > 0 {
		return ErrCatalogExists
	}
	for _, s := range seats {
		if _, ok := m.seats[s.ID]; ok {
			return ErrInvalidRequest
		}
	}

	now := time.Now().UTC()
	ids := make([]uuid.UUID, 0, len(seats))
	for _, s := range seats {
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		s.UpdatedAt = now
		m.seats[s.ID] = s
		ids = append(ids, s.ID)
	}
	m.byEvent[eventID] = ids
	return nil
}

func (m *MemoryRepository) FindByEvent(_ context.Context, eventID uuid.UUID) ([]Seat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eventSeats(eventID), nil
}

func (m *MemoryRepository) FindByID(_ context.Context, id uuid.UUID) (*Seat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.seats[id]
	if !ok {
		return nil, ErrSeatNotFound
	}
	return &s, nil
}

func (m *MemoryRepository) UpdateSeatNumbers(_ context.Context, eventID uuid.UUID, numbers map[uuid.UUID]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for id, n := range numbers {
		s, ok := m.seats[id]
		if !ok || s.EventID != eventID {
			continue
		}
		s.SeatNumber = n
		s.UpdatedAt = now
		m.seats[id] = s
	}
	return nil
}

// EventSeats returns the ordered catalog of an event.
func (m *MemoryRepository) EventSeats(eventID uuid.UUID) []Seat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eventSeats(eventID)
}

// Lookup returns the seats of eventID among ids. Unknown ids and seats of
// other events are omitted.
func (m *MemoryRepository) Lookup(eventID uuid.UUID, ids []uuid.UUID) []Seat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Seat, 0, len(ids))
	for _, id := range ids {
		if s, ok := m.seats[id]; ok && s.EventID == eventID {
			out = append(out, s)
		}
	}
	return out
}

// SetStatus sets the projection for ids and returns the previous values so
// a caller can restore them.
func (m *MemoryRepository) SetStatus(ids []uuid.UUID, status SeatStatus) map[uuid.UUID]SeatStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := make(map[uuid.UUID]SeatStatus, len(ids))
	for _, id := range ids {
		s, ok := m.seats[id]
		if !ok {
			continue
		}
		if _, seen := prev[id]; !seen {
			prev[id] = s.Status
		}
		s.Status = status
		m.seats[id] = s
	}
	return prev
}

// RestoreStatus writes back values returned by SetStatus.
func (m *MemoryRepository) RestoreStatus(prev map[uuid.UUID]SeatStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, status := range prev {
		if s, ok := m.seats[id]; ok {
			s.Status = status
			m.seats[id] = s
		}
	}
}

func (m *MemoryRepository) eventSeats(eventID uuid.UUID) []Seat {
	ids := m.byEvent[eventID]
	out := make([]Seat, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.seats[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}
