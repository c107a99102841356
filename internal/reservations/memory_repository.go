package reservations

import (
	"context"
	"sort"
	"sync"
	"time"

	"evently-seats/internal/catalog"

	"github.com/google/uuid"
)

// MemoryRepository is the in-process reservation store behind
// STORE_DRIVER=memory and the unit tests. A transaction holds the store lock
// for its whole duration and is rolled back from an undo log when fn fails.
// The seat map enforces the same one-active-claim-per-seat rule as the
// Postgres partial unique index.
type MemoryRepository struct {
	mu           sync.Mutex
	catalog      *catalog.MemoryRepository
	reservations map[uuid.UUID]*Reservation
	claims       map[uuid.UUID]uuid.UUID // seat -> reservation holding its active claim

	// FailNext, when set, is returned by the next mutating call. Tests use it
	// to inject transient store failures.
	FailNext func(op string) error
}

type memTx struct {
	undo []func()
}

type memTxKey struct{}

func NewMemoryRepository(cat *catalog.MemoryRepository) *MemoryRepository {
	return &MemoryRepository{
		catalog:      cat,
		reservations: make(map[uuid.UUID]*Reservation),
		claims:       make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *MemoryRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

// exec runs fn under the store lock, joining the caller's transaction if any
func (m *MemoryRepository) exec(ctx context.Context, fn func(tx *memTx) error) error {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(tx)
	}
	return m.WithTx(ctx, func(ctx context.Context) error {
		return fn(ctx.Value(memTxKey{}).(*memTx))
	})
}

func (m *MemoryRepository) injected(op string) error {
	if m.FailNext == nil {
		return nil
	}
	return m.FailNext(op)
}

func (m *MemoryRepository) FindSeats(ctx context.Context, eventID uuid.UUID, seatIDs []uuid.UUID) ([]catalog.Seat, error) {
	var seats []catalog.Seat
	err := m.exec(ctx, func(*memTx) error {
		seats = m.catalog.Lookup(eventID, seatIDs)
		return nil
	})
	return seats, err
}

func (m *MemoryRepository) FindActiveClaims(ctx context.Context, seatIDs []uuid.UUID) ([]Claim, error) {
	var claims []Claim
	err := m.exec(ctx, func(*memTx) error {
		for _, seatID := range seatIDs {
			resID, ok := m.claims[seatID]
			if !ok {
				continue
			}
			r := m.reservations[resID]
			claims = append(claims, Claim{
				SeatID:        seatID,
				ReservationID: r.ID,
				State:         r.State,
				Kind:          r.Kind,
				ExpiresAt:     r.ExpiresAt,
				Version:       r.Version,
			})
		}
		return nil
	})
	return claims, err
}

func (m *MemoryRepository) SetSeatStatus(ctx context.Context, seatIDs []uuid.UUID, status catalog.SeatStatus) error {
	return m.exec(ctx, func(tx *memTx) error {
		if err := m.injected("set_seat_status"); err != nil {
			return err
		}
		prev := m.catalog.SetStatus(seatIDs, status)
		tx.undo = append(tx.undo, func() { m.catalog.RestoreStatus(prev) })
		return nil
	})
}

func (m *MemoryRepository) InsertReservation(ctx context.Context, r *Reservation) error {
	return m.exec(ctx, func(tx *memTx) error {
		if err := m.injected("insert_reservation"); err != nil {
			return err
		}
		var taken []uuid.UUID
		for _, s := range r.Seats {
			if _, ok := m.claims[s.SeatID]; ok {
				taken = append(taken, s.SeatID)
			}
		}
		if len(taken) > 0 {
			return &claimConflictError{SeatIDs: taken}
		}

		stored := r.clone()
		if stored.UpdatedAt.IsZero() {
			stored.UpdatedAt = stored.CreatedAt
		}
		m.reservations[r.ID] = stored
		for _, s := range r.Seats {
			m.claims[s.SeatID] = r.ID
		}
		tx.undo = append(tx.undo, func() {
			delete(m.reservations, r.ID)
			for _, s := range r.Seats {
				delete(m.claims, s.SeatID)
			}
		})
		return nil
	})
}

func (m *MemoryRepository) GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	var out *Reservation
	err := m.exec(ctx, func(*memTx) error {
		r, ok := m.reservations[id]
		if !ok {
			return ErrReservationNotFound
		}
		out = r.clone()
		return nil
	})
	return out, err
}

func (m *MemoryRepository) Transition(ctx context.Context, t Transition) (bool, error) {
	applied := false
	err := m.exec(ctx, func(tx *memTx) error {
		if err := m.injected("transition"); err != nil {
			return err
		}
		r, ok := m.reservations[t.ID]
		if !ok || r.State != t.From || r.Version != t.Version {
			return nil
		}
		if t.ExpiredBy != nil {
			if r.Kind != KindCheckoutHold || r.ExpiresAt == nil || r.ExpiresAt.After(*t.ExpiredBy) {
				return nil
			}
		}

		before := r.clone()
		at := t.At
		r.State = t.To
		r.Version++
		r.UpdatedAt = at
		switch t.To {
		case StateConfirmed:
			r.ConfirmedAt = &at
			r.ExternalRef = t.ExternalRef
		case StateReleased:
			r.ReleasedAt = &at
			r.ReleaseReason = t.Reason
		}
		tx.undo = append(tx.undo, func() { m.reservations[t.ID] = before })
		applied = true
		return nil
	})
	return applied, err
}

func (m *MemoryRepository) ReleaseClaims(ctx context.Context, reservationID uuid.UUID) error {
	return m.exec(ctx, func(tx *memTx) error {
		r, ok := m.reservations[reservationID]
		if !ok {
			return nil
		}
		before := r.clone()
		var released []uuid.UUID
		for i := range r.Seats {
			if !r.Seats[i].Active {
				continue
			}
			r.Seats[i].Active = false
			if m.claims[r.Seats[i].SeatID] == reservationID {
				delete(m.claims, r.Seats[i].SeatID)
				released = append(released, r.Seats[i].SeatID)
			}
		}
		tx.undo = append(tx.undo, func() {
			m.reservations[reservationID] = before
			for _, seatID := range released {
				m.claims[seatID] = reservationID
			}
		})
		return nil
	})
}

func (m *MemoryRepository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var expired []*Reservation
	err := m.exec(ctx, func(*memTx) error {
		for _, r := range m.reservations {
			if r.Lapsed(now) {
				expired = append(expired, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(*expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	ids := make([]uuid.UUID, len(expired))
	for i, r := range expired {
		ids[i] = r.ID
	}
	return ids, nil
}

func (m *MemoryRepository) ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, int64, error) {
	var matched []Reservation
	err := m.exec(ctx, func(*memTx) error {
		for _, r := range m.reservations {
			if f.EventID != uuid.Nil && r.EventID != f.EventID {
				continue
			}
			if f.State != "" && r.State != f.State {
				continue
			}
			if f.Kind != "" && r.Kind != f.Kind {
				continue
			}
			matched = append(matched, *r.clone())
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := int64(len(matched))
	if f.Offset >= len(matched) {
		return []Reservation{}, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (m *MemoryRepository) SeatClaimViews(ctx context.Context, eventID uuid.UUID) ([]SeatClaimView, error) {
	var views []SeatClaimView
	err := m.exec(ctx, func(*memTx) error {
		for _, s := range m.catalog.EventSeats(eventID) {
			v := SeatClaimView{
				SeatID:              s.ID,
				Section:             s.Section,
				RowLabel:            s.RowLabel,
				SeatNumber:          s.SeatNumber,
				BasePriceMinorUnits: s.BasePriceMinorUnits,
				ProjectedStatus:     s.Status,
			}
			if resID, ok := m.claims[s.ID]; ok {
				r := m.reservations[resID]
				id, state, kind := r.ID, string(r.State), string(r.Kind)
				v.ReservationID, v.State, v.Kind, v.ExpiresAt = &id, &state, &kind, r.ExpiresAt
			}
			views = append(views, v)
		}
		return nil
	})
	return views, err
}
