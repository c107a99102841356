package reservations

import (
	"context"
	"errors"
	"testing"
	"time"

	"evently-seats/internal/catalog"
	"evently-seats/pkg/cache"
	"evently-seats/pkg/clock"
	"evently-seats/pkg/logger"

	"github.com/google/uuid"
)

var testStart = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

type testEnv struct {
	svc     *Service
	repo    *MemoryRepository
	catalog *catalog.MemoryRepository
	clock   *clock.Manual
	events  *RecordingPublisher
	eventID uuid.UUID
	seats   []uuid.UUID
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.RetryInitialInterval = time.Millisecond
	p.RetryMaxInterval = 2 * time.Millisecond
	return p
}

// newTestEnv loads one section with a single row of n seats. seats[i] is
// seat number i+1.
func newTestEnv(t *testing.T, n int, policy ...func(*Policy)) *testEnv {
	t.Helper()
	cat := catalog.NewMemoryRepository()
	eventID := uuid.New()
	loaded, err := catalog.NewService(cat, logger.Discard()).LoadFloorPlan(context.Background(), eventID, catalog.FloorPlan{
		Sections: []catalog.FloorPlanSection{{Name: "Floor", Rows: []catalog.FloorPlanRow{{Label: "A", Seats: n}}}},
	})
	if err != nil {
		t.Fatalf("load floor plan: %v", err)
	}
	seats := make([]uuid.UUID, n)
	for _, s := range loaded {
		seats[s.SeatNumber-1] = s.ID
	}

	p := testPolicy()
	for _, fn := range policy {
		fn(&p)
	}

	repo := NewMemoryRepository(cat)
	clk := clock.NewManual(testStart)
	events := &RecordingPublisher{}
	svc := NewService(repo, clk, p, logger.Discard(),
		WithPublisher(events),
		WithCache(cache.NewLoader(cache.NewMemory())),
	)
	return &testEnv{svc: svc, repo: repo, catalog: cat, clock: clk, events: events, eventID: eventID, seats: seats}
}

func (e *testEnv) hold(t *testing.T, kind Kind, ttl time.Duration, seats ...uuid.UUID) *Reservation {
	t.Helper()
	r, err := e.svc.CreateHold(context.Background(), CreateHoldInput{
		EventID: e.eventID, SeatIDs: seats, Kind: kind, TTL: ttl, HolderRef: "buyer",
	})
	if err != nil {
		t.Fatalf("create hold: %v", err)
	}
	return r
}

func (e *testEnv) seatStatus(t *testing.T, id uuid.UUID) catalog.SeatStatus {
	t.Helper()
	seats := e.catalog.Lookup(e.eventID, []uuid.UUID{id})
	if len(seats) != 1 {
		t.Fatalf("seat %s not found", id)
	}
	return seats[0].Status
}

func (e *testEnv) eventTypes() []EventType {
	var out []EventType
	for _, evt := range e.events.Events() {
		out = append(out, evt.Type)
	}
	return out
}

func TestService_CreateHold(t *testing.T) {
	t.Parallel()

	t.Run("checkout hold claims seats", func(t *testing.T) {
		env := newTestEnv(t, 3)
		r := env.hold(t, KindCheckoutHold, 0, env.seats[0], env.seats[1])

		if r.State != StateActive || r.Kind != KindCheckoutHold {
			t.Fatalf("unexpected hold %+v", r)
		}
		if r.ExpiresAt == nil || !r.ExpiresAt.Equal(testStart.Add(10*time.Minute)) {
			t.Fatalf("expected default deadline, got %v", r.ExpiresAt)
		}
		if r.Version != 1 {
			t.Fatalf("expected version 1, got %d", r.Version)
		}
		for _, id := range r.SeatIDs() {
			if got := env.seatStatus(t, id); got != catalog.SeatHeld {
				t.Fatalf("expected HELD, got %s", got)
			}
		}
		if got := env.seatStatus(t, env.seats[2]); got != catalog.SeatAvailable {
			t.Fatalf("untouched seat changed to %s", got)
		}
		if types := env.eventTypes(); len(types) != 1 || types[0] != EventHoldCreated {
			t.Fatalf("expected HOLD_CREATED, got %v", types)
		}
	})

	t.Run("manual hold has no deadline", func(t *testing.T) {
		env := newTestEnv(t, 1)
		r := env.hold(t, KindManualHold, 0, env.seats[0])
		if r.ExpiresAt != nil {
			t.Fatalf("expected no deadline, got %v", r.ExpiresAt)
		}
	})

	t.Run("conflict lists only the taken seats and claims nothing", func(t *testing.T) {
		env := newTestEnv(t, 3)
		env.hold(t, KindCheckoutHold, 0, env.seats[0], env.seats[1])

		_, err := env.svc.CreateHold(context.Background(), CreateHoldInput{
			EventID: env.eventID, SeatIDs: []uuid.UUID{env.seats[1], env.seats[2]}, Kind: KindCheckoutHold,
		})
		var unavailable *SeatUnavailableError
		if !errors.As(err, &unavailable) {
			t.Fatalf("expected SeatUnavailableError, got %v", err)
		}
		if len(unavailable.SeatIDs) != 1 || unavailable.SeatIDs[0] != env.seats[1] {
			t.Fatalf("expected only the second seat, got %v", unavailable.SeatIDs)
		}
		if got := env.seatStatus(t, env.seats[2]); got != catalog.SeatAvailable {
			t.Fatalf("partial claim left seat %s", got)
		}
	})

	t.Run("unknown seats are listed", func(t *testing.T) {
		env := newTestEnv(t, 1)
		other := newTestEnv(t, 1)
		unknown := uuid.New()

		_, err := env.svc.CreateHold(context.Background(), CreateHoldInput{
			EventID: env.eventID, SeatIDs: []uuid.UUID{env.seats[0], unknown, other.seats[0]}, Kind: KindCheckoutHold,
		})
		var missing *SeatNotFoundError
		if !errors.As(err, &missing) {
			t.Fatalf("expected SeatNotFoundError, got %v", err)
		}
		if len(missing.SeatIDs) != 2 {
			t.Fatalf("expected 2 missing seats, got %v", missing.SeatIDs)
		}
		if !errors.Is(err, ErrSeatNotFound) {
			t.Fatal("expected error to match ErrSeatNotFound")
		}
	})

	t.Run("expired hold is reclaimed inline", func(t *testing.T) {
		env := newTestEnv(t, 2)
		first := env.hold(t, KindCheckoutHold, time.Minute, env.seats[0])
		env.clock.Advance(time.Minute)

		env.hold(t, KindCheckoutHold, 0, env.seats[0], env.seats[1])

		old, err := env.svc.GetReservation(context.Background(), first.ID)
		if err != nil {
			t.Fatalf("get reservation: %v", err)
		}
		if old.State != StateReleased || old.ReleaseReason != ReasonExpired {
			t.Fatalf("expected first hold expired, got %s/%s", old.State, old.ReleaseReason)
		}
		want := []EventType{EventHoldCreated, EventHoldExpired, EventHoldCreated}
		got := env.eventTypes()
		if len(got) != len(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, got)
			}
		}
	})
}

func TestService_CreateHoldValidation(t *testing.T) {
	env := newTestEnv(t, 12)
	seat := env.seats[0]

	tests := []struct {
		name string
		in   CreateHoldInput
	}{
		{name: "no seats", in: CreateHoldInput{EventID: env.eventID, Kind: KindCheckoutHold}},
		{name: "missing event", in: CreateHoldInput{SeatIDs: []uuid.UUID{seat}, Kind: KindCheckoutHold}},
		{name: "duplicate seat", in: CreateHoldInput{EventID: env.eventID, SeatIDs: []uuid.UUID{seat, seat}, Kind: KindCheckoutHold}},
		{name: "nil seat", in: CreateHoldInput{EventID: env.eventID, SeatIDs: []uuid.UUID{uuid.Nil}, Kind: KindCheckoutHold}},
		{name: "too many seats", in: CreateHoldInput{EventID: env.eventID, SeatIDs: env.seats[:11], Kind: KindCheckoutHold}},
		{name: "unknown kind", in: CreateHoldInput{EventID: env.eventID, SeatIDs: []uuid.UUID{seat}, Kind: "LOCKED"}},
		{name: "negative ttl", in: CreateHoldInput{EventID: env.eventID, SeatIDs: []uuid.UUID{seat}, Kind: KindCheckoutHold, TTL: -time.Second}},
		{name: "ttl above max", in: CreateHoldInput{EventID: env.eventID, SeatIDs: []uuid.UUID{seat}, Kind: KindCheckoutHold, TTL: time.Hour}},
		{name: "manual hold with ttl", in: CreateHoldInput{EventID: env.eventID, SeatIDs: []uuid.UUID{seat}, Kind: KindManualHold, TTL: time.Minute}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.CreateHold(context.Background(), tt.in)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}

	if got := env.seatStatus(t, seat); got != catalog.SeatAvailable {
		t.Fatalf("rejected requests changed seat to %s", got)
	}
}

func TestService_Confirm(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("confirms and replays", func(t *testing.T) {
		env := newTestEnv(t, 2)
		r := env.hold(t, KindCheckoutHold, 0, env.seats[0], env.seats[1])

		first, err := env.svc.Confirm(ctx, r.ID, "pay-1")
		if err != nil {
			t.Fatalf("confirm: %v", err)
		}
		if first.Replayed || first.Reservation.State != StateConfirmed || first.Reservation.ConfirmedAt == nil {
			t.Fatalf("unexpected result %+v", first.Reservation)
		}
		for _, id := range r.SeatIDs() {
			if got := env.seatStatus(t, id); got != catalog.SeatConfirmed {
				t.Fatalf("expected CONFIRMED, got %s", got)
			}
		}

		again, err := env.svc.Confirm(ctx, r.ID, "pay-1")
		if err != nil {
			t.Fatalf("replay: %v", err)
		}
		if !again.Replayed || again.Reservation.Version != first.Reservation.Version {
			t.Fatalf("expected replay without mutation, got %+v", again)
		}

		confirmed := 0
		for _, typ := range env.eventTypes() {
			if typ == EventHoldConfirmed {
				confirmed++
			}
		}
		if confirmed != 1 {
			t.Fatalf("expected one HOLD_CONFIRMED, got %d", confirmed)
		}
	})

	t.Run("different reference is rejected by default", func(t *testing.T) {
		env := newTestEnv(t, 1)
		r := env.hold(t, KindCheckoutHold, 0, env.seats[0])
		if _, err := env.svc.Confirm(ctx, r.ID, "pay-1"); err != nil {
			t.Fatalf("confirm: %v", err)
		}
		_, err := env.svc.Confirm(ctx, r.ID, "pay-2")
		if !errors.Is(err, ErrAlreadyConfirmedConflict) {
			t.Fatalf("expected ErrAlreadyConfirmedConflict, got %v", err)
		}
	})

	t.Run("different reference is accepted by policy", func(t *testing.T) {
		env := newTestEnv(t, 1, func(p *Policy) { p.AcceptConflictingConfirm = true })
		r := env.hold(t, KindCheckoutHold, 0, env.seats[0])
		if _, err := env.svc.Confirm(ctx, r.ID, "pay-1"); err != nil {
			t.Fatalf("confirm: %v", err)
		}
		res, err := env.svc.Confirm(ctx, r.ID, "pay-2")
		if err != nil {
			t.Fatalf("expected accepted replay, got %v", err)
		}
		if !res.Replayed || res.Reservation.ExternalRef != "pay-1" {
			t.Fatalf("expected original reference kept, got %+v", res.Reservation)
		}
	})

	t.Run("requires a reference", func(t *testing.T) {
		env := newTestEnv(t, 1)
		r := env.hold(t, KindCheckoutHold, 0, env.seats[0])
		if _, err := env.svc.Confirm(ctx, r.ID, ""); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest, got %v", err)
		}
	})

	t.Run("unknown hold", func(t *testing.T) {
		env := newTestEnv(t, 1)
		if _, err := env.svc.Confirm(ctx, uuid.New(), "pay-1"); !errors.Is(err, ErrReservationNotFound) {
			t.Fatalf("expected ErrReservationNotFound, got %v", err)
		}
	})

	t.Run("released hold cannot be confirmed", func(t *testing.T) {
		env := newTestEnv(t, 1)
		r := env.hold(t, KindCheckoutHold, 0, env.seats[0])
		if _, err := env.svc.Release(ctx, r.ID, ""); err != nil {
			t.Fatalf("release: %v", err)
		}
		if _, err := env.svc.Confirm(ctx, r.ID, "pay-1"); !errors.Is(err, ErrHoldExpired) {
			t.Fatalf("expected ErrHoldExpired, got %v", err)
		}
		if got := env.seatStatus(t, env.seats[0]); got != catalog.SeatAvailable {
			t.Fatalf("expected AVAILABLE, got %s", got)
		}
	})
}

func TestService_ConfirmAroundDeadline(t *testing.T) {
	tests := []struct {
		name      string
		elapsed   time.Duration
		wantErr   error
		wantState State
		wantSeat  catalog.SeatStatus
	}{
		{name: "just before deadline", elapsed: time.Minute - time.Nanosecond, wantState: StateConfirmed, wantSeat: catalog.SeatConfirmed},
		{name: "at deadline", elapsed: time.Minute, wantErr: ErrHoldExpired, wantState: StateReleased, wantSeat: catalog.SeatAvailable},
		{name: "after deadline", elapsed: time.Hour, wantErr: ErrHoldExpired, wantState: StateReleased, wantSeat: catalog.SeatAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 1)
			r := env.hold(t, KindCheckoutHold, time.Minute, env.seats[0])
			env.clock.Advance(tt.elapsed)

			_, err := env.svc.Confirm(context.Background(), r.ID, "pay-1")
			if tt.wantErr == nil && err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}

			got, err := env.svc.GetReservation(context.Background(), r.ID)
			if err != nil {
				t.Fatalf("get reservation: %v", err)
			}
			if got.State != tt.wantState {
				t.Fatalf("expected %s, got %s", tt.wantState, got.State)
			}
			if status := env.seatStatus(t, env.seats[0]); status != tt.wantSeat {
				t.Fatalf("expected seat %s, got %s", tt.wantSeat, status)
			}
		})
	}
}

func TestService_Release(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("releases and is idempotent", func(t *testing.T) {
		env := newTestEnv(t, 2)
		r := env.hold(t, KindCheckoutHold, 0, env.seats[0], env.seats[1])

		res, err := env.svc.Release(ctx, r.ID, "")
		if err != nil {
			t.Fatalf("release: %v", err)
		}
		if !res.Changed || res.Reservation.ReleaseReason != ReasonCancelled || res.Reservation.ReleasedAt == nil {
			t.Fatalf("unexpected result %+v", res.Reservation)
		}
		for _, id := range r.SeatIDs() {
			if got := env.seatStatus(t, id); got != catalog.SeatAvailable {
				t.Fatalf("expected AVAILABLE, got %s", got)
			}
		}

		res, err = env.svc.Release(ctx, r.ID, "changed my mind")
		if err != nil {
			t.Fatalf("second release: %v", err)
		}
		if res.Changed || res.Reservation.ReleaseReason != ReasonCancelled {
			t.Fatalf("expected no-op, got %+v", res)
		}

		// Released seats are immediately claimable
		env.hold(t, KindCheckoutHold, 0, env.seats[0], env.seats[1])
	})

	t.Run("confirmed hold cannot be released", func(t *testing.T) {
		env := newTestEnv(t, 1)
		r := env.hold(t, KindCheckoutHold, 0, env.seats[0])
		if _, err := env.svc.Confirm(ctx, r.ID, "pay-1"); err != nil {
			t.Fatalf("confirm: %v", err)
		}
		if _, err := env.svc.Release(ctx, r.ID, ""); !errors.Is(err, ErrCannotReleaseConfirmed) {
			t.Fatalf("expected ErrCannotReleaseConfirmed, got %v", err)
		}
		if got := env.seatStatus(t, env.seats[0]); got != catalog.SeatConfirmed {
			t.Fatalf("expected CONFIRMED, got %s", got)
		}
	})

	t.Run("manual hold is released by staff", func(t *testing.T) {
		env := newTestEnv(t, 1)
		r := env.hold(t, KindManualHold, 0, env.seats[0])
		env.clock.Advance(30 * 24 * time.Hour)

		res, err := env.svc.Release(ctx, r.ID, "house seats returned")
		if err != nil {
			t.Fatalf("release: %v", err)
		}
		if res.Reservation.ReleaseReason != "house seats returned" {
			t.Fatalf("expected custom reason, got %q", res.Reservation.ReleaseReason)
		}
	})
}

func TestService_StoreRetries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("transient failure is retried", func(t *testing.T) {
		env := newTestEnv(t, 1)
		calls := 0
		env.repo.FailNext = func(op string) error {
			if op != "set_seat_status" {
				return nil
			}
			calls++
			if calls == 1 {
				return ErrTransientStore
			}
			return nil
		}

		r := env.hold(t, KindCheckoutHold, 0, env.seats[0])
		if calls != 2 {
			t.Fatalf("expected 2 attempts, got %d", calls)
		}
		held, total, err := env.svc.ListReservations(ctx, ReservationFilter{EventID: env.eventID})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total != 1 || held[0].ID != r.ID {
			t.Fatalf("expected only the committed hold, got %d", total)
		}
	})

	t.Run("persistent failure surfaces and rolls back", func(t *testing.T) {
		env := newTestEnv(t, 1)
		calls := 0
		env.repo.FailNext = func(op string) error {
			if op == "set_seat_status" {
				calls++
				return ErrTransientStore
			}
			return nil
		}

		_, err := env.svc.CreateHold(ctx, CreateHoldInput{EventID: env.eventID, SeatIDs: env.seats, Kind: KindCheckoutHold})
		if !errors.Is(err, ErrTransientStore) {
			t.Fatalf("expected ErrTransientStore, got %v", err)
		}
		if calls != int(testPolicy().RetryMax) {
			t.Fatalf("expected %d attempts, got %d", testPolicy().RetryMax, calls)
		}

		env.repo.FailNext = nil
		_, total, _ := env.svc.ListReservations(ctx, ReservationFilter{EventID: env.eventID})
		if total != 0 {
			t.Fatalf("expected rollback, found %d holds", total)
		}
		if got := env.seatStatus(t, env.seats[0]); got != catalog.SeatAvailable {
			t.Fatalf("expected AVAILABLE, got %s", got)
		}
	})

	t.Run("exhausted claim races report the seats unavailable", func(t *testing.T) {
		env := newTestEnv(t, 2)
		env.repo.FailNext = func(op string) error {
			if op == "insert_reservation" {
				return &claimConflictError{}
			}
			return nil
		}

		_, err := env.svc.CreateHold(ctx, CreateHoldInput{EventID: env.eventID, SeatIDs: env.seats, Kind: KindCheckoutHold})
		var unavailable *SeatUnavailableError
		if !errors.As(err, &unavailable) {
			t.Fatalf("expected SeatUnavailableError, got %v", err)
		}
		if len(unavailable.SeatIDs) != 2 {
			t.Fatalf("expected all requested seats, got %v", unavailable.SeatIDs)
		}
	})

	t.Run("exhausted version races surface as transient", func(t *testing.T) {
		env := newTestEnv(t, 1)
		r := env.hold(t, KindCheckoutHold, 0, env.seats[0])
		env.repo.FailNext = func(op string) error {
			if op == "transition" {
				return errStaleVersion
			}
			return nil
		}

		_, err := env.svc.Confirm(ctx, r.ID, "pay-1")
		if !errors.Is(err, ErrTransientStore) {
			t.Fatalf("expected ErrTransientStore, got %v", err)
		}
	})

	t.Run("other failures are not retried", func(t *testing.T) {
		env := newTestEnv(t, 1)
		boom := errors.New("disk full")
		calls := 0
		env.repo.FailNext = func(op string) error {
			calls++
			return boom
		}

		_, err := env.svc.CreateHold(ctx, CreateHoldInput{EventID: env.eventID, SeatIDs: env.seats, Kind: KindCheckoutHold})
		if !errors.Is(err, boom) {
			t.Fatalf("expected the store error, got %v", err)
		}
		if calls != 1 {
			t.Fatalf("expected a single attempt, got %d", calls)
		}
	})
}

func TestService_ListReservations(t *testing.T) {
	env := newTestEnv(t, 4)
	ctx := context.Background()

	a := env.hold(t, KindCheckoutHold, 0, env.seats[0])
	env.clock.Advance(time.Second)
	env.hold(t, KindManualHold, 0, env.seats[1])
	env.clock.Advance(time.Second)
	c := env.hold(t, KindCheckoutHold, 0, env.seats[2])
	if _, err := env.svc.Confirm(ctx, a.ID, "pay-1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	tests := []struct {
		name      string
		filter    ReservationFilter
		wantTotal int64
		wantFirst uuid.UUID
		wantLen   int
	}{
		{name: "all newest first", filter: ReservationFilter{EventID: env.eventID}, wantTotal: 3, wantFirst: c.ID, wantLen: 3},
		{name: "by state", filter: ReservationFilter{EventID: env.eventID, State: StateConfirmed}, wantTotal: 1, wantFirst: a.ID, wantLen: 1},
		{name: "by kind", filter: ReservationFilter{EventID: env.eventID, Kind: KindManualHold}, wantTotal: 1, wantLen: 1},
		{name: "paged", filter: ReservationFilter{EventID: env.eventID, Limit: 1, Offset: 2}, wantTotal: 3, wantFirst: a.ID, wantLen: 1},
		{name: "past the end", filter: ReservationFilter{EventID: env.eventID, Offset: 10}, wantTotal: 3, wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := env.svc.ListReservations(ctx, tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if total != tt.wantTotal || len(got) != tt.wantLen {
				t.Fatalf("expected %d/%d, got %d/%d", tt.wantLen, tt.wantTotal, len(got), total)
			}
			if tt.wantFirst != uuid.Nil && got[0].ID != tt.wantFirst {
				t.Fatalf("expected %s first, got %s", tt.wantFirst, got[0].ID)
			}
		})
	}

	if _, _, err := env.svc.ListReservations(ctx, ReservationFilter{State: "PENDING"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for unknown state, got %v", err)
	}
}
