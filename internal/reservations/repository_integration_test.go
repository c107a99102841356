package reservations_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"evently-seats/internal/catalog"
	"evently-seats/internal/reservations"
	"evently-seats/internal/shared/database"
	"evently-seats/pkg/clock"
	"evently-seats/pkg/logger"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// openTestDB connects to TEST_DATABASE_DSN and skips when it is unset or unreachable
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	db, err := database.Open(dsn, false)
	if err != nil {
		t.Skipf("database unreachable: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Skipf("database unreachable: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		t.Skipf("database unreachable: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func loadEvent(t *testing.T, db *gorm.DB, seats int) (uuid.UUID, []uuid.UUID) {
	t.Helper()
	eventID := uuid.New()
	loaded, err := catalog.NewService(catalog.NewRepository(db), logger.Discard()).LoadFloorPlan(context.Background(), eventID, catalog.FloorPlan{
		Sections: []catalog.FloorPlanSection{{Name: "Floor", Rows: []catalog.FloorPlanRow{{Label: "A", Seats: seats}}}},
	})
	if err != nil {
		t.Fatalf("load floor plan: %v", err)
	}
	ids := make([]uuid.UUID, seats)
	for _, s := range loaded {
		ids[s.SeatNumber-1] = s.ID
	}
	return eventID, ids
}

func TestPostgres_ConcurrentHolds(t *testing.T) {
	db := openTestDB(t)
	eventID, seats := loadEvent(t, db, 4)

	policy := reservations.DefaultPolicy()
	policy.RetryInitialInterval = 5 * time.Millisecond
	svc := reservations.NewService(reservations.NewRepository(db), clock.NewSystem(), policy, logger.Discard())

	const buyers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Every request overlaps its neighbour on one seat
			pick := []uuid.UUID{seats[i%4], seats[(i+1)%4]}
			_, err := svc.CreateHold(context.Background(), reservations.CreateHoldInput{
				EventID: eventID, SeatIDs: pick, Kind: reservations.KindCheckoutHold,
			})
			switch {
			case err == nil:
				mu.Lock()
				wins++
				mu.Unlock()
			case errors.Is(err, reservations.ErrSeatUnavailable):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins < 1 || wins > 2 {
		t.Fatalf("expected one or two winning holds over four seats, got %d", wins)
	}

	var active int64
	if err := db.Model(&reservations.ReservationSeat{}).
		Where("event_id = ? AND active", eventID).
		Count(&active).Error; err != nil {
		t.Fatalf("count claims: %v", err)
	}
	if int(active) != 2*wins {
		t.Fatalf("expected %d active claims, got %d", 2*wins, active)
	}
}

func TestPostgres_ExpiryAndConfirm(t *testing.T) {
	db := openTestDB(t)
	eventID, seats := loadEvent(t, db, 2)
	ctx := context.Background()

	clk := clock.NewManual(time.Now().UTC().Truncate(time.Microsecond))
	repo := reservations.NewRepository(db)
	svc := reservations.NewService(repo, clk, reservations.DefaultPolicy(), logger.Discard())

	hold, err := svc.CreateHold(ctx, reservations.CreateHoldInput{
		EventID: eventID, SeatIDs: seats, Kind: reservations.KindCheckoutHold, TTL: time.Minute,
	})
	if err != nil {
		t.Fatalf("create hold: %v", err)
	}

	clk.Advance(time.Minute)
	if _, err := svc.Confirm(ctx, hold.ID, "pay-1"); !errors.Is(err, reservations.ErrHoldExpired) {
		t.Fatalf("expected ErrHoldExpired, got %v", err)
	}

	again, err := svc.CreateHold(ctx, reservations.CreateHoldInput{
		EventID: eventID, SeatIDs: seats, Kind: reservations.KindCheckoutHold,
	})
	if err != nil {
		t.Fatalf("seats were not released: %v", err)
	}
	res, err := svc.Confirm(ctx, again.ID, "pay-2")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.Reservation.State != reservations.StateConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", res.Reservation.State)
	}

	summary, err := svc.GetAvailabilitySummary(ctx, eventID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Confirmed != 2 {
		t.Fatalf("expected both seats confirmed, got %+v", summary)
	}
}
