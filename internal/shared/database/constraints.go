package database

import (
	"context"
	"fmt"

	"evently-seats/internal/reservations"

	"gorm.io/gorm"
)

// MigrateConstraints adds the constraints AutoMigrate cannot express
func MigrateConstraints(ctx context.Context, db *gorm.DB) error {
	statements := []string{
		// At most one active claim per seat: the guard against double allocation
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s
			ON reservation_seats (seat_id) WHERE active`, reservations.ActiveClaimIndex),

		// Sweeper scan of expiring checkout holds
		`CREATE INDEX IF NOT EXISTS idx_reservations_active_checkout_expiry
			ON reservations (expires_at) WHERE state = 'ACTIVE' AND kind = 'CHECKOUT_HOLD'`,

		`CREATE INDEX IF NOT EXISTS idx_reservations_event_created
			ON reservations (event_id, created_at DESC)`,
	}

	for _, stmt := range statements {
		if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply constraint: %w", err)
		}
	}
	return nil
}
