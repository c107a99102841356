package database

import (
	"context"

	"evently-seats/internal/catalog"
	"evently-seats/internal/reservations"

	"gorm.io/gorm"
)

// Migrate creates the seat and reservation tables and their constraints
func Migrate(ctx context.Context, db *gorm.DB) error {
	err := db.WithContext(ctx).AutoMigrate(
		&catalog.Seat{},
		&reservations.Reservation{},
		&reservations.ReservationSeat{},
	)
	if err != nil {
		return err
	}
	return MigrateConstraints(ctx, db)
}
