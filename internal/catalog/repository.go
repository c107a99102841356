package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

type Repository interface {
	// CreateCatalog inserts all seats of an event, or fails with ErrCatalogExists
	CreateCatalog(ctx context.Context, eventID uuid.UUID, seats []Seat) error
	FindByEvent(ctx context.Context, eventID uuid.UUID) ([]Seat, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Seat, error)
	// UpdateSeatNumbers rewrites seat_number for the given seats of one event
	UpdateSeatNumbers(ctx context.Context, eventID uuid.UUID, numbers map[uuid.UUID]int) error
}

const insertBatchSize = 500

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateCatalog(ctx context.Context, eventID uuid.UUID, seats []Seat) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Serialises concurrent loads of the same event
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", eventID.String()).Error; err != nil {
			return fmt.Errorf("lock event catalog: %w", err)
		}

		var count int64
		if err := tx.Model(&Seat{}).Where("event_id = ?", eventID).Count(&count).Error; err != nil {
			return fmt.Errorf("count seats: %w", err)
		}
		if count > 0 {
			return ErrCatalogExists
		}

		if err := tx.CreateInBatches(&seats, insertBatchSize).Error; err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: duplicate seat", ErrInvalidRequest)
			}
			return fmt.Errorf("insert seats: %w", err)
		}
		return nil
	})
}

func (r *repository) FindByEvent(ctx context.Context, eventID uuid.UUID) ([]Seat, error) {
	var seats []Seat
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("section ASC, row_label ASC, seat_number ASC").
		Find(&seats).Error
	if err != nil {
		return nil, fmt.Errorf("find seats: %w", err)
	}
	return seats, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*Seat, error) {
	var seat Seat
	err := r.db.WithContext(ctx).First(&seat, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSeatNotFound
		}
		return nil, fmt.Errorf("find seat: %w", err)
	}
	return &seat, nil
}

func (r *repository) UpdateSeatNumbers(ctx context.Context, eventID uuid.UUID, numbers map[uuid.UUID]int) error {
	if len(numbers) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(numbers))
	for id := range numbers {
		ids = append(ids, id)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Park the affected seats on negative numbers first so the
		// (event, section, row, number) index never sees a transient duplicate
		err := tx.Model(&Seat{}).
			Where("event_id = ? AND id IN ?", eventID, ids).
			Update("seat_number", gorm.Expr("-seat_number")).Error
		if err != nil {
			return fmt.Errorf("park seat numbers: %w", err)
		}

		for id, n := range numbers {
			err := tx.Model(&Seat{}).
				Where("event_id = ? AND id = ?", eventID, id).
				Update("seat_number", n).Error
			if err != nil {
				return fmt.Errorf("renumber seat %s: %w", id, err)
			}
		}
		return nil
	})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
