package reservations

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"evently-seats/internal/catalog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ActiveClaimIndex is the partial unique index on reservation_seats(seat_id)
// WHERE active. It is the storage-level guard against double allocation.
const ActiveClaimIndex = "uniq_reservation_seats_active_seat"

// Repository is the durable reservation store. Methods called with a context
// returned inside WithTx join that transaction.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	FindSeats(ctx context.Context, eventID uuid.UUID, seatIDs []uuid.UUID) ([]catalog.Seat, error)
	FindActiveClaims(ctx context.Context, seatIDs []uuid.UUID) ([]Claim, error)
	SetSeatStatus(ctx context.Context, seatIDs []uuid.UUID, status catalog.SeatStatus) error

	// InsertReservation stores r and an active claim per seat. A claim that
	// collides with another active claim fails with a claim conflict.
	InsertReservation(ctx context.Context, r *Reservation) error
	GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error)
	// Transition applies t and reports whether the guarded row matched
	Transition(ctx context.Context, t Transition) (bool, error)
	ReleaseClaims(ctx context.Context, reservationID uuid.UUID) error

	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, int64, error)
	SeatClaimViews(ctx context.Context, eventID uuid.UUID) ([]SeatClaimView, error)
}

type txKey struct{}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *repository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	}, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	return classify(err)
}

func (r *repository) FindSeats(ctx context.Context, eventID uuid.UUID, seatIDs []uuid.UUID) ([]catalog.Seat, error) {
	var seats []catalog.Seat
	err := r.conn(ctx).
		Where("event_id = ? AND id IN ?", eventID, seatIDs).
		Find(&seats).Error
	if err != nil {
		return nil, classify(fmt.Errorf("find seats: %w", err))
	}
	return seats, nil
}

func (r *repository) FindActiveClaims(ctx context.Context, seatIDs []uuid.UUID) ([]Claim, error) {
	var claims []Claim
	err := r.conn(ctx).
		Table("reservation_seats AS rs").
		Select("rs.seat_id, rs.reservation_id, r.state, r.kind, r.expires_at, r.version").
		Joins("JOIN reservations AS r ON r.id = rs.reservation_id").
		Where("rs.active AND rs.seat_id IN ?", seatIDs).
		Scan(&claims).Error
	if err != nil {
		return nil, classify(fmt.Errorf("find active claims: %w", err))
	}
	return claims, nil
}

func (r *repository) SetSeatStatus(ctx context.Context, seatIDs []uuid.UUID, status catalog.SeatStatus) error {
	if len(seatIDs) == 0 {
		return nil
	}
	err := r.conn(ctx).
		Model(&catalog.Seat{}).
		Where("id IN ?", seatIDs).
		Update("status", status).Error
	if err != nil {
		return classify(fmt.Errorf("set seat status: %w", err))
	}
	return nil
}

func (r *repository) InsertReservation(ctx context.Context, res *Reservation) error {
	db := r.conn(ctx)

	// Claims are inserted explicitly: association upserts would swallow the
	// unique violation that signals a lost race.
	if err := db.Omit(clause.Associations).Create(res).Error; err != nil {
		return classify(fmt.Errorf("insert reservation: %w", err))
	}
	if err := db.Create(&res.Seats).Error; err != nil {
		return classify(fmt.Errorf("insert seat claims: %w", err))
	}
	return nil
}

func (r *repository) GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	var res Reservation
	err := r.conn(ctx).
		Preload("Seats", func(db *gorm.DB) *gorm.DB { return db.Order("seat_id") }).
		First(&res, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, classify(fmt.Errorf("get reservation: %w", err))
	}
	return &res, nil
}

func (r *repository) Transition(ctx context.Context, t Transition) (bool, error) {
	q := r.conn(ctx).
		Model(&Reservation{}).
		Where("id = ? AND state = ? AND version = ?", t.ID, t.From, t.Version)
	if t.ExpiredBy != nil {
		q = q.Where("kind = ? AND expires_at <= ?", KindCheckoutHold, *t.ExpiredBy)
	}

	updates := map[string]any{
		"state":      t.To,
		"version":    gorm.Expr("version + 1"),
		"updated_at": t.At,
	}
	switch t.To {
	case StateConfirmed:
		updates["confirmed_at"] = t.At
		updates["external_ref"] = t.ExternalRef
	case StateReleased:
		updates["released_at"] = t.At
		updates["release_reason"] = t.Reason
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, classify(fmt.Errorf("transition reservation: %w", res.Error))
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ReleaseClaims(ctx context.Context, reservationID uuid.UUID) error {
	err := r.conn(ctx).
		Model(&ReservationSeat{}).
		Where("reservation_id = ? AND active", reservationID).
		Update("active", false).Error
	if err != nil {
		return classify(fmt.Errorf("release claims: %w", err))
	}
	return nil
}

func (r *repository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.conn(ctx).
		Model(&Reservation{}).
		Where("state = ? AND kind = ? AND expires_at <= ?", StateActive, KindCheckoutHold, now).
		Order("expires_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, classify(fmt.Errorf("list expired holds: %w", err))
	}
	return ids, nil
}

func (r *repository) ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, int64, error) {
	q := r.conn(ctx).Model(&Reservation{})
	if f.EventID != uuid.Nil {
		q = q.Where("event_id = ?", f.EventID)
	}
	if f.State != "" {
		q = q.Where("state = ?", f.State)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, classify(fmt.Errorf("count reservations: %w", err))
	}

	var out []Reservation
	err := q.Session(&gorm.Session{}).
		Preload("Seats").
		Order("created_at DESC, id").
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&out).Error
	if err != nil {
		return nil, 0, classify(fmt.Errorf("list reservations: %w", err))
	}
	return out, total, nil
}

func (r *repository) SeatClaimViews(ctx context.Context, eventID uuid.UUID) ([]SeatClaimView, error) {
	const query = `
SELECT s.id AS seat_id, s.section, s.row_label, s.seat_number, s.base_price_minor_units,
       s.status AS projected_status,
       r.id AS reservation_id, r.state, r.kind, r.expires_at
FROM seats s
LEFT JOIN reservation_seats rs ON rs.seat_id = s.id AND rs.active
LEFT JOIN reservations r ON r.id = rs.reservation_id
WHERE s.event_id = ?
ORDER BY s.section, s.row_label, s.seat_number`

	var views []SeatClaimView
	if err := r.conn(ctx).Raw(query, eventID).Scan(&views).Error; err != nil {
		return nil, classify(fmt.Errorf("seat claim views: %w", err))
	}
	return views, nil
}

// classify marks retryable storage failures. Serialization failures, deadlocks,
// lock timeouts and broken connections are transient; a unique violation on
// the active-claim index is a lost claim race.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrTransientStore) || errors.Is(err, errClaimConflict) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %w", ErrTransientStore, err)
		case "23505":
			if pgErr.ConstraintName == ActiveClaimIndex {
				return &claimConflictError{SeatIDs: conflictingSeat(pgErr.Detail), err: err}
			}
		}
		return err
	}

	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %w", ErrTransientStore, err)
	}
	return err
}

// conflictingSeat extracts the seat id from a detail such as
// "Key (seat_id)=(<uuid>) already exists."
func conflictingSeat(detail string) []uuid.UUID {
	start := strings.Index(detail, "=(")
	if start < 0 {
		return nil
	}
	rest := detail[start+2:]
	end := strings.IndexByte(rest, ')')
	if end < 0 {
		return nil
	}
	id, err := uuid.Parse(rest[:end])
	if err != nil {
		return nil
	}
	return []uuid.UUID{id}
}
