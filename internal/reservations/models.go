package reservations

import (
	"time"

	"evently-seats/internal/catalog"

	"github.com/google/uuid"
)

// Kind distinguishes customer checkout holds from staff holds
type Kind string

const (
	KindCheckoutHold Kind = "CHECKOUT_HOLD"
	KindManualHold   Kind = "MANUAL_HOLD"
)

func (k Kind) Valid() bool {
	return k == KindCheckoutHold || k == KindManualHold
}

// State is the lifecycle state shared by both kinds
type State string

const (
	StateActive    State = "ACTIVE"
	StateConfirmed State = "CONFIRMED"
	StateReleased  State = "RELEASED"
)

func (s State) Valid() bool {
	return s == StateActive || s == StateConfirmed || s == StateReleased
}

// Release reasons
const (
	ReasonCancelled = "cancelled"
	ReasonExpired   = "expired"
)

// Reservation is a hold on a set of seats. Rows are never deleted.
type Reservation struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	EventID       uuid.UUID  `gorm:"type:uuid;not null;index:idx_reservations_event_state,priority:1" json:"event_id"`
	Kind          Kind       `gorm:"type:varchar(20);not null;check:kind IN ('CHECKOUT_HOLD', 'MANUAL_HOLD')" json:"kind"`
	State         State      `gorm:"type:varchar(20);not null;index:idx_reservations_event_state,priority:2;index:idx_reservations_expiry,priority:1;check:state IN ('ACTIVE', 'CONFIRMED', 'RELEASED')" json:"state"`
	HolderRef     string     `gorm:"type:varchar(255)" json:"holder_ref"`
	CreatedAt     time.Time  `gorm:"not null" json:"created_at"`
	ExpiresAt     *time.Time `gorm:"index:idx_reservations_expiry,priority:2" json:"expires_at,omitempty"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	ReleasedAt    *time.Time `json:"released_at,omitempty"`
	ReleaseReason string     `gorm:"type:varchar(64)" json:"release_reason,omitempty"`
	ExternalRef   string     `gorm:"type:varchar(255)" json:"external_ref,omitempty"`
	Version       int64      `gorm:"not null;default:1" json:"version"`
	UpdatedAt     time.Time  `json:"updated_at"`

	// Relationships
	Seats []ReservationSeat `gorm:"foreignKey:ReservationID;constraint:OnDelete:RESTRICT;" json:"seats,omitempty"`
}

// TableName sets the table name for Reservation
func (Reservation) TableName() string {
	return "reservations"
}

// ReservationSeat is a seat claim. Claims of ACTIVE and CONFIRMED
// reservations are active; at most one active claim exists per seat.
type ReservationSeat struct {
	ReservationID uuid.UUID `gorm:"type:uuid;primaryKey" json:"reservation_id"`
	SeatID        uuid.UUID `gorm:"type:uuid;primaryKey;index" json:"seat_id"`
	EventID       uuid.UUID `gorm:"type:uuid;not null;index" json:"event_id"`
	Active        bool      `gorm:"not null" json:"active"`
}

// TableName sets the table name for ReservationSeat
func (ReservationSeat) TableName() string {
	return "reservation_seats"
}

// SeatIDs returns the seats the reservation covers
func (r *Reservation) SeatIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(r.Seats))
	for i, s := range r.Seats {
		ids[i] = s.SeatID
	}
	return ids
}

// Lapsed reports whether r is an ACTIVE checkout hold whose deadline has passed
func (r *Reservation) Lapsed(now time.Time) bool {
	return r.State == StateActive && lapsed(r.Kind, r.ExpiresAt, now)
}

func lapsed(kind Kind, expiresAt *time.Time, now time.Time) bool {
	return kind == KindCheckoutHold && expiresAt != nil && !now.Before(*expiresAt)
}

func (r *Reservation) clone() *Reservation {
	c := *r
	c.Seats = append([]ReservationSeat(nil), r.Seats...)
	return &c
}

// Claim is an active seat claim joined with its reservation
type Claim struct {
	SeatID        uuid.UUID
	ReservationID uuid.UUID
	State         State
	Kind          Kind
	ExpiresAt     *time.Time
	Version       int64
}

// Lapsed reports whether the claim belongs to an expired checkout hold
func (c Claim) Lapsed(now time.Time) bool {
	return c.State == StateActive && lapsed(c.Kind, c.ExpiresAt, now)
}

// Transition is a guarded state change of one reservation. It applies only if
// the row is still in From at Version; with ExpiredBy set it also requires an
// ACTIVE checkout hold whose deadline is at or before *ExpiredBy.
type Transition struct {
	ID          uuid.UUID
	From        State
	Version     int64
	To          State
	At          time.Time
	ExternalRef string
	Reason      string
	ExpiredBy   *time.Time
}

// SeatClaimView is one catalog seat joined with its active claim, if any
type SeatClaimView struct {
	SeatID              uuid.UUID
	Section             string
	RowLabel            string
	SeatNumber          int
	BasePriceMinorUnits int64
	ProjectedStatus     catalog.SeatStatus
	ReservationID       *uuid.UUID
	State               *string
	Kind                *string
	ExpiresAt           *time.Time
}

// claimStatus derives the seat status from the claim alone, ignoring deadlines
func (v SeatClaimView) claimStatus() catalog.SeatStatus {
	if v.State == nil {
		return catalog.SeatAvailable
	}
	if State(*v.State) == StateConfirmed {
		return catalog.SeatConfirmed
	}
	return catalog.SeatHeld
}

// effectiveStatus treats an expired checkout hold as already released
func (v SeatClaimView) effectiveStatus(now time.Time) catalog.SeatStatus {
	status := v.claimStatus()
	if status == catalog.SeatHeld && v.Kind != nil && lapsed(Kind(*v.Kind), v.ExpiresAt, now) {
		return catalog.SeatAvailable
	}
	return status
}

// ReservationFilter narrows ListReservations
type ReservationFilter struct {
	EventID uuid.UUID
	State   State
	Kind    Kind
	Limit   int
	Offset  int
}

// CreateHoldInput describes a hold request. A zero TTL on a checkout hold
// means the configured default; manual holds take no TTL.
type CreateHoldInput struct {
	EventID   uuid.UUID
	SeatIDs   []uuid.UUID
	Kind      Kind
	TTL       time.Duration
	HolderRef string
}

type ConfirmResult struct {
	Reservation *Reservation
	// Replayed is set when the hold was already confirmed before this call
	Replayed bool
}

type ReleaseResult struct {
	Reservation *Reservation
	Changed     bool
}

// SeatAvailability is one row of the public seat map
type SeatAvailability struct {
	SeatID              uuid.UUID          `json:"seat_id"`
	Section             string             `json:"section"`
	RowLabel            string             `json:"row_label"`
	SeatNumber          int                `json:"seat_number"`
	BasePriceMinorUnits int64              `json:"base_price_minor_units"`
	Status              catalog.SeatStatus `json:"status"`
}

type SectionAvailability struct {
	Section   string `json:"section"`
	Total     int    `json:"total"`
	Available int    `json:"available"`
	Held      int    `json:"held"`
	Confirmed int    `json:"confirmed"`
}

// AvailabilitySummary holds per-section seat counts for an event
type AvailabilitySummary struct {
	EventID   uuid.UUID             `json:"event_id"`
	Total     int                   `json:"total"`
	Available int                   `json:"available"`
	Held      int                   `json:"held"`
	Confirmed int                   `json:"confirmed"`
	Sections  []SectionAvailability `json:"sections"`
	AsOf      time.Time             `json:"as_of"`
}
