package catalog

import (
	"time"

	"github.com/google/uuid"
)

// SeatStatus is the cached projection of a seat's reservation state
type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatHeld      SeatStatus = "HELD"
	SeatConfirmed SeatStatus = "CONFIRMED"
)

// Seat is one individually numbered seat of an event
type Seat struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	EventID             uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_seats_event_position,priority:1" json:"event_id"`
	Section             string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_seats_event_position,priority:2" json:"section"`
	RowLabel            string     `gorm:"type:varchar(16);not null;uniqueIndex:idx_seats_event_position,priority:3" json:"row_label"`
	SeatNumber          int        `gorm:"not null;uniqueIndex:idx_seats_event_position,priority:4" json:"seat_number"`
	BasePriceMinorUnits int64      `gorm:"not null;default:0" json:"base_price_minor_units"`
	Status              SeatStatus `gorm:"type:varchar(20);not null;default:'AVAILABLE';check:status IN ('AVAILABLE', 'HELD', 'CONFIRMED')" json:"status"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// TableName sets the table name for Seat
func (Seat) TableName() string {
	return "seats"
}

// SeatInput describes one seat of a catalog load. ID is generated when empty.
type SeatInput struct {
	ID                  string `json:"id" validate:"omitempty,uuid"`
	Section             string `json:"section" validate:"required,max=64"`
	RowLabel            string `json:"row_label" validate:"required,max=16"`
	SeatNumber          int    `json:"seat_number" validate:"required,min=1"`
	BasePriceMinorUnits int64  `json:"base_price_minor_units" validate:"min=0"`
}

// FloorPlan generates a catalog from sections of rows
type FloorPlan struct {
	Sections []FloorPlanSection `json:"sections" validate:"required,min=1,dive"`
}

type FloorPlanSection struct {
	Name                string         `json:"name" validate:"required,max=64"`
	BasePriceMinorUnits int64          `json:"base_price_minor_units" validate:"min=0"`
	Rows                []FloorPlanRow `json:"rows" validate:"required,min=1,dive"`
}

type FloorPlanRow struct {
	Label string `json:"label" validate:"required,max=16"`
	Seats int    `json:"seats" validate:"required,min=1,max=500"`
}

// SectionSummary describes one section of an event's catalog
type SectionSummary struct {
	Name          string   `json:"name"`
	Rows          []string `json:"rows"`
	Seats         int      `json:"seats"`
	MinPriceMinor int64    `json:"min_price_minor_units"`
	MaxPriceMinor int64    `json:"max_price_minor_units"`
}

// less orders seats by section, row, then number
func (s Seat) less(o Seat) bool {
	if s.Section != o.Section {
		return s.Section < o.Section
	}
	if s.RowLabel != o.RowLabel {
		return s.RowLabel < o.RowLabel
	}
	return s.SeatNumber < o.SeatNumber
}
