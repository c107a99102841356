package catalog

import "time"

type SeatResponse struct {
	ID                  string     `json:"id"`
	EventID             string     `json:"event_id"`
	Section             string     `json:"section"`
	RowLabel            string     `json:"row_label"`
	SeatNumber          int        `json:"seat_number"`
	BasePriceMinorUnits int64      `json:"base_price_minor_units"`
	Status              SeatStatus `json:"status"`
	CreatedAt           time.Time  `json:"created_at"`
}

type LoadCatalogResponse struct {
	EventID      string         `json:"event_id"`
	SeatsCreated int            `json:"seats_created"`
	Seats        []SeatResponse `json:"seats"`
}

type RenumberResponse struct {
	EventID      string `json:"event_id"`
	SeatsChanged int    `json:"seats_changed"`
}

func (s Seat) ToResponse() SeatResponse {
	return SeatResponse{
		ID:                  s.ID.String(),
		EventID:             s.EventID.String(),
		Section:             s.Section,
		RowLabel:            s.RowLabel,
		SeatNumber:          s.SeatNumber,
		BasePriceMinorUnits: s.BasePriceMinorUnits,
		Status:              s.Status,
		CreatedAt:           s.CreatedAt,
	}
}

func toSeatResponses(seats []Seat) []SeatResponse {
	out := make([]SeatResponse, len(seats))
	for i, s := range seats {
		out[i] = s.ToResponse()
	}
	return out
}
