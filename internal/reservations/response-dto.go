package reservations

import (
	"time"

	"github.com/google/uuid"
)

type HoldResponse struct {
	ID            string     `json:"id"`
	EventID       string     `json:"event_id"`
	Kind          Kind       `json:"kind"`
	State         State      `json:"state"`
	SeatIDs       []string   `json:"seat_ids"`
	HolderRef     string     `json:"holder_ref,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	ReleasedAt    *time.Time `json:"released_at,omitempty"`
	ReleaseReason string     `json:"release_reason,omitempty"`
	ExternalRef   string     `json:"external_ref,omitempty"`
	Version       int64      `json:"version"`
}

type ConfirmHoldResponse struct {
	Hold     HoldResponse `json:"hold"`
	Replayed bool         `json:"replayed"`
}

type ReleaseHoldResponse struct {
	Hold    HoldResponse `json:"hold"`
	Changed bool         `json:"changed"`
}

type ListHoldsResponse struct {
	Holds  []HoldResponse `json:"holds"`
	Total  int64          `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type RebuildProjectionResponse struct {
	EventID      string `json:"event_id"`
	SeatsChanged int    `json:"seats_changed"`
}

// SeatUnavailableDetails is the errors payload of a 409 on hold creation
type SeatUnavailableDetails struct {
	UnavailableSeatIDs []string `json:"unavailable_seat_ids"`
}

type SeatNotFoundDetails struct {
	MissingSeatIDs []string `json:"missing_seat_ids"`
}

func (r *Reservation) ToResponse() HoldResponse {
	return HoldResponse{
		ID:            r.ID.String(),
		EventID:       r.EventID.String(),
		Kind:          r.Kind,
		State:         r.State,
		SeatIDs:       idStrings(r.SeatIDs()),
		HolderRef:     r.HolderRef,
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
		ConfirmedAt:   r.ConfirmedAt,
		ReleasedAt:    r.ReleasedAt,
		ReleaseReason: r.ReleaseReason,
		ExternalRef:   r.ExternalRef,
		Version:       r.Version,
	}
}

func toHoldResponses(rs []Reservation) []HoldResponse {
	out := make([]HoldResponse, len(rs))
	for i := range rs {
		out[i] = rs[i].ToResponse()
	}
	return out
}

func parseSeatIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, len(raw))
	for i, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, invalidf("seat id %q is not a valid UUID", s)
		}
		ids[i] = id
	}
	return ids, nil
}
