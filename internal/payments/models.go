package payments

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEventType names a message on the payments topic
type PaymentEventType string

const (
	PaymentSucceeded PaymentEventType = "PAYMENT_SUCCEEDED"
	PaymentFailed    PaymentEventType = "PAYMENT_FAILED"
)

// PaymentEvent is published by the payment collaborator
type PaymentEvent struct {
	Type       PaymentEventType `json:"type"`
	PaymentID  string           `json:"payment_id"`
	HoldID     uuid.UUID        `json:"hold_id"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// CompensationRequested asks the payment collaborator to refund a payment
// whose hold could not be confirmed
const CompensationRequested = "COMPENSATION_REQUESTED"

// Compensation reasons
const (
	ReasonHoldExpired      = "hold_expired"
	ReasonAlreadyConfirmed = "hold_confirmed_by_other_payment"
	ReasonHoldNotFound     = "hold_not_found"
)

type CompensationRequest struct {
	Type        string    `json:"type"`
	PaymentID   string    `json:"payment_id"`
	HoldID      uuid.UUID `json:"hold_id"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}
