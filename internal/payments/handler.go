package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"evently-seats/internal/reservations"
	"evently-seats/pkg/clock"
	"evently-seats/pkg/logger"

	"github.com/google/uuid"
)

// Confirmer is the part of the reservation manager the intake drives
type Confirmer interface {
	Confirm(ctx context.Context, id uuid.UUID, externalRef string) (*reservations.ConfirmResult, error)
}

// CompensationPublisher sends refund requests back to the payment collaborator
type CompensationPublisher interface {
	PublishCompensation(ctx context.Context, req CompensationRequest) error
}

// Handler turns payment messages into hold confirmations. A returned error
// means the message must be redelivered; everything else is settled.
type Handler struct {
	confirmer     Confirmer
	compensations CompensationPublisher
	clock         clock.Clock
	log           *logger.Logger
}

func NewHandler(confirmer Confirmer, compensations CompensationPublisher, clk clock.Clock, log *logger.Logger) *Handler {
	return &Handler{
		confirmer:     confirmer,
		compensations: compensations,
		clock:         clk,
		log:           log.WithComponent("payments"),
	}
}

// HandleMessage decodes and applies one payments topic message
func (h *Handler) HandleMessage(ctx context.Context, value []byte) error {
	var evt PaymentEvent
	if err := json.Unmarshal(value, &evt); err != nil {
		// A malformed message will never decode; drop it rather than block the partition
		h.log.ErrorWithContext(ctx, "Dropping undecodable payment message", err, nil)
		return nil
	}
	return h.Handle(ctx, evt)
}

func (h *Handler) Handle(ctx context.Context, evt PaymentEvent) error {
	switch evt.Type {
	case PaymentSucceeded:
	case PaymentFailed:
		// The hold stays until its deadline so the buyer can retry payment
		h.log.InfoContext(ctx, "Payment failed", "payment_id", evt.PaymentID, "hold_id", evt.HoldID.String())
		return nil
	default:
		h.log.WarnContext(ctx, "Ignoring unknown payment message", "type", string(evt.Type))
		return nil
	}

	if evt.PaymentID == "" || evt.HoldID == uuid.Nil {
		h.log.WarnContext(ctx, "Dropping payment message without payment or hold id",
			"payment_id", evt.PaymentID, "hold_id", evt.HoldID.String())
		return nil
	}

	res, err := h.confirmer.Confirm(ctx, evt.HoldID, evt.PaymentID)
	switch {
	case err == nil:
		if res.Replayed {
			h.log.InfoContext(ctx, "Payment already applied", "payment_id", evt.PaymentID, "hold_id", evt.HoldID.String())
		}
		return nil
	case errors.Is(err, reservations.ErrHoldExpired):
		return h.compensate(ctx, evt, ReasonHoldExpired)
	case errors.Is(err, reservations.ErrAlreadyConfirmedConflict):
		return h.compensate(ctx, evt, ReasonAlreadyConfirmed)
	case errors.Is(err, reservations.ErrReservationNotFound):
		return h.compensate(ctx, evt, ReasonHoldNotFound)
	case errors.Is(err, reservations.ErrInvalidRequest):
		h.log.WarnContext(ctx, "Dropping invalid payment message", "payment_id", evt.PaymentID, "error", err.Error())
		return nil
	default:
		return fmt.Errorf("confirm hold %s: %w", evt.HoldID, err)
	}
}

func (h *Handler) compensate(ctx context.Context, evt PaymentEvent, reason string) error {
	req := CompensationRequest{
		Type:        CompensationRequested,
		PaymentID:   evt.PaymentID,
		HoldID:      evt.HoldID,
		Reason:      reason,
		RequestedAt: h.clock.Now(),
	}
	if err := h.compensations.PublishCompensation(ctx, req); err != nil {
		return fmt.Errorf("publish compensation for payment %s: %w", evt.PaymentID, err)
	}

	h.log.WarnContext(ctx, "Compensation requested",
		"payment_id", evt.PaymentID,
		"hold_id", evt.HoldID.String(),
		"reason", reason,
	)
	return nil
}
