package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"evently-seats/internal/catalog"
	"evently-seats/internal/reservations"
	"evently-seats/pkg/clock"
	"evently-seats/pkg/logger"

	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
)

type fakeConfirmer struct {
	result *reservations.ConfirmResult
	err    error
	calls  int
	ref    string
}

func (f *fakeConfirmer) Confirm(_ context.Context, id uuid.UUID, ref string) (*reservations.ConfirmResult, error) {
	f.calls++
	f.ref = ref
	return f.result, f.err
}

type recordingCompensations struct {
	mu   sync.Mutex
	reqs []CompensationRequest
	err  error
}

func (r *recordingCompensations) PublishCompensation(_ context.Context, req CompensationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.reqs = append(r.reqs, req)
	return nil
}

var handlerNow = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func newTestHandler(confirmer Confirmer, comp CompensationPublisher) *Handler {
	return NewHandler(confirmer, comp, clock.NewManual(handlerNow), logger.Discard())
}

func TestHandler_Handle(t *testing.T) {
	holdID := uuid.New()
	succeeded := PaymentEvent{Type: PaymentSucceeded, PaymentID: "pay-1", HoldID: holdID}

	tests := []struct {
		name         string
		evt          PaymentEvent
		confirmErr   error
		wantErr      bool
		wantConfirm  int
		wantCompReas string
	}{
		{name: "confirms hold", evt: succeeded, wantConfirm: 1},
		{name: "expired hold is compensated", evt: succeeded, confirmErr: fmt.Errorf("wrapped: %w", reservations.ErrHoldExpired), wantConfirm: 1, wantCompReas: ReasonHoldExpired},
		{name: "conflicting payment is compensated", evt: succeeded, confirmErr: reservations.ErrAlreadyConfirmedConflict, wantConfirm: 1, wantCompReas: ReasonAlreadyConfirmed},
		{name: "unknown hold is compensated", evt: succeeded, confirmErr: reservations.ErrReservationNotFound, wantConfirm: 1, wantCompReas: ReasonHoldNotFound},
		{name: "transient failure is redelivered", evt: succeeded, confirmErr: reservations.ErrTransientStore, wantErr: true, wantConfirm: 1},
		{name: "failed payment leaves the hold", evt: PaymentEvent{Type: PaymentFailed, PaymentID: "pay-1", HoldID: holdID}},
		{name: "unknown type is ignored", evt: PaymentEvent{Type: "PAYMENT_REFUNDED", PaymentID: "pay-1", HoldID: holdID}},
		{name: "missing payment id is dropped", evt: PaymentEvent{Type: PaymentSucceeded, HoldID: holdID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			confirmer := &fakeConfirmer{
				result: &reservations.ConfirmResult{Reservation: &reservations.Reservation{ID: holdID}},
				err:    tt.confirmErr,
			}
			comp := &recordingCompensations{}
			err := newTestHandler(confirmer, comp).Handle(context.Background(), tt.evt)

			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
			if confirmer.calls != tt.wantConfirm {
				t.Fatalf("expected %d confirm calls, got %d", tt.wantConfirm, confirmer.calls)
			}
			if tt.wantConfirm > 0 && confirmer.ref != tt.evt.PaymentID {
				t.Fatalf("expected payment id as external reference, got %q", confirmer.ref)
			}

			if tt.wantCompReas == "" {
				if len(comp.reqs) != 0 {
					t.Fatalf("unexpected compensation %+v", comp.reqs)
				}
				return
			}
			if len(comp.reqs) != 1 {
				t.Fatalf("expected one compensation, got %d", len(comp.reqs))
			}
			got := comp.reqs[0]
			if got.Type != CompensationRequested || got.Reason != tt.wantCompReas || got.PaymentID != "pay-1" || got.HoldID != holdID {
				t.Fatalf("unexpected compensation %+v", got)
			}
			if !got.RequestedAt.Equal(handlerNow) {
				t.Fatalf("expected request time from clock, got %v", got.RequestedAt)
			}
		})
	}
}

func TestHandler_CompensationFailureIsRedelivered(t *testing.T) {
	confirmer := &fakeConfirmer{err: reservations.ErrHoldExpired}
	comp := &recordingCompensations{err: errors.New("broker down")}

	err := newTestHandler(confirmer, comp).Handle(context.Background(), PaymentEvent{
		Type: PaymentSucceeded, PaymentID: "pay-1", HoldID: uuid.New(),
	})
	if err == nil {
		t.Fatal("expected error so the message is retried")
	}
}

func TestHandler_HandleMessage(t *testing.T) {
	confirmer := &fakeConfirmer{result: &reservations.ConfirmResult{Reservation: &reservations.Reservation{}}}
	h := newTestHandler(confirmer, &recordingCompensations{})

	if err := h.HandleMessage(context.Background(), []byte("{not json")); err != nil {
		t.Fatalf("expected undecodable message to be dropped, got %v", err)
	}

	raw, _ := json.Marshal(PaymentEvent{Type: PaymentSucceeded, PaymentID: "pay-9", HoldID: uuid.New()})
	if err := h.HandleMessage(context.Background(), raw); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if confirmer.calls != 1 || confirmer.ref != "pay-9" {
		t.Fatalf("expected one confirm with pay-9, got %d/%q", confirmer.calls, confirmer.ref)
	}
}

func TestKafkaCompensationPublisher(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var req CompensationRequest
		if err := json.Unmarshal(val, &req); err != nil {
			return err
		}
		if req.PaymentID != "pay-1" || req.Reason != ReasonHoldExpired {
			return fmt.Errorf("unexpected payload %+v", req)
		}
		return nil
	})

	pub := NewKafkaCompensationPublisherWithProducer(producer, "payment-compensations")
	err := pub.PublishCompensation(context.Background(), CompensationRequest{
		Type: CompensationRequested, PaymentID: "pay-1", HoldID: uuid.New(), Reason: ReasonHoldExpired,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestHandler_WithReservationService(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemoryRepository()
	eventID := uuid.New()
	seats, err := catalog.NewService(cat, logger.Discard()).LoadFloorPlan(ctx, eventID, catalog.FloorPlan{
		Sections: []catalog.FloorPlanSection{{Name: "Floor", Rows: []catalog.FloorPlanRow{{Label: "A", Seats: 2}}}},
	})
	if err != nil {
		t.Fatalf("load floor plan: %v", err)
	}

	clk := clock.NewManual(handlerNow)
	svc := reservations.NewService(reservations.NewMemoryRepository(cat), clk, reservations.DefaultPolicy(), logger.Discard())
	comp := &recordingCompensations{}
	h := NewHandler(svc, comp, clk, logger.Discard())

	paid, err := svc.CreateHold(ctx, reservations.CreateHoldInput{EventID: eventID, SeatIDs: []uuid.UUID{seats[0].ID}, Kind: reservations.KindCheckoutHold})
	if err != nil {
		t.Fatalf("create hold: %v", err)
	}
	late, err := svc.CreateHold(ctx, reservations.CreateHoldInput{EventID: eventID, SeatIDs: []uuid.UUID{seats[1].ID}, Kind: reservations.KindCheckoutHold, TTL: time.Minute})
	if err != nil {
		t.Fatalf("create hold: %v", err)
	}

	// Duplicate delivery of the same payment confirms once
	for i := 0; i < 2; i++ {
		if err := h.Handle(ctx, PaymentEvent{Type: PaymentSucceeded, PaymentID: "pay-1", HoldID: paid.ID}); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	clk.Advance(time.Minute)
	if err := h.Handle(ctx, PaymentEvent{Type: PaymentSucceeded, PaymentID: "pay-2", HoldID: late.ID}); err != nil {
		t.Fatalf("late payment: %v", err)
	}

	got, err := svc.GetReservation(ctx, paid.ID)
	if err != nil || got.State != reservations.StateConfirmed || got.ExternalRef != "pay-1" {
		t.Fatalf("expected paid hold confirmed, got %+v, %v", got, err)
	}
	if len(comp.reqs) != 1 || comp.reqs[0].PaymentID != "pay-2" || comp.reqs[0].Reason != ReasonHoldExpired {
		t.Fatalf("expected compensation for the late payment only, got %+v", comp.reqs)
	}
}
