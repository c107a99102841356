package reservations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"evently-seats/internal/catalog"
	"evently-seats/internal/shared/config"
	"evently-seats/internal/shared/constants"
	"evently-seats/pkg/cache"
	"evently-seats/pkg/clock"
	"evently-seats/pkg/logger"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Policy is the hold and retry policy of a Service
type Policy struct {
	DefaultHoldTTL  time.Duration
	MaxHoldTTL      time.Duration
	MaxSeatsPerHold int
	// AcceptConflictingConfirm treats a confirm of an already confirmed hold
	// with a different external reference as a replay instead of a conflict
	AcceptConflictingConfirm bool
	RetryMax                 uint
	RetryInitialInterval     time.Duration
	RetryMaxInterval         time.Duration
	AvailabilityCacheTTL     time.Duration
}

// PolicyFromConfig builds a Policy from the service configuration
func PolicyFromConfig(cfg config.ReservationConfig) Policy {
	return Policy{
		DefaultHoldTTL:           cfg.DefaultHoldTTL,
		MaxHoldTTL:               cfg.MaxHoldTTL,
		MaxSeatsPerHold:          cfg.MaxSeatsPerHold,
		AcceptConflictingConfirm: cfg.ConfirmConflictPolicy == config.ConfirmConflictAccept,
		RetryMax:                 cfg.RetryMax,
		RetryInitialInterval:     cfg.RetryInitialInterval,
		RetryMaxInterval:         cfg.RetryMaxInterval,
		AvailabilityCacheTTL:     cfg.AvailabilityCacheTTL,
	}
}

// DefaultPolicy mirrors the configuration defaults
func DefaultPolicy() Policy {
	return Policy{
		DefaultHoldTTL:       10 * time.Minute,
		MaxHoldTTL:           30 * time.Minute,
		MaxSeatsPerHold:      10,
		RetryMax:             5,
		RetryInitialInterval: 20 * time.Millisecond,
		RetryMaxInterval:     500 * time.Millisecond,
		AvailabilityCacheTTL: constants.TTL_SEAT_AVAILABILITY,
	}
}

// Service is the reservation manager. Every mutation runs in one store
// transaction guarded by the active-claim index and the reservation version.
type Service struct {
	repo      Repository
	clock     clock.Clock
	policy    Policy
	publisher Publisher
	loader    *cache.Loader
	log       *logger.Logger
}

type ServiceOption func(*Service)

func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithCache enables the availability read cache
func WithCache(loader *cache.Loader) ServiceOption {
	return func(s *Service) { s.loader = loader }
}

func NewService(repo Repository, clk clock.Clock, policy Policy, log *logger.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		repo:      repo,
		clock:     clk,
		policy:    policy,
		publisher: NoopPublisher{},
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateHold claims all requested seats for a new ACTIVE reservation, or none
func (s *Service) CreateHold(ctx context.Context, in CreateHoldInput) (*Reservation, error) {
	ttl, err := s.validateHold(in)
	if err != nil {
		return nil, err
	}

	var (
		created *Reservation
		expired []*Reservation
	)
	err = s.retry(ctx, "create_hold", func(ctx context.Context) error {
		created, expired = nil, nil
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			now := s.clock.Now()

			seats, err := s.repo.FindSeats(ctx, in.EventID, in.SeatIDs)
			if err != nil {
				return err
			}
			if missing := missingSeats(in.SeatIDs, seats); len(missing) > 0 {
				return &SeatNotFoundError{SeatIDs: missing}
			}

			claims, err := s.repo.FindActiveClaims(ctx, in.SeatIDs)
			if err != nil {
				return err
			}
			var unavailable []uuid.UUID
			lapsedHolds := make(map[uuid.UUID]struct{})
			for _, c := range claims {
				if c.Lapsed(now) {
					lapsedHolds[c.ReservationID] = struct{}{}
					continue
				}
				unavailable = append(unavailable, c.SeatID)
			}
			if len(unavailable) > 0 {
				return &SeatUnavailableError{SeatIDs: sortIDs(unavailable)}
			}

			// Expired holds still claiming requested seats are released here
			// rather than waiting for the sweeper
			for id := range lapsedHolds {
				r, ok, err := s.expireInTx(ctx, id, now)
				if err != nil {
					return err
				}
				if !ok {
					return errStaleVersion
				}
				expired = append(expired, r)
			}

			r := &Reservation{
				ID:        uuid.New(),
				EventID:   in.EventID,
				Kind:      in.Kind,
				State:     StateActive,
				HolderRef: in.HolderRef,
				CreatedAt: now,
				UpdatedAt: now,
				Version:   1,
			}
			if in.Kind == KindCheckoutHold {
				expiresAt := now.Add(ttl)
				r.ExpiresAt = &expiresAt
			}
			for _, seatID := range in.SeatIDs {
				r.Seats = append(r.Seats, ReservationSeat{
					ReservationID: r.ID,
					SeatID:        seatID,
					EventID:       in.EventID,
					Active:        true,
				})
			}

			if err := s.repo.InsertReservation(ctx, r); err != nil {
				return err
			}
			if err := s.repo.SetSeatStatus(ctx, in.SeatIDs, catalog.SeatHeld); err != nil {
				return err
			}
			created = r
			return nil
		})
	})
	if err != nil {
		var conflict *claimConflictError
		if errors.As(err, &conflict) {
			ids := conflict.SeatIDs
			if len(ids) == 0 {
				ids = append([]uuid.UUID(nil), in.SeatIDs...)
			}
			err = &SeatUnavailableError{SeatIDs: sortIDs(ids)}
		}
		if errors.Is(err, ErrSeatUnavailable) {
			var unavailable *SeatUnavailableError
			if errors.As(err, &unavailable) {
				s.log.LogSeatConflict(ctx, in.EventID.String(), idStrings(unavailable.SeatIDs))
			}
		}
		return nil, err
	}

	for _, r := range expired {
		s.afterRelease(ctx, r, EventHoldExpired)
	}
	s.log.LogHoldCreated(ctx, created.ID.String(), created.EventID.String(), string(created.Kind), len(created.Seats), created.ExpiresAt)
	s.invalidate(ctx, created.EventID)
	s.publish(ctx, newLifecycleEvent(EventHoldCreated, created, s.clock.Now()))
	return created, nil
}

func (s *Service) validateHold(in CreateHoldInput) (time.Duration, error) {
	if in.EventID == uuid.Nil {
		return 0, invalidf("event id is required")
	}
	if len(in.SeatIDs) == 0 {
		return 0, invalidf("at least one seat is required")
	}
	if s.policy.MaxSeatsPerHold > 0 && len(in.SeatIDs) > s.policy.MaxSeatsPerHold {
		return 0, invalidf("at most %d seats per hold", s.policy.MaxSeatsPerHold)
	}
	seen := make(map[uuid.UUID]struct{}, len(in.SeatIDs))
	for _, id := range in.SeatIDs {
		if id == uuid.Nil {
			return 0, invalidf("seat id is required")
		}
		if _, dup := seen[id]; dup {
			return 0, invalidf("duplicate seat id %s", id)
		}
		seen[id] = struct{}{}
	}

	switch in.Kind {
	case KindCheckoutHold:
		ttl := in.TTL
		if ttl == 0 {
			ttl = s.policy.DefaultHoldTTL
		}
		if ttl <= 0 {
			return 0, invalidf("hold ttl must be positive")
		}
		if s.policy.MaxHoldTTL > 0 && ttl > s.policy.MaxHoldTTL {
			return 0, invalidf("hold ttl must not exceed %s", s.policy.MaxHoldTTL)
		}
		return ttl, nil
	case KindManualHold:
		if in.TTL != 0 {
			return 0, invalidf("manual holds do not expire")
		}
		return 0, nil
	default:
		return 0, invalidf("unknown hold kind %q", in.Kind)
	}
}

// Confirm turns an ACTIVE hold into a permanent allocation. Repeating a
// confirmation with the same external reference is a successful replay.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, externalRef string) (*ConfirmResult, error) {
	if externalRef == "" {
		return nil, invalidf("external reference is required")
	}

	var (
		result  *ConfirmResult
		expired *Reservation
	)
	err := s.retry(ctx, "confirm", func(ctx context.Context) error {
		result, expired = nil, nil
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			now := s.clock.Now()
			r, err := s.repo.GetReservation(ctx, id)
			if err != nil {
				return err
			}

			switch r.State {
			case StateConfirmed:
				if r.ExternalRef == externalRef || s.policy.AcceptConflictingConfirm {
					result = &ConfirmResult{Reservation: r, Replayed: true}
					return nil
				}
				return fmt.Errorf("%w: hold %s", ErrAlreadyConfirmedConflict, r.ID)
			case StateReleased:
				return fmt.Errorf("%w: hold %s was released (%s)", ErrHoldExpired, r.ID, r.ReleaseReason)
			}

			if r.Lapsed(now) {
				released, ok, err := s.expireInTx(ctx, r.ID, now)
				if err != nil {
					return err
				}
				if !ok {
					return errStaleVersion
				}
				expired = released
				return nil
			}

			ok, err := s.repo.Transition(ctx, Transition{
				ID:          r.ID,
				From:        StateActive,
				Version:     r.Version,
				To:          StateConfirmed,
				At:          now,
				ExternalRef: externalRef,
			})
			if err != nil {
				return err
			}
			if !ok {
				return errStaleVersion
			}
			if err := s.repo.SetSeatStatus(ctx, r.SeatIDs(), catalog.SeatConfirmed); err != nil {
				return err
			}

			r.State = StateConfirmed
			r.ConfirmedAt = &now
			r.ExternalRef = externalRef
			r.Version++
			r.UpdatedAt = now
			result = &ConfirmResult{Reservation: r}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if expired != nil {
		s.afterRelease(ctx, expired, EventHoldExpired)
		return nil, fmt.Errorf("%w: hold %s passed its deadline", ErrHoldExpired, id)
	}
	if !result.Replayed {
		s.log.LogHoldConfirmed(ctx, result.Reservation.ID.String(), result.Reservation.EventID.String(), externalRef)
		s.invalidate(ctx, result.Reservation.EventID)
		s.publish(ctx, newLifecycleEvent(EventHoldConfirmed, result.Reservation, s.clock.Now()))
	}
	return result, nil
}

// Release gives back the seats of an ACTIVE hold. Releasing a released hold
// is a no-op; confirmed holds cannot be released.
func (s *Service) Release(ctx context.Context, id uuid.UUID, reason string) (*ReleaseResult, error) {
	if reason == "" {
		reason = ReasonCancelled
	}

	var result *ReleaseResult
	err := s.retry(ctx, "release", func(ctx context.Context) error {
		result = nil
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			now := s.clock.Now()
			r, err := s.repo.GetReservation(ctx, id)
			if err != nil {
				return err
			}

			switch r.State {
			case StateReleased:
				result = &ReleaseResult{Reservation: r}
				return nil
			case StateConfirmed:
				return fmt.Errorf("%w: hold %s", ErrCannotReleaseConfirmed, r.ID)
			}

			ok, err := s.repo.Transition(ctx, Transition{
				ID:      r.ID,
				From:    StateActive,
				Version: r.Version,
				To:      StateReleased,
				At:      now,
				Reason:  reason,
			})
			if err != nil {
				return err
			}
			if !ok {
				return errStaleVersion
			}
			if err := s.releaseSeats(ctx, r); err != nil {
				return err
			}

			markReleased(r, now, reason)
			result = &ReleaseResult{Reservation: r, Changed: true}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		s.afterRelease(ctx, result.Reservation, EventHoldReleased)
	}
	return result, nil
}

// ExpireHold releases one hold if it is still an ACTIVE checkout hold past its
// deadline. It reports false when the hold was confirmed, released or
// extended by someone else first.
func (s *Service) ExpireHold(ctx context.Context, id uuid.UUID) (bool, error) {
	var released *Reservation
	err := s.retry(ctx, "expire_hold", func(ctx context.Context) error {
		released = nil
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			r, ok, err := s.expireInTx(ctx, id, s.clock.Now())
			if err != nil || !ok {
				return err
			}
			released = r
			return nil
		})
	})
	if err != nil {
		return false, err
	}
	if released == nil {
		return false, nil
	}
	s.afterRelease(ctx, released, EventHoldExpired)
	return true, nil
}

// expireInTx is the conditional ACTIVE -> RELEASED transition shared by the
// sweeper, CreateHold and Confirm. It must run inside WithTx.
func (s *Service) expireInTx(ctx context.Context, id uuid.UUID, now time.Time) (*Reservation, bool, error) {
	r, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !r.Lapsed(now) {
		return nil, false, nil
	}

	ok, err := s.repo.Transition(ctx, Transition{
		ID:        r.ID,
		From:      StateActive,
		Version:   r.Version,
		To:        StateReleased,
		At:        now,
		Reason:    ReasonExpired,
		ExpiredBy: &now,
	})
	if err != nil || !ok {
		return nil, false, err
	}
	if err := s.releaseSeats(ctx, r); err != nil {
		return nil, false, err
	}
	markReleased(r, now, ReasonExpired)
	return r, true, nil
}

func (s *Service) releaseSeats(ctx context.Context, r *Reservation) error {
	if err := s.repo.ReleaseClaims(ctx, r.ID); err != nil {
		return err
	}
	return s.repo.SetSeatStatus(ctx, r.SeatIDs(), catalog.SeatAvailable)
}

func markReleased(r *Reservation, now time.Time, reason string) {
	r.State = StateReleased
	r.ReleasedAt = &now
	r.ReleaseReason = reason
	r.Version++
	r.UpdatedAt = now
	for i := range r.Seats {
		r.Seats[i].Active = false
	}
}

func (s *Service) afterRelease(ctx context.Context, r *Reservation, eventType EventType) {
	s.log.LogHoldReleased(ctx, r.ID.String(), r.EventID.String(), r.ReleaseReason)
	s.invalidate(ctx, r.EventID)
	s.publish(ctx, newLifecycleEvent(eventType, r, s.clock.Now()))
}

func (s *Service) GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return s.repo.GetReservation(ctx, id)
}

// ListReservations pages through reservations, newest first
func (s *Service) ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, int64, error) {
	if f.State != "" && !f.State.Valid() {
		return nil, 0, invalidf("unknown state %q", f.State)
	}
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, 0, invalidf("unknown kind %q", f.Kind)
	}
	if f.Offset < 0 {
		return nil, 0, invalidf("offset must not be negative")
	}
	switch {
	case f.Limit <= 0:
		f.Limit = defaultListLimit
	case f.Limit > maxListLimit:
		f.Limit = maxListLimit
	}
	return s.repo.ListReservations(ctx, f)
}

// retry runs fn with bounded exponential backoff. Lost claim races, stale
// versions and transient store failures are retried; anything else stops.
func (s *Service) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.policy.RetryInitialInterval
	b.MaxInterval = s.policy.RetryMaxInterval

	maxTries := s.policy.RetryMax
	if maxTries == 0 {
		maxTries = 1
	}

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if !retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		if uint(attempt) < maxTries {
			s.log.LogStoreRetry(ctx, op, attempt, err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxTries))
	if err == nil {
		return nil
	}

	// Out of attempts: claim races stay claim races, everything else retryable
	// surfaces as a transient store error
	switch {
	case errors.Is(err, errClaimConflict), !retryable(err):
		return err
	case errors.Is(err, ErrTransientStore):
		return err
	default:
		return fmt.Errorf("%w: %s: %w", ErrTransientStore, op, err)
	}
}

func retryable(err error) bool {
	return errors.Is(err, errClaimConflict) ||
		errors.Is(err, errStaleVersion) ||
		errors.Is(err, ErrTransientStore)
}

func (s *Service) publish(ctx context.Context, evt LifecycleEvent) {
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.log.ErrorWithContext(ctx, "Failed to publish lifecycle event", err, map[string]any{
			"type":           string(evt.Type),
			"reservation_id": evt.ReservationID.String(),
		})
	}
}

func (s *Service) invalidate(ctx context.Context, eventID uuid.UUID) {
	if err := s.loader.Invalidate(ctx, constants.AvailabilityKeys(eventID.String())...); err != nil {
		s.log.ErrorWithContext(ctx, "Failed to invalidate availability cache", err, map[string]any{
			"event_id": eventID.String(),
		})
	}
}

func missingSeats(requested []uuid.UUID, found []catalog.Seat) []uuid.UUID {
	have := make(map[uuid.UUID]struct{}, len(found))
	for _, s := range found {
		have[s.ID] = struct{}{}
	}
	var missing []uuid.UUID
	for _, id := range requested {
		if _, ok := have[id]; !ok {
			missing = append(missing, id)
		}
	}
	return sortIDs(missing)
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
