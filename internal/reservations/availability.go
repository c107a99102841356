package reservations

import (
	"context"
	"sort"
	"time"

	"evently-seats/internal/catalog"
	"evently-seats/internal/shared/constants"

	"github.com/google/uuid"
)

// GetAvailability returns every seat of the event with its status derived from
// the claims at read time. A checkout hold past its deadline reads as available
// even before the sweeper has released it.
func (s *Service) GetAvailability(ctx context.Context, eventID uuid.UUID) ([]SeatAvailability, error) {
	var seats []SeatAvailability
	err := s.loader.GetOrLoad(ctx, constants.SeatAvailabilityKey(eventID.String()), s.cacheTTL(), &seats,
		func(ctx context.Context) (any, error) {
			return s.loadAvailability(ctx, eventID)
		})
	if err != nil {
		return nil, err
	}
	return seats, nil
}

func (s *Service) loadAvailability(ctx context.Context, eventID uuid.UUID) ([]SeatAvailability, error) {
	views, err := s.repo.SeatClaimViews(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, ErrEventNotFound
	}

	now := s.clock.Now()
	seats := make([]SeatAvailability, len(views))
	for i, v := range views {
		seats[i] = SeatAvailability{
			SeatID:              v.SeatID,
			Section:             v.Section,
			RowLabel:            v.RowLabel,
			SeatNumber:          v.SeatNumber,
			BasePriceMinorUnits: v.BasePriceMinorUnits,
			Status:              v.effectiveStatus(now),
		}
	}
	sort.Slice(seats, func(i, j int) bool {
		a, b := seats[i], seats[j]
		if a.Section != b.Section {
			return a.Section < b.Section
		}
		if a.RowLabel != b.RowLabel {
			return a.RowLabel < b.RowLabel
		}
		return a.SeatNumber < b.SeatNumber
	})
	return seats, nil
}

// GetAvailabilitySummary counts seats per section and status
func (s *Service) GetAvailabilitySummary(ctx context.Context, eventID uuid.UUID) (*AvailabilitySummary, error) {
	var summary AvailabilitySummary
	err := s.loader.GetOrLoad(ctx, constants.SeatSummaryKey(eventID.String()), s.cacheTTL(), &summary,
		func(ctx context.Context) (any, error) {
			seats, err := s.loadAvailability(ctx, eventID)
			if err != nil {
				return nil, err
			}
			return summarize(eventID, seats, s.clock.Now()), nil
		})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func summarize(eventID uuid.UUID, seats []SeatAvailability, now time.Time) AvailabilitySummary {
	summary := AvailabilitySummary{EventID: eventID, AsOf: now}
	bySection := make(map[string]*SectionAvailability)
	var order []string
	for _, seat := range seats {
		sec, ok := bySection[seat.Section]
		if !ok {
			sec = &SectionAvailability{Section: seat.Section}
			bySection[seat.Section] = sec
			order = append(order, seat.Section)
		}
		sec.Total++
		summary.Total++
		switch seat.Status {
		case catalog.SeatAvailable:
			sec.Available++
			summary.Available++
		case catalog.SeatHeld:
			sec.Held++
			summary.Held++
		case catalog.SeatConfirmed:
			sec.Confirmed++
			summary.Confirmed++
		}
	}
	sort.Strings(order)
	summary.Sections = make([]SectionAvailability, 0, len(order))
	for _, name := range order {
		summary.Sections = append(summary.Sections, *bySection[name])
	}
	return summary
}

// RebuildProjection rewrites seats.status from the active claims and returns
// how many seats had drifted. Expired but unswept holds still count as HELD;
// the sweeper owns that transition.
func (s *Service) RebuildProjection(ctx context.Context, eventID uuid.UUID) (int, error) {
	changed := 0
	err := s.retry(ctx, "rebuild_projection", func(ctx context.Context) error {
		changed = 0
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			views, err := s.repo.SeatClaimViews(ctx, eventID)
			if err != nil {
				return err
			}
			if len(views) == 0 {
				return ErrEventNotFound
			}

			drift := make(map[catalog.SeatStatus][]uuid.UUID)
			for _, v := range views {
				if want := v.claimStatus(); want != v.ProjectedStatus {
					drift[want] = append(drift[want], v.SeatID)
				}
			}
			for status, ids := range drift {
				if err := s.repo.SetSeatStatus(ctx, ids, status); err != nil {
					return err
				}
				changed += len(ids)
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	if changed > 0 {
		s.log.InfoContext(ctx, "Seat projection rebuilt", "event_id", eventID.String(), "seats_changed", changed)
		s.invalidate(ctx, eventID)
	}
	return changed, nil
}

func (s *Service) cacheTTL() time.Duration {
	if s.policy.AvailabilityCacheTTL > 0 {
		return s.policy.AvailabilityCacheTTL
	}
	return constants.TTL_SEAT_AVAILABILITY
}
