package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"evently-seats/internal/shared/constants"
	"evently-seats/pkg/cache"
	"evently-seats/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Service owns per-event seat catalogs. It does no concurrency control of
// its own: catalogs are written once and renumbered only by operators.
type Service struct {
	repo     Repository
	validate *validator.Validate
	loader   *cache.Loader
	log      *logger.Logger
}

type ServiceOption func(*Service)

// WithCache enables caching of section summaries
func WithCache(loader *cache.Loader) ServiceOption {
	return func(s *Service) { s.loader = loader }
}

func NewService(repo Repository, log *logger.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		repo:     repo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type seatKey struct {
	section string
	row     string
	number  int
}

// LoadSeats creates the catalog of an event in one batch
func (s *Service) LoadSeats(ctx context.Context, eventID uuid.UUID, inputs []SeatInput) ([]Seat, error) {
	if eventID == uuid.Nil {
		return nil, fmt.Errorf("%w: event id is required", ErrInvalidRequest)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one seat is required", ErrInvalidRequest)
	}

	seats := make([]Seat, 0, len(inputs))
	ids := make(map[uuid.UUID]struct{}, len(inputs))
	positions := make(map[seatKey]struct{}, len(inputs))

	for i, in := range inputs {
		if err := s.validate.Struct(in); err != nil {
			return nil, fmt.Errorf("%w: seat %d: %s", ErrInvalidRequest, i, validationMessage(err))
		}

		id := uuid.New()
		if in.ID != "" {
			id = uuid.MustParse(in.ID)
		}
		if _, dup := ids[id]; dup {
			return nil, fmt.Errorf("%w: duplicate seat id %s", ErrInvalidRequest, id)
		}
		ids[id] = struct{}{}

		key := seatKey{section: in.Section, row: in.RowLabel, number: in.SeatNumber}
		if _, dup := positions[key]; dup {
			return nil, fmt.Errorf("%w: duplicate seat %s/%s/%d", ErrInvalidRequest, in.Section, in.RowLabel, in.SeatNumber)
		}
		positions[key] = struct{}{}

		seats = append(seats, Seat{
			ID:                  id,
			EventID:             eventID,
			Section:             in.Section,
			RowLabel:            in.RowLabel,
			SeatNumber:          in.SeatNumber,
			BasePriceMinorUnits: in.BasePriceMinorUnits,
			Status:              SeatAvailable,
		})
	}

	if err := s.repo.CreateCatalog(ctx, eventID, seats); err != nil {
		return nil, err
	}
	_ = s.loader.Invalidate(ctx, constants.SeatSectionsKey(eventID.String()))

	s.log.InfoContext(ctx, "Seat Catalog Loaded",
		"event_id", eventID.String(),
		"seats", len(seats),
	)
	return seats, nil
}

// LoadFloorPlan expands sections of rows into seats numbered 1..n per section
func (s *Service) LoadFloorPlan(ctx context.Context, eventID uuid.UUID, plan FloorPlan) ([]Seat, error) {
	if err := s.validate.Struct(plan); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, validationMessage(err))
	}
	return s.LoadSeats(ctx, eventID, plan.Expand())
}

// Expand converts a floor plan into seat inputs
func (p FloorPlan) Expand() []SeatInput {
	var inputs []SeatInput
	for _, section := range p.Sections {
		number := 0
		for _, row := range section.Rows {
			for i := 0; i < row.Seats; i++ {
				number++
				inputs = append(inputs, SeatInput{
					Section:             section.Name,
					RowLabel:            row.Label,
					SeatNumber:          number,
					BasePriceMinorUnits: section.BasePriceMinorUnits,
				})
			}
		}
	}
	return inputs
}

// GetSeats returns an event's catalog ordered by section, row and number
func (s *Service) GetSeats(ctx context.Context, eventID uuid.UUID) ([]Seat, error) {
	seats, err := s.repo.FindByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if len(seats) == 0 {
		return nil, ErrEventNotFound
	}
	return seats, nil
}

func (s *Service) GetSeat(ctx context.Context, seatID uuid.UUID) (*Seat, error) {
	return s.repo.FindByID(ctx, seatID)
}

// ListSections summarises the sections of an event
func (s *Service) ListSections(ctx context.Context, eventID uuid.UUID) ([]SectionSummary, error) {
	var sections []SectionSummary
	err := s.loader.GetOrLoad(ctx, constants.SeatSectionsKey(eventID.String()), constants.TTL_SEAT_SECTIONS, &sections,
		func(ctx context.Context) (any, error) {
			seats, err := s.GetSeats(ctx, eventID)
			if err != nil {
				return nil, err
			}
			return summarize(seats), nil
		})
	if err != nil {
		return nil, err
	}
	return sections, nil
}

func summarize(seats []Seat) []SectionSummary {
	index := make(map[string]int)
	var out []SectionSummary
	for _, seat := range seats {
		i, ok := index[seat.Section]
		if !ok {
			i = len(out)
			index[seat.Section] = i
			out = append(out, SectionSummary{
				Name:          seat.Section,
				MinPriceMinor: seat.BasePriceMinorUnits,
				MaxPriceMinor: seat.BasePriceMinorUnits,
			})
		}
		sec := &out[i]
		sec.Seats++
		if n := len(sec.Rows); n == 0 || sec.Rows[n-1] != seat.RowLabel {
			sec.Rows = append(sec.Rows, seat.RowLabel)
		}
		sec.MinPriceMinor = min(sec.MinPriceMinor, seat.BasePriceMinorUnits)
		sec.MaxPriceMinor = max(sec.MaxPriceMinor, seat.BasePriceMinorUnits)
	}
	return out
}

// Renumber makes seat numbers dense 1..n within each section, ordered by row
// then current number. It returns how many seats changed.
func (s *Service) Renumber(ctx context.Context, eventID uuid.UUID) (int, error) {
	seats, err := s.GetSeats(ctx, eventID)
	if err != nil {
		return 0, err
	}

	sort.SliceStable(seats, func(i, j int) bool { return seats[i].less(seats[j]) })

	changes := make(map[uuid.UUID]int)
	section, next := "", 0
	for _, seat := range seats {
		if seat.Section != section {
			section, next = seat.Section, 0
		}
		next++
		if seat.SeatNumber != next {
			changes[seat.ID] = next
		}
	}

	if err := s.repo.UpdateSeatNumbers(ctx, eventID, changes); err != nil {
		return 0, err
	}
	if len(changes) > 0 {
		s.log.InfoContext(ctx, "Seat Catalog Renumbered",
			"event_id", eventID.String(),
			"changed", len(changes),
		)
	}
	return len(changes), nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
