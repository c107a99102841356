package reservations

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"evently-seats/internal/catalog"

	"github.com/google/uuid"
)

// Error kinds surfaced by the reservation engine. Catalog errors are shared
// so callers can match either package's sentinel.
var (
	ErrInvalidRequest           = catalog.ErrInvalidRequest
	ErrSeatNotFound             = catalog.ErrSeatNotFound
	ErrEventNotFound            = catalog.ErrEventNotFound
	ErrSeatUnavailable          = errors.New("seat unavailable")
	ErrHoldExpired              = errors.New("hold expired")
	ErrAlreadyConfirmedConflict = errors.New("hold already confirmed with a different reference")
	ErrCannotReleaseConfirmed   = errors.New("confirmed hold cannot be released")
	ErrReservationNotFound      = errors.New("reservation not found")
	ErrTransientStore           = errors.New("transient store error")
)

// Retryable store outcomes. They never leave the package.
var (
	errClaimConflict = errors.New("seat claim conflict")
	errStaleVersion  = errors.New("reservation changed concurrently")
)

// SeatUnavailableError lists the requested seats already claimed by another hold
type SeatUnavailableError struct {
	SeatIDs []uuid.UUID
}

func (e *SeatUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s", ErrSeatUnavailable, joinIDs(e.SeatIDs))
}

func (e *SeatUnavailableError) Is(target error) bool {
	return target == ErrSeatUnavailable
}

// SeatNotFoundError lists requested seats missing from the event's catalog
type SeatNotFoundError struct {
	SeatIDs []uuid.UUID
}

func (e *SeatNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrSeatNotFound, joinIDs(e.SeatIDs))
}

func (e *SeatNotFoundError) Is(target error) bool {
	return target == ErrSeatNotFound
}

// claimConflictError is a lost race on the active-claim index. SeatIDs is
// empty when the store could not tell which seat collided.
type claimConflictError struct {
	SeatIDs []uuid.UUID
	err     error
}

func (e *claimConflictError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", errClaimConflict, e.err)
	}
	return errClaimConflict.Error()
}

func (e *claimConflictError) Is(target error) bool {
	return target == errClaimConflict
}

func (e *claimConflictError) Unwrap() error {
	return e.err
}

func joinIDs(ids []uuid.UUID) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = id.String()
	}
	return strings.Join(s, ",")
}

func sortIDs(ids []uuid.UUID) []uuid.UUID {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
