package reservations

import (
	"errors"
	"net/http"
	"time"

	"evently-seats/internal/shared/middleware"
	"evently-seats/internal/shared/utils/response"
	"evently-seats/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Controller struct {
	service *Service
	sweeper *Sweeper
	log     *logger.Logger
}

func NewController(service *Service, sweeper *Sweeper, log *logger.Logger) *Controller {
	return &Controller{service: service, sweeper: sweeper, log: log}
}

// PUBLIC AVAILABILITY

func (c *Controller) GetAvailability(ctx *gin.Context) {
	eventID, ok := parseUUIDParam(ctx, "eventId", "Event ID")
	if !ok {
		return
	}

	seats, err := c.service.GetAvailability(ctx.Request.Context(), eventID)
	if err != nil {
		c.respondError(ctx, "Failed to get availability", err)
		return
	}

	response.Success(ctx, http.StatusOK, "Availability retrieved successfully", seats)
}

func (c *Controller) GetAvailabilitySummary(ctx *gin.Context) {
	eventID, ok := parseUUIDParam(ctx, "eventId", "Event ID")
	if !ok {
		return
	}

	summary, err := c.service.GetAvailabilitySummary(ctx.Request.Context(), eventID)
	if err != nil {
		c.respondError(ctx, "Failed to get availability summary", err)
		return
	}

	response.Success(ctx, http.StatusOK, "Availability summary retrieved successfully", summary)
}

// CHECKOUT HOLDS

func (c *Controller) CreateHold(ctx *gin.Context) {
	eventID, ok := parseUUIDParam(ctx, "eventId", "Event ID")
	if !ok {
		return
	}

	var req CreateHoldRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.BadRequest(ctx, "Invalid request data", err)
		return
	}
	seatIDs, err := parseSeatIDs(req.SeatIDs)
	if err != nil {
		response.BadRequest(ctx, "Invalid request data", err)
		return
	}

	hold, err := c.service.CreateHold(ctx.Request.Context(), CreateHoldInput{
		EventID:   eventID,
		SeatIDs:   seatIDs,
		Kind:      KindCheckoutHold,
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
		HolderRef: ctx.GetString(middleware.ContextUserID),
	})
	if err != nil {
		c.respondError(ctx, "Failed to create hold", err)
		return
	}

	response.Success(ctx, http.StatusCreated, "Hold created successfully", hold.ToResponse())
}

func (c *Controller) GetHold(ctx *gin.Context) {
	holdID, ok := parseUUIDParam(ctx, "holdId", "Hold ID")
	if !ok {
		return
	}

	hold, err := c.service.GetReservation(ctx.Request.Context(), holdID)
	if err != nil {
		c.respondError(ctx, "Failed to get hold", err)
		return
	}

	response.Success(ctx, http.StatusOK, "Hold retrieved successfully", hold.ToResponse())
}

func (c *Controller) ConfirmHold(ctx *gin.Context) {
	holdID, ok := parseUUIDParam(ctx, "holdId", "Hold ID")
	if !ok {
		return
	}

	var req ConfirmHoldRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.BadRequest(ctx, "Invalid request data", err)
		return
	}

	result, err := c.service.Confirm(ctx.Request.Context(), holdID, req.ExternalRef)
	if err != nil {
		c.respondError(ctx, "Failed to confirm hold", err)
		return
	}

	message := "Hold confirmed successfully"
	if result.Replayed {
		message = "Hold already confirmed"
	}
	response.Success(ctx, http.StatusOK, message, ConfirmHoldResponse{
		Hold:     result.Reservation.ToResponse(),
		Replayed: result.Replayed,
	})
}

func (c *Controller) ReleaseHold(ctx *gin.Context) {
	holdID, ok := parseUUIDParam(ctx, "holdId", "Hold ID")
	if !ok {
		return
	}

	// The body is optional on DELETE
	var req ReleaseHoldRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			response.BadRequest(ctx, "Invalid request data", err)
			return
		}
	}

	result, err := c.service.Release(ctx.Request.Context(), holdID, req.Reason)
	if err != nil {
		c.respondError(ctx, "Failed to release hold", err)
		return
	}

	message := "Hold released successfully"
	if !result.Changed {
		message = "Hold already released"
	}
	response.Success(ctx, http.StatusOK, message, ReleaseHoldResponse{
		Hold:    result.Reservation.ToResponse(),
		Changed: result.Changed,
	})
}

// ADMIN

func (c *Controller) CreateManualHold(ctx *gin.Context) {
	eventID, ok := parseUUIDParam(ctx, "eventId", "Event ID")
	if !ok {
		return
	}

	var req CreateManualHoldRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.BadRequest(ctx, "Invalid request data", err)
		return
	}
	seatIDs, err := parseSeatIDs(req.SeatIDs)
	if err != nil {
		response.BadRequest(ctx, "Invalid request data", err)
		return
	}

	holder := req.HolderRef
	if holder == "" {
		holder = ctx.GetString(middleware.ContextUserID)
	}

	hold, err := c.service.CreateHold(ctx.Request.Context(), CreateHoldInput{
		EventID:   eventID,
		SeatIDs:   seatIDs,
		Kind:      KindManualHold,
		HolderRef: holder,
	})
	if err != nil {
		c.respondError(ctx, "Failed to create manual hold", err)
		return
	}

	response.Success(ctx, http.StatusCreated, "Manual hold created successfully", hold.ToResponse())
}

func (c *Controller) ListHolds(ctx *gin.Context) {
	eventID, ok := parseUUIDParam(ctx, "eventId", "Event ID")
	if !ok {
		return
	}

	var q ListHoldsQuery
	if err := ctx.ShouldBindQuery(&q); err != nil {
		response.BadRequest(ctx, "Invalid query parameters", err)
		return
	}

	filter := ReservationFilter{
		EventID: eventID,
		State:   State(q.State),
		Kind:    Kind(q.Kind),
		Limit:   q.Limit,
		Offset:  q.Offset,
	}
	holds, total, err := c.service.ListReservations(ctx.Request.Context(), filter)
	if err != nil {
		c.respondError(ctx, "Failed to list holds", err)
		return
	}

	limit := q.Limit
	if limit == 0 {
		limit = defaultListLimit
	}
	response.Success(ctx, http.StatusOK, "Holds retrieved successfully", ListHoldsResponse{
		Holds:  toHoldResponses(holds),
		Total:  total,
		Limit:  limit,
		Offset: q.Offset,
	})
}

func (c *Controller) RebuildProjection(ctx *gin.Context) {
	eventID, ok := parseUUIDParam(ctx, "eventId", "Event ID")
	if !ok {
		return
	}

	changed, err := c.service.RebuildProjection(ctx.Request.Context(), eventID)
	if err != nil {
		c.respondError(ctx, "Failed to rebuild seat projection", err)
		return
	}

	response.Success(ctx, http.StatusOK, "Seat projection rebuilt successfully", RebuildProjectionResponse{
		EventID:      eventID.String(),
		SeatsChanged: changed,
	})
}

func (c *Controller) RunSweeper(ctx *gin.Context) {
	if c.sweeper == nil {
		response.Error(ctx, http.StatusServiceUnavailable, "Sweeper is not configured", nil)
		return
	}

	result, err := c.sweeper.SweepOnce(ctx.Request.Context())
	if err != nil {
		c.respondError(ctx, "Sweep failed", err)
		return
	}

	response.Success(ctx, http.StatusOK, "Sweep completed", result)
}

func (c *Controller) respondError(ctx *gin.Context, message string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		c.log.LogHTTPError(ctx, err, code)
	}

	var unavailable *SeatUnavailableError
	var missing *SeatNotFoundError
	switch {
	case errors.As(err, &unavailable):
		response.Error(ctx, code, message, SeatUnavailableDetails{UnavailableSeatIDs: idStrings(unavailable.SeatIDs)})
	case errors.As(err, &missing):
		response.Error(ctx, code, message, SeatNotFoundDetails{MissingSeatIDs: idStrings(missing.SeatIDs)})
	default:
		response.Error(ctx, code, message, err.Error())
	}
}

// statusFor maps reservation errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrSeatNotFound), errors.Is(err, ErrEventNotFound), errors.Is(err, ErrReservationNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSeatUnavailable), errors.Is(err, ErrAlreadyConfirmedConflict), errors.Is(err, ErrCannotReleaseConfirmed):
		return http.StatusConflict
	case errors.Is(err, ErrHoldExpired):
		return http.StatusGone
	case errors.Is(err, ErrTransientStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseUUIDParam(ctx *gin.Context, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(ctx.Param(name))
	if err != nil {
		response.Error(ctx, http.StatusBadRequest, label+" must be a valid UUID", err.Error())
		return uuid.Nil, false
	}
	return id, true
}
