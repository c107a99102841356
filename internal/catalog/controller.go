package catalog

import (
	"errors"
	"net/http"

	"evently-seats/internal/shared/utils/response"
	"evently-seats/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Controller struct {
	service *Service
	log     *logger.Logger
}

func NewController(service *Service, log *logger.Logger) *Controller {
	return &Controller{service: service, log: log}
}

// PUBLIC CATALOG READS

func (c *Controller) GetSeats(ctx *gin.Context) {
	eventID, ok := parseUUIDParam(ctx, "eventId", "Event ID")
	if !ok {
		return
	}

	seats, err := c.service.GetSeats(ctx.Request.Context(), eventID)
	if err != nil {
		c.respondError(ctx, "Failed to get seats", err)
		return
	}

	response.Success(ctx, http.StatusOK, "Seats retrieved successfully", toSeatResponses(seats))
}

func (c *Controller) GetSeat(ctx *gin.Context) {
	seatID, ok := parseUUIDParam(ctx, "seatId", "Seat ID")
	if !ok {
		return
	}

	seat, err := c.service.GetSeat(ctx.Request.Context(), seatID)
	if err != nil {
		c.respondError(ctx, "Failed to get seat", err)
		return
	}

	response.Success(ctx, http.StatusOK, "Seat retrieved successfully", seat.ToResponse())
}

func (c *Controller) ListSections(ctx *gin.Context) {
	eventID, ok := parseUUIDParam(ctx, "eventId", "Event ID")
	if !ok {
		return
	}

	sections, err := c.service.ListSections(ctx.Request.Context(), eventID)
	if err != nil {
		c.respondError(ctx, "Failed to get sections", err)
		return
	}

	response.Success(ctx, http.StatusOK, "Sections retrieved successfully", sections)
}

// ADMIN CATALOG LOADING

func (c *Controller) LoadSeats(ctx *gin.Context) {
	eventID, ok := parseUUIDParam(ctx, "eventId", "Event ID")
	if !ok {
		return
	}

	var req LoadSeatsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.BadRequest(ctx, "Invalid request data", err)
		return
	}

	seats, err := c.service.LoadSeats(ctx.Request.Context(), eventID, req.Seats)
	if err != nil {
		c.respondError(ctx, "Failed to load seats", err)
		return
	}

	response.Success(ctx, http.StatusCreated, "Seat catalog loaded successfully", LoadCatalogResponse{
		EventID:      eventID.String(),
		SeatsCreated: len(seats),
		Seats:        toSeatResponses(seats),
	})
}

func (c *Controller) LoadFloorPlan(ctx *gin.Context) {
	eventID, ok := parseUUIDParam(ctx, "eventId", "Event ID")
	if !ok {
		return
	}

	var req LoadFloorPlanRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.BadRequest(ctx, "Invalid request data", err)
		return
	}

	seats, err := c.service.LoadFloorPlan(ctx.Request.Context(), eventID, FloorPlan{Sections: req.Sections})
	if err != nil {
		c.respondError(ctx, "Failed to load floor plan", err)
		return
	}

	response.Success(ctx, http.StatusCreated, "Floor plan loaded successfully", LoadCatalogResponse{
		EventID:      eventID.String(),
		SeatsCreated: len(seats),
		Seats:        toSeatResponses(seats),
	})
}

func (c *Controller) Renumber(ctx *gin.Context) {
	eventID, ok := parseUUIDParam(ctx, "eventId", "Event ID")
	if !ok {
		return
	}

	changed, err := c.service.Renumber(ctx.Request.Context(), eventID)
	if err != nil {
		c.respondError(ctx, "Failed to renumber seats", err)
		return
	}

	response.Success(ctx, http.StatusOK, "Seats renumbered successfully", RenumberResponse{
		EventID:      eventID.String(),
		SeatsChanged: changed,
	})
}

func (c *Controller) respondError(ctx *gin.Context, message string, err error) {
	code := StatusFor(err)
	if code >= http.StatusInternalServerError {
		c.log.LogHTTPError(ctx, err, code)
	}
	response.Error(ctx, code, message, err.Error())
}

// StatusFor maps catalog errors to HTTP status codes
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrSeatNotFound), errors.Is(err, ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrCatalogExists):
		return http.StatusConflict
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
