package catalog

type LoadSeatsRequest struct {
	Seats []SeatInput `json:"seats" binding:"required,min=1"`
}

type LoadFloorPlanRequest struct {
	Sections []FloorPlanSection `json:"sections" binding:"required,min=1"`
}
