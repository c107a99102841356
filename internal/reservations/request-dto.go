package reservations

type CreateHoldRequest struct {
	SeatIDs    []string `json:"seat_ids" binding:"required,min=1,dive,uuid"`
	TTLSeconds int      `json:"ttl_seconds" binding:"omitempty,min=1"`
}

type CreateManualHoldRequest struct {
	SeatIDs []string `json:"seat_ids" binding:"required,min=1,dive,uuid"`
	// HolderRef labels who the seats are kept for; defaults to the staff user
	HolderRef string `json:"holder_ref" binding:"omitempty,max=255"`
}

type ConfirmHoldRequest struct {
	ExternalRef string `json:"external_ref" binding:"required,max=255"`
}

type ReleaseHoldRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=64"`
}

type ListHoldsQuery struct {
	State  string `form:"state" binding:"omitempty,oneof=ACTIVE CONFIRMED RELEASED"`
	Kind   string `form:"kind" binding:"omitempty,oneof=CHECKOUT_HOLD MANUAL_HOLD"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}
