package catalog

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrSeatNotFound   = errors.New("seat not found")
	ErrEventNotFound  = errors.New("event not found")
	ErrCatalogExists  = errors.New("event already has a seat catalog")
)
