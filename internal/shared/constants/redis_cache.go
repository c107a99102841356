package constants

import "time"

// Redis Cache Configuration
// Pattern: evently:{module}:{operation}:{identifier}

const (
	CACHE_PREFIX = "evently"
)

// ================== SEATS MODULE ==================

const (
	CACHE_KEY_SEAT_AVAILABILITY = CACHE_PREFIX + ":seats:availability:event:" // + event-id
	CACHE_KEY_SEAT_SUMMARY      = CACHE_PREFIX + ":seats:summary:event:"      // + event-id
	CACHE_KEY_SEAT_SECTIONS     = CACHE_PREFIX + ":seats:sections:event:"     // + event-id
)

// Fallback when AVAILABILITY_CACHE_TTL is not configured
const (
	TTL_SEAT_AVAILABILITY = 2 * time.Second
	TTL_SEAT_SECTIONS     = 10 * time.Minute
)

func SeatAvailabilityKey(eventID string) string {
	return CACHE_KEY_SEAT_AVAILABILITY + eventID
}

func SeatSummaryKey(eventID string) string {
	return CACHE_KEY_SEAT_SUMMARY + eventID
}

func SeatSectionsKey(eventID string) string {
	return CACHE_KEY_SEAT_SECTIONS + eventID
}

// AvailabilityKeys returns every key that must be dropped after a hold mutation
func AvailabilityKeys(eventID string) []string {
	return []string{SeatAvailabilityKey(eventID), SeatSummaryKey(eventID)}
}
