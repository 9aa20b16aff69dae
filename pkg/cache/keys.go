package cache

import (
	"fmt"
	"time"
)

const (
	KeyPrefix = "seatreserve:cache"

	TTLEventDetail = 5 * time.Minute
	TTLEventList   = time.Minute
)

func EventDetailKey(eventID string) string {
	return fmt.Sprintf("%s:event:%s", KeyPrefix, eventID)
}

// EventListKey identifies one page of a filtered listing
func EventListKey(page, limit int, search, status, organizerID, from, to string) string {
	return fmt.Sprintf("%s:events:list:p%d:l%d:s=%s:st=%s:o=%s:f=%s:t=%s",
		KeyPrefix, page, limit, search, status, organizerID, from, to)
}

func EventListPattern() string {
	return KeyPrefix + ":events:list:*"
}
