package realtime

import (
	"time"

	"golang.org/x/time/rate"
)

// newEventLimiter caps inbound events on one connection at limit per window,
// refilled smoothly, with a burst of limit.
func newEventLimiter(limit int, window time.Duration) *rate.Limiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
}
