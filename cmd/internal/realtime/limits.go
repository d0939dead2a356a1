package realtime

import "time"

const (
	// Max bytes per websocket frame read (hard limit). Clients only send
	// small control frames.
	maxFrameBytes = 4 << 10
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
