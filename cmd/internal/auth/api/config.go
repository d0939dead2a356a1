package authapi

import "time"

// Config controls HTTP auth surface behavior and abuse limits.
type Config struct {
	TrustProxy   bool  `env:"TRUST_PROXY" envDefault:"false"`
	MaxBodyBytes int64 `env:"MAX_BODY_BYTES" envDefault:"65536"`

	// AttemptsPerMinute and AttemptBurst throttle register/login per client IP.
	// Zero disables throttling.
	AttemptsPerMinute float64       `env:"ATTEMPTS_PER_MINUTE" envDefault:"20"`
	AttemptBurst      int           `env:"ATTEMPT_BURST" envDefault:"10"`
	LimiterIdleTTL    time.Duration `env:"LIMITER_IDLE_TTL" envDefault:"10m"`

	// PostLoginPath is where a completed federated callback lands when no
	// pending redirect was recorded.
	PostLoginPath string `env:"POST_LOGIN_PATH" envDefault:"/"`
}

// DefaultConfig returns the values used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      64 << 10,
		AttemptsPerMinute: 20,
		AttemptBurst:      10,
		LimiterIdleTTL:    10 * time.Minute,
		PostLoginPath:     "/",
	}
}

// Sanitize replaces out-of-range values with defaults.
func (c Config) Sanitize() Config {
	def := DefaultConfig()
	if c.MaxBodyBytes <= 0 || c.MaxBodyBytes > 1<<20 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.AttemptsPerMinute < 0 {
		c.AttemptsPerMinute = 0
	}
	if c.AttemptBurst <= 0 {
		c.AttemptBurst = def.AttemptBurst
	}
	if c.LimiterIdleTTL <= 0 {
		c.LimiterIdleTTL = def.LimiterIdleTTL
	}
	if c.PostLoginPath == "" || c.PostLoginPath[0] != '/' || (len(c.PostLoginPath) > 1 && c.PostLoginPath[1] == '/') {
		c.PostLoginPath = def.PostLoginPath
	}
	return c
}
