package password

import (
	"fmt"
	"runtime"

	"github.com/caarlos0/env/v11"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32 `env:"UNISESSION_ARGON2_MEMORY_KIB"`
	Iterations  uint32 `env:"UNISESSION_ARGON2_ITERATIONS"`
	Parallelism uint8  `env:"UNISESSION_ARGON2_PARALLELISM"`
	SaltLength  uint32 `env:"UNISESSION_ARGON2_SALT_LEN"`
	KeyLength   uint32 `env:"UNISESSION_ARGON2_KEY_LEN"`
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int `env:"UNISESSION_PASSWORD_MIN_LEN"`
	MaxLength int `env:"UNISESSION_PASSWORD_MAX_LEN"`
	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool `env:"UNISESSION_PASSWORD_REJECT_VERY_WEAK"`
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the baseline used for interactive logins.
// MinLength matches the account rules enforced before any store call.
func DefaultConfig() Config {
	// Clamp to [1..4] to keep resource usage predictable in containers.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024, // 64 MiB
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 6,
			MaxLength: 256,
		},
	}
}

// FromEnv loads config from environment variables on top of DefaultConfig.
//
// Env surface:
//   - UNISESSION_PASSWORD_MIN_LEN, UNISESSION_PASSWORD_MAX_LEN
//   - UNISESSION_PASSWORD_REJECT_VERY_WEAK (true/false)
//   - UNISESSION_ARGON2_MEMORY_KIB, UNISESSION_ARGON2_ITERATIONS,
//     UNISESSION_ARGON2_PARALLELISM, UNISESSION_ARGON2_SALT_LEN, UNISESSION_ARGON2_KEY_LEN
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// check enforces the same bounds the decoder applies to stored hashes.
func (c Config) check() error {
	p := c.Params
	switch {
	case c.Policy.MinLength < 1 || c.Policy.MinLength > 1024:
		return fmt.Errorf("%w: min_len out of range [1..1024]", ErrConfig)
	case c.Policy.MaxLength < 1 || c.Policy.MaxLength > 4096:
		return fmt.Errorf("%w: max_len out of range [1..4096]", ErrConfig)
	case c.Policy.MinLength > c.Policy.MaxLength:
		return fmt.Errorf("%w: min_len(%d) > max_len(%d)", ErrConfig, c.Policy.MinLength, c.Policy.MaxLength)
	case p.MemoryKiB < 8*1024 || p.MemoryKiB > 1024*1024:
		return fmt.Errorf("%w: argon2 memory out of range [8192..1048576]", ErrConfig)
	case p.Iterations < 1 || p.Iterations > 20:
		return fmt.Errorf("%w: argon2 iterations out of range [1..20]", ErrConfig)
	case p.Parallelism < 1 || p.Parallelism > 64:
		return fmt.Errorf("%w: argon2 parallelism out of range [1..64]", ErrConfig)
	case p.SaltLength < 8 || p.SaltLength > 64:
		return fmt.Errorf("%w: argon2 salt length out of range [8..64]", ErrConfig)
	case p.KeyLength < 16 || p.KeyLength > 64:
		return fmt.Errorf("%w: argon2 key length out of range [16..64]", ErrConfig)
	}
	return nil
}
