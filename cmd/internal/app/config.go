package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"unisession/cmd/internal/auth/api"
	"unisession/cmd/internal/realtime"
	"unisession/cmd/security/password"
)

// EnvPrefix is prepended to every variable read by LoadConfig.
const EnvPrefix = "UNISESSION_"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:"127.0.0.1:8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes    int           `env:"HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	CORSAllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	CORSAllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS" envDefault:"false"`
	CORSMaxAgeSeconds    int      `env:"CORS_MAX_AGE_SECONDS" envDefault:"600"`

	// StorageDriver picks the key-value backend: memory, sqlite, postgres or redis.
	StorageDriver  string `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath     string `env:"SQLITE_PATH" envDefault:"unisession.db"`
	DatabaseURL    string `env:"DATABASE_URL"`
	DBMaxConns     int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns     int32  `env:"DB_MIN_CONNS" envDefault:"0"`
	PostgresSchema string `env:"POSTGRES_SCHEMA" envDefault:"unisession"`
	RedisAddr      string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix    string `env:"REDIS_PREFIX" envDefault:"unisession:"`

	// RemoteBaseURL is the remote account service. Empty disables it.
	RemoteBaseURL string        `env:"REMOTE_BASE_URL"`
	RemoteTimeout time.Duration `env:"REMOTE_TIMEOUT" envDefault:"10s"`

	// OIDCIssuerURL enables federated sign-in when set.
	OIDCKind         string   `env:"OIDC_KIND" envDefault:"oidc"`
	OIDCIssuerURL    string   `env:"OIDC_ISSUER_URL"`
	OIDCClientID     string   `env:"OIDC_CLIENT_ID"`
	OIDCClientSecret string   `env:"OIDC_CLIENT_SECRET"`
	OIDCRedirectURL  string   `env:"OIDC_REDIRECT_URL"`
	OIDCScopes       []string `env:"OIDC_SCOPES" envSeparator:","`

	// SessionWatchInterval re-reads persisted markers so changes made by
	// another process are broadcast. Zero disables polling.
	SessionWatchInterval time.Duration `env:"SESSION_WATCH_INTERVAL" envDefault:"0s"`

	// ImportLegacyPath points at a JSON export of pre-existing local
	// accounts, imported once at startup.
	ImportLegacyPath string `env:"IMPORT_LEGACY_PATH"`

	// ReadinessRequireRemote makes /readyz fail while no remote is configured.
	ReadinessRequireRemote bool `env:"READINESS_REQUIRE_REMOTE" envDefault:"false"`

	Auth authapi.Config  `envPrefix:"AUTH_"`
	WS   realtime.Config `envPrefix:"WS_"`

	// passwords is loaded by password.FromEnv, which owns its own names.
	passwords password.Config
}

// LoadConfig reads an optional .env file, then the environment.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("app: load .env: %w", err)
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("app: parse env: %w", err)
	}

	pw, err := password.FromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg.passwords = pw

	return cfg.Sanitize()
}

// Sanitize normalizes cfg and rejects combinations that cannot start.
func (c Config) Sanitize() (Config, error) {
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	if c.StorageDriver == "" {
		c.StorageDriver = DriverSQLite
	}
	switch c.StorageDriver {
	case DriverMemory, DriverRedis:
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return Config{}, errors.New("app: sqlite driver requires SQLITE_PATH")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return Config{}, errors.New("app: postgres driver requires DATABASE_URL")
		}
	default:
		return Config{}, fmt.Errorf("app: unknown storage driver %q", c.StorageDriver)
	}

	if c.OIDCIssuerURL != "" && (c.OIDCClientID == "" || c.OIDCRedirectURL == "") {
		return Config{}, errors.New("app: OIDC requires client id and redirect url")
	}
	if c.SessionWatchInterval < 0 {
		c.SessionWatchInterval = 0
	}
	if c.DBMinConns < 0 {
		c.DBMinConns = 0
	}
	if c.passwords == (password.Config{}) {
		c.passwords = password.DefaultConfig()
	}

	c.Auth = c.Auth.Sanitize()
	c.WS = c.WS.Sanitize()
	return c, nil
}
