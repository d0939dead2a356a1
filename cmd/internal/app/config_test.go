package app

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:8080" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.StorageDriver != DriverSQLite || cfg.SQLitePath != "unisession.db" {
		t.Fatalf("storage=%q path=%q", cfg.StorageDriver, cfg.SQLitePath)
	}
	if cfg.Auth.AttemptsPerMinute != 20 || cfg.Auth.PostLoginPath != "/" {
		t.Fatalf("auth defaults not applied: %+v", cfg.Auth)
	}
	if !cfg.WS.OriginRequired || cfg.WS.SendQueue != 64 {
		t.Fatalf("ws defaults not applied: %+v", cfg.WS)
	}
	if cfg.passwords.Params.MemoryKiB == 0 {
		t.Fatalf("password config not loaded")
	}
}

func TestLoadConfig_FromEnvAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	if err := os.WriteFile(".env", []byte("UNISESSION_REMOTE_BASE_URL=https://accounts.example.com\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("UNISESSION_REMOTE_BASE_URL") })

	t.Setenv("UNISESSION_STORAGE_DRIVER", "Redis")
	t.Setenv("UNISESSION_REDIS_DB", "3")
	t.Setenv("UNISESSION_SESSION_WATCH_INTERVAL", "2s")
	t.Setenv("UNISESSION_AUTH_ATTEMPTS_PER_MINUTE", "5")
	t.Setenv("UNISESSION_WS_ALLOWED_ORIGINS", "https://app.example.com,http://127.0.0.1:*")
	t.Setenv("UNISESSION_CORS_ALLOWED_ORIGINS", "https://app.example.com")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.StorageDriver != DriverRedis || cfg.RedisDB != 3 {
		t.Fatalf("storage=%q db=%d", cfg.StorageDriver, cfg.RedisDB)
	}
	if cfg.RemoteBaseURL != "https://accounts.example.com" {
		t.Fatalf(".env value not loaded: %q", cfg.RemoteBaseURL)
	}
	if cfg.SessionWatchInterval != 2*time.Second {
		t.Fatalf("watch interval=%v", cfg.SessionWatchInterval)
	}
	if cfg.Auth.AttemptsPerMinute != 5 {
		t.Fatalf("auth prefix not applied: %v", cfg.Auth.AttemptsPerMinute)
	}
	if len(cfg.WS.AllowedOrigins) != 2 || cfg.WS.AllowedOrigins[1] != "http://127.0.0.1:*" {
		t.Fatalf("ws origins=%v", cfg.WS.AllowedOrigins)
	}
	if len(cfg.CORSAllowedOrigins) != 1 {
		t.Fatalf("cors origins=%v", cfg.CORSAllowedOrigins)
	}
}

func TestConfigSanitize_Rejects(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{name: "unknown driver", cfg: Config{StorageDriver: "mongo"}},
		{name: "postgres without url", cfg: Config{StorageDriver: DriverPostgres}},
		{name: "sqlite without path", cfg: Config{StorageDriver: DriverSQLite}},
		{name: "oidc without client", cfg: Config{StorageDriver: DriverMemory, OIDCIssuerURL: "https://issuer.example.com"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.cfg.Sanitize(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestConfigSanitize_FillsDefaults(t *testing.T) {
	cfg, err := Config{StorageDriver: " MEMORY ", SessionWatchInterval: -time.Second}.Sanitize()
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	if cfg.StorageDriver != DriverMemory {
		t.Fatalf("driver=%q", cfg.StorageDriver)
	}
	if cfg.SessionWatchInterval != 0 {
		t.Fatalf("negative interval not cleared: %v", cfg.SessionWatchInterval)
	}
	if cfg.passwords.Params.MemoryKiB == 0 {
		t.Fatalf("password defaults not applied")
	}
	if cfg.WS.SendQueue == 0 || cfg.Auth.MaxBodyBytes == 0 {
		t.Fatalf("nested defaults not applied: ws=%+v auth=%+v", cfg.WS, cfg.Auth)
	}
}
