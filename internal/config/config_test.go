package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear environment variables
	for _, key := range []string{
		"APP_PORT", "APP_ENV", "DATABASE_DSN", "JWT_SECRET",
		"ACCESS_TOKEN_TTL_MINUTES", "REFRESH_TOKEN_TTL_DAYS",
		"ROOM_PERSIST_MEMBERSHIP", "FILES_ENABLED", "FILES_PROVIDER",
		"FILES_DIR", "FILES_RESTRICT_TYPES", "FILES_ALLOWED_TYPES",
	} {
		os.Unsetenv(key)
	}

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Load() Port = %v, want 8080", cfg.Port)
	}
	if cfg.Env != "dev" {
		t.Errorf("Load() Env = %v, want dev", cfg.Env)
	}
	if cfg.AccessTokenTTLMinutes != 15 {
		t.Errorf("Load() AccessTokenTTLMinutes = %v, want 15", cfg.AccessTokenTTLMinutes)
	}
	if cfg.RefreshTokenTTLDays != 7 {
		t.Errorf("Load() RefreshTokenTTLDays = %v, want 7", cfg.RefreshTokenTTLDays)
	}
	if !cfg.PersistMembership {
		t.Error("Load() PersistMembership = false, want true by default")
	}
	if !cfg.Files.Enabled || cfg.Files.Provider != "local" {
		t.Errorf("Load() Files = %+v, want enabled local provider", cfg.Files)
	}
	if len(cfg.Files.AllowedTypes) != 3 {
		t.Errorf("Load() Files.AllowedTypes = %v, want 3 defaults", cfg.Files.AllowedTypes)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("JWT_SECRET", "my-secret")
	t.Setenv("ROOM_PERSIST_MEMBERSHIP", "false")
	t.Setenv("FILES_PROVIDER", "memory")
	t.Setenv("FILES_ALLOWED_TYPES", "image/png,application/pdf")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Load() Port = %v, want 9090", cfg.Port)
	}
	if cfg.Env != "prod" {
		t.Errorf("Load() Env = %v, want prod", cfg.Env)
	}
	if cfg.JWTSecret != "my-secret" {
		t.Errorf("Load() JWTSecret = %v, want my-secret", cfg.JWTSecret)
	}
	if cfg.PersistMembership {
		t.Error("Load() PersistMembership = true, want false")
	}
	if cfg.Files.Provider != "memory" {
		t.Errorf("Load() Files.Provider = %v, want memory", cfg.Files.Provider)
	}
	if len(cfg.Files.AllowedTypes) != 2 || cfg.Files.AllowedTypes[1] != "application/pdf" {
		t.Errorf("Load() Files.AllowedTypes = %v", cfg.Files.AllowedTypes)
	}
}
