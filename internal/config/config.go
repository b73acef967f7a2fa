package config

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Port                  string `env:"APP_PORT, default=8080"`
	Env                   string `env:"APP_ENV, default=dev"`
	DatabaseDSN           string `env:"DATABASE_DSN, default=host=localhost user=postgres password=postgres dbname=letschat port=5432 sslmode=disable TimeZone=UTC"`
	JWTSecret             string `env:"JWT_SECRET, default=dev-secret-change-me"`
	AccessTokenTTLMinutes int    `env:"ACCESS_TOKEN_TTL_MINUTES, default=15"`
	RefreshTokenTTLDays   int    `env:"REFRESH_TOKEN_TTL_DAYS, default=7"`

	// 首次凭密码进入房间时是否把成员关系落库。
	PersistMembership bool `env:"ROOM_PERSIST_MEMBERSHIP, default=true"`

	Files FilesConfig
}

type FilesConfig struct {
	Enabled       bool     `env:"FILES_ENABLED, default=true"`
	Provider      string   `env:"FILES_PROVIDER, default=local"`
	Dir           string   `env:"FILES_DIR, default=./uploads"`
	RestrictTypes bool     `env:"FILES_RESTRICT_TYPES, default=true"`
	AllowedTypes  []string `env:"FILES_ALLOWED_TYPES, default=image/jpeg,image/png,image/gif"`
}

// Load 从环境变量读取配置，解析失败直接退出。
func Load() Config {
	var cfg Config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		log.Fatal().Err(err).Msg("config load")
	}
	return cfg
}
