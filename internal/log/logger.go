package log

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const serviceName = "lets-chat"

// Init 初始化全局日志：dev 用控制台格式，生产输出 JSON 并压到 Info 级。
// 每条日志都带 service 字段，多服务汇聚时可以区分来源。
func Init(env string) {
	zerolog.TimeFieldFormat = time.RFC3339
	if env == "dev" {
		cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(cw).With().Timestamp().Str("service", serviceName).Logger()
		return
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger().Level(zerolog.InfoLevel)
}
