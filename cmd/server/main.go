package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/masayosh4/lets-chat/internal/config"
	"github.com/masayosh4/lets-chat/internal/db"
	"github.com/masayosh4/lets-chat/internal/events"
	clog "github.com/masayosh4/lets-chat/internal/log"
	"github.com/masayosh4/lets-chat/internal/presence"
	"github.com/masayosh4/lets-chat/internal/server"
	"github.com/masayosh4/lets-chat/internal/service"
	"github.com/masayosh4/lets-chat/internal/storage"
	"github.com/masayosh4/lets-chat/internal/ws"
)

func main() {
	// 加载配置、初始化日志、连接数据库，然后组装各组件并启动服务。
	cfg := config.Load()
	clog.Init(cfg.Env)

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	provider, err := storage.NewProvider(cfg.Files.Provider, cfg.Files.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("file storage")
	}

	bus := events.NewBus()
	registry := presence.NewRegistry()

	userSvc := service.NewUserService(gdb, cfg)
	roomSvc := service.NewRoomService(gdb, bus, registry, cfg.PersistMembership)
	msgSvc := service.NewMessageService(gdb, bus)
	fileSvc := service.NewFileService(gdb, bus, provider, cfg.Files, msgSvc)
	userMsgSvc := service.NewUserMessageService(gdb, bus)
	accountSvc := service.NewAccountService(gdb, bus, registry)

	relay := ws.NewRelay(registry, bus)
	go relay.Run(context.Background())

	h := server.NewHandler(userSvc, roomSvc, msgSvc, fileSvc, userMsgSvc, accountSvc)
	wsHandler := ws.Serve(cfg, gdb, registry, relay, roomSvc, msgSvc)

	r := server.SetupRouter(cfg, gdb, h, wsHandler)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
