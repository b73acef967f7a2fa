package server

import (
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/masayosh4/lets-chat/internal/auth"
	"github.com/masayosh4/lets-chat/internal/config"
	"github.com/masayosh4/lets-chat/internal/metrics"
	"github.com/masayosh4/lets-chat/internal/mw"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// registerValidations 挂自定义校验 tag，房间 slug 只允许小写字母、
// 数字和连字符。
func registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("roomslug", func(fl validator.FieldLevel) bool {
			return slugPattern.MatchString(fl.Field().String())
		})
	}
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, db *gorm.DB, h *Handler, wsHandler gin.HandlerFunc) *gin.Engine {
	registerValidations()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")

	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口，JWT 和 API token 都接受。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, db))

	authed.POST("/rooms", h.CreateRoom)
	authed.GET("/rooms", h.ListRooms)
	authed.GET("/rooms/:id", h.GetRoom)
	authed.PATCH("/rooms/:id", h.UpdateRoom)
	authed.POST("/rooms/:id/archive", h.ArchiveRoom)
	authed.POST("/rooms/:id/join", h.JoinRoom)
	authed.GET("/rooms/:id/messages", h.ListMessages)
	authed.POST("/rooms/:id/messages", h.CreateMessage)
	authed.GET("/rooms/:id/files", h.ListFiles)
	authed.POST("/rooms/:id/files", h.UploadFile)

	authed.GET("/users", h.ListUsers)
	authed.GET("/users/:id/messages", h.ListUserMessages)
	authed.POST("/users/:id/messages", h.CreateUserMessage)

	authed.PATCH("/account", h.UpdateAccount)
	authed.POST("/account/token", h.GenerateToken)
	authed.DELETE("/account/token", h.RevokeToken)

	r.GET("/ws", wsHandler)

	return r
}
