package ws

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/masayosh4/lets-chat/internal/access"
	"github.com/masayosh4/lets-chat/internal/auth"
	"github.com/masayosh4/lets-chat/internal/config"
	"github.com/masayosh4/lets-chat/internal/models"
	"github.com/masayosh4/lets-chat/internal/presence"
	"github.com/masayosh4/lets-chat/internal/service"
)

// Client 是一条 websocket 连接的传输端。它实现 presence.Sender，
// 但连接的生命周期归 Registry 所有，这里只持有发送通道。
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	closing  chan struct{}
	connID   string
	userID   uint
	uname    string
	room     *models.Room
	relay    *Relay
	registry *presence.Registry
	msgSvc   *service.MessageService
}

// Send 实现 presence.Sender，缓冲写满时丢弃并报告失败。
func (c *Client) Send(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type InboundMessage struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	IsTyping bool   `json:"is_typing"`
}

func newConnID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b)
}

// Serve 处理 websocket 升级：认证、进入判定、登记在线连接。
// 连接在任何退出路径上都保证注销，注册表不会残留僵尸条目。
func Serve(cfg config.Config, db *gorm.DB, registry *presence.Registry, relay *Relay, roomSvc *service.RoomService, msgSvc *service.MessageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		rid64, err := strconv.ParseUint(c.Query("room_id"), 10, 64)
		if err != nil || rid64 == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room_id"})
			return
		}

		// Token 允许放在 Authorization 头或 token query 参数里，
		// JWT 与不透明 API token 都接受。
		authz := c.GetHeader("Authorization")
		token := c.Query("token")
		if token == "" && len(authz) > 7 && (authz[:7] == "Bearer " || authz[:7] == "bearer ") {
			token = authz[7:]
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		var user models.User
		if claims, perr := auth.ParseAccessToken(token, cfg.JWTSecret); perr == nil {
			if err := db.First(&user, claims.UserID).Error; err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
				return
			}
		} else if uid, secret, derr := auth.DecodeToken(token); derr == nil {
			if err := db.First(&user, uid).Error; err != nil || !auth.VerifyTokenSecret(user.TokenHash, secret) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
		} else {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		room, res, err := roomSvc.Join(c.Request.Context(), uint(rid64), access.JoinRequest{
			UserID:   user.ID,
			Password: c.Query("password"),
		})
		if err != nil {
			if err == service.ErrRoomNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
				return
			}
			log.Error().Err(err).Uint64("room_id", rid64).Msg("ws join")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "join failed"})
			return
		}
		if !res.Authorized {
			c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := &Client{
			conn:     conn,
			send:     make(chan []byte, 256),
			closing:  make(chan struct{}),
			connID:   newConnID(),
			userID:   user.ID,
			uname:    user.Username,
			room:     room,
			relay:    relay,
			registry: registry,
			msgSvc:   msgSvc,
		}
		registry.Register(&presence.Connection{
			ID:        client.connID,
			UserID:    user.ID,
			Username:  user.Username,
			Transport: "websocket",
			Sender:    client,
		})
		relay.NotifyPresence(room, user.ID, user.Username, true)

		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		// 唯一的注销点，所有断开路径都会走到这里。
		c.registry.Unregister(c.connID)
		c.relay.NotifyPresence(c.room, c.userID, c.uname, false)
		close(c.closing)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(1 << 20) // 1MB
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var in InboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		switch in.Type {
		case "typing":
			// typing 信号不落库，直接转给房间内的在线成员。
			c.relay.BroadcastRoom(c.room, map[string]interface{}{
				"type": "typing", "room_id": c.room.ID, "user_id": c.userID,
				"username": c.uname, "is_typing": in.IsTyping,
			})
		case "message", "":
			if in.Text == "" {
				continue
			}
			// 创建走内容管道；广播由事件中继在提交后完成。
			if _, err := c.msgSvc.Create(context.Background(), c.room.ID, c.userID, in.Text); err != nil {
				log.Warn().Err(err).Uint("room_id", c.room.ID).Uint("user_id", c.userID).Msg("ws create message")
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.closing:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
