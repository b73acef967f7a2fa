package ws

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/masayosh4/lets-chat/internal/access"
	"github.com/masayosh4/lets-chat/internal/events"
	"github.com/masayosh4/lets-chat/internal/models"
	"github.com/masayosh4/lets-chat/internal/presence"
)

// Relay 订阅领域事件总线，把已提交的写入转发给在线连接。
// 注册表本身从不广播，对外宣告全部经由这里。
type Relay struct {
	registry *presence.Registry
	bus      *events.Bus
}

func NewRelay(registry *presence.Registry, bus *events.Bus) *Relay {
	return &Relay{registry: registry, bus: bus}
}

// Run 消费事件直到 ctx 取消。通常作为后台 goroutine 启动一次。
func (r *Relay) Run(ctx context.Context) {
	sub := r.bus.Subscribe(256,
		events.TopicMessageNew,
		events.TopicFileNew,
		events.TopicUserMessageNew,
		events.TopicRoomUpdate,
		events.TopicRoomArchive,
	)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			r.dispatch(evt)
		}
	}
}

func (r *Relay) dispatch(evt events.Event) {
	switch evt.Topic {
	case events.TopicMessageNew:
		m := evt.Message
		r.BroadcastRoom(evt.Room, map[string]interface{}{
			"type": "message", "id": m.ID, "room_id": m.RoomID,
			"user_id": m.OwnerID, "username": username(evt.User),
			"text": m.Text, "posted": m.Posted,
		})
	case events.TopicFileNew:
		f := evt.File
		r.BroadcastRoom(evt.Room, map[string]interface{}{
			"type": "file", "id": f.ID, "room_id": f.RoomID,
			"user_id": f.OwnerID, "username": username(evt.User),
			"name": f.Name, "mime": f.Type, "size": f.Size,
			"url": f.URL(), "uploaded": f.Uploaded,
		})
	case events.TopicUserMessageNew:
		m := evt.UserMessage
		payload := map[string]interface{}{
			"type": "user-message", "id": m.ID, "owner_id": m.OwnerID,
			"receiver_id": m.ReceiverID, "username": username(evt.User),
			"text": m.Text, "posted": m.Posted,
		}
		r.SendUser(m.OwnerID, payload)
		if m.ReceiverID != m.OwnerID {
			r.SendUser(m.ReceiverID, payload)
		}
	case events.TopicRoomUpdate:
		r.BroadcastRoom(evt.Room, map[string]interface{}{
			"type": "room-update", "room_id": evt.Room.ID,
			"name": evt.Room.Name, "description": evt.Room.Description,
		})
	case events.TopicRoomArchive:
		r.BroadcastRoom(evt.Room, map[string]interface{}{
			"type": "room-archive", "room_id": evt.Room.ID,
		})
	}
}

func username(u *models.User) string {
	if u == nil {
		return ""
	}
	return u.Username
}

// BroadcastRoom 把载荷发给对该房间有权限的所有在线连接。
func (r *Relay) BroadcastRoom(room *models.Room, payload interface{}) {
	if room == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("relay marshal")
		return
	}
	for _, conn := range r.registry.Query(presence.Filter{}) {
		if conn.Sender == nil || !access.IsAuthorized(room, conn.UserID) {
			continue
		}
		if !conn.Sender.Send(b) {
			log.Warn().Str("conn_id", conn.ID).Msg("relay drop slow connection")
		}
	}
}

// SendUser 把载荷发给某个用户的全部在线连接。
func (r *Relay) SendUser(userID uint, payload interface{}) {
	b, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("relay marshal")
		return
	}
	for _, conn := range r.registry.Query(presence.Filter{UserID: userID}) {
		if conn.Sender == nil {
			continue
		}
		if !conn.Sender.Send(b) {
			log.Warn().Str("conn_id", conn.ID).Msg("relay drop slow connection")
		}
	}
}

// NotifyPresence 向房间成员通告上线/下线。这是传输层自己的协议帧，
// 不属于领域事件。
func (r *Relay) NotifyPresence(room *models.Room, userID uint, uname string, online bool) {
	typ := "leave"
	if online {
		typ = "join"
	}
	r.BroadcastRoom(room, map[string]interface{}{
		"type": typ, "room_id": room.ID, "user_id": userID, "username": uname,
		"online": len(r.registry.UsersOnlineForRoom(room)),
	})
}
