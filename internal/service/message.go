package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/masayosh4/lets-chat/internal/access"
	"github.com/masayosh4/lets-chat/internal/events"
	"github.com/masayosh4/lets-chat/internal/metrics"
	"github.com/masayosh4/lets-chat/internal/models"
)

// MessageService 封装房间消息的创建与查询。
type MessageService struct {
	db  *gorm.DB
	bus *events.Bus
}

func NewMessageService(db *gorm.DB, bus *events.Bus) *MessageService {
	return &MessageService{db: db, bus: bus}
}

// MessageDTO 是对外输出的消息数据。
type MessageDTO struct {
	Type     string    `json:"type"`
	ID       uint      `json:"id"`
	RoomID   uint      `json:"room_id"`
	OwnerID  uint      `json:"owner_id"`
	Username string    `json:"username"`
	Text     string    `json:"text"`
	Posted   time.Time `json:"posted"`
}

// Create 在加锁事务内创建消息：重新读取房间行，依次校验存在、
// 未归档、有权限，插入消息并在同一事务里刷新房间的 lastActive。
// 只有提交成功后才发布 messages:new，回滚的写入永不对外宣告。
func (s *MessageService) Create(ctx context.Context, roomID, ownerID uint, text string) (*models.Message, error) {
	if text == "" {
		return nil, ErrValidationFailed
	}
	var msg models.Message
	var room *models.Room
	var owner models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		room, err = lockRoom(tx, roomID)
		if err != nil {
			return err
		}
		if room.Archived {
			return ErrRoomArchived
		}
		if !access.IsAuthorized(room, ownerID) {
			return ErrNotAuthorized
		}
		msg = models.Message{RoomID: room.ID, OwnerID: ownerID, Text: text, Posted: time.Now()}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		room.LastActive = msg.Posted
		if err := tx.Model(&models.Room{}).Where("id = ?", room.ID).Update("last_active", msg.Posted).Error; err != nil {
			return err
		}
		return tx.First(&owner, ownerID).Error
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	metrics.MessagesCreated.Inc()
	s.bus.Publish(events.Event{Topic: events.TopicMessageNew, Message: &msg, Room: room, User: &owner})
	return &msg, nil
}

// List 查询房间消息。房间不存在或请求者无权限时返回空结果而不是
// 错误，避免通过错误通道泄露房间的存在性。已归档房间对既有授权者
// 仍可读历史。
func (s *MessageService) List(ctx context.Context, roomID uint, req Requester, opts ListOptions) ([]MessageDTO, error) {
	opts.sanitize()

	var room models.Room
	err := s.db.WithContext(ctx).Preload("Participants").First(&room, roomID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return []MessageDTO{}, nil
		}
		return nil, err
	}
	if !access.CanRead(&room, access.JoinRequest{UserID: req.UserID, Password: req.Password}) {
		return []MessageDTO{}, nil
	}

	q := s.db.WithContext(ctx).Where("room_id = ?", roomID)
	if opts.SinceID > 0 {
		q = q.Where("id > ?", opts.SinceID)
	}
	if !opts.From.IsZero() {
		q = q.Where("posted > ?", opts.From)
	}
	if !opts.To.IsZero() {
		q = q.Where("posted <= ?", opts.To)
	}
	if opts.Query != "" {
		q = q.Where("text LIKE ?", "%"+opts.Query+"%")
	}

	var msgs []models.Message
	if err := q.Order(opts.order("posted")).Offset(opts.Skip).Limit(opts.Take).Find(&msgs).Error; err != nil {
		return nil, err
	}

	usernames, err := s.resolveUsernames(ctx, msgs)
	if err != nil {
		return nil, err
	}

	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageDTO{
			Type:     "message",
			ID:       m.ID,
			RoomID:   m.RoomID,
			OwnerID:  m.OwnerID,
			Username: usernames[m.OwnerID],
			Text:     m.Text,
			Posted:   m.Posted,
		})
	}
	return out, nil
}

// resolveUsernames 批量获取消息涉及的用户名。
func (s *MessageService) resolveUsernames(ctx context.Context, msgs []models.Message) (map[uint]string, error) {
	seen := make(map[uint]struct{}, len(msgs))
	userIDs := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.OwnerID]; ok {
			continue
		}
		seen[m.OwnerID] = struct{}{}
		userIDs = append(userIDs, m.OwnerID)
	}

	usernames := make(map[uint]string, len(userIDs))
	if len(userIDs) > 0 {
		var users []models.User
		if err := s.db.WithContext(ctx).Select("id", "username").Where("id IN ?", userIDs).Find(&users).Error; err != nil {
			return nil, err
		}
		for _, u := range users {
			usernames[u.ID] = u.Username
		}
	}
	return usernames, nil
}
