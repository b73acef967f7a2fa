package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/masayosh4/lets-chat/internal/events"
	"github.com/masayosh4/lets-chat/internal/models"
)

// UserMessageService 封装用户之间的私聊消息。
type UserMessageService struct {
	db  *gorm.DB
	bus *events.Bus
}

func NewUserMessageService(db *gorm.DB, bus *events.Bus) *UserMessageService {
	return &UserMessageService{db: db, bus: bus}
}

// otrPrefix 标记端到端加密的私聊消息，只转发不落库。
const otrPrefix = "?OTR"

// Create 创建一条私聊消息并发布 user-messages:new。OTR 消息
// 不持久化，直接携带快照发布。
func (s *UserMessageService) Create(ctx context.Context, ownerID, receiverID uint, text string) (*models.UserMessage, error) {
	if text == "" {
		return nil, ErrValidationFailed
	}
	var owner, receiver models.User
	if err := s.db.WithContext(ctx).First(&receiver, receiverID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if err := s.db.WithContext(ctx).First(&owner, ownerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	msg := models.UserMessage{OwnerID: ownerID, ReceiverID: receiverID, Text: text, Posted: time.Now()}
	if !strings.HasPrefix(text, otrPrefix) {
		if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
			return nil, wrapStoreErr(err)
		}
	}
	s.bus.Publish(events.Event{Topic: events.TopicUserMessageNew, UserMessage: &msg, User: &owner, Receiver: &receiver})
	return &msg, nil
}

// UserMessageDTO 是对外输出的私聊消息。
type UserMessageDTO struct {
	ID         uint      `json:"id"`
	OwnerID    uint      `json:"owner_id"`
	ReceiverID uint      `json:"receiver_id"`
	Text       string    `json:"text"`
	Posted     time.Time `json:"posted"`
}

// List 返回两个用户之间的对话，走通用的筛选与分页契约。
// 只有对话双方可以查询，其他请求者得到空结果。
func (s *UserMessageService) List(ctx context.Context, requesterID, otherID uint, opts ListOptions) ([]UserMessageDTO, error) {
	if requesterID == 0 {
		return []UserMessageDTO{}, nil
	}
	opts.sanitize()

	q := s.db.WithContext(ctx).Where(
		"(owner_id = ? AND receiver_id = ?) OR (owner_id = ? AND receiver_id = ?)",
		requesterID, otherID, otherID, requesterID,
	)
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

	var msgs []models.UserMessage
	if err := q.Order(opts.order("posted")).Offset(opts.Skip).Limit(opts.Take).Find(&msgs).Error; err != nil {
		return nil, err
	}
	out := make([]UserMessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, UserMessageDTO{ID: m.ID, OwnerID: m.OwnerID, ReceiverID: m.ReceiverID, Text: m.Text, Posted: m.Posted})
	}
	return out, nil
}
