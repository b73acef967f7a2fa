package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/masayosh4/lets-chat/internal/auth"
	"github.com/masayosh4/lets-chat/internal/events"
	"github.com/masayosh4/lets-chat/internal/models"
	"github.com/masayosh4/lets-chat/internal/presence"
)

// AccountService 封装用户资料修改与 API token 的签发/校验。
// 改用户名前要过在线注册表：存在活跃的 XMPP 连接时拒绝。
type AccountService struct {
	db       *gorm.DB
	bus      *events.Bus
	registry *presence.Registry
}

func NewAccountService(db *gorm.DB, bus *events.Bus, registry *presence.Registry) *AccountService {
	return &AccountService{db: db, bus: bus, registry: registry}
}

// UpdateAccountInput 是修改账户的入参，零值字段不修改。
type UpdateAccountInput struct {
	FirstName   string
	LastName    string
	DisplayName string
	Email       string
	Username    string
	Password    string
}

// Update 修改账户资料。用户名变更在持有 XMPP 连接期间被拒绝，
// 触碰唯一约束映射为 ErrDuplicateUsername。成功后发布 account:update。
func (s *AccountService) Update(ctx context.Context, userID uint, in UpdateAccountInput) (*models.User, error) {
	var user models.User
	usernameChanged := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if in.FirstName != "" {
			user.FirstName = in.FirstName
		}
		if in.LastName != "" {
			user.LastName = in.LastName
		}
		if in.DisplayName != "" {
			user.DisplayName = in.DisplayName
		}
		if in.Email != "" {
			user.Email = in.Email
		}
		if in.Username != "" && in.Username != user.Username {
			if len(s.registry.Query(presence.Filter{UserID: userID, Transport: "xmpp"})) > 0 {
				return ErrActiveSessionConflict
			}
			var count int64
			if err := tx.Model(&models.User{}).Where("username = ? AND id <> ?", in.Username, userID).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrDuplicateUsername
			}
			user.Username = in.Username
			usernameChanged = true
		}
		if user.Local() && in.Password != "" {
			hash, err := auth.HashPassword(in.Password)
			if err != nil {
				return err
			}
			user.PasswordHash = hash
		}
		return mapDuplicate(tx.Save(&user).Error, ErrDuplicateUsername)
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	s.bus.Publish(events.Event{Topic: events.TopicAccountUpdate, User: &user, UsernameChanged: usernameChanged})
	return &user, nil
}

// GenerateToken 签发不透明 API token。secret 只以 bcrypt 散列落库，
// 明文仅此一次返回，之后无法找回。
func (s *AccountService) GenerateToken(ctx context.Context, userID uint) (string, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	secret, err := auth.NewTokenSecret()
	if err != nil {
		return "", err
	}
	hash, err := auth.HashPassword(secret)
	if err != nil {
		return "", err
	}
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("token_hash", hash).Error; err != nil {
		return "", wrapStoreErr(err)
	}
	return auth.EncodeToken(userID, secret), nil
}

// RevokeToken 吊销已签发的 API token。
func (s *AccountService) RevokeToken(ctx context.Context, userID uint) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("token_hash", "")
	if res.Error != nil {
		return wrapStoreErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// VerifyToken 校验不透明 token：解码、按第一个分隔符切分、查用户、
// 常量时间比较 secret。任何畸形输入都返回 ErrNotAuthorized。
func (s *AccountService) VerifyToken(ctx context.Context, token string) (*models.User, error) {
	userID, secret, err := auth.DecodeToken(token)
	if err != nil {
		return nil, ErrNotAuthorized
	}
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, ErrNotAuthorized
	}
	if !auth.VerifyTokenSecret(user.TokenHash, secret) {
		return nil, ErrNotAuthorized
	}
	return &user, nil
}
