package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/masayosh4/lets-chat/internal/access"
	"github.com/masayosh4/lets-chat/internal/auth"
	"github.com/masayosh4/lets-chat/internal/events"
	"github.com/masayosh4/lets-chat/internal/models"
	"github.com/masayosh4/lets-chat/internal/presence"
)

// RoomService 封装房间相关的业务逻辑。房间行的全部写入都走这里的
// 加锁事务，保证 读取→判定→写入 对同一房间串行。
type RoomService struct {
	db                *gorm.DB
	bus               *events.Bus
	registry          *presence.Registry
	persistMembership bool
}

func NewRoomService(db *gorm.DB, bus *events.Bus, registry *presence.Registry, persistMembership bool) *RoomService {
	return &RoomService{db: db, bus: bus, registry: registry, persistMembership: persistMembership}
}

// lockRoom 在事务内以行锁读取房间及其参与者。后续对该房间的
// 判定与写入都基于这一次读取。
func lockRoom(tx *gorm.DB, roomID uint) (*models.Room, error) {
	var room models.Room
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&room, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	if err := tx.Where("room_id = ?", roomID).Find(&room.Participants).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

// wrapStoreErr 把非业务错误归一为事务中止。
func wrapStoreErr(err error) error {
	if err == nil || domainErr(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransactionAborted, err)
}

// RoomDTO 是对外输出的房间数据。
type RoomDTO struct {
	ID          uint      `json:"id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Private     bool      `json:"private"`
	HasPassword bool      `json:"has_password"`
	Archived    bool      `json:"archived"`
	OwnerID     uint      `json:"owner_id"`
	LastActive  time.Time `json:"last_active"`
	Users       []uint    `json:"users"`
}

func (s *RoomService) toDTO(room *models.Room, withUsers bool, requesterID uint) RoomDTO {
	dto := RoomDTO{
		ID:          room.ID,
		Slug:        room.Slug,
		Name:        room.Name,
		Description: room.Description,
		Private:     room.Private,
		HasPassword: room.HasPassword(),
		Archived:    room.Archived,
		OwnerID:     room.OwnerID,
		LastActive:  room.LastActive,
		Users:       []uint{},
	}
	// 在线用户只对已授权的请求者可见。
	if withUsers && access.IsAuthorized(room, requesterID) {
		dto.Users = s.registry.UsersOnlineForRoom(room)
	}
	return dto
}

// CreateRoomInput 是创建房间的入参。
type CreateRoomInput struct {
	OwnerID      uint
	Slug         string
	Name         string
	Description  string
	Private      bool
	Password     string
	Participants []uint
}

// Create 创建新房间。密码以 bcrypt 散列落库，私有房间可以带初始
// 参与者。成功提交后发布 rooms:new。
func (s *RoomService) Create(ctx context.Context, in CreateRoomInput) (*models.Room, error) {
	room := models.Room{
		Slug:        in.Slug,
		Name:        in.Name,
		Description: in.Description,
		Private:     in.Private,
		OwnerID:     in.OwnerID,
		LastActive:  time.Now(),
	}
	if in.Password != "" {
		hash, err := auth.HashPassword(in.Password)
		if err != nil {
			return nil, err
		}
		room.PasswordHash = hash
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Room{}).Where("slug = ?", in.Slug).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: slug taken", ErrValidationFailed)
		}
		if err := tx.Create(&room).Error; err != nil {
			return mapDuplicate(err, fmt.Errorf("%w: slug taken", ErrValidationFailed))
		}
		if room.Private {
			for _, uid := range in.Participants {
				p := models.RoomParticipant{RoomID: room.ID, UserID: uid}
				if err := tx.Create(&p).Error; err != nil {
					return err
				}
				room.Participants = append(room.Participants, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	s.bus.Publish(events.Event{Topic: events.TopicRoomNew, Room: &room})
	return &room, nil
}

// UpdateRoomInput 是修改房间的入参。Password 为 nil 表示不改密码，
// 指向空串表示清除密码。slug 永不可改。
type UpdateRoomInput struct {
	UserID       uint
	Name         string
	Description  string
	Password     *string
	Participants []uint
}

// Update 修改房间。只有房主可以修改；密码与参与者只对私有房间生效。
// 成功提交后发布 rooms:update。
func (s *RoomService) Update(ctx context.Context, roomID uint, in UpdateRoomInput) (*models.Room, error) {
	var updated *models.Room
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := lockRoom(tx, roomID)
		if err != nil {
			return err
		}
		if room.Archived {
			return ErrRoomArchived
		}
		if room.OwnerID != in.UserID {
			return ErrNotAuthorized
		}
		if in.Name != "" {
			room.Name = in.Name
		}
		room.Description = in.Description
		if room.Private {
			if in.Password != nil {
				if *in.Password == "" {
					room.PasswordHash = ""
				} else {
					hash, err := auth.HashPassword(*in.Password)
					if err != nil {
						return err
					}
					room.PasswordHash = hash
				}
			}
			if in.Participants != nil {
				if err := tx.Where("room_id = ?", room.ID).Delete(&models.RoomParticipant{}).Error; err != nil {
					return err
				}
				room.Participants = room.Participants[:0]
				for _, uid := range in.Participants {
					p := models.RoomParticipant{RoomID: room.ID, UserID: uid}
					if err := tx.Create(&p).Error; err != nil {
						return err
					}
					room.Participants = append(room.Participants, p)
				}
			}
		}
		if err := tx.Model(&models.Room{}).Where("id = ?", room.ID).Updates(map[string]interface{}{
			"name":          room.Name,
			"description":   room.Description,
			"password_hash": room.PasswordHash,
		}).Error; err != nil {
			return err
		}
		updated = room
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	s.bus.Publish(events.Event{Topic: events.TopicRoomUpdate, Room: updated})
	return updated, nil
}

// Archive 归档房间，软删除且不可逆。只有房主可以归档。
// 成功提交后发布 rooms:archive。
func (s *RoomService) Archive(ctx context.Context, roomID, userID uint) (*models.Room, error) {
	var archived *models.Room
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := lockRoom(tx, roomID)
		if err != nil {
			return err
		}
		if room.OwnerID != userID {
			return ErrNotAuthorized
		}
		if !room.Archived {
			room.Archived = true
			if err := tx.Model(&models.Room{}).Where("id = ?", room.ID).Update("archived", true).Error; err != nil {
				return err
			}
		}
		archived = room
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	s.bus.Publish(events.Event{Topic: events.TopicRoomArchive, Room: archived})
	return archived, nil
}

// Join 判定请求者能否进入房间。首次凭密码进入且开启了成员持久化时，
// 在判定所用的同一次加锁读里追加参与者，两个并发进入不会都自认首个。
func (s *RoomService) Join(ctx context.Context, roomID uint, req access.JoinRequest) (*models.Room, access.JoinResult, error) {
	var room *models.Room
	var res access.JoinResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		room, err = lockRoom(tx, roomID)
		if err != nil {
			return err
		}
		res = access.CanJoin(room, req)
		if res.NewMember && s.persistMembership {
			p := models.RoomParticipant{RoomID: room.ID, UserID: req.UserID}
			if err := tx.Create(&p).Error; err != nil {
				return err
			}
			room.Participants = append(room.Participants, p)
		}
		return nil
	})
	if err != nil {
		return nil, access.JoinResult{}, wrapStoreErr(err)
	}
	return room, res, nil
}

// RoomListOptions 是房间列表的入参。Reverse 为 true 时按最近活跃
// 时间倒序（默认），false 时正序。
type RoomListOptions struct {
	Skip      int
	Take      int
	Reverse   bool
	WithUsers bool
}

// List 返回请求者可见的未归档房间：公开的、自己拥有的、参与的、
// 以及设了密码可凭密码进入的。
func (s *RoomService) List(ctx context.Context, userID uint, opts RoomListOptions) ([]RoomDTO, error) {
	lo := ListOptions{Skip: opts.Skip, Take: opts.Take, Reverse: opts.Reverse}
	lo.sanitize()

	sub := s.db.Model(&models.RoomParticipant{}).Select("room_id").Where("user_id = ?", userID)
	var rooms []models.Room
	err := s.db.WithContext(ctx).
		Preload("Participants").
		Where("archived = ?", false).
		Where("private = ? OR owner_id = ? OR password_hash <> ? OR id IN (?)", false, userID, "", sub).
		Order(lo.order("last_active")).
		Offset(lo.Skip).Limit(lo.Take).
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	out := make([]RoomDTO, 0, len(rooms))
	for i := range rooms {
		out = append(out, s.toDTO(&rooms[i], opts.WithUsers, userID))
	}
	return out, nil
}

// Get 按 ID 返回未归档的房间。
func (s *RoomService) Get(ctx context.Context, roomID uint) (*models.Room, error) {
	var room models.Room
	err := s.db.WithContext(ctx).Preload("Participants").
		Where("archived = ?", false).First(&room, roomID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// BySlug 按 slug 返回未归档的房间。
func (s *RoomService) BySlug(ctx context.Context, slug string) (*models.Room, error) {
	var room models.Room
	err := s.db.WithContext(ctx).Preload("Participants").
		Where("archived = ? AND slug = ?", false, slug).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// UsersOnline 返回房间当前在线且有权限的用户。
func (s *RoomService) UsersOnline(room *models.Room) []uint {
	return s.registry.UsersOnlineForRoom(room)
}
