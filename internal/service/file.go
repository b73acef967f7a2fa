package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/masayosh4/lets-chat/internal/access"
	"github.com/masayosh4/lets-chat/internal/config"
	"github.com/masayosh4/lets-chat/internal/events"
	"github.com/masayosh4/lets-chat/internal/metrics"
	"github.com/masayosh4/lets-chat/internal/models"
	"github.com/masayosh4/lets-chat/internal/storage"
)

// FileService 封装文件附件的创建与查询。文件内容写入外部存储，
// 元数据与消息共用同一套加锁事务契约。
type FileService struct {
	db       *gorm.DB
	bus      *events.Bus
	provider storage.Provider
	cfg      config.FilesConfig
	messages *MessageService
}

func NewFileService(db *gorm.DB, bus *events.Bus, provider storage.Provider, cfg config.FilesConfig, messages *MessageService) *FileService {
	return &FileService{db: db, bus: bus, provider: provider, cfg: cfg, messages: messages}
}

// CreateFileInput 是上传文件的入参。Post 为 true 时另外发一条
// upload:// 消息到房间。
type CreateFileInput struct {
	RoomID  uint
	OwnerID uint
	Name    string
	Type    string
	Size    int64
	Content io.Reader
	Post    bool
}

func (s *FileService) typeAllowed(mime string) bool {
	if !s.cfg.RestrictTypes || len(s.cfg.AllowedTypes) == 0 {
		return true
	}
	for _, t := range s.cfg.AllowedTypes {
		if t == mime {
			return true
		}
	}
	return false
}

// Create 先在加锁事务里提交元数据行，提交成功后再写入文件内容。
// 内容写入失败时补偿删除元数据行并返回存储错误，调用方不会看到
// 没有字节的文件记录。
func (s *FileService) Create(ctx context.Context, in CreateFileInput) (*models.File, error) {
	if !s.cfg.Enabled {
		return nil, fmt.Errorf("%w: files are disabled", ErrValidationFailed)
	}
	if !s.typeAllowed(in.Type) {
		return nil, fmt.Errorf("%w: the MIME type %s is not allowed", ErrValidationFailed, in.Type)
	}

	var file models.File
	var room *models.Room
	var owner models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		room, err = lockRoom(tx, in.RoomID)
		if err != nil {
			return err
		}
		if room.Archived {
			return ErrRoomArchived
		}
		if !access.IsAuthorized(room, in.OwnerID) {
			return ErrNotAuthorized
		}
		file = models.File{
			RoomID:   room.ID,
			OwnerID:  in.OwnerID,
			Name:     in.Name,
			Type:     in.Type,
			Size:     in.Size,
			Uploaded: time.Now(),
		}
		if err := tx.Create(&file).Error; err != nil {
			return err
		}
		room.LastActive = file.Uploaded
		if err := tx.Model(&models.Room{}).Where("id = ?", room.ID).Update("last_active", file.Uploaded).Error; err != nil {
			return err
		}
		return tx.First(&owner, in.OwnerID).Error
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	// 外部存储写入在元数据提交之后，失败则补偿删除。补偿不跟随请求
	// 取消：写入正是因为请求断开而失败时，孤儿元数据行也必须清掉。
	if err := s.provider.Save(ctx, &file, in.Content); err != nil {
		if derr := s.db.WithContext(context.WithoutCancel(ctx)).Delete(&models.File{}, file.ID).Error; derr != nil {
			log.Error().Err(derr).Uint("file_id", file.ID).Msg("compensating delete failed")
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	metrics.FilesCreated.Inc()
	s.bus.Publish(events.Event{Topic: events.TopicFileNew, File: &file, Room: room, User: &owner})

	if in.Post {
		if _, err := s.messages.Create(ctx, room.ID, owner.ID, "upload://"+file.URL()); err != nil {
			log.Warn().Err(err).Uint("file_id", file.ID).Msg("post upload message")
		}
	}
	return &file, nil
}

// FileDTO 是对外输出的文件数据。
type FileDTO struct {
	ID       uint      `json:"id"`
	RoomID   uint      `json:"room_id"`
	OwnerID  uint      `json:"owner_id"`
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Size     int64     `json:"size"`
	URL      string    `json:"url"`
	Uploaded time.Time `json:"uploaded"`
}

// List 查询房间文件，空结果策略与消息列表一致。
func (s *FileService) List(ctx context.Context, roomID uint, req Requester, opts ListOptions) ([]FileDTO, error) {
	if !s.cfg.Enabled {
		return []FileDTO{}, nil
	}
	opts.sanitize()

	var room models.Room
	err := s.db.WithContext(ctx).Preload("Participants").First(&room, roomID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return []FileDTO{}, nil
		}
		return nil, err
	}
	if !access.CanRead(&room, access.JoinRequest{UserID: req.UserID, Password: req.Password}) {
		return []FileDTO{}, nil
	}

	q := s.db.WithContext(ctx).Where("room_id = ?", roomID)
	if opts.SinceID > 0 {
		q = q.Where("id > ?", opts.SinceID)
	}
	if !opts.From.IsZero() {
		q = q.Where("uploaded > ?", opts.From)
	}
	if !opts.To.IsZero() {
		q = q.Where("uploaded <= ?", opts.To)
	}

	var files []models.File
	if err := q.Order(opts.order("uploaded")).Offset(opts.Skip).Limit(opts.Take).Find(&files).Error; err != nil {
		return nil, err
	}
	out := make([]FileDTO, 0, len(files))
	for i := range files {
		f := &files[i]
		out = append(out, FileDTO{
			ID:       f.ID,
			RoomID:   f.RoomID,
			OwnerID:  f.OwnerID,
			Name:     f.Name,
			Type:     f.Type,
			Size:     f.Size,
			URL:      s.provider.GetURL(f),
			Uploaded: f.Uploaded,
		})
	}
	return out, nil
}

// GetURL 返回文件的访问路径。
func (s *FileService) GetURL(file *models.File) string {
	if !s.cfg.Enabled {
		return ""
	}
	return s.provider.GetURL(file)
}
