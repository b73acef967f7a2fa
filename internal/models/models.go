package models

import (
	"net/url"
	"strconv"
	"time"
)

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	DisplayName  string `gorm:"size:128"`
	FirstName    string `gorm:"size:64"`
	LastName     string `gorm:"size:64"`
	Email        string `gorm:"size:128"`
	Provider     string `gorm:"size:32;not null;default:local"`
	PasswordHash string
	TokenHash    string
	Status       string `gorm:"size:32"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Local 表示该用户走本地密码认证，而不是外部 provider。
func (u *User) Local() bool { return u.Provider == "local" }

type Room struct {
	ID           uint   `gorm:"primaryKey"`
	Slug         string `gorm:"uniqueIndex;size:64;not null"`
	Name         string `gorm:"size:128;not null"`
	Description  string `gorm:"type:text"`
	Private      bool   `gorm:"not null;default:false"`
	PasswordHash string `gorm:"not null;default:''"`
	Archived     bool   `gorm:"not null;default:false"`
	OwnerID      uint   `gorm:"index;not null"`
	LastActive   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Participants []RoomParticipant `gorm:"foreignKey:RoomID"`
}

// HasPassword 判断房间是否设置了进入密码。
func (r *Room) HasPassword() bool { return r.PasswordHash != "" }

// ParticipantIDs 返回参与者用户 ID 列表。
func (r *Room) ParticipantIDs() []uint {
	ids := make([]uint, 0, len(r.Participants))
	for _, p := range r.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// RoomParticipant 是私有房间的成员关系行。
type RoomParticipant struct {
	ID        uint `gorm:"primaryKey"`
	RoomID    uint `gorm:"uniqueIndex:idx_room_user;not null"`
	UserID    uint `gorm:"uniqueIndex:idx_room_user;index;not null"`
	CreatedAt time.Time
}

type Message struct {
	ID      uint      `gorm:"primaryKey"`
	RoomID  uint      `gorm:"index:idx_msg_room;not null"`
	OwnerID uint      `gorm:"index;not null"`
	Text    string    `gorm:"type:text;not null"`
	Posted  time.Time `gorm:"index;not null"`
}

type File struct {
	ID       uint      `gorm:"primaryKey"`
	RoomID   uint      `gorm:"index:idx_file_room;not null"`
	OwnerID  uint      `gorm:"index;not null"`
	Name     string    `gorm:"size:256;not null"`
	Type     string    `gorm:"size:128;not null"`
	Size     int64     `gorm:"not null;default:0"`
	Uploaded time.Time `gorm:"index;not null"`
}

// URL 返回文件的相对访问路径。
func (f *File) URL() string {
	return "files/" + strconv.FormatUint(uint64(f.ID), 10) + "/" + url.PathEscape(f.Name)
}

// UserMessage 是两个用户之间的私聊消息。
type UserMessage struct {
	ID         uint      `gorm:"primaryKey"`
	OwnerID    uint      `gorm:"index:idx_um_owner;not null"`
	ReceiverID uint      `gorm:"index:idx_um_receiver;not null"`
	Text       string    `gorm:"type:text;not null"`
	Posted     time.Time `gorm:"index;not null"`
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
