package access

import (
	"github.com/masayosh4/lets-chat/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// 本包只做纯粹的授权判定，不触碰任何 I/O。
// 调用方负责读出房间快照（含参与者），并在需要时持久化判定结果。

// IsAuthorized 判断用户对房间是否有读写权限：
// 房主、公开房间（非私有且无密码）、或显式参与者。
// userID 为 0 表示匿名，仅在公开房间下放行。
func IsAuthorized(room *models.Room, userID uint) bool {
	if room == nil {
		return false
	}
	if !room.Private && !room.HasPassword() {
		return true
	}
	if userID == 0 {
		return false
	}
	if userID == room.OwnerID {
		return true
	}
	for _, p := range room.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// JoinRequest 是一次进入房间的请求。
type JoinRequest struct {
	UserID   uint
	Password string
}

// JoinResult 是进入判定的结果。NewMember 为 true 表示是首次凭密码
// 进入，调用方应在同一次加锁读里持久化成员关系。
type JoinResult struct {
	Authorized bool
	NewMember  bool
}

// CanJoin 判定请求者能否进入房间。归档房间一律拒绝新进入；
// 已授权者直接放行；设置了密码的房间用 bcrypt 常量时间比较校验。
func CanJoin(room *models.Room, req JoinRequest) JoinResult {
	if room == nil || room.Archived {
		return JoinResult{}
	}
	if IsAuthorized(room, req.UserID) {
		return JoinResult{Authorized: true}
	}
	if !room.HasPassword() {
		return JoinResult{}
	}
	if bcrypt.CompareHashAndPassword([]byte(room.PasswordHash), []byte(req.Password)) != nil {
		return JoinResult{}
	}
	return JoinResult{Authorized: true, NewMember: req.UserID != 0}
}

// CanRead 判定请求者能否读取房间历史。已归档房间对既有授权者仍然
// 可读，但不再接受凭密码的新读取。
func CanRead(room *models.Room, req JoinRequest) bool {
	if room == nil {
		return false
	}
	if IsAuthorized(room, req.UserID) {
		return true
	}
	return CanJoin(room, req).Authorized
}
