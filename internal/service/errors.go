package service

import (
	"errors"

	"gorm.io/gorm"
)

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码。
// 列表类接口对"未授权/不存在"统一降级为空结果，不走这里的错误。
var (
	ErrRoomNotFound          = errors.New("room not found")
	ErrRoomArchived          = errors.New("room is archived")
	ErrNotAuthorized         = errors.New("not authorized")
	ErrValidationFailed      = errors.New("validation failed")
	ErrDuplicateUsername     = errors.New("username taken")
	ErrActiveSessionConflict = errors.New("active session conflict")
	ErrStorageFailure        = errors.New("storage failure")
	ErrTransactionAborted    = errors.New("transaction aborted")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrUserNotFound          = errors.New("user not found")
)

// mapDuplicate 把唯一索引冲突翻译成给定的业务错误。计数预检只是
// 快路径，并发写入最终靠唯一索引裁决，败者也要得到业务错误而不是 500。
func mapDuplicate(err, domain error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain
	}
	return err
}

// domainErr 判断是否是上面的业务错误，其余视为底层存储故障。
func domainErr(err error) bool {
	for _, e := range []error{
		ErrRoomNotFound, ErrRoomArchived, ErrNotAuthorized, ErrValidationFailed,
		ErrDuplicateUsername, ErrActiveSessionConflict, ErrStorageFailure,
		ErrInvalidCredentials, ErrUserNotFound,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
