package service

import "time"

const (
	defaultTake = 500
	maxTake     = 5000
)

// ListOptions 是消息/文件/私聊列表共用的筛选与分页参数。
type ListOptions struct {
	SinceID uint
	From    time.Time
	To      time.Time
	Query   string
	Skip    int
	Take    int
	Reverse bool
}

// NewListOptions 返回默认参数：取 500 条，按时间倒序。
func NewListOptions() ListOptions {
	return ListOptions{Take: defaultTake, Reverse: true}
}

// sanitize 收敛分页参数到允许范围。
func (o *ListOptions) sanitize() {
	if o.Take <= 0 {
		o.Take = defaultTake
	}
	if o.Take > maxTake {
		o.Take = maxTake
	}
	if o.Skip < 0 {
		o.Skip = 0
	}
}

// order 返回排序方向对应的 SQL 片段，column 是时间列名。
// 以 id 做同刻次序的决胜列，保证插入序稳定。
func (o *ListOptions) order(column string) string {
	if o.Reverse {
		return column + " desc, id desc"
	}
	return column + " asc, id asc"
}

// Requester 是列表类接口的请求者身份。UserID 为 0 表示匿名；
// Password 用于密码房间的读路径。
type Requester struct {
	UserID   uint
	Password string
}
