package presence

import (
	"sync"
	"time"

	"github.com/masayosh4/lets-chat/internal/access"
	"github.com/masayosh4/lets-chat/internal/metrics"
	"github.com/masayosh4/lets-chat/internal/models"
)

// Sender 是传输层提供的非拥有回引用，仅用于向连接推送数据。
// 连接本身的生命周期完全由 Registry 管理。
type Sender interface {
	// Send 尝试推送一条数据，连接缓冲已满时返回 false。
	Send(data []byte) bool
}

// Connection 是一条已认证的在线连接。同一用户可同时持有多条
// 连接（多设备、多种传输）。
type Connection struct {
	ID          string
	UserID      uint
	Username    string
	Transport   string
	Established time.Time
	Sender      Sender
}

// Filter 是 Query 的筛选条件，零值字段表示不过滤。
type Filter struct {
	UserID    uint
	Transport string
}

// Registry 是进程内的在线连接索引，按连接 ID、用户 ID、传输类型
// 三个维度建索引。所有索引在同一临界区内更新，相互之间不会出现
// 可观测的不一致。
type Registry struct {
	mu          sync.RWMutex
	byID        map[string]*Connection
	byUser      map[uint]map[string]*Connection
	byTransport map[string]map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{
		byID:        make(map[string]*Connection),
		byUser:      make(map[uint]map[string]*Connection),
		byTransport: make(map[string]map[string]*Connection),
	}
}

// Register 登记一条连接。重复 ID 视为替换而不是重复计数。
// 本方法只改变索引状态，不做任何广播。
func (r *Registry) Register(conn *Connection) {
	if conn == nil || conn.ID == "" {
		return
	}
	if conn.Established.IsZero() {
		conn.Established = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byID[conn.ID]; ok {
		r.removeLocked(old)
	}
	r.byID[conn.ID] = conn
	if r.byUser[conn.UserID] == nil {
		r.byUser[conn.UserID] = make(map[string]*Connection)
	}
	r.byUser[conn.UserID][conn.ID] = conn
	if r.byTransport[conn.Transport] == nil {
		r.byTransport[conn.Transport] = make(map[string]*Connection)
	}
	r.byTransport[conn.Transport][conn.ID] = conn
	metrics.PresenceConnections.Set(float64(len(r.byID)))
}

// Unregister 注销一条连接，不存在时静默返回（覆盖重复断开的竞态）。
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byID[connID]
	if !ok {
		return
	}
	r.removeLocked(conn)
	metrics.PresenceConnections.Set(float64(len(r.byID)))
}

func (r *Registry) removeLocked(conn *Connection) {
	delete(r.byID, conn.ID)
	if m := r.byUser[conn.UserID]; m != nil {
		delete(m, conn.ID)
		if len(m) == 0 {
			delete(r.byUser, conn.UserID)
		}
	}
	if m := r.byTransport[conn.Transport]; m != nil {
		delete(m, conn.ID)
		if len(m) == 0 {
			delete(r.byTransport, conn.Transport)
		}
	}
}

// Query 返回满足条件的连接快照。
func (r *Registry) Query(f Filter) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var candidates map[string]*Connection
	switch {
	case f.UserID != 0:
		candidates = r.byUser[f.UserID]
	case f.Transport != "":
		candidates = r.byTransport[f.Transport]
	default:
		candidates = r.byID
	}
	out := make([]*Connection, 0, len(candidates))
	for _, c := range candidates {
		if f.UserID != 0 && c.UserID != f.UserID {
			continue
		}
		if f.Transport != "" && c.Transport != f.Transport {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Get 按连接 ID 查找。
func (r *Registry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[connID]
	return c, ok
}

// Len 返回当前登记的连接总数。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// UsersOnlineForRoom 返回当前在线且对该房间有权限的用户集合。
// 每次调用即时重算，不做缓存：成员关系和在线状态各自独立变化。
func (r *Registry) UsersOnlineForRoom(room *models.Room) []uint {
	r.mu.RLock()
	userIDs := make([]uint, 0, len(r.byUser))
	for uid := range r.byUser {
		userIDs = append(userIDs, uid)
	}
	r.mu.RUnlock()

	out := make([]uint, 0, len(userIDs))
	for _, uid := range userIDs {
		if access.IsAuthorized(room, uid) {
			out = append(out, uid)
		}
	}
	return out
}
