package events

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/masayosh4/lets-chat/internal/metrics"
	"github.com/masayosh4/lets-chat/internal/models"
)

// 领域事件主题。只有已提交的写入才允许发布。
const (
	TopicRoomNew        = "rooms:new"
	TopicRoomUpdate     = "rooms:update"
	TopicRoomArchive    = "rooms:archive"
	TopicMessageNew     = "messages:new"
	TopicFileNew        = "files:new"
	TopicUserMessageNew = "user-messages:new"
	TopicAccountUpdate  = "account:update"
)

// Event 携带受影响实体的完整快照，消费方不需要回查数据库。
type Event struct {
	Topic           string
	Room            *models.Room
	User            *models.User
	Message         *models.Message
	File            *models.File
	UserMessage     *models.UserMessage
	Receiver        *models.User
	UsernameChanged bool
}

// Subscription 是一个订阅者的接收端。C 上的事件按发布顺序到达；
// 缓冲写满时事件被丢弃而不是阻塞发布方。
type Subscription struct {
	C      chan Event
	topics map[string]struct{}
	bus    *Bus
	once   sync.Once
}

// Close 取消订阅并关闭接收通道。
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.C)
	})
}

// Bus 是进程内领域事件总线。
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe 注册一个订阅，topics 为空表示订阅全部主题。
func (b *Bus) Subscribe(buffer int, topics ...string) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &Subscription{C: make(chan Event, buffer), bus: b}
	if len(topics) > 0 {
		sub.topics = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			sub.topics[t] = struct{}{}
		}
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish 将事件投递给所有匹配的订阅者。慢订阅者丢事件，
// 发布方永不阻塞。
func (b *Bus) Publish(evt Event) {
	metrics.EventsPublished.WithLabelValues(evt.Topic).Inc()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if sub.topics != nil {
			if _, ok := sub.topics[evt.Topic]; !ok {
				continue
			}
		}
		select {
		case sub.C <- evt:
		default:
			metrics.EventsDropped.WithLabelValues(evt.Topic).Inc()
			log.Warn().Str("topic", evt.Topic).Msg("event dropped on slow subscriber")
		}
	}
}
