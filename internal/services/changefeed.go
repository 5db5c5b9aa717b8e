// internal/services/changefeed.go
package services

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Corphon/ContinuityTrackerMCP/internal/models"
)

// ChangeFeed 变更订阅服务
// 每次写操作完成后发布一条ChangeDescriptor，订阅方（如WebSocket Hub）据此推送更新
type ChangeFeed struct {
	subscribers map[string]chan models.ChangeDescriptor
	mu          sync.RWMutex
	logger      zerolog.Logger
}

// NewChangeFeed 创建变更订阅服务
func NewChangeFeed(logger zerolog.Logger) *ChangeFeed {
	return &ChangeFeed{
		subscribers: make(map[string]chan models.ChangeDescriptor),
		logger:      logger.With().Str("component", "change_feed").Logger(),
	}
}

// Subscribe 订阅变更流，返回订阅ID和只读通道
func (cf *ChangeFeed) Subscribe(id string) <-chan models.ChangeDescriptor {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	if existing, ok := cf.subscribers[id]; ok {
		close(existing)
	}

	ch := make(chan models.ChangeDescriptor, 32)
	cf.subscribers[id] = ch
	return ch
}

// Unsubscribe 取消订阅并关闭通道
func (cf *ChangeFeed) Unsubscribe(id string) {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	if ch, ok := cf.subscribers[id]; ok {
		close(ch)
		delete(cf.subscribers, id)
	}
}

// Publish 向所有订阅者发布变更描述
// 通道已满的订阅者直接跳过，发布方永不阻塞
func (cf *ChangeFeed) Publish(change models.ChangeDescriptor) {
	if change.Timestamp.IsZero() {
		change.Timestamp = time.Now()
	}

	cf.mu.RLock()
	defer cf.mu.RUnlock()

	for id, ch := range cf.subscribers {
		select {
		case ch <- change:
		default:
			cf.logger.Warn().
				Str("subscriber", id).
				Str("kind", string(change.Kind)).
				Msg("订阅者通道已满，丢弃变更通知")
		}
	}
}

// SubscriberCount 当前订阅者数量
func (cf *ChangeFeed) SubscriberCount() int {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	return len(cf.subscribers)
}
