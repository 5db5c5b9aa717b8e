// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// productionLock 剧集级别锁，带最后使用时间用于过期回收
type productionLock struct {
	mu       sync.RWMutex
	lastUsed time.Time
}

// LockManager 管理每部剧集的读写锁
type LockManager struct {
	locks sync.Map // productionID -> *productionLock
}

// NewLockManager 创建锁管理器并启动过期清理
func NewLockManager() *LockManager {
	lm := &LockManager{}
	go lm.cleanupLoop()
	return lm
}

func (lm *LockManager) getLock(productionID string) *productionLock {
	value, _ := lm.locks.LoadOrStore(productionID, &productionLock{lastUsed: time.Now()})
	lock := value.(*productionLock)
	lock.lastUsed = time.Now()
	return lock
}

// ExecuteWithLock 在剧集写锁保护下执行操作
func (lm *LockManager) ExecuteWithLock(productionID string, fn func() error) error {
	lock := lm.getLock(productionID)
	lock.mu.Lock()
	defer lock.mu.Unlock()
	return fn()
}

// ExecuteWithReadLock 在剧集读锁保护下执行操作
func (lm *LockManager) ExecuteWithReadLock(productionID string, fn func() error) error {
	lock := lm.getLock(productionID)
	lock.mu.RLock()
	defer lock.mu.RUnlock()
	return fn()
}

// 定期清理长时间未使用的锁
func (lm *LockManager) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-30 * time.Minute)
		lm.locks.Range(func(key, value interface{}) bool {
			lock := value.(*productionLock)
			if lock.lastUsed.Before(cutoff) && lock.mu.TryLock() {
				lm.locks.Delete(key)
				lock.mu.Unlock()
			}
			return true
		})
	}
}
