package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// StateStore state token 会话存储
// 每次登录尝试生成一个随机 token 映射到 flow id，
// 外部回调到达时恰好消费一次（取出即删除）
type StateStore interface {
	Put(token, flowID string)
	Take(token string) (string, bool)
}

// stateEntry 会话条目
type stateEntry struct {
	flowID    string
	expiresAt time.Time
}

// MemoryStateStore 带 TTL 的内存会话存储
// 未被消费的条目按 TTL 过期，避免废弃登录尝试累积泄漏
type MemoryStateStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]stateEntry

	now func() time.Time
}

// NewMemoryStateStore 创建内存会话存储
func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	return &MemoryStateStore{
		ttl:     ttl,
		entries: make(map[string]stateEntry),
		now:     time.Now,
	}
}

// Put 记录 token 到 flow id 的映射
func (s *MemoryStateStore) Put(token, flowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked()
	s.entries[token] = stateEntry{
		flowID:    flowID,
		expiresAt: s.now().Add(s.ttl),
	}
}

// Take 消费 token：取出并删除，未知或已过期的 token 返回 false
func (s *MemoryStateStore) Take(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[token]
	if !ok {
		return "", false
	}
	delete(s.entries, token)

	if s.now().After(entry.expiresAt) {
		return "", false
	}
	return entry.flowID, true
}

// Run 周期清理过期条目，ctx 取消时退出
func (s *MemoryStateStore) Run(ctx context.Context) {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.evictExpiredLocked()
			s.mu.Unlock()
		}
	}
}

// evictExpiredLocked 清理过期条目（调用方持锁）
func (s *MemoryStateStore) evictExpiredLocked() {
	now := s.now()
	for token, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, token)
		}
	}
}

// NewStateToken 生成不可猜测的随机 state token
func NewStateToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand 失败说明运行环境已不可用
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
