package app

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultSessionTTL 是会话的默认闲置存活时间。
const DefaultSessionTTL = 30 * time.Minute

// SessionStore 保存会话。
type SessionStore interface {
	// Get 返回给定标识的会话，不存在或已过期时返回 nil。
	Get(id string) *Session
	// Create 新建一个会话。
	Create() *Session
	// Len 返回存活的会话数。
	Len() int
}

// Session 是一个会话的键值数据，可并发访问。
type Session struct {
	id string

	mu         sync.RWMutex
	values     map[string]any
	lastAccess time.Time
}

// ID 返回会话标识。
func (s *Session) ID() string { return s.id }

// Get 返回给定键的值。
func (s *Session) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set 设置给定键的值。
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	if s.values == nil {
		s.values = make(map[string]any)
	}
	s.values[key] = value
	s.mu.Unlock()
}

// Delete 删除给定键。
func (s *Session) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastAccess = now
	s.mu.Unlock()
}

func (s *Session) expired(now time.Time, ttl time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.lastAccess) > ttl
}

// MemorySessionStore 是进程内的会话存储，过期会话在访问时惰性清理。
type MemorySessionStore struct {
	ttl time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	lastScan time.Time
}

// NewMemorySessionStore 创建闲置存活时间为 ttl 的内存会话存储，ttl<=0 时使用 DefaultSessionTTL。
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &MemorySessionStore{ttl: ttl, sessions: make(map[string]*Session)}
}

func (m *MemorySessionStore) Get(id string) *Session {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(now)
	s := m.sessions[id]
	if s == nil {
		return nil
	}
	if s.expired(now, m.ttl) {
		delete(m.sessions, id)
		return nil
	}
	s.touch(now)
	return s
}

func (m *MemorySessionStore) Create() *Session {
	now := time.Now()
	s := &Session{id: newSessionID(), lastAccess: now}
	m.mu.Lock()
	m.purgeLocked(now)
	m.sessions[s.id] = s
	m.mu.Unlock()
	return s
}

func (m *MemorySessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// purgeLocked 每隔 ttl 扫描一次过期会话。
func (m *MemorySessionStore) purgeLocked(now time.Time) {
	if now.Sub(m.lastScan) < m.ttl {
		return
	}
	m.lastScan = now
	for id, s := range m.sessions {
		if s.expired(now, m.ttl) {
			delete(m.sessions, id)
		}
	}
}

func newSessionID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("生成会话标识失败: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}
