package playback

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultTokenTTL = 30 * time.Second

type tokenEntry struct {
	path    string
	expires time.Time
}

// TokenStore 保存 overlay 读取音频文件所需的一次性资源令牌。
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]tokenEntry
	now    func() time.Time
}

// NewTokenStore 创建令牌存储。
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]tokenEntry), now: time.Now}
}

// Issue 为 path 签发有效期为 ttl 的令牌。ttl ≤ 0 时使用 30 秒。
func (s *TokenStore) Issue(path string, ttl time.Duration) string {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	token := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.tokens[token] = tokenEntry{path: path, expires: s.now().Add(ttl)}
	return token
}

// Resolve 返回令牌对应的文件路径，过期令牌会被删除。
func (s *TokenStore) Resolve(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[token]
	if !ok {
		return "", false
	}
	if !s.now().Before(e.expires) {
		delete(s.tokens, token)
		return "", false
	}
	return e.path, true
}

// Len 返回未过期令牌数量。
func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return len(s.tokens)
}

func (s *TokenStore) sweepLocked() {
	now := s.now()
	for k, e := range s.tokens {
		if !now.Before(e.expires) {
			delete(s.tokens, k)
		}
	}
}
