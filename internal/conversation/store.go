// Package conversation keeps per-session chat history in memory.
//
// Each session holds the alternating user and assistant messages of past
// successful exchanges. Sessions expire after a period of inactivity and are
// capped in length, oldest messages dropped first.
package conversation

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/blueberrycongee/abgate/pkg/types"
)

const (
	DefaultTTL         = 30 * time.Minute
	DefaultPendingTTL  = 2 * time.Minute
	DefaultMaxMessages = 20
)

// Config controls session retention. PendingTTL applies to sessions the
// client has not yet echoed back; it is capped at TTL.
type Config struct {
	TTL         time.Duration
	PendingTTL  time.Duration
	MaxMessages int
}

// Store is a TTL-bounded map from session id to message history.
// It is safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	sessions    *cache.Cache
	pendingTTL  time.Duration
	maxMessages int
}

// NewStore creates a Store. Zero values in cfg fall back to the defaults.
func NewStore(cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.PendingTTL > cfg.TTL {
		cfg.PendingTTL = cfg.TTL
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	return &Store{
		sessions:    cache.New(cfg.TTL, cfg.PendingTTL),
		pendingTTL:  cfg.PendingTTL,
		maxMessages: cfg.MaxMessages,
	}
}

// History returns a copy of the session's messages, oldest first.
func (s *Store) History(sessionID string) []types.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.CloneMessages(s.load(sessionID), 0)
}

// Append adds messages to the session and refreshes its expiry.
func (s *Store) Append(sessionID string, msgs ...types.ChatMessage) {
	s.append(sessionID, cache.DefaultExpiration, msgs)
}

// Start records the first exchange of a session whose id was just issued.
// The session lives for PendingTTL until Append sees the id again, so
// clients that never echo the id do not hold entries for the full TTL.
func (s *Store) Start(sessionID string, msgs ...types.ChatMessage) {
	s.append(sessionID, s.pendingTTL, msgs)
}

func (s *Store) append(sessionID string, ttl time.Duration, msgs []types.ChatMessage) {
	if len(msgs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.load(sessionID)
	history := append(types.CloneMessages(current, len(msgs)), msgs...)
	if over := len(history) - s.maxMessages; over > 0 {
		history = history[over:]
	}
	s.sessions.Set(sessionID, history, ttl)
}

// Reset drops the session.
func (s *Store) Reset(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Delete(sessionID)
}

// Len returns the number of live sessions. Expired sessions not yet swept may be counted.
func (s *Store) Len() int {
	return s.sessions.ItemCount()
}

// MaxMessages returns the per-session cap.
func (s *Store) MaxMessages() int {
	return s.maxMessages
}

func (s *Store) load(sessionID string) []types.ChatMessage {
	v, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil
	}
	history, _ := v.([]types.ChatMessage)
	return history
}
