package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/voicecall/internal/model/chat"
)

var (
	ErrSessionIDRequired = errors.New("session id is required")
	ErrSessionNotFound   = errors.New("session not found")
)

// DefaultIdleTimeout 超过该时长无活动的会话会被回收
const DefaultIdleTimeout = 5 * time.Minute

type entry struct {
	session  chat.Session
	messages []chat.Message
}

// Registry keeps live agent sessions and their transcripts in memory.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	idle     time.Duration
	now      func() time.Time
}

// NewRegistry bootstraps an empty registry; idle <= 0 selects DefaultIdleTimeout.
func NewRegistry(idle time.Duration) *Registry {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Registry{
		sessions: make(map[string]*entry),
		idle:     idle,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create provisions a session and seeds its transcript with the welcome line.
func (r *Registry) Create(_ context.Context, welcome string) chat.Session {
	now := r.now()
	session := chat.Session{ID: uuid.NewString(), CreatedAt: now, LastActive: now}

	e := &entry{session: session, messages: make([]chat.Message, 0, 16)}
	if welcome != "" {
		e.messages = append(e.messages, chat.Message{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Sender:    chat.SenderAssistant,
			Content:   welcome,
			CreatedAt: now,
		})
	}

	r.mu.Lock()
	r.sessions[session.ID] = e
	r.mu.Unlock()
	return session
}

// Rebind 把会话迁移到客户端提供的 ID，历史一并迁移。
func (r *Registry) Rebind(_ context.Context, oldID, newID string) (chat.Session, error) {
	if newID == "" {
		return chat.Session{}, ErrSessionIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[oldID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	if oldID == newID {
		e.session.LastActive = r.now()
		return e.session, nil
	}

	delete(r.sessions, oldID)
	e.session.ID = newID
	e.session.LastActive = r.now()
	for i := range e.messages {
		e.messages[i].SessionID = newID
	}
	if prev, ok := r.sessions[newID]; ok {
		log.Printf("[session] rebind %s replaces live session %s (%d messages)", oldID, newID, len(prev.messages))
	}
	r.sessions[newID] = e
	return e.session, nil
}

// Touch records activity on a session.
func (r *Registry) Touch(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	e.session.LastActive = r.now()
	return nil
}

// SaveMessage appends a message to the session history.
func (r *Registry) SaveMessage(_ context.Context, message chat.Message) error {
	if message.SessionID == "" {
		return ErrSessionIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[message.SessionID]
	if !ok {
		return ErrSessionNotFound
	}

	message.ID = uuid.NewString()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = r.now()
	}
	e.messages = append(e.messages, message)
	e.session.LastActive = message.CreatedAt
	return nil
}

// GetSession retrieves a session by identifier.
func (r *Registry) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return e.session, nil
}

// LoadTranscript returns stored messages for the provided session.
func (r *Registry) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Message, len(e.messages))
	copy(copied, e.messages)
	return copied, nil
}

// Remove drops a session; unknown ids are ignored.
func (r *Registry) Remove(_ context.Context, sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep 删除空闲超时的会话并返回它们的 ID。
func (r *Registry) Sweep() []string {
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, e := range r.sessions {
		if e.session.LastActive.Before(cutoff) {
			delete(r.sessions, id)
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		log.Printf("[session] cleaned up inactive session: %s", id)
	}
	return removed
}

// Run sweeps on every interval tick until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
