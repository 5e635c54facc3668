package session

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
)

const DefaultSessionID = "default"

// maxStoredMessages bounds what is kept per session; the engine only ever
// looks at a short window of it.
const maxStoredMessages = 200

type Message struct {
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

type Session struct {
	ID          string    `json:"id"`
	Messages    []Message `json:"messages"`
	TotalTokens uint64    `json:"total_tokens"`
	UpdatedAt   time.Time `json:"updated_at"`

	mu   sync.RWMutex
	turn sync.Mutex
}

func NewSession(id string) *Session {
	return &Session{ID: id}
}

// BeginTurn serializes turns within a session. The returned func ends the turn.
func (s *Session) BeginTurn() func() {
	s.turn.Lock()
	return s.turn.Unlock
}

// History renders the stored exchanges as alternating user and assistant messages.
func (s *Session) History() []*schema.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]*schema.Message, 0, len(s.Messages)*2)
	for _, m := range s.Messages {
		if strings.TrimSpace(m.Prompt) != "" {
			msgs = append(msgs, schema.UserMessage(m.Prompt))
		}
		if strings.TrimSpace(m.Response) != "" {
			msgs = append(msgs, schema.AssistantMessage(m.Response, nil))
		}
	}
	return msgs
}

func (s *Session) Append(prompt, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.Messages = append(s.Messages, Message{Prompt: prompt, Response: response, Timestamp: now})
	if len(s.Messages) > maxStoredMessages {
		s.Messages = append([]Message(nil), s.Messages[len(s.Messages)-maxStoredMessages:]...)
	}
	s.UpdatedAt = now
}

func (s *Session) AddTokens(tokens uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalTokens += tokens
}

func (s *Session) ClearMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = nil
	s.TotalTokens = 0
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:          s.ID,
		Messages:    append([]Message(nil), s.Messages...),
		TotalTokens: s.TotalTokens,
		UpdatedAt:   s.UpdatedAt,
	}
}

// Snapshot is a point-in-time copy of a session, safe to encode.
type Snapshot struct {
	ID          string    `json:"id"`
	Messages    []Message `json:"messages"`
	TotalTokens uint64    `json:"total_tokens"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Summary is what admin listings show about a session.
type Summary struct {
	ID          string    `json:"id"`
	Messages    int       `json:"messages"`
	TotalTokens uint64    `json:"total_tokens"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StateStore persists named JSON documents.
type StateStore interface {
	SaveState(name string, state interface{}) error
	LoadState(name string, state interface{}) error
}

const stateName = "sessions"

type SessionManager struct {
	sessions map[string]*Session
	store    StateStore
	mu       sync.RWMutex
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

// NewPersistentSessionManager restores sessions from store and saves them
// back on every Save.
func NewPersistentSessionManager(store StateStore) (*SessionManager, error) {
	sm := &SessionManager{sessions: make(map[string]*Session), store: store}
	var saved []Snapshot
	if err := store.LoadState(stateName, &saved); err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	for _, snap := range saved {
		sm.sessions[snap.ID] = &Session{
			ID:          snap.ID,
			Messages:    snap.Messages,
			TotalTokens: snap.TotalTokens,
			UpdatedAt:   snap.UpdatedAt,
		}
	}
	if len(saved) > 0 {
		slog.Info("sessions restored", "count", len(saved))
	}
	return sm, nil
}

func (sm *SessionManager) GetOrCreate(id string) *Session {
	if id == "" {
		id = DefaultSessionID
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sess, ok := sm.sessions[id]; ok {
		return sess
	}
	sess := NewSession(id)
	sm.sessions[id] = sess
	return sess
}

func (sm *SessionManager) GetSession(id string) *Session {
	if id == "" {
		id = DefaultSessionID
	}
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

func (sm *SessionManager) AddMessage(id, prompt, response string) {
	sm.GetOrCreate(id).Append(prompt, response)
}

func (sm *SessionManager) AddTokens(id string, promptTokens, completionTokens int) {
	sm.GetOrCreate(id).AddTokens(uint64(promptTokens + completionTokens))
}

func (sm *SessionManager) ListIDs() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (sm *SessionManager) Summaries() []Summary {
	out := make([]Summary, 0)
	for _, id := range sm.ListIDs() {
		snap := sm.GetSession(id).Snapshot()
		out = append(out, Summary{ID: snap.ID, Messages: len(snap.Messages), TotalTokens: snap.TotalTokens, UpdatedAt: snap.UpdatedAt})
	}
	return out
}

// Reset clears a session's history. It reports false for unknown ids.
func (sm *SessionManager) Reset(id string) bool {
	sess := sm.GetSession(id)
	if sess == nil {
		return false
	}
	sess.ClearMessages()
	return true
}

// Save writes all sessions to the state store; it is a no-op without one.
func (sm *SessionManager) Save() error {
	if sm.store == nil {
		return nil
	}
	ids := sm.ListIDs()
	snaps := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		snaps = append(snaps, sm.GetSession(id).Snapshot())
	}
	if err := sm.store.SaveState(stateName, snaps); err != nil {
		return fmt.Errorf("save sessions: %w", err)
	}
	return nil
}
