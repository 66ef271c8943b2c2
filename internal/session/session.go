// Package session provides agent session state management.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/remedian/remedian/internal/provider"
)

// Session statuses. RUNNING and WAITING_APPROVAL are live; the rest are
// terminal.
const (
	StatusRunning         = "RUNNING"
	StatusWaitingApproval = "WAITING_APPROVAL"
	StatusCompleted       = "COMPLETED"
	StatusAborted         = "ABORTED"
	StatusFailed          = "FAILED"
)

// Session represents one reasoning run. It is owned exclusively by its
// loop task; the abort flag is the only cross-goroutine signal.
type Session struct {
	ID        string             `json:"id"`
	Profile   string             `json:"profile"`
	Provider  string             `json:"provider"`
	AgentID   string             `json:"agent_id"`
	Group     string             `json:"group"`
	Sandboxed bool               `json:"sandboxed"`
	Subagent  bool               `json:"subagent"`
	History   []provider.Message `json:"history"`
	// Instruction is the original instruction, always kept verbatim
	// through compaction.
	Instruction string    `json:"instruction"`
	Iterations  int       `json:"iterations"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	aborted   atomic.Bool
	abortCh   chan struct{}
	abortOnce sync.Once
	claimed   atomic.Bool
	mu        sync.Mutex
}

// New creates a session in RUNNING state.
func New(id, profile string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		Profile:   profile,
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
		abortCh:   make(chan struct{}),
	}
}

// Append adds messages to the history in order.
func (s *Session) Append(msgs ...provider.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = append(s.History, msgs...)
	s.UpdatedAt = time.Now()
}

// Messages returns a copy of the history.
func (s *Session) Messages() []provider.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]provider.Message, len(s.History))
	copy(out, s.History)
	return out
}

// ReplaceHistory swaps the whole history, used by compaction.
func (s *Session) ReplaceHistory(msgs []provider.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = msgs
	s.UpdatedAt = time.Now()
}

// HistoryChars returns the total content size of the history.
func (s *Session) HistoryChars() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, m := range s.History {
		total += len(m.Content)
	}
	return total
}

// SetStatus updates the session status.
func (s *Session) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
	s.UpdatedAt = time.Now()
}

// GetStatus returns the current status.
func (s *Session) GetStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Status
}

// Abort raises the cooperative cancel flag. The loop observes it at its
// suspension points; an in-flight tool call still runs to completion.
func (s *Session) Abort() {
	s.aborted.Store(true)
	s.abortOnce.Do(func() { close(s.abortCh) })
}

// Aborted reports whether cancellation was requested.
func (s *Session) Aborted() bool {
	return s.aborted.Load()
}

// AbortSignal returns a channel closed when Abort is called, so blocking
// waits can unblock on cancellation instead of polling the flag.
func (s *Session) AbortSignal() <-chan struct{} {
	return s.abortCh
}

// TryClaim takes exclusive processing ownership of the session. At most
// one loop task holds the claim at any time.
func (s *Session) TryClaim() bool {
	return s.claimed.CompareAndSwap(false, true)
}

// Release returns processing ownership taken by TryClaim.
func (s *Session) Release() {
	s.claimed.Store(false)
}

// Terminal reports whether the session reached a terminal status.
func (s *Session) Terminal() bool {
	switch s.GetStatus() {
	case StatusCompleted, StatusAborted, StatusFailed:
		return true
	}
	return false
}

// Archiver persists finished sessions.
type Archiver interface {
	ArchiveSession(s *Session) error
}

// Manager tracks live sessions and archives terminal ones.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	archiver Archiver
}

// NewManager creates a session manager. archiver may be nil.
func NewManager(archiver Archiver) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		archiver: archiver,
	}
}

// GetOrCreate returns an existing live session or creates a new one.
func (m *Manager) GetOrCreate(id, profile string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := New(id, profile)
	m.sessions[id] = s
	return s
}

// Claim returns the session for id, creating it if needed, and takes
// exclusive processing ownership in the same step. ok is false when
// another task already holds the claim; the session is returned either
// way so callers can report its state.
func (m *Manager) Claim(id, profile string) (*Session, bool) {
	s := m.GetOrCreate(id, profile)
	return s, s.TryClaim()
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Abort requests cooperative cancellation for a session.
func (m *Manager) Abort(id string) bool {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	s.Abort()
	return true
}

// Archive persists a terminal session and drops it from the live set.
func (m *Manager) Archive(s *Session) {
	if m.archiver != nil {
		_ = m.archiver.ArchiveSession(s)
	}
	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()
}

// Live returns the ids of sessions not yet archived.
func (m *Manager) Live() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}
