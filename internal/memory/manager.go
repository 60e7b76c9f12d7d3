package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/providers"
	"github.com/nextlevelbuilder/agentd/internal/tokens"
)

// Session is one isolated conversation with its accumulated summary.
type Session struct {
	ID        uuid.UUID              `json:"id"`
	Title     string                 `json:"title,omitempty"`
	Messages  []*Message             `json:"messages"`
	Summary   string                 `json:"summary,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

func (s *Session) touch() { s.UpdatedAt = time.Now().UTC() }

// SessionPersister saves session snapshots after mutations. Implementations
// live in the store package; a nil persister keeps sessions memory-only.
type SessionPersister interface {
	SaveSession(ctx context.Context, s *Session) error
	DeleteSession(ctx context.Context, id uuid.UUID) error
}

// CompressionFunc observes a finished compression pass.
type CompressionFunc func(sessionID uuid.UUID, before, after int)

// Manager coordinates sessions, their context windows, and compression.
// All session mutations are serialized per session via SessionLock.
type Manager struct {
	provider   providers.Provider
	counter    *tokens.Counter
	compressor *Compressor
	cfg        config.MemoryConfig

	mu        sync.RWMutex
	sessions  map[uuid.UUID]*Session
	windows   map[uuid.UUID]*ContextWindow
	sessLocks map[uuid.UUID]*sync.Mutex

	persister SessionPersister

	cbMu          sync.Mutex
	onCompression []CompressionFunc
}

// NewManager builds a manager counting tokens against the given model.
func NewManager(provider providers.Provider, cfg config.MemoryConfig, model string) *Manager {
	counter := tokens.NewCounter(model)
	m := &Manager{
		provider:   provider,
		counter:    counter,
		compressor: NewCompressor(provider, counter, cfg.SummaryMaxTokens),
		cfg:        cfg,
		sessions:   make(map[uuid.UUID]*Session),
		windows:    make(map[uuid.UUID]*ContextWindow),
		sessLocks:  make(map[uuid.UUID]*sync.Mutex),
	}
	slog.Info("memory manager initialized",
		"max_context_tokens", cfg.MaxContextTokens,
		"compression_threshold", cfg.CompressionThreshold)
	return m
}

// WithPersister attaches a persistence backend.
func (m *Manager) WithPersister(p SessionPersister) *Manager {
	m.persister = p
	return m
}

// Counter exposes the shared token counter.
func (m *Manager) Counter() *tokens.Counter { return m.counter }

// SessionLock returns the mutex serializing work on one session.
func (m *Manager) SessionLock(id uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.sessLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.sessLocks[id] = lock
	}
	return lock
}

// CreateSession starts a new session. A non-empty system prompt becomes a
// locked maximum-priority message that survives every compression pass.
func (m *Manager) CreateSession(ctx context.Context, systemPrompt string, metadata map[string]interface{}) *Session {
	session := &Session{
		ID:        uuid.Must(uuid.NewV7()),
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	window := NewContextWindow(m.cfg.MaxContextTokens, m.counter)

	if systemPrompt != "" {
		sys := NewMessage(RoleSystem, systemPrompt)
		sys.ImportanceScore = 1.0
		session.Messages = append(session.Messages, sys)
		window.Add(sys, 10, true)
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.windows[session.ID] = window
	m.mu.Unlock()

	m.persist(ctx, session)
	slog.Info("session created",
		"session_id", session.ID, "has_system_prompt", systemPrompt != "")
	return session
}

// GetSession returns a session by id.
func (m *Manager) GetSession(id uuid.UUID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) window(id uuid.UUID) (*ContextWindow, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.windows[id]
	return w, ok
}

// AddMessage appends a message to a session and its window. An overflowing
// message triggers aggressive demotion and one retry; crossing the
// compression threshold triggers a compression pass before returning, so
// the next prompt render sees the compressed history.
func (m *Manager) AddMessage(ctx context.Context, sessionID uuid.UUID, msg *Message) (bool, error) {
	m.mu.RLock()
	session, okS := m.sessions[sessionID]
	window, okW := m.windows[sessionID]
	m.mu.RUnlock()
	if !okS || !okW {
		return false, fmt.Errorf("session %s not found", sessionID)
	}

	msg.TokenCount = m.counter.CountMessage(msg.Counted())
	session.Messages = append(session.Messages, msg)
	session.touch()

	priority := priorityFor(msg)
	added := window.Add(msg, priority, false)
	if !added {
		m.handleOverflow(window)
		added = window.Add(msg, priority, false)
	}

	if window.UsageRatio() >= m.cfg.CompressionThreshold {
		m.compress(ctx, sessionID, session, window)
	}

	m.persist(ctx, session)
	return added, nil
}

// Messages returns a session's message list. With includeCompressed the
// window rendering is returned instead, cold summaries included.
func (m *Manager) Messages(sessionID uuid.UUID, includeCompressed bool) []*Message {
	m.mu.RLock()
	session, okS := m.sessions[sessionID]
	window, okW := m.windows[sessionID]
	m.mu.RUnlock()
	if !okS {
		return nil
	}
	if includeCompressed && okW {
		return window.AllMessages()
	}
	return session.Messages
}

// PromptMessages renders a session for an LLM call: the accumulated summary
// leads as a system message, followed by the active messages.
func (m *Manager) PromptMessages(sessionID uuid.UUID) []providers.Message {
	session, ok := m.GetSession(sessionID)
	if !ok {
		return nil
	}

	var out []providers.Message
	if session.Summary != "" {
		out = append(out, providers.Message{
			Role:    RoleSystem,
			Content: SummaryHeader + "\n" + session.Summary,
		})
	}
	for _, msg := range session.Messages {
		out = append(out, msg.ToProvider())
	}
	return out
}

// SetTitle updates a session's title and persists the change.
func (m *Manager) SetTitle(ctx context.Context, id uuid.UUID, title string) bool {
	m.mu.RLock()
	session, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	session.Title = title
	session.touch()
	m.persist(ctx, session)
	return true
}

// DeleteSession removes a session and its window.
func (m *Manager) DeleteSession(ctx context.Context, id uuid.UUID) bool {
	m.mu.Lock()
	_, existed := m.sessions[id]
	delete(m.sessions, id)
	delete(m.windows, id)
	delete(m.sessLocks, id)
	m.mu.Unlock()

	if existed && m.persister != nil {
		if err := m.persister.DeleteSession(ctx, id); err != nil {
			slog.Error("delete session from store", "session_id", id, "error", err)
		}
	}
	if existed {
		slog.Info("session deleted", "session_id", id)
	}
	return existed
}

// ListSessions pages through sessions, most recently updated first.
func (m *Manager) ListSessions(page, pageSize int) ([]*Session, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})

	total := len(all)
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total
}

// Restore loads previously persisted sessions and rebuilds their windows.
func (m *Manager) Restore(sessions []*Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range sessions {
		window := NewContextWindow(m.cfg.MaxContextTokens, m.counter)
		for _, msg := range session.Messages {
			lock := msg.Role == RoleSystem
			window.Add(msg, priorityFor(msg), lock)
		}
		m.sessions[session.ID] = session
		m.windows[session.ID] = window
	}
	if len(sessions) > 0 {
		slog.Info("sessions restored", "count", len(sessions))
	}
}

// OnCompression registers a callback fired after each compression pass.
func (m *Manager) OnCompression(fn CompressionFunc) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onCompression = append(m.onCompression, fn)
}

func (m *Manager) compress(ctx context.Context, sessionID uuid.UUID, session *Session, window *ContextWindow) {
	active := window.ActiveMessages()
	slog.Info("triggering compression",
		"session_id", sessionID,
		"usage_ratio", window.UsageRatio(),
		"message_count", len(active))

	compressed, summary := m.compressor.Compress(ctx, active)

	if summary != "" {
		if session.Summary != "" {
			session.Summary = session.Summary + "\n\n" + summary
		} else {
			session.Summary = summary
		}
	}

	window.Clear(true)
	retainedInWindow := window.ActiveMessages()
	kept := make(map[uuid.UUID]bool, len(retainedInWindow))
	for _, msg := range retainedInWindow {
		kept[msg.ID] = true
	}
	for _, msg := range compressed {
		if kept[msg.ID] {
			continue
		}
		window.Add(msg, priorityFor(msg), false)
	}

	session.Messages = compressed
	session.touch()

	m.cbMu.Lock()
	cbs := append([]CompressionFunc(nil), m.onCompression...)
	m.cbMu.Unlock()
	for _, fn := range cbs {
		fn(sessionID, len(active), len(compressed))
	}
}

// handleOverflow demotes everything demotable: all warm segments collapse
// to cold, then the window optimizes down to half the budget.
func (m *Manager) handleOverflow(window *ContextWindow) {
	for window.WarmSegmentCount() > 0 {
		window.MoveToCold(0, CompressedPlaceholder)
	}
	window.Optimize(0.5)
}

func (m *Manager) persist(ctx context.Context, session *Session) {
	if m.persister == nil {
		return
	}
	if err := m.persister.SaveSession(ctx, session); err != nil {
		slog.Error("persist session", "session_id", session.ID, "error", err)
	}
}

// priorityFor maps a message to its window insertion priority.
func priorityFor(msg *Message) int {
	priority := 5
	switch msg.Role {
	case RoleSystem:
		priority = 10
	case RoleUser:
		priority = 7
	case RoleAssistant:
		priority = 5
	case RoleTool:
		priority = 3
	}
	if len(msg.ToolCalls) > 0 {
		priority += 2
	}
	return priority
}

// SessionStats describes one session's memory usage.
type SessionStats struct {
	SessionID    uuid.UUID   `json:"session_id"`
	MessageCount int         `json:"message_count"`
	Window       WindowStats `json:"window"`
	HasSummary   bool        `json:"has_summary"`
}

// Stats returns usage for one session.
func (m *Manager) Stats(sessionID uuid.UUID) (SessionStats, bool) {
	m.mu.RLock()
	session, okS := m.sessions[sessionID]
	window, okW := m.windows[sessionID]
	m.mu.RUnlock()
	if !okS || !okW {
		return SessionStats{}, false
	}
	return SessionStats{
		SessionID:    sessionID,
		MessageCount: len(session.Messages),
		Window:       window.Stats(),
		HasSummary:   session.Summary != "",
	}, true
}

// GlobalStats aggregates across all sessions.
type GlobalStats struct {
	SessionCount  int `json:"session_count"`
	TotalMessages int `json:"total_messages"`
	TotalTokens   int `json:"total_tokens"`
}

// StatsGlobal returns process-wide memory usage.
func (m *Manager) StatsGlobal() GlobalStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := GlobalStats{SessionCount: len(m.sessions)}
	for _, s := range m.sessions {
		stats.TotalMessages += len(s.Messages)
		for _, msg := range s.Messages {
			stats.TotalTokens += msg.TokenCount
		}
	}
	return stats
}
