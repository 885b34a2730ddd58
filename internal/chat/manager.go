package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/connectwise-ai/internal/domain"
)

const (
	defaultAskTimeout     = 30 * time.Second
	defaultPersistTimeout = 5 * time.Second
	subscriberBuffer      = 1
)

// Key identifies one visitor tab.
type Key struct {
	UserID    string
	SessionID string
}

func (k Key) String() string {
	return k.UserID + ":" + k.SessionID
}

// Asker answers a question about a company. Implementations must not fail;
// errors are reported as reply text.
type Asker interface {
	Ask(ctx context.Context, company *domain.Company, question string) string
}

// Companies resolves catalog entries.
type Companies interface {
	Get(id string) (*domain.Company, bool)
	First() (*domain.Company, bool)
}

// SnapshotStore persists transcripts across restarts.
type SnapshotStore interface {
	GetChatSnapshot(ctx context.Context, userID, sessionID string) (*domain.ChatSnapshot, error)
	UpsertChatSnapshot(ctx context.Context, snapshot *domain.ChatSnapshot) error
	CleanupExpiredSnapshots(ctx context.Context, ttl time.Duration) (int64, error)
}

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	Company       *domain.Company      `json:"company"`
	Messages      []domain.ChatMessage `json:"messages"`
	AwaitingReply bool                 `json:"awaiting_reply"`
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// AskTimeout bounds each insight call.
	AskTimeout time.Duration
	// SelectFirst selects the first catalog company for brand-new sessions.
	SelectFirst bool
	// ConversationLog receives chat events; nil discards them.
	ConversationLog ConversationLogger
	Logger          *slog.Logger
}

type entry struct {
	session   *Session
	createdAt time.Time
	lastSeen  time.Time
	subs      map[int64]chan Snapshot
}

// Manager owns every live session. All session transitions happen under one
// mutex, so each session has at most one question in flight and replies land
// in the order they were asked.
type Manager struct {
	asker     Asker
	companies Companies
	store     SnapshotStore
	convLog   ConversationLogger
	logger    *slog.Logger
	cfg       ManagerConfig

	mu       sync.Mutex
	sessions map[Key]*entry
	nextSub  int64
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewManager creates a Manager. store may be nil to keep sessions in memory
// only.
func NewManager(asker Asker, companies Companies, store SnapshotStore, cfg ManagerConfig) *Manager {
	if cfg.AskTimeout <= 0 {
		cfg.AskTimeout = defaultAskTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConversationLog == nil {
		cfg.ConversationLog = noopConversationLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		asker:     asker,
		companies: companies,
		store:     store,
		convLog:   cfg.ConversationLog,
		logger:    cfg.Logger,
		cfg:       cfg,
		sessions:  make(map[Key]*entry),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
}

// Get returns the current state of key's session, restoring or creating it
// as needed.
func (m *Manager) Get(ctx context.Context, key Key) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entryLocked(ctx, key)
	return snapshotOf(e.session)
}

// Select makes company the subject of key's session and resets the
// transcript to a greeting. A nil company clears the selection.
func (m *Manager) Select(ctx context.Context, key Key, company *domain.Company) Snapshot {
	if company == nil {
		return m.Clear(ctx, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entryLocked(ctx, key)
	e.session.Select(company)
	m.logEvent(key, eventSelect, company.ID, "", company.Name)
	return m.changedLocked(ctx, key, e)
}

// Clear drops key's selection and transcript.
func (m *Manager) Clear(ctx context.Context, key Key) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entryLocked(ctx, key)
	e.session.Clear()
	m.logEvent(key, eventClear, "", "", "")
	return m.changedLocked(ctx, key, e)
}

// Submit asks text about the selected company. It returns false, leaving the
// session untouched, when the submission is a no-op. Otherwise the user turn
// is visible immediately and the reply arrives asynchronously.
func (m *Manager) Submit(ctx context.Context, key Key, text string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entryLocked(ctx, key)
	if m.closed {
		return snapshotOf(e.session), false
	}

	turn, ok := e.session.Submit(text)
	if !ok {
		return snapshotOf(e.session), false
	}

	m.logEvent(key, eventUserMessage, turn.Company.ID, turn.Token, turn.Question)
	snap := m.changedLocked(ctx, key, e)

	m.wg.Add(1)
	go m.answer(key, turn)

	return snap, true
}

// Subscribe streams key's snapshots after every change. The current state is
// delivered first. Slow subscribers only ever see the latest snapshot.
func (m *Manager) Subscribe(ctx context.Context, key Key) (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entryLocked(ctx, key)
	m.nextSub++
	id := m.nextSub
	ch := make(chan Snapshot, subscriberBuffer)
	ch <- snapshotOf(e.session)
	e.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if cur, ok := m.sessions[key]; ok {
				delete(cur.subs, id)
				cur.lastSeen = m.now()
			}
		})
	}
}

// Sweep evicts sessions idle for longer than idle. Sessions with a pending
// reply or live subscribers are kept. Evicted sessions remain in the store.
func (m *Manager) Sweep(idle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-idle)
	evicted := 0
	for key, e := range m.sessions {
		if e.session.State() == StateAwaitingReply || len(e.subs) > 0 {
			continue
		}
		if e.lastSeen.Before(cutoff) {
			delete(m.sessions, key)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close cancels outstanding insight calls, waits for them and closes the
// conversation log.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	if err := m.convLog.Close(); err != nil {
		m.logger.Warn("failed to close conversation logger", "error", err)
	}
}

func (m *Manager) answer(key Key, turn Turn) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.AskTimeout)
	defer cancel()

	reply := m.asker.Ask(ctx, turn.Company, turn.Question)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		m.logger.Info("Discarding reply after shutdown", "session", key.String(), "token", turn.Token)
		return
	}

	e, ok := m.sessions[key]
	if !ok || !e.session.Complete(turn.Token, reply) {
		m.logger.Info("Discarding stale chat reply",
			"user_id", key.UserID,
			"session_id", key.SessionID,
			"company_id", turn.Company.ID,
			"token", turn.Token,
		)
		m.logEvent(key, eventReplyDropped, turn.Company.ID, turn.Token, reply)
		return
	}

	m.logEvent(key, eventModelReply, turn.Company.ID, turn.Token, reply)
	persistCtx, persistCancel := context.WithTimeout(context.Background(), defaultPersistTimeout)
	defer persistCancel()
	m.changedLocked(persistCtx, key, e)
}

// entryLocked returns key's entry, restoring it from the store or creating
// it. Callers must hold m.mu.
func (m *Manager) entryLocked(ctx context.Context, key Key) *entry {
	now := m.now()
	if e, ok := m.sessions[key]; ok {
		e.lastSeen = now
		return e
	}

	e := &entry{
		session:   m.restoreLocked(ctx, key),
		createdAt: now,
		lastSeen:  now,
		subs:      make(map[int64]chan Snapshot),
	}
	m.sessions[key] = e
	return e
}

func (m *Manager) restoreLocked(ctx context.Context, key Key) *Session {
	if m.store != nil {
		snap, err := m.store.GetChatSnapshot(ctx, key.UserID, key.SessionID)
		if err != nil {
			m.logger.Warn("failed to load chat snapshot", "user_id", key.UserID, "session_id", key.SessionID, "error", err)
		} else if snap != nil {
			return m.fromSnapshot(key, snap)
		}
	}

	s := NewSession()
	if m.cfg.SelectFirst && m.companies != nil {
		if first, ok := m.companies.First(); ok {
			s.Select(first)
		}
	}
	return s
}

func (m *Manager) fromSnapshot(key Key, snap *domain.ChatSnapshot) *Session {
	if snap.CompanyID == nil || m.companies == nil {
		return NewSession()
	}
	company, ok := m.companies.Get(*snap.CompanyID)
	if !ok {
		m.logger.Info("Restored chat references unknown company", "session", key.String(), "company_id", *snap.CompanyID)
		return NewSession()
	}

	var messages []domain.ChatMessage
	if err := json.Unmarshal([]byte(snap.MessagesJSON), &messages); err != nil || len(messages) == 0 {
		m.logger.Warn("discarding unreadable chat snapshot", "session", key.String(), "error", err)
		return restoreSession(company, []domain.ChatMessage{{Role: domain.RoleModel, Text: Greeting(company)}})
	}
	return restoreSession(company, messages)
}

// changedLocked persists and publishes e after a transition.
func (m *Manager) changedLocked(ctx context.Context, key Key, e *entry) Snapshot {
	snap := snapshotOf(e.session)
	m.persistLocked(ctx, key, e, snap)
	for _, ch := range e.subs {
		publish(ch, snap)
	}
	return snap
}

func (m *Manager) persistLocked(ctx context.Context, key Key, e *entry, snap Snapshot) {
	if m.store == nil {
		return
	}

	data, err := json.Marshal(snap.Messages)
	if err != nil {
		m.logger.Warn("failed to encode chat snapshot", "session", key.String(), "error", err)
		return
	}

	// A cleared session is stored with no company so that a later restore
	// does not fall back to the default selection.
	var companyID *string
	if snap.Company != nil {
		id := snap.Company.ID
		companyID = &id
	}
	if err := m.store.UpsertChatSnapshot(ctx, &domain.ChatSnapshot{
		UserID:       key.UserID,
		SessionID:    key.SessionID,
		CompanyID:    companyID,
		MessagesJSON: string(data),
		CreatedAt:    e.createdAt,
		UpdatedAt:    m.now(),
	}); err != nil {
		m.logger.Warn("failed to persist chat snapshot", "session", key.String(), "error", err)
	}
}

func (m *Manager) logEvent(key Key, eventType, companyID, token, text string) {
	if m.closed {
		return
	}
	m.convLog.Log(ConversationLogEvent{
		Timestamp: m.now().UTC().Format(time.RFC3339Nano),
		UserID:    key.UserID,
		SessionID: key.SessionID,
		EventType: eventType,
		CompanyID: companyID,
		Token:     token,
		Text:      text,
	})
}

// publish replaces any unread snapshot with snap.
func publish(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

func snapshotOf(s *Session) Snapshot {
	return Snapshot{
		Company:       s.Company(),
		Messages:      s.Transcript(),
		AwaitingReply: s.State() == StateAwaitingReply,
	}
}
