package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/connectwise-ai/internal/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeCompanies struct {
	list []*domain.Company
}

func (f fakeCompanies) Get(id string) (*domain.Company, bool) {
	for _, c := range f.list {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

func (f fakeCompanies) First() (*domain.Company, bool) {
	if len(f.list) == 0 {
		return nil, false
	}
	return f.list[0], true
}

type echoAsker struct {
	calls atomic.Int32
}

func (a *echoAsker) Ask(_ context.Context, company *domain.Company, question string) string {
	a.calls.Add(1)
	return company.Name + ": " + question
}

// gatedAsker blocks each call until a reply is sent on release.
type gatedAsker struct {
	release chan string
	started chan struct{}
}

func newGatedAsker() *gatedAsker {
	return &gatedAsker{release: make(chan string), started: make(chan struct{}, 8)}
}

func (a *gatedAsker) Ask(ctx context.Context, _ *domain.Company, _ string) string {
	a.started <- struct{}{}
	select {
	case reply := <-a.release:
		return reply
	case <-ctx.Done():
		return "cancelled"
	}
}

type memorySnapshots struct {
	mu        sync.Mutex
	snapshots map[Key]domain.ChatSnapshot
	failGets  bool
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{snapshots: make(map[Key]domain.ChatSnapshot)}
}

func (s *memorySnapshots) GetChatSnapshot(_ context.Context, userID, sessionID string) (*domain.ChatSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGets {
		return nil, errors.New("database is locked")
	}
	snap, ok := s.snapshots[Key{userID, sessionID}]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (s *memorySnapshots) UpsertChatSnapshot(_ context.Context, snap *domain.ChatSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[Key{snap.UserID, snap.SessionID}] = *snap
	return nil
}

func (s *memorySnapshots) CleanupExpiredSnapshots(_ context.Context, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	cutoff := time.Now().Add(-ttl)
	for k, snap := range s.snapshots {
		if snap.UpdatedAt.Before(cutoff) {
			delete(s.snapshots, k)
			n++
		}
	}
	return n, nil
}

func (s *memorySnapshots) has(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.snapshots[key]
	return ok
}

var (
	testCompanies = fakeCompanies{list: []*domain.Company{acme, beta}}
	visitor       = Key{UserID: "anon_1", SessionID: "tab-1"}
)

func newTestManager(t *testing.T, asker Asker, store SnapshotStore) *Manager {
	t.Helper()
	m := NewManager(asker, testCompanies, store, ManagerConfig{
		AskTimeout:  time.Second,
		SelectFirst: true,
	})
	t.Cleanup(m.Close)
	return m
}

func waitForReply(t *testing.T, m *Manager, key Key) Snapshot {
	t.Helper()
	ch, cancel := m.Subscribe(context.Background(), key)
	defer cancel()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if !snap.AwaitingReply {
				return snap
			}
		case <-timeout:
			t.Fatal("timed out waiting for reply")
		}
	}
}

func TestNewSessionSelectsFirstCompany(t *testing.T) {
	m := newTestManager(t, &echoAsker{}, nil)

	snap := m.Get(context.Background(), visitor)
	require.Same(t, acme, snap.Company)
	require.Len(t, snap.Messages, 1)
	require.Equal(t, domain.RoleModel, snap.Messages[0].Role)
	require.Contains(t, snap.Messages[0].Text, "Acme Robotics")
	require.False(t, snap.AwaitingReply)
}

func TestSessionsAreIsolatedPerKey(t *testing.T) {
	m := newTestManager(t, &echoAsker{}, nil)
	ctx := context.Background()

	m.Select(ctx, visitor, beta)
	other := m.Get(ctx, Key{UserID: "anon_1", SessionID: "tab-2"})
	require.Same(t, acme, other.Company)
	require.Equal(t, 2, m.Len())
}

func TestSubmitAppendsUserTurnThenReply(t *testing.T) {
	asker := &echoAsker{}
	m := newTestManager(t, asker, nil)
	ctx := context.Background()

	m.Select(ctx, visitor, beta)
	snap, ok := m.Submit(ctx, visitor, "What do they sell?")
	require.True(t, ok)
	require.Len(t, snap.Messages, 2)
	require.Equal(t, domain.ChatMessage{Role: domain.RoleUser, Text: "What do they sell?"}, snap.Messages[1])

	final := waitForReply(t, m, visitor)
	require.Len(t, final.Messages, 3)
	require.Equal(t, domain.ChatMessage{Role: domain.RoleModel, Text: "Beta Foods: What do they sell?"}, final.Messages[2])
	require.EqualValues(t, 1, asker.calls.Load())
}

func TestSubmitIgnoredWhileAwaitingReply(t *testing.T) {
	asker := newGatedAsker()
	m := newTestManager(t, asker, nil)
	ctx := context.Background()

	_, ok := m.Submit(ctx, visitor, "first")
	require.True(t, ok)
	<-asker.started

	snap, ok := m.Submit(ctx, visitor, "second")
	require.False(t, ok)
	require.True(t, snap.AwaitingReply)
	require.Len(t, snap.Messages, 2)

	asker.release <- "answer"
	final := waitForReply(t, m, visitor)
	require.Len(t, final.Messages, 3)
	require.Equal(t, "answer", final.Messages[2].Text)
}

func TestSubmitIgnoredWithoutSelectionOrText(t *testing.T) {
	asker := &echoAsker{}
	m := newTestManager(t, asker, nil)
	ctx := context.Background()

	snap, ok := m.Submit(ctx, visitor, "  ")
	require.False(t, ok)
	require.Len(t, snap.Messages, 1)

	m.Clear(ctx, visitor)
	snap, ok = m.Submit(ctx, visitor, "hello")
	require.False(t, ok)
	require.Empty(t, snap.Messages)
	require.Nil(t, snap.Company)

	m.wg.Wait()
	require.Zero(t, asker.calls.Load())
}

func TestStaleReplyAfterReselectIsDiscarded(t *testing.T) {
	asker := newGatedAsker()
	m := newTestManager(t, asker, nil)
	ctx := context.Background()

	m.Select(ctx, visitor, acme)
	_, ok := m.Submit(ctx, visitor, "What stage?")
	require.True(t, ok)
	<-asker.started

	snap := m.Select(ctx, visitor, beta)
	require.False(t, snap.AwaitingReply)

	asker.release <- "Series B"
	m.wg.Wait()

	final := m.Get(ctx, visitor)
	require.Same(t, beta, final.Company)
	require.Len(t, final.Messages, 1)
	require.Contains(t, final.Messages[0].Text, "Beta Foods")

	_, ok = m.Submit(ctx, visitor, "And Beta?")
	require.True(t, ok)
	<-asker.started
	asker.release <- "Snacks."
	require.Equal(t, "Snacks.", waitForReply(t, m, visitor).Messages[2].Text)
}

func TestTranscriptSurvivesRestart(t *testing.T) {
	store := newMemorySnapshots()
	ctx := context.Background()

	first := NewManager(&echoAsker{}, testCompanies, store, ManagerConfig{SelectFirst: true})
	first.Select(ctx, visitor, beta)
	_, ok := first.Submit(ctx, visitor, "Funding?")
	require.True(t, ok)
	want := waitForReply(t, first, visitor)
	first.Close()

	second := newTestManager(t, &echoAsker{}, store)
	got := second.Get(ctx, visitor)
	require.Same(t, beta, got.Company)
	require.Equal(t, want.Messages, got.Messages)
}

func TestRestoreUnknownCompanyStartsEmpty(t *testing.T) {
	store := newMemorySnapshots()
	gone := "deleted"
	require.NoError(t, store.UpsertChatSnapshot(context.Background(), &domain.ChatSnapshot{
		UserID: visitor.UserID, SessionID: visitor.SessionID, CompanyID: &gone, MessagesJSON: `[]`,
	}))

	m := newTestManager(t, &echoAsker{}, store)
	snap := m.Get(context.Background(), visitor)
	require.Nil(t, snap.Company)
	require.Empty(t, snap.Messages)
}

func TestRestoreCorruptTranscriptFallsBackToGreeting(t *testing.T) {
	store := newMemorySnapshots()
	id := beta.ID
	require.NoError(t, store.UpsertChatSnapshot(context.Background(), &domain.ChatSnapshot{
		UserID: visitor.UserID, SessionID: visitor.SessionID, CompanyID: &id, MessagesJSON: `{not json`,
	}))

	m := newTestManager(t, &echoAsker{}, store)
	snap := m.Get(context.Background(), visitor)
	require.Same(t, beta, snap.Company)
	require.Len(t, snap.Messages, 1)
}

func TestStoreReadFailureStartsFreshSession(t *testing.T) {
	store := newMemorySnapshots()
	store.failGets = true

	m := newTestManager(t, &echoAsker{}, store)
	snap := m.Get(context.Background(), visitor)
	require.Same(t, acme, snap.Company)
}

func TestClearPersistsEmptySelection(t *testing.T) {
	store := newMemorySnapshots()
	m := newTestManager(t, &echoAsker{}, store)
	ctx := context.Background()

	m.Select(ctx, visitor, beta)
	snap := m.Clear(ctx, visitor)
	require.Nil(t, snap.Company)
	require.Empty(t, snap.Messages)

	stored, err := store.GetChatSnapshot(ctx, visitor.UserID, visitor.SessionID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Nil(t, stored.CompanyID)
	require.Equal(t, "[]", stored.MessagesJSON)
}

func TestClearedSelectionSurvivesEviction(t *testing.T) {
	store := newMemorySnapshots()
	m := newTestManager(t, &echoAsker{}, store)
	ctx := context.Background()

	m.Select(ctx, visitor, beta)
	m.Clear(ctx, visitor)
	require.Equal(t, 1, m.Sweep(-1))

	snap := m.Get(ctx, visitor)
	require.Nil(t, snap.Company, "an evicted cleared session must not fall back to the first company")
	require.Empty(t, snap.Messages)
}

func TestClearedSelectionSurvivesRestart(t *testing.T) {
	store := newMemorySnapshots()
	ctx := context.Background()

	first := newTestManager(t, &echoAsker{}, store)
	first.Select(ctx, visitor, beta)
	first.Clear(ctx, visitor)
	first.Close()

	second := newTestManager(t, &echoAsker{}, store)
	snap := second.Get(ctx, visitor)
	require.Nil(t, snap.Company)
	require.Empty(t, snap.Messages)
}

func TestSubscribeReceivesCurrentStateAndChanges(t *testing.T) {
	m := newTestManager(t, &echoAsker{}, nil)
	ctx := context.Background()

	ch, cancel := m.Subscribe(ctx, visitor)
	defer cancel()

	initial := <-ch
	require.Same(t, acme, initial.Company)

	m.Select(ctx, visitor, beta)
	m.Clear(ctx, visitor)

	latest := <-ch
	require.Nil(t, latest.Company, "slow subscribers only see the latest snapshot")
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	m := newTestManager(t, &echoAsker{}, nil)
	ctx := context.Background()

	now := time.Now()
	m.now = func() time.Time { return now }
	m.Get(ctx, visitor)

	_, cancel := m.Subscribe(ctx, Key{UserID: "anon_2", SessionID: "watching"})

	now = now.Add(2 * time.Hour)
	require.Equal(t, 1, m.Sweep(time.Hour))
	require.Equal(t, 1, m.Len(), "sessions with subscribers are kept")

	cancel()
	now = now.Add(2 * time.Hour)
	require.Equal(t, 1, m.Sweep(time.Hour))
	require.Zero(t, m.Len())
}

func TestSweepKeepsPendingSessions(t *testing.T) {
	asker := newGatedAsker()
	m := newTestManager(t, asker, nil)
	ctx := context.Background()

	now := time.Now()
	m.now = func() time.Time { return now }
	_, ok := m.Submit(ctx, visitor, "q")
	require.True(t, ok)
	<-asker.started

	now = now.Add(2 * time.Hour)
	require.Zero(t, m.Sweep(time.Hour))

	asker.release <- "a"
	m.wg.Wait()
}

func TestCloseCancelsPendingCalls(t *testing.T) {
	asker := newGatedAsker()
	m := NewManager(asker, testCompanies, nil, ManagerConfig{AskTimeout: time.Minute, SelectFirst: true})
	ctx := context.Background()

	_, ok := m.Submit(ctx, visitor, "q")
	require.True(t, ok)
	<-asker.started

	m.Close()
	m.Close()

	_, ok = m.Submit(ctx, visitor, "after close")
	require.False(t, ok)
}

func TestSweepOnceCleansStore(t *testing.T) {
	store := newMemorySnapshots()
	old := time.Now().Add(-30 * 24 * time.Hour)
	id := acme.ID
	require.NoError(t, store.UpsertChatSnapshot(context.Background(), &domain.ChatSnapshot{
		UserID: "anon_old", SessionID: "tab", CompanyID: &id, MessagesJSON: "[]", UpdatedAt: old,
	}))

	m := newTestManager(t, &echoAsker{}, store)
	sweepOnce(context.Background(), m, store, SweeperConfig{IdleTTL: time.Hour, SnapshotRetention: 24 * time.Hour})
	require.False(t, store.has(Key{UserID: "anon_old", SessionID: "tab"}))
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	m := newTestManager(t, &echoAsker{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- RunSweeper(ctx, m, nil, SweeperConfig{Interval: 10 * time.Millisecond, IdleTTL: time.Hour})
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
