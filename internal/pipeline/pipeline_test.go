package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whatyousayin/pkg/interfaces"
	"whatyousayin/pkg/types"
)

type fakeStore struct {
	users       map[string]int64
	messages    map[int64]int64 // message id keyed to room id
	nextID      int64
	createdAt   time.Time
	insertErr   error
	lookupErr   error
	inserted    []insertedMessage
	resolveErr  error
}

type insertedMessage struct {
	content   string
	roomID    int64
	userID    int64
	replyToID *int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     map[string]int64{"alice": 1, "bob": 2},
		messages:  map[int64]int64{},
		nextID:    100,
		createdAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *fakeStore) RoomExists(context.Context, int64) (bool, bool, string, error) {
	return true, true, "General", nil
}

func (s *fakeStore) MessageExists(_ context.Context, messageID int64) (bool, int64, error) {
	if s.lookupErr != nil {
		return false, 0, s.lookupErr
	}
	roomID, ok := s.messages[messageID]
	return ok, roomID, nil
}

func (s *fakeStore) InsertMessage(_ context.Context, content string, roomID, userID int64, replyToID *int64) (int64, time.Time, error) {
	if s.insertErr != nil {
		return 0, time.Time{}, s.insertErr
	}
	s.nextID++
	s.inserted = append(s.inserted, insertedMessage{content: content, roomID: roomID, userID: userID, replyToID: replyToID})
	return s.nextID, s.createdAt, nil
}

func (s *fakeStore) ResolveUser(_ context.Context, username string) (int64, error) {
	if s.resolveErr != nil {
		return 0, s.resolveErr
	}
	id, ok := s.users[username]
	if !ok {
		return 0, interfaces.ErrUserNotFound
	}
	return id, nil
}

type fakeGate struct {
	verdict types.Verdict
	err     error
	calls   int
}

func (g *fakeGate) Moderate(context.Context, string) (types.Verdict, error) {
	g.calls++
	return g.verdict, g.err
}

type fakeFilter struct {
	verdict types.Verdict
	calls   int
}

func (f *fakeFilter) Check(string) types.Verdict {
	f.calls++
	return f.verdict
}

type fakeBroadcaster struct {
	events  []any
	roomIDs []int64
}

func (b *fakeBroadcaster) BroadcastToRoom(_ context.Context, event any, roomID int64, _ interfaces.Connection) {
	b.events = append(b.events, event)
	b.roomIDs = append(b.roomIDs, roomID)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func requireRejection(t *testing.T, err error, reason string) {
	t.Helper()
	var rejection *Rejection
	require.ErrorAs(t, err, &rejection)
	require.Equal(t, reason, rejection.Reason)
}

func TestSubmitPersistsAndBroadcasts(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeBroadcaster{}
	p := New(Config{Store: store, Dispatcher: dispatcher, Log: testLogger()})

	err := p.Submit(context.Background(), Submission{RoomID: 3, Username: "alice", Content: "  hello there  "})
	require.NoError(t, err)

	require.Len(t, store.inserted, 1)
	require.Equal(t, "hello there", store.inserted[0].content, "content is trimmed before persistence")
	require.Equal(t, int64(3), store.inserted[0].roomID)
	require.Equal(t, int64(1), store.inserted[0].userID)

	require.Len(t, dispatcher.events, 1)
	event, ok := dispatcher.events[0].(types.MessageEvent)
	require.True(t, ok)
	require.Equal(t, types.EventMessage, event.Type)
	require.Equal(t, store.nextID, event.ID, "broadcast carries the store-assigned id")
	require.Equal(t, store.createdAt, event.CreatedAt, "broadcast carries the store timestamp")
	require.Equal(t, "alice", event.Username)
	require.Equal(t, []int64{3}, dispatcher.roomIDs)
}

func TestSubmitRejectsWhitespaceBeforeAnySideEffect(t *testing.T) {
	store := newFakeStore()
	gate := &fakeGate{verdict: types.Safe()}
	dispatcher := &fakeBroadcaster{}
	p := New(Config{Store: store, Gate: gate, Dispatcher: dispatcher, Log: testLogger()})

	err := p.Submit(context.Background(), Submission{RoomID: 1, Username: "alice", Content: "   \n\t  "})
	requireRejection(t, err, "Empty message")

	require.Zero(t, gate.calls, "moderation must not see empty content")
	require.Empty(t, store.inserted)
	require.Empty(t, dispatcher.events)
}

func TestSubmitRejectsOverlongContentByRunes(t *testing.T) {
	store := newFakeStore()
	p := New(Config{Store: store, Dispatcher: &fakeBroadcaster{}, Log: testLogger()})

	// 10000 multibyte runes pass, 10001 fail.
	require.NoError(t, p.Submit(context.Background(), Submission{
		RoomID: 1, Username: "alice", Content: strings.Repeat("é", types.MaxContentRunes),
	}))
	err := p.Submit(context.Background(), Submission{
		RoomID: 1, Username: "alice", Content: strings.Repeat("é", types.MaxContentRunes+1),
	})
	requireRejection(t, err, "Message too long")
}

func TestSubmitRejectsUnsafeVerdict(t *testing.T) {
	store := newFakeStore()
	gate := &fakeGate{verdict: types.Unsafe("Hate speech is not allowed")}
	p := New(Config{Store: store, Gate: gate, Dispatcher: &fakeBroadcaster{}, Log: testLogger()})

	err := p.Submit(context.Background(), Submission{RoomID: 1, Username: "alice", Content: "something vile"})
	requireRejection(t, err, "Hate speech is not allowed")
	require.Empty(t, store.inserted, "rejected content is never persisted")
}

func TestSubmitFallsBackWhenGateUnavailable(t *testing.T) {
	store := newFakeStore()
	gate := &fakeGate{err: errors.New("connection refused")}
	filter := &fakeFilter{verdict: types.Safe()}
	dispatcher := &fakeBroadcaster{}
	p := New(Config{Store: store, Gate: gate, Fallback: filter, Dispatcher: dispatcher, Log: testLogger()})

	err := p.Submit(context.Background(), Submission{RoomID: 1, Username: "alice", Content: "hello"})
	require.NoError(t, err, "gate outage must not block chat")
	require.Equal(t, 1, filter.calls)
	require.Len(t, dispatcher.events, 1)
}

func TestSubmitFallbackRejection(t *testing.T) {
	store := newFakeStore()
	gate := &fakeGate{err: errors.New("timeout")}
	filter := &fakeFilter{verdict: types.Unsafe("Content contains inappropriate language")}
	p := New(Config{Store: store, Gate: gate, Fallback: filter, Dispatcher: &fakeBroadcaster{}, Log: testLogger()})

	err := p.Submit(context.Background(), Submission{RoomID: 1, Username: "alice", Content: "bad words"})
	requireRejection(t, err, "Content contains inappropriate language")
}

func TestSubmitReplyTargetChecks(t *testing.T) {
	store := newFakeStore()
	store.messages[50] = 1
	store.messages[60] = 2
	dispatcher := &fakeBroadcaster{}
	p := New(Config{Store: store, Dispatcher: dispatcher, Log: testLogger()})

	missing := int64(999)
	err := p.Submit(context.Background(), Submission{RoomID: 1, Username: "alice", Content: "hi", ReplyToID: &missing})
	requireRejection(t, err, "Reply target not found")

	crossRoom := int64(60)
	err = p.Submit(context.Background(), Submission{RoomID: 1, Username: "alice", Content: "hi", ReplyToID: &crossRoom})
	requireRejection(t, err, "Reply target is in a different room")

	valid := int64(50)
	err = p.Submit(context.Background(), Submission{RoomID: 1, Username: "alice", Content: "hi", ReplyToID: &valid})
	require.NoError(t, err)
	require.Equal(t, &valid, store.inserted[0].replyToID)
}

func TestSubmitRejectsUnknownSender(t *testing.T) {
	store := newFakeStore()
	p := New(Config{Store: store, Dispatcher: &fakeBroadcaster{}, Log: testLogger()})

	err := p.Submit(context.Background(), Submission{RoomID: 1, Username: "ghost", Content: "boo"})
	requireRejection(t, err, "Unknown sender identity")
}

func TestSubmitPersistFailureIsInternal(t *testing.T) {
	store := newFakeStore()
	store.insertErr = errors.New("disk full")
	dispatcher := &fakeBroadcaster{}
	p := New(Config{Store: store, Dispatcher: dispatcher, Log: testLogger()})

	err := p.Submit(context.Background(), Submission{RoomID: 1, Username: "alice", Content: "hello"})
	require.Error(t, err)

	var rejection *Rejection
	require.False(t, errors.As(err, &rejection), "persist failures are internal, not user rejections")
	require.Empty(t, dispatcher.events, "nothing is broadcast when persistence fails")
}

func TestSubmitRateLimit(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeBroadcaster{}
	p := New(Config{
		Store:      store,
		Dispatcher: dispatcher,
		Limiter:    NewMessageLimiter(2),
		Log:        testLogger(),
	})

	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, Submission{RoomID: 1, Username: "alice", Content: "one"}))
	require.NoError(t, p.Submit(ctx, Submission{RoomID: 1, Username: "alice", Content: "two"}))

	err := p.Submit(ctx, Submission{RoomID: 1, Username: "alice", Content: "three"})
	requireRejection(t, err, "You are sending messages too quickly")

	// Other users are unaffected.
	require.NoError(t, p.Submit(ctx, Submission{RoomID: 1, Username: "bob", Content: "hello"}))
}

func TestMessageLimiterWindowReset(t *testing.T) {
	limiter := NewMessageLimiter(1)
	require.True(t, limiter.Allow("alice"))
	require.False(t, limiter.Allow("alice"))

	// Force the window into the past.
	limiter.mu.Lock()
	limiter.users["alice"].windowStart = time.Now().Add(-2 * time.Minute)
	limiter.mu.Unlock()

	require.True(t, limiter.Allow("alice"))
}

func TestMessageLimiterCleanup(t *testing.T) {
	limiter := NewMessageLimiter(10)
	limiter.Allow("alice")
	limiter.Allow("bob")

	limiter.mu.Lock()
	limiter.users["alice"].windowStart = time.Now().Add(-10 * time.Minute)
	limiter.mu.Unlock()

	limiter.Cleanup()

	limiter.mu.Lock()
	_, aliceKept := limiter.users["alice"]
	_, bobKept := limiter.users["bob"]
	limiter.mu.Unlock()

	require.False(t, aliceKept)
	require.True(t, bobKept)
}
