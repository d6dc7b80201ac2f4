package sessions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/strrl/agentchat/pkg/models"
)

var (
	fixedNow   = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	errOffline = errors.New("connection refused")
)

// fakeGateway is an in-memory backend. Failures are injected per
// operation. SendMessage can be held open with block and FetchHistory
// with fetchBlock; a held fetch answers with the history as it was
// when the call arrived.
type fakeGateway struct {
	mu        sync.Mutex
	sessions  []models.Session
	histories map[string][]models.Message
	nextID    int

	fetches map[string]int
	sends   int

	listErr, createErr, renameErr, deleteErr, fetchErr, sendErr error

	block   chan struct{}
	entered chan string

	fetchBlock   chan struct{}
	fetchEntered chan string
}

func newFakeGateway(sessions ...models.Session) *fakeGateway {
	return &fakeGateway{
		sessions:  sessions,
		histories: make(map[string][]models.Message),
		fetches:   make(map[string]int),
	}
}

func (g *fakeGateway) ListSessions(ctx context.Context) ([]models.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, g.listErr
	}
	return append([]models.Session(nil), g.sessions...), nil
}

func (g *fakeGateway) CreateSession(ctx context.Context, name string) (models.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return models.Session{}, g.createErr
	}
	g.nextID++
	s := models.Session{ID: fmt.Sprintf("new-%d", g.nextID), Name: name}
	g.sessions = append([]models.Session{s}, g.sessions...)
	return s, nil
}

func (g *fakeGateway) RenameSession(ctx context.Context, id, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.renameErr != nil {
		return g.renameErr
	}
	for i := range g.sessions {
		if g.sessions[i].ID == id {
			g.sessions[i].Name = name
		}
	}
	return nil
}

func (g *fakeGateway) DeleteSession(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deleteErr != nil {
		return g.deleteErr
	}
	for i := range g.sessions {
		if g.sessions[i].ID == id {
			g.sessions = append(g.sessions[:i], g.sessions[i+1:]...)
			break
		}
	}
	delete(g.histories, id)
	return nil
}

func (g *fakeGateway) FetchHistory(ctx context.Context, sessionID string) ([]models.Message, error) {
	g.mu.Lock()
	g.fetches[sessionID]++
	err := g.fetchErr
	history := append([]models.Message(nil), g.histories[sessionID]...)
	block, entered := g.fetchBlock, g.fetchEntered
	g.mu.Unlock()

	if entered != nil {
		entered <- sessionID
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return history, nil
}

// holdNextFetch makes the next FetchHistory wait until the returned
// release func is called. Later fetches are not held.
func (g *fakeGateway) holdNextFetch() (entered <-chan string, release func()) {
	block := make(chan struct{})
	in := make(chan string, 1)
	g.mu.Lock()
	g.fetchBlock, g.fetchEntered = block, in
	g.mu.Unlock()

	arrived := make(chan string, 1)
	go func() {
		id := <-in
		g.mu.Lock()
		g.fetchBlock, g.fetchEntered = nil, nil
		g.mu.Unlock()
		arrived <- id
	}()
	return arrived, func() { close(block) }
}

func (g *fakeGateway) SendMessage(ctx context.Context, sessionID, text string) (models.ChatResponse, error) {
	g.mu.Lock()
	g.sends++
	block, entered := g.block, g.entered
	g.mu.Unlock()

	if entered != nil {
		entered <- sessionID
	}
	if block != nil {
		<-block
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return models.ChatResponse{}, g.sendErr
	}
	reply := "echo: " + text
	g.histories[sessionID] = append(g.histories[sessionID],
		models.Message{Role: models.RoleUser, Content: text, Timestamp: "2025-01-15T10:00:01"},
		models.Message{Role: models.RoleBot, Content: reply, Timestamp: "2025-01-15T10:00:02"},
	)
	return models.ChatResponse{
		Response: reply,
		History:  append([]models.Message(nil), g.histories[sessionID]...),
	}, nil
}

func (g *fakeGateway) fetchCount(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetches[id]
}

func newTestController(t *testing.T, gw *fakeGateway) *Controller {
	t.Helper()
	return NewController(gw, WithClock(func() time.Time { return fixedNow }))
}

func startedController(t *testing.T, gw *fakeGateway) *Controller {
	t.Helper()
	c := newTestController(t, gw)
	require.NoError(t, c.Start(context.Background()))
	return c
}

func userMsg(text string) models.Message {
	return models.NewMessage(models.RoleUser, text, fixedNow)
}

func errorMsg() models.Message {
	return models.NewMessage(models.RoleBot, BackendErrorMessage, fixedNow)
}

func TestStartActivatesFirstSession(t *testing.T) {
	gw := newFakeGateway(models.Session{ID: "s2", Name: "Two"}, models.Session{ID: "s1", Name: "One"})
	gw.histories["s2"] = []models.Message{{Role: models.RoleUser, Content: "old"}}

	c := startedController(t, gw)
	snap := c.Snapshot()

	assert.Equal(t, "s2", snap.ActiveID)
	assert.Equal(t, []string{"s2", "s1"}, ids(snap.Sessions))
	assert.Equal(t, gw.histories["s2"], snap.Messages)
	assert.Equal(t, StateIdle, snap.State)
}

func TestStartWithNoSessions(t *testing.T) {
	c := startedController(t, newFakeGateway())
	snap := c.Snapshot()

	assert.Empty(t, snap.ActiveID)
	assert.Empty(t, snap.Sessions)
	assert.Empty(t, snap.Messages)
}

func TestStartFailureKeepsState(t *testing.T) {
	gw := newFakeGateway()
	gw.listErr = errOffline

	c := newTestController(t, gw)
	err := c.Start(context.Background())

	require.ErrorIs(t, err, errOffline)
	snap := c.Snapshot()
	assert.Empty(t, snap.Sessions)
	assert.Empty(t, snap.Messages)
	assert.Contains(t, snap.Notice, "connection refused")
}

func TestSendReplacesHistoryWithServerHistory(t *testing.T) {
	gw := newFakeGateway(models.Session{ID: "s1", Name: "One"})
	gw.histories["s1"] = []models.Message{
		{Role: models.RoleUser, Content: "earlier", Timestamp: "2025-01-14T09:00:00"},
	}
	c := startedController(t, gw)

	require.NoError(t, c.Send(context.Background(), "show cpu trend"))

	snap := c.Snapshot()
	if diff := cmp.Diff(gw.histories["s1"], snap.Messages); diff != "" {
		t.Errorf("history should equal the server's (-server +cache):\n%s", diff)
	}
	// The optimistic entry carried a client timestamp; only the server's copy survives.
	assert.NotContains(t, snap.Messages, userMsg("show cpu trend"))
	assert.Equal(t, StateIdle, snap.State)
}

func TestOptimisticMessageShownBeforeResponse(t *testing.T) {
	gw := newFakeGateway(models.Session{ID: "s1", Name: "One"})
	gw.block = make(chan struct{})
	gw.entered = make(chan string, 1)
	c := startedController(t, gw)

	done := make(chan error, 1)
	go func() { done <- c.Send(context.Background(), "hello") }()
	<-gw.entered

	snap := c.Snapshot()
	assert.Equal(t, StateAwaitingResponse, snap.State)
	assert.Equal(t, []models.Message{userMsg("hello")}, snap.Messages)

	close(gw.block)
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, c.State("s1"))
	assert.Len(t, c.Snapshot().Messages, 2)
}

func TestSecondSendWhileAwaitingIsRejected(t *testing.T) {
	gw := newFakeGateway(models.Session{ID: "s1", Name: "One"})
	gw.block = make(chan struct{})
	gw.entered = make(chan string, 1)
	c := startedController(t, gw)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- c.Send(ctx, "first") }()
	<-gw.entered

	require.ErrorIs(t, c.Send(ctx, "second"), ErrSendInFlight)
	assert.Equal(t, []models.Message{userMsg("first")}, c.Snapshot().Messages,
		"a rejected send must not add an optimistic message")
	assert.Equal(t, StateAwaitingResponse, c.State("s1"))

	close(gw.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, gw.sends)
	assert.Equal(t, StateIdle, c.State("s1"))
}

func TestSendFailurePreservesUserTurn(t *testing.T) {
	gw := newFakeGateway(models.Session{ID: "s1", Name: "One"})
	prior := []models.Message{
		{Role: models.RoleUser, Content: "q1", Timestamp: "t1"},
		{Role: models.RoleBot, Content: "a1", Timestamp: "t2"},
	}
	gw.histories["s1"] = prior
	gw.sendErr = errOffline
	c := startedController(t, gw)

	err := c.Send(context.Background(), "q2")
	require.ErrorIs(t, err, errOffline)

	want := append(append([]models.Message(nil), prior...), userMsg("q2"), errorMsg())
	if diff := cmp.Diff(want, c.Snapshot().Messages); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, StateIdle, c.State("s1"))
}

func TestSendRecoversToIdle(t *testing.T) {
	gw := newFakeGateway(models.Session{ID: "s1", Name: "One"})
	gw.sendErr = errOffline
	c := startedController(t, gw)

	require.Error(t, c.Send(context.Background(), "first"))
	assert.Equal(t, StateIdle, c.State("s1"))

	gw.mu.Lock()
	gw.sendErr = nil
	gw.mu.Unlock()

	require.NoError(t, c.Send(context.Background(), "second"))
	assert.Equal(t, StateIdle, c.State("s1"))
	assert.Equal(t, 2, gw.sends)
}

func TestBlankSendIsRejected(t *testing.T) {
	gw := newFakeGateway()
	c := startedController(t, gw)

	err := c.Send(context.Background(), "   \n\t")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "text", verr.Field)
	assert.Empty(t, c.Snapshot().Sessions, "no session should be created for blank text")
	assert.Zero(t, gw.sends)
}

func TestSendWithoutSessionCreatesOne(t *testing.T) {
	gw := newFakeGateway()
	c := startedController(t, gw)

	require.NoError(t, c.Send(context.Background(), "hello"))

	snap := c.Snapshot()
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, "Chat 1", snap.Sessions[0].Name)
	assert.Equal(t, snap.Sessions[0].ID, snap.ActiveID)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, models.RoleUser, snap.Messages[0].Role)
	assert.Equal(t, "hello", snap.Messages[0].Content)
	assert.Equal(t, "echo: hello", snap.Messages[1].Content)
}

func TestSendWithoutSessionFailedReply(t *testing.T) {
	gw := newFakeGateway()
	gw.sendErr = errOffline
	c := startedController(t, gw)

	require.Error(t, c.Send(context.Background(), "hello"))

	snap := c.Snapshot()
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, "Chat 1", snap.Sessions[0].Name)
	assert.Equal(t, []models.Message{userMsg("hello"), errorMsg()}, snap.Messages)
}

func TestSendAbandonedWhenCreateFails(t *testing.T) {
	gw := newFakeGateway()
	gw.createErr = errOffline
	c := startedController(t, gw)

	err := c.Send(context.Background(), "hello")
	require.ErrorIs(t, err, errOffline)

	snap := c.Snapshot()
	assert.Empty(t, snap.Sessions)
	assert.Empty(t, snap.Messages, "no optimistic message without a session")
	assert.NotEmpty(t, snap.Notice)
	assert.Zero(t, gw.sends)
}

func TestCreateSessionNamesByCount(t *testing.T) {
	gw := newFakeGateway(models.Session{ID: "a", Name: "A"}, models.Session{ID: "b", Name: "B"})
	c := startedController(t, gw)

	s, err := c.CreateSession(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "Chat 3", s.Name)
	snap := c.Snapshot()
	assert.Equal(t, []string{s.ID, "a", "b"}, ids(snap.Sessions))
	assert.Equal(t, s.ID, snap.ActiveID)
	assert.Equal(t, 1, gw.fetchCount(s.ID))
}

func TestSwitchRefetchesEveryTime(t *testing.T) {
	gw := newFakeGateway(models.Session{ID: "s1"}, models.Session{ID: "s2"})
	c := startedController(t, gw)
	ctx := context.Background()

	require.NoError(t, c.Select(ctx, "s2"))
	require.NoError(t, c.Select(ctx, "s1"))

	assert.Equal(t, 2, gw.fetchCount("s1"), "start + return trip")
	assert.Equal(t, 1, gw.fetchCount("s2"))
}

func TestSelectUnknownSession(t *testing.T) {
	c := startedController(t, newFakeGateway(models.Session{ID: "s1"}))
	assert.ErrorIs(t, c.Select(context.Background(), "ghost"), ErrUnknownSession)
	assert.Equal(t, "s1", c.Snapshot().ActiveID)
}

func TestHistoryLoadFailureLeavesEmptyHistory(t *testing.T) {
	gw := newFakeGateway(models.Session{ID: "s1"}, models.Session{ID: "s2"})
	gw.histories["s1"] = []models.Message{{Content: "s1 only"}}
	c := startedController(t, gw)

	gw.mu.Lock()
	gw.fetchErr = errOffline
	gw.mu.Unlock()

	require.Error(t, c.Select(context.Background(), "s2"))
	snap := c.Snapshot()
	assert.Equal(t, "s2", snap.ActiveID)
	assert.Empty(t, snap.Messages, "the previous session's history must not leak")
}

func TestDeleteActiveSessionReassigns(t *testing.T) {
	gw := newFakeGateway(models.Session{ID: "A"}, models.Session{ID: "B"}, models.Session{ID: "C"})
	gw.histories["A"] = []models.Message{{Content: "from A"}}
	c := startedController(t, gw)
	ctx := context.Background()
	require.NoError(t, c.Select(ctx, "B"))

	require.NoError(t, c.Delete(ctx, "B"))
	snap := c.Snapshot()
	assert.Equal(t, "A", snap.ActiveID)
	assert.Equal(t, []string{"A", "C"}, ids(snap.Sessions))
	assert.Equal(t, gw.histories["A"], snap.Messages)

	require.NoError(t, c.Delete(ctx, "C"))
	assert.Equal(t, "A", c.Snapshot().ActiveID)

	require.NoError(t, c.Delete(ctx, "A"))
	snap = c.Snapshot()
	assert.Empty(t, snap.ActiveID)
	assert.Empty(t, snap.Sessions)
	assert.Empty(t, snap.Messages)
}

func TestDeleteFailureKeepsStore(t *testing.T) {
	gw := newFakeGateway(models.Session{ID: "A"}, models.Session{ID: "B"})
	gw.deleteErr = errOffline
	c := startedController(t, gw)

	require.Error(t, c.Delete(context.Background(), "A"))
	snap := c.Snapshot()
	assert.Equal(t, []string{"A", "B"}, ids(snap.Sessions))
	assert.Equal(t, "A", snap.ActiveID)
}

func TestRenameIsServerConfirmed(t *testing.T) {
	gw := newFakeGateway(models.Session{ID: "s1", Name: "Original"})
	c := startedController(t, gw)
	ctx := context.Background()

	gw.renameErr = errOffline
	require.Error(t, c.Rename(ctx, "s1", "Nope"))
	assert.Equal(t, "Original", c.Snapshot().Sessions[0].Name)

	gw.renameErr = nil
	require.NoError(t, c.Rename(ctx, "s1", "  CPU analysis  "))
	assert.Equal(t, "CPU analysis", c.Snapshot().Sessions[0].Name)
}

func TestRenameRejectsBlankName(t *testing.T) {
	c := startedController(t, newFakeGateway(models.Session{ID: "s1", Name: "Original"}))

	var verr *ValidationError
	require.ErrorAs(t, c.Rename(context.Background(), "s1", "  "), &verr)
	assert.Equal(t, "name", verr.Field)
}

func TestStaleSendResponseIsDiscarded(t *testing.T) {
	gw := newFakeGateway(models.Session{ID: "s1"}, models.Session{ID: "s2"})
	gw.histories["s2"] = []models.Message{{Role: models.RoleBot, Content: "s2 history"}}
	gw.block = make(chan struct{})
	gw.entered = make(chan string, 1)
	c := startedController(t, gw)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- c.Send(ctx, "slow question") }()
	<-gw.entered

	require.NoError(t, c.Select(ctx, "s2"))
	assert.Equal(t, StateIdle, c.Snapshot().State, "s2 has nothing in flight")
	assert.Equal(t, StateAwaitingResponse, c.State("s1"))

	close(gw.block)
	require.NoError(t, <-done)

	snap := c.Snapshot()
	assert.Equal(t, "s2", snap.ActiveID)
	assert.Equal(t, []models.Message{{Role: models.RoleBot, Content: "s2 history"}}, snap.Messages)
	assert.Equal(t, StateIdle, c.State("s1"))
}

func TestStaleSendFailureIsNotInjected(t *testing.T) {
	gw := newFakeGateway(models.Session{ID: "s1"}, models.Session{ID: "s2"})
	gw.block = make(chan struct{})
	gw.entered = make(chan string, 1)
	gw.sendErr = errOffline
	c := startedController(t, gw)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- c.Send(ctx, "doomed") }()
	<-gw.entered
	require.NoError(t, c.Select(ctx, "s2"))
	close(gw.block)

	require.ErrorIs(t, <-done, errOffline)
	assert.Empty(t, c.Snapshot().Messages)
}

func TestStaleHistoryFetchIsDiscarded(t *testing.T) {
	gw := newFakeGateway(models.Session{ID: "s1"}, models.Session{ID: "s2"})
	gw.histories["s1"] = []models.Message{{Role: models.RoleBot, Content: "s1 history"}}
	gw.histories["s2"] = []models.Message{{Role: models.RoleBot, Content: "s2 history"}}
	c := startedController(t, gw)
	ctx := context.Background()

	entered, release := gw.holdNextFetch()
	done := make(chan error, 1)
	go func() { done <- c.Select(ctx, "s2") }()
	require.Equal(t, "s2", <-entered)

	require.NoError(t, c.Select(ctx, "s1"))
	release()
	require.NoError(t, <-done)

	snap := c.Snapshot()
	assert.Equal(t, "s1", snap.ActiveID)
	assert.Equal(t, gw.histories["s1"], snap.Messages)
}

func TestLateHistoryFetchDoesNotOverwriteReply(t *testing.T) {
	gw := newFakeGateway(models.Session{ID: "s1"}, models.Session{ID: "s2"})
	c := startedController(t, gw)
	ctx := context.Background()
	require.NoError(t, c.Select(ctx, "s2"))

	// Return to s1 and send before its history arrives.
	entered, release := gw.holdNextFetch()
	done := make(chan error, 1)
	go func() { done <- c.Select(ctx, "s1") }()
	require.Equal(t, "s1", <-entered)

	require.NoError(t, c.Send(ctx, "q"))
	afterSend := c.Snapshot().Messages
	require.Len(t, afterSend, 2)

	release()
	require.NoError(t, <-done)

	snap := c.Snapshot()
	assert.Equal(t, "s1", snap.ActiveID)
	if diff := cmp.Diff(afterSend, snap.Messages); diff != "" {
		t.Errorf("the pre-send history replaced the reply (-want +got):\n%s", diff)
	}
	assert.Equal(t, "echo: q", snap.Messages[1].Content)
}

func TestWithLoggerReceivesFailures(t *testing.T) {
	var buf bytes.Buffer
	gw := newFakeGateway(models.Session{ID: "s1"})
	gw.sendErr = errOffline
	c := NewController(gw, WithLogger(log.New(&buf)))
	require.NoError(t, c.Start(context.Background()))

	require.Error(t, c.Send(context.Background(), "hello"))
	assert.Contains(t, buf.String(), "failed to send message")
	assert.Contains(t, buf.String(), "session=s1")
}

func TestRequestTimeoutReleasesAwaitingState(t *testing.T) {
	gw := newFakeGateway(models.Session{ID: "s1"})
	c := NewController(hangingGateway{gw}, WithRequestTimeout(20*time.Millisecond))
	require.NoError(t, c.Start(context.Background()))

	err := c.Send(context.Background(), "anyone there?")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateIdle, c.State("s1"))
	msgs := c.Snapshot().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, BackendErrorMessage, msgs[1].Content)
}

func TestChangesSignalled(t *testing.T) {
	c := startedController(t, newFakeGateway(models.Session{ID: "s1"}))
	// Drain whatever Start produced.
	select {
	case <-c.Changes():
	default:
	}

	require.NoError(t, c.Send(context.Background(), "ping"))
	select {
	case <-c.Changes():
	default:
		t.Fatal("expected a change signal after send")
	}
}

func TestCloseCancelsInFlightSend(t *testing.T) {
	gw := newFakeGateway(models.Session{ID: "s1"})
	c := NewController(hangingGateway{gw})
	require.NoError(t, c.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- c.Send(context.Background(), "still there?") }()
	require.Eventually(t, func() bool { return c.calls.len() == 1 }, time.Second, time.Millisecond)

	c.Close()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, StateIdle, c.State("s1"))
	assert.Equal(t, 0, c.calls.len())

	err := c.Send(context.Background(), "after close")
	require.ErrorIs(t, err, context.Canceled)
}

// hangingGateway never answers SendMessage until its context ends.
type hangingGateway struct {
	*fakeGateway
}

func (h hangingGateway) SendMessage(ctx context.Context, sessionID, text string) (models.ChatResponse, error) {
	<-ctx.Done()
	return models.ChatResponse{}, ctx.Err()
}
