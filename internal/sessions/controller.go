package sessions

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/strrl/agentchat/internal/logger"
	"github.com/strrl/agentchat/pkg/models"
)

// BackendErrorMessage is the bot turn injected into history when a send fails
const BackendErrorMessage = "Error: Could not connect to the agent backend. Please ensure the server is running."

// State is the send state of a single session
type State int

const (
	StateIdle State = iota
	StateAwaitingResponse
)

// String returns the state name used in logs
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponse:
		return "awaiting-response"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Gateway is the request/response boundary to the agent backend
type Gateway interface {
	ListSessions(ctx context.Context) ([]models.Session, error)
	CreateSession(ctx context.Context, name string) (models.Session, error)
	RenameSession(ctx context.Context, id, name string) error
	DeleteSession(ctx context.Context, id string) error
	FetchHistory(ctx context.Context, sessionID string) ([]models.Message, error)
	SendMessage(ctx context.Context, sessionID, text string) (models.ChatResponse, error)
}

// Snapshot is a consistent copy of the controller state for rendering
type Snapshot struct {
	Sessions []models.Session
	ActiveID string
	Messages []models.Message
	State    State
	Notice   string // last error surfaced to the user, if any
}

// ActiveSession returns the active session, if any
func (s Snapshot) ActiveSession() (models.Session, bool) {
	for _, session := range s.Sessions {
		if session.ID == s.ActiveID {
			return session, true
		}
	}
	return models.Session{}, false
}

// Controller reconciles the local session store and history cache with
// the backend. Optimistic entries are shown immediately and superseded by
// the backend's history once it answers.
type Controller struct {
	gw Gateway

	mu      sync.Mutex
	store   *Store
	history *HistoryCache
	pending map[string]bool
	notice  string

	calls   *inflight
	changes chan struct{}
	now     func() time.Time
	timeout time.Duration
	log     *log.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source used to stamp local messages.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRequestTimeout bounds every backend call. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// WithLogger sets the logger used for load and send failures.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// NewController creates a controller with an empty store and cache
func NewController(gw Gateway, opts ...Option) *Controller {
	c := &Controller{
		gw:      gw,
		store:   NewStore(),
		history: NewHistoryCache(),
		pending: make(map[string]bool),
		calls:   newInflight(),
		changes: make(chan struct{}, 1),
		now:     time.Now,
		log:     logger.With("component", "sync"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultSessionName returns the name given to the session created when
// count sessions already exist
func DefaultSessionName(count int) string {
	return fmt.Sprintf("Chat %d", count+1)
}

// Changes delivers a signal after every state mutation. Signals coalesce,
// so readers should take a fresh Snapshot on each one.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

// Snapshot returns a copy of the current state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Sessions: c.store.List(),
		ActiveID: c.store.Active(),
		Notice:   c.notice,
	}
	if c.history.SessionID() == snap.ActiveID {
		snap.Messages = c.history.Messages()
	}
	if c.pending[snap.ActiveID] {
		snap.State = StateAwaitingResponse
	}
	return snap
}

// State returns the send state of the given session
func (c *Controller) State(sessionID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[sessionID] {
		return StateAwaitingResponse
	}
	return StateIdle
}

// Close cancels every backend call still in flight. Calls made after
// Close fail immediately with context.Canceled.
func (c *Controller) Close() {
	c.calls.close()
}

// ClearNotice drops the surfaced error once the user has seen it
func (c *Controller) ClearNotice() {
	c.mu.Lock()
	changed := c.notice != ""
	c.notice = ""
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// Start loads the session list and activates the first session when
// nothing is active yet. On failure the previous state is kept.
func (c *Controller) Start(ctx context.Context) error {
	callCtx, cancel := c.callContext(ctx)
	list, err := c.gw.ListSessions(callCtx)
	cancel()
	if err != nil {
		c.log.Error("failed to load sessions", "err", err)
		c.surface(err)
		return fmt.Errorf("failed to load sessions: %w", err)
	}

	c.mu.Lock()
	prev := c.store.Active()
	c.store.Load(list)
	target := c.store.Active()
	if target == "" && c.store.Len() > 0 {
		target = c.store.sessions[0].ID
	}
	c.mu.Unlock()
	c.notify()

	if target == prev && target != "" {
		return nil
	}
	return c.activate(ctx, target)
}

// Select makes id the active session and refetches its history.
// Selecting the already active session does nothing.
func (c *Controller) Select(ctx context.Context, id string) error {
	c.mu.Lock()
	if id != "" && !c.store.Has(id) {
		c.mu.Unlock()
		return fmt.Errorf("failed to select session %s: %w", id, ErrUnknownSession)
	}
	same := c.store.Active() == id
	c.mu.Unlock()

	if same {
		return nil
	}
	return c.activate(ctx, id)
}

// CreateSession asks the backend for a new session, puts it first and
// activates it. A blank name becomes "Chat {n+1}".
func (c *Controller) CreateSession(ctx context.Context, name string) (models.Session, error) {
	if strings.TrimSpace(name) == "" {
		c.mu.Lock()
		name = DefaultSessionName(c.store.Len())
		c.mu.Unlock()
	}

	callCtx, cancel := c.callContext(ctx)
	session, err := c.gw.CreateSession(callCtx, name)
	cancel()
	if err != nil {
		c.log.Error("failed to create session", "name", name, "err", err)
		c.surface(err)
		return models.Session{}, fmt.Errorf("failed to create session: %w", err)
	}

	c.mu.Lock()
	c.store.Prepend(session)
	c.mu.Unlock()

	// A history load failure is logged and surfaced by activate; the
	// session itself exists either way.
	_ = c.activate(ctx, session.ID)
	return session, nil
}

// Rename renames a session once the backend confirms it
func (c *Controller) Rename(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &ValidationError{Field: "name", Reason: "must not be blank"}
	}
	if !c.known(id) {
		return fmt.Errorf("failed to rename session %s: %w", id, ErrUnknownSession)
	}

	callCtx, cancel := c.callContext(ctx)
	err := c.gw.RenameSession(callCtx, id, name)
	cancel()
	if err != nil {
		c.log.Error("failed to rename session", "session", id, "err", err)
		c.surface(err)
		return fmt.Errorf("failed to rename session: %w", err)
	}

	c.mu.Lock()
	c.store.Rename(id, name)
	c.mu.Unlock()
	c.notify()
	return nil
}

// Delete removes a session once the backend confirms it. Deleting the
// active session activates the first remaining one, or none.
func (c *Controller) Delete(ctx context.Context, id string) error {
	if !c.known(id) {
		return fmt.Errorf("failed to delete session %s: %w", id, ErrUnknownSession)
	}

	callCtx, cancel := c.callContext(ctx)
	err := c.gw.DeleteSession(callCtx, id)
	cancel()
	if err != nil {
		c.log.Error("failed to delete session", "session", id, "err", err)
		c.surface(err)
		return fmt.Errorf("failed to delete session: %w", err)
	}

	c.mu.Lock()
	prev := c.store.Active()
	next := c.store.Remove(id)
	c.mu.Unlock()
	c.notify()

	if next == prev {
		return nil
	}
	return c.activate(ctx, next)
}

// Send delivers text to the active session, creating a session first
// when none exists. Blank text is rejected without contacting the backend.
func (c *Controller) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Field: "text", Reason: "message is empty"}
	}

	c.mu.Lock()
	id := c.store.Active()
	c.mu.Unlock()

	if id == "" {
		session, err := c.CreateSession(ctx, "")
		if err != nil {
			return err
		}
		id = session.ID
	}
	return c.sendToBackend(ctx, id, text)
}

func (c *Controller) sendToBackend(ctx context.Context, id, text string) error {
	c.mu.Lock()
	if c.pending[id] {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	if err := c.history.Append(id, models.NewMessage(models.RoleUser, text, c.now())); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to send to session %s: %w", id, err)
	}
	c.pending[id] = true
	c.mu.Unlock()
	c.notify()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		c.notify()
	}()

	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	resp, err := c.gw.SendMessage(callCtx, id, text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.history.SessionID() != id {
		c.log.Debug("discarding response for inactive session", "session", id, "err", err)
		if err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
		return nil
	}

	if err != nil {
		c.log.Error("failed to send message", "session", id, "err", err)
		_ = c.history.Append(id, models.NewMessage(models.RoleBot, BackendErrorMessage, c.now()))
		return fmt.Errorf("failed to send message: %w", err)
	}

	c.history.Replace(id, resp.History)
	return nil
}

// activate moves the active pointer and loads history for it
func (c *Controller) activate(ctx context.Context, id string) error {
	c.mu.Lock()
	c.store.SetActive(id)
	if id == "" {
		c.history.Clear()
	} else {
		c.history.Reset(id)
	}
	gen := c.history.Generation()
	c.mu.Unlock()
	c.notify()

	if id == "" {
		return nil
	}
	return c.loadHistory(ctx, id, gen)
}

// loadHistory replaces the cache with the backend's history of id unless
// the cache was written after gen, e.g. by a send that finished first.
func (c *Controller) loadHistory(ctx context.Context, id string, gen uint64) error {
	callCtx, cancel := c.callContext(ctx)
	messages, err := c.gw.FetchHistory(callCtx, id)
	cancel()

	defer c.notify()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store.Active() != id || c.history.SessionID() != id {
		c.log.Debug("discarding history for inactive session", "session", id)
		return nil
	}
	if c.history.Generation() != gen {
		c.log.Debug("discarding history superseded by a newer write", "session", id)
		return nil
	}
	if err != nil {
		c.log.Warn("failed to load history", "session", id, "err", err)
		c.notice = err.Error()
		return fmt.Errorf("failed to load history: %w", err)
	}

	c.history.Replace(id, messages)
	return nil
}

func (c *Controller) known(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Has(id)
}

func (c *Controller) surface(err error) {
	c.mu.Lock()
	c.notice = err.Error()
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

func (c *Controller) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	callCtx, requestID, done := c.calls.begin(ctx, c.timeout)
	c.log.Debug("backend call", "request", requestID)
	return callCtx, done
}
