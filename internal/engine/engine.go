package engine

import (
	"sync"
	"time"

	"studybuddy/internal/logging"
	"studybuddy/internal/state"

	"golang.org/x/sync/singleflight"
)

// Engine owns the conversation state: the message list, both subject cells,
// and the session identity. Presentation code issues intents (Send,
// ScrollReachedTop, subject selection) and reads the resulting state; it
// never mutates any of it directly.
//
// bubbletea delivers command results from separate goroutines, so all state
// lives behind one mutex. Network calls happen outside the lock; every merge
// re-checks that the session it fetched for is still the active one.
type Engine struct {
	backend Backend
	store   SnapshotStore
	notify  func(Notice)
	now     func() time.Time

	pageSize int
	throttle time.Duration

	// profiles collapses concurrent profile fetches so exactly one /auth/me
	// call happens per authentication event.
	profiles singleflight.Group

	mu sync.Mutex

	userID           string
	preferredSubject Subject
	chatSubject      Subject

	sessionID   string
	sessionName string
	messages    []Message

	page            int
	isInitialLoad   bool
	inFlight        bool
	lastScrollCheck time.Time
}

// Options configures a new Engine.
type Options struct {
	Backend  Backend
	Store    SnapshotStore
	PageSize int
	Throttle time.Duration

	// Notify receives user-visible notices. May be nil.
	Notify func(Notice)

	// Now overrides the clock in tests. May be nil.
	Now func() time.Time
}

// New creates an Engine. Nothing talks to the network until Bootstrap.
func New(opts Options) *Engine {
	e := &Engine{
		backend:          opts.Backend,
		store:            opts.Store,
		notify:           opts.Notify,
		now:              opts.Now,
		pageSize:         opts.PageSize,
		throttle:         opts.Throttle,
		preferredSubject: SubjectGeneral,
		chatSubject:      SubjectGeneral,
		sessionName:      DefaultSessionName,
		isInitialLoad:    true,
	}
	if e.pageSize <= 0 {
		e.pageSize = 10
	}
	if e.throttle <= 0 {
		e.throttle = 200 * time.Millisecond
	}
	if e.notify == nil {
		e.notify = func(Notice) {}
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Messages returns a copy of the in-memory conversation, oldest first.
func (e *Engine) Messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// ChatSubject returns the active conversation's subject.
func (e *Engine) ChatSubject() Subject {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chatSubject
}

// PreferredSubject returns the recommendation-scoped subject.
func (e *Engine) PreferredSubject() Subject {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.preferredSubject
}

// SessionID returns the bound session id, or "" before the first send.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// SessionName returns the session's display name.
func (e *Engine) SessionName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionName
}

// UserID returns the authenticated user id, or "" when unauthenticated.
func (e *Engine) UserID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userID
}

// StartNewChat resets the conversation. The chat subject returns to the
// "general" sentinel, so the caller must run subject selection before the
// next send can succeed.
func (e *Engine) StartNewChat() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startNewChatLocked()
}

func (e *Engine) startNewChatLocked() {
	e.sessionID = ""
	e.sessionName = DefaultSessionName
	e.messages = nil
	e.page = 0
	e.isInitialLoad = false
	e.inFlight = false
	e.chatSubject = SubjectGeneral
	e.persistLocked()
	logging.Session("new chat started: user=%s", e.userID)
}

// Logout clears the signed-in user's persisted snapshot and resets all
// in-memory state. With no known user the whole cache is wiped as a safety
// net.
func (e *Engine) Logout() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.userID != "" {
		e.store.Clear(e.userID)
	} else {
		e.store.ClearAll()
	}
	e.userID = ""
	e.preferredSubject = SubjectGeneral
	e.chatSubject = SubjectGeneral
	e.sessionID = ""
	e.sessionName = DefaultSessionName
	e.messages = nil
	e.page = 0
	e.isInitialLoad = true
	e.inFlight = false
	logging.Auth("logged out")
}

// persistLocked writes the snapshot for the current user. Callers hold the
// mutex. The store tolerates failures on its own; nothing propagates.
func (e *Engine) persistLocked() {
	if e.userID == "" {
		return
	}
	e.store.Write(e.userID, state.Snapshot{
		SessionID: e.sessionID,
		Subject:   string(e.chatSubject),
	})
}
