package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"studybuddy/internal/api"
	"studybuddy/internal/state"
)

// fakeBackend scripts the remote contract. Tests configure sessions and
// pages up front and inspect recorded calls afterwards.
type fakeBackend struct {
	mu sync.Mutex

	token string

	user    api.User
	userErr error

	sessions map[string]api.Session
	// pages[sessionID][page-1] is the newest-first wire page.
	pages map[string][][]api.Message

	listErr  error
	sendErr  error
	sendResp api.SendResult

	nextSessionID int

	userCalls   int
	createCalls []string
	listCalls   []listCall
	sendCalls   []sendCall
	selectCalls []string

	// blockList, when non-nil, makes ListMessages wait until the channel is
	// closed. Used to hold a fetch in flight.
	blockList chan struct{}

	// blockUser does the same for CurrentUser.
	blockUser chan struct{}

	// onSend runs inside SendPrompt before it returns, for observing engine
	// state mid-call.
	onSend func()
}

type listCall struct {
	sessionID string
	page      int
}

type sendCall struct {
	sessionID string
	prompt    string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sessions:      make(map[string]api.Session),
		pages:         make(map[string][][]api.Message),
		nextSessionID: 100,
	}
}

func (f *fakeBackend) SetToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *fakeBackend) CurrentUser(ctx context.Context) (api.User, error) {
	f.mu.Lock()
	f.userCalls++
	block := f.blockUser
	user, err := f.user, f.userErr
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	return user, err
}

func (f *fakeBackend) CreateSession(ctx context.Context, subject string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls = append(f.createCalls, subject)
	id := fmt.Sprintf("%d", f.nextSessionID)
	f.nextSessionID++
	f.sessions[id] = api.Session{ID: id, Name: "Untitled Session", Subject: subject}
	return id, nil
}

func (f *fakeBackend) GetSession(ctx context.Context, sessionID string) (api.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return api.Session{}, api.ErrNotFound
	}
	return s, nil
}

func (f *fakeBackend) ListMessages(ctx context.Context, sessionID string, page, limit int) ([]api.Message, error) {
	f.mu.Lock()
	f.listCalls = append(f.listCalls, listCall{sessionID: sessionID, page: page})
	block := f.blockList
	err := f.listErr
	pages := f.pages[sessionID]
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	if page < 1 || page > len(pages) {
		return nil, nil
	}
	return pages[page-1], nil
}

func (f *fakeBackend) SendPrompt(ctx context.Context, sessionID, prompt string) (api.SendResult, error) {
	f.mu.Lock()
	f.sendCalls = append(f.sendCalls, sendCall{sessionID: sessionID, prompt: prompt})
	onSend := f.onSend
	resp, err := f.sendResp, f.sendErr
	f.mu.Unlock()

	if onSend != nil {
		onSend()
	}
	return resp, err
}

func (f *fakeBackend) SelectSubject(ctx context.Context, subject string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selectCalls = append(f.selectCalls, subject)
	return nil
}

func (f *fakeBackend) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userCalls + len(f.createCalls) + len(f.listCalls) + len(f.sendCalls) + len(f.selectCalls)
}

// fakeStore is an in-memory SnapshotStore.
type fakeStore struct {
	mu        sync.Mutex
	snaps     map[string]state.Snapshot
	clearAlls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{snaps: make(map[string]state.Snapshot)}
}

func (s *fakeStore) Write(userID string, snap state.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[userID] = snap
}

func (s *fakeStore) Read(userID string) state.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snaps[userID]
}

func (s *fakeStore) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, userID)
}

func (s *fakeStore) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = make(map[string]state.Snapshot)
	s.clearAlls++
}

// noticeRecorder collects notices. Safe for use as the engine sink.
type noticeRecorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *noticeRecorder) record(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *noticeRecorder) all() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// fakeClock is a manually advanced clock for throttle tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// wirePage builds a newest-first wire page from chronological turns.
func wirePage(base time.Time, startIdx int, turns ...string) []api.Message {
	msgs := make([]api.Message, 0, len(turns))
	for i := len(turns) - 1; i >= 0; i-- {
		role := "user"
		if (startIdx+i)%2 == 1 {
			role = "assistant"
		}
		msgs = append(msgs, api.Message{
			Role:      role,
			Content:   turns[i],
			Timestamp: base.Add(time.Duration(startIdx+i) * time.Minute),
		})
	}
	return msgs
}
