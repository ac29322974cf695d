package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"studybuddy/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testHarness bundles an engine with its scripted collaborators.
type testHarness struct {
	engine  *Engine
	backend *fakeBackend
	store   *fakeStore
	notices *noticeRecorder
	clock   *fakeClock
}

func newTestHarness(t *testing.T, pageSize int) *testHarness {
	t.Helper()
	h := &testHarness{
		backend: newFakeBackend(),
		store:   newFakeStore(),
		notices: &noticeRecorder{},
		clock:   newFakeClock(),
	}
	h.engine = New(Options{
		Backend:  h.backend,
		Store:    h.store,
		PageSize: pageSize,
		Throttle: 200 * time.Millisecond,
		Notify:   h.notices.record,
		Now:      h.clock.now,
	})
	return h
}

// token builds an unsigned three-segment token the guard can decode. The
// header and signature segments are never inspected client-side.
func (h *testHarness) token(t *testing.T, userID string, expiresIn time.Duration) string {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"sub": userID,
		"exp": h.clock.now().Add(expiresIn).Unix(),
	})
	require.NoError(t, err)
	return "hdr." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

// bootstrapFresh authenticates with no persisted snapshot and the given
// preferred subject on the profile.
func (h *testHarness) bootstrapFresh(t *testing.T, userID, preferred string) BootstrapResult {
	t.Helper()
	h.backend.mu.Lock()
	h.backend.user.PreferredSubject = preferred
	h.backend.mu.Unlock()

	res, err := h.engine.Bootstrap(context.Background(), h.token(t, userID, time.Hour))
	require.NoError(t, err)
	require.True(t, res.Authenticated)
	return res
}

func TestNewDefaults(t *testing.T) {
	e := New(Options{Backend: newFakeBackend(), Store: newFakeStore()})
	if e.pageSize != 10 {
		t.Errorf("pageSize = %d, want 10", e.pageSize)
	}
	if e.throttle != 200*time.Millisecond {
		t.Errorf("throttle = %v, want 200ms", e.throttle)
	}
	if e.ChatSubject() != SubjectGeneral {
		t.Errorf("chat subject = %q, want general", e.ChatSubject())
	}
	if e.SessionName() != DefaultSessionName {
		t.Errorf("session name = %q, want %q", e.SessionName(), DefaultSessionName)
	}
}

func TestStartNewChatResetsToSentinel(t *testing.T) {
	h := newTestHarness(t, 10)
	h.bootstrapFresh(t, "u1", "math")
	require.NoError(t, h.engine.Send(context.Background(), "hello"))
	require.NotEmpty(t, h.engine.SessionID())

	h.engine.StartNewChat()

	require.Empty(t, h.engine.SessionID())
	require.Equal(t, SubjectGeneral, h.engine.ChatSubject())
	require.Equal(t, DefaultSessionName, h.engine.SessionName())
	require.Empty(t, h.engine.Messages())

	// Reset is persisted immediately, not deferred to the next send.
	snap := h.store.Read("u1")
	require.Equal(t, state.Snapshot{Subject: "general"}, snap)
}

func TestLogoutClearsOnlyCurrentUser(t *testing.T) {
	h := newTestHarness(t, 10)
	h.store.Write("u2", state.Snapshot{SessionID: "77", Subject: "coding"})
	h.bootstrapFresh(t, "u1", "math")

	h.engine.Logout()

	require.Equal(t, state.Snapshot{}, h.store.Read("u1"))
	require.Equal(t, state.Snapshot{SessionID: "77", Subject: "coding"}, h.store.Read("u2"))
	require.Empty(t, h.engine.UserID())
	require.Equal(t, SubjectGeneral, h.engine.ChatSubject())
}

func TestMessagesReturnsCopy(t *testing.T) {
	h := newTestHarness(t, 10)
	h.bootstrapFresh(t, "u1", "math")
	require.NoError(t, h.engine.Send(context.Background(), "hello"))

	got := h.engine.Messages()
	require.NotEmpty(t, got)
	got[0].Content = "mutated"

	require.NotEqual(t, "mutated", h.engine.Messages()[0].Content)
}
