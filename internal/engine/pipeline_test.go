package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"studybuddy/internal/api"
)

func TestSendRejectsBlankInput(t *testing.T) {
	h := newTestHarness(t, 10)
	h.bootstrapFresh(t, "u1", "math")
	before := h.backend.totalCalls()

	require.ErrorIs(t, h.engine.Send(context.Background(), ""), ErrEmptyPrompt)
	require.ErrorIs(t, h.engine.Send(context.Background(), "   \t\n"), ErrEmptyPrompt)

	require.Equal(t, before, h.backend.totalCalls())
	require.Empty(t, h.engine.Messages())
}

func TestSendRequiresAuthentication(t *testing.T) {
	h := newTestHarness(t, 10)
	require.ErrorIs(t, h.engine.Send(context.Background(), "hello"), ErrNotAuthenticated)
	require.Zero(t, h.backend.totalCalls())
}

func TestSendRequiresConcreteSubject(t *testing.T) {
	h := newTestHarness(t, 10)
	res := h.bootstrapFresh(t, "u1", "")
	require.True(t, res.SubjectSelectionRequired)
	before := h.backend.totalCalls()

	require.ErrorIs(t, h.engine.Send(context.Background(), "hello"), ErrSubjectRequired)

	require.Equal(t, before, h.backend.totalCalls())
	require.Empty(t, h.engine.Messages())
}

func TestSendCreatesSessionLazilyOnce(t *testing.T) {
	h := newTestHarness(t, 10)
	h.bootstrapFresh(t, "u1", "math")
	h.backend.mu.Lock()
	h.backend.sendResp = api.SendResult{Response: "x = 4", SessionName: "Solving for x"}
	h.backend.mu.Unlock()

	require.NoError(t, h.engine.Send(context.Background(), "solve 2x = 8"))
	require.NoError(t, h.engine.Send(context.Background(), "and 3x = 9?"))

	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	require.Equal(t, []string{"math"}, h.backend.createCalls)
	require.Len(t, h.backend.sendCalls, 2)
	require.Equal(t, h.backend.sendCalls[0].sessionID, h.backend.sendCalls[1].sessionID)
}

func TestSendAppendsOptimisticallyBeforeNetwork(t *testing.T) {
	h := newTestHarness(t, 10)
	h.bootstrapFresh(t, "u1", "math")

	var seen []Message
	h.backend.mu.Lock()
	h.backend.onSend = func() { seen = h.engine.Messages() }
	h.backend.mu.Unlock()

	require.NoError(t, h.engine.Send(context.Background(), "hello"))

	// The user's turn was already visible when the prompt went out.
	require.Len(t, seen, 1)
	require.Equal(t, RoleUser, seen[0].Role)
	require.Equal(t, "hello", seen[0].Content)
}

func TestSendFailureKeepsOptimisticMessage(t *testing.T) {
	h := newTestHarness(t, 10)
	h.bootstrapFresh(t, "u1", "math")
	h.backend.mu.Lock()
	h.backend.sendErr = errors.New("backend down")
	h.backend.mu.Unlock()

	require.Error(t, h.engine.Send(context.Background(), "hello"))

	msgs := h.engine.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, RoleUser, msgs[0].Role)

	notices := h.notices.all()
	require.Len(t, notices, 1)
	require.Equal(t, NoticeError, notices[0].Level)

	// The session bound before the failure; the snapshot reflects it.
	require.Equal(t, h.engine.SessionID(), h.store.Read("u1").SessionID)
}

func TestSendNamesSessionOnFirstExchangeOnly(t *testing.T) {
	h := newTestHarness(t, 10)
	h.bootstrapFresh(t, "u1", "math")
	h.backend.mu.Lock()
	h.backend.sendResp = api.SendResult{Response: "ok", SessionName: "Quadratics"}
	h.backend.mu.Unlock()

	require.NoError(t, h.engine.Send(context.Background(), "first"))
	require.Equal(t, "Quadratics", h.engine.SessionName())

	h.backend.mu.Lock()
	h.backend.sendResp = api.SendResult{Response: "ok", SessionName: "Renamed"}
	h.backend.mu.Unlock()

	require.NoError(t, h.engine.Send(context.Background(), "second"))
	require.Equal(t, "Quadratics", h.engine.SessionName())
}

func TestSendAppendsAssistantReply(t *testing.T) {
	h := newTestHarness(t, 10)
	h.bootstrapFresh(t, "u1", "coding")
	h.backend.mu.Lock()
	h.backend.sendResp = api.SendResult{Response: "use a slice"}
	h.backend.mu.Unlock()

	require.NoError(t, h.engine.Send(context.Background(), "arrays in go?"))

	msgs := h.engine.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, RoleUser, msgs[0].Role)
	require.Equal(t, RoleAssistant, msgs[1].Role)
	require.Equal(t, "use a slice", msgs[1].Content)
	requireNoDuplicates(t, msgs)
}

func TestSendFallbackReplyIsDegradedServiceNotError(t *testing.T) {
	h := newTestHarness(t, 10)
	h.bootstrapFresh(t, "u1", "math")
	h.backend.mu.Lock()
	h.backend.sendResp = api.SendResult{
		Response: "I apologize, but I couldn't generate a proper response to your question.",
	}
	h.backend.mu.Unlock()

	require.NoError(t, h.engine.Send(context.Background(), "hello"))

	// The reply still lands in the conversation.
	msgs := h.engine.Messages()
	require.Len(t, msgs, 2)

	notices := h.notices.all()
	require.Len(t, notices, 1)
	require.Equal(t, NoticeInfo, notices[0].Level)
}

func TestSendReconcilesSubjectFromSessionRecord(t *testing.T) {
	h := newTestHarness(t, 10)
	h.bootstrapFresh(t, "u1", "math")
	h.backend.mu.Lock()
	h.backend.sendResp = api.SendResult{Response: "ok"}
	h.backend.onSend = func() {
		// The backend reclassifies the session while answering.
		h.backend.mu.Lock()
		for id, s := range h.backend.sessions {
			s.Subject = "physics"
			h.backend.sessions[id] = s
		}
		h.backend.mu.Unlock()
	}
	h.backend.mu.Unlock()

	require.NoError(t, h.engine.Send(context.Background(), "projectile motion"))

	require.Equal(t, SubjectPhysics, h.engine.ChatSubject())
	// The reconcile touches only the chat cell.
	require.Equal(t, SubjectMath, h.engine.PreferredSubject())
}

func TestSendPersistsSnapshotOnEveryPath(t *testing.T) {
	h := newTestHarness(t, 10)
	h.bootstrapFresh(t, "u1", "math")

	require.NoError(t, h.engine.Send(context.Background(), "hello"))
	snap := h.store.Read("u1")
	require.Equal(t, h.engine.SessionID(), snap.SessionID)
	require.Equal(t, "math", snap.Subject)
}
