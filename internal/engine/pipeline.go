package engine

import (
	"context"
	"strings"

	"studybuddy/internal/logging"

	"github.com/google/uuid"
)

// fallbackMarkers are the fixed strings the backend's LLM layer returns when
// generation degrades instead of failing. A reply containing one is a
// successful response carrying a degraded-service signal, not an error.
// TODO: replace with a structured flag on the /qa response once the backend
// exposes one.
var fallbackMarkers = []string{
	"I apologize, but I encountered an error",
	"I apologize, but I couldn't generate a proper response",
}

// Send runs the message pipeline: optimistic local append, lazy session
// creation on the first send, prompt submission, assistant append, first
// exchange rename, and subject reconciliation. The snapshot is persisted on
// completion whether or not the remote calls succeeded.
//
// Blank input is a no-op. A send while the chat subject is still "general"
// is rejected without any network traffic; the caller should open subject
// selection.
func (e *Engine) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyPrompt
	}

	e.mu.Lock()
	if e.userID == "" {
		e.mu.Unlock()
		return ErrNotAuthenticated
	}
	if !e.chatSubject.IsConcrete() {
		e.mu.Unlock()
		return ErrSubjectRequired
	}

	// Optimistic append: the user's turn is visible before any network call
	// is issued, so a slow backend never delays feedback.
	e.messages = append(e.messages, Message{
		Key:       uuid.NewString(),
		Role:      RoleUser,
		Content:   text,
		Timestamp: e.now(),
	})
	subject := e.chatSubject
	sessionID := e.sessionID
	firstExchange := e.sessionName == DefaultSessionName
	e.mu.Unlock()

	// The snapshot write runs on every completion path from here on.
	defer func() {
		e.mu.Lock()
		e.persistLocked()
		e.mu.Unlock()
	}()

	// Lazy session creation: the sole creation path for a session.
	if sessionID == "" {
		created, err := e.backend.CreateSession(ctx, string(subject))
		if err != nil {
			e.notify(Notice{Level: NoticeError, Text: "Could not start a session. Your message was not sent."})
			logging.Get(logging.CategorySession).Error("session create failed: %v", err)
			return err
		}
		e.mu.Lock()
		e.sessionID = created
		e.isInitialLoad = false
		sessionID = created
		e.mu.Unlock()
		logging.Session("session bound: id=%s subject=%s", created, subject)
	}

	result, err := e.backend.SendPrompt(ctx, sessionID, text)
	if err != nil {
		// The optimistic message stays visible so the user keeps their
		// input context.
		e.notify(Notice{Level: NoticeError, Text: "Sending failed. Please try again."})
		logging.Get(logging.CategorySession).Error("send failed: session=%s: %v", sessionID, err)
		return err
	}

	e.mu.Lock()
	if sessionID == e.sessionID {
		e.messages = append(e.messages, Message{
			Key:       uuid.NewString(),
			Role:      RoleAssistant,
			Content:   result.Response,
			Timestamp: e.now(),
		})
		if firstExchange && result.SessionName != "" {
			e.sessionName = result.SessionName
			logging.Session("session named: id=%s name=%q", sessionID, result.SessionName)
		}
	}
	e.mu.Unlock()

	if isFallbackResponse(result.Response) {
		e.notify(Notice{Level: NoticeInfo, Text: "The tutor is running at reduced capacity right now; answers may be limited."})
	}

	// Trailing reconcile: the backend may have inferred or changed the
	// session's subject while answering. Best effort; the next load
	// reconciles again.
	if session, err := e.backend.GetSession(ctx, sessionID); err == nil {
		e.mu.Lock()
		e.reconcileSubjectLocked(sessionID, session.Subject)
		e.mu.Unlock()
	} else {
		logging.SessionDebug("post-send session fetch failed: %v", err)
	}

	return nil
}

func isFallbackResponse(response string) bool {
	for _, marker := range fallbackMarkers {
		if strings.Contains(response, marker) {
			return true
		}
	}
	return false
}
