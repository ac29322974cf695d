package engine

import (
	"context"
	"errors"
	"time"

	"studybuddy/internal/api"
	"studybuddy/internal/auth"
	"studybuddy/internal/logging"
)

// BootstrapResult reports how session restore resolved.
type BootstrapResult struct {
	// Authenticated is false when no usable token exists; everything
	// downstream stays idle.
	Authenticated bool

	// SubjectSelectionRequired is true when the user must pick a chat
	// subject before any send can succeed.
	SubjectSelectionRequired bool

	// Restored is true when a persisted session was loaded with history.
	Restored bool
}

// Bootstrap runs once per successful authentication: validate the token,
// fetch the profile, read the persisted snapshot, and either restore the
// saved session's first page or start fresh.
//
// A persisted session that no longer exists, or that has no messages at all,
// degrades to "start new chat" without surfacing an error.
func (e *Engine) Bootstrap(ctx context.Context, token string) (BootstrapResult, error) {
	claims, err := auth.Check(token, e.now())
	if err != nil {
		e.handleAuthFailure(claims, err)
		return BootstrapResult{}, nil
	}

	e.backend.SetToken(token)
	e.mu.Lock()
	e.userID = claims.UserID
	e.isInitialLoad = true
	e.mu.Unlock()
	logging.Auth("authenticated: user=%s exp=%s", claims.UserID, claims.ExpiresAt().Format(time.RFC3339))

	// Exactly one profile fetch per authentication event. Concurrent
	// bootstraps for the same token share one flight and one result.
	profile, err, _ := e.profiles.Do(token, func() (interface{}, error) {
		return e.backend.CurrentUser(ctx)
	})
	preferred := SubjectGeneral
	if err != nil {
		e.notify(Notice{Level: NoticeWarn, Text: "Could not load your profile; using defaults."})
		logging.Get(logging.CategoryAuth).Warn("profile fetch failed: %v", err)
	} else if s := Subject(profile.(api.User).PreferredSubject); s != "" {
		preferred = s
	}
	e.mu.Lock()
	e.preferredSubject = preferred
	e.mu.Unlock()

	snap := e.store.Read(claims.UserID)
	if snap.SessionID == "" {
		return e.bootstrapFresh(preferred), nil
	}
	return e.bootstrapRestore(ctx, snap.SessionID, Subject(snap.Subject)), nil
}

// handleAuthFailure clears persisted state and emits the taxonomy-correct
// notice. An expired but decodable token identifies its user, so only that
// user's snapshot is cleared; an undecodable token cannot, so the whole
// cache is wiped as a safety net.
func (e *Engine) handleAuthFailure(claims auth.Claims, err error) {
	switch {
	case errors.Is(err, auth.ErrMissing):
		// Unauthenticated, nothing to clean up, no notice.
	case errors.Is(err, auth.ErrExpired):
		if claims.UserID != "" {
			e.store.Clear(claims.UserID)
		} else {
			e.store.ClearAll()
		}
		e.notify(Notice{Level: NoticeWarn, Text: "Your session has expired. Please log in again."})
		logging.Auth("token expired: user=%s", claims.UserID)
	default:
		e.store.ClearAll()
		e.notify(Notice{Level: NoticeError, Text: "Your login token is invalid. Please log in again."})
		logging.Get(logging.CategoryAuth).Error("token rejected: %v", err)
	}
}

// bootstrapFresh starts without a persisted session. A concrete preferred
// subject seeds the chat subject; the "general" sentinel forces subject
// selection before any chat interaction.
func (e *Engine) bootstrapFresh(preferred Subject) BootstrapResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sessionID = ""
	e.sessionName = DefaultSessionName
	e.messages = nil
	e.page = 0
	e.isInitialLoad = false

	if preferred.IsConcrete() {
		e.chatSubject = preferred
	} else {
		e.chatSubject = SubjectGeneral
	}
	e.persistLocked()
	logging.Boot("bootstrap: fresh start, subject=%s", e.chatSubject)
	return BootstrapResult{
		Authenticated:            true,
		SubjectSelectionRequired: !e.chatSubject.IsConcrete(),
	}
}

// bootstrapRestore loads the persisted session's first page. Any outcome
// that makes the session unusable (deleted out-of-band, zero messages)
// degrades to a fresh chat without an error notice.
func (e *Engine) bootstrapRestore(ctx context.Context, sessionID string, subject Subject) BootstrapResult {
	e.mu.Lock()
	e.sessionID = sessionID
	if subject.IsConcrete() {
		e.chatSubject = subject
	}
	e.mu.Unlock()

	session, err := e.backend.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			logging.Boot("bootstrap: persisted session %s gone, starting fresh", sessionID)
		} else {
			e.notify(Notice{Level: NoticeWarn, Text: "Could not restore your last session; starting a new chat."})
			logging.Get(logging.CategoryBoot).Warn("session restore failed: %v", err)
		}
		return e.fallbackToNewChat()
	}

	e.mu.Lock()
	if session.Name != "" {
		e.sessionName = session.Name
	}
	e.reconcileSubjectLocked(sessionID, session.Subject)
	e.mu.Unlock()

	empty, err := e.loadFirstPage(ctx, sessionID)
	if err != nil {
		e.notify(Notice{Level: NoticeWarn, Text: "Could not load your conversation history; starting a new chat."})
		return e.fallbackToNewChat()
	}
	if empty {
		// "No messages and page 1" marks the session unusable. Distinct
		// from end-of-history on later pages, and never an error.
		logging.Boot("bootstrap: persisted session %s has no messages, starting fresh", sessionID)
		return e.fallbackToNewChat()
	}

	e.mu.Lock()
	e.persistLocked()
	e.mu.Unlock()
	logging.Boot("bootstrap: restored session %s", sessionID)
	return BootstrapResult{Authenticated: true, Restored: true}
}

func (e *Engine) fallbackToNewChat() BootstrapResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startNewChatLocked()
	return BootstrapResult{
		Authenticated:            true,
		SubjectSelectionRequired: true,
	}
}

// SwitchSession makes another session active and loads its first page. The
// initial-load guard is raised for the new session, so scroll-triggered
// fetches stay suppressed until the first page resolves.
func (e *Engine) SwitchSession(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	if e.userID == "" {
		e.mu.Unlock()
		return ErrNotAuthenticated
	}
	e.sessionID = sessionID
	e.sessionName = DefaultSessionName
	e.messages = nil
	e.page = 0
	e.isInitialLoad = true
	e.mu.Unlock()

	session, err := e.backend.GetSession(ctx, sessionID)
	if err != nil {
		e.notify(Notice{Level: NoticeError, Text: "Could not open that session."})
		return err
	}
	e.mu.Lock()
	if sessionID == e.sessionID {
		if session.Name != "" {
			e.sessionName = session.Name
		}
		e.reconcileSubjectLocked(sessionID, session.Subject)
	}
	e.mu.Unlock()

	if _, err := e.loadFirstPage(ctx, sessionID); err != nil {
		e.notify(Notice{Level: NoticeError, Text: "Could not load that session's history."})
		return err
	}

	e.mu.Lock()
	e.persistLocked()
	e.mu.Unlock()
	return nil
}
