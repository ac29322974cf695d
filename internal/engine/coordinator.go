package engine

import (
	"context"
	"fmt"

	"studybuddy/internal/logging"
)

// Subject coordination.
//
// Two independently-scoped subject values live in the engine: the active
// conversation's subject and the recommendation-scoped preferred subject.
// They are updated through two distinct methods chosen by the caller, so a
// selection made in one picker can never leak into the other cell. The
// authoritative subject always comes from the backend's session record;
// local values are reconciled to it on load and after every send.

// SetChatSubject sets the active conversation's subject. It touches only the
// chat cell; the preferred subject is left untouched.
func (e *Engine) SetChatSubject(subject Subject) error {
	if !subject.IsConcrete() {
		return fmt.Errorf("not a selectable subject: %q", subject)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.chatSubject = subject
	e.persistLocked()
	logging.Session("chat subject set: user=%s subject=%s", e.userID, subject)
	return nil
}

// SetPreferredSubject sets the recommendation-scoped subject. It touches
// only the preferred cell; the active conversation's subject is left
// untouched. The backend is informed so recommendations follow the user
// across devices; a failed push keeps the local value and surfaces a notice.
func (e *Engine) SetPreferredSubject(ctx context.Context, subject Subject) error {
	if !subject.IsConcrete() {
		return fmt.Errorf("not a selectable subject: %q", subject)
	}

	e.mu.Lock()
	e.preferredSubject = subject
	e.mu.Unlock()
	logging.Session("preferred subject set: subject=%s", subject)

	if err := e.backend.SelectSubject(ctx, string(subject)); err != nil {
		e.notify(Notice{Level: NoticeWarn, Text: "Could not save your preferred subject to the server."})
		logging.Get(logging.CategorySession).Warn("preferred subject push failed: %v", err)
	}
	return nil
}

// reconcileSubjectLocked applies the backend's authoritative subject for a
// session. The update is dropped when the session is no longer the active
// one, so a slow reconcile can never mix fields from two sessions.
func (e *Engine) reconcileSubjectLocked(sessionID string, subject string) {
	if sessionID == "" || sessionID != e.sessionID {
		logging.SessionDebug("subject reconcile dropped: session=%s active=%s", sessionID, e.sessionID)
		return
	}
	s := Subject(subject)
	if s == "" {
		return
	}
	if e.chatSubject != s {
		logging.Session("chat subject reconciled: %s -> %s (session=%s)", e.chatSubject, s, sessionID)
		e.chatSubject = s
	}
}
