// Package engine implements the client-side session and pagination
// synchronization core: restoring the right conversation after a restart,
// fetching and merging paged history without reordering or duplicating it,
// keeping the two subject scopes from cross-contaminating, and persisting
// the per-user snapshot through all of it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studybuddy/internal/api"
	"studybuddy/internal/state"
)

// Subject is a tutoring domain. SubjectGeneral is the "unset" sentinel for
// the chat subject: a conversation cannot start until a concrete subject is
// chosen.
type Subject string

const (
	SubjectGeneral Subject = "general"
	SubjectMath    Subject = "math"
	SubjectCoding  Subject = "coding"
	SubjectIELTS   Subject = "ielts"
	SubjectPhysics Subject = "physics"
)

// Subjects returns the selectable (concrete) subjects.
func Subjects() []Subject {
	return []Subject{SubjectMath, SubjectCoding, SubjectIELTS, SubjectPhysics}
}

// IsConcrete reports whether s is a selectable subject (not the sentinel).
func (s Subject) IsConcrete() bool {
	switch s {
	case SubjectMath, SubjectCoding, SubjectIELTS, SubjectPhysics:
		return true
	}
	return false
}

// DefaultSessionName is the display name a session carries until the backend
// names it on the first exchange.
const DefaultSessionName = "Untitled Session"

// Role tags one side of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in the in-memory conversation list. The list is kept
// oldest-to-newest with no duplicate entries for the same backend record.
type Message struct {
	// Key is a client-local identifier (uuid) used by the UI; it is not a
	// backend id.
	Key       string
	Role      Role
	Content   string
	Timestamp time.Time
}

// identity is the duplicate-suppression key for a backend record. The wire
// format carries no message id, so role+timestamp+content stands in for one.
func (m Message) identity() string {
	return fmt.Sprintf("%s|%d|%s", m.Role, m.Timestamp.UnixNano(), m.Content)
}

// NoticeLevel classifies user-visible notices.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeWarn
	NoticeError
)

// Notice is a user-visible message produced at the boundary where a failure
// (or degraded-service signal) occurred. State is never left partially
// updated behind a notice.
type Notice struct {
	Level NoticeLevel
	Text  string
}

var (
	// ErrEmptyPrompt rejects blank input before any state change.
	ErrEmptyPrompt = errors.New("empty prompt")

	// ErrSubjectRequired rejects sends while the chat subject is the
	// "general" sentinel; the caller should open subject selection.
	ErrSubjectRequired = errors.New("subject selection required")

	// ErrNotAuthenticated rejects operations before a successful Bootstrap.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Backend is the remote contract the engine consumes. *api.Client satisfies
// it; tests script a fake.
type Backend interface {
	SetToken(token string)
	CurrentUser(ctx context.Context) (api.User, error)
	CreateSession(ctx context.Context, subject string) (string, error)
	GetSession(ctx context.Context, sessionID string) (api.Session, error)
	ListMessages(ctx context.Context, sessionID string, page, limit int) ([]api.Message, error)
	SendPrompt(ctx context.Context, sessionID, prompt string) (api.SendResult, error)
	SelectSubject(ctx context.Context, subject string) error
}

// SnapshotStore is the per-user persisted snapshot. *state.Store satisfies
// it. Writes are fire-and-forget; implementations must not fail the caller.
type SnapshotStore interface {
	Write(userID string, snap state.Snapshot)
	Read(userID string) state.Snapshot
	Clear(userID string)
	ClearAll()
}
