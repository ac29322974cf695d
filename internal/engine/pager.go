package engine

import (
	"context"
	"fmt"

	"studybuddy/internal/api"
	"studybuddy/internal/logging"

	"github.com/google/uuid"
)

// History pagination.
//
// The backend serves fixed-size pages newest-first; each page is reversed to
// chronological order before merging. Page 1 replaces the in-memory list,
// pages beyond it prepend older history to the front. Two guards keep the
// list coherent: no scroll-triggered fetch runs while the initial load is
// unresolved, and no fetch is issued while another is in flight. A fetch
// whose session is no longer active when it resolves is discarded at the
// merge step.

// loadFirstPage fetches page 1 for sessionID and replaces the list.
// The empty result reports whether the session has no messages at all,
// which bootstrap treats as "session unusable, start a new chat".
func (e *Engine) loadFirstPage(ctx context.Context, sessionID string) (empty bool, err error) {
	e.mu.Lock()
	if e.inFlight {
		e.mu.Unlock()
		return false, fmt.Errorf("page load already in flight")
	}
	e.inFlight = true
	pageSize := e.pageSize
	e.mu.Unlock()

	fetched, err := e.backend.ListMessages(ctx, sessionID, 1, pageSize)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight = false

	if err != nil {
		logging.Get(logging.CategoryPager).Error("initial page load failed: session=%s: %v", sessionID, err)
		return false, err
	}
	if sessionID != e.sessionID {
		// Superseded while in flight; the active session moved on.
		logging.PagerDebug("initial page discarded: session=%s active=%s", sessionID, e.sessionID)
		return false, nil
	}

	e.messages = toMessages(fetched)
	e.page = 1
	e.isInitialLoad = false
	logging.Pager("initial page loaded: session=%s messages=%d", sessionID, len(e.messages))
	return len(fetched) == 0, nil
}

// ScrollReachedTop is the intent fired when the message container scrolls to
// its top edge. Checks are throttled to one per throttle interval; a fetch
// is only issued when the initial load has resolved, nothing else is in
// flight, and the list already holds a full page. A trigger arriving while
// guarded is dropped, not queued.
func (e *Engine) ScrollReachedTop(ctx context.Context) error {
	e.mu.Lock()
	now := e.now()
	if now.Sub(e.lastScrollCheck) < e.throttle {
		e.mu.Unlock()
		return nil
	}
	e.lastScrollCheck = now

	if e.isInitialLoad || e.inFlight || e.sessionID == "" || len(e.messages) < e.pageSize {
		e.mu.Unlock()
		return nil
	}

	sessionID := e.sessionID
	page := e.page + 1
	pageSize := e.pageSize
	e.inFlight = true
	e.mu.Unlock()

	logging.Pager("loading older history: session=%s page=%d", sessionID, page)
	fetched, err := e.backend.ListMessages(ctx, sessionID, page, pageSize)

	e.mu.Lock()
	e.inFlight = false

	if err != nil {
		e.mu.Unlock()
		e.notify(Notice{Level: NoticeError, Text: "Could not load older messages."})
		logging.Get(logging.CategoryPager).Error("page load failed: session=%s page=%d: %v", sessionID, page, err)
		return err
	}
	if sessionID != e.sessionID {
		e.mu.Unlock()
		logging.PagerDebug("page discarded: session=%s active=%s", sessionID, e.sessionID)
		return nil
	}
	if len(fetched) == 0 {
		// End of history; distinct from an empty page 1.
		e.mu.Unlock()
		logging.PagerDebug("end of history: session=%s page=%d", sessionID, page)
		return nil
	}

	e.messages = append(e.dedupeLocked(toMessages(fetched)), e.messages...)
	e.page = page
	e.mu.Unlock()

	logging.Pager("older page merged: session=%s page=%d added=%d", sessionID, page, len(fetched))
	return nil
}

// dedupeLocked drops records already present in the list. Page boundaries
// shift as new turns are appended, so a refetched older page can overlap
// records merged earlier.
func (e *Engine) dedupeLocked(batch []Message) []Message {
	if len(batch) == 0 {
		return batch
	}
	seen := make(map[string]struct{}, len(e.messages))
	for _, m := range e.messages {
		seen[m.identity()] = struct{}{}
	}
	out := batch[:0]
	for _, m := range batch {
		if _, dup := seen[m.identity()]; dup {
			continue
		}
		out = append(out, m)
	}
	return out
}

// toMessages reverses a newest-first wire page into chronological order.
func toMessages(fetched []api.Message) []Message {
	out := make([]Message, 0, len(fetched))
	for i := len(fetched) - 1; i >= 0; i-- {
		m := fetched[i]
		out = append(out, Message{
			Key:       uuid.NewString(),
			Role:      Role(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return out
}
