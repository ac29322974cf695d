// Package state persists the per-user session snapshot across restarts.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"studybuddy/internal/logging"

	_ "modernc.org/sqlite"
)

// Snapshot is the minimal per-user state restored at bootstrap: the last
// active session and the last chat subject.
type Snapshot struct {
	SessionID string
	Subject   string
}

// Store keeps one snapshot row per user in SQLite.
//
// Writes are fire-and-forget from the caller's perspective: errors are
// logged and swallowed so a full disk or locked database never interrupts a
// send or a bootstrap.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewStore initializes the snapshot database at the given path.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		user_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create snapshots table: %w", err)
	}
	return nil
}

// Write upserts the snapshot for one user. Errors are logged, not returned.
func (s *Store) Write(userID string, snap Snapshot) {
	if userID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO snapshots (user_id, session_id, subject, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(user_id) DO UPDATE SET
		   session_id = excluded.session_id,
		   subject = excluded.subject,
		   updated_at = CURRENT_TIMESTAMP`,
		userID, snap.SessionID, snap.Subject,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("snapshot write failed: user=%s: %v", userID, err)
		return
	}
	logging.StoreDebug("snapshot written: user=%s session=%s subject=%s", userID, snap.SessionID, snap.Subject)
}

// Read returns the last written snapshot for the user, or the zero value.
func (s *Store) Read(userID string) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snap Snapshot
	err := s.db.QueryRow(
		"SELECT session_id, subject FROM snapshots WHERE user_id = ?",
		userID,
	).Scan(&snap.SessionID, &snap.Subject)
	if err != nil {
		if err != sql.ErrNoRows {
			logging.Get(logging.CategoryStore).Error("snapshot read failed: user=%s: %v", userID, err)
		}
		return Snapshot{}
	}
	return snap
}

// Clear removes only the given user's snapshot. Logging out one user must
// never erase another's cached state.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM snapshots WHERE user_id = ?", userID); err != nil {
		logging.Get(logging.CategoryStore).Error("snapshot clear failed: user=%s: %v", userID, err)
		return
	}
	logging.Store("snapshot cleared: user=%s", userID)
}

// ClearAll wipes every cached snapshot. Used as the safety net when no token
// is present at clear time and the owning user cannot be identified.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM snapshots"); err != nil {
		logging.Get(logging.CategoryStore).Error("snapshot clear-all failed: %v", err)
		return
	}
	logging.Store("all snapshots cleared")
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
