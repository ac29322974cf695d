package auth

import (
	"os"
	"path/filepath"
	"strings"

	"studybuddy/internal/logging"
)

const tokenFile = "token"

// TokenStore persists the signed token in the state directory.
type TokenStore struct {
	dir string
}

// NewTokenStore creates a token store rooted at the given state directory.
func NewTokenStore(dir string) *TokenStore {
	return &TokenStore{dir: dir}
}

func (s *TokenStore) path() string {
	return filepath.Join(s.dir, tokenFile)
}

// Load returns the stored token, or "" when none exists.
func (s *TokenStore) Load() string {
	data, err := os.ReadFile(s.path())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Save writes the token with owner-only permissions.
func (s *TokenStore) Save(token string) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}
	logging.Auth("token saved")
	return os.WriteFile(s.path(), []byte(token), 0600)
}

// Clear removes the stored token. Missing files are not an error.
func (s *TokenStore) Clear() error {
	err := os.Remove(s.path())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	logging.Auth("token cleared")
	return nil
}
