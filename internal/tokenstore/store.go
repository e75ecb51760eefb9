// Package tokenstore persists the access/refresh token pair to a JSON file
// so a rotated refresh token survives restarts.
package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNoTokens is returned by Load when nothing has been saved yet.
var ErrNoTokens = errors.New("no saved tokens")

// Tokens is the persisted credential set.
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Login        string    `json:"login,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store reads and writes one token file. Writes are serialized and atomic.
type Store struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// New creates a Store for path. Nothing is touched on disk until Load or Save.
func New(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Path returns the file the store writes to.
func (s *Store) Path() string {
	return s.path
}

// Load reads the saved tokens. It returns ErrNoTokens when the file does
// not exist or holds no access token.
func (s *Store) Load() (*Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoTokens
	}
	if err != nil {
		return nil, fmt.Errorf("reading token file %s: %w", s.path, err)
	}

	var tokens Tokens
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("parsing token file %s: %w", s.path, err)
	}
	if tokens.AccessToken == "" {
		return nil, ErrNoTokens
	}
	return &tokens, nil
}

// Save writes tokens, replacing the previous file in one rename.
func (s *Store) Save(tokens Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating token directory %s: %w", dir, err)
	}

	tokens.UpdatedAt = s.now().UTC()
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling tokens: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("writing temp token file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("renaming temp token file %s to %s: %w", tmpPath, s.path, err)
	}
	return nil
}

// Update loads the current tokens (if any), applies fn and saves the result.
func (s *Store) Update(fn func(*Tokens)) error {
	tokens, err := s.Load()
	if errors.Is(err, ErrNoTokens) {
		tokens = &Tokens{}
	} else if err != nil {
		return err
	}
	fn(tokens)
	return s.Save(*tokens)
}

// Clear removes the token file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing token file %s: %w", s.path, err)
	}
	return nil
}
