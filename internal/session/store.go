package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tonimelisma/filebox/internal/localstore"
)

// Store holds the current session and persists every mutation to durable
// storage. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	storage localstore.Storage
	logger  *slog.Logger

	user      *User
	tokens    *TokenPair
	isLoading bool
}

// NewStore returns an unauthenticated Store in the loading state. Call
// Initialize once to hydrate it from storage.
func NewStore(storage localstore.Storage, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		storage:   storage,
		logger:    logger,
		isLoading: true,
	}
}

// SetTokens persists both tokens and marks the session authenticated.
// Token contents are not validated.
func (s *Store) SetTokens(ctx context.Context, access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.Set(ctx, KeyAccessToken, access); err != nil {
		return fmt.Errorf("session: storing access token: %w", err)
	}

	if err := s.storage.Set(ctx, KeyRefreshToken, refresh); err != nil {
		return fmt.Errorf("session: storing refresh token: %w", err)
	}

	s.tokens = &TokenPair{AccessToken: access, RefreshToken: refresh}

	s.logger.Debug("session tokens updated")

	return nil
}

// SetUser persists and updates the user record.
func (s *Store) SetUser(ctx context.Context, user User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("session: encoding user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.Set(ctx, KeyUser, string(data)); err != nil {
		return fmt.Errorf("session: storing user: %w", err)
	}

	u := user
	s.user = &u

	return nil
}

// Logout clears durable storage and resets the in-memory state to
// unauthenticated. Safe to call when already logged out. The in-memory
// state is reset even if storage removal fails.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasAuthenticated := s.tokens != nil
	s.user = nil
	s.tokens = nil

	if err := s.storage.Remove(ctx, KeyAccessToken, KeyRefreshToken, KeyUser); err != nil {
		return fmt.Errorf("session: clearing storage: %w", err)
	}

	if wasAuthenticated {
		s.logger.Info("session logged out")
	}

	return nil
}

// Initialize hydrates the store from durable storage. The session becomes
// authenticated only when access token, refresh token and user are all
// present and the user decodes. Read failures and corrupt data leave the
// session unauthenticated; they are logged, never returned. Loading is
// always finished on return.
func (s *Store) Initialize(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() { s.isLoading = false }()

	user, tokens, err := s.read(ctx)
	if err != nil {
		s.logger.Warn("failed to initialize session, starting unauthenticated",
			slog.String("error", err.Error()),
		)

		s.user, s.tokens = nil, nil

		return
	}

	s.user, s.tokens = user, tokens

	s.logger.Debug("session initialized", slog.Bool("authenticated", tokens != nil))
}

// read loads all three entries. Returns (nil, nil, nil) when any is absent.
func (s *Store) read(ctx context.Context) (*User, *TokenPair, error) {
	values := make(map[string]string, 3)

	for _, key := range []string{KeyAccessToken, KeyRefreshToken, KeyUser} {
		v, ok, err := s.storage.Get(ctx, key)
		if err != nil {
			return nil, nil, fmt.Errorf("session: reading %s: %w", key, err)
		}

		if !ok || v == "" {
			return nil, nil, nil
		}

		values[key] = v
	}

	var user User
	if err := json.Unmarshal([]byte(values[KeyUser]), &user); err != nil {
		return nil, nil, fmt.Errorf("session: decoding user: %w", err)
	}

	return &user, &TokenPair{
		AccessToken:  values[KeyAccessToken],
		RefreshToken: values[KeyRefreshToken],
	}, nil
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Session{
		IsAuthenticated: s.tokens != nil,
		IsLoading:       s.isLoading,
	}

	if s.user != nil {
		u := *s.user
		out.User = &u
	}

	if s.tokens != nil {
		tp := *s.tokens
		out.Tokens = &tp
	}

	return out
}

// AccessToken returns the current access token, or "" when unauthenticated.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tokens == nil {
		return ""
	}

	return s.tokens.AccessToken
}

// RefreshToken returns the current refresh token, or "" when unauthenticated.
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tokens == nil {
		return ""
	}

	return s.tokens.RefreshToken
}
