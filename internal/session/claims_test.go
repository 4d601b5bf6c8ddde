package session

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/filebox/internal/localstore"
)

func signTestToken(t *testing.T, claims jwt.Claims) string {
	t.Helper()

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-secret"))
	require.NoError(t, err)

	return tok
}

func TestParseAccessClaims(t *testing.T) {
	exp := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	tok := signTestToken(t, jwt.MapClaims{
		"sub":  "42",
		"type": "access",
		"exp":  exp.Unix(),
	})

	claims, err := ParseAccessClaims(tok)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "access", claims.Type)
	assert.True(t, claims.ExpiresAt.Equal(exp))
	assert.False(t, claims.Expired(exp.Add(-time.Minute)))
	assert.True(t, claims.Expired(exp.Add(time.Minute)))
}

func TestParseAccessClaims_NonNumericSubject(t *testing.T) {
	tok := signTestToken(t, jwt.MapClaims{"sub": "alice"})

	claims, err := ParseAccessClaims(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Zero(t, claims.UserID)
	assert.True(t, claims.ExpiresAt.IsZero())
	assert.False(t, claims.Expired(time.Now()))
}

func TestParseAccessClaims_Opaque(t *testing.T) {
	for _, tok := range []string{"", "opaque-token", "a.b.c"} {
		_, err := ParseAccessClaims(tok)
		require.Error(t, err, tok)
		assert.ErrorIs(t, err, ErrNoClaims)
	}
}

func TestFollow_ReportsExternalLogout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := NewStore(localstore.NewFileStorage(path, testLogger(t)), testLogger(t))
	require.NoError(t, writer.SetTokens(ctx, "a", "r"))
	require.NoError(t, writer.SetUser(ctx, testUser))

	follower := NewStore(localstore.NewFileStorage(path, testLogger(t)), testLogger(t))
	follower.Initialize(ctx)
	require.True(t, follower.Snapshot().IsAuthenticated)

	var loggedOut atomic.Bool

	done := make(chan error, 1)

	go func() {
		done <- follower.Follow(ctx, path, func(s Session) {
			if !s.IsAuthenticated {
				loggedOut.Store(true)
			}
		})
	}()

	// Let the watcher register before the write.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, writer.Logout(ctx))

	require.Eventually(t, loggedOut.Load, 3*time.Second, 20*time.Millisecond)
	assert.False(t, follower.Snapshot().IsAuthenticated)

	cancel()
	assert.NoError(t, <-done)
}
