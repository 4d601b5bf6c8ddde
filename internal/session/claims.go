package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoClaims is returned when an access token is not a decodable JWT.
var ErrNoClaims = errors.New("session: access token carries no readable claims")

// AccessClaims is the subset of access-token claims the client displays.
type AccessClaims struct {
	Subject   string
	UserID    int64 // 0 when the subject is not numeric
	Type      string
	ExpiresAt time.Time // zero when the token has no exp claim
}

// Expired reports whether the token's exp claim lies before now.
func (c *AccessClaims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(now)
}

type accessTokenClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// ParseAccessClaims decodes the claims of an access token without verifying
// its signature. The client never holds the signing key, so the result is
// informational only and must not be used for authorization decisions.
func ParseAccessClaims(token string) (*AccessClaims, error) {
	var claims accessTokenClaims

	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoClaims, err)
	}

	out := &AccessClaims{
		Subject: claims.Subject,
		Type:    claims.Type,
	}

	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}

	if id, err := strconv.ParseInt(claims.Subject, 10, 64); err == nil {
		out.UserID = id
	}

	return out, nil
}
