// Package session is the single source of truth for the authenticated
// session: the access/refresh token pair and the user it belongs to. State
// is mirrored to a localstore.Storage so it survives process restarts.
package session

// Storage keys. The user entry holds the JSON-encoded User.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token" //nolint:gosec // G101: key name, not a credential
	KeyUser         = "user"
)

// User is the account record returned by the API. Opaque to the session
// logic; carried through unchanged.
type User struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"displayName"`
	UserName    string `json:"userName"`
	Created     string `json:"created"`
	Modified    string `json:"modified"`
}

// TokenPair holds both credentials. It is always replaced as a whole.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Session is a point-in-time copy of the store state.
type Session struct {
	User            *User
	Tokens          *TokenPair
	IsAuthenticated bool
	IsLoading       bool
}
