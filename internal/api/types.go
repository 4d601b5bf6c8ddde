package api

import (
	"time"

	"golang.org/x/oauth2"
)

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	DisplayName string `json:"displayName"`
	UserName    string `json:"userName"`
	Password    string `json:"password"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	UserName string `json:"userName"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"` //nolint:gosec // G101: field name
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"` //nolint:gosec // G101: field name
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// OAuth2Token converts the response to an oauth2.Token with an absolute
// expiry computed from expires_in relative to now.
func (t *TokenResponse) OAuth2Token(now time.Time) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
	}

	if t.ExpiresIn > 0 {
		tok.Expiry = now.Add(time.Duration(t.ExpiresIn) * time.Second)
	}

	return tok
}

// FileInfo is one entry of a file listing.
type FileInfo struct {
	ID       int64  `json:"id"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
	Created  string `json:"created"`
}

// CreatedAt parses the server's creation timestamp. The server emits ISO
// 8601 without a zone; such values are read as UTC. Returns the zero time
// when the value cannot be parsed.
func (f *FileInfo) CreatedAt() time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, f.Created); err == nil {
			return t
		}
	}

	return time.Time{}
}

// FileList is one page of GET /api/files/.
type FileList struct {
	Files    []FileInfo `json:"files"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

// Pages returns the number of pages needed for Total at PageSize.
func (l *FileList) Pages() int {
	if l.PageSize <= 0 || l.Total <= 0 {
		return 0
	}

	return (l.Total + l.PageSize - 1) / l.PageSize
}

// UploadResult is returned by POST /api/files/upload.
type UploadResult struct {
	ID       int64  `json:"id"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
	FilePath string `json:"filePath"`
	Message  string `json:"message"`
}

// DeleteResult is returned by DELETE /api/files/{id}.
type DeleteResult struct {
	Message string `json:"message"`
}

// Download describes a completed download.
type Download struct {
	FileName    string // from Content-Disposition, "" if absent
	ContentType string
	Bytes       int64
}
