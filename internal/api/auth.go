package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/filebox/internal/session"
)

// Register creates a new account. The request is anonymous.
func (c *Client) Register(ctx context.Context, in RegisterRequest) (*session.User, error) {
	c.logger.Info("registering account", slog.String("user_name", in.UserName))

	var user session.User
	if err := c.postJSON(ctx, "/api/auth/register", in, true, &user); err != nil {
		return nil, fmt.Errorf("api: register: %w", err)
	}

	return &user, nil
}

// Login exchanges credentials for a token pair. The request is anonymous; a
// 401 here means bad credentials and never triggers a refresh.
func (c *Client) Login(ctx context.Context, in LoginRequest) (*TokenResponse, error) {
	c.logger.Info("logging in", slog.String("user_name", in.UserName))

	var tr TokenResponse
	if err := c.postJSON(ctx, "/api/auth/login", in, true, &tr); err != nil {
		return nil, fmt.Errorf("api: login: %w", err)
	}

	return &tr, nil
}

// Refresh exchanges a refresh token for a new token pair. It bypasses the
// 401 refresh protocol so a rejected refresh token is reported as-is.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	var tr TokenResponse
	if err := c.postJSON(ctx, "/api/auth/refresh", refreshRequest{RefreshToken: refreshToken}, true, &tr); err != nil {
		return nil, fmt.Errorf("api: refresh: %w", err)
	}

	return &tr, nil
}

// postJSON sends in as JSON and decodes the response into out.
func (c *Client) postJSON(ctx context.Context, path string, in any, anonymous bool, out any) error {
	body, err := jsonBody(in)
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, &request{
		method:      http.MethodPost,
		path:        path,
		contentType: "application/json",
		body:        body,
		anonymous:   anonymous,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}
