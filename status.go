package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/filebox/internal/session"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session state",
		Long: `Show whether a session is stored and who it belongs to.

With --follow, keep watching the session store and print the state again
whenever another filebox process logs in, refreshes, or logs out.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}

	cmd.Flags().BoolP("follow", "f", false, "watch the session store for changes")

	return cmd
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	Authenticated bool       `json:"authenticated"`
	UserName      string     `json:"user_name,omitempty"`
	UserID        int64      `json:"user_id,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Expired       bool       `json:"expired"`
	Server        string     `json:"server"`
	Store         string     `json:"store"`
	StorePath     string     `json:"store_path,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)
	defer cc.Close()

	store, err := cc.Session(ctx)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()

	if err := printStatus(w, cc, store.Snapshot(), time.Now()); err != nil {
		return err
	}

	follow, _ := cmd.Flags().GetBool("follow")
	if !follow {
		return nil
	}

	if cc.Cfg.SessionPath == "" {
		return errors.New("--follow needs a file or sqlite session store")
	}

	cc.Statusf("Watching %s (Ctrl-C to stop)...\n", cc.Cfg.SessionPath)

	err = store.Follow(ctx, cc.Cfg.SessionPath, func(snap session.Session) {
		if perr := printStatus(w, cc, snap, time.Now()); perr != nil {
			cc.Logger.Warn("printing status", "error", perr)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func buildStatus(cc *CLIContext, snap session.Session, now time.Time) statusOutput {
	out := statusOutput{
		Authenticated: snap.IsAuthenticated,
		Server:        cc.Cfg.APIURL,
		Store:         cc.Cfg.SessionStore,
		StorePath:     cc.Cfg.SessionPath,
	}

	if !snap.IsAuthenticated {
		return out
	}

	out.UserName = snap.User.UserName
	out.UserID = snap.User.ID

	if claims, err := session.ParseAccessClaims(snap.Tokens.AccessToken); err == nil && !claims.ExpiresAt.IsZero() {
		exp := claims.ExpiresAt
		out.ExpiresAt = &exp
		out.Expired = claims.Expired(now)
	}

	return out
}

func printStatus(w io.Writer, cc *CLIContext, snap session.Session, now time.Time) error {
	out := buildStatus(cc, snap, now)

	if cc.Flags.JSON {
		return json.NewEncoder(w).Encode(out)
	}

	if !out.Authenticated {
		_, err := fmt.Fprintf(w, "Not logged in (server %s)\n", out.Server)
		return err
	}

	var token string

	switch {
	case out.ExpiresAt == nil:
		token = "opaque"
	case out.Expired:
		token = "access token expired, will refresh on next request"
	default:
		token = "access token expires " + formatTime(*out.ExpiresAt)
	}

	_, err := fmt.Fprintf(w, "Logged in as %s (id %d) on %s; %s\n", out.UserName, out.UserID, out.Server, token)

	return err
}
