package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tonimelisma/filebox/internal/api"
	"github.com/tonimelisma/filebox/internal/session"
)

var errNotLoggedIn = errors.New("not logged in")

func newRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <username>",
		Short: "Create an account and log in",
		Long: `Create a filebox account and log in with it.

The password is read from --password or, when omitted, from the first line
of standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: runRegister,
	}

	cmd.Flags().String("display-name", "", "display name (defaults to the username)")
	cmd.Flags().String("password", "", "account password (read from stdin when omitted)")

	return cmd
}

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Log in and save the session",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogin,
	}

	cmd.Flags().String("password", "", "account password (read from stdin when omitted)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved session",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the logged-in user",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

// Terminal hooks, replaced in tests.
var (
	isTerminal = func(fd uintptr) bool {
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	readTerminalPassword = term.ReadPassword
)

// readPassword returns the --password flag or reads the password from in:
// without echo when in is a terminal, otherwise as its first line.
func readPassword(cmd *cobra.Command, in io.Reader) (string, error) {
	if pw, _ := cmd.Flags().GetString("password"); pw != "" {
		return pw, nil
	}

	var pw string

	if f, ok := in.(*os.File); ok && isTerminal(f.Fd()) {
		errOut := cmd.ErrOrStderr()
		fmt.Fprint(errOut, "Password: ")

		b, err := readTerminalPassword(int(f.Fd()))
		fmt.Fprintln(errOut)

		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}

		pw = string(b)
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading password: %w", err)
		}

		pw = strings.TrimRight(line, "\r\n")
	}

	if pw == "" {
		return "", errors.New("password is required (use --password, type it, or pipe it on stdin)")
	}

	return pw, nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)
	defer cc.Close()

	password, err := readPassword(cmd, cmd.InOrStdin())
	if err != nil {
		return err
	}

	displayName, _ := cmd.Flags().GetString("display-name")
	if displayName == "" {
		displayName = args[0]
	}

	client, err := cc.Client(ctx)
	if err != nil {
		return err
	}

	user, err := client.Register(ctx, api.RegisterRequest{
		DisplayName: displayName,
		UserName:    args[0],
		Password:    password,
	})
	if err != nil {
		return err
	}

	cc.Statusf("Registered %s (id %d).\n", user.UserName, user.ID)

	return login(ctx, cc, client, args[0], password, user)
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)
	defer cc.Close()

	password, err := readPassword(cmd, cmd.InOrStdin())
	if err != nil {
		return err
	}

	client, err := cc.Client(ctx)
	if err != nil {
		return err
	}

	return login(ctx, cc, client, args[0], password, nil)
}

// login exchanges credentials for tokens and persists the session: tokens
// first, then the user. known, when non-nil, is the authoritative user from
// registration; otherwise the user is built from the username and the
// access token's subject.
func login(ctx context.Context, cc *CLIContext, client *api.Client, userName, password string, known *session.User) error {
	tr, err := client.Login(ctx, api.LoginRequest{UserName: userName, Password: password})
	if err != nil {
		return err
	}

	store, err := cc.Session(ctx)
	if err != nil {
		return err
	}

	if err := store.SetTokens(ctx, tr.AccessToken, tr.RefreshToken); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	user := session.User{UserName: userName, DisplayName: userName}
	if known != nil {
		user = *known
	} else if claims, err := session.ParseAccessClaims(tr.AccessToken); err == nil {
		user.ID = claims.UserID
	} else {
		cc.Logger.Debug("access token carries no readable claims", slog.String("error", err.Error()))
	}

	if err := store.SetUser(ctx, user); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	cc.Logger.Info("login successful", slog.String("user_name", userName))
	cc.Statusf("Logged in as %s.\n", userName)

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)
	defer cc.Close()

	store, err := cc.Session(ctx)
	if err != nil {
		return err
	}

	wasAuthenticated := store.Snapshot().IsAuthenticated

	if err := store.Logout(ctx); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}

	if wasAuthenticated {
		cc.Statusf("Logged out.\n")
	} else {
		cc.Statusf("Not logged in.\n")
	}

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	ID          int64      `json:"id"`
	UserName    string     `json:"user_name"`
	DisplayName string     `json:"display_name"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)
	defer cc.Close()

	store, err := cc.Session(ctx)
	if err != nil {
		return err
	}

	snap := store.Snapshot()
	if !snap.IsAuthenticated {
		return errNotLoggedIn
	}

	out := whoamiOutput{
		ID:          snap.User.ID,
		UserName:    snap.User.UserName,
		DisplayName: snap.User.DisplayName,
	}

	if claims, err := session.ParseAccessClaims(snap.Tokens.AccessToken); err == nil && !claims.ExpiresAt.IsZero() {
		exp := claims.ExpiresAt
		out.ExpiresAt = &exp
	}

	w := cmd.OutOrStdout()

	if cc.Flags.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	fmt.Fprintf(w, "User:     %s (%s)\n", out.DisplayName, out.UserName)
	fmt.Fprintf(w, "ID:       %d\n", out.ID)

	if out.ExpiresAt != nil {
		fmt.Fprintf(w, "Token:    expires %s\n", humanize.Time(*out.ExpiresAt))
	}

	return nil
}
