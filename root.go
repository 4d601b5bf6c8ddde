package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/filebox/internal/api"
	"github.com/tonimelisma/filebox/internal/config"
	"github.com/tonimelisma/filebox/internal/localstore"
	"github.com/tonimelisma/filebox/internal/session"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagAPIURL     string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// CLIFlags is the snapshot of global flags a command runs with.
type CLIFlags struct {
	JSON    bool
	Verbose bool
	Quiet   bool
}

// CLIContext carries everything a command needs after the root pre-run:
// resolved config, logger, and lazily opened session and API client.
type CLIContext struct {
	Flags   CLIFlags
	Cfg     *config.Config
	CfgPath string
	Logger  *slog.Logger
	Stderr  io.Writer

	stderrMu sync.Mutex
	storage  localstore.Storage
	store    *session.Store
	client   *api.Client
}

type cliContextKey struct{}

// cliContextFrom returns the CLIContext stored by the root pre-run.
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "filebox",
		Short:   "filebox storage CLI",
		Long:    "Upload, list, download, and delete files on a filebox server.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := loadCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "filebox server URL (overrides api_url)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newRegisterCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadCLIContext resolves the effective configuration from the override
// chain and builds the logger.
func loadCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	flags := CLIFlags{JSON: flagJSON, Verbose: flagVerbose, Quiet: flagQuiet}
	boot := bootstrapLogger(flags)

	if err := config.LoadDotEnv(boot); err != nil {
		return nil, err
	}

	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	// Only pass --api-url to the resolver if the user explicitly set it.
	if cmd.Flags().Changed("api-url") {
		cli.APIURL = &flagAPIURL
	}

	cfgPath, cfg, err := config.Resolve(config.ReadEnvOverrides(boot), cli, boot)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return &CLIContext{
		Flags:   flags,
		Cfg:     cfg,
		CfgPath: cfgPath,
		Logger:  buildLogger(cfg, flags, cmd.ErrOrStderr()),
		Stderr:  cmd.ErrOrStderr(),
	}, nil
}

// Session opens the configured storage backend and restores the persisted
// session. Subsequent calls return the same store.
func (cc *CLIContext) Session(ctx context.Context) (*session.Store, error) {
	if cc.store != nil {
		return cc.store, nil
	}

	storage, err := localstore.Open(ctx, cc.Cfg.SessionStore, cc.Cfg.SessionPath, cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}

	cc.storage = storage
	cc.store = session.NewStore(storage, cc.Logger)
	cc.store.Initialize(ctx)

	return cc.store, nil
}

// Client returns an API client bound to the session.
func (cc *CLIContext) Client(ctx context.Context) (*api.Client, error) {
	if cc.client != nil {
		return cc.client, nil
	}

	store, err := cc.Session(ctx)
	if err != nil {
		return nil, err
	}

	cc.client = api.NewClient(cc.Cfg.APIURL, newHTTPClient(cc.Cfg), store, cc.Logger, cc.Cfg.UserAgent)

	var once sync.Once

	cc.client.OnSessionExpired(func(error) {
		// Printed even with --quiet: the user has to act on it.
		once.Do(func() {
			cc.printErr("Session expired. Run 'filebox login' to sign in again.\n")
		})
	})

	return cc.client, nil
}

// Close releases the session storage, if it was opened. Commands defer it
// right after fetching the context so it also runs on error paths.
func (cc *CLIContext) Close() error {
	if cc.storage == nil {
		return nil
	}

	return cc.storage.Close()
}

// newHTTPClient builds an HTTP client from the network settings. There is
// no overall timeout so large transfers are not cut off; the connect and
// response-header phases are bounded instead.
func newHTTPClient(cfg *config.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeoutDuration()}).DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeoutDuration()
	transport.ResponseHeaderTimeout = cfg.DataTimeoutDuration()

	return &http.Client{Transport: transport}
}

// bootstrapLogger is used before config is loaded: warnings only, unless
// --verbose or --quiet say otherwise.
func bootstrapLogger(flags CLIFlags) *slog.Logger {
	level := slog.LevelWarn

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it. log_format "auto" picks text for a terminal and JSON
// otherwise.
func buildLogger(cfg *config.Config, flags CLIFlags, w io.Writer) *slog.Logger {
	level := slog.LevelInfo

	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if useJSONLogs(cfg.LogFormat, w) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func useJSONLogs(format string, w io.Writer) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	}

	f, ok := w.(*os.File)
	if !ok {
		return true
	}

	return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if errors.Is(err, errNotLoggedIn) {
		fmt.Fprintln(os.Stderr, "Hint: run 'filebox login' first.")
	}

	os.Exit(1)
}
