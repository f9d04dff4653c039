package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/expertdocs/drivescope/internal/config"
	"github.com/expertdocs/drivescope/internal/enumerate"
	"github.com/expertdocs/drivescope/internal/filter"
	"github.com/expertdocs/drivescope/internal/gdrive"
	"github.com/expertdocs/drivescope/internal/inventory"
	"github.com/expertdocs/drivescope/internal/syncer"
	"github.com/expertdocs/drivescope/internal/token"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// cfg holds the effective configuration loaded by PersistentPreRunE,
// available to all subcommands after the root pre-run phase completes.
var cfg *config.Config

// httpClientTimeout bounds the whole request including body read. Per-call
// deadlines inside the drive client are shorter.
const httpClientTimeout = 30 * time.Second

// defaultHTTPClient returns an HTTP client with a sensible timeout.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// newRootCmd builds the fully-assembled root command with all subcommands
// registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "drivescope",
		Short:   "Drive inventory and scoped-sync tool",
		Long:    "Enumerates a remote Drive folder tree, reconciles it against a local inventory, and scopes visibility through filter profiles.",
		Version: version,
		// Silence Cobra's default error/usage printing, handled in main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			loaded, err := config.LoadOrDefault(flagConfigPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			cfg = loaded

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "drivescope.toml", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "log in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newProfileCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newRunsCmd())

	return cmd
}

// buildLogger creates an slog.Logger from config and CLI flags. Config-file
// log level provides the baseline; --verbose and --quiet override it because
// CLI flags always win. Output is human text on a terminal, JSON otherwise
// or when --json is passed.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if flagJSON || !isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// app bundles the wired components a subcommand needs. Close the store when
// done.
type app struct {
	logger *slog.Logger
	store  *inventory.Store
	tokens *token.Manager
	client *gdrive.Client
	enum   *enumerate.Enumerator
	filter *filter.Service
	runner *syncer.Runner
}

// buildApp wires the full component graph from config.
func buildApp() (*app, error) {
	logger := buildLogger()

	store, err := inventory.NewStore(cfg.DB.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	window, err := time.ParseDuration(cfg.Token.ValidityWindow)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("parsing validity window: %w", err)
	}

	margin, err := time.ParseDuration(cfg.Token.RefreshMargin)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("parsing refresh margin: %w", err)
	}

	requestTimeout, err := time.ParseDuration(cfg.Drive.RequestTimeout)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("parsing request timeout: %w", err)
	}

	httpClient := defaultHTTPClient()

	tokens := token.NewManager(
		store.TokenStore(), httpClient,
		cfg.Drive.TokenURL, cfg.Drive.ClientID, cfg.Drive.ClientSecret,
		window, margin, logger,
	)

	client := gdrive.NewClient(cfg.Drive.BaseURL, httpClient, tokens, requestTimeout, logger)
	lister := gdrive.WithLogging(client, logger)
	enum := enumerate.New(lister, cfg.Drive.Fanout, logger)

	filterSvc := filter.NewService(store, filter.FieldMap{
		RemoteIDColumn:  cfg.FieldMap.RemoteIDColumn,
		RootDriveColumn: cfg.FieldMap.RootDriveColumn,
	}, logger)

	runner := syncer.NewRunner(tokens, enum, store, logger)

	return &app{
		logger: logger,
		store:  store,
		tokens: tokens,
		client: client,
		enum:   enum,
		filter: filterSvc,
		runner: runner,
	}, nil
}
