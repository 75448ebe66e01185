// Package cmd defines the CLI commands for the glossifier-terms executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/glossifier-terms/internal/app"
	"github.com/JakeFAU/glossifier-terms/internal/config"
	"github.com/JakeFAU/glossifier-terms/internal/dispatcher"
	"github.com/JakeFAU/glossifier-terms/internal/logging"
	"github.com/JakeFAU/glossifier-terms/internal/metrics"
	"github.com/JakeFAU/glossifier-terms/internal/refresh"
	"github.com/JakeFAU/glossifier-terms/internal/tier"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the commands need from the application container, so tests can
// swap in their own.
type App interface {
	Close() error
	Config() config.Config
	Logger() *zap.Logger
	Settings() tier.Settings
	Recorder() *metrics.Recorder
	Dispatcher() *dispatcher.Dispatcher
	RunOnce(ctx context.Context) (refresh.Result, error)
}

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync() //nolint:errcheck // best effort before exit
		return nil, err
	}
	return a, nil
}

// session holds the App built for one invocation so execute can close it
// whether or not the command succeeded.
type session struct {
	app App
}

func (s *session) close(stderr io.Writer) {
	if s.app == nil {
		return
	}
	if err := s.app.Close(); err != nil {
		fmt.Fprintf(stderr, "close: %v\n", err)
	}
	s.app = nil
}

func newRootCmd(sess *session) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "glossifier-terms",
		Short: "Refresh the glossifier terms from the CDR server.",
		Long: `glossifier-terms fetches the current glossary terms document from the
CDR server for the configured tier and stores it in the glossifier database,
clearing the cached term regular expressions in the same transaction.

Without a subcommand it performs exactly one refresh and exits non-zero if it
failed.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}
			sess.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		RunE: runRefresh,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (environment variables prefixed GLOSSIFIER_ override it)")

	cmd.AddCommand(newScheduleCmd())
	cmd.AddCommand(newURLCmd())

	return cmd
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	res, err := appInstance.RunOnce(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "loaded %d bytes of glossifier terms (sha256 %s)\n", res.Bytes, res.Digest)
	return nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	return execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	sess := &session{}
	root := newRootCmd(sess)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	// Cobra skips post-run hooks when RunE fails.
	sess.close(stderr)
	if err != nil {
		return 1
	}
	return 0
}
