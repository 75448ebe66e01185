package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/glossifier-terms/internal/api"
	"github.com/JakeFAU/glossifier-terms/internal/dispatcher"
	"github.com/JakeFAU/glossifier-terms/internal/scheduler"
)

type scheduleOptions struct {
	spec       string
	addr       string
	runOnStart bool
}

func newScheduleCmd() *cobra.Command {
	var opts scheduleOptions
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Refresh on a cron schedule and serve the admin API",
		Long: `Runs the refresh on the configured cron schedule until interrupted.
While running, an admin HTTP server exposes health probes, Prometheus metrics
and an endpoint to trigger a refresh on demand. Ticks that arrive while a
refresh is still running are skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchedule(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.spec, "spec", "", "cron spec overriding schedule.spec")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "admin listen address overriding admin.addr")
	cmd.Flags().BoolVar(&opts.runOnStart, "run-on-start", true, "refresh once immediately")
	return cmd
}

func runSchedule(cmd *cobra.Command, opts scheduleOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	spec := cfg.Schedule.Spec
	if opts.spec != "" {
		spec = opts.spec
	}
	addr := cfg.Admin.Addr
	if opts.addr != "" {
		addr = opts.addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder := appInstance.Recorder().WithRuntimeCollectors()
	d := appInstance.Dispatcher()

	sched, err := scheduler.New(spec, func(ctx context.Context) {
		// The refresher logs its own failures.
		if _, err := d.Dispatch(ctx); errors.Is(err, dispatcher.ErrBusy) {
			logger.Info("refresh already running; tick skipped")
		}
	}, scheduler.WithLogger(logger.Named("scheduler")), scheduler.WithRunOnStart(opts.runOnStart))
	if err != nil {
		return err
	}
	server := api.NewServer(d, recorder, cfg.Admin, logger.Named("api"), api.WithNextRun(sched.Next))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return server.ListenAndServe(gctx, addr) })

	logger.Info("scheduled refresh running",
		zap.String("spec", spec),
		zap.String("addr", addr),
		zap.String("url", appInstance.Settings().TermsURL()),
	)
	return g.Wait()
}
