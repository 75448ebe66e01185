// Package app builds the refresher and its collaborators from configuration
// and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/glossifier-terms/internal/clock/system"
	"github.com/JakeFAU/glossifier-terms/internal/config"
	"github.com/JakeFAU/glossifier-terms/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/glossifier-terms/internal/fetcher/colly"
	"github.com/JakeFAU/glossifier-terms/internal/hash/sha256"
	"github.com/JakeFAU/glossifier-terms/internal/id/uuid"
	"github.com/JakeFAU/glossifier-terms/internal/metrics"
	gcppublisher "github.com/JakeFAU/glossifier-terms/internal/publisher/pubsub"
	"github.com/JakeFAU/glossifier-terms/internal/refresh"
	gcsstorage "github.com/JakeFAU/glossifier-terms/internal/storage/gcs"
	localstorage "github.com/JakeFAU/glossifier-terms/internal/storage/local"
	memorystorage "github.com/JakeFAU/glossifier-terms/internal/storage/memory"
	pgstore "github.com/JakeFAU/glossifier-terms/internal/storage/postgres"
	"github.com/JakeFAU/glossifier-terms/internal/telemetry"
	"github.com/JakeFAU/glossifier-terms/internal/tier"
)

type closer struct {
	name  string
	close func() error
}

type options struct {
	connector refresh.Connector
	fetcher   refresh.Fetcher
	archiver  refresh.Archiver
	publisher refresh.Publisher
	gcpOpts   []option.ClientOption
}

// Option overrides a component New would otherwise build from configuration.
type Option func(*options)

// WithConnector replaces the Postgres connector.
func WithConnector(c refresh.Connector) Option {
	return func(o *options) { o.connector = c }
}

// WithFetcher replaces the colly fetcher.
func WithFetcher(f refresh.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithArchiver replaces the configured archive provider.
func WithArchiver(a refresh.Archiver) Option {
	return func(o *options) { o.archiver = a }
}

// WithPublisher replaces the Pub/Sub publisher.
func WithPublisher(p refresh.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithGCPClientOptions passes options to the GCS and Pub/Sub clients.
func WithGCPClientOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.gcpOpts = append(o.gcpOpts, opts...) }
}

// App holds the long-lived services of one process.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	settings   tier.Settings
	recorder   *metrics.Recorder
	refresher  *refresh.Refresher
	dispatcher *dispatcher.Dispatcher
	closers    []closer
}

// New resolves settings and wires the refresher. Any client created before a
// failure is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	settings, err := tier.Resolve(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve tier settings: %w", err)
	}

	a = &App{cfg: cfg, logger: logger, settings: settings, recorder: metrics.NewRecorder()}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.closeAll())
			a = nil
		}
	}()

	if cfg.Telemetry.Enabled {
		tp, tErr := telemetry.Setup(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			Version:     cfg.Telemetry.Version,
			Environment: settings.Environment,
			ProjectID:   cfg.Telemetry.ProjectID,
		})
		if tErr != nil {
			return nil, fmt.Errorf("setup tracing: %w", tErr)
		}
		a.closers = append(a.closers, closer{name: "tracing", close: func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return tp.Shutdown(shutdownCtx)
		}})
	}

	connector := o.connector
	if connector == nil {
		connector = a.buildConnector()
	}
	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.HTTP.UserAgent,
			Timeout:   cfg.FetchTimeout(),
		})
	}

	archiver := o.archiver
	if archiver == nil {
		if archiver, err = a.buildArchiver(ctx, o.gcpOpts); err != nil {
			return nil, err
		}
	}
	publisher := o.publisher
	if publisher == nil && cfg.Notify.ProjectID != "" {
		pub, openErr := gcppublisher.Open(ctx, cfg.Notify.ProjectID, o.gcpOpts...)
		if openErr != nil {
			return nil, fmt.Errorf("open pubsub publisher: %w", openErr)
		}
		a.closers = append(a.closers, closer{name: "pubsub", close: pub.Close})
		publisher = pub
	}

	refreshOpts := []refresh.Option{
		refresh.WithLogger(logger.Named("refresh")),
		refresh.WithClock(system.New()),
		refresh.WithIDGenerator(uuid.New()),
		refresh.WithHasher(sha256.New()),
		refresh.WithRecorder(a.recorder),
	}
	if archiver != nil {
		refreshOpts = append(refreshOpts, refresh.WithArchiver(archiver, cfg.Archive.Prefix))
	}
	if publisher != nil {
		refreshOpts = append(refreshOpts, refresh.WithNotifier(publisher, cfg.Notify.TopicID))
	}

	a.refresher = refresh.New(settings, connector, fetcher, refreshOpts...)
	a.dispatcher = dispatcher.New(a.refresher)

	logger.Debug("application wired",
		zap.String("environment", settings.Environment),
		zap.String("tier", settings.Tier),
		zap.String("url", settings.TermsURL()),
		zap.String("archive", cfg.Archive.Provider),
		zap.Bool("notify", publisher != nil),
	)
	return a, nil
}

func (a *App) buildConnector() *pgstore.Connector {
	name := a.cfg.DB.Name
	if name == "" {
		name = a.settings.DBTarget
	}
	pgCfg := pgstore.Config{
		DSN:            a.cfg.DB.DSN,
		Host:           a.cfg.DB.Host,
		Port:           a.cfg.DB.Port,
		User:           a.cfg.DB.User,
		Password:       a.cfg.DB.Password,
		Name:           name,
		SSLMode:        a.cfg.DB.SSLMode,
		MaxConns:       a.cfg.DB.MaxConns,
		ConnectTimeout: a.cfg.ConnectTimeout(),
	}
	if a.cfg.Lock.Enabled {
		key := sha256.Key64(a.settings.DBTarget)
		pgCfg.LockKey = &key
	}
	return pgstore.NewConnector(pgCfg)
}

func (a *App) buildArchiver(ctx context.Context, gcpOpts []option.ClientOption) (refresh.Archiver, error) {
	switch a.cfg.Archive.Provider {
	case config.ArchiveLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("open local archive: %w", err)
		}
		return store, nil
	case config.ArchiveGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket}, gcpOpts...)
		if err != nil {
			return nil, fmt.Errorf("open gcs archive: %w", err)
		}
		a.closers = append(a.closers, closer{name: "gcs", close: store.Close})
		return store, nil
	case config.ArchiveMemory:
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Settings returns the resolved tier settings.
func (a *App) Settings() tier.Settings {
	return a.settings
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Recorder returns the metrics recorder every run reports to.
func (a *App) Recorder() *metrics.Recorder {
	return a.recorder
}

// Dispatcher returns the gate all refreshes go through.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatcher
}

// RunOnce performs a single refresh and, when a Pushgateway is configured,
// pushes the run's metrics. A failed push is logged, never returned.
func (a *App) RunOnce(ctx context.Context) (refresh.Result, error) {
	res, err := a.dispatcher.Dispatch(ctx)
	if url := a.cfg.Metrics.PushgatewayURL; url != "" {
		if pushErr := a.recorder.Push(context.WithoutCancel(ctx), url, a.cfg.Metrics.Job); pushErr != nil {
			a.logger.Warn("push metrics", zap.Error(pushErr))
		}
	}
	return res, err
}

// Close releases clients and flushes the logger.
func (a *App) Close() error {
	err := a.closeAll()
	_ = a.logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
	return err
}

func (a *App) closeAll() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if closeErr := c.close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("close %s: %w", c.name, closeErr))
		}
	}
	a.closers = nil
	return err
}
