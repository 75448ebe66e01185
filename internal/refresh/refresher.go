// Package refresh reloads the glossifier terms dictionary from the CDR server.
//
// A run connects to the glossifier database, fetches the generated terms
// document, overwrites terms row 1 with it and clears the term_regex cache in
// one transaction. Archiving, notification and metrics hang off the same run
// but never decide its outcome.
package refresh

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/glossifier-terms/internal/clock/system"
	"github.com/JakeFAU/glossifier-terms/internal/hash/sha256"
	"github.com/JakeFAU/glossifier-terms/internal/id/uuid"
	"github.com/JakeFAU/glossifier-terms/internal/tier"
)

const archiveContentType = "application/octet-stream"

var tracer = otel.Tracer("github.com/JakeFAU/glossifier-terms/internal/refresh")

// Result summarises a run. On failure it carries whatever was known when the
// run stopped.
type Result struct {
	RunID            string        `json:"run_id"`
	URL              string        `json:"url"`
	Bytes            int           `json:"bytes"`
	Digest           string        `json:"sha256,omitempty"`
	RegexRowsCleared int64         `json:"regex_rows_cleared"`
	ArchiveURI       string        `json:"archive_uri,omitempty"`
	NotificationID   string        `json:"notification_id,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration_ns"`
}

// Notification is the message published after a committed refresh.
type Notification struct {
	RunID            string `json:"run_id"`
	Environment      string `json:"environment"`
	Tier             string `json:"tier"`
	URL              string `json:"url"`
	Bytes            int    `json:"bytes"`
	SHA256           string `json:"sha256"`
	RegexRowsCleared int64  `json:"regex_rows_cleared"`
	LoadedAt         string `json:"loaded_at"`
}

// Option customises a Refresher.
type Option func(*Refresher)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Refresher) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(r *Refresher) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithIDGenerator replaces the run ID source.
func WithIDGenerator(ids IDGenerator) Option {
	return func(r *Refresher) {
		if ids != nil {
			r.ids = ids
		}
	}
}

// WithHasher replaces the payload digest.
func WithHasher(h Hasher) Option {
	return func(r *Refresher) {
		if h != nil {
			r.hasher = h
		}
	}
}

// WithArchiver stores every fetched payload under prefix before it is persisted.
func WithArchiver(a Archiver, prefix string) Option {
	return func(r *Refresher) {
		r.archiver = a
		r.archivePrefix = strings.Trim(prefix, "/")
	}
}

// WithNotifier publishes a Notification to topic after each commit.
func WithNotifier(p Publisher, topic string) Option {
	return func(r *Refresher) {
		r.publisher = p
		r.topic = topic
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Refresher) {
		r.recorder = rec
	}
}

// Refresher runs glossifier terms refreshes for one resolved tier.
type Refresher struct {
	settings  tier.Settings
	connector Connector
	fetcher   Fetcher

	logger *zap.Logger
	clock  Clock
	ids    IDGenerator
	hasher Hasher

	archiver      Archiver
	archivePrefix string
	publisher     Publisher
	topic         string
	recorder      Recorder
}

// New constructs a Refresher.
func New(settings tier.Settings, connector Connector, fetcher Fetcher, opts ...Option) *Refresher {
	r := &Refresher{
		settings:  settings,
		connector: connector,
		fetcher:   fetcher,
		logger:    zap.NewNop(),
		clock:     system.New(),
		ids:       uuid.New(),
		hasher:    sha256.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Settings returns the tier settings the refresher was built with.
func (r *Refresher) Settings() tier.Settings {
	return r.settings
}

// Run performs one refresh. The returned error wraps ErrConnection,
// ErrTransport or ErrPersistence.
func (r *Refresher) Run(ctx context.Context) (res Result, err error) {
	start := r.clock.Now()
	runID, idErr := r.ids.NewID()
	if idErr != nil {
		runID = fmt.Sprintf("run-%d", start.UnixNano())
		r.logger.Warn("run id generation failed", zap.String("run_id", runID), zap.Error(idErr))
	}
	logger := r.logger.With(zap.String("run_id", runID))
	res = Result{RunID: runID, URL: r.settings.TermsURL(), StartedAt: start}

	ctx, span := tracer.Start(ctx, "glossifier_terms.refresh", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("environment", r.settings.Environment),
		attribute.String("tier", r.settings.Tier),
		attribute.String("url.full", res.URL),
	))
	defer func() {
		res.Duration = r.clock.Since(start)
		if r.recorder != nil {
			r.recorder.Observe(OutcomeOf(err), res)
		}
		span.SetAttributes(
			attribute.String("outcome", string(OutcomeOf(err))),
			attribute.Int("payload.bytes", res.Bytes),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(OutcomeOf(err)))
		}
		span.End()
	}()

	logger.Info("starting glossifier terms refresh",
		zap.String("program", r.settings.Program),
		zap.String("environment", r.settings.Environment),
		zap.String("tier", r.settings.Tier),
	)

	store, err := r.connector.Connect(ctx)
	if err != nil {
		logger.Error("*** unable to connect to glossifier DB",
			zap.String("stage", "connect"),
			zap.String("db_target", r.settings.DBTarget),
			zap.Error(err),
		)
		return res, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	span.AddEvent("connected")
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("close glossifier DB", zap.Error(closeErr))
		}
	}()

	payload, err := r.fetcher.Fetch(ctx, res.URL)
	if err != nil {
		logger.Error("unable to fetch glossifier terms",
			zap.String("stage", "fetch"),
			zap.String("url", res.URL),
			zap.Error(err),
		)
		return res, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	res.Bytes = len(payload)
	span.AddEvent("fetched")

	digest, hashErr := r.hasher.Hash(payload)
	if hashErr != nil {
		logger.Warn("hash payload", zap.Error(hashErr))
	}
	res.Digest = digest

	if r.archiver != nil && digest != "" {
		res.ArchiveURI = r.archive(ctx, logger, digest, payload)
	}

	rep, err := store.ReplaceTerms(ctx, payload)
	if err != nil {
		logger.Error("unable to store glossifier terms",
			zap.String("stage", "persist"),
			zap.Int("length_bytes", len(payload)),
			zap.Error(err),
		)
		return res, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	res.RegexRowsCleared = rep.RegexRowsCleared
	span.AddEvent("committed")

	logger.Info("loaded glossifier terms",
		zap.Int("length_bytes", rep.BytesStored),
		zap.Int64("regex_rows_cleared", rep.RegexRowsCleared),
		zap.String("sha256", digest),
	)

	if r.publisher != nil && r.topic != "" {
		res.NotificationID = r.notify(ctx, logger, res)
	}
	return res, nil
}

// ArchivePath returns where a payload with digest is archived.
func (r *Refresher) ArchivePath(digest string) string {
	return path.Join(r.archivePrefix, strings.ToLower(r.settings.Tier), digest+".dat")
}

func (r *Refresher) archive(ctx context.Context, logger *zap.Logger, digest string, payload []byte) string {
	p := r.ArchivePath(digest)
	uri, err := r.archiver.PutObject(ctx, p, archiveContentType, bytes.NewReader(payload))
	if err != nil {
		logger.Warn("archive glossifier terms", zap.String("path", p), zap.Error(err))
		return ""
	}
	logger.Debug("archived glossifier terms", zap.String("uri", uri))
	return uri
}

func (r *Refresher) notify(ctx context.Context, logger *zap.Logger, res Result) string {
	msg := Notification{
		RunID:            res.RunID,
		Environment:      r.settings.Environment,
		Tier:             r.settings.Tier,
		URL:              res.URL,
		Bytes:            res.Bytes,
		SHA256:           res.Digest,
		RegexRowsCleared: res.RegexRowsCleared,
		LoadedAt:         r.clock.Now().Format(time.RFC3339Nano),
	}
	id, err := r.publisher.Publish(ctx, r.topic, msg)
	if err != nil {
		logger.Warn("publish refresh notification", zap.String("topic", r.topic), zap.Error(err))
		return ""
	}
	logger.Debug("published refresh notification", zap.String("topic", r.topic), zap.String("message_id", id))
	return id
}
