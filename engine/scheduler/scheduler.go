// Package scheduler is the orchestrator: it coordinates the ingestion
// listener's lifetime, the daily processor run, the weekly retention
// cleanup, and graceful shutdown. RunProcessorOnce drives one full
// dedup -> selection -> moderation -> publication pass over the
// unprocessed backlog.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lifeexplorer230/newsdigest/engine/dedup"
	"github.com/lifeexplorer230/newsdigest/engine/domain"
	"github.com/lifeexplorer230/newsdigest/engine/ingest"
	"github.com/lifeexplorer230/newsdigest/engine/moderation"
	"github.com/lifeexplorer230/newsdigest/engine/publish"
	"github.com/lifeexplorer230/newsdigest/engine/selection"
	"github.com/lifeexplorer230/newsdigest/engine/storage"
	"github.com/lifeexplorer230/newsdigest/pkg/eventbus"
	"github.com/lifeexplorer230/newsdigest/pkg/metrics"
)

// Mode selects which of the three CLI-level run shapes this process takes.
type Mode string

const (
	ModeListener  Mode = "listener"
	ModeProcessor Mode = "processor"
	ModeAll       Mode = "all"
)

// ParseMode maps a CLI argument to Mode, defaulting to ModeAll with
// ok=false for anything unrecognized.
func ParseMode(s string) (mode Mode, ok bool) {
	switch Mode(s) {
	case ModeListener, ModeProcessor, ModeAll:
		return Mode(s), true
	case "":
		return ModeAll, true
	default:
		return ModeAll, false
	}
}

// Store is the subset of engine/storage.Storage the orchestrator drives
// directly; narrowed to an interface so tests substitute a fake instead
// of an on-disk database.
type Store interface {
	GetUnprocessed(ctx context.Context, withinHours int) ([]domain.RawMessage, error)
	MarkProcessedBatch(ctx context.Context, updates []storage.ProcessedUpdate) error
	GetPublishedEmbeddings(ctx context.Context, withinDays int) ([]storage.PublishedEmbedding, error)
	Cleanup(ctx context.Context, rawRetentionDays, publishedRetentionDays int) (storage.CleanupResult, error)
}

// Config bundles every run-time knob the processor and the wall-clock
// loop need, sourced from internal/config.Config by cmd/digestbot.
type Config struct {
	// WithinHours bounds how far back GetUnprocessed looks for candidates.
	WithinHours int

	CategoryCounts       map[string]int
	CategoryDescriptions map[string]string
	CategoryOrder        []string
	ChunkSize            int
	PromptTemplate       string
	MaxTokens            int

	DedupOptions        dedup.Options
	DuplicateWindowDays int

	ModerationAuto     bool
	ModerationOptions  moderation.Options
	InteractiveOptions moderation.InteractiveOptions

	PublishOptions publish.Options

	// ScheduleTime is "HH:MM" in Timezone, the processor's daily trigger.
	ScheduleTime string
	Timezone     *time.Location

	// HeartbeatInterval paces ListenerHeartbeatEvent publication. Zero
	// disables it.
	HeartbeatInterval time.Duration

	// CleanupRawDays / CleanupPublishedDays are the retention windows the
	// weekly cleanup pass enforces; CleanupWeekly gates the pass entirely.
	CleanupRawDays       int
	CleanupPublishedDays int
	CleanupWeekly        bool

	// SafetyCap bounds the scheduler loop's sleep regardless of how far
	// off the next job is, so shutdown stays responsive.
	SafetyCap time.Duration
}

func (c Config) withDefaults() Config {
	if c.WithinHours <= 0 {
		c.WithinHours = 48
	}
	if c.Timezone == nil {
		c.Timezone = time.UTC
	}
	if c.ScheduleTime == "" {
		c.ScheduleTime = "09:00"
	}
	if c.SafetyCap <= 0 {
		c.SafetyCap = 5 * time.Second
	}
	if c.CleanupRawDays <= 0 {
		c.CleanupRawDays = 14
	}
	if c.CleanupPublishedDays <= 0 {
		c.CleanupPublishedDays = 60
	}
	return c
}

// Deps wires the orchestrator to every stage it drives. Conversation may
// be nil, in which case interactive moderation silently degrades to
// AutoModerate.
type Deps struct {
	Store        Store
	Encoder      dedup.Encoder
	Selector     *selection.Selector
	Conversation moderation.Conversation
	Publisher    *publish.Publisher
	Listener     *ingest.Listener
	Bus          *eventbus.Bus
	Metrics      *metrics.Registry
	Log          zerolog.Logger
}

// Scheduler is the orchestrator. One instance drives one process's
// lifetime; it is not safe to call Run concurrently from two goroutines.
type Scheduler struct {
	cfg  Config
	deps Deps

	lastProcessorRunDate string
	lastCleanupRunDate   string
}

// New builds a Scheduler.
func New(cfg Config, deps Deps) *Scheduler {
	return &Scheduler{cfg: cfg.withDefaults(), deps: deps}
}

// Run dispatches to the requested mode and blocks until ctx is cancelled
// (listener/all) or one processor pass completes (processor).
func (s *Scheduler) Run(ctx context.Context, mode Mode) error {
	switch mode {
	case ModeListener:
		return s.runListenerOnly(ctx)
	case ModeProcessor:
		_, err := s.RunProcessorOnce(ctx)
		return err
	case ModeAll, "":
		return s.runAll(ctx)
	default:
		_, err := s.RunProcessorOnce(ctx)
		return err
	}
}

func (s *Scheduler) runListenerOnly(ctx context.Context) error {
	if s.deps.Listener == nil {
		s.deps.Log.Warn().Msg("scheduler: listener mode requested but no listener configured")
		<-ctx.Done()
		return ctx.Err()
	}
	return s.deps.Listener.Run(ctx)
}

// runAll runs the listener's event loop and the scheduler's dedicated
// wall-clock goroutine concurrently. Either goroutine returning ends the
// run; ctx cancellation (SIGINT/SIGTERM via the caller's
// signal.NotifyContext) stops both.
func (s *Scheduler) runAll(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if s.deps.Listener == nil {
			<-ctx.Done()
			errCh <- ctx.Err()
			return
		}
		errCh <- s.deps.Listener.Run(ctx)
	}()

	go s.runLoop(ctx)

	return <-errCh
}

func (s *Scheduler) publish(subject string, v any) {
	if s.deps.Bus == nil {
		return
	}
	if err := eventbus.Publish(s.deps.Bus, subject, v); err != nil {
		s.deps.Log.Debug().Err(err).Str("subject", subject).Msg("scheduler: event publish failed")
	}
}
