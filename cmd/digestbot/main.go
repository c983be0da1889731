// Command digestbot is the process entry point: it loads configuration,
// wires every pipeline stage together, and runs the orchestrator in one
// of three modes (listener, processor, all). A handful of admin
// subcommands (auth, send-status, check-health, run-healthcheck-server)
// belong to surrounding tooling that ships separately and are stubbed
// here with a message pointing at the replacement.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/lifeexplorer230/newsdigest/engine/dedup"
	"github.com/lifeexplorer230/newsdigest/engine/domain"
	"github.com/lifeexplorer230/newsdigest/engine/embedding"
	"github.com/lifeexplorer230/newsdigest/engine/ingest"
	"github.com/lifeexplorer230/newsdigest/engine/moderation"
	"github.com/lifeexplorer230/newsdigest/engine/publish"
	"github.com/lifeexplorer230/newsdigest/engine/scheduler"
	"github.com/lifeexplorer230/newsdigest/engine/selection"
	"github.com/lifeexplorer230/newsdigest/engine/storage"
	"github.com/lifeexplorer230/newsdigest/internal/config"
	"github.com/lifeexplorer230/newsdigest/internal/logging"
	"github.com/lifeexplorer230/newsdigest/pkg/eventbus"
	"github.com/lifeexplorer230/newsdigest/pkg/fn"
	"github.com/lifeexplorer230/newsdigest/pkg/metrics"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := "all"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "listener", "processor", "all":
		return runPipeline(cmd, args)
	case "auth", "send-status", "check-health", "run-healthcheck-server":
		return runAdminStub(cmd)
	default:
		fmt.Fprintf(os.Stderr, "digestbot: unknown command %q (want listener|processor|all|auth|send-status|check-health|run-healthcheck-server)\n", cmd)
		return 2
	}
}

// runAdminStub covers the admin surface alongside the three core modes:
// session authorization, the status reporter, and the health-check HTTP
// endpoint. All three are surrounding collaborators that ship separately
// from this pipeline, so each prints a pointer to the NATS subjects
// engine/scheduler already publishes instead of reimplementing them.
func runAdminStub(cmd string) int {
	fmt.Fprintf(os.Stderr, "digestbot %s: not part of this build; "+
		"subscribe to the processor.*/digest.published/listener.heartbeat subjects "+
		"engine/scheduler publishes instead\n", cmd)
	return 2
}

func runPipeline(mode string, args []string) int {
	fs := flag.NewFlagSet("digestbot "+mode, flag.ExitOnError)
	configDir := fs.String("config", "config", "directory containing base.yaml and profile overlays")
	metricsAddr := fs.String("metrics-addr", ":9090", "Prometheus exposition listen address")
	qdrantAddr := fs.String("qdrant", "", "Qdrant gRPC address for embedding mirroring (empty disables)")
	qdrantCollection := fs.String("qdrant-collection", "newsdigest_published", "Qdrant collection name")
	chatBaseURL := fs.String("chat-llm-url", "https://api.anthropic.com", "chat-completion provider base URL")
	generativeBaseURL := fs.String("generative-llm-url", "https://generativelanguage.googleapis.com", "generative-model provider base URL")
	displayName := fs.String("display-name", "News Digest", "digest header display name")
	fs.Parse(args)

	if _, err := maxprocs.Set(maxprocs.Logger(func(string, ...any) {})); err != nil {
		fmt.Fprintf(os.Stderr, "digestbot: automaxprocs: %v\n", err)
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "digestbot: %v\n", err)
		return 2
	}

	log, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  logging.Format(cfg.Logging.Format),
		LogFile: cfg.Paths.LogFilePattern,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "digestbot: logging: %v\n", err)
		return 2
	}

	met := metrics.New()
	go serveMetrics(*metricsAddr, met, log)

	bus, busCleanup, err := startEventBus(log)
	if err != nil {
		log.Warn().Err(err).Msg("digestbot: in-process NATS broker unavailable, lifecycle events disabled")
	}
	if busCleanup != nil {
		defer busCleanup()
	}

	store, err := storage.Open(cfg.Paths.DBFilePattern, storage.Options{
		BusyTimeout: time.Duration(cfg.Database.BusyTimeoutMS) * time.Millisecond,
		Retry: fn.RetryOpts{
			MaxAttempts: cfg.Database.Retry.MaxAttempts,
			InitialWait: time.Duration(cfg.Database.Retry.BaseDelaySeconds * float64(time.Second)),
			MaxWait:     30 * time.Second,
			Jitter:      true,
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("digestbot: open storage")
		return exitCodeFor(err)
	}
	defer store.Close()

	encoder, err := embedding.New(embedding.Config{
		Model:               cfg.Embeddings.Model,
		LocalEndpoint:       cfg.Embeddings.Endpoint,
		RemoteEndpoint:      cfg.Embeddings.RemoteEndpoint,
		AllowRemoteDownload: cfg.Embeddings.AllowRemoteDownload,
		EnableFallback:      cfg.Embeddings.EnableFallback,
		Dimensions:          cfg.Embeddings.Dimensions,
		Normalize: embedding.NormalizeOptions{
			ReplaceURLs:       true,
			StripEmoji:        true,
			AttributionPrefix: embedding.DefaultAttributionPrefixes,
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("digestbot: build embedding service")
		return 2
	}

	var saver publish.Saver = store
	if *qdrantAddr != "" {
		vs, err := embedding.NewVectorStore(*qdrantAddr, *qdrantCollection)
		if err != nil {
			log.Warn().Err(err).Msg("digestbot: qdrant unavailable, publishing to sqlite only")
		} else {
			defer vs.Close()
			if err := vs.EnsureCollection(context.Background(), cfg.Embeddings.Dimensions); err != nil {
				log.Warn().Err(err).Msg("digestbot: qdrant ensure collection failed")
			}
			saver = mirroringSaver{store: store, vectors: vs, log: log}
		}
	}

	llmClient, err := buildLLMClient(cfg, *chatBaseURL, *generativeBaseURL, log)
	if err != nil {
		log.Error().Err(err).Msg("digestbot: build LLM client")
		return 2
	}
	selector := selection.NewSelector(llmClient, log)

	sender := ingest.NewSender()
	publisher := publish.NewPublisher(sender, encoder, saver, log)

	platform := ingest.NewTelegramClient(ingest.TelegramConfig{
		APIID:          cfg.Secrets.APIID,
		APIHash:        cfg.Secrets.APIHash,
		SessionPath:    cfg.Paths.SessionFilePattern,
		Mode:           ingest.Mode(cfg.Listener.Mode),
		ManualChannels: cfg.Listener.ManualChannels,
	}, log)
	platform.AttachSender(sender)

	// TARGET_CHANNEL overrides the configured publication channel, letting
	// one config tree serve several accounts.
	targetChannel := cfg.Publication.Channel
	if cfg.Secrets.TargetChannel != "" {
		targetChannel = cfg.Secrets.TargetChannel
	}

	// Interactive moderation needs both the moderation gate enabled and a
	// personal handle to converse with; anything else degrades to auto.
	interactive := cfg.Moderation.Enabled && !cfg.Moderation.Auto

	var conv moderation.Conversation
	if interactive && cfg.Secrets.PersonalHandle != "" {
		c := ingest.NewConversation(sender, cfg.Secrets.PersonalHandle)
		platform.AttachConversation(cfg.Secrets.PersonalHandle, c)
		conv = c
	}

	listener := ingest.New(ingest.Config{
		Mode:              cfg.Listener.Mode,
		MinMessageLength:  cfg.Listener.MinMessageLength,
		ExcludeKeywords:   cfg.Filters.ExcludeKeywords,
		ChannelWhitelist:  cfg.Listener.ChannelWhitelist,
		ChannelBlacklist:  cfg.Listener.ChannelBlacklist,
		ManualChannels:    cfg.Listener.ManualChannels,
		HeartbeatPath:     cfg.Listener.Healthcheck.HeartbeatPath,
		HeartbeatInterval: time.Duration(cfg.Listener.Healthcheck.IntervalSeconds) * time.Second,
	}, store, platform, log)

	tz, err := time.LoadLocation(cfg.Processor.Timezone)
	if err != nil {
		tz = time.UTC
	}

	sched := scheduler.New(scheduler.Config{
		WithinHours:          48,
		CategoryCounts:       cfg.CategoryCounts(),
		CategoryDescriptions: cfg.CategoryDescriptions(),
		CategoryOrder:        cfg.CategoryOrder(),
		ChunkSize:            chunkSizeFor(cfg.LLM.Provider),
		PromptTemplate:       cfg.LLM.Prompts["select_by_categories"],
		MaxTokens:            cfg.LLM.MaxTokens,
		DedupOptions: dedup.Options{
			Threshold:        cfg.Processor.DuplicateThreshold,
			UseDBSCAN:        cfg.Processor.UseDBSCAN,
			DBSCANEps:        cfg.Processor.DBSCANEps,
			DBSCANMinSamples: cfg.Processor.DBSCANMinSamples,
		},
		DuplicateWindowDays: cfg.Processor.DuplicateTimeWindowDays,
		ModerationAuto: !interactive,
		ModerationOptions: moderation.Options{
			FinalTopN:          finalTopN(cfg),
			DuplicateThreshold: cfg.Processor.DuplicateThreshold,
		},
		InteractiveOptions: moderation.InteractiveOptions{
			Timeout:            time.Duration(cfg.Moderation.TimeoutHours) * time.Hour,
			CancelKeywords:     cfg.Moderation.CancelKeywords,
			PublishAllKeywords: cfg.Moderation.PublishAllKeywords,
		},
		PublishOptions: publish.Options{
			Channel:        targetChannel,
			PreviewChannel: cfg.Publication.PreviewChannel,
			NotifyAccount:  cfg.Publication.NotifyAccount,
			HeaderTemplate: cfg.Publication.HeaderTemplate,
			FooterTemplate: cfg.Publication.FooterTemplate,
			TemplateParams: publish.TemplateParams{
				DisplayName: *displayName,
				Channel:     targetChannel,
				Profile:     cfg.Secrets.Profile,
			},
		},
		ScheduleTime:         cfg.Processor.ScheduleTime,
		Timezone:             tz,
		HeartbeatInterval:    time.Duration(cfg.Listener.Healthcheck.IntervalSeconds) * time.Second,
		CleanupRawDays:       cfg.Cleanup.RawMessagesDays,
		CleanupPublishedDays: cfg.Cleanup.PublishedDays,
		CleanupWeekly:        cfg.Cleanup.RunWeekly,
	}, scheduler.Deps{
		Store:        store,
		Encoder:      encoder,
		Selector:     selector,
		Conversation: conv,
		Publisher:    publisher,
		Listener:     listener,
		Bus:          bus,
		Metrics:      met,
		Log:          log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runMode, ok := scheduler.ParseMode(mode)
	if !ok {
		log.Warn().Str("mode", mode).Msg("digestbot: unrecognized mode, defaulting to all")
	}

	if err := sched.Run(ctx, runMode); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("digestbot: run failed")
		return exitCodeFor(err)
	}
	return 0
}

func serveMetrics(addr string, met *metrics.Registry, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", met.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("digestbot: metrics server stopped")
	}
}

// startEventBus starts a single-process NATS server (go.mod's
// nats-io/nats-server/v2 dependency) and connects pkg/eventbus to it, so
// the scheduler's lifecycle events always have a live broker without
// requiring external infrastructure for a single-account deployment.
func startEventBus(log zerolog.Logger) (*eventbus.Bus, func(), error) {
	ns, err := server.NewServer(&server.Options{
		Host:           "127.0.0.1",
		Port:           -1, // ephemeral port, in-process only
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 4096,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("embedded nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, nil, fmt.Errorf("embedded nats server did not become ready")
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, nil, fmt.Errorf("connect to embedded nats: %w", err)
	}

	bus := eventbus.New(nc)
	cleanup := func() {
		bus.Close()
		ns.Shutdown()
	}
	log.Info().Str("url", ns.ClientURL()).Msg("digestbot: embedded event bus ready")
	return bus, cleanup, nil
}

// mirroringSaver composes the sqlite-backed Saver engine/publish writes
// through with a best-effort Qdrant mirror, matching vectorstore.go's
// Upsert doc comment ("called by the publication stage after
// SavePublished has durably recorded the sqlite row"). sqlite remains the
// source of truth: a Qdrant failure is logged, never propagated.
type mirroringSaver struct {
	store   *storage.Storage
	vectors *embedding.VectorStore
	log     zerolog.Logger
}

func (m mirroringSaver) SavePublished(ctx context.Context, text string, vec []float32, sourceMessageID *int64, sourceChannelID int64) (int64, error) {
	id, err := m.store.SavePublished(ctx, text, vec, sourceMessageID, sourceChannelID)
	if err != nil {
		return 0, err
	}
	err = m.vectors.Upsert(ctx, []embedding.VectorRecord{{
		ID:              uuid.NewString(),
		Embedding:       vec,
		SourceChannelID: sourceChannelID,
		PublishedAt:     time.Now(),
	}})
	if err != nil {
		m.log.Warn().Err(err).Int64("published_id", id).Msg("digestbot: qdrant mirror upsert failed, sqlite row unaffected")
	}
	return id, nil
}

// buildLLMClient selects the generative or chat-completion provider per
// cfg.LLM.Provider.
func buildLLMClient(cfg config.Config, chatBaseURL, generativeBaseURL string, log zerolog.Logger) (selection.LLMClient, error) {
	switch cfg.LLM.Provider {
	case "chat":
		return selection.NewChatProvider(selection.ChatProviderOpts{
			BaseURL:     chatBaseURL,
			APIKey:      cfg.Secrets.LLMAPIKey,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Logger:      log,
		}), nil
	case "generative":
		return selection.NewGenerativeProvider(selection.GenerativeProviderOpts{
			BaseURL: generativeBaseURL,
			APIKey:  cfg.Secrets.LLMAPIKey,
			Model:   cfg.LLM.Model,
			Logger:  log,
		}), nil
	default:
		return nil, fmt.Errorf("digestbot: unknown llm provider %q", cfg.LLM.Provider)
	}
}

// finalTopN prefers moderation.final_top_n, falling back to the
// processor-level top_n cap when moderation leaves it unset.
func finalTopN(cfg config.Config) int {
	if cfg.Moderation.FinalTopN > 0 {
		return cfg.Moderation.FinalTopN
	}
	return cfg.Processor.TopN
}

func chunkSizeFor(provider string) int {
	if provider == "chat" {
		return 50
	}
	return 200
}

func exitCodeFor(err error) int {
	if tag, ok := domain.AsTagged(err); ok && tag.Fatal() {
		return 2
	}
	return 1
}
