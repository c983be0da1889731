// Package ingest implements the long-running event consumer that populates
// engine/domain.RawMessage from a chat platform: mode selection
// (subscriptions vs. a fixed manual channel list), the per-event
// accept/reject pipeline in filter.go, and the liveness heartbeat a
// downstream healthcheck polls. The platform connection itself
// (telegram.go) is kept behind the PlatformClient interface so the
// dispatch and filtering logic can be tested without an MTProto session.
package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lifeexplorer230/newsdigest/engine/domain"
)

// Mode selects which channels the listener subscribes to.
type Mode string

const (
	ModeSubscriptions Mode = "subscriptions"
	ModeManual        Mode = "manual"
)

// ParseMode maps a configured mode string to Mode. Anything unrecognized
// falls back to ModeSubscriptions with ok=false so the caller can log a
// warning.
func ParseMode(s string) (mode Mode, ok bool) {
	switch Mode(s) {
	case ModeSubscriptions, ModeManual:
		return Mode(s), true
	default:
		return ModeSubscriptions, false
	}
}

// Config is the listener's own configuration surface, decoupled from
// internal/config so the package can be constructed and tested without it.
// cmd/digestbot adapts internal/config.Config into this shape.
type Config struct {
	Mode              string
	MinMessageLength  int
	ExcludeKeywords   []string
	ChannelWhitelist  []string
	ChannelBlacklist  []string
	ManualChannels    []string
	HeartbeatPath     string
	HeartbeatInterval time.Duration
}

func (c Config) filterConfig() FilterConfig {
	return FilterConfig{
		MinMessageLength: c.MinMessageLength,
		ExcludeKeywords:  c.ExcludeKeywords,
		ChannelWhitelist: c.ChannelWhitelist,
		ChannelBlacklist: c.ChannelBlacklist,
	}
}

// PlatformClient is the subset of a chat-platform connection the listener
// needs. telegram.go's telegramClient is the only production
// implementation; tests substitute a fake that calls onMessage directly.
type PlatformClient interface {
	Run(ctx context.Context, onMessage func(InboundMessage)) error
	ResolvedChannels() []string // best-effort, for startup logging only
}

// Store is the subset of engine/storage.Storage the listener depends on.
type Store interface {
	AddChannel(ctx context.Context, handle, title string) (int64, error)
	GetChannelID(ctx context.Context, handle string) (int64, bool, error)
	SaveRawMessage(ctx context.Context, channelID int64, externalID, text string, occurredAt time.Time, hasMedia bool) (int64, bool, error)
}

// Listener is the long-running event consumer populating RawMessage.
// Concurrency: the platform's own update loop calls handleMessage
// sequentially. handleMessage looks up (or registers) the channel row
// inline, then dispatches the message write onto a per-channel lane in
// queue so channels progress concurrently while ordering is preserved
// within each one; it blocks the loop only while that lane is full.
type Listener struct {
	store     Store
	platform  PlatformClient
	filter    FilterConfig
	mode      Mode
	heartbeat *Heartbeat
	log       zerolog.Logger
	queue     *channelQueue
}

// New builds a Listener. Unknown cfg.Mode values are logged as a warning
// and treated as ModeSubscriptions.
func New(cfg Config, store Store, platform PlatformClient, log zerolog.Logger) *Listener {
	mode, ok := ParseMode(cfg.Mode)
	if !ok {
		log.Warn().Str("configured_mode", cfg.Mode).Msg("unknown listener mode, falling back to subscriptions")
	}
	return &Listener{
		store:     store,
		platform:  platform,
		filter:    cfg.filterConfig(),
		mode:      mode,
		heartbeat: NewHeartbeat(cfg.HeartbeatPath, cfg.HeartbeatInterval),
		log:       log,
		queue:     newChannelQueue(64),
	}
}

// Run blocks until ctx is cancelled or the platform connection fails
// fatally (not authorized, or a flood-wait beyond its configured cap).
func (l *Listener) Run(ctx context.Context) error {
	l.log.Info().Str("mode", string(l.mode)).Msg("starting ingestion listener")

	stopHeartbeat := l.heartbeat.Start(ctx)
	defer stopHeartbeat()

	err := l.platform.Run(ctx, l.handleMessage)
	l.log.Info().Strs("channels", l.platform.ResolvedChannels()).Msg("ingestion listener stopped")
	return err
}

func (l *Listener) handleMessage(msg InboundMessage) {
	decision := Evaluate(msg, l.filter)
	if !decision.Accepted {
		if decision.Reason == DropTooLarge {
			l.log.Warn().
				Str("channel", msg.ChannelHandle).
				Int("payload_bytes", decision.RawSize).
				Msg("rejected oversized message payload")
		} else {
			l.log.Debug().Str("channel", msg.ChannelHandle).Str("reason", string(decision.Reason)).Msg("message rejected")
		}
		return
	}

	channelID, err := l.resolveChannel(context.Background(), msg.ChannelHandle, msg.ChannelTitle)
	if err != nil {
		l.log.Error().Err(err).Str("channel", msg.ChannelHandle).Msg("resolve channel")
		return
	}

	l.queue.Submit(channelID, func() {
		l.persist(channelID, msg, decision)
	})
}

func (l *Listener) persist(channelID int64, msg InboundMessage, decision Decision) {
	ctx := context.Background()
	_, saved, err := l.store.SaveRawMessage(ctx, channelID, msg.ExternalID, decision.Text, msg.OccurredAt, msg.HasMedia)
	if err != nil {
		if tag, ok := domain.AsTagged(err); ok {
			l.log.Error().Err(err).Str("channel", msg.ChannelHandle).Str("tag", string(tag)).Msg("save raw message")
		} else {
			l.log.Error().Err(err).Str("channel", msg.ChannelHandle).Msg("save raw message")
		}
		return
	}
	if !saved {
		l.log.Info().Str("channel", msg.ChannelHandle).Str("external_id", msg.ExternalID).Msg("duplicate external id")
		return
	}
	l.log.Info().Str("channel", msg.ChannelHandle).Str("preview", preview(decision.Text)).Msg("message ingested")
}

func (l *Listener) resolveChannel(ctx context.Context, handle, title string) (int64, error) {
	handle = strings.TrimPrefix(handle, "@")
	if id, ok, err := l.store.GetChannelID(ctx, handle); err != nil {
		return 0, err
	} else if ok {
		return id, nil
	}
	return l.store.AddChannel(ctx, handle, title)
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > 50 {
		return string(r[:50]) + "..."
	}
	return s
}
