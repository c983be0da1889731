package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"

	"github.com/lifeexplorer230/newsdigest/engine/domain"
)

// TelegramConfig carries the MTProto connection parameters, sourced from
// internal/config.Secrets and the listener's mode/manual channel list.
type TelegramConfig struct {
	APIID          int
	APIHash        string
	SessionPath    string
	Mode           Mode
	ManualChannels []string
	FloodWaitCap   time.Duration
}

// telegramClient is the production PlatformClient, backed by gotd/td. The
// MTProto update dispatcher invokes onMessage on its own goroutine; callers
// must return quickly, which is why Listener.handleMessage hands the
// message write to a per-channel queue instead of doing it inline.
type telegramClient struct {
	cfg    TelegramConfig
	client *telegram.Client
	log    zerolog.Logger

	resolved []string
	sender   *Sender

	conversationHandle string
	conversation       *Conversation
}

// NewTelegramClient builds a telegramClient. The caller is expected to have
// already authorized the session out-of-band (the `digestbot auth`
// subcommand); Run fails fast with TagNotAuthorized otherwise.
func NewTelegramClient(cfg TelegramConfig, log zerolog.Logger) *telegramClient {
	if cfg.FloodWaitCap <= 0 {
		cfg.FloodWaitCap = time.Hour
	}
	return &telegramClient{cfg: cfg, log: log}
}

func (t *telegramClient) ResolvedChannels() []string { return t.resolved }

// AttachSender binds s to this client's MTProto connection once Run
// establishes it, letting the publication stage send through the same
// session the listener ingests from instead of opening a second one.
func (t *telegramClient) AttachSender(s *Sender) {
	t.sender = s
}

// AttachConversation routes private replies from handle into conv, so the
// interactive moderation path can read operator replies over the same
// session the listener already holds open.
func (t *telegramClient) AttachConversation(handle string, conv *Conversation) {
	t.conversationHandle = strings.TrimPrefix(handle, "@")
	t.conversation = conv
}

// Run connects, resolves the channel set for t.cfg.Mode, and blocks
// processing updates until ctx is cancelled or a fatal error occurs.
func (t *telegramClient) Run(ctx context.Context, onMessage func(InboundMessage)) error {
	dispatcher := tg.NewUpdateDispatcher()
	registerHandlers(dispatcher, onMessage)
	if t.conversation != nil {
		registerConversationHandler(dispatcher, t.conversationHandle, t.conversation)
	}

	gaps := updates.New(updates.Config{Handler: dispatcher})

	client := telegram.NewClient(t.cfg.APIID, t.cfg.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: t.cfg.SessionPath},
		UpdateHandler:  gaps,
	})
	t.client = client

	return client.Run(ctx, func(ctx context.Context) error {
		status, err := client.Auth().Status(ctx)
		if err != nil {
			return domain.NewTaggedError(domain.TagTransientPlatform, "auth status", err)
		}
		if !status.Authorized {
			return domain.NewTaggedError(domain.TagNotAuthorized, "run `digestbot auth` first", nil)
		}

		self, err := client.Self(ctx)
		if err != nil {
			return fmt.Errorf("ingest: resolve self: %w", err)
		}

		if err := t.resolveChannels(ctx, client.API()); err != nil {
			return err
		}

		if t.sender != nil {
			t.sender.bind(client.API())
		}

		return gaps.Run(ctx, client.API(), self.ID, updates.AuthOptions{
			OnStart: func(ctx context.Context) {
				t.log.Info().Int("channel_count", len(t.resolved)).Str("mode", string(t.cfg.Mode)).Msg("telegram listener connected")
			},
		})
	})
}

func (t *telegramClient) resolveChannels(ctx context.Context, api *tg.Client) error {
	if t.cfg.Mode == ModeManual {
		return t.resolveManualChannels(ctx, api)
	}
	return t.resolveSubscribedChannels(ctx, api)
}

func (t *telegramClient) resolveManualChannels(ctx context.Context, api *tg.Client) error {
	for _, handle := range t.cfg.ManualChannels {
		handle = strings.TrimPrefix(handle, "@")
		err := t.withFloodWaitRetry(ctx, func(ctx context.Context) error {
			_, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: handle})
			return err
		})
		if err != nil {
			if tag, ok := domain.AsTagged(err); ok && tag == domain.TagFloodWait {
				return err
			}
			t.log.Error().Err(err).Str("channel", handle).Msg("resolve manual channel, skipping")
			continue
		}
		t.resolved = append(t.resolved, handle)
	}
	return nil
}

func (t *telegramClient) resolveSubscribedChannels(ctx context.Context, api *tg.Client) error {
	iter := dialogs.NewQueryBuilder(api).GetDialogs().Iter()
	for iter.Next(ctx) {
		elem := iter.Value()
		ipc, ok := elem.Peer.(*tg.InputPeerChannel)
		if !ok {
			continue
		}
		channel, ok := elem.Entities.Channels()[ipc.ChannelID]
		if !ok || !channel.Broadcast {
			continue
		}
		handle := channel.Username
		if handle == "" {
			handle = strconv.FormatInt(channel.ID, 10)
		}
		t.resolved = append(t.resolved, handle)
	}
	return iter.Err()
}

// withFloodWaitRetry runs f, sleeping and retrying on a FLOOD_WAIT error as
// long as the wait stays within cfg.FloodWaitCap; beyond the cap it returns
// a TaggedError tagged flood_wait, which engine/domain.Tag.Fatal reports as
// non-fatal but Retryable reports as retryable at the orchestrator level.
func (t *telegramClient) withFloodWaitRetry(ctx context.Context, f func(context.Context) error) error {
	for {
		err := f(ctx)
		if err == nil {
			return nil
		}
		rpcErr, ok := tgerr.As(err)
		if !ok || !strings.HasPrefix(rpcErr.Type, "FLOOD_WAIT") {
			return err
		}
		wait := time.Duration(rpcErr.Argument) * time.Second
		if wait > t.cfg.FloodWaitCap {
			return domain.NewTaggedError(domain.TagFloodWait, fmt.Sprintf("%ds exceeds cap", rpcErr.Argument), err)
		}
		t.log.Warn().Dur("wait", wait).Msg("flood wait, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func registerHandlers(d tg.UpdateDispatcher, onMessage func(InboundMessage)) {
	d.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		msg, ok := u.Message.(*tg.Message)
		if !ok || msg.Out {
			return nil
		}
		inbound, ok := toInboundMessage(e, msg)
		if !ok {
			return nil
		}
		onMessage(inbound)
		return nil
	})
}

// registerConversationHandler forwards private messages from handle to
// conv, letting interactive moderation read operator replies out-of-band
// from the normal channel-ingestion path.
func registerConversationHandler(d tg.UpdateDispatcher, handle string, conv *Conversation) {
	d.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		msg, ok := u.Message.(*tg.Message)
		if !ok || msg.Out {
			return nil
		}
		peerUser, ok := msg.PeerID.(*tg.PeerUser)
		if !ok {
			return nil
		}
		user, ok := e.Users[peerUser.UserID]
		if !ok || !strings.EqualFold(user.Username, handle) {
			return nil
		}
		conv.Deliver(msg.Message)
		return nil
	})
}

func toInboundMessage(e tg.Entities, msg *tg.Message) (InboundMessage, bool) {
	peerChannel, ok := msg.PeerID.(*tg.PeerChannel)
	if !ok {
		return InboundMessage{}, false
	}
	channel, ok := e.Channels[peerChannel.ChannelID]
	if !ok {
		return InboundMessage{}, false
	}

	handle := channel.Username
	if handle == "" {
		handle = strconv.FormatInt(channel.ID, 10)
	}

	return InboundMessage{
		ChannelHandle: handle,
		ChannelTitle:  channel.Title,
		ExternalID:    strconv.Itoa(msg.ID),
		RawText:       msg.Message,
		OccurredAt:    time.Unix(int64(msg.Date), 0).UTC(),
		HasMedia:      msg.Media != nil,
	}, true
}
