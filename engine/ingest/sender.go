package ingest

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/lifeexplorer230/newsdigest/pkg/resilience"
)

// Outbound pacing. The account limiter is a token bucket with a sliding
// window on top (steady 30 req/s, never more than 100 calls in any 10s
// span); each destination chat additionally gets its own 20-per-minute
// bucket. A FLOOD_WAIT from the platform penalizes the account limiter,
// widening every subsequent delay until sustained successes narrow it
// back.
var (
	accountRateLimit = resilience.LimiterOpts{Rate: 30, Burst: 30, Window: 10 * time.Second, WindowLimit: 100}
	perChatRateLimit = resilience.LimiterOpts{Rate: 20.0 / 60.0, Burst: 3}
)

// Sender adapts a connected telegramClient's MTProto session into
// engine/publish.Sender, so the publication stage posts digests through
// the same account the listener ingests from rather than opening a
// second connection. Send blocks until the session is bound (or ctx is
// cancelled), which only matters during the brief startup window.
type Sender struct {
	mu      sync.Mutex
	api     *tg.Client
	ready   chan struct{}
	once    sync.Once
	account *resilience.Limiter
	perChat map[string]*resilience.Limiter
}

// NewSender builds an unbound Sender; call telegramClient.AttachSender
// before Run to wire it to a connection.
func NewSender() *Sender {
	return &Sender{
		ready:   make(chan struct{}),
		account: resilience.NewLimiter(accountRateLimit),
		perChat: make(map[string]*resilience.Limiter),
	}
}

func (s *Sender) bind(api *tg.Client) {
	s.mu.Lock()
	s.api = api
	s.mu.Unlock()
	s.once.Do(func() { close(s.ready) })
}

// Send resolves destination (a channel/user @handle) and posts text to
// it, waiting for both the per-chat and per-account limiters to admit
// the call. A FLOOD_WAIT reply still surfaces to the caller, but it
// also penalizes the account limiter so the next sends back off harder.
func (s *Sender) Send(ctx context.Context, destination, text string) error {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	handle := strings.TrimPrefix(destination, "@")
	return s.chatLimiter(handle).CallWait(ctx, func(ctx context.Context) error {
		return s.account.CallWait(ctx, func(ctx context.Context) error {
			err := s.send(ctx, handle, destination, text)
			if isFloodWait(err) {
				s.account.Penalize()
			}
			return err
		})
	})
}

// chatLimiter returns the destination's own pacing bucket, creating it
// on first send to that chat.
func (s *Sender) chatLimiter(handle string) *resilience.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.perChat[handle]
	if !ok {
		l = resilience.NewLimiter(perChatRateLimit)
		s.perChat[handle] = l
	}
	return l
}

func isFloodWait(err error) bool {
	if err == nil {
		return false
	}
	rpcErr, ok := tgerr.As(err)
	return ok && strings.HasPrefix(rpcErr.Type, "FLOOD_WAIT")
}

func (s *Sender) send(ctx context.Context, handle, destination, text string) error {
	s.mu.Lock()
	api := s.api
	s.mu.Unlock()

	peer, err := resolveSendPeer(ctx, api, handle)
	if err != nil {
		return fmt.Errorf("ingest: resolve send destination %q: %w", destination, err)
	}

	_, err = api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: randomMessageID(),
	})
	return err
}

func resolveSendPeer(ctx context.Context, api *tg.Client, handle string) (tg.InputPeerClass, error) {
	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: handle})
	if err != nil {
		return nil, err
	}
	for _, c := range resolved.Chats {
		if channel, ok := c.(*tg.Channel); ok {
			return &tg.InputPeerChannel{ChannelID: channel.ID, AccessHash: channel.AccessHash}, nil
		}
	}
	for _, u := range resolved.Users {
		if user, ok := u.(*tg.User); ok {
			return &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash}, nil
		}
	}
	return nil, fmt.Errorf("%q resolved to neither a channel nor a user", handle)
}

func randomMessageID() int64 {
	var b [8]byte
	_, _ = cryptorand.Read(b[:])
	return int64(binary.LittleEndian.Uint64(b[:]))
}
