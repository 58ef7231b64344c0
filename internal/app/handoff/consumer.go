package handoff

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Livecall/internal/domain"
)

const (
	DefaultNavigationDelay = 300 * time.Millisecond
	DefaultProcessedCap    = 1024
)

// ErrSubscriptionClosed is reported when the feed ends without a cause.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Subscription is one live invite feed.
type Subscription interface {
	// Active is closed once the server acknowledged the subscription.
	Active() <-chan struct{}
	// Events delivers invite-creation events. It is closed when the feed ends.
	Events() <-chan domain.SessionInvite
	// Err is the reason Events was closed.
	Err() error
	Close() error
}

// InviteFeed is the realtime channel of invites for one invitee.
type InviteFeed interface {
	Subscribe(ctx context.Context, invitee domain.UserID) (Subscription, error)
}

// InviteStore reads and updates invite records directly.
type InviteStore interface {
	PendingInvite(ctx context.Context) (domain.SessionInvite, bool, error)
	UpdateInviteStatus(ctx context.Context, id domain.InviteID, status domain.InviteStatus) error
}

type ConsumerOptions struct {
	Me         domain.UserID
	Feed       InviteFeed
	Invites    InviteStore
	Notifier   Notifier
	Nav        Navigator
	Suppress   *UnloadSuppressor
	Visibility *Gate
	Clock      clock.Clock
	// Delay before navigating when the page is visible.
	Delay        time.Duration
	ProcessedCap int
}

// Consumer acts on each pending invite for Me exactly once, whether it
// arrives through the realtime feed or the cold-start query.
type Consumer struct {
	opts      ConsumerOptions
	processed *lru.Cache[domain.InviteID, struct{}]
	logger    zerolog.Logger
}

func NewConsumer(opts ConsumerOptions) (*Consumer, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultNavigationDelay
	}
	if opts.ProcessedCap <= 0 {
		opts.ProcessedCap = DefaultProcessedCap
	}
	if opts.Suppress == nil {
		opts.Suppress = &UnloadSuppressor{}
	}
	if opts.Visibility == nil {
		opts.Visibility = NewGate(true)
	}
	processed, err := lru.New[domain.InviteID, struct{}](opts.ProcessedCap)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		opts:      opts,
		processed: processed,
		logger:    log.With().Str("module", "app.handoff").Str("side", "fan").Str("user", string(opts.Me)).Logger(),
	}, nil
}

// Run subscribes, reconciles anything already pending, then handles events
// until ctx ends or the feed fails. A failed feed is not retried here; call
// Run again to resubscribe.
func (c *Consumer) Run(ctx context.Context) error {
	sub, err := c.opts.Feed.Subscribe(ctx, c.opts.Me)
	if err != nil {
		cerr := &ChannelError{Op: "subscribe", Err: err}
		c.logger.Error().Err(err).Msg("invite subscription failed")
		return cerr
	}
	defer func() { _ = sub.Close() }()

	events := sub.Events()
	select {
	case <-sub.Active():
	case <-ctx.Done():
		return nil
	case inv, ok := <-events:
		if !ok {
			return c.channelErr(sub)
		}
		c.Handle(ctx, inv, "push")
	}
	c.logger.Info().Msg("invite subscription active")
	c.reconcile(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case inv, ok := <-events:
			if !ok {
				return c.channelErr(sub)
			}
			c.Handle(ctx, inv, "push")
		}
	}
}

func (c *Consumer) channelErr(sub Subscription) error {
	err := sub.Err()
	if err == nil {
		err = ErrSubscriptionClosed
	}
	c.logger.Error().Err(err).Msg("invite subscription ended")
	return &ChannelError{Op: "receive", Err: err}
}

// reconcile catches an invite created before the subscription existed.
func (c *Consumer) reconcile(ctx context.Context) {
	inv, ok, err := c.opts.Invites.PendingInvite(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("cold-start query failed")
		return
	}
	if ok {
		c.Handle(ctx, inv, "cold_start")
	}
}

// Handle processes inv unless it is not for Me, not pending, expired or
// already processed. It reports whether side effects ran.
func (c *Consumer) Handle(ctx context.Context, inv domain.SessionInvite, path string) bool {
	logger := c.logger.With().Str("invite", string(inv.ID)).Str("session", string(inv.SessionID)).Str("path", path).Logger()
	if inv.InviteeID != c.opts.Me || inv.Status != domain.InvitePending {
		invitesTotal.WithLabelValues("ignored", path).Inc()
		return false
	}
	if inv.Expired(c.opts.Clock.Now()) {
		invitesTotal.WithLabelValues("expired", path).Inc()
		logger.Info().Msg("invite expired")
		return false
	}
	// Mark before any side effect so a concurrent delivery sees it.
	if found, _ := c.processed.ContainsOrAdd(inv.ID, struct{}{}); found {
		invitesTotal.WithLabelValues("duplicate", path).Inc()
		logger.Debug().Msg("duplicate invite dropped")
		return false
	}
	invitesTotal.WithLabelValues("processed", path).Inc()
	logger.Info().Msg("processing invite")

	c.notify(Notice{Kind: NoticeInfo, Title: "Your call is starting", Body: inv.CreatorName + " is ready for you."})
	if err := c.opts.Invites.UpdateInviteStatus(ctx, inv.ID, domain.InviteAccepted); err != nil {
		logger.Warn().Err(err).Msg("mark invite accepted")
	}
	c.navigate(ctx, SessionRoute(inv.SessionID, domain.RoleUser), logger)
	return true
}

// navigate redirects after a short delay when visible, or as soon as the
// page becomes visible again. Cancelling ctx drops a deferred redirect.
func (c *Consumer) navigate(ctx context.Context, url string, logger zerolog.Logger) {
	redirect := func() {
		c.opts.Suppress.Suppress()
		logger.Info().Str("url", url).Msg("redirecting to session")
		c.opts.Nav.Redirect(url)
	}
	if !c.opts.Visibility.IsOpen() {
		logger.Info().Msg("page hidden, deferring redirect")
		c.opts.Visibility.Then(ctx, redirect)
		return
	}
	go func() {
		select {
		case <-c.opts.Clock.After(c.opts.Delay):
			redirect()
		case <-ctx.Done():
		}
	}()
}

// Processed reports whether id was already handled.
func (c *Consumer) Processed(id domain.InviteID) bool {
	return c.processed.Contains(id)
}

func (c *Consumer) notify(n Notice) {
	if c.opts.Notifier != nil {
		c.opts.Notifier.Notify(n)
	}
}
