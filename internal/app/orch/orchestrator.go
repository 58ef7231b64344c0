// Package orch is the server-side coordinator: it runs the atomic session
// creation, answers invite and presence calls, and pushes invites to the
// fan's realtime feed.
package orch

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Livecall/internal/app"
	"github.com/dkeye/Livecall/internal/core"
	"github.com/dkeye/Livecall/internal/domain"
)

const DefaultInviteTTL = 2 * time.Minute

// Store is the authoritative persistence the orchestrator drives.
type Store interface {
	EnsureUser(ctx context.Context, id domain.UserID, username string) (domain.User, error)
	GetUser(ctx context.Context, id domain.UserID) (domain.User, error)
	UpdateProfile(ctx context.Context, id domain.UserID, username, avatarURL string) error
	SetPresence(ctx context.Context, id domain.UserID, online bool) error

	JoinQueue(ctx context.Context, creatorID, fanID domain.UserID) (domain.QueueEntry, error)
	SetFanState(ctx context.Context, caller domain.UserID, id domain.QueueEntryID, next domain.FanState) (domain.QueueEntry, error)
	ListQueue(ctx context.Context, creatorID domain.UserID) ([]domain.QueueEntry, error)
	CountQueue(ctx context.Context, creatorID domain.UserID) (int, error)
	LeaveQueue(ctx context.Context, fanID domain.UserID, id domain.QueueEntryID) error

	CreateSessionFromQueue(ctx context.Context, creatorID domain.UserID, entryID domain.QueueEntryID, ttl time.Duration) (domain.Session, domain.SessionInvite, error)
	GetSession(ctx context.Context, id domain.SessionID) (domain.Session, error)
	EndSession(ctx context.Context, caller domain.UserID, id domain.SessionID) (domain.Session, error)

	PendingInvite(ctx context.Context, invitee domain.UserID) (domain.SessionInvite, bool, error)
	UpdateInviteStatus(ctx context.Context, caller domain.UserID, id domain.InviteID, status domain.InviteStatus) (domain.SessionInvite, error)
	ExpireInvites(ctx context.Context) (int64, error)
}

type Orchestrator struct {
	Store     Store
	Feeds     *app.Registry
	Policy    app.Policy
	Limiter   *app.CreateLimiter
	Clock     clock.Clock
	InviteTTL time.Duration
}

func (o *Orchestrator) inviteTTL() time.Duration {
	if o.InviteTTL <= 0 {
		return DefaultInviteTTL
	}
	return o.InviteTTL
}

// pushInvite delivers inv to every open feed of its invitee. Delivery is best
// effort: the invitee also finds the invite through PendingInvite.
func (o *Orchestrator) pushInvite(inv domain.SessionInvite) {
	frame, err := core.FeedMessage{Type: core.FeedInviteCreated, Invite: &inv}.Frame()
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Msg("marshal invite")
		return
	}
	res := o.Feeds.Publish(inv.InviteeID, frame)
	log.Info().Str("module", "app.orch").
		Str("invite", string(inv.ID)).
		Str("user", string(inv.InviteeID)).
		Int("delivered", res.Delivered).
		Int("dropped", len(res.Dropped)).
		Msg("invite pushed")
	o.onDropped(res.Dropped)
}

func (o *Orchestrator) onDropped(dropped []core.ConnID) {
	if o.Policy == nil {
		return
	}
	for _, id := range dropped {
		sub, ok := o.Feeds.Subscriber(id)
		if !ok {
			continue
		}
		switch o.Policy.OnBackPressure(sub) {
		case app.DropSubscriber:
			feedDropsTotal.Inc()
			o.Feeds.Cancel(id)
		case app.DropFrame, app.NoAction:
		}
	}
}
