package orch

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Livecall/internal/domain"
)

const guestName = "guest"

func (o *Orchestrator) clock() clock.Clock {
	if o.Clock == nil {
		return clock.New()
	}
	return o.Clock
}

// Me returns the caller, creating a guest user on first contact.
func (o *Orchestrator) Me(ctx context.Context, caller domain.UserID) (domain.User, error) {
	return o.Store.EnsureUser(ctx, caller, guestName)
}

func (o *Orchestrator) UpdateProfile(ctx context.Context, caller domain.UserID, username, avatarURL string) (domain.User, error) {
	u := domain.User{ID: caller}
	if err := u.SetUsername(username); err != nil {
		return domain.User{}, err
	}
	if _, err := o.Store.EnsureUser(ctx, caller, guestName); err != nil {
		return domain.User{}, err
	}
	if err := o.Store.UpdateProfile(ctx, caller, username, avatarURL); err != nil {
		return domain.User{}, err
	}
	log.Info().Str("module", "app.orch").Str("user", string(caller)).Str("username", username).Msg("profile updated")
	u.AvatarURL = avatarURL
	return u, nil
}

// ReportPresence records caller's online flag.
func (o *Orchestrator) ReportPresence(ctx context.Context, caller domain.UserID, online bool) error {
	if _, err := o.Store.EnsureUser(ctx, caller, guestName); err != nil {
		return err
	}
	if err := o.Store.SetPresence(ctx, caller, online); err != nil {
		return err
	}
	log.Debug().Str("module", "app.orch").Str("user", string(caller)).Bool("online", online).Msg("presence")
	return nil
}
