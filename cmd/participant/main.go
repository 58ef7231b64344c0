// Command participant runs one creator or fan against a Livecall server
// using the local camera and microphone.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/Livecall/internal/adapters/client"
	"github.com/dkeye/Livecall/internal/adapters/device"
	"github.com/dkeye/Livecall/internal/adapters/rtc"
	"github.com/dkeye/Livecall/internal/app/handoff"
	"github.com/dkeye/Livecall/internal/app/participant"
	"github.com/dkeye/Livecall/internal/config"
	"github.com/dkeye/Livecall/internal/domain"
)

type options struct {
	server       string
	token        string
	role         string
	name         string
	creator      string
	entry        string
	consentEntry string
	readyEntry   string
}

func parseFlags(cfg *config.Config) options {
	var o options
	pflag.StringVar(&o.server, "server", cfg.ServerURL, "Livecall server base URL")
	pflag.StringVar(&o.token, "token", "", "identity token (a new one is generated when empty)")
	pflag.StringVar(&o.role, "role", string(domain.RoleUser), "creator or user")
	pflag.StringVar(&o.name, "name", "", "display name to set on start")
	pflag.StringVar(&o.creator, "creator", "", "fan: join this creator's queue")
	pflag.StringVar(&o.readyEntry, "ready", "", "fan: mark this queue entry ready")
	pflag.StringVar(&o.consentEntry, "request-consent", "", "creator: ask the fan of this queue entry to get ready")
	pflag.StringVar(&o.entry, "entry", "", "creator: start a session with this queue entry")
	pflag.DurationVar(&cfg.HeartbeatPeriod, "heartbeat", cfg.HeartbeatPeriod, "presence heartbeat period")
	pflag.DurationVar(&cfg.NavigationDelay, "navigation-delay", cfg.NavigationDelay, "delay before following an invite")
	pflag.Parse()
	return o
}

// navigator stands in for page navigation: routes are handed to the main loop.
type navigator chan string

func (n navigator) Redirect(route string) {
	select {
	case n <- route:
	default:
		log.Warn().Str("route", route).Msg("navigation already pending, dropped")
	}
}

type logNotifier struct{}

func (logNotifier) Notify(n handoff.Notice) {
	ev := log.Info()
	if n.Kind == handoff.NoticeError {
		ev = log.Warn()
	}
	ev.Str("module", "notice").Str("kind", string(n.Kind)).Str("title", n.Title).Msg(n.Body)
}

func mediaStack() (*device.Source, *rtc.Factory, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 500_000
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, fmt.Errorf("opus params: %w", err)
	}
	codecs := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)
	me := &webrtc.MediaEngine{}
	codecs.Populate(me)
	factory, err := rtc.NewFactory(webrtc.NewAPI(webrtc.WithMediaEngine(me)), rtc.DefaultWebRTCConfig())
	if err != nil {
		return nil, nil, err
	}
	return device.NewSource(codecs, device.DefaultConstraints()), factory, nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	opts := parseFlags(cfg)
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, cfg, opts); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("participant stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, opts options) error {
	role := domain.Role(opts.role)
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", opts.role)
	}
	if opts.token == "" {
		opts.token = uuid.NewString()
		log.Info().Str("token", opts.token).Msg("generated identity token")
	}
	me := domain.UserID(opts.token)

	c, err := client.New(opts.server, me)
	if err != nil {
		return err
	}
	if opts.name != "" {
		if err := c.UpdateProfile(ctx, opts.name, ""); err != nil {
			return fmt.Errorf("set name: %w", err)
		}
	}
	devices, transports, err := mediaStack()
	if err != nil {
		return err
	}

	nav := make(navigator, 1)
	rt, err := participant.New(participant.Deps{
		Me:         me,
		Role:       role,
		Backend:    c,
		Devices:    devices,
		Transports: transports,
		Nav:        nav,
		Notifier:   logNotifier{},
		Timing: participant.Timing{
			HeartbeatPeriod: cfg.HeartbeatPeriod,
			TeardownGuard:   cfg.TeardownGuard,
			NavigationDelay: cfg.NavigationDelay,
			TransitionGrace: cfg.TransitionGrace,
			ProcessedCap:    cfg.ProcessedCap,
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		unloadCtx, unloadCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer unloadCancel()
		rt.HandleUnload(unloadCtx)
	}()

	listenCtx, stopListening := context.WithCancel(ctx)
	defer stopListening()
	listenErr := make(chan error, 1)

	switch role {
	case domain.RoleCreator:
		if err := rt.GoLive(ctx); err != nil {
			return err
		}
		if err := creatorActions(ctx, c, rt, opts); err != nil {
			return err
		}
	case domain.RoleUser:
		if err := fanActions(ctx, c, opts); err != nil {
			return err
		}
		go func() { listenErr <- rt.ListenForInvites(listenCtx) }()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-listenErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		case route := <-nav:
			stopListening()
			if err := followRoute(ctx, rt, route); err != nil {
				log.Warn().Err(err).Str("route", route).Msg("could not enter session")
			}
		}
	}
}

// followRoute does what loading the session page does: the old page
// unloads, a fresh runtime is built and the session is entered.
func followRoute(ctx context.Context, rt *participant.Runtime, route string) error {
	id, _, err := handoff.ParseSessionRoute(route)
	if err != nil {
		return err
	}
	rt.HandleUnload(ctx)
	if err := rt.Reset(ctx); err != nil {
		return err
	}
	log.Info().Str("session", string(id)).Msg("entering session")
	return rt.EnterSession(ctx, id, func(err error) {
		log.Warn().Err(err).Msg("publishing failed, call continues without local media")
	})
}

func creatorActions(ctx context.Context, c *client.Client, rt *participant.Runtime, opts options) error {
	if opts.consentEntry != "" {
		if _, err := c.SetFanState(ctx, domain.QueueEntryID(opts.consentEntry), domain.FanAwaitingConsent); err != nil {
			return fmt.Errorf("request consent: %w", err)
		}
	}
	if opts.entry == "" {
		return nil
	}
	entries, err := c.Queue(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ID == domain.QueueEntryID(opts.entry) {
			_, err := rt.StartSessionWith(ctx, e)
			return err
		}
	}
	return fmt.Errorf("entry %s: %w", opts.entry, domain.ErrNotFound)
}

func fanActions(ctx context.Context, c *client.Client, opts options) error {
	if opts.creator != "" {
		e, err := c.JoinQueue(ctx, domain.UserID(opts.creator))
		if err != nil {
			return fmt.Errorf("join queue: %w", err)
		}
		log.Info().Str("entry", string(e.ID)).Str("state", string(e.FanState)).Msg("joined queue")
	}
	if opts.readyEntry != "" {
		if _, err := c.SetFanState(ctx, domain.QueueEntryID(opts.readyEntry), domain.FanReady); err != nil {
			return fmt.Errorf("mark ready: %w", err)
		}
	}
	return nil
}
