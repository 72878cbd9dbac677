package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/adi-253/dmsync/internal/api"
	"github.com/adi-253/dmsync/internal/config"
	"github.com/adi-253/dmsync/internal/presence"
	"github.com/adi-253/dmsync/internal/realtime"
	"github.com/adi-253/dmsync/internal/session"
)

// app is the client stack shared by every command.
type app struct {
	cfg      *config.Config
	store    *session.Store
	session  *session.Manager
	api      *api.Client
	sync     *realtime.Synchronizer
	presence *presence.Set

	snapshot    chan struct{}
	snapshotSub realtime.Subscription
}

func newApp() (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagAPIURL != "" {
		cfg.APIURL = flagAPIURL
		cfg.SocketURL = ""
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", cfg.LogLevel)
	}
	zerolog.SetGlobalLevel(level)
	return buildApp(cfg)
}

// buildApp wires the client stack for cfg.
func buildApp(cfg *config.Config) (*app, error) {
	store, err := session.OpenStore(cfg.StatePath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, store: store, snapshot: make(chan struct{}, 1)}
	// the client reads the token lazily, the manager is created right after
	a.api = api.NewClient(cfg.APIURL, api.TokenFunc(func() string { return a.session.Token() }), cfg.HTTPTimeout)
	a.session = session.NewManager(store, a.api)

	a.sync = realtime.New(realtime.Options{
		URL:         cfg.WebsocketURL(),
		Credentials: a.session,
		Reconnect:   cfg.Reconnect,
	})
	a.session.Attach(a.sync)
	a.presence = presence.New(a.sync)
	a.snapshotSub = a.sync.Subscribe(realtime.EventOnlineUsers, func(realtime.Event) {
		select {
		case a.snapshot <- struct{}{}:
		default:
		}
	})

	log.Debug().Str("api", cfg.APIURL).Str("socket", cfg.WebsocketURL()).Msg("[Config] Client configured")
	return a, nil
}

// restore loads the persisted session, which also connects.
func (a *app) restore(ctx context.Context) error {
	ok, err := a.session.Restore(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrap(session.ErrNoSession, "run dmsync login first")
	}
	return nil
}

// waitPresence waits briefly for the first presence snapshot.
func (a *app) waitPresence(ctx context.Context, timeout time.Duration) error {
	if !a.sync.Connected() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case <-a.snapshot:
	case <-ctx.Done():
		log.Debug().Msg("[Presence] No snapshot received")
	}
	return nil
}

func (a *app) close() {
	a.sync.Unsubscribe(a.snapshotSub)
	a.presence.Close()
	a.sync.Close()
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("[Session] Closing state store failed")
	}
}
