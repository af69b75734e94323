// Package app wires the bridge together: config, logging, the two platform
// adapters, the correlator loop, and the notify pipeline.
package app

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"voicebridge/internal/bridge"
	"voicebridge/internal/config"
	"voicebridge/internal/correlator"
	"voicebridge/internal/digest"
	"voicebridge/internal/eventbus"
	"voicebridge/internal/notify"
	"voicebridge/internal/roster"
	"voicebridge/internal/runtime/supervisor"
	"voicebridge/internal/transport/discord"
	"voicebridge/internal/transport/telegram"
	"voicebridge/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	discord  *discord.Adapter
	telegram *telegram.Sender

	bus    eventbus.Bus[notify.OutcomeEvent]
	notif  *notify.Service
	bridge *bridge.Bridge
	digest *digest.Service

	curRoster atomic.Pointer[roster.Roster]

	events chan correlator.VoiceTransition

	// delivery outcome counters, logged at shutdown
	sent   atomic.Uint64
	failed atomic.Uint64
}

// New loads and validates the config and constructs every component. A
// missing config file additionally drops an example template next to the
// requested path so the operator has something to fill in.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		if os.IsNotExist(err) {
			if examplePath, werr := config.WriteExample(cfgPath); werr == nil {
				return nil, fmt.Errorf("config %s not found; take a look at %s", cfgPath, examplePath)
			}
		}
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	r, err := config.BuildRoster(cfg)
	if err != nil {
		return nil, err
	}

	dc, err := discord.New(discord.Config{Token: cfg.Discord.Token}, log.With(logx.String("comp", "discord")))
	if err != nil {
		return nil, err
	}
	tg, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New[notify.OutcomeEvent]()

	notifCfg, err := notifyConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notify.New(notifCfg, tg, log.With(logx.String("comp", "notifier")), bus)

	br := bridge.New(r, dc, notif, log.With(logx.String("comp", "bridge")))

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		discord:  dc,
		telegram: tg,
		bus:      bus,
		notif:    notif,
		bridge:   br,
		events:   make(chan correlator.VoiceTransition, 256),
	}
	a.curRoster.Store(r)

	if d := cfg.Digest; d != nil && d.Enabled {
		a.digest = digest.New(digest.Config{
			Enabled:  true,
			Schedule: d.Schedule,
			Timezone: d.Timezone,
		}, dc, notif, a.curRoster.Load, log.With(logx.String("comp", "digest")))
	}

	return a, nil
}

func notifyConfig(cfg *config.Config) (notify.Config, error) {
	window, err := config.DedupWindow(cfg.Notifier)
	if err != nil {
		return notify.Config{}, err
	}
	out := notify.Config{DedupWindow: window}
	if n := cfg.Notifier; n != nil {
		out.Workers = n.Workers
		out.QueueSize = n.QueueSize
		out.RatePerSec = n.RatePerSec
		out.DedupMaxEntries = n.DedupMaxEntries
	}
	return out, nil
}

// Done is closed when the app supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// config.Validate already ran; add the cron-specific check here so
		// a bad hot reload never reaches the digest loop.
		if d := cfg.Digest; d != nil && d.Enabled {
			return digest.ValidateSchedule(d.Schedule)
		}
		return nil
	})

	// The notifier gets a lifecycle detached from the run context so queued
	// notifications can still drain during shutdown; Stop bounds the drain.
	a.notif.Start(context.WithoutCancel(a.sup.Context()))

	if err := a.discord.Start(a.sup.Context(), a.events); err != nil {
		return err
	}

	a.sup.Go("bridge.loop", func(c context.Context) error {
		return a.bridge.Run(c, a.events)
	})

	if a.digest != nil {
		a.sup.Go("digest.loop", a.digest.Run)
	}

	// Count delivery outcomes so fire-and-forget stays observable.
	outcomes, unsub := a.bus.Subscribe(64)
	a.sup.Go0("notify.outcomes", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case out, ok := <-outcomes:
				if !ok {
					return
				}
				switch out.Type {
				case notify.EventSent:
					a.sent.Add(1)
				case notify.EventFailed:
					a.failed.Add(1)
				}
			}
		}
	})

	// Config hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(newCfg)
			}
		}
	})

	// The fsnotify backend can break (editor rename dances, platform
	// quirks); the restart loop re-establishes the watch with backoff.
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(250*time.Millisecond, 5*time.Second))

	a.log.Info("app started", logx.Int("roster", a.curRoster.Load().Len()))
	return nil
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	// Validated before publish, so this cannot fail in practice.
	if r, err := config.BuildRoster(cfg); err == nil {
		a.curRoster.Store(r)
		a.bridge.SetRoster(r)
	} else {
		a.log.Warn("roster rebuild failed; keeping previous roster", logx.Err(err))
	}

	if notifCfg, err := notifyConfig(cfg); err == nil {
		a.notif.Apply(notifCfg)
	} else {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	}

	// Digest schedule changes need a restart; enabling/disabling live is
	// not worth the machinery for a feature that fires a few times a day.
	if d := cfg.Digest; (d != nil && d.Enabled) != (a.digest != nil) {
		a.log.Warn("digest enable/disable requires restart")
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so loops unwind while we drain.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
	}

	// Drain in-flight notifications before tearing down transports.
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("discord", 2*time.Second, func(c context.Context) error { return a.discord.Stop(c) })
	step("telegram", 1*time.Second, func(c context.Context) error { return a.telegram.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped",
		logx.Uint64("notifications_sent", a.sent.Load()),
		logx.Uint64("notifications_failed", a.failed.Load()))
	_ = a.logs.Close()
	return nil
}
