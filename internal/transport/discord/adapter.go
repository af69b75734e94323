// Package discord adapts the Discord gateway to the bridge: it translates
// voice-state updates into transitions and answers point-in-time questions
// (guild voice snapshot, display names) from the session's state cache.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"voicebridge/internal/correlator"
	"voicebridge/internal/roster"
	rtsup "voicebridge/internal/runtime/supervisor"
	"voicebridge/pkg/logx"
)

type Config struct {
	Token string
}

type Adapter struct {
	cfg Config
	log logx.Logger

	session *discordgo.Session

	out     atomic.Value // stores (chan<- correlator.VoiceTransition)
	runMu   sync.Mutex
	running bool

	// droppedEvents counts transitions dropped because the bridge was slower
	// than the gateway. Reported periodically to avoid per-event log spam.
	droppedEvents uint64

	sup *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + strings.TrimSpace(cfg.Token))
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	s.StateEnabled = true

	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, session: s}

	var nilOut chan<- correlator.VoiceTransition
	a.out.Store(nilOut)

	s.AddHandler(a.onReady)
	s.AddHandler(a.onVoiceStateUpdate)
	return a, nil
}

func (a *Adapter) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	a.log.Info("gateway ready", logx.String("user", r.User.Username))
}

func (a *Adapter) onVoiceStateUpdate(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v == nil {
		return
	}
	t := correlator.VoiceTransition{
		AccountID: roster.AccountID(v.UserID),
		GuildID:   v.GuildID,
		ChannelID: v.ChannelID,
		SelfDeaf:  v.SelfDeaf,
	}
	if v.BeforeUpdate != nil {
		t.Previous = &correlator.VoiceObservation{
			GuildID:   v.BeforeUpdate.GuildID,
			ChannelID: v.BeforeUpdate.ChannelID,
		}
	}
	a.forward(t)
}

func (a *Adapter) forward(t correlator.VoiceTransition) {
	v := a.out.Load()
	out, _ := v.(chan<- correlator.VoiceTransition)
	if out == nil {
		return
	}
	select {
	case out <- t:
	default:
		atomic.AddUint64(&a.droppedEvents, 1)
	}
}

// Start opens the gateway connection and begins forwarding transitions into
// out. discordgo reconnects on its own after the initial handshake, so a
// failed Open here is fatal while later drops self-heal.
func (a *Adapter) Start(ctx context.Context, out chan<- correlator.VoiceTransition) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "discord.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("discord gateway open: %w", err)
	}

	// Periodic summary for dropped transitions.
	sup.Go0("events.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := atomic.SwapUint64(&a.droppedEvents, 0); n > 0 {
				a.log.Warn("voice transitions dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- correlator.VoiceTransition
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if sup != nil {
		sup.Cancel()
	}

	err := a.session.Close()

	if sup != nil {
		wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if werr := sup.Wait(wctx); werr != nil && !errors.Is(werr, context.DeadlineExceeded) && !errors.Is(werr, context.Canceled) {
			a.log.Warn("discord stop error", logx.Err(werr))
		}
	}
	return err
}

// Snapshot reads the current voice occupancy of a guild from the state
// cache. Failing to read state maps to "cannot determine genuine arrival":
// callers skip the event rather than risk false-positive notifications.
func (a *Adapter) Snapshot(guildID string) (correlator.Snapshot, error) {
	g, err := a.session.State.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("guild %s state: %w", guildID, err)
	}
	snap := make(correlator.Snapshot, len(g.VoiceStates))
	for _, vs := range g.VoiceStates {
		if vs == nil {
			continue
		}
		snap[roster.AccountID(vs.UserID)] = correlator.Presence{
			ChannelID: vs.ChannelID,
			SelfDeaf:  vs.SelfDeaf,
		}
	}
	return snap, nil
}

// Guilds lists the ids of all guilds the bot currently sees.
func (a *Adapter) Guilds() []string {
	state := a.session.State
	state.RLock()
	defer state.RUnlock()
	ids := make([]string, 0, len(state.Guilds))
	for _, g := range state.Guilds {
		if g != nil {
			ids = append(ids, g.ID)
		}
	}
	return ids
}

// GuildName resolves a guild's display name from the state cache.
func (a *Adapter) GuildName(guildID string) (string, error) {
	g, err := a.session.State.Guild(guildID)
	if err != nil {
		return "", fmt.Errorf("guild %s state: %w", guildID, err)
	}
	return g.Name, nil
}

// AccountName resolves an account's display name via a REST lookup; voice
// states in the cache carry no usernames.
func (a *Adapter) AccountName(ctx context.Context, id roster.AccountID) (string, error) {
	u, err := a.session.User(string(id), discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("user %s lookup: %w", id, err)
	}
	return u.Username, nil
}
