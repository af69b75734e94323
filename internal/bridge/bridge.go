// Package bridge runs the event loop between the Discord gateway and the
// notify pipeline: read one transition, take one consistent snapshot, let
// the correlator decide, format and enqueue the resulting notifications.
//
// A single loop consumes the transition channel, which keeps per-guild
// processing in arrival order against the snapshots it reads.
package bridge

import (
	"context"
	"fmt"
	"sync/atomic"

	"voicebridge/internal/correlator"
	"voicebridge/internal/notify"
	"voicebridge/internal/roster"
	"voicebridge/pkg/logx"
)

// Source answers point-in-time questions about the source platform while a
// transition is being processed.
type Source interface {
	Snapshot(guildID string) (correlator.Snapshot, error)
	GuildName(guildID string) (string, error)
	AccountName(ctx context.Context, id roster.AccountID) (string, error)
}

// Dispatcher accepts notifications for async, fire-and-forget delivery.
type Dispatcher interface {
	Enqueue(ctx context.Context, n notify.Notification) error
}

type Bridge struct {
	log  logx.Logger
	src  Source
	disp Dispatcher

	roster atomic.Pointer[roster.Roster]
}

func New(r *roster.Roster, src Source, disp Dispatcher, log logx.Logger) *Bridge {
	b := &Bridge{log: log, src: src, disp: disp}
	b.roster.Store(r)
	return b
}

// SetRoster swaps the roster (config hot reload). The swap is atomic, so it
// lands between events, never in the middle of one.
func (b *Bridge) SetRoster(r *roster.Roster) {
	if r != nil {
		b.roster.Store(r)
	}
}

// Run consumes transitions until ctx is canceled or the channel closes.
func (b *Bridge) Run(ctx context.Context, events <-chan correlator.VoiceTransition) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-events:
			if !ok {
				return nil
			}
			b.Handle(ctx, t)
		}
	}
}

// Handle processes one transition. Nothing here may fail the process: a
// missing snapshot skips the event (toward silence, never toward spam), a
// failed name lookup aborts only the affected notification.
func (b *Bridge) Handle(ctx context.Context, t correlator.VoiceTransition) {
	snap, err := b.src.Snapshot(t.GuildID)
	if err != nil {
		b.log.Warn("snapshot unavailable; skipping transition",
			logx.String("guild", t.GuildID), logx.String("account", string(t.AccountID)), logx.Err(err))
		return
	}

	d, ok := correlator.Evaluate(b.roster.Load(), t, snap)
	if !ok {
		return
	}

	guildName, err := b.src.GuildName(d.GuildID)
	if err != nil {
		// Both message forms carry the guild name; nothing can be composed.
		b.log.Warn("guild name lookup failed; dropping notifications",
			logx.String("guild", d.GuildID), logx.Err(err))
		return
	}

	b.log.Info("genuine arrival",
		logx.String("person", d.Person.Name),
		logx.String("account", string(d.Account)),
		logx.String("guild", guildName),
		logx.Bool("self_notify", d.SelfNotify),
		logx.Int("peers", len(d.Peers)))

	if d.SelfNotify {
		b.sendSelf(ctx, d, guildName)
	}

	if len(d.Peers) > 0 {
		text := peerMessage(d.Person.Name, guildName)
		for _, peer := range d.Peers {
			b.enqueue(ctx, notify.Notification{
				ChatID:    peer.ChatID,
				Text:      text,
				Recipient: peer.Name,
			})
		}
	}
}

func (b *Bridge) sendSelf(ctx context.Context, d correlator.Decision, guildName string) {
	accountName, err := b.src.AccountName(ctx, d.Account)
	if err != nil {
		b.log.Warn("account name lookup failed; dropping self notification",
			logx.String("person", d.Person.Name), logx.String("account", string(d.Account)), logx.Err(err))
		return
	}
	b.enqueue(ctx, notify.Notification{
		ChatID:    d.Person.ChatID,
		Text:      selfMessage(accountName, guildName),
		Recipient: d.Person.Name,
	})
}

func (b *Bridge) enqueue(ctx context.Context, n notify.Notification) {
	if err := b.disp.Enqueue(ctx, n); err != nil {
		b.log.Warn("notification not queued", logx.String("to", n.Recipient), logx.Err(err))
	}
}

func selfMessage(accountName, guildName string) string {
	return fmt.Sprintf("You joined with %s on %s", accountName, guildName)
}

func peerMessage(personName, guildName string) string {
	return fmt.Sprintf("%s joined on %s!", personName, guildName)
}
