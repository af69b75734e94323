// Package digest sends an optional scheduled summary of who is currently in
// voice to every notifiable roster member. Off by default; it exists for
// people who want a morning overview instead of (or on top of) live pings.
package digest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"voicebridge/internal/correlator"
	"voicebridge/internal/notify"
	"voicebridge/internal/roster"
	"voicebridge/pkg/logx"
)

type Config struct {
	Enabled  bool
	Schedule string
	Timezone string // IANA TZ, e.g. "Europe/Berlin"
}

// Source enumerates guilds and reads their voice snapshots.
type Source interface {
	Guilds() []string
	GuildName(guildID string) (string, error)
	Snapshot(guildID string) (correlator.Snapshot, error)
}

// Dispatcher accepts notifications for async delivery.
type Dispatcher interface {
	Enqueue(ctx context.Context, n notify.Notification) error
}

type Service struct {
	cfg  Config
	src  Source
	disp Dispatcher
	log  logx.Logger

	// Roster is read via this getter so config hot reloads are picked up
	// on the next tick.
	rosterFn func() *roster.Roster

	parser cron.Parser
}

func New(cfg Config, src Source, disp Dispatcher, rosterFn func() *roster.Roster, log logx.Logger) *Service {
	return &Service{
		cfg:      cfg,
		src:      src,
		disp:     disp,
		rosterFn: rosterFn,
		log:      log,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// ValidateSchedule reports whether spec parses as a digest cron schedule.
// Used by the config validator so a bad hot reload is rejected up front.
func ValidateSchedule(spec string) error {
	p := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := p.Parse(strings.TrimSpace(spec)); err != nil {
		return fmt.Errorf("digest schedule %q: %w", spec, err)
	}
	return nil
}

// Run ticks on the configured cron schedule until ctx is canceled. Intended
// to run under the app supervisor.
func (s *Service) Run(ctx context.Context) error {
	sched, err := s.parser.Parse(strings.TrimSpace(s.cfg.Schedule))
	if err != nil {
		return fmt.Errorf("digest schedule %q: %w", s.cfg.Schedule, err)
	}
	loc := time.UTC
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("digest timezone %q: %w", tz, err)
		}
		loc = l
	}

	for {
		next := sched.Next(time.Now().In(loc))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		s.tick(ctx)
	}
}

func (s *Service) tick(ctx context.Context) {
	r := s.rosterFn()
	if r == nil {
		return
	}

	entries := s.collect(r)
	text := Compose(entries)
	if text == "" {
		s.log.Debug("digest tick: nobody in voice, nothing sent")
		return
	}

	for _, p := range r.People() {
		if !p.Notifiable() {
			continue
		}
		err := s.disp.Enqueue(ctx, notify.Notification{
			ChatID:    p.ChatID,
			Text:      text,
			Recipient: p.Name,
		})
		if err != nil {
			s.log.Warn("digest not queued", logx.String("to", p.Name), logx.Err(err))
		}
	}
}

// GuildEntry is the presence of roster members in one guild.
type GuildEntry struct {
	GuildName string
	// Present maps person name -> number of their connected accounts that
	// are listening (not self-deafened).
	Present map[string]int
}

func (s *Service) collect(r *roster.Roster) []GuildEntry {
	var entries []GuildEntry
	for _, gid := range s.src.Guilds() {
		snap, err := s.src.Snapshot(gid)
		if err != nil {
			s.log.Warn("digest: snapshot unavailable", logx.String("guild", gid), logx.Err(err))
			continue
		}
		present := map[string]int{}
		for id := range snap {
			if !snap.Active(id) {
				continue
			}
			if p, ok := r.Resolve(id); ok {
				present[p.Name]++
			}
		}
		if len(present) == 0 {
			continue
		}
		name, err := s.src.GuildName(gid)
		if err != nil {
			s.log.Warn("digest: guild name lookup failed", logx.String("guild", gid), logx.Err(err))
			name = gid
		}
		entries = append(entries, GuildEntry{GuildName: name, Present: present})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].GuildName < entries[j].GuildName })
	return entries
}

// Compose renders the digest text. Empty when no roster member is in voice
// anywhere (in which case nothing should be sent).
func Compose(entries []GuildEntry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Currently in voice:\n")
	for _, e := range entries {
		names := make([]string, 0, len(e.Present))
		for n := range e.Present {
			names = append(names, n)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, n := range names {
			if c := e.Present[n]; c > 1 {
				parts = append(parts, fmt.Sprintf("%s (%d accounts)", n, c))
			} else {
				parts = append(parts, n)
			}
		}
		fmt.Fprintf(&b, "%s: %s\n", e.GuildName, strings.Join(parts, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}
