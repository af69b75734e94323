package config

import (
	"fmt"
	"strings"
	"time"

	"voicebridge/internal/roster"
)

// BuildRoster converts the configured roster entries into an indexed,
// immutable roster. Overlapping account ids across entries fail here, so a
// misconfigured roster is rejected at load time instead of silently
// resolving to first-match.
func BuildRoster(cfg *Config) (*roster.Roster, error) {
	people := make([]roster.Person, 0, len(cfg.Roster))
	for _, pc := range cfg.Roster {
		p := roster.Person{
			Name:      pc.Name,
			PrimaryID: roster.AccountID(strings.TrimSpace(pc.DiscordPrimaryID)),
			ChatID:    pc.TelegramChatID,
		}
		for _, id := range pc.DiscordSecondaryIDs {
			p.SecondaryIDs = append(p.SecondaryIDs, roster.AccountID(strings.TrimSpace(id)))
		}
		people = append(people, p)
	}
	r, err := roster.New(people)
	if err != nil {
		return nil, fmt.Errorf("roster: %w", err)
	}
	return r, nil
}

// DedupWindowDefault applies when notifier.dedup_window is omitted.
const DedupWindowDefault = 5 * time.Second

// DedupWindow returns the effective dedup window for the notify pipeline.
// An omitted section or empty field falls back to the default; an explicit
// "0s" disables dedup.
func DedupWindow(n *NotifierConfig) (time.Duration, error) {
	if n == nil {
		return DedupWindowDefault, nil
	}
	raw := strings.TrimSpace(n.DedupWindow)
	if raw == "" {
		return DedupWindowDefault, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("notifier.dedup_window: invalid duration %q: %w", n.DedupWindow, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("notifier.dedup_window: must be >= 0")
	}
	return d, nil
}

// Validate checks everything that must hold before the process may start
// (and before a hot reload may be committed).
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Discord.Token) == "" {
		return fmt.Errorf("discord.token is empty")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is empty")
	}
	if _, err := BuildRoster(cfg); err != nil {
		return err
	}
	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 {
			return fmt.Errorf("notifier.workers must be >= 0")
		}
		if n.QueueSize < 0 {
			return fmt.Errorf("notifier.queue_size must be >= 0")
		}
		if n.RatePerSec < 0 {
			return fmt.Errorf("notifier.rate_per_sec must be >= 0")
		}
		if _, err := DedupWindow(n); err != nil {
			return err
		}
	}
	if d := cfg.Digest; d != nil && d.Enabled {
		if strings.TrimSpace(d.Schedule) == "" {
			return fmt.Errorf("digest.schedule is empty")
		}
		if tz := strings.TrimSpace(d.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("digest.timezone: invalid %q: %w", tz, err)
			}
		}
	}
	return nil
}
