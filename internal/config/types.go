package config

type Config struct {
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Notifier controls the async delivery pipeline. If the whole section is
	// omitted, defaults apply (see notify.Config).
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	// Digest controls the optional scheduled "who is in voice" summary.
	Digest *DigestConfig `json:"digest,omitempty"`

	Roster []PersonConfig `json:"roster"`
}

type DiscordConfig struct {
	Token string `json:"token"`
}

type TelegramConfig struct {
	Token string `json:"token"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// NotifierConfig controls the async delivery pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifierConfig struct {
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

// DigestConfig controls the scheduled voice-presence digest.
//
// Schedule is a cron expression (standard five-field, or @every descriptors).
type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone,omitempty"` // IANA TZ, e.g. "Europe/Berlin"
}

// PersonConfig is one roster entry: a person, their Discord accounts, and
// (optionally) the Telegram chat to notify.
type PersonConfig struct {
	Name                string   `json:"name"`
	DiscordPrimaryID    string   `json:"discord_primary_id"`
	DiscordSecondaryIDs []string `json:"discord_secondary_ids,omitempty"`
	// TelegramChatID of 0 (or omitted) means this person is never notified.
	TelegramChatID int64 `json:"telegram_chat_id,omitempty"`
}
