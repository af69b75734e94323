package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `discord:
  token: "d-token"
telegram:
  token: "t-token"

logging:
  level: debug
  console: true

notifier:
  workers: 4
  queue_size: 64
  rate_per_sec: 2
  dedup_window: "10s"

digest:
  enabled: true
  schedule: "0 9 * * *"
  timezone: "Europe/Berlin"

roster:
  - name: Alice
    discord_primary_id: "1"
    discord_secondary_ids: ["2"]
    telegram_chat_id: 100
  - name: Bob
    discord_primary_id: "3"
`

func writeConfig(t *testing.T, content string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return NewManager(path)
}

func TestLoadValidConfig(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, validYAML)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "d-token" || cfg.Telegram.Token != "t-token" {
		t.Fatalf("tokens = %q / %q", cfg.Discord.Token, cfg.Telegram.Token)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Notifier == nil || cfg.Notifier.Workers != 4 || cfg.Notifier.DedupWindow != "10s" {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}
	if cfg.Digest == nil || !cfg.Digest.Enabled || cfg.Digest.Timezone != "Europe/Berlin" {
		t.Fatalf("digest = %+v", cfg.Digest)
	}
	if len(cfg.Roster) != 2 || cfg.Roster[0].TelegramChatID != 100 {
		t.Fatalf("roster = %+v", cfg.Roster)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get() did not return the committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, validYAML+"\nsurprise: true\n")
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown top-level field accepted")
	}
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(string) string
		wantSub string
	}{
		{
			name:    "missing discord token",
			mutate:  func(s string) string { return strings.Replace(s, `token: "d-token"`, `token: ""`, 1) },
			wantSub: "discord.token",
		},
		{
			name:    "missing telegram token",
			mutate:  func(s string) string { return strings.Replace(s, `token: "t-token"`, `token: ""`, 1) },
			wantSub: "telegram.token",
		},
		{
			name: "overlapping roster ids",
			mutate: func(s string) string {
				return strings.Replace(s, `discord_primary_id: "3"`, `discord_primary_id: "2"`, 1)
			},
			wantSub: "claimed by both",
		},
		{
			name: "bad dedup window",
			mutate: func(s string) string {
				return strings.Replace(s, `dedup_window: "10s"`, `dedup_window: "soon"`, 1)
			},
			wantSub: "dedup_window",
		},
		{
			name: "bad timezone",
			mutate: func(s string) string {
				return strings.Replace(s, `timezone: "Europe/Berlin"`, `timezone: "Mars/Olympus"`, 1)
			},
			wantSub: "digest.timezone",
		},
		{
			name: "enabled digest without schedule",
			mutate: func(s string) string {
				return strings.Replace(s, `schedule: "0 9 * * *"`, `schedule: ""`, 1)
			},
			wantSub: "digest.schedule",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := writeConfig(t, tt.mutate(validYAML))
			_, err := m.Load()
			if err == nil {
				t.Fatal("bad config accepted")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("err = %v, want substring %q", err, tt.wantSub)
			}
		})
	}
}

func TestOptionalSectionsMayBeOmitted(t *testing.T) {
	t.Parallel()
	minimal := `discord:
  token: "d"
telegram:
  token: "t"
roster:
  - name: Alice
    discord_primary_id: "1"
`
	m := writeConfig(t, minimal)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Notifier != nil || cfg.Digest != nil {
		t.Fatalf("optional sections not nil: %+v %+v", cfg.Notifier, cfg.Digest)
	}
}

func TestBuildRosterTrimsIDs(t *testing.T) {
	t.Parallel()
	cfg := &Config{Roster: []PersonConfig{
		{Name: "Alice", DiscordPrimaryID: " 1 ", DiscordSecondaryIDs: []string{" 2 "}},
	}}
	r, err := BuildRoster(cfg)
	if err != nil {
		t.Fatalf("BuildRoster: %v", err)
	}
	if _, ok := r.Resolve("1"); !ok {
		t.Fatal("trimmed primary id not resolvable")
	}
	if _, ok := r.Resolve("2"); !ok {
		t.Fatal("trimmed secondary id not resolvable")
	}
}

func TestDedupWindow(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		n       *NotifierConfig
		want    time.Duration
		wantErr bool
	}{
		{name: "section omitted", n: nil, want: DedupWindowDefault},
		{name: "field omitted", n: &NotifierConfig{}, want: DedupWindowDefault},
		{name: "blank field", n: &NotifierConfig{DedupWindow: "  "}, want: DedupWindowDefault},
		{name: "explicit window", n: &NotifierConfig{DedupWindow: "10s"}, want: 10 * time.Second},
		{name: "explicit zero disables", n: &NotifierConfig{DedupWindow: "0s"}, want: 0},
		{name: "negative", n: &NotifierConfig{DedupWindow: "-1s"}, wantErr: true},
		{name: "garbage", n: &NotifierConfig{DedupWindow: "soon"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := DedupWindow(tt.n)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil || d != tt.want {
				t.Fatalf("DedupWindow = %v, %v; want %v", d, err, tt.want)
			}
		})
	}
}

func TestWriteExample(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	exPath, err := WriteExample(cfgPath)
	if err != nil {
		t.Fatalf("WriteExample: %v", err)
	}
	if filepath.Base(exPath) != "example.config.yaml" {
		t.Fatalf("example path = %s", exPath)
	}

	// The emitted template must itself be parseable (strict mode included).
	m := NewManager(exPath)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("example template does not parse: %v", err)
	}
	if len(cfg.Roster) == 0 {
		t.Fatal("example template has no roster entries")
	}

	// A second call must not clobber the existing file.
	if err := os.WriteFile(exPath, []byte("edited"), 0o644); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if _, err := WriteExample(cfgPath); err != nil {
		t.Fatalf("second WriteExample: %v", err)
	}
	b, err := os.ReadFile(exPath)
	if err != nil || string(b) != "edited" {
		t.Fatalf("example overwritten: %q, %v", b, err)
	}
}

func TestWatchReportsBrokenBackend(t *testing.T) {
	t.Parallel()
	// A missing directory cannot be watched. Watch must surface that to its
	// caller instead of retrying internally; the supervisor owns restarts.
	m := NewManager(filepath.Join(t.TempDir(), "missing", "config.yaml"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Watch(ctx); err == nil {
		t.Fatal("Watch returned nil for an unwatchable directory")
	}
}

func TestWatchReloadsValidatedChanges(t *testing.T) {
	m := writeConfig(t, validYAML)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher a moment to register the directory.
	time.Sleep(300 * time.Millisecond)

	// A bad edit must never reach subscribers.
	bad := strings.Replace(validYAML, `token: "d-token"`, `token: ""`, 1)
	if err := os.WriteFile(m.Path(), []byte(bad), 0o644); err != nil {
		t.Fatalf("write bad: %v", err)
	}

	time.Sleep(600 * time.Millisecond)
	select {
	case cfg := <-sub:
		t.Fatalf("invalid config published: %+v", cfg)
	default:
	}

	// A good edit is committed and published.
	good := strings.Replace(validYAML, "level: debug", "level: warn", 1)
	if err := os.WriteFile(m.Path(), []byte(good), 0o644); err != nil {
		t.Fatalf("write good: %v", err)
	}

	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "warn" {
			t.Fatalf("published level = %q, want warn", cfg.Logging.Level)
		}
		if m.Get().Logging.Level != "warn" {
			t.Fatal("committed config not updated")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for reload")
	}
}
