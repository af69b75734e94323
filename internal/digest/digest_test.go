package digest

import (
	"context"
	"errors"
	"testing"

	"voicebridge/internal/correlator"
	"voicebridge/internal/notify"
	"voicebridge/internal/roster"
	"voicebridge/pkg/logx"
)

type fakeSource struct {
	guilds   []string
	names    map[string]string
	nameErr  map[string]error
	snaps    map[string]correlator.Snapshot
	snapErrs map[string]error
}

func (f *fakeSource) Guilds() []string { return f.guilds }

func (f *fakeSource) GuildName(id string) (string, error) {
	if err := f.nameErr[id]; err != nil {
		return "", err
	}
	return f.names[id], nil
}

func (f *fakeSource) Snapshot(id string) (correlator.Snapshot, error) {
	if err := f.snapErrs[id]; err != nil {
		return nil, err
	}
	return f.snaps[id], nil
}

type captureDispatcher struct {
	got []notify.Notification
}

func (c *captureDispatcher) Enqueue(_ context.Context, n notify.Notification) error {
	c.got = append(c.got, n)
	return nil
}

func testRoster(t *testing.T) *roster.Roster {
	t.Helper()
	r, err := roster.New([]roster.Person{
		{Name: "Alice", PrimaryID: "1", SecondaryIDs: []roster.AccountID{"2"}, ChatID: 100},
		{Name: "Bob", PrimaryID: "3", ChatID: 200},
		{Name: "Carol", PrimaryID: "5"},
	})
	if err != nil {
		t.Fatalf("roster.New: %v", err)
	}
	return r
}

func TestCompose(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		entries []GuildEntry
		want    string
	}{
		{
			name: "empty",
			want: "",
		},
		{
			name: "single guild, single person",
			entries: []GuildEntry{
				{GuildName: "Pirates", Present: map[string]int{"Alice": 1}},
			},
			want: "Currently in voice:\nPirates: Alice",
		},
		{
			name: "account counts and name ordering",
			entries: []GuildEntry{
				{GuildName: "Pirates", Present: map[string]int{"Bob": 1, "Alice": 2}},
				{GuildName: "Raiders", Present: map[string]int{"Carol": 1}},
			},
			want: "Currently in voice:\nPirates: Alice (2 accounts), Bob\nRaiders: Carol",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Compose(tt.entries); got != tt.want {
				t.Fatalf("Compose = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCollect(t *testing.T) {
	t.Parallel()
	r := testRoster(t)
	src := &fakeSource{
		guilds: []string{"g2", "g1", "g3", "g4"},
		names:  map[string]string{"g1": "Alpha", "g2": "Beta", "g3": "Gamma"},
		snaps: map[string]correlator.Snapshot{
			// Alice on two accounts, one of them deafened; untracked extra.
			"g1": {
				"1":  {ChannelID: "a"},
				"2":  {ChannelID: "a", SelfDeaf: true},
				"99": {ChannelID: "a"},
			},
			// Bob only.
			"g2": {"3": {ChannelID: "x"}},
			// Nobody tracked is active.
			"g3": {"5": {ChannelID: "y", SelfDeaf: true}},
		},
		snapErrs: map[string]error{"g4": errors.New("not cached")},
	}
	s := New(Config{}, src, nil, func() *roster.Roster { return r }, logx.Nop())

	entries := s.collect(r)
	if len(entries) != 2 {
		t.Fatalf("entries = %+v, want 2", entries)
	}
	// Sorted by guild name.
	if entries[0].GuildName != "Alpha" || entries[1].GuildName != "Beta" {
		t.Fatalf("order = %s, %s", entries[0].GuildName, entries[1].GuildName)
	}
	// Deafened alt does not count toward Alice.
	if entries[0].Present["Alice"] != 1 {
		t.Fatalf("Alice count = %d, want 1", entries[0].Present["Alice"])
	}
	if entries[1].Present["Bob"] != 1 {
		t.Fatalf("Bob count = %d, want 1", entries[1].Present["Bob"])
	}
}

func TestCollectFallsBackToGuildID(t *testing.T) {
	t.Parallel()
	r := testRoster(t)
	src := &fakeSource{
		guilds:  []string{"g1"},
		nameErr: map[string]error{"g1": errors.New("unknown")},
		snaps:   map[string]correlator.Snapshot{"g1": {"1": {ChannelID: "a"}}},
	}
	s := New(Config{}, src, nil, func() *roster.Roster { return r }, logx.Nop())

	entries := s.collect(r)
	if len(entries) != 1 || entries[0].GuildName != "g1" {
		t.Fatalf("entries = %+v, want fallback to raw id", entries)
	}
}

func TestTickSendsToNotifiablePeopleOnly(t *testing.T) {
	t.Parallel()
	r := testRoster(t)
	src := &fakeSource{
		guilds: []string{"g1"},
		names:  map[string]string{"g1": "Pirates"},
		snaps:  map[string]correlator.Snapshot{"g1": {"1": {ChannelID: "a"}}},
	}
	disp := &captureDispatcher{}
	s := New(Config{Enabled: true, Schedule: "* * * * *"}, src, disp, func() *roster.Roster { return r }, logx.Nop())

	s.tick(context.Background())

	if len(disp.got) != 2 {
		t.Fatalf("notifications = %+v, want Alice and Bob", disp.got)
	}
	for _, n := range disp.got {
		if n.Recipient == "Carol" {
			t.Fatal("Carol has no chat and must not be notified")
		}
		if n.Text != "Currently in voice:\nPirates: Alice" {
			t.Fatalf("text = %q", n.Text)
		}
	}
}

func TestTickSendsNothingWhenVoiceIsEmpty(t *testing.T) {
	t.Parallel()
	r := testRoster(t)
	src := &fakeSource{guilds: []string{"g1"}, snaps: map[string]correlator.Snapshot{"g1": {}}}
	disp := &captureDispatcher{}
	s := New(Config{Enabled: true, Schedule: "* * * * *"}, src, disp, func() *roster.Roster { return r }, logx.Nop())

	s.tick(context.Background())

	if len(disp.got) != 0 {
		t.Fatalf("notifications = %+v, want none", disp.got)
	}
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"0 9 * * *", false},
		{"*/5 * * * *", false},
		{"@hourly", false},
		{"@every 30m", false},
		{"", true},
		{"not a schedule", true},
		{"61 * * * *", true},
	}
	for _, tt := range tests {
		err := ValidateSchedule(tt.spec)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ValidateSchedule(%q) = %v, wantErr %v", tt.spec, err, tt.wantErr)
		}
	}
}
