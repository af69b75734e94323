package notify

import (
	"context"
	"time"
)

// Notification is the sole output of the correlator pipeline: a destination
// chat and the text to deliver.
type Notification struct {
	ChatID int64
	Text   string

	// Recipient is a display label for logs ("Alice"), never used for
	// addressing.
	Recipient string
}

// Sender delivers a message to a Telegram chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec int

	// DedupWindow suppresses byte-identical notifications to the same chat
	// within the window. Zero disables dedup.
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Outcome event types published on the bus. Delivery is fire-and-forget by
// contract (no retry, no dead-letter); these events are how outcomes stay
// observable and testable.
const (
	EventQueued  = "notify.queued"
	EventSent    = "notify.sent"
	EventFailed  = "notify.failed"
	EventDeduped = "notify.deduped"
	EventDropped = "notify.dropped"
)

// OutcomeEvent is one delivery outcome published on the bus.
type OutcomeEvent struct {
	Type      string // one of the Event* constants
	ChatID    int64
	Recipient string
	Key       string
	At        time.Time
	Error     string
}
