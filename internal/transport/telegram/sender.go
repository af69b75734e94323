// Package telegram sends notification texts to Telegram chats. Unlike a
// full bot transport it is outbound-only: no poller is started and no
// incoming updates are consumed.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"voicebridge/pkg/logx"
)

type Config struct {
	Token string
}

type Sender struct {
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{bot: b, log: log}, nil
}

// Me returns the bot's own username, for startup logging.
func (s *Sender) Me() string {
	if s.bot.Me == nil {
		return ""
	}
	return s.bot.Me.Username
}

const telegramTextLimit = 4000

// SendText delivers text to the chat, splitting messages that exceed
// Telegram's length limit. The context is checked between chunks; a failed
// chunk aborts the remainder.
func (s *Sender) SendText(ctx context.Context, chatID int64, text string) error {
	chunks := splitText(text, telegramTextLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	chat := &tele.Chat{ID: chatID}
	for _, chunk := range chunks {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		if _, err := s.bot.Send(chat, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) Stop(ctx context.Context) error {
	// Nothing persistent to tear down; telebot keeps no connection open for
	// outbound-only use. Give in-flight HTTP calls a moment to settle.
	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Millisecond):
	}
	return nil
}

// splitText splits long messages into chunks safe to send to Telegram,
// preferring newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
