package telegram

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxMessageLen is Telegram's per-message text limit.
const maxMessageLen = 4096

// Message is an inbound text message.
type Message struct {
	ChatID    int64
	UserID    int64
	Username  string
	FirstName string
	Text      string
}

type Bot struct {
	s   sender
	src updateSource
}

func New(botToken string) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	log.Printf("[TELEGRAM] authorized as @%s", api.Self.UserName)
	return &Bot{s: botAPISender{api: api}, src: api}, nil
}

// Send delivers text to chatID, split into several messages when too long.
func (b *Bot) Send(chatID int64, text string) error {
	for _, part := range splitMessage(text, maxMessageLen) {
		if _, err := b.s.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return fmt.Errorf("send to %d: %w", chatID, err)
		}
	}
	return nil
}

// SendTo is Send with the chat id in its string form.
func (b *Bot) SendTo(chatID, text string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	return b.Send(id, text)
}

// Start polls for updates and calls handle for each text message until ctx
// is done. handle runs on the polling goroutine and must not block.
func (b *Bot) Start(ctx context.Context, handle func(Message)) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.src.GetUpdatesChan(u)
	defer b.src.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if msg, ok := toMessage(update); ok {
				log.Printf("[MSG] chat_id=%d user_id=%d username=@%s text_len=%d",
					msg.ChatID, msg.UserID, msg.Username, len(msg.Text))
				handle(msg)
			}
		}
	}
}

func toMessage(update tgbotapi.Update) (Message, bool) {
	m := update.Message
	if m == nil || m.Text == "" || m.Chat == nil {
		return Message{}, false
	}
	out := Message{ChatID: m.Chat.ID, Text: m.Text, Username: "no_username"}
	if m.From != nil {
		out.UserID = m.From.ID
		out.FirstName = m.From.FirstName
		if m.From.UserName != "" {
			out.Username = m.From.UserName
		}
	}
	return out, true
}

func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var parts []string
	var cur strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			if cur.Len() > 0 {
				parts = append(parts, cur.String())
				cur.Reset()
			}
			cut := limit
			for cut > 0 && !utf8Boundary(line, cut) {
				cut--
			}
			parts = append(parts, line[:cut])
			line = line[cut:]
		}
		if cur.Len()+len(line) > limit {
			parts = append(parts, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func utf8Boundary(s string, i int) bool {
	return i >= len(s) || s[i]&0xC0 != 0x80
}
