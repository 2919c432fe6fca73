package config

import (
	"errors"
	"fmt"
	"strings"

	"fints-bot/internal/prefs"
)

// Error collects every configuration problem found in one pass.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "configuration errors: " + strings.Join(e.Problems, "; ")
}

// IsConfigError reports whether err is, or wraps, an *Error.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

type checker []string

func (c *checker) need(value, key string) {
	if strings.TrimSpace(value) == "" {
		*c = append(*c, key+" not set in .env")
	}
}

func (c checker) err() error {
	if len(c) == 0 {
		return nil
	}
	return &Error{Problems: c}
}

func (c *Config) checkFinTS(ch *checker) {
	ch.need(c.FinTS.Username, "FINTS_USERNAME")
	ch.need(c.FinTS.Password, "FINTS_PASSWORD")
	ch.need(c.FinTS.ProductID, "PRODUCT_ID")
	ch.need(c.Runtime.BridgeCmd, "FINTS_BRIDGE_CMD")
}

// ValidateInteractive covers console and chat modes.
func (c *Config) ValidateInteractive(mode Mode) error {
	var ch checker
	c.checkFinTS(&ch)
	switch mode {
	case ModeTelegram:
		ch.need(c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	case ModeXMPP:
		ch.need(c.XMPP.JID, "XMPP_JID")
		ch.need(c.XMPP.Password, "XMPP_PASSWORD")
	}
	return ch.err()
}

// ValidateUnattended covers --update-api and --update-bot. A cached TAN
// preference is required since nobody is there to pick one; it is read from
// tanPrefs, the store the session replays from.
func (c *Config) ValidateUnattended(mode Mode, withAPI bool, tanPrefs prefs.Store) error {
	var ch checker
	c.checkFinTS(&ch)
	switch p, err := tanPrefs.Load(); {
	case err != nil:
		ch = append(ch, fmt.Sprintf("cannot read TAN preferences: %v", err))
	case !p.Complete():
		ch = append(ch, "TAN mechanism not configured. Run 'fints-bot --tan' first to select TAN method.")
	}
	c.checkNotify(&ch, mode)
	if withAPI {
		ch.need(c.API.URL, "API_URL")
		ch.need(c.API.User, "API_USER")
		ch.need(c.API.Password, "API_PASSWORD")
		if c.API.TransactionStartDate.IsZero() {
			ch = append(ch, "TRANSACTION_START_DATE not set in .env")
		}
	} else if c.BotUpdate.TransactionDays <= 0 {
		ch = append(ch, "TRANSACTION_DAYS must be positive")
	}
	return ch.err()
}

// ValidateTestBot covers --test-bot.
func (c *Config) ValidateTestBot(mode Mode) error {
	var ch checker
	c.checkNotify(&ch, mode)
	return ch.err()
}

func (c *Config) checkNotify(ch *checker, mode Mode) {
	if mode == ModeXMPP {
		ch.need(c.XMPP.JID, "XMPP_JID")
		ch.need(c.XMPP.Password, "XMPP_PASSWORD")
		ch.need(c.XMPP.DefaultReceiver, "XMPP_DEFAULT_RECEIVER")
		return
	}
	ch.need(c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	if c.Telegram.TargetUserID == 0 {
		*ch = append(*ch, "TELEGRAM_TARGET_USER_ID not set in .env")
	}
}

// UnattendedMode is the chat backend used for notifications; console means
// Telegram there.
func (c *Config) UnattendedMode() Mode {
	if m := c.Mode(); m == ModeXMPP {
		return m
	}
	return ModeTelegram
}
