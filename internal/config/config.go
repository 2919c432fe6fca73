package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeConsole  Mode = "console"
	ModeTelegram Mode = "telegram"
	ModeXMPP     Mode = "xmpp"
)

// ParseMode lowercases s; anything unknown is console.
func ParseMode(s string) Mode {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeTelegram, ModeXMPP:
		return m
	}
	return ModeConsole
}

// Seconds accepts "300" as well as "5m".
type Seconds time.Duration

func (s *Seconds) UnmarshalText(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if n, err := strconv.Atoi(raw); err == nil {
		*s = Seconds(time.Duration(n) * time.Second)
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("expected seconds or a duration, got %q", raw)
	}
	*s = Seconds(d)
	return nil
}

func (s Seconds) Duration() time.Duration { return time.Duration(s) }

// Date is a YYYY-MM-DD value.
type Date struct{ time.Time }

func (d *Date) UnmarshalText(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "" {
		return nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return fmt.Errorf("must be in YYYY-MM-DD format, got: %s", raw)
	}
	d.Time = t
	return nil
}

type FinTS struct {
	Username  string `env:"FINTS_USERNAME"`
	Password  string `env:"FINTS_PASSWORD"`
	BLZ       string `env:"BLZ" envDefault:"36010043"`
	HBCIURL   string `env:"HBCI_URL" envDefault:"https://hbci.postbank.de/banking/hbci.do"`
	ProductID string `env:"PRODUCT_ID"`
	IBAN      string `env:"IBAN"`
}

type Telegram struct {
	BotToken       string   `env:"TELEGRAM_BOT_TOKEN"`
	AllowedChatIDs []string `env:"TELEGRAM_ALLOWED_CHAT_IDS" envSeparator:","`
	TargetUserID   int64    `env:"TELEGRAM_TARGET_USER_ID"`
}

type XMPP struct {
	JID             string   `env:"XMPP_JID"`
	Password        string   `env:"XMPP_PASSWORD"`
	DefaultReceiver string   `env:"XMPP_DEFAULT_RECEIVER"`
	AllowedJIDs     []string `env:"XMPP_ALLOWED_JIDS" envSeparator:","`
	Resource        string   `env:"XMPP_RESOURCE" envDefault:"fints-bot"`
	Host            string   `env:"XMPP_HOST"`
	ConnectTimeout  Seconds  `env:"XMPP_CONNECT_TIMEOUT" envDefault:"30"`
}

type API struct {
	URL                  string `env:"API_URL"`
	User                 string `env:"API_USER"`
	Password             string `env:"API_PASSWORD"`
	TransactionStartDate Date   `env:"TRANSACTION_START_DATE"`
}

type BotUpdate struct {
	TransactionDays int `env:"TRANSACTION_DAYS" envDefault:"30"`
}

type Runtime struct {
	BotMode      string  `env:"BOT_MODE" envDefault:"console"`
	BridgeCmd    string  `env:"FINTS_BRIDGE_CMD"`
	TxDBPath     string  `env:"TRANSACTION_DB_PATH" envDefault:".fints_transactions.db"`
	InputTimeout Seconds `env:"INPUT_TIMEOUT" envDefault:"300"`
	SyncSchedule string  `env:"SYNC_SCHEDULE"`
}

// Config is everything one account run needs.
type Config struct {
	FinTS     FinTS
	Telegram  Telegram
	XMPP      XMPP
	API       API
	BotUpdate BotUpdate
	Runtime   Runtime
}

func (c *Config) Mode() Mode { return ParseMode(c.Runtime.BotMode) }

// Load parses the process environment overlaid with the account's file.
// Values from the file win.
func Load(acc Account) (*Config, error) {
	vars := environ()
	if acc.Path != "" {
		fileVars, err := godotenv.Read(acc.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", acc.Path, err)
		}
		for k, v := range fileVars {
			vars[k] = v
		}
	}
	cfg := &Config{}
	if err := env.Parse(cfg, env.Options{Environment: vars}); err != nil {
		return nil, &Error{Problems: []string{err.Error()}}
	}
	return cfg, nil
}

func environ() map[string]string {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return vars
}
