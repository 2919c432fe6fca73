// Package autosync runs the unattended sync: connect, read balance and
// transactions, optionally forward them to the forecast API, and notify the
// user once when the balance moved.
package autosync

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"fints-bot/internal/fints"
	"fints-bot/internal/ioadapter"
	"fints-bot/internal/session"
	"fints-bot/internal/txdb"
)

// TestMessage is what --test-bot delivers.
const TestMessage = "Test message from fints-bot - bot connection OK!"

type Mode int

const (
	// ModeAPI posts balance and new transactions to the forecast API.
	ModeAPI Mode = iota
	// ModeBot only reports over chat.
	ModeBot
)

func (m Mode) tag() string {
	if m == ModeAPI {
		return "[API-MODE]"
	}
	return "[BOT-MODE]"
}

// Poster is the part of the forecast client the API sync needs.
type Poster interface {
	Ping(ctx context.Context) error
	PostBalance(ctx context.Context, date time.Time, value decimal.Decimal) (duplicate bool, err error)
	PostTransaction(ctx context.Context, name string, value decimal.Decimal, dateActual time.Time) (duplicate bool, err error)
}

type Driver struct {
	Mode Mode
	// Session.IO must be the unattended chat adapter for the target user.
	Session session.Deps
	// User keys the dedup and balance tables (FINTS_USERNAME).
	User string
	DB   *txdb.DB

	// API mode.
	API       Poster
	StartDate time.Time

	// Bot mode.
	Days int
}

// Run performs one sync. The summary is sent only when the balance differs
// from the one stored by the previous run.
func (d *Driver) Run(ctx context.Context) error {
	tag := d.Mode.tag()
	if d.Mode == ModeAPI {
		if d.API == nil {
			return fmt.Errorf("forecast API client not configured")
		}
		if err := d.API.Ping(ctx); err != nil {
			log.Printf("%s API check failed: %v", tag, err)
			return fmt.Errorf("forecast API unreachable: %w", err)
		}
		log.Printf("%s API connection OK", tag)
	}

	chat := d.Session.IO
	deps := d.Session
	deps.IO = &quiet{out: chat, tag: tag}
	deps.ForceTAN = false

	log.Printf("%s starting banking session", tag)
	link, err := session.Connect(ctx, deps)
	if err != nil {
		log.Printf("%s connect: %v", tag, err)
		return err
	}
	res, err := d.collect(ctx, link)
	if err != nil {
		log.Printf("%s %v", tag, err)
		link.Abort(ctx)
		return err
	}
	if err := link.Close(ctx); err != nil {
		log.Printf("%s close session: %v", tag, err)
	}

	return d.notify(ctx, chat, res)
}

type result struct {
	balance *decimal.Decimal
	listed  []line
	count   int
}

type line struct {
	date   time.Time
	amount decimal.Decimal
	name   string
}

func (d *Driver) collect(ctx context.Context, link *session.Link) (result, error) {
	tag := d.Mode.tag()
	var res result
	today := midnight(d.now())

	bal, err := link.Balance(ctx)
	if err != nil {
		return res, fmt.Errorf("fetch balance: %w", err)
	}
	if bal == nil {
		log.Printf("%s could not fetch balance", tag)
	} else {
		v := bal.Amount
		res.balance = &v
		log.Printf("%s balance fetched", tag)
		if d.Mode == ModeAPI {
			dup, err := d.API.PostBalance(ctx, today, v)
			if err != nil {
				return res, fmt.Errorf("post balance: %w", err)
			}
			if dup {
				log.Printf("%s balance already recorded (duplicate)", tag)
			} else {
				log.Printf("%s balance posted", tag)
			}
		}
	}

	start := d.windowStart(today)
	log.Printf("%s fetching transactions %s..%s", tag, start.Format("2006-01-02"), today.Format("2006-01-02"))
	txs, err := link.Transactions(ctx, start, today)
	if err != nil {
		return res, fmt.Errorf("fetch transactions: %w", err)
	}

	if d.Mode == ModeBot {
		for _, tx := range txs {
			res.listed = append(res.listed, line{tx.Date, tx.Amount, displayName(tx)})
		}
		res.count = len(res.listed)
		return res, nil
	}

	var sent, skipped, failed int
	for _, tx := range txs {
		key := txdb.Key{User: d.User, Date: tx.Date, Amount: tx.Amount, Name: tx.ApplicantName, Purpose: tx.Purpose}
		done, err := d.DB.IsTransactionSent(ctx, key)
		if err != nil {
			return res, err
		}
		if done {
			skipped++
			continue
		}
		name := displayName(tx)
		dup, err := d.API.PostTransaction(ctx, name, tx.Amount, tx.Date)
		if err != nil {
			failed++
			log.Printf("%s post transaction: %v", tag, err)
			continue
		}
		if err := d.DB.MarkTransactionSent(ctx, key); err != nil {
			return res, err
		}
		if dup {
			skipped++
			continue
		}
		sent++
		res.listed = append(res.listed, line{tx.Date, tx.Amount, name})
	}
	res.count = sent
	total, err := d.DB.SentCount(ctx, d.User)
	if err != nil {
		log.Printf("%s count sent transactions: %v", tag, err)
	}
	log.Printf("%s transactions: %d sent, %d skipped, %d errors (%d forwarded overall)", tag, sent, skipped, failed, total)
	return res, nil
}

func (d *Driver) notify(ctx context.Context, chat ioadapter.Adapter, res result) error {
	tag := d.Mode.tag()
	changed := false
	if res.balance != nil {
		prev, ok, err := d.DB.LastBalance(ctx, d.User)
		if err != nil {
			return err
		}
		changed = !ok || !prev.Equal(*res.balance)
		if err := d.DB.UpdateLastBalance(ctx, d.User, *res.balance); err != nil {
			return err
		}
	}

	msg := d.summary(res)
	if !changed {
		log.Printf("%s balance unchanged, skipping notification", tag)
		return nil
	}
	log.Printf("%s balance changed, notifying user", tag)
	chat.Output(msg)
	return nil
}

func (d *Driver) summary(res result) string {
	var parts []string
	if res.balance != nil {
		parts = append(parts, fmt.Sprintf("Balance: %s€", res.balance.StringFixed(2)))
	}
	if d.Mode == ModeAPI {
		parts = append(parts, fmt.Sprintf("New transactions: %d", res.count))
	} else {
		parts = append(parts, fmt.Sprintf("Transactions (%dd): %d", d.Days, res.count))
	}
	var b strings.Builder
	b.WriteString(strings.Join(parts, " | "))
	for _, l := range res.listed {
		sign := ""
		if !l.amount.IsNegative() {
			sign = "+"
		}
		fmt.Fprintf(&b, "\n  %s: %s%s€ - %s", l.date.Format("2006-01-02"), sign, l.amount.StringFixed(2), l.name)
	}
	return b.String()
}

func (d *Driver) windowStart(today time.Time) time.Time {
	if d.Mode == ModeAPI {
		return midnight(d.StartDate)
	}
	return today.AddDate(0, 0, -d.Days)
}

func (d *Driver) now() time.Time {
	if d.Session.Now != nil {
		return d.Session.Now()
	}
	return time.Now()
}

func midnight(t time.Time) time.Time {
	y, m, day := t.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, t.Location())
}

// displayName is the counterparty, else the start of the purpose.
func displayName(tx fints.Transaction) string {
	if tx.ApplicantName != "" {
		return tx.ApplicantName
	}
	if tx.Purpose == "" {
		return "Unknown"
	}
	p := tx.Purpose
	for i, n := 0, 0; i < len(p); n++ {
		if n == 50 {
			return p[:i]
		}
		_, size := utf8.DecodeRuneInString(p[i:])
		i += size
	}
	return p
}

// SendTest delivers TestMessage through send.
func SendTest(send func(string) error) error {
	if err := send(TestMessage); err != nil {
		log.Printf("[TEST-BOT] send failed: %v", err)
		return fmt.Errorf("send test message: %w", err)
	}
	log.Printf("[TEST-BOT] test message sent")
	return nil
}
