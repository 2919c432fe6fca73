// Package txdb remembers which transactions were already forwarded and the
// last balance seen per bank user. Backed by a single SQLite file.
package txdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sent_transactions (
	id INTEGER PRIMARY KEY,
	fints_username TEXT NOT NULL,
	transaction_date DATE NOT NULL,
	amount TEXT NOT NULL,
	name TEXT NOT NULL,
	purpose_hash TEXT NOT NULL,
	sent_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(fints_username, transaction_date, amount, purpose_hash)
);
CREATE TABLE IF NOT EXISTS last_balance (
	fints_username TEXT PRIMARY KEY,
	balance_value TEXT NOT NULL,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`

// Key identifies a transaction for at-most-once forwarding.
type Key struct {
	User    string
	Date    time.Time
	Amount  decimal.Decimal
	Name    string
	Purpose string
}

// DB opens the file per call; no connection outlives a method.
type DB struct {
	path string
}

// Open creates the schema if needed.
func Open(ctx context.Context, path string) (*DB, error) {
	d := &DB{path: path}
	err := d.with(ctx, func(conn *sql.DB) error {
		_, err := conn.ExecContext(ctx, schema)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("init transaction db: %w", err)
	}
	return d, nil
}

func (d *DB) with(ctx context.Context, fn func(*sql.DB) error) error {
	conn, err := sql.Open("sqlite", d.path)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetMaxOpenConns(1)
	if err := conn.PingContext(ctx); err != nil {
		return err
	}
	return fn(conn)
}

func purposeHash(purpose string) string {
	sum := sha256.Sum256([]byte(purpose))
	return hex.EncodeToString(sum[:])[:16]
}

func (k Key) args() []any {
	return []any{k.User, k.Date.Format("2006-01-02"), k.Amount.StringFixed(2), purposeHash(k.Purpose)}
}

func (d *DB) IsTransactionSent(ctx context.Context, k Key) (bool, error) {
	var found bool
	err := d.with(ctx, func(conn *sql.DB) error {
		var one int
		err := conn.QueryRowContext(ctx, `
			SELECT 1 FROM sent_transactions
			WHERE fints_username = ? AND transaction_date = ? AND amount = ? AND purpose_hash = ?
			LIMIT 1`, k.args()...).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("lookup transaction: %w", err)
	}
	return found, nil
}

// MarkTransactionSent is idempotent.
func (d *DB) MarkTransactionSent(ctx context.Context, k Key) error {
	err := d.with(ctx, func(conn *sql.DB) error {
		_, err := conn.ExecContext(ctx, `
			INSERT OR IGNORE INTO sent_transactions
				(fints_username, transaction_date, amount, name, purpose_hash)
			VALUES (?, ?, ?, ?, ?)`,
			k.User, k.Date.Format("2006-01-02"), k.Amount.StringFixed(2), k.Name, purposeHash(k.Purpose))
		return err
	})
	if err != nil {
		return fmt.Errorf("mark transaction: %w", err)
	}
	return nil
}

// LastBalance reports ok=false when nothing was stored for user.
func (d *DB) LastBalance(ctx context.Context, user string) (balance decimal.Decimal, ok bool, err error) {
	err = d.with(ctx, func(conn *sql.DB) error {
		var raw string
		err := conn.QueryRowContext(ctx,
			`SELECT balance_value FROM last_balance WHERE fints_username = ?`, user).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		balance, err = decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("parse stored balance %q: %w", raw, err)
		}
		ok = true
		return nil
	})
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("load last balance: %w", err)
	}
	return balance, ok, nil
}

func (d *DB) UpdateLastBalance(ctx context.Context, user string, balance decimal.Decimal) error {
	err := d.with(ctx, func(conn *sql.DB) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO last_balance (fints_username, balance_value, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(fints_username)
			DO UPDATE SET balance_value = excluded.balance_value, updated_at = excluded.updated_at`,
			user, balance.StringFixed(2))
		return err
	})
	if err != nil {
		return fmt.Errorf("update last balance: %w", err)
	}
	return nil
}

// SentCount counts forwarded transactions; an empty user counts all of them.
func (d *DB) SentCount(ctx context.Context, user string) (int, error) {
	var n int
	err := d.with(ctx, func(conn *sql.DB) error {
		if user == "" {
			return conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sent_transactions`).Scan(&n)
		}
		return conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sent_transactions WHERE fints_username = ?`, user).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count sent transactions: %w", err)
	}
	return n, nil
}
