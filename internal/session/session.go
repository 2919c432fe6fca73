// Package session drives one authenticated banking session: connect, pick the
// account, run the menu, and persist state for the next run.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"fints-bot/internal/fints"
	"fints-bot/internal/ioadapter"
	"fints-bot/internal/prefs"
	"fints-bot/internal/storage"
	"fints-bot/internal/tan"
)

var ErrNoAccounts = errors.New("no accounts found")

// Deps is everything a session needs. Nothing here is global.
type Deps struct {
	IO      ioadapter.Adapter
	Dial    fints.Dialer
	Params  fints.Params
	Account string // configuration name, keys the state file
	IBAN    string
	Prefs   prefs.Store
	States  storage.StateStore
	// ForceTAN skips preference replay for this connect.
	ForceTAN bool
	Now      func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Link is an open, authenticated session bound to one account.
type Link struct {
	client  fints.Client
	account fints.Account
	io      ioadapter.Adapter
	states  storage.StateStore
	name    string
}

// Connect restores saved state, authenticates, answers the init challenge
// and selects the account matching the configured IBAN.
func Connect(ctx context.Context, d Deps) (*Link, error) {
	state, err := d.States.Load(d.Account)
	if err != nil {
		log.Printf("[SESSION] ignoring unreadable state for %s: %v", accountLabel(d.Account), err)
		state = nil
	}
	if len(state) > 0 {
		d.IO.Output("Loading saved session state...")
	}
	client, err := d.Dial(ctx, d.Params, state)
	if err != nil {
		return nil, fmt.Errorf("create banking client: %w", err)
	}
	// The client is released on every failure, opened or not; a bridged
	// client owns a helper process.
	fail := func(err error) (*Link, error) {
		if cerr := client.Close(ctx); cerr != nil {
			log.Printf("[SESSION] close after failure: %v", cerr)
		}
		return nil, err
	}

	if err := tan.Bootstrap(ctx, client, d.IO, d.Prefs, d.ForceTAN); err != nil {
		return fail(err)
	}
	if err := client.Open(ctx); err != nil {
		return fail(fmt.Errorf("open dialog: %w", err))
	}
	if err := tan.ResolveInit(ctx, client, d.IO); err != nil {
		return fail(err)
	}

	res, err := tan.Resolve[fints.AccountsResult](ctx, client, d.IO, func() (fints.Response, error) {
		return client.Accounts(ctx)
	})
	if err != nil {
		return fail(fmt.Errorf("fetch accounts: %w", err))
	}
	log.Printf("[FINTS] found %d account(s)", len(res.Accounts))
	if len(res.Accounts) == 0 {
		d.IO.Output("No accounts found!")
		return fail(ErrNoAccounts)
	}

	acc, ok := findByIBAN(res.Accounts, d.IBAN)
	if !ok {
		log.Printf("[SESSION] IBAN %s not among %d account(s), using first", d.IBAN, len(res.Accounts))
		d.IO.Output(fmt.Sprintf("Account with IBAN %s not found!", d.IBAN))
		d.IO.Output("Using first available account...")
		acc = res.Accounts[0]
	}
	d.IO.Output("Using account: " + acc.IBAN)

	return &Link{client: client, account: acc, io: d.IO, states: d.States, name: d.Account}, nil
}

func findByIBAN(accs []fints.Account, iban string) (fints.Account, bool) {
	for _, a := range accs {
		if a.IBAN == iban {
			return a, true
		}
	}
	return fints.Account{}, false
}

func (l *Link) Account() fints.Account { return l.account }

// Balance may be nil when the bank has no balance for the account.
func (l *Link) Balance(ctx context.Context) (*fints.Balance, error) {
	res, err := tan.Resolve[fints.BalanceResult](ctx, l.client, l.io, func() (fints.Response, error) {
		return l.client.Balance(ctx, l.account)
	})
	if err != nil {
		return nil, err
	}
	return res.Balance, nil
}

func (l *Link) Transactions(ctx context.Context, start, end time.Time) ([]fints.Transaction, error) {
	log.Printf("[FINTS] fetching transactions %s..%s", start.Format("2006-01-02"), end.Format("2006-01-02"))
	res, err := tan.Resolve[fints.TransactionsResult](ctx, l.client, l.io, func() (fints.Response, error) {
		return l.client.Transactions(ctx, l.account, start, end)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[FINTS] got %d transaction(s)", len(res.Transactions))
	return res.Transactions, nil
}

// Close persists the serialized session and ends the dialog. A failed save is
// logged; only the dialog close error is returned.
func (l *Link) Close(ctx context.Context) error {
	data, err := l.client.Deconstruct(ctx)
	if err != nil {
		log.Printf("[SESSION] serialize state: %v", err)
	} else if err := l.states.Save(l.name, data); err != nil {
		log.Printf("[SESSION] save state for %s: %v", accountLabel(l.name), err)
	}
	return l.client.Close(ctx)
}

// Abort ends the dialog without saving state.
func (l *Link) Abort(ctx context.Context) {
	if err := l.client.Close(ctx); err != nil {
		log.Printf("[SESSION] close: %v", err)
	}
}

func accountLabel(name string) string {
	if name == "" {
		return "default"
	}
	return name
}
