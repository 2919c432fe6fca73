// Package fintstest provides a programmable in-memory bank for tests.
package fintstest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fints-bot/internal/fints"
)

// Operation names used for Challenges and Errors.
const (
	OpAccounts     = "accounts"
	OpBalance      = "balance"
	OpTransactions = "transactions"
	OpInit         = "init"
)

// Bank implements fints.Client. Zero value is usable; fill in the exported
// fields before handing it out.
type Bank struct {
	Mechanisms []fints.Mechanism
	// Advertised is what FetchTANMechanisms loads when Mechanisms is empty.
	Advertised   []fints.Mechanism
	Media        []fints.Medium
	Init         *fints.NeedChallenge
	AccountList  []fints.Account
	BalanceValue *fints.Balance
	TxList       []fints.Transaction
	// Challenges are returned, in order, before the op's final result.
	Challenges map[string][]*fints.NeedChallenge
	Errors     map[string]error
	State      []byte
	DialErr    error

	mu            sync.Mutex
	calls         []string
	mechanism     string
	medium        string
	tans          []string
	dials         int
	restoredState []byte
	lastParams    fints.Params
	lastRange     [2]time.Time
	opened        bool
	closed        bool
}

// Dialer returns a dialer that always hands out this bank.
func (b *Bank) Dialer() fints.Dialer {
	return func(_ context.Context, p fints.Params, state []byte) (fints.Client, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.dials++
		b.lastParams = p
		b.restoredState = state
		if b.DialErr != nil {
			return nil, b.DialErr
		}
		b.opened, b.closed = false, false
		return b, nil
	}
}

func (b *Bank) record(call string) {
	b.calls = append(b.calls, call)
}

func (b *Bank) TANMechanisms() []fints.Mechanism {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("tan_mechanisms")
	return append([]fints.Mechanism(nil), b.Mechanisms...)
}

func (b *Bank) FetchTANMechanisms(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("fetch_tan_mechanisms")
	if err := b.Errors["fetch_tan_mechanisms"]; err != nil {
		return err
	}
	b.Mechanisms = append([]fints.Mechanism(nil), b.Advertised...)
	return nil
}

func (b *Bank) SetTANMechanism(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("set_tan_mechanism:" + id)
	for _, m := range b.Mechanisms {
		if m.ID == id {
			b.mechanism = id
			return nil
		}
	}
	return fmt.Errorf("unknown tan mechanism %q", id)
}

func (b *Bank) TANMedia(context.Context) ([]fints.Medium, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("tan_media")
	return append([]fints.Medium(nil), b.Media...), nil
}

func (b *Bank) SetTANMedium(m fints.Medium) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("set_tan_medium:" + m.Name)
	b.medium = m.Name
	return nil
}

func (b *Bank) Open(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("open")
	if err := b.Errors["open"]; err != nil {
		return err
	}
	b.opened = true
	return nil
}

func (b *Bank) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("close")
	b.closed = true
	return nil
}

func (b *Bank) InitChallenge() *fints.NeedChallenge {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Init != nil && b.Init.Ref == "" {
		b.Init.Ref = OpInit
	}
	return b.Init
}

func (b *Bank) Accounts(context.Context) (fints.Response, error) {
	return b.call(OpAccounts)
}

func (b *Bank) Balance(_ context.Context, _ fints.Account) (fints.Response, error) {
	return b.call(OpBalance)
}

func (b *Bank) Transactions(_ context.Context, _ fints.Account, start, end time.Time) (fints.Response, error) {
	b.mu.Lock()
	b.lastRange = [2]time.Time{start, end}
	b.mu.Unlock()
	return b.call(OpTransactions)
}

func (b *Bank) SendTAN(_ context.Context, ch *fints.NeedChallenge, tan string) (fints.Response, error) {
	b.mu.Lock()
	b.record("send_tan:" + ch.Ref)
	b.tans = append(b.tans, tan)
	b.mu.Unlock()
	if ch.Ref == OpInit {
		return fints.Ack{}, nil
	}
	return b.next(ch.Ref)
}

func (b *Bank) Deconstruct(context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("deconstruct")
	return append([]byte(nil), b.State...), nil
}

func (b *Bank) call(op string) (fints.Response, error) {
	b.mu.Lock()
	b.record(op)
	b.mu.Unlock()
	return b.next(op)
}

func (b *Bank) next(op string) (fints.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.Errors[op]; err != nil {
		return nil, err
	}
	if q := b.Challenges[op]; len(q) > 0 {
		ch := q[0]
		b.Challenges[op] = q[1:]
		if ch.Ref == "" {
			ch.Ref = op
		}
		return ch, nil
	}
	switch op {
	case OpAccounts:
		return fints.AccountsResult{Accounts: append([]fints.Account(nil), b.AccountList...)}, nil
	case OpBalance:
		return fints.BalanceResult{Balance: b.BalanceValue}, nil
	case OpTransactions:
		return fints.TransactionsResult{Transactions: append([]fints.Transaction(nil), b.TxList...)}, nil
	}
	return nil, fmt.Errorf("unknown op %q", op)
}

// Calls returns the recorded call log.
func (b *Bank) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// Selected returns the mechanism id and medium name currently applied.
func (b *Bank) Selected() (mechanism, medium string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mechanism, b.medium
}

// TANs returns every response submitted through SendTAN.
func (b *Bank) TANs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.tans...)
}

func (b *Bank) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *Bank) RestoredState() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.restoredState
}

func (b *Bank) LastParams() fints.Params {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastParams
}

// LastRange is the start/end of the most recent Transactions call.
func (b *Bank) LastRange() (time.Time, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRange[0], b.lastRange[1]
}

func (b *Bank) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
