// Package fints describes the banking collaborator the rest of the bot talks to.
// The protocol itself (message encoding, crypto, transport) lives behind Client;
// see the bridge subpackage for the concrete implementation.
package fints

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Params identify one bank login.
type Params struct {
	BankID    string // BLZ
	UserID    string
	PIN       string
	URL       string
	ProductID string
}

// Mechanism is a TAN method advertised by the bank.
type Mechanism struct {
	ID             string
	Name           string
	NeedsMedium    bool
	SupportedMedia int
}

// RequiresMedium reports whether a medium has to be chosen for this mechanism.
func (m Mechanism) RequiresMedium() bool {
	return m.NeedsMedium || m.SupportedMedia > 0
}

// Medium is a device or registration bound to a mechanism.
type Medium struct {
	Name string
	// Raw is handed back to the bank untouched on SetTANMedium.
	Raw []byte
}

type Account struct {
	IBAN          string
	BIC           string
	AccountNumber string
}

type Balance struct {
	Amount   decimal.Decimal
	Currency string
	Date     time.Time
}

type Transaction struct {
	Date          time.Time
	Amount        decimal.Decimal
	Currency      string
	ApplicantName string
	Purpose       string
}

// Response is the result of a banking call. It is either *NeedChallenge or
// one of the final result types below.
type Response interface {
	isResponse()
}

// NeedChallenge means the bank wants a TAN (or an app confirmation) before
// it hands out the result.
type NeedChallenge struct {
	Text      string
	Decoupled bool
	Flicker   string
	// Ref is the collaborator's handle for resubmission.
	Ref string
}

type AccountsResult struct{ Accounts []Account }

type BalanceResult struct{ Balance *Balance }

type TransactionsResult struct{ Transactions []Transaction }

// Ack is returned by calls with no payload, e.g. resolving the init challenge.
type Ack struct{}

func (*NeedChallenge) isResponse()     {}
func (AccountsResult) isResponse()     {}
func (BalanceResult) isResponse()      {}
func (TransactionsResult) isResponse() {}
func (Ack) isResponse()                {}

// Client is one banking session. Calls are synchronous and may block on network I/O.
type Client interface {
	// TANMechanisms returns the mechanisms already known to the client, in bank order.
	TANMechanisms() []Mechanism
	FetchTANMechanisms(ctx context.Context) error
	SetTANMechanism(id string) error
	TANMedia(ctx context.Context) ([]Medium, error)
	SetTANMedium(m Medium) error

	Open(ctx context.Context) error
	Close(ctx context.Context) error
	// InitChallenge is the challenge demanded by the dialog opening, or nil.
	InitChallenge() *NeedChallenge

	Accounts(ctx context.Context) (Response, error)
	Balance(ctx context.Context, acc Account) (Response, error)
	Transactions(ctx context.Context, acc Account, start, end time.Time) (Response, error)
	SendTAN(ctx context.Context, ch *NeedChallenge, tan string) (Response, error)

	// Deconstruct serializes the session for the next run.
	Deconstruct(ctx context.Context) ([]byte, error)
}

// Dialer builds a client, restoring it from a previously deconstructed state when one is given.
type Dialer func(ctx context.Context, p Params, state []byte) (Client, error)
