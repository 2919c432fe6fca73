package tan

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fints-bot/internal/fints"
	"fints-bot/internal/fints/fintstest"
	"fints-bot/internal/ioadapter"
)

type flickerScripted struct {
	*ioadapter.Scripted
	codes []string
	err   error
}

func (f *flickerScripted) RenderFlicker(code string) error {
	f.codes = append(f.codes, code)
	return f.err
}

func TestResolveLoopsUntilResult(t *testing.T) {
	bal := &fints.Balance{Amount: decimal.RequireFromString("42.00"), Currency: "EUR"}
	bank := &fintstest.Bank{
		BalanceValue: bal,
		Challenges: map[string][]*fints.NeedChallenge{
			fintstest.OpBalance: {
				{Text: "first"},
				{Text: "second", Decoupled: true},
			},
		},
	}
	io := ioadapter.NewScripted(" 123456 ", "")
	ctx := context.Background()

	res, err := Resolve[fints.BalanceResult](ctx, bank, io, func() (fints.Response, error) {
		return bank.Balance(ctx, fints.Account{})
	})
	require.NoError(t, err)
	assert.Same(t, bal, res.Balance)
	assert.Equal(t, []string{"123456", ""}, bank.TANs())
	assert.Equal(t, []string{"Enter TAN: ", "Press Enter after confirming..."}, io.Prompts())
	assert.Contains(t, io.Outputs(), "Challenge: first")
	assert.Contains(t, io.Outputs(), "Please confirm this transaction in your banking app.")
}

func TestResolvePropagatesBankError(t *testing.T) {
	bank := &fintstest.Bank{Errors: map[string]error{fintstest.OpAccounts: errors.New("boom")}}
	ctx := context.Background()
	_, err := Resolve[fints.AccountsResult](ctx, bank, ioadapter.NewScripted(), func() (fints.Response, error) {
		return bank.Accounts(ctx)
	})
	assert.EqualError(t, err, "boom")
}

func TestResolveUnexpectedVariant(t *testing.T) {
	bank := &fintstest.Bank{}
	ctx := context.Background()
	_, err := Resolve[fints.AccountsResult](ctx, bank, ioadapter.NewScripted(), func() (fints.Response, error) {
		return fints.Ack{}, nil
	})
	assert.Error(t, err)
}

func TestResolveInit(t *testing.T) {
	bank := &fintstest.Bank{Init: &fints.NeedChallenge{Text: "PSD2"}}
	io := ioadapter.NewScripted("777")
	require.NoError(t, ResolveInit(context.Background(), bank, io))
	assert.Equal(t, []string{"send_tan:init"}, bank.Calls())
	assert.Equal(t, []string{"777"}, bank.TANs())

	none := &fintstest.Bank{}
	require.NoError(t, ResolveInit(context.Background(), none, ioadapter.NewScripted()))
	assert.Empty(t, none.Calls())
}

func TestHandleChallengeFlicker(t *testing.T) {
	io := &flickerScripted{Scripted: ioadapter.NewScripted("55"), err: errors.New("no tty")}
	tan, err := HandleChallenge(io, &fints.NeedChallenge{Flicker: "0F1A"})
	require.NoError(t, err)
	assert.Equal(t, "55", tan)
	assert.Equal(t, []string{"0F1A"}, io.codes)
	assert.Contains(t, io.Outputs(), "(Flicker display not available on this terminal)")
}

func TestHandleChallengeFlickerSkippedForChat(t *testing.T) {
	io := ioadapter.NewScripted("55")
	_, err := HandleChallenge(io, &fints.NeedChallenge{Flicker: "0F1A"})
	require.NoError(t, err)
	assert.NotContains(t, io.Outputs(), "Flicker code displayed (if terminal supports it):")
}
