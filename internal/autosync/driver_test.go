package autosync

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fints-bot/internal/fints"
	"fints-bot/internal/fints/fintstest"
	"fints-bot/internal/ioadapter"
	"fints-bot/internal/prefs"
	"fints-bot/internal/session"
	"fints-bot/internal/storage"
	"fints-bot/internal/txdb"
)

var wednesday = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

func day(m time.Month, d int) time.Time {
	return time.Date(2026, m, d, 0, 0, 0, 0, time.UTC)
}

type fakePoster struct {
	pingErr  error
	failName string
	balances []string
	posted   []string
}

func (f *fakePoster) Ping(context.Context) error { return f.pingErr }

func (f *fakePoster) PostBalance(_ context.Context, _ time.Time, v decimal.Decimal) (bool, error) {
	f.balances = append(f.balances, v.StringFixed(2))
	return false, nil
}

func (f *fakePoster) PostTransaction(_ context.Context, name string, _ decimal.Decimal, _ time.Time) (bool, error) {
	if name == f.failName {
		return false, errors.New("status 500")
	}
	f.posted = append(f.posted, name)
	return false, nil
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newBank(balance string) *fintstest.Bank {
	return &fintstest.Bank{
		Mechanisms:   []fints.Mechanism{{ID: "942", Name: "mobileTAN"}},
		AccountList:  []fints.Account{{IBAN: "DE02"}},
		BalanceValue: &fints.Balance{Amount: amount(balance), Currency: "EUR"},
		TxList: []fints.Transaction{
			{Date: day(10, 1), Amount: amount("-12.3"), ApplicantName: "Shop", Purpose: "Card payment"},
			{Date: day(10, 3), Amount: amount("2500"), Purpose: "Salary October"},
		},
		State: []byte("state"),
	}
}

func newDriver(t *testing.T, mode Mode, bank *fintstest.Bank, chat ioadapter.Adapter) *Driver {
	t.Helper()
	dir := t.TempDir()
	states, err := storage.NewFileStore(dir)
	require.NoError(t, err)
	store := prefs.NewEnvFile(filepath.Join(dir, ".env"))
	require.NoError(t, store.Save(prefs.Preference{MechanismID: "942", MechanismName: "mobileTAN"}))
	db, err := txdb.Open(context.Background(), filepath.Join(dir, "tx.db"))
	require.NoError(t, err)
	return &Driver{
		Mode: mode,
		Session: session.Deps{
			IO:     chat,
			Dial:   bank.Dialer(),
			Params: fints.Params{BankID: "36010043", UserID: "alice", PIN: "secret"},
			IBAN:   "DE02",
			Prefs:  store,
			States: states,
			Now:    func() time.Time { return wednesday },
		},
		User:      "alice",
		DB:        db,
		StartDate: day(1, 1),
		Days:      30,
	}
}

func TestBotSyncFirstRunNotifiesOnce(t *testing.T) {
	bank := newBank("105.5")
	chat := ioadapter.NewScripted()
	d := newDriver(t, ModeBot, bank, chat)

	require.NoError(t, d.Run(context.Background()))

	out := chat.Outputs()
	require.Len(t, out, 1)
	assert.Equal(t, "Balance: 105.50€ | Transactions (30d): 2\n"+
		"  2026-10-01: -12.30€ - Shop\n"+
		"  2026-10-03: +2500.00€ - Salary October", out[0])
	assert.Empty(t, chat.Prompts())

	start, end := bank.LastRange()
	assert.Equal(t, day(9, 14), start)
	assert.Equal(t, day(10, 14), end)
	assert.True(t, bank.Closed())
	assert.Contains(t, bank.Calls(), "deconstruct")
}

func TestBotSyncNotifiesOnlyOnBalanceChange(t *testing.T) {
	ctx := context.Background()
	bank := newBank("100.00")
	chat := ioadapter.NewScripted()
	d := newDriver(t, ModeBot, bank, chat)
	require.NoError(t, d.DB.UpdateLastBalance(ctx, "alice", amount("100.00")))

	require.NoError(t, d.Run(ctx))
	assert.Empty(t, chat.Outputs(), "unchanged balance stays silent")

	bank.BalanceValue = &fints.Balance{Amount: amount("105.50"), Currency: "EUR"}
	require.NoError(t, d.Run(ctx))
	out := chat.Outputs()
	require.Len(t, out, 1)
	assert.True(t, strings.HasPrefix(out[0], "Balance: 105.50€ | "))

	last, ok, err := d.DB.LastBalance(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(amount("105.50")))
}

func TestAPISyncForwardsOnlyNewTransactions(t *testing.T) {
	ctx := context.Background()
	bank := newBank("105.5")
	chat := ioadapter.NewScripted()
	api := &fakePoster{}
	d := newDriver(t, ModeAPI, bank, chat)
	d.API = api
	require.NoError(t, d.DB.MarkTransactionSent(ctx, txdb.Key{
		User: "alice", Date: day(10, 1), Amount: amount("-12.30"), Name: "Shop", Purpose: "Card payment",
	}))

	require.NoError(t, d.Run(ctx))
	assert.Equal(t, []string{"105.50"}, api.balances)
	assert.Equal(t, []string{"Salary October"}, api.posted)
	start, _ := bank.LastRange()
	assert.Equal(t, day(1, 1), start)

	out := chat.Outputs()
	require.Len(t, out, 1)
	assert.Equal(t, "Balance: 105.50€ | New transactions: 1\n  2026-10-03: +2500.00€ - Salary October", out[0])

	n, err := d.DB.SentCount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, d.Run(ctx))
	assert.Len(t, api.posted, 1, "second run forwards nothing")
	assert.Len(t, chat.Outputs(), 1, "second run is silent")
}

func TestAPISyncFailedPostIsRetriedNextRun(t *testing.T) {
	ctx := context.Background()
	bank := newBank("10")
	api := &fakePoster{failName: "Shop"}
	d := newDriver(t, ModeAPI, bank, ioadapter.NewScripted())
	d.API = api

	require.NoError(t, d.Run(ctx))
	assert.Equal(t, []string{"Salary October"}, api.posted)

	api.failName = ""
	require.NoError(t, d.Run(ctx))
	assert.Equal(t, []string{"Salary October", "Shop"}, api.posted)
}

func TestAPISyncAbortsWhenAPIUnreachable(t *testing.T) {
	bank := newBank("10")
	chat := ioadapter.NewScripted()
	d := newDriver(t, ModeAPI, bank, chat)
	d.API = &fakePoster{pingErr: errors.New("connection refused")}

	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, bank.Dials())
	assert.Empty(t, chat.Outputs())
}

func TestChallengeContextReachesChat(t *testing.T) {
	bank := newBank("10")
	bank.Challenges = map[string][]*fints.NeedChallenge{
		fintstest.OpTransactions: {{Text: "Confirm login", Decoupled: true}},
	}
	chat := ioadapter.NewScripted("")
	d := newDriver(t, ModeBot, bank, chat)

	require.NoError(t, d.Run(context.Background()))
	out := chat.Outputs()
	require.Len(t, out, 2)
	assert.Contains(t, out[0], "Challenge: Confirm login")
	assert.Contains(t, out[0], "Please confirm this transaction in your banking app.")
	assert.True(t, strings.HasPrefix(out[1], "Balance: 10.00€"))
	assert.Equal(t, []string{"Press Enter after confirming..."}, chat.Prompts())
}

func TestTimeoutAbortsWithoutSavingBalance(t *testing.T) {
	ctx := context.Background()
	bank := newBank("10")
	bank.Challenges = map[string][]*fints.NeedChallenge{
		fintstest.OpBalance: {{Text: "TAN please"}},
	}
	d := newDriver(t, ModeBot, bank, ioadapter.NewScripted())

	err := d.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ioadapter.ErrTimeout)
	assert.NotContains(t, bank.Calls(), "deconstruct")
	_, ok, err := d.DB.LastBalance(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Shop", displayName(fints.Transaction{ApplicantName: "Shop", Purpose: "x"}))
	assert.Equal(t, "Unknown", displayName(fints.Transaction{}))
	long := strings.Repeat("ü", 60)
	assert.Equal(t, strings.Repeat("ü", 50), displayName(fints.Transaction{Purpose: long}))
}

func TestSendTest(t *testing.T) {
	var got string
	require.NoError(t, SendTest(func(s string) error { got = s; return nil }))
	assert.Equal(t, TestMessage, got)
	assert.Error(t, SendTest(func(string) error { return errors.New("unauthorized") }))
}
