package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fints-bot/internal/fints"
)

// helper answers requests with canned results keyed by method.
type helper struct {
	t       *testing.T
	results map[string][]string
	seen    chan request
}

func startHelper(t *testing.T, results map[string][]string) (*Client, *helper) {
	t.Helper()
	clientEnd, helperEnd := net.Pipe()
	h := &helper{t: t, results: results, seen: make(chan request, 64)}
	go h.serve(helperEnd)
	c := New(clientEnd)
	t.Cleanup(func() { _ = c.Shutdown() })
	return c, h
}

func (h *helper) serve(conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req struct {
			ID     string          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := dec.Decode(&req); err != nil {
			return
		}
		h.seen <- request{ID: req.ID, Method: req.Method, Params: req.Params}
		queue := h.results[req.Method]
		raw := `null`
		if len(queue) > 0 {
			raw = queue[0]
			h.results[req.Method] = queue[1:]
		}
		var out map[string]any
		if len(raw) > 6 && raw[:6] == "error:" {
			out = map[string]any{"id": req.ID, "error": map[string]string{"message": raw[6:]}}
		} else {
			out = map[string]any{"id": req.ID, "result": json.RawMessage(raw)}
		}
		if err := enc.Encode(out); err != nil {
			return
		}
	}
}

func TestConnectCachesMechanisms(t *testing.T) {
	c, h := startHelper(t, map[string][]string{
		"connect": {`{"mechanisms":[{"id":"920","name":"BestSign","needs_medium":true}]}`},
	})
	err := c.Connect(context.Background(), fints.Params{BankID: "36010043", UserID: "u", PIN: "p"}, []byte("saved"))
	require.NoError(t, err)

	req := <-h.seen
	assert.Equal(t, "connect", req.Method)
	var params map[string]any
	require.NoError(t, json.Unmarshal(req.Params.(json.RawMessage), &params))
	assert.Equal(t, "36010043", params["bank_id"])
	assert.Equal(t, "c2F2ZWQ=", params["state"])

	mechs := c.TANMechanisms()
	require.Len(t, mechs, 1)
	assert.Equal(t, "920", mechs[0].ID)
	assert.True(t, mechs[0].RequiresMedium())
}

func TestChallengeThenResult(t *testing.T) {
	c, _ := startHelper(t, map[string][]string{
		"balance":  {`{"challenge":{"text":"Confirm","decoupled":true,"ref":"r1"}}`},
		"send_tan": {`{"balance":{"amount":"105.50","currency":"EUR","date":"2026-10-14"}}`},
	})
	ctx := context.Background()
	resp, err := c.Balance(ctx, fints.Account{IBAN: "DE00"})
	require.NoError(t, err)
	ch, ok := resp.(*fints.NeedChallenge)
	require.True(t, ok, "expected challenge, got %T", resp)
	assert.True(t, ch.Decoupled)
	assert.Equal(t, "r1", ch.Ref)

	resp, err = c.SendTAN(ctx, ch, "")
	require.NoError(t, err)
	bal, ok := resp.(fints.BalanceResult)
	require.True(t, ok, "expected balance, got %T", resp)
	require.NotNil(t, bal.Balance)
	assert.Equal(t, "105.5", bal.Balance.Amount.String())
	assert.Equal(t, 14, bal.Balance.Date.Day())

	_, err = c.SendTAN(ctx, ch, "")
	assert.Error(t, err, "ref is consumed")
}

func TestOpenInitChallenge(t *testing.T) {
	c, _ := startHelper(t, map[string][]string{
		"open":     {`{"challenge":{"text":"PSD2","ref":"init-1"}}`},
		"send_tan": {`{}`},
	})
	ctx := context.Background()
	require.NoError(t, c.Open(ctx))
	ch := c.InitChallenge()
	require.NotNil(t, ch)
	resp, err := c.SendTAN(ctx, ch, "123456")
	require.NoError(t, err)
	assert.Equal(t, fints.Ack{}, resp)
	assert.Nil(t, c.InitChallenge())
}

func TestTransactionsAndMedia(t *testing.T) {
	c, h := startHelper(t, map[string][]string{
		"transactions": {`{"transactions":[{"date":"2026-10-01","amount":-12.3,"currency":"EUR","applicant_name":"Shop","purpose":"Card"}]}`},
		"tan_media":    {`{"media":[{"name":"Phone","raw":"AQI="}]}`},
	})
	ctx := context.Background()
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.Local)
	resp, err := c.Transactions(ctx, fints.Account{IBAN: "DE00"}, start, start.AddDate(0, 0, 13))
	require.NoError(t, err)
	txs := resp.(fints.TransactionsResult).Transactions
	require.Len(t, txs, 1)
	assert.Equal(t, "-12.3", txs[0].Amount.String())
	assert.Equal(t, "Shop", txs[0].ApplicantName)

	req := <-h.seen
	var params map[string]any
	require.NoError(t, json.Unmarshal(req.Params.(json.RawMessage), &params))
	assert.Equal(t, "2026-10-01", params["start"])
	assert.Equal(t, "2026-10-14", params["end"])

	media, err := c.TANMedia(ctx)
	require.NoError(t, err)
	require.Len(t, media, 1)
	assert.Equal(t, []byte{1, 2}, media[0].Raw)
}

func TestRemoteError(t *testing.T) {
	c, _ := startHelper(t, map[string][]string{
		"accounts": {"error:Dialog beendet (9800)"},
	})
	_, err := c.Accounts(context.Background())
	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "accounts", re.Method)
	assert.Contains(t, err.Error(), "Dialog")
}

func TestClosedClient(t *testing.T) {
	c, _ := startHelper(t, nil)
	require.NoError(t, c.Shutdown())
	_, err := c.Accounts(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
