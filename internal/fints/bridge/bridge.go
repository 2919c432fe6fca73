// Package bridge implements fints.Client by speaking line-delimited JSON RPC
// to a FinTS helper process. The helper owns the protocol; this side only
// shuttles requests and maps results onto the fints response variants.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fints-bot/internal/fints"
)

const dateLayout = "2006-01-02"

// ErrClosed is returned for calls after the transport went away.
var ErrClosed = errors.New("bridge closed")

// RemoteError is an error reported by the helper.
type RemoteError struct {
	Method  string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Method, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

type request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    string `json:"code,omitempty"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type wireMechanism struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	NeedsMedium    bool   `json:"needs_medium"`
	SupportedMedia int    `json:"supported_media"`
}

type wireMedium struct {
	Name string `json:"name"`
	Raw  []byte `json:"raw,omitempty"`
}

type wireChallenge struct {
	Text      string `json:"text"`
	Decoupled bool   `json:"decoupled"`
	Flicker   string `json:"flicker,omitempty"`
	Ref       string `json:"ref"`
}

type wireAccount struct {
	IBAN          string `json:"iban"`
	BIC           string `json:"bic"`
	AccountNumber string `json:"account_number"`
}

type wireBalance struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Date     string          `json:"date"`
}

type wireTransaction struct {
	Date          string          `json:"date"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	ApplicantName string          `json:"applicant_name"`
	Purpose       string          `json:"purpose"`
}

// result is the union of every result payload the helper sends.
type result struct {
	Challenge    *wireChallenge    `json:"challenge,omitempty"`
	Mechanisms   []wireMechanism   `json:"mechanisms,omitempty"`
	Media        []wireMedium      `json:"media,omitempty"`
	Accounts     []wireAccount     `json:"accounts,omitempty"`
	Balance      *wireBalance      `json:"balance,omitempty"`
	Transactions []wireTransaction `json:"transactions,omitempty"`
	State        []byte            `json:"state,omitempty"`
}

// Client is one helper-backed banking session. Calls are serialized.
type Client struct {
	mu     sync.Mutex
	enc    *json.Encoder
	dec    *json.Decoder
	conn   io.Closer
	closed bool

	mechanisms []fints.Mechanism
	init       *fints.NeedChallenge
	// pending maps a challenge ref to the method that raised it, so the
	// resubmission result can be decoded as the right variant.
	pending map[string]string
}

// New wraps an already connected transport.
func New(rw io.ReadWriteCloser) *Client {
	return &Client{
		enc:     json.NewEncoder(rw),
		dec:     json.NewDecoder(rw),
		conn:    rw,
		pending: make(map[string]string),
	}
}

// Connect logs in and restores state. Mechanisms the helper already knows
// are cached for TANMechanisms.
func (c *Client) Connect(ctx context.Context, p fints.Params, state []byte) error {
	params := map[string]any{
		"bank_id":    p.BankID,
		"user_id":    p.UserID,
		"pin":        p.PIN,
		"url":        p.URL,
		"product_id": p.ProductID,
	}
	if len(state) > 0 {
		params["state"] = state
	}
	var res result
	if err := c.call(ctx, "connect", params, &res); err != nil {
		return err
	}
	c.mu.Lock()
	c.mechanisms = mechanisms(res.Mechanisms)
	c.mu.Unlock()
	return nil
}

func (c *Client) TANMechanisms() []fints.Mechanism {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]fints.Mechanism(nil), c.mechanisms...)
}

func (c *Client) FetchTANMechanisms(ctx context.Context) error {
	var res result
	if err := c.call(ctx, "fetch_tan_mechanisms", nil, &res); err != nil {
		return err
	}
	c.mu.Lock()
	c.mechanisms = mechanisms(res.Mechanisms)
	c.mu.Unlock()
	return nil
}

func (c *Client) SetTANMechanism(id string) error {
	return c.call(context.Background(), "set_tan_mechanism", map[string]string{"id": id}, nil)
}

func (c *Client) TANMedia(ctx context.Context) ([]fints.Medium, error) {
	var res result
	if err := c.call(ctx, "tan_media", nil, &res); err != nil {
		return nil, err
	}
	media := make([]fints.Medium, 0, len(res.Media))
	for _, m := range res.Media {
		media = append(media, fints.Medium{Name: m.Name, Raw: m.Raw})
	}
	return media, nil
}

func (c *Client) SetTANMedium(m fints.Medium) error {
	return c.call(context.Background(), "set_tan_medium", wireMedium{Name: m.Name, Raw: m.Raw}, nil)
}

func (c *Client) Open(ctx context.Context) error {
	var res result
	if err := c.call(ctx, "open", nil, &res); err != nil {
		return err
	}
	if res.Challenge != nil {
		ch := challenge(res.Challenge)
		c.mu.Lock()
		c.init = ch
		c.pending[ch.Ref] = "open"
		c.mu.Unlock()
	}
	return nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.call(ctx, "close", nil, nil)
}

func (c *Client) InitChallenge() *fints.NeedChallenge {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.init
}

func (c *Client) Accounts(ctx context.Context) (fints.Response, error) {
	return c.op(ctx, "accounts", nil)
}

func (c *Client) Balance(ctx context.Context, acc fints.Account) (fints.Response, error) {
	return c.op(ctx, "balance", map[string]any{"account": wireAccount(acc)})
}

func (c *Client) Transactions(ctx context.Context, acc fints.Account, start, end time.Time) (fints.Response, error) {
	return c.op(ctx, "transactions", map[string]any{
		"account": wireAccount(acc),
		"start":   start.Format(dateLayout),
		"end":     end.Format(dateLayout),
	})
}

func (c *Client) SendTAN(ctx context.Context, ch *fints.NeedChallenge, tan string) (fints.Response, error) {
	c.mu.Lock()
	method, ok := c.pending[ch.Ref]
	delete(c.pending, ch.Ref)
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("send_tan: unknown challenge ref %q", ch.Ref)
	}
	var res result
	if err := c.call(ctx, "send_tan", map[string]string{"ref": ch.Ref, "tan": tan}, &res); err != nil {
		return nil, err
	}
	if method == "open" && res.Challenge == nil {
		c.mu.Lock()
		c.init = nil
		c.mu.Unlock()
	}
	return c.decode(method, &res)
}

func (c *Client) Deconstruct(ctx context.Context) ([]byte, error) {
	var res result
	if err := c.call(ctx, "deconstruct", nil, &res); err != nil {
		return nil, err
	}
	return res.State, nil
}

// Shutdown closes the transport. The client is unusable afterwards.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *Client) op(ctx context.Context, method string, params any) (fints.Response, error) {
	var res result
	if err := c.call(ctx, method, params, &res); err != nil {
		return nil, err
	}
	return c.decode(method, &res)
}

func (c *Client) decode(method string, res *result) (fints.Response, error) {
	if res.Challenge != nil {
		ch := challenge(res.Challenge)
		c.mu.Lock()
		c.pending[ch.Ref] = method
		c.mu.Unlock()
		return ch, nil
	}
	switch method {
	case "open":
		return fints.Ack{}, nil
	case "accounts":
		accs := make([]fints.Account, 0, len(res.Accounts))
		for _, a := range res.Accounts {
			accs = append(accs, fints.Account(a))
		}
		return fints.AccountsResult{Accounts: accs}, nil
	case "balance":
		if res.Balance == nil {
			return fints.BalanceResult{}, nil
		}
		d, err := parseDate(res.Balance.Date)
		if err != nil {
			return nil, fmt.Errorf("balance date: %w", err)
		}
		return fints.BalanceResult{Balance: &fints.Balance{
			Amount:   res.Balance.Amount,
			Currency: res.Balance.Currency,
			Date:     d,
		}}, nil
	case "transactions":
		txs := make([]fints.Transaction, 0, len(res.Transactions))
		for _, t := range res.Transactions {
			d, err := parseDate(t.Date)
			if err != nil {
				return nil, fmt.Errorf("transaction date: %w", err)
			}
			txs = append(txs, fints.Transaction{
				Date:          d,
				Amount:        t.Amount,
				Currency:      t.Currency,
				ApplicantName: t.ApplicantName,
				Purpose:       t.Purpose,
			})
		}
		return fints.TransactionsResult{Transactions: txs}, nil
	}
	return nil, fmt.Errorf("no result mapping for %s", method)
}

// call does one request/response round trip. out may be nil.
func (c *Client) call(ctx context.Context, method string, params any, out *result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	id := uuid.NewString()
	if err := c.enc.Encode(request{ID: id, Method: method, Params: params}); err != nil {
		return fmt.Errorf("%s: write request: %w", method, err)
	}
	var resp response
	for {
		if err := c.dec.Decode(&resp); err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%s: %w", method, ErrClosed)
			}
			return fmt.Errorf("%s: read response: %w", method, err)
		}
		if resp.ID == id {
			break
		}
		log.Printf("[FINTS] dropping stray response %s while waiting for %s", resp.ID, method)
		resp = response{}
	}
	if resp.Error != nil {
		return &RemoteError{Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if out == nil || len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

func mechanisms(in []wireMechanism) []fints.Mechanism {
	out := make([]fints.Mechanism, 0, len(in))
	for _, m := range in {
		out = append(out, fints.Mechanism(m))
	}
	return out
}

func challenge(w *wireChallenge) *fints.NeedChallenge {
	return &fints.NeedChallenge{Text: w.Text, Decoupled: w.Decoupled, Flicker: w.Flicker, Ref: w.Ref}
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(dateLayout, s, time.Local)
}
