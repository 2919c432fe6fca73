// Package forecast posts balances and transactions to a forecast-php instance.
package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const maxErrorBody = 500

// StatusError is a non-success HTTP answer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	switch e.Code {
	case http.StatusUnauthorized:
		return "API authentication failed (401 Unauthorized)"
	case http.StatusForbidden:
		return "API access forbidden (403 Forbidden)"
	}
	return fmt.Sprintf("API error %d: %s", e.Code, e.Body)
}

type Client struct {
	balanceURL     string
	transactionURL string
	user           string
	password       string
	http           *http.Client
}

func New(baseURL, user, password string) *Client {
	base := strings.TrimRight(baseURL, "/")
	return &Client{
		balanceURL:     base + "/index.php/records/bankbalance",
		transactionURL: base + "/transaction.php",
		user:           user,
		password:       password,
		http:           &http.Client{Timeout: 30 * time.Second},
	}
}

// Ping checks reachability and credentials. Only 401 and 403 count as
// failures; any other status means the API is up.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.balanceURL, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.user, c.password)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot connect to API: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// PostBalance reports duplicate=true when the API already had this balance.
func (c *Client) PostBalance(ctx context.Context, date time.Time, value decimal.Decimal) (duplicate bool, err error) {
	return c.post(ctx, c.balanceURL, map[string]string{
		"date":  date.Format("2006-01-02"),
		"value": value.StringFixed(2),
	})
}

func (c *Client) PostTransaction(ctx context.Context, name string, value decimal.Decimal, dateActual time.Time) (duplicate bool, err error) {
	return c.post(ctx, c.transactionURL, map[string]string{
		"name":       name,
		"value":      value.StringFixed(2),
		"dateactual": dateActual.Format("2006-01-02"),
		"status":     "paid",
	})
}

func (c *Client) post(ctx context.Context, url string, payload map[string]string) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.SetBasicAuth(c.user, c.password)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	case http.StatusConflict:
		_, _ = io.Copy(io.Discard, resp.Body)
		return true, nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return false, &StatusError{Code: resp.StatusCode, Body: string(snippet)}
}
