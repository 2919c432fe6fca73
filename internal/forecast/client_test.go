package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPing(t *testing.T) {
	tests := []struct {
		status int
		ok     bool
	}{
		{http.StatusOK, true},
		{http.StatusNotFound, true},
		{http.StatusMethodNotAllowed, true},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/index.php/records/bankbalance", r.URL.Path)
			w.WriteHeader(tt.status)
		}))
		err := New(srv.URL+"/", "u", "p").Ping(context.Background())
		srv.Close()
		if tt.ok {
			assert.NoError(t, err, "status %d", tt.status)
		} else {
			var se *StatusError
			require.True(t, errors.As(err, &se), "status %d", tt.status)
			assert.Equal(t, tt.status, se.Code)
		}
	}
}

func TestPingUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	assert.Error(t, New(url, "u", "p").Ping(context.Background()))
}

func TestPostBalance(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "user", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/index.php/records/bankbalance", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	dup, err := New(srv.URL, "user", "secret").PostBalance(context.Background(),
		time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), decimal.RequireFromString("105.5"))
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, map[string]string{"date": "2026-10-14", "value": "105.50"}, got)
}

func TestPostTransactionStatuses(t *testing.T) {
	status := http.StatusConflict
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction.php", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(strings.Repeat("x", 800)))
	}))
	defer srv.Close()
	c := New(srv.URL, "u", "p")
	day := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	dup, err := c.PostTransaction(context.Background(), "Coffee", decimal.RequireFromString("-3.2"), day)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, map[string]string{"name": "Coffee", "value": "-3.20", "dateactual": "2026-10-01", "status": "paid"}, got)

	status = http.StatusUnauthorized
	_, err = c.PostTransaction(context.Background(), "Coffee", decimal.NewFromInt(1), day)
	assert.EqualError(t, err, "API authentication failed (401 Unauthorized)")

	status = http.StatusInternalServerError
	_, err = c.PostTransaction(context.Background(), "Coffee", decimal.NewFromInt(1), day)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 500, se.Code)
	assert.Len(t, se.Body, maxErrorBody)
}
