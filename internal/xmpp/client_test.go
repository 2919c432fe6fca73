package xmpp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goxmpp "github.com/xmppo/go-xmpp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   []goxmpp.Chat
	in     chan interface{}
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan interface{}, 8), closed: make(chan struct{})}
}

func (f *fakeConn) Send(c goxmpp.Chat) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return len(c.Text), nil
}

func (f *fakeConn) Recv() (interface{}, error) {
	select {
	case s := <-f.in:
		return s, nil
	case <-f.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) messages() []goxmpp.Chat {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]goxmpp.Chat(nil), f.sent...)
}

func TestBareJID(t *testing.T) {
	assert.Equal(t, "alice@example.org", BareJID(" Alice@Example.org/phone "))
	assert.Equal(t, "bob@example.org", BareJID("bob@example.org"))
}

func TestSendRunsOnLoop(t *testing.T) {
	fc := newFakeConn()
	c := newClient(fc, "bot@example.org/fints-bot")
	defer c.Close()

	require.NoError(t, c.Send("alice@example.org", "hello"))
	msgs := fc.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice@example.org", msgs[0].Remote)
	assert.Equal(t, "chat", msgs[0].Type)
}

func TestScheduleAfterClose(t *testing.T) {
	c := newClient(newFakeConn(), "bot@example.org")
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	select {
	case err := <-c.Schedule(func() error { return nil }):
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("schedule hung after close")
	}
}

func TestListenFiltersAndNormalizes(t *testing.T) {
	fc := newFakeConn()
	c := newClient(fc, "bot@example.org")
	defer c.Close()

	fc.in <- goxmpp.Presence{From: "alice@example.org/phone"}
	fc.in <- goxmpp.Chat{Remote: "bot@example.org/other", Type: "chat", Text: "echo"}
	fc.in <- goxmpp.Chat{Remote: "alice@example.org/phone", Type: "groupchat", Text: "room"}
	fc.in <- goxmpp.Chat{Remote: "Alice@Example.org/phone", Type: "chat", Text: "/start"}

	got := make(chan [2]string, 4)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- c.Listen(ctx, func(from, text string) { got <- [2]string{from, text} })
	}()

	select {
	case m := <-got:
		assert.Equal(t, [2]string{"alice@example.org", "/start"}, m)
	case <-time.After(time.Second):
		t.Fatal("no message dispatched")
	}
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Empty(t, got)
}

func TestListenReturnsOnClose(t *testing.T) {
	fc := newFakeConn()
	c := newClient(fc, "bot@example.org")
	errc := make(chan error, 1)
	go func() { errc <- c.Listen(context.Background(), func(string, string) {}) }()
	require.NoError(t, c.Close())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("listen did not return")
	}
}
