// Package xmpp connects the bot to an XMPP account. All writes happen on one
// loop goroutine; callers hand work to it through Schedule.
package xmpp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	goxmpp "github.com/xmppo/go-xmpp"
)

var ErrClosed = errors.New("xmpp client closed")

type Config struct {
	JID      string
	Password string
	// Host is host:port; the JID's domain on 5222 when empty.
	Host           string
	Resource       string
	ConnectTimeout time.Duration
}

// conn is the part of *goxmpp.Client the bot uses.
type conn interface {
	Send(chat goxmpp.Chat) (int, error)
	Recv() (interface{}, error)
	Close() error
}

type job struct {
	fn     func() error
	result chan error
}

type Client struct {
	c    conn
	self string

	jobs      chan job
	done      chan struct{}
	closeOnce sync.Once
}

// Dial logs in and starts the send loop.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	host := cfg.Host
	if host == "" {
		bare := BareJID(cfg.JID)
		i := strings.IndexByte(bare, '@')
		if i < 0 {
			return nil, fmt.Errorf("invalid XMPP_JID %q", cfg.JID)
		}
		host = bare[i+1:] + ":5222"
	}
	opts := goxmpp.Options{
		Host:          host,
		User:          cfg.JID,
		Password:      cfg.Password,
		Resource:      cfg.Resource,
		NoTLS:         true,
		StartTLS:      true,
		Session:       true,
		Status:        "chat",
		StatusMessage: "FinTS bot",
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	type dialResult struct {
		c   *goxmpp.Client
		err error
	}
	ch := make(chan dialResult, 1)
	go func() {
		c, err := opts.NewClient()
		ch <- dialResult{c, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("xmpp connect %s: %w", host, r.err)
		}
		log.Printf("[XMPP] connected as %s", BareJID(cfg.JID))
		return newClient(r.c, cfg.JID), nil
	case <-time.After(timeout):
		go func() {
			if r := <-ch; r.c != nil {
				_ = r.c.Close()
			}
		}()
		return nil, fmt.Errorf("xmpp connect %s: timed out after %s", host, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newClient(c conn, self string) *Client {
	cl := &Client{c: c, self: BareJID(self), jobs: make(chan job), done: make(chan struct{})}
	go cl.loop()
	return cl
}

func (c *Client) loop() {
	for {
		select {
		case j := <-c.jobs:
			select {
			case <-c.done:
				j.result <- ErrClosed
				return
			default:
			}
			j.result <- j.fn()
		case <-c.done:
			return
		}
	}
}

// Schedule runs fn on the loop. The channel is buffered and receives exactly
// one value.
func (c *Client) Schedule(fn func() error) <-chan error {
	result := make(chan error, 1)
	go func() {
		select {
		case c.jobs <- job{fn: fn, result: result}:
		case <-c.done:
			result <- ErrClosed
		}
	}()
	return result
}

// SendRaw writes a chat stanza. Only call it from a scheduled function.
func (c *Client) SendRaw(to, text string) error {
	if _, err := c.c.Send(goxmpp.Chat{Remote: to, Type: "chat", Text: text}); err != nil {
		return fmt.Errorf("xmpp send to %s: %w", to, err)
	}
	return nil
}

// Send schedules a message and waits for it to be written.
func (c *Client) Send(to, text string) error {
	return <-c.Schedule(func() error { return c.SendRaw(to, text) })
}

// Listen reads stanzas and calls handle with the sender's bare JID for each
// chat message until the connection fails or ctx is done. Messages from the
// bot's own account are ignored.
func (c *Client) Listen(ctx context.Context, handle func(from, text string)) error {
	type recv struct {
		stanza interface{}
		err    error
	}
	for {
		ch := make(chan recv, 1)
		go func() {
			s, err := c.c.Recv()
			ch <- recv{s, err}
		}()
		var r recv
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrClosed
		case r = <-ch:
		}
		if r.err != nil {
			select {
			case <-c.done:
				return ErrClosed
			default:
			}
			return fmt.Errorf("xmpp receive: %w", r.err)
		}
		msg, ok := r.stanza.(goxmpp.Chat)
		if !ok || msg.Text == "" || (msg.Type != "chat" && msg.Type != "normal" && msg.Type != "") {
			continue
		}
		from := BareJID(msg.Remote)
		if from == c.self {
			continue
		}
		log.Printf("[MSG] from=%s text_len=%d", from, len(msg.Text))
		handle(from, msg.Text)
	}
}

// Close stops the loop and the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.c.Close()
	})
	return err
}

// BareJID strips the resource and lowercases the address.
func BareJID(jid string) string {
	jid = strings.TrimSpace(jid)
	if i := strings.IndexByte(jid, '/'); i >= 0 {
		jid = jid[:i]
	}
	return strings.ToLower(jid)
}
