package ioadapter

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"
)

const inboxSize = 64

// ErrCancelled is returned by Input once the adapter was cancelled and the
// injected empty answer has been consumed.
var ErrCancelled = errors.New("input cancelled")

// inbox is the blocking half shared by the chat adapters. The waiting flag and
// the queue push happen under one lock, so a reply racing a timeout is either
// delivered to the timing-out Input or refused, never dropped.
type inbox struct {
	mu        sync.Mutex
	waiting   bool
	cancelled bool
	ch        chan string
	timeout   time.Duration
}

func newInbox(timeout time.Duration) inbox {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return inbox{ch: make(chan string, inboxSize), timeout: timeout}
}

func (b *inbox) wait() (string, error) {
	b.mu.Lock()
	if b.cancelled && len(b.ch) == 0 {
		b.mu.Unlock()
		return "", ErrCancelled
	}
	b.waiting = true
	b.mu.Unlock()

	start := time.Now()
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case s := <-b.ch:
		b.mu.Lock()
		b.waiting = false
		b.mu.Unlock()
		return s, nil
	case <-timer.C:
		b.mu.Lock()
		defer b.mu.Unlock()
		b.waiting = false
		select {
		case s := <-b.ch:
			return s, nil
		default:
		}
		return "", &TimeoutError{Elapsed: time.Since(start)}
	}
}

// Offer hands an inbound message to a pending Input. It returns false when
// nobody is waiting, so the caller can answer "no active session".
func (b *inbox) Offer(text string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.waiting {
		return false
	}
	select {
	case b.ch <- text:
		return true
	default:
		return false
	}
}

func (b *inbox) Waiting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waiting
}

// Cancel unblocks a pending Input with an empty answer. Later Inputs fail
// with ErrCancelled, so a session stuck in a prompt loop unwinds.
func (b *inbox) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = true
	select {
	case b.ch <- "":
	default:
	}
}

// Queued is the chat adapter whose backend can send synchronously from any goroutine.
type Queued struct {
	inbox
	send func(text string) error
}

func NewQueued(send func(text string) error, timeout time.Duration) *Queued {
	return &Queued{inbox: newInbox(timeout), send: send}
}

func (q *Queued) Output(message string) {
	if strings.TrimSpace(message) == "" {
		return
	}
	if err := q.send(message); err != nil {
		log.Printf("[CHAT] send failed: %v", err)
	}
}

func (q *Queued) Input(prompt string) (string, error) {
	q.Output(prompt)
	return q.wait()
}

func (q *Queued) GetValidChoice(prompt string, maxIndex int, def Default) (int, error) {
	return ValidChoice(q, prompt, maxIndex, def)
}
