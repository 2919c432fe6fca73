package ioadapter

import (
	"log"
	"strings"
	"time"
)

// Scheduler runs fn on a foreign event loop. The returned channel must be
// buffered so the loop never blocks on a caller that already gave up.
type Scheduler interface {
	Schedule(fn func() error) <-chan error
}

// Bridged is the chat adapter for backends whose send is only legal on their
// own event loop. Input behaves like Queued.
type Bridged struct {
	inbox
	loop        Scheduler
	send        func(text string) error
	sendTimeout time.Duration
}

func NewBridged(loop Scheduler, send func(text string) error, timeout time.Duration) *Bridged {
	return &Bridged{inbox: newInbox(timeout), loop: loop, send: send, sendTimeout: SendTimeout}
}

// Output waits up to the send timeout for the loop. Timeouts and send errors
// are logged and swallowed.
func (b *Bridged) Output(message string) {
	if strings.TrimSpace(message) == "" {
		return
	}
	done := b.loop.Schedule(func() error { return b.send(message) })
	timer := time.NewTimer(b.sendTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			log.Printf("[CHAT] send failed: %v", err)
		}
	case <-timer.C:
		log.Printf("[CHAT] send not confirmed within %s", b.sendTimeout)
	}
}

func (b *Bridged) Input(prompt string) (string, error) {
	b.Output(prompt)
	return b.wait()
}

func (b *Bridged) GetValidChoice(prompt string, maxIndex int, def Default) (int, error) {
	return ValidChoice(b, prompt, maxIndex, def)
}
