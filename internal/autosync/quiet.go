package autosync

import (
	"log"
	"strings"
	"sync"

	"fints-bot/internal/ioadapter"
)

// quiet keeps session chatter off the chat until the bank needs an answer.
// Buffered lines go out together right before the prompt, so a run without
// a challenge sends nothing but the summary.
type quiet struct {
	out ioadapter.Adapter
	tag string

	mu      sync.Mutex
	pending []string
}

func (q *quiet) Output(message string) {
	log.Printf("%s %s", q.tag, message)
	q.mu.Lock()
	q.pending = append(q.pending, message)
	q.mu.Unlock()
}

func (q *quiet) Input(prompt string) (string, error) {
	q.mu.Lock()
	held := q.pending
	q.pending = nil
	q.mu.Unlock()
	if len(held) > 0 {
		q.out.Output(strings.Join(held, "\n"))
	}
	return q.out.Input(prompt)
}

func (q *quiet) GetValidChoice(prompt string, maxIndex int, def ioadapter.Default) (int, error) {
	return ioadapter.ValidChoice(q, prompt, maxIndex, def)
}
