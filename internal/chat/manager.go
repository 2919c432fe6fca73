// Package chat runs one banking session per conversation for a chat backend.
// Telegram and XMPP only differ in how ids look and how text is sent.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"fints-bot/internal/auth"
	"fints-bot/internal/ioadapter"
)

const (
	msgUnauthorized   = "Unauthorized. Access denied."
	msgAlreadyRunning = "Session already running. Please complete or wait for timeout."
	msgNoSession      = "No active session. Send /start to begin."
	msgGoodbye        = "Goodbye! Send /start to begin a new session."
	msgTimedOut       = "Session timed out due to inactivity."
	msgStartAgain     = "Send /start to begin a new session."
	msgTryAgain       = "Send /start to try again."
)

// Adapter is a conversation-bound I/O adapter that accepts inbound text.
type Adapter interface {
	ioadapter.Adapter
	Offer(text string) bool
	Cancel()
}

type Config struct {
	Allow *auth.Allowlist
	// Normalize maps a raw sender id to the conversation key. Optional.
	Normalize func(id string) string
	// Reply sends text outside of any session (rejections, notices).
	Reply      func(id, text string)
	NewAdapter func(id string) Adapter
	// Run is the whole session, reconnects included.
	Run func(ctx context.Context, io ioadapter.Adapter) error
	// IsConfigError picks out errors reported as configuration problems. Optional.
	IsConfigError func(err error) bool
}

type entry struct {
	sid     string
	adapter Adapter
	done    chan struct{}
}

func (e *entry) alive() bool {
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

type Manager struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool
}

func NewManager(cfg Config) *Manager {
	if cfg.Normalize == nil {
		cfg.Normalize = strings.TrimSpace
	}
	if cfg.Allow == nil {
		cfg.Allow = auth.New(nil, false)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{cfg: cfg, ctx: ctx, cancel: cancel, sessions: make(map[string]*entry)}
}

// HandleMessage routes one inbound text for conversation id.
func (m *Manager) HandleMessage(id, text string) {
	id = m.cfg.Normalize(id)
	if !m.cfg.Allow.IsAllowed(id) {
		log.Printf("[AUTH] unauthorized access attempt from %s", id)
		m.cfg.Reply(id, msgUnauthorized)
		return
	}
	if strings.EqualFold(strings.TrimSpace(text), "/start") {
		if !m.Start(id) {
			m.cfg.Reply(id, msgAlreadyRunning)
		}
		return
	}
	m.mu.Lock()
	e := m.sessions[id]
	m.mu.Unlock()
	if e != nil && e.adapter.Offer(text) {
		return
	}
	m.cfg.Reply(id, msgNoSession)
}

// Start launches a session worker for id unless a live one exists.
func (m *Manager) Start(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	if e, ok := m.sessions[id]; ok && e.alive() {
		return false
	}
	e := &entry{
		sid:     uuid.NewString(),
		adapter: m.cfg.NewAdapter(id),
		done:    make(chan struct{}),
	}
	m.sessions[id] = e
	m.wg.Add(1)
	go m.work(id, e)
	log.Printf("[SESSION] %s started for %s", e.sid, id)
	return true
}

func (m *Manager) work(id string, e *entry) {
	defer func() {
		m.mu.Lock()
		if m.sessions[id] == e {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
		close(e.done)
		m.wg.Done()
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[SESSION] %s panic: %v", e.sid, r)
			e.adapter.Output("Error: internal failure")
			e.adapter.Output(msgTryAgain)
		}
	}()

	e.adapter.Output("FinTS Client")
	e.adapter.Output("Initializing TAN mechanisms...")
	err := m.cfg.Run(m.ctx, e.adapter)
	m.farewell(e, err)
}

func (m *Manager) farewell(e *entry, err error) {
	switch {
	case err == nil:
		log.Printf("[SESSION] %s ended normally", e.sid)
		e.adapter.Output(msgGoodbye)
	case errors.Is(err, ioadapter.ErrTimeout):
		log.Printf("[SESSION] %s timed out", e.sid)
		e.adapter.Output(msgTimedOut)
		e.adapter.Output(msgStartAgain)
	case errors.Is(err, ioadapter.ErrCancelled), errors.Is(err, context.Canceled):
		log.Printf("[SESSION] %s cancelled", e.sid)
	case m.cfg.IsConfigError != nil && m.cfg.IsConfigError(err):
		log.Printf("[SESSION] %s config error: %v", e.sid, err)
		e.adapter.Output(fmt.Sprintf("Configuration error: %v", err))
	default:
		log.Printf("[SESSION] %s error: %v", e.sid, err)
		e.adapter.Output(fmt.Sprintf("Error: %v", err))
		e.adapter.Output(msgTryAgain)
	}
}

// Active counts live session workers.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.sessions {
		if e.alive() {
			n++
		}
	}
	return n
}

// Shutdown cancels every session and waits for the workers to return. No
// new sessions start afterwards.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	m.cancel()
	for _, e := range entries {
		e.adapter.Cancel()
	}
	m.wg.Wait()
}
