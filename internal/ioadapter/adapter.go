// Package ioadapter decouples the blocking banking flows from the surface the
// human sits at: a terminal, or a chat conversation fed by an async callback.
package ioadapter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds how long Input waits for a chat reply.
	DefaultTimeout = 300 * time.Second
	// SendTimeout bounds how long a bridged Output waits for the event loop.
	SendTimeout = 30 * time.Second
)

// ErrTimeout matches every *TimeoutError via errors.Is.
var ErrTimeout = errors.New("adapter timeout")

// TimeoutError is returned by Input when nobody answered in time.
type TimeoutError struct {
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no response received within %s", e.Elapsed.Round(time.Second))
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Adapter is the only thing the orchestrators know about the human.
type Adapter interface {
	Output(message string)
	Input(prompt string) (string, error)
	GetValidChoice(prompt string, maxIndex int, def Default) (int, error)
}

// FlickerRenderer is implemented by adapters that can draw an optical TAN
// (flicker) code. Rendering is best effort.
type FlickerRenderer interface {
	RenderFlicker(code string) error
}

// Default is the optional value GetValidChoice returns on empty input.
type Default struct {
	Value int
	Set   bool
}

// NoDefault makes empty input an invalid answer.
var NoDefault = Default{}

func WithDefault(v int) Default { return Default{Value: v, Set: true} }

// ValidChoice keeps asking until the answer is an integer in [0, maxIndex].
// Only adapter errors (timeouts, closed input) end the loop early.
func ValidChoice(a Adapter, prompt string, maxIndex int, def Default) (int, error) {
	for {
		raw, err := a.Input(prompt)
		if err != nil {
			return 0, err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" && def.Set {
			return def.Value, nil
		}
		choice, err := strconv.Atoi(raw)
		if err != nil {
			a.Output("Please enter a valid number")
			continue
		}
		if choice < 0 || choice > maxIndex {
			a.Output(fmt.Sprintf("Please enter a number between 0 and %d", maxIndex))
			continue
		}
		return choice, nil
	}
}
