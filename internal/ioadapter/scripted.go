package ioadapter

import "sync"

// Scripted replays canned answers and records everything said to it. When the
// script runs out it behaves like a human who stopped replying.
type Scripted struct {
	mu      sync.Mutex
	answers []string
	prompts []string
	outputs []string
}

func NewScripted(answers ...string) *Scripted {
	return &Scripted{answers: answers}
}

func (s *Scripted) Output(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs = append(s.outputs, message)
}

func (s *Scripted) Input(prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if len(s.answers) == 0 {
		return "", &TimeoutError{}
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

func (s *Scripted) GetValidChoice(prompt string, maxIndex int, def Default) (int, error) {
	return ValidChoice(s, prompt, maxIndex, def)
}

func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

func (s *Scripted) Outputs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.outputs...)
}

// Remaining is the number of unused answers.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}
