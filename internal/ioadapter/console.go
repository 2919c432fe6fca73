package ioadapter

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Console reads lines from a terminal and blocks natively. No timeout.
type Console struct {
	in         *bufio.Reader
	out        io.Writer
	frameDelay time.Duration
}

func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out, frameDelay: 40 * time.Millisecond}
}

func (c *Console) Output(message string) {
	_, _ = fmt.Fprintln(c.out, message)
}

func (c *Console) Input(prompt string) (string, error) {
	if prompt != "" {
		_, _ = fmt.Fprint(c.out, prompt)
	}
	line, err := c.in.ReadString('\n')
	if err != nil {
		// last line without newline is still an answer
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", fmt.Errorf("read console input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *Console) GetValidChoice(prompt string, maxIndex int, def Default) (int, error) {
	return ValidChoice(c, prompt, maxIndex, def)
}

// RenderFlicker animates an HHD flicker code with block characters: one
// clock column followed by four data columns per half byte.
func (c *Console) RenderFlicker(code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return errors.New("empty flicker code")
	}
	frames := make([][5]bool, 0, 2*(len(code)+4))
	for _, r := range "0FFF" + code {
		v, ok := hexNibble(r)
		if !ok {
			return fmt.Errorf("invalid flicker code character %q", r)
		}
		// clock high with data, then clock low with the same data
		for _, clock := range []bool{true, false} {
			frames = append(frames, [5]bool{clock, v&1 != 0, v&2 != 0, v&4 != 0, v&8 != 0})
		}
	}
	const rounds = 10
	for i := 0; i < rounds; i++ {
		for _, f := range frames {
			var sb strings.Builder
			sb.WriteString("\r")
			for _, on := range f {
				if on {
					sb.WriteString("███ ")
				} else {
					sb.WriteString("    ")
				}
			}
			if _, err := fmt.Fprint(c.out, sb.String()); err != nil {
				return err
			}
			if c.frameDelay > 0 {
				time.Sleep(c.frameDelay)
			}
		}
	}
	_, err := fmt.Fprintln(c.out)
	return err
}

func hexNibble(r rune) (int, bool) {
	switch {
	case r >= '0' && r <= '9':
		return int(r - '0'), true
	case r >= 'A' && r <= 'F':
		return int(r-'A') + 10, true
	}
	return 0, false
}
