package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"fints-bot/internal/fints"
)

const stopTimeout = 5 * time.Second

// process is a helper child talking on stdin/stdout. Its stderr goes to ours.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func startProcess(command string) (*process, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, errors.New("FINTS_BRIDGE_CMD is empty")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start bridge %q: %w", argv[0], err)
	}
	return &process{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (p *process) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *process) Write(b []byte) (int, error) { return p.stdin.Write(b) }

// Close lets the helper exit on EOF and kills it if it lingers.
func (p *process) Close() error {
	_ = p.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(stopTimeout):
		_ = p.cmd.Process.Kill()
		return <-done
	}
}

// Dialer starts one helper process per dial.
func Dialer(command string) fints.Dialer {
	return func(ctx context.Context, p fints.Params, state []byte) (fints.Client, error) {
		proc, err := startProcess(command)
		if err != nil {
			return nil, err
		}
		c := New(proc)
		if err := c.Connect(ctx, p, state); err != nil {
			_ = c.Shutdown()
			return nil, fmt.Errorf("connect bridge: %w", err)
		}
		return &owned{Client: c}, nil
	}
}

// owned stops the helper process together with the banking dialog.
type owned struct {
	*Client
}

func (o *owned) Close(ctx context.Context) error {
	err := o.Client.Close(ctx)
	if serr := o.Client.Shutdown(); err == nil {
		err = serr
	}
	return err
}
