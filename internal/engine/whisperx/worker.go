package whisperx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"whisperd/internal/logging"
)

const maxLineBytes = 64 << 20

// launcher starts one worker session.
type launcher func(ctx context.Context, cfg Config, logger *slog.Logger) (*conn, error)

// conn is one live worker session: a request pipe, a stream of response
// lines, and the means to stop it.
type conn struct {
	stdin io.WriteCloser
	lines chan []byte
	done  chan struct{}
	quit  chan struct{}
	tail  *tailBuffer

	// signal delivers a signal to the worker's process group. Nil for in-process peers.
	signal   func(unix.Signal) error
	quitOnce sync.Once
}

// newConn wires reader goroutines over the worker's pipes. wait is called once
// both streams reach EOF and must return when the peer has exited.
func newConn(stdin io.WriteCloser, stdout, stderr io.Reader, wait func() error, logger *slog.Logger) *conn {
	c := &conn{
		stdin: stdin,
		lines: make(chan []byte),
		done:  make(chan struct{}),
		quit:  make(chan struct{}),
		tail:  newTailBuffer(stderrTailLines),
	}

	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		defer close(c.lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			if len(strings.TrimSpace(string(line))) == 0 {
				continue
			}
			select {
			case c.lines <- line:
			case <-c.quit:
				_, _ = io.Copy(io.Discard, stdout)
				return
			}
		}
	}()
	if stderr != nil {
		readers.Add(1)
		go func() {
			defer readers.Done()
			scanner := bufio.NewScanner(stderr)
			scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
			for scanner.Scan() {
				line := strings.TrimRight(scanner.Text(), "\r")
				if strings.TrimSpace(line) == "" {
					continue
				}
				c.tail.Add(line)
				if logger != nil {
					logger.Debug("whisperx worker output", logging.String("line", line))
				}
			}
		}()
	}

	go func() {
		readers.Wait()
		if wait != nil {
			if err := wait(); err != nil && logger != nil {
				logger.Debug("whisperx worker exited", logging.Error(err))
			}
		}
		close(c.done)
	}()
	return c
}

// exited reports whether the session has ended.
func (c *conn) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// close asks the worker to exit by closing stdin and sending SIGTERM, then
// escalates to SIGKILL after grace.
func (c *conn) close(grace time.Duration) error {
	c.quitOnce.Do(func() { close(c.quit) })
	_ = c.stdin.Close()
	if c.exited() {
		return nil
	}
	if c.signal != nil {
		_ = c.signal(unix.SIGTERM)
	}
	select {
	case <-c.done:
		return nil
	case <-time.After(grace):
	}
	if c.signal != nil {
		_ = c.signal(unix.SIGKILL)
	}
	select {
	case <-c.done:
		return nil
	case <-time.After(grace):
		return errors.New("whisperx worker did not exit after SIGKILL")
	}
}

// startProcess launches the worker under uvx in its own process group.
func startProcess(_ context.Context, cfg Config, logger *slog.Logger) (*conn, error) {
	cmd := exec.Command(cfg.Command, buildArgs(cfg)...) //nolint:gosec
	cmd.Env = append(os.Environ(), buildEnv(cfg)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if cfg.CacheDir != "" {
		cmd.Dir = cfg.CacheDir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}

	pid := cmd.Process.Pid
	if logger != nil {
		logger.Debug("whisperx worker started",
			logging.String("command", cfg.Command),
			logging.Int("pid", pid),
			logging.Bool("cuda", cfg.CUDAEnabled),
		)
	}
	c := newConn(stdin, stdout, stderr, cmd.Wait, logger)
	c.signal = func(sig unix.Signal) error {
		return unix.Kill(-pid, sig)
	}
	return c, nil
}

// tailBuffer keeps the last N lines of worker stderr for error reports.
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if over := len(t.lines) - t.limit; over > 0 {
		t.lines = append(t.lines[:0], t.lines[over:]...)
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
