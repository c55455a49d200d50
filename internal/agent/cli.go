package agent

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mood-agency/funny-sub004/internal/errkind"
	"github.com/mood-agency/funny-sub004/internal/sandbox"
)

// Scanner limits for agent stdout. A single stream-json line carries a
// whole tool result and can run to megabytes.
const (
	scanInitialBuf = 64 * 1024
	scanMaxBuf     = 4 * 1024 * 1024
)

// CLIOptions configure a claude subprocess session.
type CLIOptions struct {
	// Binary is the agent executable. Defaults to "claude".
	Binary string
	// Dir is the worktree the session runs in.
	Dir string
	// Model is passed through to the CLI when set.
	Model string
	// PermissionMode is passed through to the CLI when set.
	PermissionMode string
	// MaxTurns caps the conversation length when positive.
	MaxTurns int
	// ExtraArgs are appended verbatim before the prompt.
	ExtraArgs []string
	// Spawner decides whether the process runs directly or inside a
	// container. Defaults to running it directly.
	Spawner sandbox.Spawner
}

// CLISession drives a claude subprocess in stream-json mode, parsing
// each stdout line into a Message. Stderr is captured separately and
// attached to the exit error.
type CLISession struct {
	opts     CLIOptions
	cmd      *exec.Cmd
	messages chan Message
	stderr   bytes.Buffer
	readDone chan struct{}
	done     chan struct{}
	procErr  error
	stopOnce sync.Once
}

var _ Session = (*CLISession)(nil)

// NewCLISession prepares a subprocess session. Start must be called
// before Messages or Wait.
func NewCLISession(opts CLIOptions) *CLISession {
	if opts.Binary == "" {
		opts.Binary = "claude"
	}
	if opts.Spawner == nil {
		opts.Spawner = &sandbox.DirectSpawner{}
	}
	return &CLISession{
		opts:     opts,
		messages: make(chan Message, 64),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the subprocess with the prompt on its command line.
// Output parsing begins immediately; cancelling ctx kills the process.
func (s *CLISession) Start(ctx context.Context, prompt string) error {
	args := []string{"--output-format", "stream-json", "--verbose"}
	if s.opts.Model != "" {
		args = append(args, "--model", s.opts.Model)
	}
	if s.opts.PermissionMode != "" {
		args = append(args, "--permission-mode", s.opts.PermissionMode)
	}
	if s.opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(s.opts.MaxTurns))
	}
	args = append(args, s.opts.ExtraArgs...)
	args = append(args, "-p", prompt)

	cmd := s.opts.Spawner.Command(ctx, s.opts.Dir, s.opts.Binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errkind.E(errkind.AgentCrash, "agent.start", err)
	}
	cmd.Stderr = &s.stderr

	if err := cmd.Start(); err != nil {
		return errkind.E(errkind.AgentCrash, "agent.start",
			fmt.Errorf("spawn %s: %w", s.opts.Binary, err))
	}
	s.cmd = cmd
	log.Printf("[agent] started %s (pid %d) in %s via %s",
		s.opts.Binary, cmd.Process.Pid, s.opts.Dir, s.opts.Spawner.Describe())

	go s.readLoop(stdout)
	go func() {
		// Drain stdout fully before Wait closes the pipe.
		<-s.readDone
		s.procErr = s.wrapExit(cmd.Wait())
		close(s.done)
	}()
	return nil
}

// Messages returns the parsed output stream. Closed when the process
// stdout reaches EOF.
func (s *CLISession) Messages() <-chan Message { return s.messages }

// Wait blocks until the process has exited and the output stream has
// been fully parsed, then reports the process exit error.
func (s *CLISession) Wait() error {
	<-s.done
	return s.procErr
}

// Stop interrupts the process, then kills it if it has not exited
// within grace. Safe to call more than once; later calls are no-ops.
func (s *CLISession) Stop(grace time.Duration) error {
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	s.stopOnce.Do(func() {
		log.Printf("[agent] stopping %s (pid %d)", s.opts.Binary, s.cmd.Process.Pid)
		_ = s.cmd.Process.Signal(os.Interrupt)
		select {
		case <-s.done:
		case <-time.After(grace):
			log.Printf("[agent] grace period elapsed, killing pid %d", s.cmd.Process.Pid)
			_ = s.cmd.Process.Kill()
			<-s.done
		}
	})
	return nil
}

func (s *CLISession) readLoop(r io.Reader) {
	defer close(s.readDone)
	defer close(s.messages)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, scanInitialBuf), scanMaxBuf)
	for sc.Scan() {
		msg, err := ParseMessage(sc.Bytes())
		if err != nil {
			log.Printf("[agent] skipping unparseable output line: %v", err)
			continue
		}
		if msg == nil {
			continue
		}
		s.messages <- *msg
	}
	if err := sc.Err(); err != nil {
		log.Printf("[agent] stdout read failed: %v", err)
	}
}

// wrapExit attaches the captured stderr tail to a process exit error.
func (s *CLISession) wrapExit(err error) error {
	if err == nil {
		return nil
	}
	tail := stderrTail(s.stderr.String(), 5)
	if tail == "" {
		return fmt.Errorf("%s exited: %w", s.opts.Binary, err)
	}
	return fmt.Errorf("%s exited: %w: %s", s.opts.Binary, err, tail)
}

// stderrTail returns the last n non-empty stderr lines on one line.
func stderrTail(out string, n int) string {
	var kept []string
	for _, l := range strings.Split(out, "\n") {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, strings.TrimSpace(l))
		}
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return strings.Join(kept, " | ")
}
