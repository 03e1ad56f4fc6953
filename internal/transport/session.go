package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/sebastianm/vplink/internal/procutil"
	"github.com/sebastianm/vplink/internal/transport/fdio"
	"github.com/sebastianm/vplink/internal/transport/logwatch"
)

// reapTimeout bounds how long Close waits for a killed child to be reaped.
const reapTimeout = 5 * time.Second

// Session is one simulator process and the byte channel to it. It is used
// by a single owner; the mutex serialises Open, Read, Write and Close so a
// Close from another goroutine never races descriptor reuse.
type Session struct {
	id   string
	opts Options
	log  *slog.Logger

	state atomic.Int32

	mu         sync.Mutex
	ep         endpoint
	cmd        *exec.Cmd
	exited     chan struct{}
	diag       io.ReadCloser
	watcher    *logwatch.Watcher
	queue      *logwatch.Queue
	readFD     int
	writeFD    int
	scratchDir string
	setupEvent logwatch.Event
}

var _ Transport = (*Session)(nil)

// NewSession creates an unopened session.
func NewSession(opts Options) *Session {
	opts = opts.WithDefaults()
	id := uuid.NewString()
	return &Session{
		id:      id,
		opts:    opts,
		log:     opts.Logger.With("component", "transport", "session", id, "variant", string(opts.Variant)),
		readFD:  -1,
		writeFD: -1,
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Variant returns the endpoint variant of the session.
func (s *Session) Variant() Variant { return s.opts.Variant }

// Command returns the simulator command line.
func (s *Session) Command() []string {
	return append([]string{s.opts.Command}, s.opts.Args...)
}

// State returns the current state without waiting for an operation in
// progress.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// SetupEvent returns the lifecycle event that ended the readiness wait, or
// zero if the variant does not wait.
func (s *Session) SetupEvent() logwatch.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setupEvent
}

// Open launches the simulator and blocks until the channel is usable. The
// wait for the simulator's FIFOs and readiness marker is bounded by the
// configured setup timeout; cancelling ctx aborts it as well. On any failure
// after launch the session is torn down and left closed.
func (s *Session) Open(ctx context.Context) (Timeouts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.State(); st != StateUnopened {
		return Timeouts{}, fmt.Errorf("session is %s: %w", st, ErrAlreadyOpen)
	}
	if err := s.opts.validate(); err != nil {
		return Timeouts{}, err
	}

	setupCtx, cancel := s.setupContext(ctx)
	defer cancel()

	s.setState(StateStarting)
	if err := s.start(); err != nil {
		s.teardownLocked()
		return Timeouts{}, err
	}
	if err := s.establish(ctx, setupCtx); err != nil {
		s.log.Error("simulator setup failed", "error", err)
		s.teardownLocked()
		return Timeouts{}, err
	}

	s.setState(StateReady)
	s.log.Info("transport ready", "pid", s.cmd.Process.Pid, "scratch_dir", s.scratchDir)
	return s.opts.Timeouts, nil
}

func (s *Session) setupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline := fdio.Deadline(s.opts.SetupTimeout)
	if deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline)
}

// start creates the scratch directory, spawns the simulator in its own
// process group and starts the log watcher on its diagnostic stream.
func (s *Session) start() error {
	dir, err := os.MkdirTemp(s.opts.ScratchRoot, "vplink-"+s.id[:8]+"-")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	s.scratchDir = dir

	cmd := exec.Command(s.opts.Command, s.opts.Args...)
	cmd.Dir = s.opts.Dir
	if cmd.Dir == "" {
		cmd.Dir = dir
	}
	env := maps.Clone(s.opts.Env)
	if env == nil {
		env = make(map[string]string)
	}
	if s.opts.ToolchainRoot != "" {
		env[ToolchainEnv] = s.opts.ToolchainRoot
	}

	s.ep = newEndpoint(s.opts)
	diag, err := s.ep.wire(cmd, dir, env)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLaunchFailure, err)
	}
	s.diag = diag
	cmd.Env = procutil.BuildEnv(env)

	if err := procutil.StartInGroup(cmd); err != nil {
		return fmt.Errorf("start simulator %q: %w: %w", s.opts.Command, ErrLaunchFailure, err)
	}
	s.cmd = cmd
	s.ep.started()
	s.log.Info("simulator started", "pid", cmd.Process.Pid, "command", cmd.Args)

	s.exited = make(chan struct{})
	go s.reap(cmd, s.exited)

	s.queue = logwatch.NewQueue()
	s.watcher = logwatch.New(s.log, diag, s.opts.Markers, s.queue, s.observe)
	s.watcher.Start()
	return nil
}

func (s *Session) reap(cmd *exec.Cmd, exited chan<- struct{}) {
	err := cmd.Wait()
	s.log.Info("simulator exited", "pid", cmd.Process.Pid, "status", cmd.ProcessState.String(), "error", err)
	close(exited)
}

func (s *Session) observe(ev logwatch.Event) {
	if s.opts.Observer != nil {
		s.opts.Observer(s.id, ev)
	}
}

// establish obtains the data descriptors and, for variants that announce
// readiness, waits for the first start or end marker.
func (s *Session) establish(parent, setupCtx context.Context) error {
	readFD, writeFD, err := s.ep.acquire(setupCtx)
	if err != nil {
		return setupError(parent, err)
	}
	s.readFD, s.writeFD = readFD, writeFD

	for _, fd := range []int{readFD, writeFD} {
		if err := fdio.SetNonblock(fd); err != nil {
			return err
		}
	}

	if !s.ep.announcesReadiness() {
		return nil
	}
	ev, err := s.awaitReadiness(setupCtx)
	if err != nil {
		return setupError(parent, err)
	}
	s.setupEvent = ev
	return nil
}

// awaitReadiness consumes lifecycle events until the simulator reports that
// it started or ended. A failed build or a closed diagnostic stream is only
// logged unless FailOnBuildError is set; the wait then runs into the setup
// deadline.
func (s *Session) awaitReadiness(ctx context.Context) (logwatch.Event, error) {
	for {
		ev, err := s.queue.Pop(ctx)
		if err != nil {
			return 0, err
		}
		switch ev {
		case logwatch.EventStarted, logwatch.EventEnded:
			s.log.Debug("simulator announced readiness", "event", ev.String())
			return ev, nil
		case logwatch.EventBuildFailed:
			if s.opts.FailOnBuildError {
				return 0, ErrBuildFailed
			}
			s.log.Warn("simulator reported a failed recipe before starting")
		case logwatch.EventEndOfStream:
			if s.opts.FailOnBuildError {
				return 0, fmt.Errorf("simulator output closed before start marker: %w", ErrLaunchFailure)
			}
			s.log.Warn("simulator output closed before start marker")
		}
	}
}

// setupError maps expiry of the setup deadline to ErrSetupTimeout while
// passing through cancellation of the caller's own context.
func setupError(parent context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return ErrSetupTimeout
	}
	return err
}

// WaitForEvent blocks until one of want is dequeued from the session's
// lifecycle queue. Other events are discarded.
func (s *Session) WaitForEvent(ctx context.Context, want ...logwatch.Event) (logwatch.Event, error) {
	if s.State() != StateReady {
		return 0, ErrNotOpen
	}
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if s.State() != StateReady || q == nil {
		return 0, ErrNotOpen
	}

	for {
		ev, err := q.Pop(ctx)
		if err != nil {
			return 0, err
		}
		if slices.Contains(want, ev) {
			return ev, nil
		}
		s.log.Debug("skipping lifecycle event", "event", ev.String())
	}
}

// Read performs one readiness wait and one read of at most n bytes. It may
// return fewer bytes than requested.
func (s *Session) Read(n int, timeout time.Duration) ([]byte, error) {
	// Open holds mu for the whole setup wait; fail fast instead of queueing
	// behind it.
	if s.State() != StateReady {
		return nil, ErrNotOpen
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateReady {
		return nil, ErrNotOpen
	}
	return fdio.Read(s.readFD, n, fdio.Deadline(timeout))
}

// Write writes all of data before the deadline derived from timeout, or
// fails. It returns the number of bytes accepted.
func (s *Session) Write(data []byte, timeout time.Duration) (int, error) {
	if s.State() != StateReady {
		return 0, ErrNotOpen
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateReady {
		return 0, ErrNotOpen
	}

	deadline := fdio.Deadline(timeout)
	written := 0
	for written < len(data) {
		n, err := fdio.Write(s.writeFD, data[written:], deadline)
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, ErrChannelClosed
		}
		written += n
	}
	return written, nil
}

// Close stops the simulator and releases every resource of the session.
// Calling it on an unopened or closed session does nothing. Teardown errors
// are logged, never returned.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateUnopened, StateClosed:
		return nil
	}
	s.teardownLocked()
	s.log.Info("transport closed")
	return nil
}

// teardownLocked releases resources in a fixed order: write end, simulator
// process group, read end, diagnostic stream, scratch directory.
func (s *Session) teardownLocked() {
	if s.writeFD >= 0 {
		if err := unix.Close(s.writeFD); err != nil {
			s.log.Debug("close write endpoint", "error", err)
		}
		s.writeFD = -1
	}

	if s.cmd != nil {
		if err := procutil.Terminate(s.log, s.cmd.Process, s.exited, s.opts.GracePeriod); err != nil {
			s.log.Debug("terminate simulator", "error", err)
		}
		select {
		case <-s.exited:
		case <-time.After(reapTimeout):
			s.log.Warn("simulator not reaped after kill", "pid", s.cmd.Process.Pid)
		}
		s.cmd = nil
	}

	if s.readFD >= 0 {
		if err := unix.Close(s.readFD); err != nil {
			s.log.Debug("close read endpoint", "error", err)
		}
		s.readFD = -1
	}

	if s.ep != nil {
		s.ep.release()
	}
	if s.diag != nil {
		_ = s.diag.Close()
		s.diag = nil
	}
	if s.watcher != nil {
		<-s.watcher.Done()
		s.watcher = nil
	}

	if s.scratchDir != "" {
		if err := os.RemoveAll(s.scratchDir); err != nil {
			s.log.Warn("remove scratch dir", "dir", s.scratchDir, "error", err)
		}
		s.scratchDir = ""
	}
	s.setState(StateClosed)
}
