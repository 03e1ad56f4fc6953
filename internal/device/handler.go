// Package device holds the single active transport session of a process and
// guarantees it is torn down on every exit path.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sebastianm/vplink/internal/journal"
	"github.com/sebastianm/vplink/internal/metrics"
	"github.com/sebastianm/vplink/internal/transport"
	"github.com/sebastianm/vplink/internal/transport/logwatch"
)

// Status is a snapshot of the handler's slot.
type Status struct {
	SessionID string
	State     transport.State
	LastError string
}

// FlashOptions control Flash.
type FlashOptions struct {
	// Skip makes Flash a no-op; the simulator is then launched by
	// OpenTransport instead.
	Skip bool
	// Timeout bounds the wait for the simulation to end. Zero waits until
	// ctx is done.
	Timeout time.Duration
}

// Deps holds the dependencies of a Handler.
type Deps struct {
	Log     *slog.Logger
	Options transport.Options
	Journal *journal.Journal
	Metrics *metrics.Metrics
	// Signals trigger the teardown guard. Defaults to DefaultSignals.
	Signals []os.Signal
	// Reraise delivers a signal again after the guard closed the session.
	// Defaults to restoring the default disposition and re-sending it.
	Reraise func(os.Signal)
}

// Handler owns at most one transport session.
type Handler struct {
	log     *slog.Logger
	opts    transport.Options
	journal *journal.Journal
	metrics *metrics.Metrics
	guard   *guard

	// opMu serialises open, close and flash.
	opMu sync.Mutex

	mu          sync.Mutex
	session     *transport.Session
	lastErr     string
	subscribers map[chan struct{}]struct{}
}

// NewHandler creates a Handler with an empty slot.
func NewHandler(d Deps) *Handler {
	base := d.Log
	if base == nil {
		base = slog.Default()
	}
	log := base.With("component", "device")

	j := d.Journal
	if j == nil {
		j = journal.New(log, journal.NopStore{})
	}
	signals := d.Signals
	if len(signals) == 0 {
		signals = DefaultSignals
	}
	re := d.Reraise
	if re == nil {
		re = reraise
	}

	h := &Handler{
		log:         log,
		opts:        d.Options,
		journal:     j,
		metrics:     d.Metrics,
		guard:       &guard{log: log, signals: signals, reraise: re},
		subscribers: make(map[chan struct{}]struct{}),
	}
	if h.opts.Logger == nil {
		h.opts.Logger = base
	}
	h.opts = h.opts.WithDefaults()
	h.opts.Observer = h.observe
	return h
}

// OpenTransport closes any active session and opens a new one.
func (h *Handler) OpenTransport(ctx context.Context) (transport.Timeouts, error) {
	h.opMu.Lock()
	defer h.opMu.Unlock()

	_, timeouts, err := h.openLocked(ctx)
	return timeouts, err
}

func (h *Handler) openLocked(ctx context.Context) (*transport.Session, transport.Timeouts, error) {
	h.closeLocked()

	sess := transport.NewSession(h.opts)
	h.mu.Lock()
	h.session = sess
	h.lastErr = ""
	h.notifyLocked()
	h.mu.Unlock()

	jctx := context.WithoutCancel(ctx)
	h.journal.Opened(jctx, sess.ID(), string(sess.Variant()), strings.Join(sess.Command(), " "))

	timeouts, err := sess.Open(ctx)
	if err != nil {
		h.metrics.SetupFailed(failureReason(err))
		h.journal.Finished(jctx, sess.ID(), "failed", err)

		h.mu.Lock()
		if h.session == sess {
			h.session = nil
		}
		h.lastErr = err.Error()
		h.notifyLocked()
		h.mu.Unlock()
		return nil, transport.Timeouts{}, fmt.Errorf("opening transport: %w", err)
	}

	h.metrics.SessionOpened()
	h.journal.Event(jctx, sess.ID(), transport.StateReady.String())
	h.guard.arm(h.closeOnSignal)

	h.mu.Lock()
	h.notifyLocked()
	h.mu.Unlock()
	return sess, timeouts, nil
}

// CloseTransport tears down the active session, if any, and clears the
// slot. It never fails.
func (h *Handler) CloseTransport() error {
	h.opMu.Lock()
	defer h.opMu.Unlock()

	h.closeLocked()
	return nil
}

// Close releases everything the handler holds. Deferred by callers so that
// normal exit paths stop the simulator too.
func (h *Handler) Close() error {
	return h.CloseTransport()
}

func (h *Handler) closeLocked() {
	h.guard.disarm()

	h.mu.Lock()
	sess := h.session
	h.session = nil
	h.mu.Unlock()

	h.finish(sess)
}

// closeOnSignal runs on the guard goroutine. It does not take opMu so that
// a blocked flash cannot delay it; the session's own lock keeps it from
// racing in-flight I/O.
func (h *Handler) closeOnSignal(os.Signal) {
	h.mu.Lock()
	sess := h.session
	h.session = nil
	h.mu.Unlock()

	h.finish(sess)
}

func (h *Handler) finish(sess *transport.Session) {
	if sess == nil {
		return
	}
	wasReady := sess.State() == transport.StateReady
	_ = sess.Close()
	if wasReady {
		h.metrics.SessionClosed()
		h.journal.Finished(context.Background(), sess.ID(), transport.StateClosed.String(), nil)
	}

	h.mu.Lock()
	h.notifyLocked()
	h.mu.Unlock()
}

// ReadTransport reads from the active session.
func (h *Handler) ReadTransport(n int, timeout time.Duration) ([]byte, error) {
	sess := h.current()
	if sess == nil {
		return nil, transport.ErrNotOpen
	}

	data, err := sess.Read(n, timeout)
	switch {
	case err == nil:
		h.metrics.BytesRead(len(data))
	case errors.Is(err, transport.ErrIOTimeout):
		h.metrics.IOTimeout("read")
	}
	return data, err
}

// WriteTransport writes to the active session.
func (h *Handler) WriteTransport(data []byte, timeout time.Duration) (int, error) {
	sess := h.current()
	if sess == nil {
		return 0, transport.ErrNotOpen
	}

	n, err := sess.Write(data, timeout)
	h.metrics.BytesWritten(n)
	if errors.Is(err, transport.ErrIOTimeout) {
		h.metrics.IOTimeout("write")
	}
	return n, err
}

// Flash runs the simulator once from start to the end marker and closes it
// again. With opts.Skip set it does nothing.
func (h *Handler) Flash(ctx context.Context, opts FlashOptions) (transport.Timeouts, error) {
	if opts.Skip {
		h.log.Info("flash skipped, simulator starts with the transport")
		return h.opts.Timeouts, nil
	}

	h.opMu.Lock()
	defer h.opMu.Unlock()

	sess, timeouts, err := h.openLocked(ctx)
	if err != nil {
		return transport.Timeouts{}, err
	}
	defer h.closeLocked()

	if sess.SetupEvent() == logwatch.EventEnded {
		return timeouts, nil
	}

	waitCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	ev, err := sess.WaitForEvent(waitCtx, logwatch.EventEnded, logwatch.EventEndOfStream)
	switch {
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return transport.Timeouts{}, fmt.Errorf("simulation did not end within %s: %w", opts.Timeout, transport.ErrSetupTimeout)
	case err != nil:
		return transport.Timeouts{}, fmt.Errorf("waiting for simulation end: %w", err)
	case ev == logwatch.EventEndOfStream:
		return transport.Timeouts{}, fmt.Errorf("simulator exited before the end marker: %w", transport.ErrChannelClosed)
	}
	h.log.Info("simulation finished", "session", sess.ID())
	return timeouts, nil
}

// Status returns the current slot state without waiting for an open in
// progress.
func (h *Handler) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Status{State: transport.StateUnopened, LastError: h.lastErr}
	if h.session != nil {
		st.SessionID = h.session.ID()
		st.State = h.session.State()
	}
	return st
}

// Subscribe returns a channel that receives a notification on every status
// change. The caller must eventually call Unsubscribe.
func (h *Handler) Subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel.
func (h *Handler) Unsubscribe(ch chan struct{}) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
}

// notifyLocked wakes subscribers without blocking. Must be called with h.mu
// held.
func (h *Handler) notifyLocked() {
	for ch := range h.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (h *Handler) current() *transport.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// observe runs on the log watcher goroutine of a session and must not take
// handler locks: Close waits for the watcher to finish.
func (h *Handler) observe(sessionID string, ev logwatch.Event) {
	h.metrics.LifecycleEvent(ev.String())
	h.journal.Event(context.Background(), sessionID, ev.String())
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, transport.ErrSetupTimeout):
		return "setup_timeout"
	case errors.Is(err, transport.ErrBuildFailed):
		return "build_failed"
	case errors.Is(err, transport.ErrLaunchFailure):
		return "launch_failure"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
