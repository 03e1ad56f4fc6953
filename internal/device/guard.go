package device

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// DefaultSignals are the signals that tear down an active session before
// the process exits.
var DefaultSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}

// guard closes the active session when the process receives a terminating
// signal, then re-delivers the signal so the process still exits the way it
// would have without the guard.
type guard struct {
	log     *slog.Logger
	signals []os.Signal
	reraise func(os.Signal)

	mu   sync.Mutex
	ch   chan os.Signal
	stop chan struct{}
}

func (g *guard) arm(onSignal func(os.Signal)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch != nil {
		return
	}

	ch := make(chan os.Signal, 1)
	stop := make(chan struct{})
	signal.Notify(ch, g.signals...)
	g.ch, g.stop = ch, stop

	go func() {
		select {
		case sig := <-ch:
			signal.Stop(ch)
			g.mu.Lock()
			if g.ch == ch {
				g.ch, g.stop = nil, nil
			}
			g.mu.Unlock()
			g.log.Warn("signal received, closing transport", "signal", sig.String())
			onSignal(sig)
			g.reraise(sig)
		case <-stop:
		}
	}()
}

func (g *guard) disarm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch == nil {
		return
	}
	signal.Stop(g.ch)
	close(g.stop)
	g.ch, g.stop = nil, nil
}

// reraise restores the default disposition of sig and sends it to this
// process.
func reraise(sig os.Signal) {
	s, ok := sig.(syscall.Signal)
	if !ok {
		os.Exit(1)
	}
	signal.Reset(s)
	_ = syscall.Kill(os.Getpid(), s)
}
