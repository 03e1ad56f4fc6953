package logwatch

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"strings"
)

// Watcher consumes a diagnostic stream line by line, forwards every line to
// the logger, and pushes an Event onto its queue for each line that matches
// a marker. It runs until the stream is exhausted and then pushes
// EventEndOfStream exactly once.
type Watcher struct {
	log     *slog.Logger
	src     io.Reader
	markers Markers
	queue   *Queue
	observe func(Event)
	done    chan struct{}
}

// New creates a Watcher. observe, if non-nil, is called from the watcher
// goroutine for every event after it has been queued.
func New(log *slog.Logger, src io.Reader, markers Markers, queue *Queue, observe func(Event)) *Watcher {
	return &Watcher{
		log:     log,
		src:     src,
		markers: markers,
		queue:   queue,
		observe: observe,
		done:    make(chan struct{}),
	}
}

// Start launches the watcher goroutine and returns once it is running.
func (w *Watcher) Start() {
	running := make(chan struct{})
	go w.run(running)
	<-running
}

// Done is closed after EventEndOfStream has been pushed.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) run(running chan<- struct{}) {
	defer close(w.done)
	close(running)

	reader := bufio.NewReader(w.src)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			w.handle(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				w.log.Debug("diagnostic stream read failed", "error", err)
			}
			break
		}
	}
	w.emit(EventEndOfStream)
}

func (w *Watcher) handle(raw string) {
	// Line endings and undecodable bytes are dropped; slog needs valid text.
	line := strings.ToValidUTF8(strings.TrimRight(raw, "\r\n"), "")
	w.log.Info(line, "source", "simulator")

	if ev, ok := w.markers.Match(line); ok {
		w.emit(ev)
	}
}

func (w *Watcher) emit(ev Event) {
	w.queue.Push(ev)
	w.log.Debug("lifecycle event", "event", ev.String())
	if w.observe != nil {
		w.observe(ev)
	}
}
