package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"
)

var errFIFOsMissing = errors.New("fifos not created yet")

// fifoEndpoint reaches the simulator through two FIFOs it creates in the
// scratch directory during its own startup. Its stdout and stderr together
// form the diagnostic stream.
type fifoEndpoint struct {
	names    FIFONames
	interval time.Duration
	log      *slog.Logger

	dir   string
	diagW *os.File
}

func (e *fifoEndpoint) wire(cmd *exec.Cmd, scratchDir string, env map[string]string) (io.ReadCloser, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create diagnostic pipe: %w", err)
	}
	e.dir = scratchDir
	e.diagW = w
	env[PipeDirEnv] = scratchDir
	cmd.Stdout = w
	cmd.Stderr = w
	return r, nil
}

func (e *fifoEndpoint) started() {
	e.closeDiagWriter()
}

// acquire polls until both FIFOs exist, then opens them. Both are opened
// read-write even though each carries data one way: a FIFO without a writer
// always polls readable, which would defeat read timeouts.
func (e *fifoEndpoint) acquire(ctx context.Context) (int, int, error) {
	inPath := filepath.Join(e.dir, e.names.In)
	outPath := filepath.Join(e.dir, e.names.Out)

	b := backoff.WithContext(backoff.NewConstantBackOff(e.interval), ctx)
	err := backoff.RetryNotify(func() error {
		if exists(inPath) && exists(outPath) {
			return nil
		}
		return errFIFOsMissing
	}, b, func(_ error, wait time.Duration) {
		e.log.Debug("waiting for simulator fifos", "dir", e.dir, "retry_in", wait)
	})
	if err != nil {
		return -1, -1, err
	}

	readFD, err := openFIFO(outPath)
	if err != nil {
		return -1, -1, err
	}
	writeFD, err := openFIFO(inPath)
	if err != nil {
		_ = unix.Close(readFD)
		return -1, -1, err
	}
	return readFD, writeFD, nil
}

func (e *fifoEndpoint) release() {
	e.closeDiagWriter()
}

func (e *fifoEndpoint) announcesReadiness() bool { return true }

func (e *fifoEndpoint) closeDiagWriter() {
	if e.diagW != nil {
		_ = e.diagW.Close()
		e.diagW = nil
	}
}

func openFIFO(path string) (int, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("open fifo %s: %w", path, err)
	}
	return fd, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
