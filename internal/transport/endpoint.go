package transport

import (
	"context"
	"io"
	"os/exec"
)

// endpoint is the part of a session that differs between variants: how the
// child's streams are wired and how the data descriptors are obtained.
type endpoint interface {
	// wire attaches the child's standard streams before it starts and
	// returns the diagnostic stream for the log watcher. env may be
	// extended with variables the child needs.
	wire(cmd *exec.Cmd, scratchDir string, env map[string]string) (io.ReadCloser, error)
	// started releases the parent's copies of the child's stream ends.
	started()
	// acquire returns the read and write descriptors. Ownership passes to
	// the caller on success.
	acquire(ctx context.Context) (readFD, writeFD int, err error)
	// release closes anything wire or acquire left behind.
	release()
	// announcesReadiness reports whether the session must wait for a
	// start or end marker before it is ready.
	announcesReadiness() bool
}

func newEndpoint(opts Options) endpoint {
	if opts.Variant == VariantLoopback {
		return &loopbackEndpoint{}
	}
	return &fifoEndpoint{
		names:    opts.FIFO,
		interval: opts.PipePollInterval,
		log:      opts.Logger,
	}
}
