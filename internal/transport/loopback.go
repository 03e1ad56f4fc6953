package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// loopbackEndpoint talks to a directly spawned simulator over its stdin and
// stdout. Stderr is the diagnostic stream. There is no readiness marker to
// wait for.
type loopbackEndpoint struct {
	childIn, childOut *os.File
	diagW             *os.File
	// Parent ends. Set to -1 once handed to the session.
	readFD, writeFD int
}

func (e *loopbackEndpoint) wire(cmd *exec.Cmd, _ string, _ map[string]string) (io.ReadCloser, error) {
	e.readFD, e.writeFD = -1, -1

	var toChild, fromChild [2]int
	if err := unix.Pipe2(toChild[:], unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	if err := unix.Pipe2(fromChild[:], unix.O_CLOEXEC); err != nil {
		_ = unix.Close(toChild[0])
		_ = unix.Close(toChild[1])
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	e.childIn = os.NewFile(uintptr(toChild[0]), "simulator-stdin")
	e.childOut = os.NewFile(uintptr(fromChild[1]), "simulator-stdout")
	e.writeFD = toChild[1]
	e.readFD = fromChild[0]

	diagR, diagW, err := os.Pipe()
	if err != nil {
		e.release()
		return nil, fmt.Errorf("create diagnostic pipe: %w", err)
	}
	e.diagW = diagW

	cmd.Stdin = e.childIn
	cmd.Stdout = e.childOut
	cmd.Stderr = diagW
	return diagR, nil
}

func (e *loopbackEndpoint) started() {
	e.closeChildEnds()
}

func (e *loopbackEndpoint) acquire(context.Context) (int, int, error) {
	readFD, writeFD := e.readFD, e.writeFD
	e.readFD, e.writeFD = -1, -1
	return readFD, writeFD, nil
}

func (e *loopbackEndpoint) release() {
	e.closeChildEnds()
	if e.readFD >= 0 {
		_ = unix.Close(e.readFD)
		e.readFD = -1
	}
	if e.writeFD >= 0 {
		_ = unix.Close(e.writeFD)
		e.writeFD = -1
	}
}

func (e *loopbackEndpoint) announcesReadiness() bool { return false }

func (e *loopbackEndpoint) closeChildEnds() {
	for _, f := range []**os.File{&e.childIn, &e.childOut, &e.diagW} {
		if *f != nil {
			_ = (*f).Close()
			*f = nil
		}
	}
}
