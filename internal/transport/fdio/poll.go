// Package fdio performs deadline-bounded I/O on raw non-blocking file
// descriptors. Every call derives nothing from wall-clock time except the
// absolute deadline it is given, so repeated calls against the same deadline
// shrink the remaining budget monotonically.
package fdio

import (
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrIOTimeout indicates nothing became ready before the deadline.
	ErrIOTimeout = errors.New("fdio: i/o timeout")

	// ErrChannelClosed indicates the peer closed its end of the channel.
	ErrChannelClosed = errors.New("fdio: channel closed")
)

// Ready lists the descriptors that were ready when AwaitReady returned.
// A descriptor with an exceptional condition is reported as ready.
type Ready struct {
	Read  []int
	Write []int
}

// Deadline converts a relative timeout into an absolute deadline. A negative
// timeout yields the zero time, which means wait indefinitely.
func Deadline(timeout time.Duration) time.Time {
	if timeout < 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// AwaitReady blocks until at least one descriptor in readFDs is readable or
// one in writeFDs is writable, or until deadline passes. All descriptors are
// also watched for exceptional conditions. A zero deadline waits forever.
func AwaitReady(readFDs, writeFDs []int, deadline time.Time) (Ready, error) {
	if len(readFDs)+len(writeFDs) == 0 {
		return Ready{}, errors.New("fdio: no descriptors to wait on")
	}

	fds := make([]unix.PollFd, 0, len(readFDs)+len(writeFDs))
	for _, fd := range readFDs {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN | unix.POLLPRI})
	}
	for _, fd := range writeFDs {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLOUT | unix.POLLPRI})
	}

	for {
		n, err := unix.Poll(fds, pollTimeout(deadline))
		if err != nil && !errors.Is(err, unix.EINTR) {
			return Ready{}, fmt.Errorf("poll: %w", err)
		}
		if n > 0 {
			return collect(fds, len(readFDs)), nil
		}
		if expired(deadline) {
			return Ready{}, ErrIOTimeout
		}
		// EINTR, or poll rounded the timeout down and woke early.
	}
}

func collect(fds []unix.PollFd, numRead int) Ready {
	var ready Ready
	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		if i < numRead {
			ready.Read = append(ready.Read, int(pfd.Fd))
		} else {
			ready.Write = append(ready.Write, int(pfd.Fd))
		}
	}
	return ready
}

func expired(deadline time.Time) bool {
	return !deadline.IsZero() && !time.Now().Before(deadline)
}

// pollTimeout returns the poll(2) timeout in milliseconds, rounded up so a
// sub-millisecond remainder still waits.
func pollTimeout(deadline time.Time) int {
	if deadline.IsZero() {
		return -1
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return 0
	}
	ms := (remaining + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}
