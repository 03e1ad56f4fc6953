package fdio

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// SetNonblock switches fd to non-blocking mode and verifies the flag stuck.
func SetNonblock(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("set nonblock on fd %d: %w", fd, err)
	}
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return fmt.Errorf("get flags of fd %d: %w", fd, err)
	}
	if flags&unix.O_NONBLOCK == 0 {
		return fmt.Errorf("fd %d is still blocking", fd)
	}
	return nil
}

// Read waits until fd is readable and performs a single read of at most n
// bytes. It may return fewer than n bytes. A zero-length read means the peer
// closed the channel and is reported as ErrChannelClosed.
//
// A wake-up that turns out to be spurious (EAGAIN) goes back to waiting on
// the same deadline.
func Read(fd, n int, deadline time.Time) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("fdio: invalid read size %d", n)
	}
	buf := make([]byte, n)
	for {
		if _, err := AwaitReady([]int{fd}, nil, deadline); err != nil {
			return nil, err
		}
		got, err := unix.Read(fd, buf)
		switch {
		case retryable(err):
			continue
		case err != nil:
			return nil, fmt.Errorf("read fd %d: %w", fd, err)
		case got == 0:
			return nil, ErrChannelClosed
		}
		return buf[:got], nil
	}
}

// Write waits until fd is writable and performs a single write of data. It
// returns how many bytes the kernel accepted, which may be fewer than
// len(data). A broken pipe is reported as zero bytes written with no error;
// callers treat zero progress as a closed channel.
func Write(fd int, data []byte, deadline time.Time) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	for {
		if _, err := AwaitReady(nil, []int{fd}, deadline); err != nil {
			return 0, err
		}
		n, err := unix.Write(fd, data)
		switch {
		case errors.Is(err, unix.EPIPE):
			return 0, nil
		case retryable(err):
			continue
		case err != nil:
			return 0, fmt.Errorf("write fd %d: %w", fd, err)
		}
		return n, nil
	}
}

func retryable(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)
}
