// Package procutil starts simulator processes in their own process group and
// tears the whole group down again.
package procutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// StartInGroup starts cmd as the leader of a new process group so that the
// child and everything it spawns can be signalled together.
func StartInGroup(cmd *exec.Cmd) error {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	configure(cmd.SysProcAttr)
	return cmd.Start()
}

// Terminate stops a process started with StartInGroup. It sends SIGINT,
// waits up to grace for exited to close, force-kills the process, kills its
// process group and finally kills any descendant that moved to another group
// in the meantime. All steps tolerate a process that is already gone.
func Terminate(log *slog.Logger, proc *os.Process, exited <-chan struct{}, grace time.Duration) error {
	if proc == nil {
		return nil
	}
	pid := proc.Pid
	escaped := descendants(pid)

	if err := signalProcess(proc, os.Interrupt); err != nil {
		log.Warn("interrupt simulator failed", "pid", pid, "error", err)
	}

	timer := time.NewTimer(grace)
	select {
	case <-exited:
		timer.Stop()
	case <-timer.C:
		log.Debug("simulator did not exit within grace period", "pid", pid, "grace", grace)
	}

	var errs []error
	if err := signalProcess(proc, os.Kill); err != nil {
		errs = append(errs, fmt.Errorf("kill pid %d: %w", pid, err))
	}
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		errs = append(errs, fmt.Errorf("kill process group %d: %w", pid, err))
	}
	for _, p := range escaped {
		if running, _ := p.IsRunning(); !running {
			continue
		}
		if err := p.Kill(); err != nil && !errors.Is(err, unix.ESRCH) {
			log.Debug("kill descendant failed", "pid", p.Pid, "error", err)
		}
	}
	return errors.Join(errs...)
}

// signalProcess sends sig and treats an already finished process as success.
func signalProcess(proc *os.Process, sig os.Signal) error {
	err := proc.Signal(sig)
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// descendants snapshots the process tree below pid. Lookup failures yield a
// partial or empty list.
func descendants(pid int) []*process.Process {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	var out []*process.Process
	queue := []*process.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		children, err := p.Children()
		if err != nil {
			continue
		}
		out = append(out, children...)
		queue = append(queue, children...)
	}
	return out
}
