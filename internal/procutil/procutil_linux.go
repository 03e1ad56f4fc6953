//go:build linux

package procutil

import "syscall"

// configure makes the kernel kill the child when its parent dies.
//
// Pdeathsig fires when the thread that forked the child exits, not the whole
// process. The Go runtime only retires threads that were locked with
// runtime.LockOSThread when their goroutine returns, so callers must not
// start simulators from such goroutines. The teardown in Terminate remains
// the primary cleanup path.
func configure(attr *syscall.SysProcAttr) {
	attr.Pdeathsig = syscall.SIGKILL
}
