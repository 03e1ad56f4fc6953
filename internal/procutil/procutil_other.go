//go:build !linux

package procutil

import "syscall"

// configure is a no-op. There is no kernel-level mechanism like Linux's
// Pdeathsig here; a parent killed with SIGKILL leaves the simulator group
// orphaned.
func configure(*syscall.SysProcAttr) {}
