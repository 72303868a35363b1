//go:build !windows

package launcher

import (
	"syscall"
	"time"
)

// terminate signals the child's process group with SIGTERM, waits up to
// grace for the monitor to reap it, then escalates to SIGKILL. The negative
// PID addresses the whole group so forked workers go down with the parent.
func (h *Handle) terminate(grace time.Duration) error {
	pid := h.PID()
	if pid == 0 || h.HasExited() {
		return nil
	}
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-h.waitDone:
		return nil
	case <-time.After(grace):
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	select {
	case <-h.waitDone:
	case <-time.After(2 * time.Second):
		// the monitor goroutine owns the reap; nothing further we can do
	}
	return nil
}
