//go:build windows

package launcher

import (
	"os/exec"
	"strconv"
	"time"
)

// terminate kills the child and its descendants via taskkill. Windows has
// no SIGTERM equivalent a console-less process would see, so tree kill is
// the graceful option here.
func (h *Handle) terminate(grace time.Duration) error {
	pid := h.PID()
	if pid == 0 || h.HasExited() {
		return nil
	}
	// #nosec G204
	kill := exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T", "/F")
	if err := kill.Run(); err != nil {
		if h.HasExited() {
			return nil
		}
		// fall back to terminating just the direct child
		_ = h.cmd.Process.Kill()
	}
	select {
	case <-h.waitDone:
	case <-time.After(grace):
	}
	return nil
}
