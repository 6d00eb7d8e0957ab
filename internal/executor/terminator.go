//go:build unix

package executor

import (
	"fmt"
	"syscall"

	"github.com/jkaninda/amri/internal/signals"
)

// Terminate delivers sig to the process group led by pid. A process that is
// already gone counts as success: the goal is "not running", and an ESRCH
// from the kernel means exactly that.
func Terminate(sig signals.Signal, pid int) error {
	if pid <= 1 {
		return fmt.Errorf("refusing to signal pid %d", pid)
	}
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return fmt.Errorf("resolving process group of pid %d: %w", pid, err)
	}
	if err := syscall.Kill(-pgid, sig.Sys()); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("signaling process group %d with %s: %w", pgid, sig.Name(), err)
	}
	return nil
}
