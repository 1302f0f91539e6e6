//go:build linux
// +build linux

package limits

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// setProcLimit caps the number of processes the gateway's user may own,
// bounding how many Chrome instances an isolated-mode pool can fork even
// if LaunchLimiter is misconfigured with a high ceiling.
func setProcLimit(maxProcesses uint64) error {
	if maxProcesses == 0 {
		return nil
	}
	procLimit := &unix.Rlimit{Cur: maxProcesses, Max: maxProcesses}
	if err := unix.Setrlimit(unix.RLIMIT_NPROC, procLimit); err != nil {
		return fmt.Errorf("setting process limit: %w", err)
	}
	return nil
}