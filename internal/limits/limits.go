// Package limits bounds the gateway's own resource footprint: concurrent
// browser launches and the process-wide memory/file-descriptor ceiling a
// long-lived multi-session broker should not exceed. CDP commands carry
// no back-pressure of their own, so this package only gates the one
// operation that is not a CDP command at all, spawning a Chrome process,
// and sets OS rlimits once at startup.
package limits

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"syscall"
)

func setMemLimit(bytes uint64) error {
	limit := &syscall.Rlimit{Cur: bytes, Max: bytes}
	return syscall.Setrlimit(syscall.RLIMIT_AS, limit)
}

func setFileLimit(n uint64) error {
	limit := &syscall.Rlimit{Cur: n, Max: n}
	return syscall.Setrlimit(syscall.RLIMIT_NOFILE, limit)
}

// LaunchLimiter bounds how many browser launches
// may be in flight at once, so a burst of GetOrCreate calls for brand-new
// sessions doesn't fork a Chrome process per call simultaneously.
type LaunchLimiter struct {
	slots         chan struct{}
	activeLaunches int64
	verbose       bool
}

// NewLaunchLimiter creates a limiter permitting at most maxConcurrent
// launches in flight.
func NewLaunchLimiter(maxConcurrent int, verbose bool) *LaunchLimiter {
	l := &LaunchLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		verbose: verbose,
	}
	for i := 0; i < maxConcurrent; i++ {
		l.slots <- struct{}{}
	}
	return l
}

// Acquire blocks until a launch slot is free or ctx is done.
func (l *LaunchLimiter) Acquire(ctx context.Context) error {
	select {
	case <-l.slots:
		atomic.AddInt64(&l.activeLaunches, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a launch slot.
func (l *LaunchLimiter) Release() {
	atomic.AddInt64(&l.activeLaunches, -1)
	l.slots <- struct{}{}
}

// ActiveLaunches reports how many AdoptOrLaunch calls are currently in
// flight, for operator diagnostics.
func (l *LaunchLimiter) ActiveLaunches() int64 {
	return atomic.LoadInt64(&l.activeLaunches)
}

// CheckMemoryUsage reports an error once the process's allocated heap
// exceeds maxMemoryMB, and nudges the garbage collector before that point.
// Called by the Browser Supervisor before each launch, since a launch is
// the single largest allocation spike the gateway causes (a whole new
// Chrome process plus its transport buffers).
func CheckMemoryUsage(maxMemoryMB uint64) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	limitBytes := maxMemoryMB * 1024 * 1024
	if m.Alloc > limitBytes {
		return fmt.Errorf("memory limit exceeded: %d MB (max: %d MB)", m.Alloc/1024/1024, maxMemoryMB)
	}
	if m.HeapAlloc > limitBytes/2 {
		runtime.GC()
	}
	return nil
}

// SetSystemLimits sets OS-level rlimits for the gateway process itself:
// virtual memory, process count (bounds how many Chrome processes the
// isolated-mode pool can fork), and open file descriptors (every CDP
// transport and relay subprocess pipe holds one). Called once at startup.
func SetSystemLimits(maxMemoryMB uint64, maxProcesses uint64, maxOpenFiles uint64) error {
	if maxMemoryMB > 0 {
		if err := setMemLimit(maxMemoryMB * 1024 * 1024); err != nil {
			return fmt.Errorf("setting memory limit: %w", err)
		}
	}
	if err := setProcLimit(maxProcesses); err != nil {
		return fmt.Errorf("setting process limit: %w", err)
	}
	if maxOpenFiles > 0 {
		if err := setFileLimit(maxOpenFiles); err != nil {
			return fmt.Errorf("setting file descriptor limit: %w", err)
		}
	}
	return nil
}
