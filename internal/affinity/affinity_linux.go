//go:build linux

package affinity

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Pin binds the calling OS thread to the given CPU core. Callers should
// call runtime.LockOSThread() first so the affinity mask applies to the
// goroutine's actual OS thread for its lifetime.
func Pin(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: pin to core %d: %w", core, err)
	}
	return nil
}
