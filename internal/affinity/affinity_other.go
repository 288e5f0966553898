//go:build !linux

package affinity

import "fmt"

// Pin is a no-op stand-in on platforms without SchedSetaffinity; core
// pinning is a best-effort performance aid, never a correctness
// requirement, so callers should log and continue on error rather than
// abort.
func Pin(core int) error {
	return fmt.Errorf("affinity: core pinning is not supported on this platform")
}
