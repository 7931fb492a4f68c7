//go:build !unix

package state

import "time"

// processCPUTime is unavailable here; CPU load is reported as zero.
func processCPUTime() time.Duration {
	return 0
}
