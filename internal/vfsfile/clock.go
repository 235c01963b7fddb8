package vfsfile

import "time"

// defaultNowMs returns the current wall-clock time in milliseconds, matching
// the Date.now()-style timestamps used throughout the stats/inode layer.
func defaultNowMs() float64 {
	return float64(time.Now().UnixNano()) / 1e6
}
