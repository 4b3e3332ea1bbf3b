// Package timex holds small time helpers shared across node/session
// bookkeeping (last-seen timestamps, sleep timestamps).
package timex

import "time"

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

