// camera-relay - relay a serial camera feed to network viewers
//  Copyright (C) 2024, The camera-relay Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package loglimiter

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// New returns a LogLimiter which lets the same message through at most
// once per interval.
func New(interval time.Duration) *LogLimiter {
	return &LogLimiter{
		interval: interval,
		nowFunc:  time.Now,
		output:   log.Print,
	}
}

// LogLimiter suppresses a log message if the same message was logged
// within the interval. When the message is next let through, the
// number of suppressed repeats is appended. It is safe for concurrent
// use.
type LogLimiter struct {
	interval time.Duration
	nowFunc  func() time.Time
	output   func(...interface{})

	mu            sync.Mutex
	previousEntry string
	previousTime  time.Time
	suppressed    int
}

func (limiter *LogLimiter) Printf(format string, v ...interface{}) {
	limiter.Print(fmt.Sprintf(format, v...))
}

func (limiter *LogLimiter) Print(s string) {
	limiter.mu.Lock()
	now := limiter.nowFunc()
	if s == limiter.previousEntry && now.Sub(limiter.previousTime) < limiter.interval {
		limiter.suppressed++
		limiter.mu.Unlock()
		return
	}

	var lines []string
	switch {
	case limiter.suppressed == 0:
		lines = []string{s}
	case s == limiter.previousEntry:
		lines = []string{repeated(s, limiter.suppressed)}
	default:
		// Report the repeats of the previous message before moving on.
		lines = []string{repeated(limiter.previousEntry, limiter.suppressed), s}
	}
	limiter.previousTime = now
	limiter.previousEntry = s
	limiter.suppressed = 0
	limiter.mu.Unlock()

	for _, line := range lines {
		limiter.output(line)
	}
}

func repeated(s string, n int) string {
	return fmt.Sprintf("%s (repeated %d times)", s, n)
}
