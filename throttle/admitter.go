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

// Package throttle limits how quickly new viewers are admitted.
package throttle

import (
	"sync/atomic"
	"time"

	"github.com/juju/ratelimit"

	"github.com/sspu/camera-relay/loglimiter"
)

const (
	DefaultRate  = 5
	DefaultBurst = 20
)

func NewAdmitter(rate float64, burst int64) *Admitter {
	return NewAdmitterWithClock(rate, burst, new(realClock))
}

// NewAdmitterWithClock returns an Admitter letting in up to burst
// viewers at once, refilled at rate viewers per second.
func NewAdmitterWithClock(rate float64, burst int64, clock ratelimit.Clock) *Admitter {
	if rate <= 0 {
		rate = DefaultRate
	}
	if burst < 1 {
		burst = 1
	}
	return &Admitter{
		bucket: ratelimit.NewBucketWithRateAndClock(rate, burst, clock),
		log:    loglimiter.New(time.Minute),
	}
}

// Admitter rejects new connections once they arrive faster than the
// bucket refills, so a reconnect storm cannot starve the broadcast loop.
type Admitter struct {
	bucket   *ratelimit.Bucket
	log      *loglimiter.LogLimiter
	admitted atomic.Uint64
	rejected atomic.Uint64
}

type Stats struct {
	Admitted uint64
	Rejected uint64
}

// Allow takes a token if one is available.
func (a *Admitter) Allow() bool {
	if a.bucket.TakeAvailable(1) > 0 {
		a.admitted.Add(1)
		return true
	}
	a.rejected.Add(1)
	a.log.Print("viewer connection throttled")
	return false
}

func (a *Admitter) Stats() Stats {
	return Stats{
		Admitted: a.admitted.Load(),
		Rejected: a.rejected.Load(),
	}
}

// realClock implements ratelimit.Clock in terms of standard time functions.
type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(d time.Duration) {
	time.Sleep(d)
}
