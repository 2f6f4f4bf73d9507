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
	"bytes"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrint(t *testing.T) {
	logs, reset := captureLogs()
	defer reset()

	limiter := New(time.Minute)
	limiter.Print("frame start")
	limiter.Print("frame end")

	assert.Equal(t, "frame start\nframe end\n", logs.String())
}

func TestPrintf(t *testing.T) {
	logs, reset := captureLogs()
	defer reset()

	limiter := New(time.Minute)
	limiter.Printf("framing error: %d", 42)
	limiter.Printf("viewer: %q", "10.0.0.1")

	assert.Equal(t, "framing error: 42\nviewer: \"10.0.0.1\"\n", logs.String())
}

func TestRepeatsAreSuppressedWithinInterval(t *testing.T) {
	logs, reset := captureLogs()
	defer reset()

	now := time.Now()
	limiter := New(2 * time.Second)
	limiter.nowFunc = func() time.Time { return now }

	limiter.Print("no data")
	assert.Equal(t, "no data\n", logs.String())

	now = now.Add(time.Second)
	limiter.Print("no data")
	limiter.Print("no data")
	assert.Equal(t, "no data\n", logs.String())

	// Past the window the message is let through with the repeat count.
	now = now.Add(time.Second)
	limiter.Print("no data")
	assert.Equal(t, "no data\nno data (repeated 2 times)\n", logs.String())

	limiter.Print("something else")
	assert.Equal(t, "no data\nno data (repeated 2 times)\nsomething else\n", logs.String())
}

func TestRepeatsAreReportedWhenMessageChanges(t *testing.T) {
	logs, reset := captureLogs()
	defer reset()

	limiter := New(time.Minute)
	limiter.Print("no data")
	limiter.Print("no data")
	limiter.Print("no data")
	limiter.Print("device error")
	limiter.Print("device error")

	assert.Equal(t, "no data\nno data (repeated 2 times)\ndevice error\n", logs.String())
}

func TestMixed(t *testing.T) {
	logs, reset := captureLogs()
	defer reset()

	limiter := New(time.Minute)
	limiter.Print("hello")
	limiter.Printf("hello")
	assert.Equal(t, "hello\n", logs.String())
}

func TestConcurrentUse(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	limiter := New(time.Hour)
	limiter.output = func(v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, v[0].(string))
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				limiter.Print("busy")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"busy"}, lines)
}

func captureLogs() (*bytes.Buffer, func()) {
	flags := log.Flags()
	log.SetFlags(0)

	logs := new(bytes.Buffer)
	log.SetOutput(logs)

	return logs, func() {
		log.SetOutput(os.Stderr)
		log.SetFlags(flags)
	}
}
