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

package framebuffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(id byte) []byte {
	return []byte{id, id, id}
}

func TestPushAndTakeInOrder(t *testing.T) {
	buf := New(2)

	assert.True(t, buf.TryPush(frame(1)))
	assert.True(t, buf.TryPush(frame(2)))

	f, ok := buf.TakeIfAvailable()
	require.True(t, ok)
	assert.Equal(t, frame(1), f)

	f, ok = buf.TakeIfAvailable()
	require.True(t, ok)
	assert.Equal(t, frame(2), f)
}

func TestTakeFromEmptyBuffer(t *testing.T) {
	buf := New(2)

	f, ok := buf.TakeIfAvailable()
	assert.False(t, ok)
	assert.Nil(t, f)
}

func TestFullBufferDropsNewest(t *testing.T) {
	buf := New(2)

	assert.True(t, buf.TryPush(frame(1)))
	assert.True(t, buf.TryPush(frame(2)))
	assert.False(t, buf.TryPush(frame(3)))
	assert.False(t, buf.TryPush(frame(4)))
	assert.Equal(t, 2, buf.Len())

	var got [][]byte
	for {
		f, ok := buf.TakeIfAvailable()
		if !ok {
			break
		}
		got = append(got, f)
	}
	assert.Equal(t, [][]byte{frame(1), frame(2)}, got)
	assert.Equal(t, Stats{Pushed: 2, Dropped: 2, Taken: 2}, buf.Stats())
}

func TestRoomAfterTake(t *testing.T) {
	buf := New(1)

	assert.True(t, buf.TryPush(frame(1)))
	assert.False(t, buf.TryPush(frame(2)))
	buf.TakeIfAvailable()
	assert.True(t, buf.TryPush(frame(3)))

	f, _ := buf.TakeIfAvailable()
	assert.Equal(t, frame(3), f)
}

func TestSizeBelowOne(t *testing.T) {
	assert.Equal(t, 1, New(0).Cap())
	assert.Equal(t, DefaultSize, New(DefaultSize).Cap())
}

func TestConcurrentPushNeverExceedsCapacity(t *testing.T) {
	buf := New(3)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(id byte) {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				buf.TryPush(frame(id))
				assert.LessOrEqual(t, buf.Len(), 3)
			}
		}(byte(i))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 250; j++ {
			buf.TakeIfAvailable()
		}
	}()
	wg.Wait()

	stats := buf.Stats()
	assert.Equal(t, uint64(1000), stats.Pushed+stats.Dropped)
	assert.Equal(t, int(stats.Pushed-stats.Taken), buf.Len())
}
