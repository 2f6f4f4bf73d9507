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

package tracking

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreWithDefault(t *testing.T) {
	store, err := NewStore(DefaultColorName)
	require.NoError(t, err)
	assert.Equal(t, Palette["orange"], store.Current())
}

func TestNewStoreWithUnknownColor(t *testing.T) {
	store, err := NewStore("purple")
	assert.Nil(t, store)
	var unknown *UnknownColorError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "purple", unknown.Name)
}

func TestSetReplacesColor(t *testing.T) {
	store, err := NewStore("orange")
	require.NoError(t, err)

	changed, err := store.Set("blue")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, Palette["blue"], store.Current())

	changed, err = store.Set("blue")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, uint64(1), store.Updates())
}

func TestSetUnknownKeepsPrevious(t *testing.T) {
	store, err := NewStore("pink")
	require.NoError(t, err)

	changed, err := store.Set("purple")
	assert.False(t, changed)
	assert.EqualError(t, err, `unknown tracking color "purple" (valid: black, blue, green, orange, pink, white)`)
	assert.Equal(t, Palette["pink"], store.Current())
}

func TestConcurrentReadsSeeWholeColors(t *testing.T) {
	store, err := NewStore("orange")
	require.NoError(t, err)

	names := ColorNames()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			store.Set(names[i%len(names)])
		}
	}()

	for i := 0; i < 10000; i++ {
		c := store.Current()
		assert.Equal(t, Palette[c.Name], c)
	}
	close(done)
	wg.Wait()
}

func TestColorContains(t *testing.T) {
	orange := Palette["orange"]
	assert.True(t, orange.Contains(HSV{15, 255, 255}))
	assert.True(t, orange.Contains(HSV{11, 100, 100}))
	assert.True(t, orange.Contains(HSV{25, 255, 255}))
	assert.False(t, orange.Contains(HSV{10, 255, 255}))
	assert.False(t, orange.Contains(HSV{15, 99, 255}))
	assert.False(t, orange.Contains(HSV{120, 255, 255}))
}
