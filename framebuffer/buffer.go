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

// Package framebuffer holds encoded frames between the serial reader
// and the broadcast loop.
package framebuffer

import "sync/atomic"

const DefaultSize = 2

// New returns an empty Buffer holding at most size frames. A size
// below 1 is treated as 1.
func New(size int) *Buffer {
	if size < 1 {
		size = 1
	}
	return &Buffer{
		frames: make(chan []byte, size),
	}
}

// Buffer is a bounded FIFO of encoded frames. Neither side ever blocks:
// when the buffer is full the arriving frame is dropped and the frames
// already waiting are kept.
type Buffer struct {
	frames chan []byte

	pushed  atomic.Uint64
	dropped atomic.Uint64
	taken   atomic.Uint64
}

// Stats is a snapshot of the buffer counters.
type Stats struct {
	Pushed  uint64
	Dropped uint64
	Taken   uint64
}

// TryPush adds frame to the buffer if there is room. It returns false
// if the frame was dropped because the buffer is full.
func (b *Buffer) TryPush(frame []byte) bool {
	select {
	case b.frames <- frame:
		b.pushed.Add(1)
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// TakeIfAvailable removes and returns the oldest frame. ok is false if
// the buffer is empty.
func (b *Buffer) TakeIfAvailable() (frame []byte, ok bool) {
	select {
	case frame = <-b.frames:
		b.taken.Add(1)
		return frame, true
	default:
		return nil, false
	}
}

func (b *Buffer) Len() int {
	return len(b.frames)
}

func (b *Buffer) Cap() int {
	return cap(b.frames)
}

func (b *Buffer) Stats() Stats {
	return Stats{
		Pushed:  b.pushed.Load(),
		Dropped: b.dropped.Load(),
		Taken:   b.taken.Load(),
	}
}
