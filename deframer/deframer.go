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

// Package deframer splits the byte stream sent by the camera module into
// encoded images.
//
// Each frame on the wire is:
//
//	"FRAME_START" | length (uint32, little endian) | payload | "FRAME_END"
package deframer

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sspu/camera-relay/loglimiter"
)

const (
	lengthSize          = 4
	readBufferSize      = 64 * 1024
	DefaultMaxFrameSize = 1024 * 1024
	framingLogInterval  = 10 * time.Second
)

var (
	StartMarker = []byte("FRAME_START")
	EndMarker   = []byte("FRAME_END")
)

// RawFrame is one encoded image exactly as it was received.
type RawFrame []byte

// FramePusher accepts frames without blocking.
type FramePusher interface {
	TryPush([]byte) bool
}

// TransportError is returned when reading from the underlying transport
// fails. It is fatal for the link.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("serial transport failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Stats is a snapshot of the deframer counters.
type Stats struct {
	Frames        uint64
	FramingErrors uint64
	Dropped       uint64
	BytesRead     uint64
	BytesSkipped  uint64
}

// New returns a Deframer reading from r. Declared lengths above
// maxFrameSize are treated as corruption.
func New(r io.Reader, maxFrameSize int) *Deframer {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	d := &Deframer{
		maxFrameSize: maxFrameSize,
		log:          loglimiter.New(framingLogInterval),
	}
	d.r = bufio.NewReaderSize(&countingReader{r: r, n: &d.bytesRead}, readBufferSize)
	return d
}

type Deframer struct {
	r            *bufio.Reader
	replay       []byte
	maxFrameSize int
	log          *loglimiter.LogLimiter

	frames        atomic.Uint64
	framingErrors atomic.Uint64
	dropped       atomic.Uint64
	bytesRead     atomic.Uint64
	bytesSkipped  atomic.Uint64
}

// Run reads frames until the transport fails, offering each one to buf.
// Frames that don't fit are dropped. The returned error is always a
// *TransportError. Run can only be stopped by closing the transport.
func (d *Deframer) Run(buf FramePusher) error {
	for {
		frame, err := d.Next()
		if err != nil {
			return err
		}
		if !buf.TryPush(frame) {
			d.dropped.Add(1)
		}
	}
}

// Next blocks until a complete, valid frame has been read. Invalid
// frames are discarded and the stream is rescanned for the next start
// marker, starting just after the rejected frame's start marker.
func (d *Deframer) Next() (RawFrame, error) {
	for {
		if err := d.scanFor(StartMarker); err != nil {
			return nil, &TransportError{err}
		}

		frame, consumed, err := d.readFrame()
		if err != nil {
			return nil, &TransportError{err}
		}
		if frame != nil {
			d.frames.Add(1)
			return frame, nil
		}

		d.framingErrors.Add(1)
		d.replay = append(consumed, d.replay...)
	}
}

func (d *Deframer) Stats() Stats {
	return Stats{
		Frames:        d.frames.Load(),
		FramingErrors: d.framingErrors.Load(),
		Dropped:       d.dropped.Load(),
		BytesRead:     d.bytesRead.Load(),
		BytesSkipped:  d.bytesSkipped.Load(),
	}
}

// readFrame reads the part of a frame following the start marker. A nil
// frame with a nil error means the frame was invalid; consumed then holds
// every byte read after the start marker.
func (d *Deframer) readFrame() (frame RawFrame, consumed []byte, err error) {
	header := make([]byte, lengthSize)
	if err := d.readFull(header); err != nil {
		return nil, nil, err
	}
	length := binary.LittleEndian.Uint32(header)
	if uint64(length) > uint64(d.maxFrameSize) {
		d.log.Printf("frame length %d exceeds maximum of %d", length, d.maxFrameSize)
		return nil, header, nil
	}

	raw := make([]byte, lengthSize+int(length)+len(EndMarker))
	copy(raw, header)
	if err := d.readFull(raw[lengthSize:]); err != nil {
		return nil, nil, err
	}

	payload := raw[lengthSize : lengthSize+int(length)]
	trailer := raw[lengthSize+int(length):]
	if !bytes.Equal(trailer, EndMarker) {
		d.log.Printf("frame of %d bytes has no end marker", length)
		return nil, raw, nil
	}
	return RawFrame(payload), nil, nil
}

// scanFor discards bytes until marker has been read.
func (d *Deframer) scanFor(marker []byte) error {
	window := make([]byte, 0, len(marker))
	var skipped uint64
	defer func() {
		d.bytesSkipped.Add(skipped)
	}()
	for {
		b, err := d.readByte()
		if err != nil {
			return err
		}
		if len(window) == len(marker) {
			copy(window, window[1:])
			window = window[:len(marker)-1]
			skipped++
		}
		window = append(window, b)
		if bytes.Equal(window, marker) {
			return nil
		}
	}
}

func (d *Deframer) readByte() (byte, error) {
	if len(d.replay) > 0 {
		b := d.replay[0]
		d.replay = d.replay[1:]
		return b, nil
	}
	return d.r.ReadByte()
}

func (d *Deframer) readFull(buf []byte) error {
	n := copy(buf, d.replay)
	d.replay = d.replay[n:]
	if n == len(buf) {
		return nil
	}
	_, err := io.ReadFull(d.r, buf[n:])
	return err
}

type countingReader struct {
	r io.Reader
	n *atomic.Uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(uint64(n))
	return n, err
}
