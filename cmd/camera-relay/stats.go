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

package main

import (
	"context"
	"log"
	"time"

	humanize "github.com/dustin/go-humanize"

	"github.com/sspu/camera-relay/broadcast"
	"github.com/sspu/camera-relay/deframer"
	"github.com/sspu/camera-relay/framebuffer"
	"github.com/sspu/camera-relay/overlay"
	"github.com/sspu/camera-relay/throttle"
	"github.com/sspu/camera-relay/tracking"
)

const statsLogInterval = time.Minute

// relay groups the running components for status reporting.
type relay struct {
	deframer *deframer.Deframer
	frames   *framebuffer.Buffer
	engine   *overlay.Engine
	server   *broadcast.Server
	admitter *throttle.Admitter
	poller   *tracking.Poller
	colors   *tracking.Store
}

func (r *relay) statsMap() map[string]uint64 {
	d := r.deframer.Stats()
	b := r.frames.Stats()
	o := r.engine.Stats()
	s := r.server.Stats()
	a := r.admitter.Stats()
	m := map[string]uint64{
		"bytes-read":          d.BytesRead,
		"bytes-skipped":       d.BytesSkipped,
		"frames-received":     d.Frames,
		"framing-errors":      d.FramingErrors,
		"frames-dropped":      b.Dropped,
		"frames-broadcast":    s.Frames,
		"decode-errors":       s.DecodeErrors,
		"detections":          o.Boxes,
		"color-matches":       o.Matched,
		"detector-errors":     o.DetectorErrors,
		"viewers":             uint64(r.server.ViewerCount()),
		"viewer-connections":  s.Connections,
		"viewer-errors":       s.SendErrors,
		"viewer-skips":        s.Skipped,
		"throttled-viewers":   a.Rejected,
		"tracking-changes":    r.colors.Updates(),
		"tracking-poll-fails": 0,
	}
	if r.poller != nil {
		m["tracking-poll-fails"] = r.poller.Errors()
	}
	return m
}

func (r *relay) logStats() {
	d := r.deframer.Stats()
	s := r.server.Stats()
	log.Printf("frames: %s received, %s broadcast, %s dropped, %s framing errors; read %s; viewers: %d; tracking %s",
		humanize.Comma(int64(d.Frames)),
		humanize.Comma(int64(s.Frames)),
		humanize.Comma(int64(r.frames.Stats().Dropped)),
		humanize.Comma(int64(d.FramingErrors)),
		humanize.Bytes(d.BytesRead),
		r.server.ViewerCount(),
		r.colors.Current().Name,
	)
}

func (r *relay) logStatsEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logStats()
			return nil
		case <-ticker.C:
			r.logStats()
		}
	}
}
