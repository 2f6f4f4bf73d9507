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

// Package metrics exports component statistics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sspu/camera-relay/broadcast"
	"github.com/sspu/camera-relay/deframer"
	"github.com/sspu/camera-relay/framebuffer"
	"github.com/sspu/camera-relay/overlay"
	"github.com/sspu/camera-relay/throttle"
)

const namespace = "camera_relay"

type DeframerStats interface {
	Stats() deframer.Stats
}

type BufferStats interface {
	Stats() framebuffer.Stats
	Len() int
}

type OverlayStats interface {
	Stats() overlay.Stats
}

type BroadcastStats interface {
	Stats() broadcast.Stats
	ViewerCount() int
}

type AdmitterStats interface {
	Stats() throttle.Stats
}

type TrackingStats interface {
	Errors() uint64
}

type ColorStats interface {
	Updates() uint64
}

// Components are the sources of the exported values. Nil fields are
// skipped.
type Components struct {
	Deframer  DeframerStats
	Buffer    BufferStats
	Overlay   OverlayStats
	Broadcast BroadcastStats
	Admitter  AdmitterStats
	Poller    TrackingStats
	Colors    ColorStats
}

// Register adds a collector to reg for every counter of the given
// components. Values are read from the components at scrape time.
func Register(reg prometheus.Registerer, c Components) error {
	var collectors []prometheus.Collector
	if d := c.Deframer; d != nil {
		collectors = append(collectors,
			counter("serial_bytes_total", "Bytes read from the serial link.", func() uint64 { return d.Stats().BytesRead }),
			counter("serial_bytes_skipped_total", "Bytes discarded while looking for a frame start.", func() uint64 { return d.Stats().BytesSkipped }),
			counter("frames_received_total", "Valid frames read from the serial link.", func() uint64 { return d.Stats().Frames }),
			counter("framing_errors_total", "Frames rejected as malformed.", func() uint64 { return d.Stats().FramingErrors }),
		)
	}
	if b := c.Buffer; b != nil {
		collectors = append(collectors,
			counter("frames_dropped_total", "Frames dropped because the frame buffer was full.", func() uint64 { return b.Stats().Dropped }),
			gauge("frame_buffer_length", "Frames waiting in the frame buffer.", func() float64 { return float64(b.Len()) }),
		)
	}
	if o := c.Overlay; o != nil {
		collectors = append(collectors,
			counter("detections_total", "Frames with a detected object.", func() uint64 { return o.Stats().Boxes }),
			counter("color_matches_total", "Detected objects showing the tracking color.", func() uint64 { return o.Stats().Matched }),
			counter("detector_errors_total", "Failed calls to the object detector.", func() uint64 { return o.Stats().DetectorErrors }),
		)
	}
	if s := c.Broadcast; s != nil {
		collectors = append(collectors,
			counter("frames_broadcast_total", "Frames sent to viewers.", func() uint64 { return s.Stats().Frames }),
			counter("frame_decode_errors_total", "Buffered frames which were not valid JPEG.", func() uint64 { return s.Stats().DecodeErrors }),
			counter("viewer_sends_total", "Frames written to individual viewers.", func() uint64 { return s.Stats().Sent }),
			counter("viewer_skips_total", "Frames not sent to a viewer still busy with an earlier frame.", func() uint64 { return s.Stats().Skipped }),
			counter("viewer_errors_total", "Viewers dropped after a failed write.", func() uint64 { return s.Stats().SendErrors }),
			counter("viewer_connections_total", "Viewer connections accepted.", func() uint64 { return s.Stats().Connections }),
			gauge("viewers", "Connected viewers.", func() float64 { return float64(s.ViewerCount()) }),
		)
	}
	if a := c.Admitter; a != nil {
		collectors = append(collectors,
			counter("viewer_connections_throttled_total", "Viewer connections refused by the admission throttle.", func() uint64 { return a.Stats().Rejected }),
		)
	}
	if p := c.Poller; p != nil {
		collectors = append(collectors,
			counter("tracking_poll_errors_total", "Failed tracking color polls.", p.Errors),
		)
	}
	if s := c.Colors; s != nil {
		collectors = append(collectors,
			counter("tracking_color_changes_total", "Changes of the tracking color.", s.Updates),
		)
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func counter(name, help string, value func() uint64) prometheus.Collector {
	return prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
		func() float64 { return float64(value()) },
	)
}

func gauge(name, help string, value func() float64) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
		value,
	)
}
