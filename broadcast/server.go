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

// Package broadcast sends the latest camera frame to every connected
// websocket viewer.
package broadcast

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sspu/camera-relay/loglimiter"
	"github.com/sspu/camera-relay/throttle"
)

const viewerReadLimit = 512

type Config struct {
	Interval     time.Duration
	JPEGQuality  int
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:     33 * time.Millisecond,
		JPEGQuality:  85,
		WriteTimeout: time.Second,
	}
}

// FrameSource hands out the oldest pending frame without blocking.
type FrameSource interface {
	TakeIfAvailable() ([]byte, bool)
}

// Overlay annotates a decoded frame. Returning the input unchanged is
// allowed.
type Overlay interface {
	Apply(ctx context.Context, img image.Image) image.Image
}

type Stats struct {
	Frames       uint64
	DecodeErrors uint64
	Sent         uint64
	Skipped      uint64
	SendErrors   uint64
	Connections  uint64
}

// NewServer returns a Server taking frames from frames. admitter may be
// nil, in which case every connection is accepted.
func NewServer(frames FrameSource, overlay Overlay, admitter *throttle.Admitter, conf Config) *Server {
	if conf.Interval <= 0 {
		conf.Interval = DefaultConfig().Interval
	}
	if conf.JPEGQuality <= 0 {
		conf.JPEGQuality = DefaultConfig().JPEGQuality
	}
	if conf.WriteTimeout <= 0 {
		conf.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return &Server{
		frames:   frames,
		overlay:  overlay,
		admitter: admitter,
		conf:     conf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		viewers: make(map[*viewer]struct{}),
		log:     loglimiter.New(10 * time.Second),
	}
}

type Server struct {
	frames   FrameSource
	overlay  Overlay
	admitter *throttle.Admitter
	conf     Config
	upgrader websocket.Upgrader
	log      *loglimiter.LogLimiter

	mu      sync.Mutex
	viewers map[*viewer]struct{}

	framesOut    atomic.Uint64
	decodeErrors atomic.Uint64
	sent         atomic.Uint64
	skipped      atomic.Uint64
	sendErrors   atomic.Uint64
	connections  atomic.Uint64
}

// Handler routes viewer connections at the root path. When metrics is not
// nil it is served at /metrics.
func (s *Server) Handler(metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.HandleViewer)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	return r
}

// HandleViewer upgrades the request to a websocket and keeps the viewer
// in the live set until the connection closes.
func (s *Server) HandleViewer(w http.ResponseWriter, r *http.Request) {
	if s.admitter != nil && !s.admitter.Allow() {
		http.Error(w, "too many new connections", http.StatusTooManyRequests)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Printf("websocket upgrade failed: %v", err)
		return
	}

	// Viewers send nothing; an oversized message ends the connection.
	conn.SetReadLimit(viewerReadLimit)

	v := s.addViewer(wsConn{conn})
	log.Printf("viewer connected: %s (%d viewers)", v.conn.RemoteAddr(), s.ViewerCount())

	// Viewers send nothing; reading is only for noticing the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	if s.removeViewer(v) {
		log.Printf("viewer disconnected: %s (%d viewers)", v.conn.RemoteAddr(), s.ViewerCount())
	}
}

func (s *Server) addViewer(conn Conn) *viewer {
	v := &viewer{conn: conn}
	s.mu.Lock()
	s.viewers[v] = struct{}{}
	s.mu.Unlock()
	s.connections.Add(1)
	return v
}

// removeViewer drops v from the live set and closes it. It reports
// whether v was still present.
func (s *Server) removeViewer(v *viewer) bool {
	s.mu.Lock()
	_, ok := s.viewers[v]
	delete(s.viewers, v)
	s.mu.Unlock()
	v.close()
	return ok
}

func (s *Server) ViewerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// Run broadcasts a frame every interval until ctx is done, then closes
// all viewers.
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.conf.Interval)
	defer ticker.Stop()
	defer s.closeAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick takes one frame, if any, annotates it and starts sending it to
// every idle viewer. It reports whether a frame was sent. Writes finish
// in the background; a viewer whose write fails is removed once that
// write returns, within the write timeout.
func (s *Server) Tick(ctx context.Context) bool {
	data, ok := s.frames.TakeIfAvailable()
	if !ok {
		return false
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		s.decodeErrors.Add(1)
		s.log.Printf("skipping undecodable frame: %v", err)
		return false
	}

	out := s.overlay.Apply(ctx, img)
	if out != img {
		buf := bytes.NewBuffer(make([]byte, 0, len(data)))
		if err := jpeg.Encode(buf, out, &jpeg.Options{Quality: s.conf.JPEGQuality}); err != nil {
			s.log.Printf("failed to encode frame: %v", err)
			return false
		}
		data = buf.Bytes()
	}

	s.broadcast(data)
	s.framesOut.Add(1)
	return true
}

// broadcast starts a write of data to each viewer not still busy with an
// earlier frame. The returned WaitGroup is done once all writes finish.
func (s *Server) broadcast(data []byte) *sync.WaitGroup {
	s.mu.Lock()
	viewers := make([]*viewer, 0, len(s.viewers))
	for v := range s.viewers {
		viewers = append(viewers, v)
	}
	s.mu.Unlock()

	wg := new(sync.WaitGroup)
	deadline := time.Now().Add(s.conf.WriteTimeout)
	for _, v := range viewers {
		if !v.busy.CompareAndSwap(false, true) {
			s.skipped.Add(1)
			continue
		}
		wg.Add(1)
		go func(v *viewer) {
			defer wg.Done()
			defer v.busy.Store(false)
			if err := v.conn.WriteFrame(data, deadline); err != nil {
				s.sendErrors.Add(1)
				if s.removeViewer(v) {
					log.Printf("dropped viewer %s: %v", v.conn.RemoteAddr(), err)
				}
				return
			}
			s.sent.Add(1)
		}(v)
	}
	return wg
}

func (s *Server) closeAll() {
	s.mu.Lock()
	viewers := s.viewers
	s.viewers = make(map[*viewer]struct{})
	s.mu.Unlock()

	for v := range viewers {
		v.close()
	}
}

func (s *Server) Stats() Stats {
	return Stats{
		Frames:       s.framesOut.Load(),
		DecodeErrors: s.decodeErrors.Load(),
		Sent:         s.sent.Load(),
		Skipped:      s.skipped.Load(),
		SendErrors:   s.sendErrors.Load(),
		Connections:  s.connections.Load(),
	}
}
