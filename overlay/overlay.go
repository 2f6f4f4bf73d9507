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

// Package overlay marks the detected object in a frame, coloring the box by
// whether the object shows the current tracking color.
package overlay

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"

	"github.com/sspu/camera-relay/loglimiter"
	"github.com/sspu/camera-relay/tracking"
)

var (
	MatchedColor   = color.RGBA{R: 255, A: 255}
	UnmatchedColor = color.RGBA{G: 255, A: 255}
)

type Config struct {
	InputSize           int
	ConfidenceThreshold float64
	TargetClass         int
	LineWidth           int
}

func DefaultConfig() Config {
	return Config{
		InputSize:           320,
		ConfidenceThreshold: 0.61,
		TargetClass:         1,
		LineWidth:           2,
	}
}

// ColorSource gives the tracking color in effect.
type ColorSource interface {
	Current() tracking.Color
}

type Stats struct {
	Frames         uint64
	Boxes          uint64
	Matched        uint64
	DetectorErrors uint64
}

// New returns an Engine using detector to find objects and colors for the
// tracking color. A nil detector is treated as NoDetector.
func New(detector Detector, colors ColorSource, conf Config) *Engine {
	if detector == nil {
		detector = NoDetector{}
	}
	if conf.LineWidth < 1 {
		conf.LineWidth = 1
	}
	_, passthrough := detector.(NoDetector)
	return &Engine{
		detector:    detector,
		colors:      colors,
		conf:        conf,
		passthrough: passthrough,
		log:         loglimiter.New(10 * time.Second),
	}
}

type Engine struct {
	detector    Detector
	colors      ColorSource
	conf        Config
	passthrough bool
	log         *loglimiter.LogLimiter

	frames         atomic.Uint64
	boxes          atomic.Uint64
	matched        atomic.Uint64
	detectorErrors atomic.Uint64
}

// Apply returns img with a rectangle around the best detection. When
// nothing qualifies, the box has no area, or the detector fails, img
// itself is returned.
func (e *Engine) Apply(ctx context.Context, img image.Image) image.Image {
	e.frames.Add(1)
	if e.passthrough {
		return img
	}
	want := e.colors.Current()

	candidates, err := e.detect(ctx, img)
	if err != nil {
		e.detectorErrors.Add(1)
		e.log.Printf("object detection failed: %v", err)
		return img
	}
	best, ok := SelectCandidate(candidates, e.conf.ConfidenceThreshold, e.conf.TargetClass)
	if !ok {
		return img
	}

	bounds := img.Bounds()
	box := best.Box.Rect(bounds)
	lineColor := UnmatchedColor
	if CountMatches(img, box, want) > 0 {
		lineColor = MatchedColor
		e.matched.Add(1)
	}
	e.boxes.Add(1)
	// A degenerate box has no outline to draw.
	if box.Empty() {
		return img
	}

	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, img, bounds.Min, draw.Src)
	drawRect(out, box, lineColor, e.conf.LineWidth)
	return out
}

func (e *Engine) detect(ctx context.Context, img image.Image) (candidates []Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector panic: %v", r)
		}
	}()
	return e.detector.Detect(ctx, resize(img, e.conf.InputSize))
}

func (e *Engine) Stats() Stats {
	return Stats{
		Frames:         e.frames.Load(),
		Boxes:          e.boxes.Load(),
		Matched:        e.matched.Load(),
		DetectorErrors: e.detectorErrors.Load(),
	}
}

// SelectCandidate returns the highest scoring candidate of the target
// class scoring at least threshold. Ties go to the earlier candidate.
func SelectCandidate(candidates []Candidate, threshold float64, class int) (Candidate, bool) {
	var best Candidate
	found := false
	for _, c := range candidates {
		if c.Class != class || c.Score < threshold {
			continue
		}
		if !found || c.Score > best.Score {
			best = c
			found = true
		}
	}
	return best, found
}

func resize(img image.Image, size int) image.Image {
	if size <= 0 {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
