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

package overlay

import (
	"image"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"

	"github.com/sspu/camera-relay/tracking"
)

// ToHSV converts 8-bit RGB to OpenCV's 8-bit HSV scale.
func ToHSV(r, g, b uint8) tracking.HSV {
	c := colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}
	h, s, v := c.Hsv()
	return tracking.HSV{
		uint8(math.Min(math.Round(h/2), 180)),
		uint8(math.Round(s * 255)),
		uint8(math.Round(v * 255)),
	}
}

// CountMatches counts the pixels of img within r whose HSV value falls
// inside want.
func CountMatches(img image.Image, r image.Rectangle, want tracking.Color) int {
	r = r.Intersect(img.Bounds())
	count := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			if want.Contains(ToHSV(c.R, c.G, c.B)) {
				count++
			}
		}
	}
	return count
}

// drawRect outlines r on dst with lines width pixels wide, drawn inwards.
func drawRect(dst draw.Image, r image.Rectangle, c color.Color, width int) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, edge := range edges {
		draw.Draw(dst, edge.Intersect(r), src, image.Point{}, draw.Src)
	}
}
