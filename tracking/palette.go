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
	"fmt"
	"sort"
	"strings"
)

// HSV is a color in OpenCV's 8-bit HSV convention: hue in [0, 180),
// saturation and value in [0, 255].
type HSV [3]uint8

func (c HSV) H() uint8 { return c[0] }
func (c HSV) S() uint8 { return c[1] }
func (c HSV) V() uint8 { return c[2] }

// Color is a named HSV range. A pixel matches when every component lies
// within the bounds, inclusive.
type Color struct {
	Name  string
	Lower HSV
	Upper HSV
}

func (c Color) Contains(p HSV) bool {
	for i := range p {
		if p[i] < c.Lower[i] || p[i] > c.Upper[i] {
			return false
		}
	}
	return true
}

func (c Color) String() string {
	return fmt.Sprintf("%s %v-%v", c.Name, c.Lower, c.Upper)
}

// Palette holds the colors that can be tracked.
var Palette = map[string]Color{
	"orange": {Name: "orange", Lower: HSV{11, 100, 100}, Upper: HSV{25, 255, 255}},
	"blue":   {Name: "blue", Lower: HSV{110, 100, 20}, Upper: HSV{130, 255, 255}},
	"pink":   {Name: "pink", Lower: HSV{160, 100, 100}, Upper: HSV{180, 255, 255}},
	"green":  {Name: "green", Lower: HSV{35, 100, 50}, Upper: HSV{85, 255, 255}},
	"white":  {Name: "white", Lower: HSV{0, 0, 231}, Upper: HSV{180, 25, 255}},
	"black":  {Name: "black", Lower: HSV{0, 0, 0}, Upper: HSV{180, 255, 30}},
}

const DefaultColorName = "orange"

// UnknownColorError is returned for a color name missing from the palette.
type UnknownColorError struct {
	Name string
}

func (e *UnknownColorError) Error() string {
	return fmt.Sprintf("unknown tracking color %q (valid: %s)", e.Name, strings.Join(ColorNames(), ", "))
}

// LookupColor returns the palette entry for name.
func LookupColor(name string) (Color, error) {
	c, ok := Palette[name]
	if !ok {
		return Color{}, &UnknownColorError{Name: name}
	}
	return c, nil
}

func ColorNames() []string {
	names := make([]string, 0, len(Palette))
	for name := range Palette {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
