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

// Package tracking holds the color currently being tracked and keeps it
// in step with a remote configuration source.
package tracking

import "sync/atomic"

// NewStore returns a Store holding the named color.
func NewStore(initial string) (*Store, error) {
	c, err := LookupColor(initial)
	if err != nil {
		return nil, err
	}
	s := new(Store)
	s.current.Store(&c)
	return s, nil
}

// Store holds the current tracking Color. Colors are replaced whole, so
// a reader always sees a name with its own bounds.
type Store struct {
	current atomic.Pointer[Color]
	updates atomic.Uint64
}

func (s *Store) Current() Color {
	return *s.current.Load()
}

// Set replaces the current color with the named palette color. The
// previous color is kept if name is not in the palette.
func (s *Store) Set(name string) (changed bool, err error) {
	c, err := LookupColor(name)
	if err != nil {
		return false, err
	}
	old := s.current.Swap(&c)
	if old.Name == c.Name {
		return false, nil
	}
	s.updates.Add(1)
	return true, nil
}

// Updates returns how many times the color has changed.
func (s *Store) Updates() uint64 {
	return s.updates.Load()
}
