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
	"errors"

	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"

	"github.com/sspu/camera-relay/tracking"
)

const (
	dbusName = "org.sspu.camerarelay"
	dbusPath = "/org/sspu/camerarelay"
)

type relayService struct {
	colors *tracking.Store
	stats  func() map[string]uint64
}

func startService(colors *tracking.Store, stats func() map[string]uint64) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &relayService{
		colors: colors,
		stats:  stats,
	}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

// TrackingColor returns the name of the color being tracked.
func (s *relayService) TrackingColor() (string, *dbus.Error) {
	return s.colors.Current().Name, nil
}

// SetTrackingColor overrides the tracking color until the remote source
// next changes it.
func (s *relayService) SetTrackingColor(name string) *dbus.Error {
	if _, err := s.colors.Set(name); err != nil {
		return makeDbusError("SetTrackingColor", err)
	}
	return nil
}

// Stats returns the relay counters keyed by name.
func (s *relayService) Stats() (map[string]uint64, *dbus.Error) {
	return s.stats(), nil
}

func makeDbusError(name string, err error) *dbus.Error {
	return &dbus.Error{
		Name: dbusName + "." + name,
		Body: []interface{}{err.Error()},
	}
}
