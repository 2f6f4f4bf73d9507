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

package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a connection to a single viewer.
type Conn interface {
	WriteFrame(data []byte, deadline time.Time) error
	Close() error
	RemoteAddr() string
}

type wsConn struct {
	conn *websocket.Conn
}

func (c wsConn) WriteFrame(data []byte, deadline time.Time) error {
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c wsConn) Close() error {
	return c.conn.Close()
}

func (c wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// viewer is a member of the live set. busy is held while a frame is being
// written, so at most one write is in flight per connection.
type viewer struct {
	conn      Conn
	busy      atomic.Bool
	closeOnce sync.Once
}

func (v *viewer) close() {
	v.closeOnce.Do(func() {
		v.conn.Close()
	})
}
