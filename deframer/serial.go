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

package deframer

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/sspu/camera-relay/loglimiter"
)

const silenceLogInterval = time.Minute

// OpenSerial opens the serial device the camera module is attached to.
func OpenSerial(device string, baudRate int, readTimeout time.Duration) (*SerialPort, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", device, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("setting read timeout on %s: %w", device, err)
	}
	return newSerialPort(port, device), nil
}

func newSerialPort(port io.ReadCloser, device string) *SerialPort {
	return &SerialPort{
		port:   port,
		device: device,
		log:    loglimiter.New(silenceLogInterval),
	}
}

// SerialPort is a serial device where a read timeout means "no data yet"
// rather than an error. Read only returns once data has arrived or the
// device has failed.
type SerialPort struct {
	port   io.ReadCloser
	device string
	log    *loglimiter.LogLimiter
}

func (p *SerialPort) Read(b []byte) (int, error) {
	for {
		n, err := p.port.Read(b)
		if n > 0 || err != nil {
			return n, err
		}
		p.log.Printf("no data from %s", p.device)
	}
}

// Close closes the device, which also unblocks a pending Read.
func (p *SerialPort) Close() error {
	return p.port.Close()
}
