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
	"fmt"
	"log"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

const (
	powerOffTime    = 2 * time.Second
	cameraStartTime = 8 * time.Second
)

// cycleCameraPower turns the camera module off and on again through the
// GPIO pin feeding it, so it starts streaming from a known state.
func cycleCameraPower(pinName string) error {
	if pinName == "" {
		return nil
	}

	log.Print("host initialisation")
	if _, err := host.Init(); err != nil {
		return err
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return fmt.Errorf("unknown camera power pin %q", pinName)
	}

	log.Print("turning camera power off")
	if err := pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to set camera power pin low: %v", err)
	}
	time.Sleep(powerOffTime)

	log.Print("turning camera power on")
	if err := pin.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to set camera power pin high: %v", err)
	}

	log.Printf("waiting %s for camera startup", cameraStartTime)
	time.Sleep(cameraStartTime)
	return nil
}
