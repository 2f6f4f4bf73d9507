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
	"io/ioutil"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/sspu/camera-relay/broadcast"
	"github.com/sspu/camera-relay/deframer"
	"github.com/sspu/camera-relay/framebuffer"
	"github.com/sspu/camera-relay/overlay"
	"github.com/sspu/camera-relay/throttle"
	"github.com/sspu/camera-relay/tracking"
)

const (
	sourceHTTP = "http"
	sourceMQTT = "mqtt"
	sourceNone = "none"
)

type Config struct {
	Serial          SerialConfig    `yaml:"serial"`
	FrameBufferSize int             `yaml:"frame-buffer-size"`
	PowerPin        string          `yaml:"power-pin"`
	Broadcast       BroadcastConfig `yaml:"broadcast"`
	Overlay         OverlayConfig   `yaml:"overlay"`
	Tracking        TrackingConfig  `yaml:"tracking"`
	DBus            bool            `yaml:"dbus"`
}

type SerialConfig struct {
	Device       string        `yaml:"device"`
	BaudRate     int           `yaml:"baud-rate"`
	ReadTimeout  time.Duration `yaml:"read-timeout"`
	MaxFrameSize int           `yaml:"max-frame-size"`
}

type BroadcastConfig struct {
	Listen       string        `yaml:"listen"`
	Interval     time.Duration `yaml:"interval"`
	JPEGQuality  int           `yaml:"jpeg-quality"`
	WriteTimeout time.Duration `yaml:"write-timeout"`
	AcceptRate   float64       `yaml:"accept-rate"`
	AcceptBurst  int64         `yaml:"accept-burst"`
}

type OverlayConfig struct {
	DetectorURL         string        `yaml:"detector-url"`
	DetectorTimeout     time.Duration `yaml:"detector-timeout"`
	InputSize           int           `yaml:"input-size"`
	ConfidenceThreshold float64       `yaml:"confidence-threshold"`
	TargetClass         int           `yaml:"target-class"`
	LineWidth           int           `yaml:"line-width"`
}

type TrackingConfig struct {
	DefaultColor string        `yaml:"default-color"`
	Source       string        `yaml:"source"`
	URL          string        `yaml:"url"`
	PollInterval time.Duration `yaml:"poll-interval"`
	MQTTBroker   string        `yaml:"mqtt-broker"`
	MQTTTopic    string        `yaml:"mqtt-topic"`
}

var defaultConfig = Config{
	Serial: SerialConfig{
		Device:       "/dev/ttyACM0",
		BaudRate:     460800,
		ReadTimeout:  time.Second,
		MaxFrameSize: deframer.DefaultMaxFrameSize,
	},
	FrameBufferSize: framebuffer.DefaultSize,
	Broadcast: BroadcastConfig{
		Listen:       "0.0.0.0:8765",
		Interval:     broadcast.DefaultConfig().Interval,
		JPEGQuality:  broadcast.DefaultConfig().JPEGQuality,
		WriteTimeout: broadcast.DefaultConfig().WriteTimeout,
		AcceptRate:   throttle.DefaultRate,
		AcceptBurst:  throttle.DefaultBurst,
	},
	Overlay: OverlayConfig{
		DetectorTimeout:     500 * time.Millisecond,
		InputSize:           overlay.DefaultConfig().InputSize,
		ConfidenceThreshold: overlay.DefaultConfig().ConfidenceThreshold,
		TargetClass:         overlay.DefaultConfig().TargetClass,
		LineWidth:           overlay.DefaultConfig().LineWidth,
	},
	Tracking: TrackingConfig{
		DefaultColor: tracking.DefaultColorName,
		Source:       sourceNone,
		PollInterval: tracking.DefaultPollInterval,
		MQTTBroker:   "tcp://localhost:1883",
		MQTTTopic:    "trackingColor/color",
	},
}

func (conf *Config) Validate() error {
	if conf.Serial.Device == "" {
		return errors.New("serial device must be set")
	}
	if conf.Serial.BaudRate <= 0 {
		return errors.New("baud-rate should be positive")
	}
	if conf.Serial.ReadTimeout <= 0 {
		return errors.New("read-timeout should be positive")
	}
	if conf.Serial.MaxFrameSize <= 0 {
		return errors.New("max-frame-size should be positive")
	}
	if conf.FrameBufferSize < 1 {
		return errors.New("frame-buffer-size should be at least 1")
	}
	if err := conf.Broadcast.Validate(); err != nil {
		return err
	}
	if err := conf.Overlay.Validate(); err != nil {
		return err
	}
	return conf.Tracking.Validate()
}

func (conf *BroadcastConfig) Validate() error {
	if conf.Listen == "" {
		return errors.New("broadcast listen address must be set")
	}
	if conf.Interval <= 0 {
		return errors.New("broadcast interval should be positive")
	}
	if conf.JPEGQuality < 1 || conf.JPEGQuality > 100 {
		return errors.New("jpeg-quality should be in range 1 - 100")
	}
	if conf.WriteTimeout <= 0 {
		return errors.New("write-timeout should be positive")
	}
	if conf.AcceptRate <= 0 {
		return errors.New("accept-rate should be positive")
	}
	if conf.AcceptBurst < 1 {
		return errors.New("accept-burst should be at least 1")
	}
	return nil
}

func (conf *OverlayConfig) Validate() error {
	if conf.DetectorURL != "" && conf.DetectorTimeout <= 0 {
		return errors.New("detector-timeout should be positive")
	}
	if conf.InputSize < 1 {
		return errors.New("input-size should be positive")
	}
	if conf.ConfidenceThreshold < 0 || conf.ConfidenceThreshold > 1 {
		return errors.New("confidence-threshold should be in range 0 - 1")
	}
	if conf.LineWidth < 1 {
		return errors.New("line-width should be at least 1")
	}
	return nil
}

func (conf *TrackingConfig) Validate() error {
	if _, err := tracking.LookupColor(conf.DefaultColor); err != nil {
		return err
	}
	switch conf.Source {
	case sourceHTTP:
		if conf.URL == "" {
			return errors.New("tracking url must be set for the http source")
		}
	case sourceMQTT:
		if conf.MQTTBroker == "" || conf.MQTTTopic == "" {
			return errors.New("mqtt-broker and mqtt-topic must be set for the mqtt source")
		}
	case sourceNone:
		return nil
	default:
		return errors.New("tracking source should be one of http, mqtt or none")
	}
	if conf.PollInterval <= 0 {
		return errors.New("poll-interval should be positive")
	}
	return nil
}

func (conf *OverlayConfig) engineConfig() overlay.Config {
	return overlay.Config{
		InputSize:           conf.InputSize,
		ConfidenceThreshold: conf.ConfidenceThreshold,
		TargetClass:         conf.TargetClass,
		LineWidth:           conf.LineWidth,
	}
}

func (conf *BroadcastConfig) serverConfig() broadcast.Config {
	return broadcast.Config{
		Interval:     conf.Interval,
		JPEGQuality:  conf.JPEGQuality,
		WriteTimeout: conf.WriteTimeout,
	}
}

func ParseConfigFile(filename string) (*Config, error) {
	buf, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseConfig(buf)
}

func ParseConfig(buf []byte) (*Config, error) {
	conf := defaultConfig
	if err := yaml.Unmarshal(buf, &conf); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}
