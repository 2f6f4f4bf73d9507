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
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/coreos/go-systemd/daemon"
	"github.com/prometheus/client_golang/prometheus"
	tomb "gopkg.in/tomb.v2"

	"github.com/sspu/camera-relay/broadcast"
	"github.com/sspu/camera-relay/deframer"
	"github.com/sspu/camera-relay/framebuffer"
	"github.com/sspu/camera-relay/metrics"
	"github.com/sspu/camera-relay/overlay"
	"github.com/sspu/camera-relay/throttle"
	"github.com/sspu/camera-relay/tracking"
)

const (
	watchdogInterval   = 5 * time.Second
	mqttConnectTimeout = 5 * time.Second
	shutdownTimeout    = 2 * time.Second
)

var version = "<not set>"

type Args struct {
	ConfigFile string `arg:"-c,--config" help:"path to configuration file"`
	Quick      bool   `arg:"-q,--quick" help:"don't cycle camera power on startup"`
	Timestamps bool   `arg:"-t,--timestamps" help:"include timestamps in log output"`
}

func (Args) Version() string {
	return version
}

func procArgs() Args {
	var args Args
	args.ConfigFile = "/etc/camera-relay.yaml"
	arg.MustParse(&args)
	return args
}

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err)
	}
}

func runMain() error {
	args := procArgs()
	if !args.Timestamps {
		log.SetFlags(0)
	}

	log.Printf("version: %s", version)
	conf, err := ParseConfigFile(args.ConfigFile)
	if err != nil {
		return err
	}
	logConfig(conf)

	if !args.Quick {
		if err := cycleCameraPower(conf.PowerPin); err != nil {
			return err
		}
	}

	log.Printf("opening %s at %d baud", conf.Serial.Device, conf.Serial.BaudRate)
	port, err := deframer.OpenSerial(conf.Serial.Device, conf.Serial.BaudRate, conf.Serial.ReadTimeout)
	if err != nil {
		return fmt.Errorf("failed to open serial device: %v", err)
	}
	defer port.Close()

	colors, err := tracking.NewStore(conf.Tracking.DefaultColor)
	if err != nil {
		return err
	}
	source, err := newTrackingSource(&conf.Tracking)
	if err != nil {
		return err
	}
	if closer, ok := source.(interface{ Close() }); ok {
		defer closer.Close()
	}

	var detector overlay.Detector = overlay.NoDetector{}
	if conf.Overlay.DetectorURL != "" {
		detector = overlay.NewHTTPDetector(conf.Overlay.DetectorURL, conf.Overlay.DetectorTimeout)
	}

	frames := framebuffer.New(conf.FrameBufferSize)
	r := &relay{
		deframer: deframer.New(port, conf.Serial.MaxFrameSize),
		frames:   frames,
		engine:   overlay.New(detector, colors, conf.Overlay.engineConfig()),
		admitter: throttle.NewAdmitter(conf.Broadcast.AcceptRate, conf.Broadcast.AcceptBurst),
		colors:   colors,
	}
	r.server = broadcast.NewServer(frames, r.engine, r.admitter, conf.Broadcast.serverConfig())
	if source != nil {
		r.poller = tracking.NewPoller(source, colors, conf.Tracking.PollInterval)
	}

	reg := prometheus.NewRegistry()
	components := metrics.Components{
		Deframer:  r.deframer,
		Buffer:    r.frames,
		Overlay:   r.engine,
		Broadcast: r.server,
		Admitter:  r.admitter,
		Colors:    r.colors,
	}
	if r.poller != nil {
		components.Poller = r.poller
	}
	if err := metrics.Register(reg, components); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", conf.Broadcast.Listen)
	if err != nil {
		return err
	}
	httpServer := &http.Server{Handler: r.server.Handler(metrics.Handler(reg))}

	if conf.DBus {
		log.Print("starting dbus service")
		if err := startService(colors, r.statsMap); err != nil {
			return err
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	var t tomb.Tomb
	ctx := t.Context(nil)
	t.Go(func() error {
		select {
		case sig := <-sigs:
			log.Printf("received %s, shutting down", sig)
			t.Kill(nil)
		case <-t.Dying():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
		// Unblocks the deframer.
		port.Close()
		return nil
	})
	t.Go(func() error {
		log.Printf("serving viewers on %s", listener.Addr())
		if err := httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	t.Go(func() error {
		return r.server.Run(ctx)
	})
	if r.poller != nil {
		t.Go(func() error {
			return r.poller.Run(ctx)
		})
	}
	t.Go(func() error {
		return r.logStatsEvery(ctx, statsLogInterval)
	})
	t.Go(func() error {
		return notifyWatchdog(ctx, r.deframer)
	})
	t.Go(func() error {
		log.Print("reading frames")
		err := r.deframer.Run(frames)
		select {
		case <-t.Dying():
			return nil
		default:
		}
		return err
	})

	daemon.SdNotify(false, "READY=1")
	return t.Wait()
}

func newTrackingSource(conf *TrackingConfig) (tracking.Source, error) {
	switch conf.Source {
	case sourceHTTP:
		log.Printf("polling tracking color from %s", conf.URL)
		return tracking.NewHTTPSource(conf.URL), nil
	case sourceMQTT:
		log.Printf("following tracking color on %s %s", conf.MQTTBroker, conf.MQTTTopic)
		s := tracking.NewMQTTSource(conf.MQTTBroker, conf.MQTTTopic, fmt.Sprintf("camera-relay-%d", os.Getpid()))
		if err := s.Connect(mqttConnectTimeout); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, nil
}

// notifyWatchdog pets the systemd watchdog only while frames keep
// arriving, so a stalled camera gets the service restarted.
func notifyWatchdog(ctx context.Context, d *deframer.Deframer) error {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	var lastFrames uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			frames := d.Stats().Frames
			if frames != lastFrames {
				daemon.SdNotify(false, "WATCHDOG=1")
				lastFrames = frames
			}
		}
	}
}

func logConfig(conf *Config) {
	log.Printf("serial device: %s", conf.Serial.Device)
	log.Printf("baud rate: %d", conf.Serial.BaudRate)
	log.Printf("max frame size: %d", conf.Serial.MaxFrameSize)
	log.Printf("frame buffer size: %d", conf.FrameBufferSize)
	if conf.PowerPin != "" {
		log.Printf("power pin: %s", conf.PowerPin)
	}
	log.Printf("listen: %s", conf.Broadcast.Listen)
	log.Printf("broadcast interval: %s", conf.Broadcast.Interval)
	log.Printf("jpeg quality: %d", conf.Broadcast.JPEGQuality)
	if conf.Overlay.DetectorURL != "" {
		log.Printf("detector: %s (threshold %.2f, class %d)",
			conf.Overlay.DetectorURL, conf.Overlay.ConfidenceThreshold, conf.Overlay.TargetClass)
	} else {
		log.Print("detector: none")
	}
	log.Printf("default tracking color: %s", conf.Tracking.DefaultColor)
	log.Printf("tracking source: %s", conf.Tracking.Source)
}
