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
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"
)

const (
	maxPayloadSize   = 4096
	subscribeTimeout = 10 * time.Second
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NewHTTPSource returns a Source reading a JSON string from url, such as
// a Firebase realtime database REST endpoint.
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		url:    url,
		client: new(http.Client),
	}
}

type HTTPSource struct {
	url    string
	client *http.Client
}

func (s *HTTPSource) Fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected response from %s: %s", s.url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadSize))
	if err != nil {
		return "", err
	}
	return parseValue(body)
}

// parseValue accepts a JSON string, JSON null or a bare word.
func parseValue(payload []byte) (string, error) {
	text := strings.TrimSpace(string(payload))
	switch {
	case text == "" || text == "null":
		return "", nil
	case strings.HasPrefix(text, `"`):
		var value string
		if err := json.UnmarshalFromString(text, &value); err != nil {
			return "", fmt.Errorf("invalid tracking color payload: %w", err)
		}
		return strings.TrimSpace(value), nil
	case isWord(text):
		return text, nil
	}
	return "", fmt.Errorf("tracking color is not a string: %.32s", text)
}

func isWord(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// NewMQTTSource returns a Source which follows the retained value of an
// MQTT topic. Connect must be called before the source is polled.
func NewMQTTSource(broker, topic, clientID string) *MQTTSource {
	s := &MQTTSource{topic: topic}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		log.Printf("mqtt connected, subscribing to %s", s.topic)
		// Waiting on the token inside the handler would block the client.
		go s.subscribe(c)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		log.Printf("mqtt connection lost: %v", err)
	}
	s.client = mqtt.NewClient(opts)
	return s
}

type MQTTSource struct {
	client mqtt.Client
	topic  string

	mu    sync.Mutex
	value string
	err   error
}

// Connect starts connecting to the broker. It only waits up to timeout;
// the client keeps retrying in the background after that.
func (s *MQTTSource) Connect(timeout time.Duration) error {
	token := s.client.Connect()
	if !token.WaitTimeout(timeout) {
		log.Printf("mqtt broker not reachable yet, retrying in background")
		return nil
	}
	return token.Error()
}

func (s *MQTTSource) Fetch(ctx context.Context) (string, error) {
	if !s.client.IsConnectionOpen() {
		return "", errors.New("mqtt broker not connected")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.err
}

func (s *MQTTSource) Close() {
	s.client.Disconnect(250)
}

// subscribe subscribes to the topic and records a failure so that Fetch
// reports it.
func (s *MQTTSource) subscribe(c mqtt.Client) {
	var err error
	token := c.Subscribe(s.topic, 1, s.handleMessage)
	if !token.WaitTimeout(subscribeTimeout) {
		err = fmt.Errorf("timed out subscribing to %s", s.topic)
	} else if token.Error() != nil {
		err = fmt.Errorf("failed to subscribe to %s: %w", s.topic, token.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		log.Printf("mqtt: %v", err)
		s.err = err
		return
	}
	s.err = nil
}

func (s *MQTTSource) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	value, err := parseValue(msg.Payload())
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.err = err
		return
	}
	s.value, s.err = value, nil
}
