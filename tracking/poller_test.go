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
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	value string
	err   error
	calls int
}

func (s *fakeSource) Fetch(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.value, s.err
}

func (s *fakeSource) set(value string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value, s.err = value, err
}

func newTestPoller(t *testing.T) (*fakeSource, *Store, *Poller) {
	store, err := NewStore("orange")
	require.NoError(t, err)
	source := new(fakeSource)
	return source, store, NewPoller(source, store, time.Second)
}

func TestPollAppliesRemoteColor(t *testing.T) {
	source, store, poller := newTestPoller(t)

	source.set("green", nil)
	poller.Poll(context.Background())

	assert.Equal(t, "green", store.Current().Name)
	assert.Equal(t, uint64(0), poller.Errors())
}

func TestPollKeepsLastGoodColor(t *testing.T) {
	source, store, poller := newTestPoller(t)
	source.set("white", nil)
	poller.Poll(context.Background())

	source.set("", errors.New("network down"))
	poller.Poll(context.Background())
	assert.Equal(t, "white", store.Current().Name)

	source.set("purple", nil)
	poller.Poll(context.Background())
	assert.Equal(t, "white", store.Current().Name)

	// Absent remote value.
	source.set("", nil)
	poller.Poll(context.Background())
	assert.Equal(t, "white", store.Current().Name)

	assert.Equal(t, uint64(2), poller.Errors())
}

func TestRunStopsWithContext(t *testing.T) {
	source, store, _ := newTestPoller(t)
	source.set("black", nil)
	poller := NewPoller(source, store, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- poller.Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		return store.Current().Name == "black"
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestHTTPSource(t *testing.T) {
	responses := map[string]struct {
		status int
		body   string
	}{
		"/color":   {http.StatusOK, `"pink"`},
		"/null":    {http.StatusOK, `null`},
		"/number":  {http.StatusOK, `42`},
		"/missing": {http.StatusNotFound, ``},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := responses[r.URL.Path]
		w.WriteHeader(resp.status)
		w.Write([]byte(resp.body))
	}))
	defer server.Close()

	ctx := context.Background()

	value, err := NewHTTPSource(server.URL + "/color").Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pink", value)

	value, err = NewHTTPSource(server.URL + "/null").Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", value)

	_, err = NewHTTPSource(server.URL + "/number").Fetch(ctx)
	assert.Error(t, err)

	_, err = NewHTTPSource(server.URL + "/missing").Fetch(ctx)
	assert.Error(t, err)
}

func TestParseValue(t *testing.T) {
	for payload, want := range map[string]string{
		`"blue"`:    "blue",
		` "green" `: "green",
		"orange\n":  "orange",
		`null`:      "",
		``:          "",
		`" white "`: "white",
	} {
		got, err := parseValue([]byte(payload))
		require.NoError(t, err, payload)
		assert.Equal(t, want, got, payload)
	}

	for _, payload := range []string{`{"color":"blue"}`, `["blue"]`, `12`, `"unterminated`, `two words`} {
		_, err := parseValue([]byte(payload))
		assert.Error(t, err, payload)
	}
}

type fakeMQTTClient struct {
	mqtt.Client
	connected    bool
	subscribeErr error
}

func (c *fakeMQTTClient) IsConnectionOpen() bool {
	return c.connected
}

func (c *fakeMQTTClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{err: c.subscribeErr}
}

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}
func (t *fakeToken) Error() error { return t.err }

type fakeMessage struct {
	mqtt.Message
	payload []byte
}

func (m *fakeMessage) Payload() []byte {
	return m.payload
}

func TestMQTTSourceFollowsMessages(t *testing.T) {
	client := &fakeMQTTClient{connected: true}
	source := &MQTTSource{client: client, topic: "trackingColor/color"}
	ctx := context.Background()

	value, err := source.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", value)

	source.handleMessage(client, &fakeMessage{payload: []byte(`"blue"`)})
	value, err = source.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "blue", value)

	source.handleMessage(client, &fakeMessage{payload: []byte(`{}`)})
	_, err = source.Fetch(ctx)
	assert.Error(t, err)

	source.handleMessage(client, &fakeMessage{payload: []byte(`pink`)})
	value, err = source.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pink", value)

	client.connected = false
	_, err = source.Fetch(ctx)
	assert.EqualError(t, err, "mqtt broker not connected")
}

func TestMQTTSubscribeFailureIsReported(t *testing.T) {
	client := &fakeMQTTClient{connected: true, subscribeErr: errors.New("not authorized")}
	source := &MQTTSource{client: client, topic: "trackingColor/color"}
	store, err := NewStore("orange")
	require.NoError(t, err)
	poller := NewPoller(source, store, time.Second)

	source.subscribe(client)
	_, err = source.Fetch(context.Background())
	assert.EqualError(t, err, "failed to subscribe to trackingColor/color: not authorized")
	poller.Poll(context.Background())
	assert.Equal(t, uint64(1), poller.Errors())

	// A later successful subscription clears the failure.
	client.subscribeErr = nil
	source.subscribe(client)
	_, err = source.Fetch(context.Background())
	assert.NoError(t, err)
	poller.Poll(context.Background())
	assert.Equal(t, uint64(1), poller.Errors())
	assert.Equal(t, "orange", store.Current().Name)
}
