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

package overlay

import (
	"context"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPDetector(t *testing.T) {
	var received image.Rectangle
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		img, err := jpeg.Decode(r.Body)
		if assert.NoError(t, err) {
			received = img.Bounds()
		}
		w.Write([]byte(`{"detections":[
			{"score":0.92,"class":1,"box":[0.1,0.2,0.3,0.4]},
			{"score":0.3,"class":7,"box":[0,0,1,1]}
		]}`))
	}))
	defer server.Close()

	d := NewHTTPDetector(server.URL, time.Second)
	candidates, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 32, 32)))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 32), received)
	assert.Equal(t, []Candidate{
		{Score: 0.92, Class: 1, Box: Box{0.1, 0.2, 0.3, 0.4}},
		{Score: 0.3, Class: 7, Box: Box{0, 0, 1, 1}},
	}, candidates)
}

func TestHTTPDetectorErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/broken":
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
		case "/garbage":
			w.Write([]byte(`not json`))
		}
	}))
	defer server.Close()

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	_, err := NewHTTPDetector(server.URL+"/broken", time.Second).Detect(context.Background(), img)
	assert.EqualError(t, err, "detector returned 503 Service Unavailable")

	_, err = NewHTTPDetector(server.URL+"/garbage", time.Second).Detect(context.Background(), img)
	assert.Error(t, err)
}
