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
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Box is a normalized bounding box: ymin, xmin, ymax, xmax in [0, 1].
type Box [4]float64

func (b Box) YMin() float64 { return b[0] }
func (b Box) XMin() float64 { return b[1] }
func (b Box) YMax() float64 { return b[2] }
func (b Box) XMax() float64 { return b[3] }

// Rect converts b to pixel coordinates within bounds. An inverted box
// gives an empty rectangle.
func (b Box) Rect(bounds image.Rectangle) image.Rectangle {
	if b.XMax() <= b.XMin() || b.YMax() <= b.YMin() {
		return image.Rectangle{}
	}
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	r := image.Rect(
		int(b.XMin()*w), int(b.YMin()*h),
		int(b.XMax()*w), int(b.YMax()*h),
	)
	return r.Add(bounds.Min).Intersect(bounds)
}

type Candidate struct {
	Score float64 `json:"score"`
	Class int     `json:"class"`
	Box   Box     `json:"box"`
}

// Detector finds objects in an image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Candidate, error)
}

// NoDetector never finds anything.
type NoDetector struct{}

func (NoDetector) Detect(context.Context, image.Image) ([]Candidate, error) {
	return nil, nil
}

const detectorJPEGQuality = 90

// NewHTTPDetector returns a Detector which posts each image as a JPEG to
// url and reads back a JSON list of detections.
func NewHTTPDetector(url string, timeout time.Duration) *HTTPDetector {
	return &HTTPDetector{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type HTTPDetector struct {
	url    string
	client *http.Client
}

type detectResponse struct {
	Detections []Candidate `json:"detections"`
}

func (d *HTTPDetector) Detect(ctx context.Context, img image.Image) ([]Candidate, error) {
	body := new(bytes.Buffer)
	if err := jpeg.Encode(body, img, &jpeg.Options{Quality: detectorJPEGQuality}); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("detector returned %s", resp.Status)
	}

	var result detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("invalid detector response: %w", err)
	}
	return result.Detections, nil
}
