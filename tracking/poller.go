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
	"log"
	"sync/atomic"
	"time"

	"github.com/sspu/camera-relay/loglimiter"
)

const (
	DefaultPollInterval = time.Second
	pollLogInterval     = time.Minute
)

// Source returns the tracking color name currently set remotely. An
// empty name means no value is set.
type Source interface {
	Fetch(ctx context.Context) (string, error)
}

// NewPoller returns a Poller that copies the color from source into
// store every interval.
func NewPoller(source Source, store *Store, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		source:   source,
		store:    store,
		interval: interval,
		log:      loglimiter.New(pollLogInterval),
	}
}

type Poller struct {
	source   Source
	store    *Store
	interval time.Duration
	log      *loglimiter.LogLimiter
	errors   atomic.Uint64
}

// Run polls until ctx is done. Failures never stop the poller; the last
// good color stays in effect.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll fetches the remote color once and applies it to the store.
func (p *Poller) Poll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	name, err := p.source.Fetch(ctx)
	if err != nil {
		p.errors.Add(1)
		p.log.Printf("failed to fetch tracking color: %v", err)
		return
	}
	if name == "" {
		return
	}

	changed, err := p.store.Set(name)
	if err != nil {
		p.errors.Add(1)
		p.log.Printf("tracking color not changed: %v", err)
		return
	}
	if changed {
		log.Printf("tracking color updated to: %s", p.store.Current())
	}
}

// Errors returns the number of failed polls.
func (p *Poller) Errors() uint64 {
	return p.errors.Load()
}
