/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package pigwatch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// tickLoop runs a tick function on a fixed interval, bounding every tick by a
// deadline. Detector and sender workers are built on it.
type tickLoop struct {
	name         string
	pollInterval time.Duration
	tickTimeout  time.Duration
	tick         func(ctx context.Context, now time.Time)
	now          func() time.Time

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

func newTickLoop(name string, pollInterval, tickTimeout time.Duration, tick func(context.Context, time.Time)) *tickLoop {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &tickLoop{
		name:         name,
		pollInterval: pollInterval,
		tickTimeout:  tickTimeout,
		tick:         tick,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
}

// Start begins ticking in the background. The first tick runs immediately.
// Cancelling ctx stops the loop like Stop does.
func (l *tickLoop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(ctx)
	}()
}

// Stop signals the loop and waits for the tick in flight to finish.
func (l *tickLoop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	l.mu.Unlock()

	l.wg.Wait()
	logrus.Infof("%s stopped", l.name)
}

func (l *tickLoop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// RunOnce runs a single bounded tick in the caller's goroutine.
func (l *tickLoop) RunOnce(ctx context.Context) {
	tickCtx := ctx
	if l.tickTimeout > 0 {
		var cancel context.CancelFunc
		tickCtx, cancel = context.WithTimeout(ctx, l.tickTimeout)
		defer cancel()
	}
	l.tick(tickCtx, l.now().UTC())
}

func (l *tickLoop) run(ctx context.Context) {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	l.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			logrus.Infof("%s context cancelled", l.name)
			l.mu.Lock()
			l.running = false
			l.mu.Unlock()
			return
		case <-l.stopCh:
			logrus.Infof("%s stop signal received", l.name)
			return
		case <-ticker.C:
			l.RunOnce(ctx)
		}
	}
}
