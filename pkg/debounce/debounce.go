// Package debounce collapses bursts of notifications into a single call.
package debounce

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultDelay is the quiet time after the last notification before firing.
const DefaultDelay = 500 * time.Millisecond

// Debouncer keeps at most one armed timer per key. Each Notify resets the
// key's timer, so `fire` is only called once the key has been quiet for the
// full delay.
type Debouncer struct {
	clock clockwork.Clock
	delay time.Duration
	fire  func(key string)

	lock    sync.Mutex
	timers  map[string]*timer
	gen     uint64
	stopped bool
}

type timer struct {
	handle clockwork.Timer
	gen    uint64
}

// New creates a Debouncer. `fire` is called from the timer's goroutine.
func New(clock clockwork.Clock, delay time.Duration, fire func(key string)) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Debouncer{
		clock:  clock,
		delay:  delay,
		fire:   fire,
		timers: map[string]*timer{},
	}
}

// Notify arms the timer for `key`, replacing any timer that's already armed.
func (d *Debouncer) Notify(key string) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.stopped {
		return
	}

	if t, ok := d.timers[key]; ok {
		t.handle.Stop()
	}

	// The generation guards against a timer whose callback was already
	// running when it was replaced.
	d.gen++
	gen := d.gen
	d.timers[key] = &timer{
		gen: gen,
		handle: d.clock.AfterFunc(d.delay, func() {
			d.expire(key, gen)
		}),
	}
}

func (d *Debouncer) expire(key string, gen uint64) {
	d.lock.Lock()
	t, ok := d.timers[key]
	if !ok || t.gen != gen || d.stopped {
		d.lock.Unlock()
		return
	}
	delete(d.timers, key)
	d.lock.Unlock()

	d.fire(key)
}

// Cancel disarms the timer for `key`, if any.
func (d *Debouncer) Cancel(key string) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if t, ok := d.timers[key]; ok {
		t.handle.Stop()
		delete(d.timers, key)
	}
}

// Stop disarms every timer. Notifications after Stop are ignored.
func (d *Debouncer) Stop() {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.stopped = true
	for key, t := range d.timers {
		t.handle.Stop()
		delete(d.timers, key)
	}
}

// Armed returns the number of keys with a pending timer.
func (d *Debouncer) Armed() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return len(d.timers)
}
