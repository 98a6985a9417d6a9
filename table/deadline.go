package table

import (
	"sync"
	"time"
)

// DeadlineTimers tracks one armed timer per id, for spec.md §4.8's
// "Deadline ... otherwise arm a timer that does the same on expiry" and
// §4.9's `set_deadline`/`invoke(timeout=...)` local arming. Both the
// Dispatcher (remote-set deadlines) and the Engine facade (locally-set
// deadlines) keep their own instance: a deadline is "owned by the side
// that observes it expire first" (spec.md §3), so there is no need to
// share state between the two.
type DeadlineTimers struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewDeadlineTimers returns an empty set.
func NewDeadlineTimers() *DeadlineTimers {
	return &DeadlineTimers{timers: make(map[string]*time.Timer)}
}

// Arm schedules onExpire to run at 'at', replacing any previously armed
// timer for id (spec.md §3: "canceled when the operation completes
// first" — re-arming is the same operation as canceling-then-arming).
func (d *DeadlineTimers) Arm(id string, at time.Time, onExpire func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[id]; ok {
		t.Stop()
	}
	d.timers[id] = time.AfterFunc(time.Until(at), func() {
		d.Cancel(id)
		onExpire()
	})
}

// Cancel stops and forgets the timer for id, if any. Returns whether a
// timer was found. Safe to call even if the timer already fired.
func (d *DeadlineTimers) Cancel(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(d.timers, id)
	return true
}

// CancelAll stops every armed timer, used by engine.Facade.Close.
func (d *DeadlineTimers) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.timers {
		t.Stop()
	}
	d.timers = make(map[string]*time.Timer)
}
