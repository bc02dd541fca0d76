package metal

import (
	"sync"
	"time"

	"github.com/spaghettifunk/anima/engine/containers"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/systems"
)

type listenerEntry struct {
	reg   *eventRegistration
	block SharedEventNotificationBlock
	// statusFailed is set once the native status could not be read.
	statusFailed bool
}

/**
 * @brief Delivers shared event notifications. Pending entries are checked
 * by a single poll job at a time, which reschedules itself with a growing
 * delay until nothing is left.
 */
type SharedEventListener struct {
	device *Device

	mu       sync.Mutex
	pending  *containers.RingQueue[listenerEntry]
	polling  bool
	interval time.Duration
}

func (d *Device) MakeSharedEventListener() *SharedEventListener {
	return &SharedEventListener{
		device:   d,
		pending:  containers.NewGrowableRingQueue[listenerEntry](8),
		interval: d.cfg.PollInterval(),
	}
}

// Pending is the number of notifications not delivered yet.
func (l *SharedEventListener) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending.Len()
}

func (l *SharedEventListener) enqueue(e listenerEntry) {
	l.mu.Lock()
	if err := l.pending.Enqueue(e); err != nil {
		l.mu.Unlock()
		core.LogError("listener dropped notification for %s at %d: %s", e.reg.event.Label(), e.reg.value, err)
		e.reg.event.delivered(e.reg)
		return
	}
	l.mu.Unlock()
	l.poke()
}

// poke starts the poll loop unless one is running or nothing is pending.
func (l *SharedEventListener) poke() {
	l.mu.Lock()
	l.interval = l.device.cfg.PollInterval()
	if l.polling || l.pending.IsEmpty() {
		l.mu.Unlock()
		return
	}
	l.polling = true
	l.mu.Unlock()
	l.schedule()
}

func (l *SharedEventListener) schedule() {
	l.device.jobs.AddWorkNonBlocking(systems.JobTask{
		Name:    "shared-event-listener",
		OnStart: l.poll,
	})
}

// ready reports whether the value of e was reached. When the native status
// cannot be read, the host timeline decides.
func (e *listenerEntry) ready() bool {
	r := e.reg
	set, err := r.native.Status()
	if err == nil {
		return set
	}
	if !e.statusFailed {
		core.LogWarn("listener: native event status for %s at %d: %s; falling back to the host value", r.event.Label(), r.value, err)
		e.statusFailed = true
	}
	return r.event.SignaledValue() >= r.value
}

func (l *SharedEventListener) poll(interface{}) error {
	l.mu.Lock()
	var ready []listenerEntry
	for n := l.pending.Len(); n > 0; n-- {
		e, err := l.pending.Dequeue()
		if err != nil {
			break
		}
		if e.ready() {
			ready = append(ready, e)
		} else {
			_ = l.pending.Enqueue(e)
		}
	}
	empty := l.pending.IsEmpty()
	next := l.interval
	if empty {
		l.polling = false
	} else {
		l.interval = min(2*l.interval, l.device.cfg.MaxPollInterval())
	}
	l.mu.Unlock()

	for _, e := range ready {
		r := e.reg
		// The device set the native event, so the value is at least the
		// one registered for even if completion has not been processed.
		r.event.tl.advance(r.value)
		e.block(r.event, r.event.SignaledValue())
		r.event.delivered(r)
	}
	if !empty {
		time.AfterFunc(next, l.schedule)
	}
	return nil
}
