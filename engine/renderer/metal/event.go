package metal

import (
	"sync"
	"time"

	"github.com/spaghettifunk/anima/engine/core"
)

// EventHandle is anything a command buffer can signal or wait on.
type EventHandle interface {
	Device() *Device
	Label() string
	timeline() *eventTimeline
	// attach returns the notifications whose native events the device
	// sets when it signals value.
	attach(value uint64) []*eventRegistration
	// signal publishes value once the signaling command buffer completed.
	signal(value uint64)
}

// eventTimeline is a monotonically increasing 64-bit counter with waiters.
type eventTimeline struct {
	mu    sync.Mutex
	cond  *sync.Cond
	value uint64
}

func newEventTimeline() *eventTimeline {
	t := &eventTimeline{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *eventTimeline) load() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// advance raises the value to v and reports whether it moved.
func (t *eventTimeline) advance(v uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v <= t.value {
		return false
	}
	t.value = v
	t.cond.Broadcast()
	return true
}

// waitFor blocks until the value reaches v. A non-positive timeout waits
// forever.
func (t *eventTimeline) waitFor(v uint64, timeout time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timeout <= 0 {
		for t.value < v {
			t.cond.Wait()
		}
		return true
	}
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		t.mu.Lock()
		t.cond.Broadcast()
		t.mu.Unlock()
	})
	defer timer.Stop()
	for t.value < v {
		if !time.Now().Before(deadline) {
			return false
		}
		t.cond.Wait()
	}
	return true
}

/**
 * @brief Orders work between command buffers of one device. Command
 * buffers signal a value when they complete and waiting buffers are held
 * back until the value is reached.
 */
type Event struct {
	device *Device
	label  string
	tl     *eventTimeline
}

func (d *Device) MakeEvent() *Event {
	return &Event{device: d, label: core.DefaultLabel("Event"), tl: newEventTimeline()}
}

func (e *Event) Device() *Device                    { return e.device }
func (e *Event) Label() string                      { return e.label }
func (e *Event) SetLabel(label string)              { e.label = label }
func (e *Event) String() string                     { return "Event(" + e.label + ")" }
func (e *Event) timeline() *eventTimeline           { return e.tl }
func (e *Event) attach(uint64) []*eventRegistration { return nil }
func (e *Event) signal(value uint64)                { e.tl.advance(value) }
