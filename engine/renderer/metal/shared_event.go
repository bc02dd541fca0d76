package metal

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

// SharedEventNotificationBlock receives the event and its value once the
// value a listener registered for is reached.
type SharedEventNotificationBlock func(event *SharedEvent, value uint64)

// SharedEventHandle names a shared event so another part of the process
// can open it from the device.
type SharedEventHandle struct {
	ID    uuid.UUID
	Label string
}

// eventRegistration is one notification's native event. The event owns
// it: the native is destroyed once the listener delivered it and no
// command buffer that may still set it is in flight.
type eventRegistration struct {
	event     *SharedEvent
	listener  *SharedEventListener
	value     uint64
	native    driver.Event
	inFlight  bool
	set       bool
	delivered bool
}

/**
 * @brief An event whose value the host can read, set and be notified
 * about. Every notification owns a native event that is either attached
 * to the next command buffer signaling a high enough value or set by the
 * host when the value is reached some other way.
 */
type SharedEvent struct {
	device *Device
	id     uuid.UUID
	tl     *eventTimeline

	mu    sync.Mutex
	label string
	regs  []*eventRegistration
	// listeners counts undelivered registrations per listener.
	listeners map[*SharedEventListener]int
}

func (d *Device) MakeSharedEvent() *SharedEvent {
	ev := &SharedEvent{
		device:    d,
		id:        uuid.New(),
		tl:        newEventTimeline(),
		label:     core.DefaultLabel("SharedEvent"),
		listeners: map[*SharedEventListener]int{},
	}
	d.mu.Lock()
	d.sharedEvents[ev.id] = ev
	d.mu.Unlock()
	return ev
}

// MakeSharedEventWithHandle opens the shared event handle was made from.
func (d *Device) MakeSharedEventWithHandle(handle SharedEventHandle) (*SharedEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ev, ok := d.sharedEvents[handle.ID]
	if !ok {
		return nil, fmt.Errorf("no shared event %s (%s) on %s", handle.ID, handle.Label, d.Name())
	}
	return ev, nil
}

func (s *SharedEvent) Device() *Device          { return s.device }
func (s *SharedEvent) timeline() *eventTimeline { return s.tl }

func (s *SharedEvent) Label() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.label
}

func (s *SharedEvent) SetLabel(label string) {
	s.mu.Lock()
	s.label = label
	s.mu.Unlock()
}

func (s *SharedEvent) MakeSharedEventHandle() SharedEventHandle {
	return SharedEventHandle{ID: s.id, Label: s.Label()}
}

func (s *SharedEvent) SignaledValue() uint64 { return s.tl.load() }

// SetSignaledValue signals value from the host. Values never go backwards.
func (s *SharedEvent) SetSignaledValue(value uint64) {
	s.signal(value)
}

// WaitUntilSignaledValue blocks until value is reached or timeout passes.
// A non-positive timeout waits forever.
func (s *SharedEvent) WaitUntilSignaledValue(value uint64, timeout time.Duration) bool {
	return s.tl.waitFor(value, timeout)
}

// Notify runs block on a listener job once the event reaches value.
func (s *SharedEvent) Notify(listener *SharedEventListener, value uint64, block SharedEventNotificationBlock) error {
	native, err := s.device.gpu.NewEvent()
	if err != nil {
		return err
	}
	r := &eventRegistration{event: s, listener: listener, value: value, native: native}
	s.mu.Lock()
	if s.tl.load() >= value {
		if err := native.Set(); err != nil {
			s.mu.Unlock()
			native.Destroy()
			return err
		}
		r.set = true
	}
	s.regs = append(s.regs, r)
	s.listeners[listener]++
	s.mu.Unlock()
	listener.enqueue(listenerEntry{reg: r, block: block})
	return nil
}

// Listeners is the number of listeners with notifications not delivered yet.
func (s *SharedEvent) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// attach hands the registrations value satisfies to a command buffer that
// will set their natives on the device.
func (s *SharedEvent) attach(value uint64) []*eventRegistration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*eventRegistration
	for _, r := range s.regs {
		if !r.inFlight && !r.set && !r.delivered && r.value <= value {
			r.inFlight = true
			out = append(out, r)
		}
	}
	return out
}

// signal raises the value, sets the native event of every registration it
// satisfies that no command buffer is setting, and asks the listeners to
// look again.
func (s *SharedEvent) signal(value uint64) {
	s.tl.advance(value)
	current := s.tl.load()

	s.mu.Lock()
	for _, r := range s.regs {
		if r.set || r.inFlight || r.delivered || r.value > current {
			continue
		}
		if err := r.native.Set(); err != nil {
			core.LogError("failed to set native event for %s at %d: %s", s.label, r.value, err)
			continue
		}
		r.set = true
	}
	listeners := s.listenerList()
	s.mu.Unlock()

	for _, l := range listeners {
		l.poke()
	}
}

// landed is called when the command buffer r was attached to finished.
func (s *SharedEvent) landed(r *eventRegistration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.inFlight = false
	r.set = true
	if r.delivered {
		s.retire(r)
	}
}

// delivered is called by the listener after the block of r has run.
func (s *SharedEvent) delivered(r *eventRegistration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.delivered = true
	if n := s.listeners[r.listener] - 1; n > 0 {
		s.listeners[r.listener] = n
	} else {
		delete(s.listeners, r.listener)
	}
	if !r.inFlight {
		s.retire(r)
	}
}

// retire destroys the native of r and forgets it. Callers hold s.mu.
func (s *SharedEvent) retire(r *eventRegistration) {
	for i, x := range s.regs {
		if x == r {
			s.regs = append(s.regs[:i], s.regs[i+1:]...)
			break
		}
	}
	r.native.Destroy()
}

func (s *SharedEvent) listenerList() []*SharedEventListener {
	out := make([]*SharedEventListener, 0, len(s.listeners))
	for l := range s.listeners {
		out = append(out, l)
	}
	return out
}

func (s *SharedEvent) String() string {
	return fmt.Sprintf("SharedEvent(%s = %d)", s.Label(), s.SignaledValue())
}
