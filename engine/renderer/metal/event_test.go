package metal

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

func TestEventOrdersQueues(t *testing.T) {
	d, _ := newTestDevice(t)
	producer := newTestQueue(t, d)
	consumer := newTestQueue(t, d)
	ev := d.MakeEvent()
	buf, _ := d.MakeBuffer(4, metadata.ResourceOptions{})

	waiter := newTestCommandBuffer(t, consumer)
	waiter.EncodeWaitForEvent(ev, 1)
	blit := waiter.MakeBlitCommandEncoder()
	blit.FillBuffer(buf, metadata.Range{Length: 4}, 2)
	blit.EndEncoding()
	waiter.Commit()

	time.Sleep(30 * time.Millisecond)
	if s := waiter.Status(); s != CommandBufferStatusCommitted {
		t.Fatalf("waiter reached %s before the event was signaled", s)
	}

	signaler := newTestCommandBuffer(t, producer)
	blit = signaler.MakeBlitCommandEncoder()
	blit.FillBuffer(buf, metadata.Range{Length: 4}, 1)
	blit.EndEncoding()
	signaler.EncodeSignalEvent(ev, 1)
	signaler.Commit()

	waitCompleted(t, signaler)
	waitCompleted(t, waiter)
	if got := buf.Contents()[0]; got != 2 {
		t.Errorf("buffer = %d, want the waiter's fill 2", got)
	}
}

func TestSharedEventListenerAfterCommit(t *testing.T) {
	d, _ := newTestDevice(t)
	q := newTestQueue(t, d)
	se := d.MakeSharedEvent()
	l := d.MakeSharedEventListener()

	got := make(chan uint64, 1)
	if err := se.Notify(l, 1, func(ev *SharedEvent, v uint64) {
		if ev != se {
			t.Errorf("notified with %s", ev)
		}
		got <- v
	}); err != nil {
		t.Fatal(err)
	}

	cb := newTestCommandBuffer(t, q)
	cb.EncodeSignalEvent(se, 1)
	cb.Commit()
	waitCompleted(t, cb)

	select {
	case v := <-got:
		if v != 1 {
			t.Errorf("notified with value %d", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listener was not notified")
	}
	if se.SignaledValue() != 1 {
		t.Errorf("SignaledValue = %d", se.SignaledValue())
	}
}

func TestSharedEventHostSignal(t *testing.T) {
	d, _ := newTestDevice(t)
	se := d.MakeSharedEvent()
	l := d.MakeSharedEventListener()

	got := make(chan uint64, 1)
	if err := se.Notify(l, 5, func(_ *SharedEvent, v uint64) { got <- v }); err != nil {
		t.Fatal(err)
	}
	se.SetSignaledValue(3)
	select {
	case <-got:
		t.Fatal("notified below the registered value")
	case <-time.After(30 * time.Millisecond):
	}

	se.SetSignaledValue(5)
	select {
	case v := <-got:
		if v != 5 {
			t.Errorf("notified with %d", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listener was not notified")
	}

	se.SetSignaledValue(2)
	if se.SignaledValue() != 5 {
		t.Errorf("value went backwards to %d", se.SignaledValue())
	}
}

func TestSharedEventNotifyAlreadyReached(t *testing.T) {
	d, _ := newTestDevice(t)
	se := d.MakeSharedEvent()
	se.SetSignaledValue(10)
	l := d.MakeSharedEventListener()

	got := make(chan uint64, 1)
	if err := se.Notify(l, 4, func(_ *SharedEvent, v uint64) { got <- v }); err != nil {
		t.Fatal(err)
	}
	select {
	case v := <-got:
		if v != 10 {
			t.Errorf("notified with %d, want the current value 10", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listener was not notified")
	}
	if l.Pending() != 0 {
		t.Errorf("Pending = %d", l.Pending())
	}
}

func TestWaitUntilSignaledValue(t *testing.T) {
	d, _ := newTestDevice(t)
	se := d.MakeSharedEvent()
	if se.WaitUntilSignaledValue(1, 20*time.Millisecond) {
		t.Fatal("wait succeeded on an unsignaled event")
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		se.SetSignaledValue(2)
	}()
	if !se.WaitUntilSignaledValue(2, 5*time.Second) {
		t.Fatal("wait timed out after the event was signaled")
	}
}

func TestSharedEventHandle(t *testing.T) {
	d, _ := newTestDevice(t)
	se := d.MakeSharedEvent()
	se.SetLabel("frame")
	h := se.MakeSharedEventHandle()
	if h.Label != "frame" {
		t.Errorf("handle label = %q", h.Label)
	}
	opened, err := d.MakeSharedEventWithHandle(h)
	if err != nil {
		t.Fatal(err)
	}
	if opened != se {
		t.Error("handle opened a different event")
	}
	if _, err := d.MakeSharedEventWithHandle(SharedEventHandle{ID: uuid.New()}); err == nil {
		t.Error("unknown handle opened an event")
	}
}

// eventually polls cond until it holds or a few seconds pass.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSharedEventListenerBeforeFence(t *testing.T) {
	d, gpu := newTestDevice(t)
	gpu.SetFenceLatency(100 * time.Millisecond)
	q := newTestQueue(t, d)
	se := d.MakeSharedEvent()
	l := d.MakeSharedEventListener()

	cb := newTestCommandBuffer(t, q)
	statusAtDelivery := make(chan CommandBufferStatus, 1)
	if err := se.Notify(l, 1, func(*SharedEvent, uint64) { statusAtDelivery <- cb.Status() }); err != nil {
		t.Fatal(err)
	}
	if se.Listeners() != 1 {
		t.Fatalf("Listeners = %d", se.Listeners())
	}
	cb.EncodeSignalEvent(se, 1)
	cb.Commit()

	select {
	case s := <-statusAtDelivery:
		if s == CommandBufferStatusCompleted {
			t.Error("notification waited for the fence")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listener was not notified")
	}
	waitCompleted(t, cb)
	// Completion sets nothing on a native event the listener already
	// consumed; the device cleanup reports any such use.
	eventually(t, "registration release", func() bool {
		se.mu.Lock()
		defer se.mu.Unlock()
		return len(se.regs) == 0
	})
	if se.Listeners() != 0 {
		t.Errorf("Listeners = %d after delivery", se.Listeners())
	}
}

func TestSharedEventForgetsDeliveredListeners(t *testing.T) {
	d, _ := newTestDevice(t)
	se := d.MakeSharedEvent()
	l := d.MakeSharedEventListener()

	got := make(chan uint64, 2)
	for _, v := range []uint64{1, 2} {
		if err := se.Notify(l, v, func(_ *SharedEvent, v uint64) { got <- v }); err != nil {
			t.Fatal(err)
		}
	}
	if se.Listeners() != 1 {
		t.Fatalf("Listeners = %d, want one listener with two notifications", se.Listeners())
	}
	se.SetSignaledValue(1)
	<-got
	eventually(t, "first delivery", func() bool {
		se.mu.Lock()
		defer se.mu.Unlock()
		return len(se.regs) == 1
	})
	if se.Listeners() != 1 {
		t.Errorf("listener forgotten with a notification outstanding")
	}
	se.SetSignaledValue(2)
	<-got
	eventually(t, "listener release", func() bool { return se.Listeners() == 0 })
}

func TestListenerFallsBackWhenStatusFails(t *testing.T) {
	d, gpu := newTestDevice(t)
	gpu.FailEventStatus(errors.New("status unavailable"))
	defer gpu.FailEventStatus(nil)
	se := d.MakeSharedEvent()
	l := d.MakeSharedEventListener()

	got := make(chan uint64, 1)
	if err := se.Notify(l, 2, func(_ *SharedEvent, v uint64) { got <- v }); err != nil {
		t.Fatal(err)
	}
	se.SetSignaledValue(1)
	select {
	case <-got:
		t.Fatal("notified below the registered value")
	case <-time.After(30 * time.Millisecond):
	}
	if l.Pending() != 1 {
		t.Fatalf("Pending = %d, the notification was dropped", l.Pending())
	}

	se.SetSignaledValue(2)
	select {
	case v := <-got:
		if v != 2 {
			t.Errorf("notified with %d", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listener was not notified")
	}
}
