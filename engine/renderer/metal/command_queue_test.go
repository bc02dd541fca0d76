package metal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver/soft"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

func TestQueuePoolBound(t *testing.T) {
	d, _ := newTestDevice(t)
	q, err := d.MakeCommandQueueWithMaxCommandBufferCount(2)
	if err != nil {
		t.Fatal(err)
	}
	a := newTestCommandBuffer(t, q)
	_ = newTestCommandBuffer(t, q)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := q.MakeCommandBufferWithContext(ctx, true); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("third acquisition: got %v, want deadline exceeded", err)
	}

	acquired := make(chan *CommandBuffer)
	go func() {
		cb, err := q.MakeCommandBuffer()
		if err != nil {
			t.Error(err)
		}
		acquired <- cb
	}()
	select {
	case <-acquired:
		t.Fatal("acquired a buffer while the pool was exhausted")
	case <-time.After(30 * time.Millisecond):
	}

	a.Commit()
	waitCompleted(t, a)
	select {
	case cb := <-acquired:
		cb.Commit()
		waitCompleted(t, cb)
	case <-time.After(5 * time.Second):
		t.Fatal("acquisition did not resume after completion")
	}
}

func TestCommandBufferStatusAndMetrics(t *testing.T) {
	d, _ := newTestDevice(t)
	q := newTestQueue(t, d)
	cb := newTestCommandBuffer(t, q)
	if cb.Status() != CommandBufferStatusNotEnqueued {
		t.Fatalf("status = %s", cb.Status())
	}
	cb.Enqueue()
	if cb.Status() != CommandBufferStatusEnqueued {
		t.Fatalf("status = %s", cb.Status())
	}
	cb.Commit()
	waitCompleted(t, cb)
	if cb.Status() != CommandBufferStatusCompleted {
		t.Fatalf("status = %s", cb.Status())
	}
	if cb.GPUEndTime().Before(cb.GPUStartTime()) {
		t.Errorf("end %v before start %v", cb.GPUEndTime(), cb.GPUStartTime())
	}
	committed, completed, failed := q.Metrics().Counts()
	if committed != 1 || completed != 1 || failed != 0 {
		t.Errorf("counts = %d/%d/%d", committed, completed, failed)
	}
}

func TestCompletedHandlersAfterCommit(t *testing.T) {
	d, gpu := newTestDevice(t)
	q := newTestQueue(t, d)
	cb := newTestCommandBuffer(t, q)

	gpu.Pause()
	var mu sync.Mutex
	var order []int
	cb.AddCompletedHandler(func(*CommandBuffer) {
		mu.Lock()
		order = append(order, 0)
		mu.Unlock()
	})
	cb.Commit()
	for i := 1; i <= 3; i++ {
		i := i
		cb.AddCompletedHandler(func(*CommandBuffer) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	gpu.Resume()
	waitCompleted(t, cb)
	q.WaitIdle()

	mu.Lock()
	defer mu.Unlock()
	want := []int{0, 1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("handlers ran %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("handlers ran %v, want %v", order, want)
		}
	}
}

func TestScheduledBeforeCompleted(t *testing.T) {
	d, gpu := newTestDevice(t)
	q := newTestQueue(t, d)
	cb := newTestCommandBuffer(t, q)

	gpu.Pause()
	scheduled := make(chan CommandBufferStatus, 1)
	cb.AddScheduledHandler(func(cb *CommandBuffer) { scheduled <- cb.Status() })
	cb.Commit()
	cb.WaitUntilScheduled()
	if s := <-scheduled; s != CommandBufferStatusScheduled {
		t.Errorf("status in scheduled handler = %s", s)
	}
	gpu.Resume()
	waitCompleted(t, cb)
}

func TestSubmissionOrder(t *testing.T) {
	d, gpu := newTestDevice(t)
	q := newTestQueue(t, d)
	buf, err := d.MakeBuffer(4, metadata.ResourceOptions{})
	if err != nil {
		t.Fatal(err)
	}

	first := newTestCommandBuffer(t, q)
	second := newTestCommandBuffer(t, q)
	first.Enqueue()
	second.Enqueue()

	blit := second.MakeBlitCommandEncoder()
	blit.FillBuffer(buf, metadata.Range{Location: 0, Length: 4}, 2)
	blit.EndEncoding()
	second.Commit()

	time.Sleep(20 * time.Millisecond)
	if second.Status() != CommandBufferStatusCommitted {
		t.Fatalf("second ran before the first was committed: %s", second.Status())
	}

	blit = first.MakeBlitCommandEncoder()
	blit.FillBuffer(buf, metadata.Range{Location: 0, Length: 4}, 1)
	blit.EndEncoding()
	first.Commit()
	waitCompleted(t, second)

	if got := buf.Contents()[0]; got != 2 {
		t.Errorf("buffer = %d, want the later fill 2", got)
	}
	if gpu.Submits() != 2 {
		t.Errorf("submits = %d", gpu.Submits())
	}
}

func TestUnretainedBuffersSkipTracking(t *testing.T) {
	d, _ := newTestDevice(t)
	q := newTestQueue(t, d)
	buf, err := d.MakeBuffer(16, metadata.ResourceOptions{})
	if err != nil {
		t.Fatal(err)
	}

	for _, retained := range []bool{true, false} {
		cb, err := q.MakeCommandBufferWithContext(context.Background(), retained)
		if err != nil {
			t.Fatal(err)
		}
		if cb.RetainedReferences() != retained {
			t.Fatalf("RetainedReferences = %v", cb.RetainedReferences())
		}
		blit := cb.MakeBlitCommandEncoder()
		blit.FillBuffer(buf, metadata.Range{Length: 16}, 7)
		blit.EndEncoding()
		if got := len(cb.tracked); (got > 0) != retained {
			t.Errorf("retained=%v tracked %d resources", retained, got)
		}
		cb.Commit()
		waitCompleted(t, cb)
		if len(cb.tracked) != 0 {
			t.Errorf("tracked resources not released: %d", len(cb.tracked))
		}
	}
}

func TestOneOpenEncoder(t *testing.T) {
	d, _ := newTestDevice(t)
	q := newTestQueue(t, d)
	cb := newTestCommandBuffer(t, q)
	blit := cb.MakeBlitCommandEncoder()

	err := expectPanic(t, func() { cb.MakeComputeCommandEncoder() })
	if err == nil {
		t.Fatal("second encoder opened")
	}
	err = expectPanic(t, func() { cb.Commit() })
	if err == nil {
		t.Fatal("committed with an open encoder")
	}
	blit.EndEncoding()
	cb.Commit()
	waitCompleted(t, cb)
}

func TestEncodersAreSeparatedByBarrier(t *testing.T) {
	d, _ := newTestDevice(t)
	q := newTestQueue(t, d)
	buf, _ := d.MakeBuffer(8, metadata.ResourceOptions{})
	cb := newTestCommandBuffer(t, q)

	for i := 0; i < 2; i++ {
		blit := cb.MakeBlitCommandEncoder()
		blit.FillBuffer(buf, metadata.Range{Length: 8}, uint8(i))
		blit.EndEncoding()
	}
	rec := cb.Native().(*soft.CommandBuffer).Recorded()
	names := make([]string, len(rec))
	for i, r := range rec {
		names[i] = r.Name
	}
	want := []string{"FillBuffer", "PipelineBarrier", "FillBuffer"}
	if len(names) != len(want) {
		t.Fatalf("recorded %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("recorded %v, want %v", names, want)
		}
	}
	cb.Commit()
	waitCompleted(t, cb)
}

func TestLayoutTransitionIdempotent(t *testing.T) {
	d, _ := newTestDevice(t)
	q := newTestQueue(t, d)
	tex, err := d.MakeTexture(metadata.Texture2DDescriptor(metadata.PixelFormatRGBA8Unorm, 4, 4, false))
	if err != nil {
		t.Fatal(err)
	}
	cb := newTestCommandBuffer(t, q)

	if !tex.transitionTo(vk.ImageLayoutGeneral, cb.native) {
		t.Fatal("first transition reported no barrier")
	}
	if tex.transitionTo(vk.ImageLayoutGeneral, cb.native) {
		t.Fatal("second transition to the same layout recorded a barrier")
	}
	barriers := 0
	for _, r := range cb.Native().(*soft.CommandBuffer).Recorded() {
		barriers += r.ImageBarriers
	}
	if barriers != 1 {
		t.Errorf("image barriers = %d, want 1", barriers)
	}
	if tex.Layout() != vk.ImageLayoutGeneral {
		t.Errorf("layout = %d", tex.Layout())
	}
	cb.Commit()
	waitCompleted(t, cb)
}

func TestUnsupportedTransitionPanics(t *testing.T) {
	d, _ := newTestDevice(t)
	q := newTestQueue(t, d)
	tex, err := d.MakeTexture(metadata.Texture2DDescriptor(metadata.PixelFormatRGBA8Unorm, 4, 4, false))
	if err != nil {
		t.Fatal(err)
	}
	cb := newTestCommandBuffer(t, q)
	err = expectPanic(t, func() { tex.transitionTo(vk.ImageLayoutPreinitialized, cb.native) })
	if !errors.Is(err, core.ErrUnsupportedTransition) {
		t.Fatalf("panic = %v, want ErrUnsupportedTransition", err)
	}
	cb.Commit()
	waitCompleted(t, cb)
}

func TestDescriptorPoolsChainWhenExhausted(t *testing.T) {
	d, _ := newTestDevice(t)
	q := newTestQueue(t, d)
	lib := newLibrary(d, "test")
	addStub(lib, "noop", metadata.FunctionTypeKernel, []metadata.ArgumentClass{metadata.ArgumentClassBuffer}, metadata.Size{})
	ps, err := d.MakeComputePipelineState(mustFunction(t, lib, "noop"))
	if err != nil {
		t.Fatal(err)
	}
	defer ps.Release()

	cb := newTestCommandBuffer(t, q)
	enc := cb.MakeComputeCommandEncoder()
	// Each bind takes a set; the test pools hold 8.
	for i := 0; i < 20; i++ {
		enc.SetComputePipelineState(ps)
	}
	enc.EndEncoding()
	if n := q.descriptors.poolCount(); n < 3 {
		t.Errorf("pools = %d, want at least 3", n)
	}
	cb.Commit()
	waitCompleted(t, cb)
}
