package metal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/anima/engine/containers"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
	"github.com/spaghettifunk/anima/engine/systems"
	"golang.org/x/sync/semaphore"
)

var ErrQueueClosed = errors.New("command queue is closed")

// commandSlot is a reusable native command buffer and the fence that
// tracks its submission.
type commandSlot struct {
	index  int
	native driver.CommandBuffer
	fence  driver.Fence
}

/**
 * @brief Hands out command buffers from a fixed pool and submits them in
 * enqueue order. At most MaxCommandBufferCount buffers are acquired and
 * not yet completed at any time; further acquisitions wait.
 */
type CommandQueue struct {
	device      *Device
	label       string
	capacity    int
	sem         *semaphore.Weighted
	descriptors *descriptorAllocator
	metrics     *core.Metrics

	mu      sync.Mutex
	cond    *sync.Cond
	slots   []*commandSlot
	free    *containers.RingQueue[int]
	order   *containers.RingQueue[*CommandBuffer]
	active  int
	closing bool
	done    chan struct{}
	fences  sync.WaitGroup
}

func (d *Device) MakeCommandQueue() (*CommandQueue, error) {
	return d.MakeCommandQueueWithMaxCommandBufferCount(d.cfg.Queue.MaxCommandBufferCount)
}

func (d *Device) MakeCommandQueueWithMaxCommandBufferCount(count int) (*CommandQueue, error) {
	q, err := d.newCommandQueue(count)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		q.Close()
		return nil, ErrQueueClosed
	}
	d.queues = append(d.queues, q)
	return q, nil
}

func (d *Device) newCommandQueue(count int) (*CommandQueue, error) {
	if count <= 0 {
		return nil, fmt.Errorf("command queue needs at least one command buffer, got %d", count)
	}
	q := &CommandQueue{
		device:      d,
		label:       core.DefaultLabel("CommandQueue"),
		capacity:    count,
		sem:         semaphore.NewWeighted(int64(count)),
		descriptors: newDescriptorAllocator(d.gpu, d.cfg.Queue.DescriptorSetsPerPool),
		metrics:     core.NewMetrics(),
		slots:       make([]*commandSlot, count),
		free:        containers.NewRingQueue[int](count),
		order:       containers.NewRingQueue[*CommandBuffer](count),
		done:        make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	for i := 0; i < count; i++ {
		_ = q.free.Enqueue(i)
	}
	go q.submitter()
	core.LogDebug("command queue %s created with %d command buffers", q.label, count)
	return q, nil
}

func (q *CommandQueue) Device() *Device            { return q.device }
func (q *CommandQueue) Label() string              { return q.label }
func (q *CommandQueue) SetLabel(label string)      { q.label = label }
func (q *CommandQueue) MaxCommandBufferCount() int { return q.capacity }
func (q *CommandQueue) Metrics() *core.Metrics     { return q.metrics }

// MakeCommandBuffer returns a buffer that keeps every resource it uses
// alive until it completes. It blocks while the pool is exhausted.
func (q *CommandQueue) MakeCommandBuffer() (*CommandBuffer, error) {
	return q.MakeCommandBufferWithContext(context.Background(), true)
}

// MakeCommandBufferWithUnretainedReferences skips resource tracking; the
// caller keeps resources alive until completion.
func (q *CommandQueue) MakeCommandBufferWithUnretainedReferences() (*CommandBuffer, error) {
	return q.MakeCommandBufferWithContext(context.Background(), false)
}

// MakeCommandBufferWithContext waits for a free slot until ctx is done.
func (q *CommandQueue) MakeCommandBufferWithContext(ctx context.Context, retained bool) (*CommandBuffer, error) {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	q.mu.Lock()
	if q.closing {
		q.mu.Unlock()
		q.sem.Release(1)
		return nil, ErrQueueClosed
	}
	idx, err := q.free.Dequeue()
	if err != nil {
		q.mu.Unlock()
		q.sem.Release(1)
		return nil, fmt.Errorf("command queue %s: no free slot: %w", q.label, err)
	}
	slot := q.slots[idx]
	q.mu.Unlock()

	if slot == nil {
		if slot, err = q.newSlot(idx); err != nil {
			q.returnSlot(idx)
			return nil, err
		}
	}
	if err := slot.fence.Reset(); err != nil {
		q.returnSlot(idx)
		return nil, err
	}
	if err := slot.native.Begin(); err != nil {
		q.returnSlot(idx)
		return nil, err
	}
	return newCommandBuffer(q, slot, retained), nil
}

func (q *CommandQueue) newSlot(idx int) (*commandSlot, error) {
	native, err := q.device.gpu.NewCommandBuffer()
	if err != nil {
		return nil, err
	}
	fence, err := q.device.gpu.NewFence(false)
	if err != nil {
		native.Destroy()
		return nil, err
	}
	s := &commandSlot{index: idx, native: native, fence: fence}
	q.mu.Lock()
	q.slots[idx] = s
	q.mu.Unlock()
	return s, nil
}

func (q *CommandQueue) returnSlot(idx int) {
	q.mu.Lock()
	_ = q.free.Enqueue(idx)
	q.mu.Unlock()
	q.sem.Release(1)
}

func (q *CommandQueue) enqueue(cb *CommandBuffer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	// The order ring holds at most one entry per acquired slot.
	if err := q.order.Enqueue(cb); err != nil {
		core.Fatalf("command queue %s: enqueue: %w", q.label, err)
	}
	cb.setStatus(CommandBufferStatusEnqueued)
}

func (q *CommandQueue) commit(cb *CommandBuffer) {
	q.metrics.Committed()
	q.mu.Lock()
	cb.setStatus(CommandBufferStatusCommitted)
	q.active++
	q.cond.Broadcast()
	q.mu.Unlock()
}

// next blocks until the oldest enqueued buffer is committed. It returns
// nil once the queue is closing and nothing committed is left.
func (q *CommandQueue) next() *CommandBuffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		head, err := q.order.Peek()
		if err == nil && head.Status() == CommandBufferStatusCommitted {
			_, _ = q.order.Dequeue()
			return head
		}
		if q.closing {
			return nil
		}
		q.cond.Wait()
	}
}

// submitter hands committed buffers to the device in enqueue order.
func (q *CommandQueue) submitter() {
	defer close(q.done)
	for {
		cb := q.next()
		if cb == nil {
			return
		}
		q.submit(cb)
	}
}

func (q *CommandQueue) submit(cb *CommandBuffer) {
	// Waits resolve on the host: the device never sees a buffer whose
	// dependencies are not met yet.
	for _, w := range cb.waits {
		w.event.timeline().waitFor(w.value, 0)
	}

	cb.mu.Lock()
	cb.gpuStart = time.Now()
	cb.mu.Unlock()
	if err := q.device.gpu.Submit(cb.native, cb.slot.fence); err != nil {
		q.metrics.Failed()
		core.Fatalf("%w: %s: %w", core.ErrSubmissionFailed, cb.Label(), err)
	}
	cb.setStatus(CommandBufferStatusScheduled)
	cb.scheduled.leave()
	for _, r := range cb.attached {
		r.listener.poke()
	}

	q.fences.Add(1)
	err := q.device.jobs.Submit(systems.JobTask{
		Name:        "fence:" + cb.Label(),
		InputParams: cb,
		OnStart:     q.awaitFence,
	})
	if err != nil {
		go q.awaitFence(cb)
	}
}

// awaitFence runs on the job system until the buffer's fence signals.
func (q *CommandQueue) awaitFence(params interface{}) error {
	cb := params.(*CommandBuffer)
	defer q.fences.Done()

	timeout := q.device.cfg.FenceTimeout()
	for {
		ok, err := cb.slot.fence.Wait(timeout)
		if err != nil {
			err = fmt.Errorf("%w: %w", core.ErrDeviceLost, err)
			cb.setError(err)
			q.finish(cb)
			return err
		}
		if ok {
			break
		}
		core.LogWarn("command buffer %s still running after %s", cb.Label(), timeout)
	}
	q.finish(cb)
	return nil
}

// finish publishes completion: signaled events, then resource release,
// then completed handlers, and finally the slot goes back to the pool.
func (q *CommandQueue) finish(cb *CommandBuffer) {
	cb.mu.Lock()
	cb.gpuEnd = time.Now()
	gpuTime := cb.gpuEnd.Sub(cb.gpuStart)
	failed := cb.err != nil
	if failed {
		cb.status = CommandBufferStatusError
	} else {
		cb.status = CommandBufferStatusCompleted
	}
	cb.mu.Unlock()

	for _, s := range cb.signals {
		s.event.signal(s.value)
	}
	for _, r := range cb.attached {
		r.event.landed(r)
	}
	cb.release()
	if failed {
		q.metrics.Failed()
	} else {
		q.metrics.Completed(gpuTime)
	}
	cb.completed.leave()

	if err := cb.native.Reset(); err != nil {
		core.LogWarn("failed to reset command buffer slot %d: %s", cb.slot.index, err)
	}
	q.mu.Lock()
	q.active--
	q.cond.Broadcast()
	q.mu.Unlock()
	q.returnSlot(cb.slot.index)
}

// WaitIdle blocks until every committed buffer has completed.
func (q *CommandQueue) WaitIdle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.active > 0 {
		q.cond.Wait()
	}
}

// Close waits for committed work, then stops the submitter and destroys
// the pool. Buffers acquired but never committed are abandoned.
func (q *CommandQueue) Close() error {
	q.WaitIdle()

	q.mu.Lock()
	if q.closing {
		q.mu.Unlock()
		return nil
	}
	q.closing = true
	q.cond.Broadcast()
	q.mu.Unlock()

	<-q.done
	q.fences.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, s := range q.slots {
		if s != nil {
			s.native.Destroy()
			s.fence.Destroy()
		}
	}
	q.descriptors.destroy()
	committed, completed, failed := q.metrics.Counts()
	core.LogDebug("command queue %s closed (%d committed, %d completed, %d failed)", q.label, committed, completed, failed)
	return nil
}

func (q *CommandQueue) String() string {
	return fmt.Sprintf("CommandQueue(%s, %d slots)", q.label, q.capacity)
}
