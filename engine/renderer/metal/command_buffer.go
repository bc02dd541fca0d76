package metal

import (
	"fmt"
	"sync"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

type CommandBufferStatus int

const (
	CommandBufferStatusNotEnqueued CommandBufferStatus = iota
	CommandBufferStatusEnqueued
	CommandBufferStatusCommitted
	CommandBufferStatusScheduled
	CommandBufferStatusCompleted
	CommandBufferStatusError
)

func (s CommandBufferStatus) String() string {
	switch s {
	case CommandBufferStatusNotEnqueued:
		return "notEnqueued"
	case CommandBufferStatusEnqueued:
		return "enqueued"
	case CommandBufferStatusCommitted:
		return "committed"
	case CommandBufferStatusScheduled:
		return "scheduled"
	case CommandBufferStatusCompleted:
		return "completed"
	case CommandBufferStatusError:
		return "error"
	}
	return "unknown"
}

// CommandBufferHandler is called when a command buffer is scheduled or
// completed.
type CommandBufferHandler func(cb *CommandBuffer)

type eventValue struct {
	event EventHandle
	value uint64
}

/**
 * @brief One use of a pooled command buffer slot, from acquisition until
 * completion. Until Commit the buffer belongs to the caller that acquired
 * it; after Commit the queue owns the cleanup.
 */
type CommandBuffer struct {
	queue    *CommandQueue
	slot     *commandSlot
	native   driver.CommandBuffer
	retained bool

	scheduled *completionGroup
	completed *completionGroup

	mu       sync.Mutex
	label    string
	status   CommandBufferStatus
	err      error
	gpuStart time.Time
	gpuEnd   time.Time

	// Only touched by the owner while recording and by completion.
	descriptorSets []pooledSet
	tracked        []Resource
	transient      []driver.Destroyer
	signals        []eventValue
	waits          []eventValue
	attached       []*eventRegistration
	encoder        CommandEncoder
	encoderCount   int
}

func newCommandBuffer(q *CommandQueue, slot *commandSlot, retained bool) *CommandBuffer {
	cb := &CommandBuffer{
		queue:     q,
		slot:      slot,
		native:    slot.native,
		retained:  retained,
		scheduled: newCompletionGroup(),
		completed: newCompletionGroup(),
		label:     core.DefaultLabel("CommandBuffer"),
	}
	cb.scheduled.enter()
	cb.completed.enter()
	return cb
}

func (cb *CommandBuffer) Device() *Device              { return cb.queue.device }
func (cb *CommandBuffer) CommandQueue() *CommandQueue  { return cb.queue }
func (cb *CommandBuffer) RetainedReferences() bool     { return cb.retained }
func (cb *CommandBuffer) Native() driver.CommandBuffer { return cb.native }

func (cb *CommandBuffer) Label() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.label
}

func (cb *CommandBuffer) SetLabel(label string) {
	cb.mu.Lock()
	cb.label = label
	cb.mu.Unlock()
}

func (cb *CommandBuffer) Status() CommandBufferStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.status
}

// Error is set when the buffer ended in CommandBufferStatusError.
func (cb *CommandBuffer) Error() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.err
}

// GPUStartTime is when the buffer was handed to the device.
func (cb *CommandBuffer) GPUStartTime() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.gpuStart
}

// GPUEndTime is when its fence was observed signaled.
func (cb *CommandBuffer) GPUEndTime() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.gpuEnd
}

func (cb *CommandBuffer) setStatus(s CommandBufferStatus) {
	cb.mu.Lock()
	cb.status = s
	cb.mu.Unlock()
}

// setError records the first failure; the buffer still runs to completion
// but finishes in the error state.
func (cb *CommandBuffer) setError(err error) {
	cb.mu.Lock()
	if cb.err == nil {
		cb.err = err
	}
	cb.mu.Unlock()
	core.LogError("command buffer %s: %s", cb.Label(), err)
}

func (cb *CommandBuffer) isRecording() bool {
	s := cb.Status()
	return s == CommandBufferStatusNotEnqueued || s == CommandBufferStatusEnqueued
}

// AddScheduledHandler registers fn to run once the buffer is handed to the
// device. Registered after that, fn runs immediately.
func (cb *CommandBuffer) AddScheduledHandler(fn CommandBufferHandler) {
	cb.scheduled.notify(func() { fn(cb) })
}

// AddCompletedHandler registers fn to run once the device finished the
// buffer. Handlers run once each, in registration order.
func (cb *CommandBuffer) AddCompletedHandler(fn CommandBufferHandler) {
	cb.completed.notify(func() { fn(cb) })
}

func (cb *CommandBuffer) WaitUntilScheduled() { cb.scheduled.wait() }
func (cb *CommandBuffer) WaitUntilCompleted() { cb.completed.wait() }

// Enqueue reserves the buffer's place in the queue's execution order.
func (cb *CommandBuffer) Enqueue() {
	core.Precondition(cb.Status() == CommandBufferStatusNotEnqueued, "command buffer %s enqueued twice", cb.Label())
	cb.queue.enqueue(cb)
}

// Commit ends recording and submits the buffer. It never blocks on the
// device.
func (cb *CommandBuffer) Commit() {
	core.Precondition(cb.isRecording(), "command buffer %s committed twice", cb.Label())
	core.Precondition(cb.encoder == nil, "command buffer %s committed with an open encoder", cb.Label())

	for _, s := range cb.signals {
		regs := s.event.attach(s.value)
		for _, r := range regs {
			cb.native.SetEvent(r.native, vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit))
		}
		cb.attached = append(cb.attached, regs...)
	}
	cb.native.PipelineBarrier(
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		vk.PipelineStageFlags(vk.PipelineStageHostBit),
		[]driver.MemoryBarrier{{
			SrcAccess: access(vk.AccessMemoryWriteBit),
			DstAccess: access(vk.AccessHostReadBit),
		}}, nil)
	if err := cb.native.End(); err != nil {
		core.Fatalf("%w: ending %s: %w", core.ErrSubmissionFailed, cb.Label(), err)
	}
	if cb.Status() == CommandBufferStatusNotEnqueued {
		cb.queue.enqueue(cb)
	}
	cb.queue.commit(cb)
}

// EncodeSignalEvent sets event to value once every command encoded so far
// has completed.
func (cb *CommandBuffer) EncodeSignalEvent(event EventHandle, value uint64) {
	core.Precondition(cb.encoder == nil, "EncodeSignalEvent with an open encoder")
	core.Precondition(cb.isRecording(), "EncodeSignalEvent after commit")
	cb.signals = append(cb.signals, eventValue{event: event, value: value})
}

// EncodeWaitForEvent holds the buffer back until event reaches value.
func (cb *CommandBuffer) EncodeWaitForEvent(event EventHandle, value uint64) {
	core.Precondition(cb.encoder == nil, "EncodeWaitForEvent with an open encoder")
	core.Precondition(cb.isRecording(), "EncodeWaitForEvent after commit")
	cb.waits = append(cb.waits, eventValue{event: event, value: value})
}

// addTrackedResource keeps r alive until completion. Buffers made with
// unretained references leave lifetime to the caller.
func (cb *CommandBuffer) addTrackedResource(r Resource) {
	if !cb.retained || r == nil {
		return
	}
	cb.tracked = append(cb.tracked, r)
}

func (cb *CommandBuffer) addTransient(d driver.Destroyer) {
	cb.transient = append(cb.transient, d)
}

// allocateSet takes a descriptor set from the queue's pools; it goes back
// only after the buffer completes.
func (cb *CommandBuffer) allocateSet(layout driver.DescriptorSetLayout) driver.DescriptorSet {
	s, err := cb.queue.descriptors.allocate(layout)
	if err != nil {
		core.Fatalf("%w: %w", core.ErrDescriptorPoolExhausted, err)
	}
	cb.descriptorSets = append(cb.descriptorSets, s)
	return s.set
}

// beginEncoder hands the buffer to e. Work of an earlier encoder is made
// visible to e by a full memory barrier.
func (cb *CommandBuffer) beginEncoder(e CommandEncoder) {
	core.Precondition(cb.isRecording(), "encoder opened on committed command buffer %s", cb.Label())
	core.Precondition(cb.encoder == nil, "command buffer %s already has an open encoder", cb.Label())
	if cb.encoderCount > 0 {
		cb.native.PipelineBarrier(
			vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
			vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
			[]driver.MemoryBarrier{{
				SrcAccess: access(vk.AccessMemoryWriteBit),
				DstAccess: access(vk.AccessMemoryReadBit, vk.AccessMemoryWriteBit),
			}}, nil)
	}
	cb.encoder = e
	cb.encoderCount++
}

func (cb *CommandBuffer) endEncoder(e CommandEncoder) {
	core.Precondition(cb.encoder == e, "ending an encoder that is not open on %s", cb.Label())
	cb.encoder = nil
}

// release drops everything the buffer held for the device.
func (cb *CommandBuffer) release() {
	cb.queue.descriptors.free(cb.descriptorSets)
	for _, d := range cb.transient {
		d.Destroy()
	}
	cb.descriptorSets = nil
	cb.transient = nil
	cb.tracked = nil
	cb.signals = nil
	cb.waits = nil
	cb.attached = nil
}

func (cb *CommandBuffer) String() string {
	return fmt.Sprintf("CommandBuffer(%s, %s)", cb.Label(), cb.Status())
}
