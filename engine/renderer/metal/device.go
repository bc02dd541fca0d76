package metal

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/spaghettifunk/anima/engine/assets"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
	"github.com/spaghettifunk/anima/engine/systems"
	"golang.org/x/sync/errgroup"
)

var ErrDeviceClosed = errors.New("device is closed")

// Registry ids are small integers reused once a device closes.
var registry = core.NewIdentifiers(4)

/**
 * @brief One GPU and everything created from it. A device is passed
 * explicitly to every constructor; there is no process-wide default.
 */
type Device struct {
	gpu        driver.GPU
	cfg        *core.Config
	props      driver.Properties
	limits     driver.Limits
	registryID uint32
	jobs       *systems.JobSystem

	mu           sync.Mutex
	queues       []*CommandQueue
	utility      *CommandQueue
	sharedEvents map[uuid.UUID]*SharedEvent
	closed       bool

	renderPasses *specializationCache[renderPassKey, driver.RenderPass]

	libMu          sync.Mutex
	watcher        *assets.LibraryWatcher
	defaultLibrary *Library
	libraryStale   atomic.Bool
}

// NewDevice wraps an opened GPU. A nil cfg uses the defaults.
func NewDevice(gpu driver.GPU, cfg *core.Config) (*Device, error) {
	if gpu == nil {
		return nil, core.ErrNoDevice
	}
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("device config: %w", err)
	}
	jobs, err := systems.NewJobSystem(cfg.Jobs.Workers, cfg.Jobs.Backlog)
	if err != nil {
		return nil, err
	}
	d := &Device{
		gpu:          gpu,
		cfg:          cfg,
		props:        gpu.Properties(),
		limits:       gpu.Limits(),
		jobs:         jobs,
		sharedEvents: map[uuid.UUID]*SharedEvent{},
	}
	d.registryID = registry.Acquire(d)
	d.renderPasses = newSpecializationCache[renderPassKey, driver.RenderPass]("render passes")
	core.LogInfo("device %d: %s (%d workers, %d command buffers per queue)", d.registryID, d.props.Name, cfg.Jobs.Workers, cfg.Queue.MaxCommandBufferCount)
	return d, nil
}

func (d *Device) Name() string       { return d.props.Name }
func (d *Device) RegistryID() uint64 { return uint64(d.registryID) }
func (d *Device) IsHeadless() bool   { return d.props.Headless }
func (d *Device) IsRemovable() bool  { return false }

// IsLowPower reports an integrated or software device.
func (d *Device) IsLowPower() bool {
	return d.props.DeviceType == driver.DeviceTypeIntegrated || d.props.DeviceType == driver.DeviceTypeCPU
}

func (d *Device) MaxBufferLength() int { return int(d.limits.MaxBufferLength) }

func (d *Device) MaxThreadsPerThreadgroup() metadata.Size {
	s := d.limits.MaxComputeWorkGroupSize
	return metadata.NewSize(int(s[0]), int(s[1]), int(s[2]))
}

func (d *Device) MaxThreadgroupMemoryLength() int { return int(d.limits.MaxComputeSharedMemorySize) }

func (d *Device) Config() *core.Config { return d.cfg }
func (d *Device) GPU() driver.GPU      { return d.gpu }

// runUtility records fn into a command buffer of the device's internal
// queue and waits for it to complete.
func (d *Device) runUtility(fn func(cb *CommandBuffer)) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDeviceClosed
	}
	if d.utility == nil {
		q, err := d.newCommandQueue(2)
		if err != nil {
			d.mu.Unlock()
			return err
		}
		q.SetLabel("utility")
		d.utility = q
	}
	q := d.utility
	d.mu.Unlock()

	cb, err := q.MakeCommandBuffer()
	if err != nil {
		return err
	}
	fn(cb)
	cb.Commit()
	cb.WaitUntilCompleted()
	return cb.Error()
}

// Close waits for all committed work, then releases the queues, the job
// system and the device caches. The GPU itself stays open.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	queues := append([]*CommandQueue(nil), d.queues...)
	if d.utility != nil {
		queues = append(queues, d.utility)
	}
	d.queues, d.utility = nil, nil
	d.mu.Unlock()

	var g errgroup.Group
	for _, q := range queues {
		g.Go(q.Close)
	}
	err := g.Wait()

	d.jobs.Shutdown()
	d.libMu.Lock()
	if d.watcher != nil {
		if werr := d.watcher.Close(); werr != nil {
			core.LogWarn("device %d: closing library watcher: %s", d.registryID, werr)
		}
		d.watcher = nil
	}
	d.libMu.Unlock()
	d.renderPasses.drain(func(p driver.RenderPass) { p.Destroy() })
	if werr := d.gpu.WaitIdle(); werr != nil && err == nil {
		err = fmt.Errorf("%w: %w", core.ErrDeviceLost, werr)
	}
	_ = registry.Release(d.registryID)
	core.LogInfo("device %d closed", d.registryID)
	return err
}

func (d *Device) String() string {
	return fmt.Sprintf("Device(%d, %s)", d.registryID, d.props.Name)
}
