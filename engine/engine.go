package engine

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
	"github.com/spaghettifunk/anima/engine/renderer/metal"

	// Registered drivers.
	_ "github.com/spaghettifunk/anima/engine/renderer/driver/soft"
	_ "github.com/spaghettifunk/anima/engine/renderer/vulkan"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released every device and driver
	EngineStageShutdown
)

func (s Stage) String() string {
	switch s {
	case EngineStageUninitialized:
		return "uninitialized"
	case EngineStageBooting:
		return "booting"
	case EngineStageInitialized:
		return "initialized"
	case EngineStageShuttingDown:
		return "shutting down"
	case EngineStageShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

// validationToggler is implemented by drivers with optional validation
// layers.
type validationToggler interface {
	SetValidation(enabled bool)
}

// Engine owns the devices opened from a configuration and the drivers
// behind them.
type Engine struct {
	mu           sync.Mutex
	currentStage Stage
	cfg          *core.Config
	clock        *core.Clock
	devices      []*metal.Device
	drivers      []driver.Driver
}

// New validates cfg (nil means the defaults) and applies its log level.
func New(cfg *core.Config) (*Engine, error) {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		core.LogError("%s", err.Error())
		return nil, err
	}
	if err := core.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	return &Engine{
		currentStage: EngineStageUninitialized,
		cfg:          cfg,
		clock:        core.NewClock(),
	}, nil
}

func (e *Engine) Stage() Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentStage
}

// Initialize opens the configured driver and creates the default device.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentStage != EngineStageUninitialized {
		return fmt.Errorf("engine already %s", e.currentStage)
	}
	e.currentStage = EngineStageBooting
	e.clock.Start()

	drv, dev, err := openDevice(e.cfg.Driver, e.cfg)
	if err != nil {
		e.currentStage = EngineStageUninitialized
		return err
	}
	e.drivers = append(e.drivers, drv)
	e.devices = append(e.devices, dev)

	e.clock.Update()
	core.LogInfo("engine initialized on '%s' in %s", dev.Name(), e.clock.Elapsed())
	e.currentStage = EngineStageInitialized
	return nil
}

// Device returns the default device, nil before Initialize.
func (e *Engine) Device() *metal.Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.devices) == 0 {
		return nil
	}
	return e.devices[0]
}

// Shutdown closes every device, then the drivers. It is safe to call more
// than once.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	if e.currentStage == EngineStageShuttingDown || e.currentStage == EngineStageShutdown {
		e.mu.Unlock()
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	devices, drivers := e.devices, e.drivers
	e.devices, e.drivers = nil, nil
	e.mu.Unlock()

	var firstErr error
	for _, d := range devices {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, drv := range drivers {
		drv.Close()
	}
	e.clock.Stop()

	e.mu.Lock()
	e.currentStage = EngineStageShutdown
	e.mu.Unlock()
	core.LogInfo("engine shutdown after %s", e.clock.Elapsed())
	return firstErr
}

func openDevice(name string, cfg *core.Config) (driver.Driver, *metal.Device, error) {
	drv, ok := driver.Lookup(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", core.ErrUnknownDriver, name)
	}
	if v, ok := drv.(validationToggler); ok && cfg.Validation {
		v.SetValidation(true)
	}
	gpu, err := drv.Open()
	if err != nil {
		core.LogError("driver '%s': %s", name, err)
		return nil, nil, fmt.Errorf("open driver %q: %w", name, err)
	}
	dev, err := metal.NewDevice(gpu, cfg)
	if err != nil {
		drv.Close()
		return nil, nil, err
	}
	return drv, dev, nil
}

// CreateSystemDefaultDevice opens the driver named by cfg.Driver and wraps
// its GPU. Closing the device leaves the driver open; the caller owns both.
func CreateSystemDefaultDevice(cfg *core.Config) (*metal.Device, error) {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	_, dev, err := openDevice(cfg.Driver, cfg)
	return dev, err
}

// CopyAllDevices returns one device per registered driver that opens
// successfully, the configured driver first.
func CopyAllDevices(cfg *core.Config) []*metal.Device {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	names := []string{cfg.Driver}
	for _, d := range driver.Drivers() {
		if d.Name() != cfg.Driver {
			names = append(names, d.Name())
		}
	}
	var devices []*metal.Device
	for _, name := range names {
		_, dev, err := openDevice(name, cfg)
		if err != nil {
			core.LogWarn("skipping driver '%s': %s", name, err)
			continue
		}
		devices = append(devices, dev)
	}
	return devices
}
