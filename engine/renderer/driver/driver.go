// Package driver defines the explicit-synchronization GPU surface the
// runtime records into. Enum values use the Vulkan definitions from
// goki/vulkan so the Vulkan implementation can pass them straight through.
package driver

import (
	"errors"
	"sync"

	"github.com/spaghettifunk/anima/engine/core"
)

// Driver loads and unloads an implementation.
type Driver interface {
	// Open initializes the driver. Calling it again returns the same GPU.
	Open() (GPU, error)
	// Name must not cause the driver to be opened.
	Name() string
	// Close deinitializes the driver. Closing a driver that is not open has
	// no effect.
	Close()
}

var (
	ErrNotInstalled    = errors.New("driver: missing required library")
	ErrNoDevice        = errors.New("driver: no suitable device found")
	ErrNoHostMemory    = errors.New("driver: out of host memory")
	ErrNoDeviceMemory  = errors.New("driver: out of device memory")
	ErrPoolExhausted   = errors.New("driver: descriptor pool exhausted")
	ErrFatal           = errors.New("driver: fatal error")
	ErrUnsupportedDesc = errors.New("driver: unsupported descriptor")
)

var (
	mu      sync.Mutex
	drivers = make([]Driver, 0, 2)
)

// Drivers returns the registered drivers in registration order.
func Drivers() []Driver {
	mu.Lock()
	defer mu.Unlock()
	drv := make([]Driver, len(drivers))
	copy(drv, drivers)
	return drv
}

// Register adds drv, replacing a driver with the same name.
// Implementations call it once from init.
func Register(drv Driver) {
	mu.Lock()
	defer mu.Unlock()
	for i := range drivers {
		if drivers[i].Name() == drv.Name() {
			drivers[i] = drv
			core.LogWarn("driver '%s' replaced", drv.Name())
			return
		}
	}
	drivers = append(drivers, drv)
	core.LogDebug("driver '%s' registered", drv.Name())
}

// Lookup returns the registered driver called name.
func Lookup(name string) (Driver, bool) {
	mu.Lock()
	defer mu.Unlock()
	for _, d := range drivers {
		if d.Name() == name {
			return d, true
		}
	}
	return nil, false
}
