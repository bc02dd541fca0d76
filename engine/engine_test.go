package engine

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

func softConfig() *core.Config {
	cfg := core.DefaultConfig()
	cfg.Driver = "soft"
	return cfg
}

func TestEngineLifecycle(t *testing.T) {
	e, err := New(softConfig())
	if err != nil {
		t.Fatal(err)
	}
	if e.Stage() != EngineStageUninitialized || e.Device() != nil {
		t.Fatalf("fresh engine: stage %s", e.Stage())
	}
	if err := e.Initialize(); err != nil {
		t.Fatal(err)
	}
	if e.Stage() != EngineStageInitialized {
		t.Errorf("stage = %s", e.Stage())
	}
	dev := e.Device()
	if dev == nil || !dev.IsHeadless() {
		t.Fatalf("device = %v", dev)
	}
	if err := e.Initialize(); err == nil {
		t.Error("second Initialize succeeded")
	}
	if err := e.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := e.Shutdown(); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if e.Stage() != EngineStageShutdown || e.Device() != nil {
		t.Errorf("after shutdown: stage %s", e.Stage())
	}
}

func TestUnknownDriver(t *testing.T) {
	cfg := softConfig()
	cfg.Driver = "metal"
	if _, err := CreateSystemDefaultDevice(cfg); !errors.Is(err, core.ErrUnknownDriver) {
		t.Errorf("err = %v", err)
	}

	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Initialize(); !errors.Is(err, core.ErrUnknownDriver) {
		t.Errorf("Initialize err = %v", err)
	}
	if e.Stage() != EngineStageUninitialized {
		t.Errorf("stage = %s", e.Stage())
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := softConfig()
	cfg.Jobs.Workers = 0
	if _, err := New(cfg); err == nil {
		t.Error("expected a validation error")
	}
	cfg = softConfig()
	cfg.LogLevel = "loud"
	if _, err := New(cfg); err == nil {
		t.Error("expected a log level error")
	}
}

func TestCreateSystemDefaultDevice(t *testing.T) {
	dev, err := CreateSystemDefaultDevice(softConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		dev.Close()
		if drv, ok := driver.Lookup("soft"); ok {
			drv.Close()
		}
	}()
	q, err := dev.MakeCommandQueue()
	if err != nil {
		t.Fatal(err)
	}
	if q.MaxCommandBufferCount() != 16 {
		t.Errorf("queue capacity = %d", q.MaxCommandBufferCount())
	}
}

func TestCopyAllDevicesListsConfiguredDriverFirst(t *testing.T) {
	devices := CopyAllDevices(softConfig())
	defer func() {
		for _, d := range devices {
			d.Close()
		}
		for _, drv := range driver.Drivers() {
			drv.Close()
		}
	}()
	if len(devices) == 0 {
		t.Fatal("no devices")
	}
	if !devices[0].IsLowPower() {
		t.Errorf("first device %q is not the soft device", devices[0].Name())
	}
}
