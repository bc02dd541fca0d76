// Package vulkan implements the driver interfaces on a headless Vulkan
// device. Only a compute and graphics capable queue is needed; no surface or
// swapchain is ever created.
package vulkan

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

const driverName = "vulkan"

// loader state is process wide.
var (
	loaderOnce sync.Once
	loaderErr  error
)

func init() {
	driver.Register(&Driver{
		Validation: os.Getenv("ANIMA_VULKAN_VALIDATION") == "1",
	})
}

// Driver owns the Vulkan instance and the GPU opened on it.
type Driver struct {
	// Validation enables VK_LAYER_KHRONOS_validation and the debug report
	// callback. It has to be set before Open.
	Validation bool

	mu  sync.Mutex
	gpu *GPU
}

func (d *Driver) Name() string { return driverName }

// SetValidation toggles the validation layers for the next Open.
func (d *Driver) SetValidation(enabled bool) {
	d.mu.Lock()
	d.Validation = enabled
	d.mu.Unlock()
}

func (d *Driver) Open() (driver.GPU, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gpu != nil {
		return d.gpu, nil
	}
	loaderOnce.Do(func() {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			loaderErr = fmt.Errorf("%w: %s", driver.ErrNotInstalled, err)
			return
		}
		if err := vk.Init(); err != nil {
			loaderErr = fmt.Errorf("%w: %s", driver.ErrNotInstalled, err)
		}
	})
	if loaderErr != nil {
		return nil, loaderErr
	}

	g := &GPU{locks: NewVulkanLockPool(), debug: d.Validation}
	if err := g.createInstance(); err != nil {
		return nil, err
	}
	if err := g.createDevice(); err != nil {
		g.destroyInstance()
		return nil, err
	}
	d.gpu = g
	return g, nil
}

func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gpu != nil {
		d.gpu.Destroy()
		d.gpu = nil
	}
}

func (g *GPU) createInstance() error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString("anima"),
		PEngineName:        VulkanSafeString("Anima Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := []string{}
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	layers := []string{}
	if g.debug {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		layers = append(layers, "VK_LAYER_KHRONOS_validation")
		if err := checkLayers(layers); err != nil {
			return err
		}
		core.LogInfo("Vulkan validation layers enabled.")
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	return g.locks.SafeCall(InstanceManagement, func() error {
		if res := vk.CreateInstance(&createInfo, nil, &g.instance); res != vk.Success {
			return resultError("vkCreateInstance", res)
		}
		if err := vk.InitInstance(g.instance); err != nil {
			return fmt.Errorf("%w: %s", driver.ErrNotInstalled, err)
		}
		core.LogDebug("Vulkan Instance created.")

		if g.debug {
			debugCreateInfo := vk.DebugReportCallbackCreateInfo{
				SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
				Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
				PfnCallback: dbgCallbackFunc,
			}
			if res := vk.CreateDebugReportCallback(g.instance, &debugCreateInfo, nil, &g.debugReport); res != vk.Success {
				core.LogWarn("vkCreateDebugReportCallback failed with %s", VulkanResultString(res))
			} else {
				g.hasDebugReport = true
			}
		}
		return nil
	})
}

func checkLayers(required []string) error {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return resultError("vkEnumerateInstanceLayerProperties", res)
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return resultError("vkEnumerateInstanceLayerProperties", res)
	}
	for _, name := range required {
		found := false
		for j := range available {
			available[j].Deref()
			end := FindFirstZeroInByteArray(available[j].LayerName[:])
			if string(available[j].LayerName[:end]) == name {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("required validation layer is missing: %s: %w", name, driver.ErrNotInstalled)
		}
	}
	return nil
}

func (g *GPU) destroyInstance() {
	_ = g.locks.SafeCall(InstanceManagement, func() error {
		if g.hasDebugReport {
			vk.DestroyDebugReportCallback(g.instance, g.debugReport, nil)
			g.hasDebugReport = false
		}
		if g.instance != nil {
			vk.DestroyInstance(g.instance, nil)
			g.instance = nil
		}
		return nil
	})
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
