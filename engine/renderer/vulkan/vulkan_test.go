package vulkan

import (
	"errors"
	"os"
	"testing"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

func TestResultError(t *testing.T) {
	cases := []struct {
		res  vk.Result
		want error
	}{
		{vk.ErrorOutOfHostMemory, driver.ErrNoHostMemory},
		{vk.ErrorOutOfDeviceMemory, driver.ErrNoDeviceMemory},
		{vk.ErrorOutOfPoolMemory, driver.ErrPoolExhausted},
		{vk.ErrorFragmentedPool, driver.ErrPoolExhausted},
		{vk.ErrorFormatNotSupported, driver.ErrUnsupportedDesc},
		{vk.ErrorIncompatibleDriver, driver.ErrNotInstalled},
		{vk.ErrorDeviceLost, driver.ErrFatal},
	}
	for _, c := range cases {
		err := resultError("op", c.res)
		if !errors.Is(err, c.want) {
			t.Errorf("%s: got %v, want %v", VulkanResultString(c.res), err, c.want)
		}
	}
	if err := resultError("op", vk.Success); err != nil {
		t.Errorf("success mapped to %v", err)
	}
	if err := resultError("op", vk.Incomplete); err != nil {
		t.Errorf("incomplete mapped to %v", err)
	}
}

func TestSafeStrings(t *testing.T) {
	if s := VulkanSafeString("main"); s != "main\x00" {
		t.Errorf("got %q", s)
	}
	if s := VulkanSafeString("main\x00"); s != "main\x00" {
		t.Errorf("double terminated: %q", s)
	}
	in := []string{"a", "b"}
	out := VulkanSafeStrings(in)
	if in[0] != "a" || out[1] != "b\x00" {
		t.Errorf("in %q out %q", in, out)
	}
	if n := FindFirstZeroInByteArray([]byte{'a', 'b'}); n != 2 {
		t.Errorf("no terminator: %d", n)
	}
}

func TestSubgroupSize(t *testing.T) {
	if subgroupSize(0x1002) != 64 || subgroupSize(0x8086) != 16 || subgroupSize(0x10DE) != 32 {
		t.Error("unexpected vendor widths")
	}
}

// openGPU needs a Vulkan loader and a device.
func openGPU(t *testing.T) driver.GPU {
	t.Helper()
	if os.Getenv("ANIMA_VULKAN_TESTS") != "1" {
		t.Skip("set ANIMA_VULKAN_TESTS=1 to run against a Vulkan device")
	}
	d, ok := driver.Lookup(driverName)
	if !ok {
		t.Fatal("vulkan driver not registered")
	}
	g, err := d.Open()
	if err != nil {
		t.Skipf("no vulkan device: %v", err)
	}
	t.Cleanup(d.Close)
	return g
}

func submitAndWait(t *testing.T, g driver.GPU, cb driver.CommandBuffer) {
	t.Helper()
	f, err := g.NewFence(false)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Destroy()
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := g.Submit(cb, f); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ok, err := f.Wait(5 * time.Second); !ok || err != nil {
		t.Fatalf("fence not signaled: %v", err)
	}
}

func TestDeviceFillAndCopy(t *testing.T) {
	g := openGPU(t)
	usage := vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit) | vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)
	src, err := g.NewBuffer(64, usage)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Destroy()
	dst, _ := g.NewBuffer(64, usage)
	defer dst.Destroy()

	cb, err := g.NewCommandBuffer()
	if err != nil {
		t.Fatal(err)
	}
	defer cb.Destroy()
	if err := cb.Begin(); err != nil {
		t.Fatal(err)
	}
	cb.FillBuffer(src, 0, 64, 0xFFFFFFFF)
	cb.PipelineBarrier(vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		[]driver.MemoryBarrier{{SrcAccess: vk.AccessFlags(vk.AccessTransferWriteBit), DstAccess: vk.AccessFlags(vk.AccessTransferReadBit)}}, nil)
	cb.CopyBuffer(src, dst, []driver.BufferCopy{{Size: 32}})
	submitAndWait(t, g, cb)

	d := dst.Bytes()
	if d[0] != 0xFF || d[31] != 0xFF || d[32] != 0 {
		t.Errorf("unexpected contents %v", d[:40])
	}
}

func TestDeviceEvent(t *testing.T) {
	g := openGPU(t)
	ev, err := g.NewEvent()
	if err != nil {
		t.Fatal(err)
	}
	defer ev.Destroy()

	cb, _ := g.NewCommandBuffer()
	defer cb.Destroy()
	cb.Begin()
	cb.SetEvent(ev, vk.PipelineStageFlags(vk.PipelineStageTransferBit))
	submitAndWait(t, g, cb)

	if set, err := ev.Status(); err != nil || !set {
		t.Errorf("event status %v, %v", set, err)
	}
	if err := ev.Reset(); err != nil {
		t.Fatal(err)
	}
	if set, _ := ev.Status(); set {
		t.Error("event still set after reset")
	}
}

func TestDevicePoolExhaustion(t *testing.T) {
	g := openGPU(t)
	layout, err := g.NewDescriptorSetLayout([]driver.DescriptorBinding{{
		Binding: 0, Type: vk.DescriptorTypeStorageBuffer, Stages: vk.ShaderStageFlags(vk.ShaderStageComputeBit),
	}})
	if err != nil {
		t.Fatal(err)
	}
	defer layout.Destroy()
	pool, err := g.NewDescriptorPool(1, []driver.DescriptorPoolSize{{Type: vk.DescriptorTypeStorageBuffer, Count: 1}})
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Destroy()

	set, err := pool.Allocate(layout)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Allocate(layout); !errors.Is(err, driver.ErrPoolExhausted) {
		t.Errorf("second allocation: %v", err)
	}
	pool.Free(set)
	if _, err := pool.Allocate(layout); err != nil {
		t.Errorf("allocation after free: %v", err)
	}
}
