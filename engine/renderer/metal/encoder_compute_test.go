package metal

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver/soft"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

func twoBuffers() []metadata.ArgumentClass {
	return []metadata.ArgumentClass{metadata.ArgumentClassBuffer, metadata.ArgumentClassBuffer}
}

func TestComputePipelineCache(t *testing.T) {
	d, _ := newTestDevice(t)
	lib := newLibrary(d, "test")
	addStub(lib, "copy", metadata.FunctionTypeKernel, twoBuffers(), metadata.NewSize(64, 1, 1))
	ps, err := d.MakeComputePipelineState(mustFunction(t, lib, "copy"))
	if err != nil {
		t.Fatal(err)
	}
	defer ps.Release()

	if n := ps.pipelines.len(); n != 1 {
		t.Fatalf("eager build produced %d pipelines", n)
	}
	a, err := ps.pipeline(metadata.NewSize(8, 8, 1))
	if err != nil {
		t.Fatal(err)
	}
	b, err := ps.pipeline(metadata.Size{Width: 8, Height: 8})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("same threadgroup size built two pipelines")
	}
	if got := a.(*soft.Pipeline).LocalSize(); got != [3]uint32{8, 8, 1} {
		t.Errorf("LocalSize = %v", got)
	}
	if n := ps.pipelines.len(); n != 2 {
		t.Errorf("cache holds %d pipelines, want 2", n)
	}
	if ps.ThreadExecutionWidth() != 32 {
		t.Errorf("ThreadExecutionWidth = %d", ps.ThreadExecutionWidth())
	}
}

func TestComputePipelineRejectsVertexFunction(t *testing.T) {
	d, _ := newTestDevice(t)
	lib := newLibrary(d, "test")
	addStub(lib, "vs", metadata.FunctionTypeVertex, nil, metadata.Size{})
	_, err := d.MakeComputePipelineState(mustFunction(t, lib, "vs"))
	if !errors.Is(err, core.ErrComputePipelineStateFailed) {
		t.Fatalf("got %v, want ErrComputePipelineStateFailed", err)
	}
	if _, err := d.MakeComputePipelineStateWithDescriptor(ComputePipelineDescriptor{}); !errors.Is(err, core.ErrComputePipelineStateFailed) {
		t.Fatalf("missing function: %v", err)
	}
}

func TestDispatchCopiesBuffer(t *testing.T) {
	d, gpu := newTestDevice(t)
	q := newTestQueue(t, d)
	gpu.RegisterKernel("copy", func(ctx *soft.KernelContext) {
		src, dst := ctx.Buffer(0, 0), ctx.Buffer(0, 1)
		n := int(ctx.Threads()[0])
		copy(dst[:n], src[:n])
	})

	lib := newLibrary(d, "test")
	addStub(lib, "copy", metadata.FunctionTypeKernel, twoBuffers(), metadata.NewSize(64, 1, 1))
	ps, err := d.MakeComputePipelineState(mustFunction(t, lib, "copy"))
	if err != nil {
		t.Fatal(err)
	}
	defer ps.Release()

	src, _ := d.MakeBuffer(64, metadata.ResourceOptions{})
	dst, _ := d.MakeBuffer(64, metadata.ResourceOptions{})
	for i := range src.Contents() {
		src.Contents()[i] = 0xFF
	}

	cb := newTestCommandBuffer(t, q)
	enc := cb.MakeComputeCommandEncoder()
	enc.SetComputePipelineState(ps)
	enc.SetBuffer(src, 0, 0)
	enc.SetBuffer(dst, 0, 1)
	enc.DispatchThreads(metadata.NewSize(64, 1, 1), metadata.NewSize(64, 1, 1))
	enc.EndEncoding()
	cb.Commit()
	waitCompleted(t, cb)

	for i, v := range dst.Contents() {
		if v != 0xFF {
			t.Fatalf("dst[%d] = %#x", i, v)
		}
	}
}

func TestDispatchPushConstants(t *testing.T) {
	d, gpu := newTestDevice(t)
	q := newTestQueue(t, d)
	gpu.RegisterKernel("scale", func(ctx *soft.KernelContext) {
		factor := binary.LittleEndian.Uint32(ctx.Push)
		buf := ctx.Buffer(0, 0)
		for i := 0; i+4 <= len(buf); i += 4 {
			binary.LittleEndian.PutUint32(buf[i:], binary.LittleEndian.Uint32(buf[i:])*factor)
		}
	})

	lib := newLibrary(d, "test")
	addStub(lib, "scale", metadata.FunctionTypeKernel,
		[]metadata.ArgumentClass{metadata.ArgumentClassBuffer, metadata.ArgumentClassConstant}, metadata.Size{})
	ps, err := d.MakeComputePipelineState(mustFunction(t, lib, "scale"))
	if err != nil {
		t.Fatal(err)
	}
	defer ps.Release()

	data := make([]byte, 16)
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint32(data[i*4:], uint32(i+1))
	}
	buf, err := d.MakeBufferWithBytes(data, metadata.ResourceOptions{})
	if err != nil {
		t.Fatal(err)
	}
	factor := make([]byte, 4)
	binary.LittleEndian.PutUint32(factor, 3)

	cb := newTestCommandBuffer(t, q)
	enc := cb.MakeComputeCommandEncoder()
	enc.SetComputePipelineState(ps)
	enc.SetBuffer(buf, 0, 0)
	enc.SetBytes(factor, 1)
	enc.DispatchThreadgroups(metadata.NewSize(1, 1, 1), metadata.NewSize(1, 1, 1))
	enc.EndEncoding()
	cb.Commit()
	waitCompleted(t, cb)

	for i := 0; i < 4; i++ {
		if got := binary.LittleEndian.Uint32(buf.Contents()[i*4:]); got != uint32(3*(i+1)) {
			t.Errorf("element %d = %d, want %d", i, got, 3*(i+1))
		}
	}
}

func TestConsecutiveDispatchesAreOrdered(t *testing.T) {
	d, gpu := newTestDevice(t)
	q := newTestQueue(t, d)
	gpu.RegisterKernel("inc", func(ctx *soft.KernelContext) {
		ctx.Buffer(0, 0)[0]++
	})
	lib := newLibrary(d, "test")
	addStub(lib, "inc", metadata.FunctionTypeKernel, []metadata.ArgumentClass{metadata.ArgumentClassBuffer}, metadata.Size{})
	ps, err := d.MakeComputePipelineState(mustFunction(t, lib, "inc"))
	if err != nil {
		t.Fatal(err)
	}
	defer ps.Release()
	buf, _ := d.MakeBuffer(4, metadata.ResourceOptions{})

	cb := newTestCommandBuffer(t, q)
	enc := cb.MakeComputeCommandEncoder()
	enc.SetComputePipelineState(ps)
	enc.SetBuffer(buf, 0, 0)
	for i := 0; i < 3; i++ {
		enc.DispatchThreadgroups(metadata.NewSize(1, 1, 1), metadata.NewSize(1, 1, 1))
	}
	enc.EndEncoding()

	barriers := 0
	for _, r := range cb.Native().(*soft.CommandBuffer).Recorded() {
		if r.Name == "PipelineBarrier" {
			barriers++
		}
	}
	if barriers != 2 {
		t.Errorf("barriers between 3 dispatches = %d, want 2", barriers)
	}
	cb.Commit()
	waitCompleted(t, cb)
	if buf.Contents()[0] != 3 {
		t.Errorf("counter = %d, want 3", buf.Contents()[0])
	}
}

func TestDispatchRejectsMismatchedBinding(t *testing.T) {
	d, _ := newTestDevice(t)
	q := newTestQueue(t, d)
	lib := newLibrary(d, "test")
	addStub(lib, "k", metadata.FunctionTypeKernel,
		[]metadata.ArgumentClass{metadata.ArgumentClassConstant}, metadata.Size{})
	ps, err := d.MakeComputePipelineState(mustFunction(t, lib, "k"))
	if err != nil {
		t.Fatal(err)
	}
	defer ps.Release()
	buf, _ := d.MakeBuffer(4, metadata.ResourceOptions{})

	cb := newTestCommandBuffer(t, q)
	enc := cb.MakeComputeCommandEncoder()
	enc.SetComputePipelineState(ps)
	enc.SetBuffer(buf, 0, 0)
	err = expectPanic(t, func() {
		enc.DispatchThreadgroups(metadata.NewSize(1, 1, 1), metadata.NewSize(1, 1, 1))
	})
	if !errors.Is(err, ErrArgumentMismatch) {
		t.Fatalf("panic = %v, want ErrArgumentMismatch", err)
	}
}

func TestDispatchRejectsOversizedThreadgroup(t *testing.T) {
	d, _ := newTestDevice(t)
	q := newTestQueue(t, d)
	lib := newLibrary(d, "test")
	addStub(lib, "k", metadata.FunctionTypeKernel, nil, metadata.Size{})
	ps, err := d.MakeComputePipelineState(mustFunction(t, lib, "k"))
	if err != nil {
		t.Fatal(err)
	}
	defer ps.Release()

	cb := newTestCommandBuffer(t, q)
	enc := cb.MakeComputeCommandEncoder()
	enc.SetComputePipelineState(ps)
	err = expectPanic(t, func() {
		enc.DispatchThreadgroups(metadata.NewSize(1, 1, 1), metadata.NewSize(64, 64, 1))
	})
	if err == nil {
		t.Fatal("dispatch of 4096 threads per group was accepted")
	}
}

func TestFixedThreadgroupSizeWins(t *testing.T) {
	d, gpu := newTestDevice(t)
	q := newTestQueue(t, d)
	var groups, local [3]uint32
	gpu.RegisterKernel("fill", func(ctx *soft.KernelContext) {
		groups, local = ctx.Groups, ctx.LocalSize
		data := ctx.Buffer(0, 0)
		for i := uint32(0); i < ctx.Threads()[0] && int(i*4+4) <= len(data); i++ {
			binary.LittleEndian.PutUint32(data[i*4:], 7)
		}
	})
	lib, err := d.MakeLibrary(fillShader, &metadata.CompileOptions{
		PreprocessorMacros: map[string]string{"FILL_VALUE": "7u"},
	})
	if err != nil {
		t.Fatal(err)
	}
	ps, err := d.MakeComputePipelineState(mustFunction(t, lib, "fill"))
	if err != nil {
		t.Fatal(err)
	}
	defer ps.Release()
	fixed, ok := ps.FixedThreadgroupSize()
	if !ok || fixed != metadata.NewSize(64, 1, 1) {
		t.Fatalf("FixedThreadgroupSize = %+v, %v", fixed, ok)
	}
	buf, _ := d.MakeBuffer(128*4, metadata.ResourceOptions{})

	cb := newTestCommandBuffer(t, q)
	enc := cb.MakeComputeCommandEncoder()
	enc.SetComputePipelineState(ps)
	enc.SetBuffer(buf, 0, 0)
	enc.DispatchThreads(metadata.NewSize(128, 1, 1), metadata.NewSize(8, 8, 1))
	err = expectPanic(t, func() {
		enc.DispatchThreadgroups(metadata.NewSize(1, 1, 1), metadata.NewSize(32, 1, 1))
	})
	if err == nil {
		t.Fatal("threadgroup size other than the declared one was accepted")
	}
	enc.EndEncoding()
	cb.Commit()
	waitCompleted(t, cb)

	if groups != [3]uint32{2, 1, 1} || local != [3]uint32{64, 1, 1} {
		t.Errorf("ran %v groups of %v", groups, local)
	}
	for i := 0; i < 128; i++ {
		if got := binary.LittleEndian.Uint32(buf.Contents()[i*4:]); got != 7 {
			t.Fatalf("element %d = %d", i, got)
		}
	}
	if n := ps.pipelines.len(); n != 1 {
		t.Errorf("fixed-size function built %d pipelines", n)
	}
}

func TestEmptyDispatchRecordsNothing(t *testing.T) {
	d, gpu := newTestDevice(t)
	q := newTestQueue(t, d)
	runs := 0
	gpu.RegisterKernel("inc", func(ctx *soft.KernelContext) { runs++ })
	lib := newLibrary(d, "test")
	addStub(lib, "inc", metadata.FunctionTypeKernel, []metadata.ArgumentClass{metadata.ArgumentClassBuffer}, metadata.Size{})
	ps, err := d.MakeComputePipelineState(mustFunction(t, lib, "inc"))
	if err != nil {
		t.Fatal(err)
	}
	defer ps.Release()
	buf, _ := d.MakeBuffer(4, metadata.ResourceOptions{})

	cb := newTestCommandBuffer(t, q)
	enc := cb.MakeComputeCommandEncoder()
	enc.SetComputePipelineState(ps)
	enc.SetBuffer(buf, 0, 0)
	enc.DispatchThreads(metadata.NewSize(0, 1, 1), metadata.NewSize(64, 1, 1))
	enc.DispatchThreads(metadata.Size{}, metadata.Size{})
	enc.DispatchThreadgroups(metadata.NewSize(4, 0, 1), metadata.NewSize(1, 1, 1))
	enc.EndEncoding()

	for _, r := range cb.Native().(*soft.CommandBuffer).Recorded() {
		if r.Name == "Dispatch" || r.Name == "PipelineBarrier" {
			t.Errorf("empty dispatch recorded %s", r.Name)
		}
	}
	cb.Commit()
	waitCompleted(t, cb)
	if runs != 0 {
		t.Errorf("kernel ran %d times", runs)
	}
}

func TestConcurrentDispatchesSkipBarriers(t *testing.T) {
	d, gpu := newTestDevice(t)
	q := newTestQueue(t, d)
	gpu.RegisterKernel("inc", func(ctx *soft.KernelContext) {
		ctx.Buffer(0, 0)[0]++
	})
	lib := newLibrary(d, "test")
	addStub(lib, "inc", metadata.FunctionTypeKernel, []metadata.ArgumentClass{metadata.ArgumentClassBuffer}, metadata.Size{})
	ps, err := d.MakeComputePipelineState(mustFunction(t, lib, "inc"))
	if err != nil {
		t.Fatal(err)
	}
	defer ps.Release()
	buf, _ := d.MakeBuffer(4, metadata.ResourceOptions{})

	cb := newTestCommandBuffer(t, q)
	enc := cb.MakeComputeCommandEncoderWithDispatchType(metadata.DispatchTypeConcurrent)
	if enc.DispatchType() != metadata.DispatchTypeConcurrent {
		t.Fatalf("DispatchType = %s", enc.DispatchType())
	}
	enc.SetComputePipelineState(ps)
	enc.SetBuffer(buf, 0, 0)
	enc.MemoryBarrier()
	for i := 0; i < 3; i++ {
		enc.DispatchThreadgroups(metadata.NewSize(1, 1, 1), metadata.NewSize(1, 1, 1))
	}
	enc.MemoryBarrier()
	enc.MemoryBarrier()
	enc.DispatchThreadgroups(metadata.NewSize(1, 1, 1), metadata.NewSize(1, 1, 1))
	enc.EndEncoding()

	barriers := 0
	for _, r := range cb.Native().(*soft.CommandBuffer).Recorded() {
		if r.Name == "PipelineBarrier" {
			barriers++
		}
	}
	if barriers != 1 {
		t.Errorf("barriers = %d, want only the explicit one", barriers)
	}
	cb.Commit()
	waitCompleted(t, cb)
	if buf.Contents()[0] != 4 {
		t.Errorf("counter = %d, want 4", buf.Contents()[0])
	}
}
