package spirv

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

type asm struct{ words []uint32 }

func newAsm(bound uint32) *asm {
	return &asm{words: []uint32{Magic, 0x00010300, 0, bound, 0}}
}

func (a *asm) op(code uint32, operands ...uint32) {
	a.words = append(a.words, uint32(len(operands)+1)<<16|code)
	a.words = append(a.words, operands...)
}

func str(s string) []uint32 {
	b := append([]byte(s), 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	w := make([]uint32, len(b)/4)
	for i := range w {
		w[i] = uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
	}
	return w
}

// computeModule declares two storage buffers at set 0 bindings 1 and 0, a
// push block {uint; float} and an unused uniform at binding 5.
func computeModule() []uint32 {
	const (
		idMain = iota + 1
		idVoid
		idFnTy
		idUint
		idFloat
		idRtArr
		idSSBO
		idSSBOPtr
		idIn
		idOut
		idPush
		idPushPtr
		idPushVar
		idUnused
		idLabel
		idLoad
		idLoad2
		idShared
		idSharedPtr
		idSharedVar
		idFour
		bound
	)
	a := newAsm(bound)
	a.op(opEntryPoint, append([]uint32{modelGLCompute, idMain}, str("main")...)...)
	a.op(opExecutionMode, idMain, modeLocalSize, 8, 8, 1)
	a.op(opName, append([]uint32{idIn}, str("input")...)...)
	a.op(opName, append([]uint32{idOut}, str("output")...)...)
	a.op(opName, append([]uint32{idPush}, str("Params")...)...)
	a.op(opDecorate, idIn, decDescriptorSet, 0)
	a.op(opDecorate, idIn, decBinding, 1)
	a.op(opDecorate, idOut, decDescriptorSet, 0)
	a.op(opDecorate, idOut, decBinding, 0)
	a.op(opDecorate, idUnused, decDescriptorSet, 0)
	a.op(opDecorate, idUnused, decBinding, 5)
	a.op(opDecorate, idSSBO, decBlock)
	a.op(opDecorate, idRtArr, decArrayStride, 4)
	a.op(opMemberDecorate, idSSBO, 0, decOffset, 0)
	a.op(opDecorate, idPush, decBlock)
	a.op(opMemberDecorate, idPush, 0, decOffset, 0)
	a.op(opMemberDecorate, idPush, 1, decOffset, 4)
	a.op(19, idVoid)
	a.op(33, idFnTy, idVoid)
	a.op(opTypeInt, idUint, 32, 0)
	a.op(opTypeFloat, idFloat, 32)
	a.op(opTypeRuntimeArray, idRtArr, idUint)
	a.op(opTypeStruct, idSSBO, idRtArr)
	a.op(opTypePointer, idSSBOPtr, scStorageBuffer, idSSBO)
	a.op(opTypeStruct, idPush, idUint, idFloat)
	a.op(opTypePointer, idPushPtr, scPushConstant, idPush)
	a.op(opConstant, idUint, idFour, 4)
	a.op(opTypeArray, idShared, idFloat, idFour)
	a.op(opTypePointer, idSharedPtr, scWorkgroup, idShared)
	a.op(opVariable, idSSBOPtr, idIn, scStorageBuffer)
	a.op(opVariable, idSSBOPtr, idOut, scStorageBuffer)
	a.op(opVariable, idSSBOPtr, idUnused, scStorageBuffer)
	a.op(opVariable, idPushPtr, idPushVar, scPushConstant)
	a.op(opVariable, idSharedPtr, idSharedVar, scWorkgroup)
	a.op(opFunction, idVoid, idMain, 0, idFnTy)
	a.op(248, idLabel)
	a.op(opAccessChain, idSSBOPtr, idLoad, idIn)
	a.op(opAccessChain, idSSBOPtr, idLoad2, idPushVar)
	a.op(opStore, idOut, idLoad)
	a.op(opStore, idSharedVar, idLoad)
	a.op(253)
	a.op(opFunctionEnd)
	return a.words
}

func TestReflectCompute(t *testing.T) {
	mod, err := Reflect(computeModule())
	if err != nil {
		t.Fatal(err)
	}
	ep, ok := mod.EntryPoint("main")
	if !ok {
		t.Fatalf("entry point missing: %+v", mod.EntryPoints)
	}
	if ep.Stage != metadata.FunctionTypeKernel {
		t.Errorf("Stage = %v", ep.Stage)
	}
	if ep.Layout.ThreadgroupSize != (metadata.Size{Width: 8, Height: 8, Depth: 1}) {
		t.Errorf("ThreadgroupSize = %+v", ep.Layout.ThreadgroupSize)
	}
	if !ep.Layout.FixedThreadgroupSize {
		t.Error("LocalSize without spec ids reflected as specializable")
	}
	if ep.WorkgroupMemory != 16 {
		t.Errorf("WorkgroupMemory = %d", ep.WorkgroupMemory)
	}

	args := ep.Layout.Arguments
	if len(args) != 4 {
		t.Fatalf("expected 4 arguments, got %+v", args)
	}
	if args[0].Name != "output" || args[0].Binding != 0 || args[1].Name != "input" || args[1].Binding != 1 {
		t.Errorf("buffers out of binding order: %+v", args[:2])
	}
	for _, a := range args[:2] {
		if a.Class != metadata.ArgumentClassBuffer || a.Kind != metadata.DescriptorKindStorageBuffer {
			t.Errorf("buffer argument %+v", a)
		}
	}
	if args[2].Class != metadata.ArgumentClassConstant || args[2].Offset != 0 || args[2].Size != 4 {
		t.Errorf("first constant %+v", args[2])
	}
	if args[3].Offset != 4 || args[3].Size != 4 {
		t.Errorf("second constant %+v", args[3])
	}
	if ep.Layout.PushOffset != 0 || ep.Layout.PushSize != 8 {
		t.Errorf("push range %d+%d", ep.Layout.PushOffset, ep.Layout.PushSize)
	}
	if ep.Layout.Count(metadata.ArgumentClassBuffer) != 2 {
		t.Errorf("unused uniform leaked into the layout")
	}
}

// specializedModule sizes its workgroup with LocalSizeId operands that are
// specialization constants 0, 1 and 2 defaulting to 16x4x1.
func specializedModule(ids [3]uint32) []uint32 {
	const (
		idMain = iota + 1
		idVoid
		idFnTy
		idUint
		idX
		idY
		idZ
		idLabel
		bound
	)
	a := newAsm(bound)
	a.op(opEntryPoint, append([]uint32{modelGLCompute, idMain}, str("main")...)...)
	a.op(opExecutionModeId, idMain, modeLocalSizeID, idX, idY, idZ)
	a.op(opDecorate, idX, decSpecID, ids[0])
	a.op(opDecorate, idY, decSpecID, ids[1])
	a.op(opDecorate, idZ, decSpecID, ids[2])
	a.op(19, idVoid)
	a.op(33, idFnTy, idVoid)
	a.op(opTypeInt, idUint, 32, 0)
	a.op(opSpecConstant, idUint, idX, 16)
	a.op(opSpecConstant, idUint, idY, 4)
	a.op(opSpecConstant, idUint, idZ, 1)
	a.op(opFunction, idVoid, idMain, 0, idFnTy)
	a.op(248, idLabel)
	a.op(253)
	a.op(opFunctionEnd)
	return a.words
}

func TestReflectThreadgroupSpecialization(t *testing.T) {
	cases := []struct {
		name  string
		ids   [3]uint32
		fixed bool
	}{
		{"spec ids 0..2", [3]uint32{0, 1, 2}, false},
		{"other spec ids", [3]uint32{3, 4, 5}, true},
	}
	for _, c := range cases {
		mod, err := Reflect(specializedModule(c.ids))
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		ep, ok := mod.EntryPoint("main")
		if !ok {
			t.Fatalf("%s: entry point missing", c.name)
		}
		if ep.Layout.ThreadgroupSize != metadata.NewSize(16, 4, 1) {
			t.Errorf("%s: ThreadgroupSize = %+v", c.name, ep.Layout.ThreadgroupSize)
		}
		if ep.Layout.FixedThreadgroupSize != c.fixed {
			t.Errorf("%s: FixedThreadgroupSize = %v", c.name, ep.Layout.FixedThreadgroupSize)
		}
	}
}

func TestWordsRoundTrip(t *testing.T) {
	w := computeModule()
	got, err := Words(Bytes(w))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(w) || got[0] != Magic {
		t.Fatalf("decoded %d words", len(got))
	}
}

func TestRejectsGarbage(t *testing.T) {
	if _, err := Reflect([]uint32{1, 2, 3, 4, 5}); !errors.Is(err, ErrNotSPIRV) {
		t.Errorf("expected ErrNotSPIRV, got %v", err)
	}
	w := computeModule()
	w = append(w, 10<<16|opName)
	if _, err := Reflect(w); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
	if _, err := Words([]byte{1, 2, 3}); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}
