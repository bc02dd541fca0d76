package assets

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

// kernelModule is a compute shader with one entry point "fill" and a
// 64x1x1 workgroup.
func kernelModule() []uint32 {
	return []uint32{
		0x07230203, 0x00010300, 0, 8, 0,
		5<<16 | 15, 5, 1, 0x6c6c6966, 0, // OpEntryPoint GLCompute %1 "fill"
		6<<16 | 16, 1, 17, 64, 1, 1, // OpExecutionMode %1 LocalSize 64 1 1
		2<<16 | 19, 2, // OpTypeVoid %2
		3<<16 | 33, 3, 2, // OpTypeFunction %3 %2
		5<<16 | 54, 2, 1, 0, 3, // OpFunction %2 %1 None %3
		2<<16 | 248, 4, // OpLabel %4
		1<<16 | 253, // OpReturn
		1<<16 | 56,  // OpFunctionEnd
	}
}

func TestContainerRoundTrip(t *testing.T) {
	layout := metadata.ArgumentLayout{
		Arguments: []metadata.Argument{
			{Name: "dst", Class: metadata.ArgumentClassBuffer, Binding: 0},
			{Name: "scale", Class: metadata.ArgumentClassConstant, Offset: 0, Size: 4},
			{Name: "src", Class: metadata.ArgumentClassTexture, Binding: 1},
		},
		PushSize:        4,
		ThreadgroupSize: metadata.Size{Width: 8, Height: 8, Depth: 1},
	}
	in := &LibraryContainer{
		Name:      "blur",
		Functions: []FunctionRecord{NewFunctionRecord("blur", metadata.FunctionTypeKernel, layout, kernelModule())},
	}
	data, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v\n%s", err, data)
	}
	fn, ok := out.Function("blur")
	if !ok {
		t.Fatal("function missing after round trip")
	}
	got, err := fn.Layout()
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Arguments) != 3 || got.Arguments[1].Size != 4 || got.Arguments[2].Class != metadata.ArgumentClassTexture {
		t.Errorf("layout = %+v", got)
	}
	if got.ThreadgroupSize != layout.ThreadgroupSize || got.PushSize != 4 {
		t.Errorf("layout = %+v", got)
	}
	words, err := fn.Words()
	if err != nil {
		t.Fatal(err)
	}
	if len(words) != len(kernelModule()) {
		t.Errorf("spirv payload has %d words", len(words))
	}
}

func TestDecodeRejects(t *testing.T) {
	if _, err := Decode([]byte(`name = "empty"`)); !errors.Is(err, ErrEmptyLibrary) {
		t.Errorf("expected ErrEmptyLibrary, got %v", err)
	}
	bad := "[[function]]\nname = \"x\"\nstage = \"geometry\"\n"
	if _, err := Decode([]byte(bad)); err == nil {
		t.Error("expected an error for an unknown stage")
	}
}

func TestContainerFromSPIRV(t *testing.T) {
	c, err := ContainerFromSPIRV("fill", kernelModule())
	if err != nil {
		t.Fatal(err)
	}
	fn, ok := c.Function("fill")
	if !ok {
		t.Fatalf("functions = %+v", c.Functions)
	}
	if fn.Stage != metadata.FunctionTypeKernel.String() || fn.Threadgroup != [3]int{64, 1, 1} {
		t.Errorf("record = %+v", fn)
	}
}

func TestLibraryWatcher(t *testing.T) {
	dir := t.TempDir()
	c, _ := ContainerFromSPIRV("fill", kernelModule())
	if err := SaveLibrary(filepath.Join(dir, "first"+LibraryExtension), c); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	changed := make(chan LibraryInfo, 4)
	lw, err := NewLibraryWatcher(dir, true, func(info LibraryInfo) { changed <- info })
	if err != nil {
		t.Fatal(err)
	}
	defer lw.Close()
	<-changed

	if _, ok := lw.Library("first"); !ok {
		t.Fatal("first library not indexed")
	}
	if n := len(lw.Libraries()); n != 1 {
		t.Fatalf("expected 1 library, got %d", n)
	}

	if err := os.WriteFile(filepath.Join(dir, "second.spv"), bytesOf(kernelModule()), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case info := <-changed:
		if filepath.Base(info.Path) != "second.spv" {
			t.Errorf("unexpected reload of %s", info.Path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not pick up the new module")
	}
	if _, ok := lw.Library("second"); !ok {
		t.Error("second library not indexed")
	}
}

func bytesOf(words []uint32) []byte {
	b := make([]byte, 0, len(words)*4)
	for _, w := range words {
		b = append(b, byte(w), byte(w>>8), byte(w>>16), byte(w>>24))
	}
	return b
}
