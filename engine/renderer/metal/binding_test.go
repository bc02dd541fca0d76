package metal

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

var mixedClasses = []metadata.ArgumentClass{
	metadata.ArgumentClassBuffer,
	metadata.ArgumentClassConstant,
	metadata.ArgumentClassBuffer,
	metadata.ArgumentClassTexture,
	metadata.ArgumentClassConstant,
}

func TestClassLocalIndex(t *testing.T) {
	bt := NewBindingTranslator(DefaultArgumentLayout(mixedClasses, nil).Arguments)

	tests := []struct {
		flat  int
		class metadata.ArgumentClass
		want  int
	}{
		{0, metadata.ArgumentClassBuffer, 0},
		{1, metadata.ArgumentClassConstant, 0},
		{2, metadata.ArgumentClassBuffer, 1},
		{3, metadata.ArgumentClassTexture, 0},
		{4, metadata.ArgumentClassConstant, 1},
	}
	for _, tt := range tests {
		got, err := bt.ClassLocalIndex(tt.flat, tt.class)
		if err != nil {
			t.Fatalf("ClassLocalIndex(%d): %v", tt.flat, err)
		}
		if got != tt.want {
			t.Errorf("ClassLocalIndex(%d, %s) = %d, want %d", tt.flat, tt.class, got, tt.want)
		}
	}
}

func TestTranslateSlots(t *testing.T) {
	layout := DefaultArgumentLayout(mixedClasses, []uint32{8})
	bt := NewBindingTranslator(layout.Arguments)

	slot, err := bt.Translate(2, metadata.ArgumentClassBuffer)
	if err != nil || slot.Binding != 1 {
		t.Errorf("buffer 2 -> binding %d, %v; want 1", slot.Binding, err)
	}
	slot, err = bt.Translate(3, metadata.ArgumentClassTexture)
	if err != nil || slot.Binding != 2 {
		t.Errorf("texture 3 -> binding %d, %v; want 2", slot.Binding, err)
	}
	slot, err = bt.Translate(4, metadata.ArgumentClassConstant)
	if err != nil || slot.Offset != 8 || slot.Size != 4 {
		t.Errorf("constant 4 -> offset %d size %d, %v; want 8/4", slot.Offset, slot.Size, err)
	}
	if layout.PushSize != 12 {
		t.Errorf("PushSize = %d, want 12", layout.PushSize)
	}
	if n := len(bt.Resources()); n != 3 {
		t.Errorf("Resources = %d, want 3", n)
	}
}

func TestTranslateRejectsWrongClass(t *testing.T) {
	bt := NewBindingTranslator(DefaultArgumentLayout(mixedClasses, nil).Arguments)
	if _, err := bt.Translate(1, metadata.ArgumentClassBuffer); !errors.Is(err, ErrArgumentMismatch) {
		t.Errorf("buffer at a constant: %v", err)
	}
	if _, err := bt.ClassLocalIndex(0, metadata.ArgumentClassTexture); !errors.Is(err, ErrArgumentMismatch) {
		t.Errorf("texture at a buffer: %v", err)
	}
	if _, err := bt.Translate(5, metadata.ArgumentClassBuffer); !errors.Is(err, ErrArgumentIndex) {
		t.Errorf("index past the end: %v", err)
	}
	if _, err := bt.Translate(-1, metadata.ArgumentClassBuffer); !errors.Is(err, ErrArgumentIndex) {
		t.Errorf("negative index: %v", err)
	}
}

func TestDefaultLayoutSamplers(t *testing.T) {
	layout := DefaultArgumentLayout([]metadata.ArgumentClass{
		metadata.ArgumentClassSampler,
		metadata.ArgumentClassTexture,
		metadata.ArgumentClassBuffer,
	}, nil)
	want := []uint32{2, 1, 0}
	for i, a := range layout.Arguments {
		if a.Binding != want[i] {
			t.Errorf("argument %d binding = %d, want %d", i, a.Binding, want[i])
		}
	}
	if layout.Arguments[0].Kind != metadata.DescriptorKindSampler {
		t.Errorf("sampler kind = %v", layout.Arguments[0].Kind)
	}
	if layout.PushSize != 0 {
		t.Errorf("PushSize = %d", layout.PushSize)
	}
}
