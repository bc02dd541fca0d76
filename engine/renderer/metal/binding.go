package metal

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

var (
	ErrArgumentIndex    = errors.New("argument index out of range")
	ErrArgumentMismatch = errors.New("argument class mismatch")
)

// Slot is where one flat-indexed argument lives on the GPU side: a
// descriptor binding for buffers, textures and samplers, or a byte range of
// the push-constant block for constants.
type Slot struct {
	Class   metadata.ArgumentClass
	Kind    metadata.DescriptorKind
	Binding uint32
	Offset  uint32
	Size    uint32
}

/**
 * @brief Maps the flat argument indices callers use onto the separate
 * binding spaces of the target API. Built once per function from its
 * reflected arguments; stateless afterwards and safe for concurrent use.
 */
type BindingTranslator struct {
	args []metadata.Argument
}

func NewBindingTranslator(args []metadata.Argument) *BindingTranslator {
	a := make([]metadata.Argument, len(args))
	copy(a, args)
	return &BindingTranslator{args: a}
}

// DefaultArgumentLayout builds the layout of a function declared only by
// its argument classes: buffers take bindings 0..nb-1, then textures, then
// samplers, and constants are packed 4-byte aligned into the push block.
// constantSizes gives the size of each constant in order; missing entries
// default to 4 bytes.
func DefaultArgumentLayout(classes []metadata.ArgumentClass, constantSizes []uint32) metadata.ArgumentLayout {
	var layout metadata.ArgumentLayout
	nb := uint32(0)
	nt := uint32(0)
	for _, c := range classes {
		switch c {
		case metadata.ArgumentClassBuffer:
			nb++
		case metadata.ArgumentClassTexture:
			nt++
		}
	}
	var buffers, textures, samplers, offset uint32
	constant := 0
	for i, c := range classes {
		arg := metadata.Argument{Name: fmt.Sprintf("arg%d", i), Class: c}
		switch c {
		case metadata.ArgumentClassBuffer:
			arg.Binding = buffers
			buffers++
		case metadata.ArgumentClassTexture:
			arg.Binding = nb + textures
			textures++
		case metadata.ArgumentClassSampler:
			arg.Binding = nb + nt + samplers
			arg.Kind = metadata.DescriptorKindSampler
			samplers++
		case metadata.ArgumentClassConstant:
			size := uint32(4)
			if constant < len(constantSizes) && constantSizes[constant] > 0 {
				size = constantSizes[constant]
			}
			constant++
			arg.Offset = offset
			arg.Size = size
			offset = metadata.GetAligned(offset+size, 4)
		}
		layout.Arguments = append(layout.Arguments, arg)
	}
	layout.PushSize = offset
	return layout
}

func (bt *BindingTranslator) Arguments() []metadata.Argument { return bt.args }

func (bt *BindingTranslator) check(flat int, class metadata.ArgumentClass) error {
	if flat < 0 || flat >= len(bt.args) {
		return fmt.Errorf("%w: index %d, function declares %d arguments", ErrArgumentIndex, flat, len(bt.args))
	}
	if got := bt.args[flat].Class; got != class {
		return fmt.Errorf("%w: argument %d (%s) is a %s, bound as a %s", ErrArgumentMismatch, flat, bt.args[flat].Name, got, class)
	}
	return nil
}

// ClassLocalIndex counts the arguments of the same class that precede flat.
func (bt *BindingTranslator) ClassLocalIndex(flat int, class metadata.ArgumentClass) (int, error) {
	if err := bt.check(flat, class); err != nil {
		return 0, err
	}
	n := 0
	for i := 0; i < flat; i++ {
		if bt.args[i].Class == class {
			n++
		}
	}
	return n, nil
}

// Translate resolves flat to its slot. Binding an argument with the wrong
// class is reported instead of silently landing in another binding space.
func (bt *BindingTranslator) Translate(flat int, class metadata.ArgumentClass) (Slot, error) {
	if err := bt.check(flat, class); err != nil {
		return Slot{}, err
	}
	a := bt.args[flat]
	return Slot{Class: a.Class, Kind: a.Kind, Binding: a.Binding, Offset: a.Offset, Size: a.Size}, nil
}

// Resources returns the non-constant arguments.
func (bt *BindingTranslator) Resources() []metadata.Argument {
	var out []metadata.Argument
	for _, a := range bt.args {
		if a.Class != metadata.ArgumentClassConstant {
			out = append(out, a)
		}
	}
	return out
}
