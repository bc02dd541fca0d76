package assets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/anima/engine/renderer/metadata"
	"github.com/spaghettifunk/anima/engine/renderer/spirv"
)

// LibraryExtension is the file extension of cached shader libraries.
const LibraryExtension = ".shaderlib"

var ErrEmptyLibrary = errors.New("library container has no functions")

// LibraryContainer is the on-disk form of a compiled shader library: one
// record per entry point with its SPIR-V and the argument table the binding
// translator needs.
type LibraryContainer struct {
	Name      string           `toml:"name"`
	Functions []FunctionRecord `toml:"function"`
}

type FunctionRecord struct {
	Name      string           `toml:"name"`
	Stage     string           `toml:"stage"`
	Arguments []ArgumentRecord `toml:"arguments"`
	// ConstantSizes is the byte size of every constant argument, in order.
	// Constants listed here without an explicit offset are packed.
	ConstantSizes []uint32 `toml:"constant_sizes,omitempty"`
	Threadgroup   [3]int   `toml:"threadgroup"`
	// FixedThreadgroup marks a workgroup size the module hardcodes.
	FixedThreadgroup bool   `toml:"fixed_threadgroup,omitempty"`
	PushOffset       uint32 `toml:"push_offset"`
	PushSize         uint32 `toml:"push_size"`
	SPIRV            string `toml:"spirv"`
}

type ArgumentRecord struct {
	Name    string `toml:"name,omitempty"`
	Class   string `toml:"class"`
	Binding uint32 `toml:"binding"`
	Offset  uint32 `toml:"offset,omitempty"`
	Size    uint32 `toml:"size,omitempty"`
}

// NewFunctionRecord packs a reflected entry point.
func NewFunctionRecord(name string, stage metadata.FunctionType, layout metadata.ArgumentLayout, words []uint32) FunctionRecord {
	rec := FunctionRecord{
		Name:             name,
		Stage:            stage.String(),
		Threadgroup:      [3]int{layout.ThreadgroupSize.Width, layout.ThreadgroupSize.Height, layout.ThreadgroupSize.Depth},
		FixedThreadgroup: layout.FixedThreadgroupSize,
		PushOffset:       layout.PushOffset,
		PushSize:         layout.PushSize,
		SPIRV:            base64.StdEncoding.EncodeToString(spirv.Bytes(words)),
	}
	for _, a := range layout.Arguments {
		rec.Arguments = append(rec.Arguments, ArgumentRecord{
			Name:    a.Name,
			Class:   a.Class.String(),
			Binding: a.Binding,
			Offset:  a.Offset,
			Size:    a.Size,
		})
		if a.Class == metadata.ArgumentClassConstant {
			rec.ConstantSizes = append(rec.ConstantSizes, a.Size)
		}
	}
	return rec
}

func (f *FunctionRecord) FunctionType() (metadata.FunctionType, error) {
	return metadata.FunctionTypeFromString(f.Stage)
}

func (f *FunctionRecord) Words() ([]uint32, error) {
	raw, err := base64.StdEncoding.DecodeString(f.SPIRV)
	if err != nil {
		return nil, fmt.Errorf("function %s: bad spirv payload: %w", f.Name, err)
	}
	return spirv.Words(raw)
}

// Layout rebuilds the argument layout. Constant arguments that carry no
// size take theirs from ConstantSizes.
func (f *FunctionRecord) Layout() (metadata.ArgumentLayout, error) {
	layout := metadata.ArgumentLayout{
		PushOffset: f.PushOffset,
		PushSize:   f.PushSize,
		ThreadgroupSize: metadata.Size{
			Width:  f.Threadgroup[0],
			Height: f.Threadgroup[1],
			Depth:  f.Threadgroup[2],
		},
		FixedThreadgroupSize: f.FixedThreadgroup,
	}
	constant := 0
	for _, a := range f.Arguments {
		class, err := metadata.ArgumentClassFromString(a.Class)
		if err != nil {
			return layout, fmt.Errorf("function %s: %w", f.Name, err)
		}
		arg := metadata.Argument{Name: a.Name, Class: class, Binding: a.Binding, Offset: a.Offset, Size: a.Size}
		if class == metadata.ArgumentClassConstant {
			if arg.Size == 0 && constant < len(f.ConstantSizes) {
				arg.Size = f.ConstantSizes[constant]
			}
			constant++
		}
		layout.Arguments = append(layout.Arguments, arg)
	}
	return layout, nil
}

func (c *LibraryContainer) Function(name string) (*FunctionRecord, bool) {
	for i := range c.Functions {
		if c.Functions[i].Name == name {
			return &c.Functions[i], true
		}
	}
	return nil, false
}

func Encode(c *LibraryContainer) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Decode(data []byte) (*LibraryContainer, error) {
	c := &LibraryContainer{}
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse library container: %w", err)
	}
	if len(c.Functions) == 0 {
		return nil, ErrEmptyLibrary
	}
	for i := range c.Functions {
		if _, err := c.Functions[i].FunctionType(); err != nil {
			return nil, fmt.Errorf("function %s: %w", c.Functions[i].Name, err)
		}
	}
	return c, nil
}

func LoadLibrary(path string) (*LibraryContainer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

func SaveLibrary(path string, c *LibraryContainer) error {
	data, err := Encode(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
