// Package spirv reads the resource interface out of a SPIR-V module: the
// descriptor bindings and push-constant members each entry point touches,
// and the workgroup size a kernel declares.
package spirv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

const Magic uint32 = 0x07230203

var (
	ErrNotSPIRV  = errors.New("spirv: bad magic number")
	ErrTruncated = errors.New("spirv: truncated instruction stream")
)

// Opcodes, decorations and enumerants used by the reflector.
const (
	opName              = 5
	opEntryPoint        = 15
	opExecutionMode     = 16
	opTypeInt           = 21
	opTypeFloat         = 22
	opTypeVector        = 23
	opTypeMatrix        = 24
	opTypeImage         = 25
	opTypeSampler       = 26
	opTypeSampledImage  = 27
	opTypeArray         = 28
	opTypeRuntimeArray  = 29
	opTypeStruct        = 30
	opTypePointer       = 32
	opConstant          = 43
	opSpecConstant      = 50
	opFunction          = 54
	opFunctionEnd       = 56
	opFunctionCall      = 57
	opVariable          = 59
	opImageTexelPointer = 60
	opLoad              = 61
	opStore             = 62
	opCopyMemory        = 63
	opAccessChain       = 65
	opInBoundsAccess    = 66
	opPtrAccessChain    = 67
	opArrayLength       = 68
	opDecorate          = 71
	opMemberDecorate    = 72
	opAtomicLoad        = 227
	opAtomicStore       = 228
	opAtomicXor         = 242
	opExecutionModeId   = 331

	decSpecID        = 1
	decBlock         = 2
	decBufferBlock   = 3
	decArrayStride   = 6
	decMatrixStride  = 7
	decBinding       = 33
	decDescriptorSet = 34
	decOffset        = 35

	modeLocalSize   = 17
	modeLocalSizeID = 38

	scUniformConstant = 0
	scUniform         = 2
	scWorkgroup       = 4
	scPushConstant    = 9
	scStorageBuffer   = 12

	modelVertex    = 0
	modelFragment  = 4
	modelGLCompute = 5
)

// EntryPoint is the reflected interface of one shader entry point.
type EntryPoint struct {
	Name            string
	Stage           metadata.FunctionType
	Layout          metadata.ArgumentLayout
	WorkgroupMemory uint32
}

type Module struct {
	Version     uint32
	Bound       uint32
	EntryPoints []EntryPoint
	// SpecIDs lists every specialization constant id the module declares.
	SpecIDs []uint32
}

func (m *Module) EntryPoint(name string) (EntryPoint, bool) {
	for _, ep := range m.EntryPoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return EntryPoint{}, false
}

// Words converts a little- or big-endian byte stream into words.
func Words(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 || len(b) < 20 {
		return nil, ErrTruncated
	}
	var order binary.ByteOrder = binary.LittleEndian
	if binary.LittleEndian.Uint32(b) != Magic {
		if binary.BigEndian.Uint32(b) != Magic {
			return nil, ErrNotSPIRV
		}
		order = binary.BigEndian
	}
	w := make([]uint32, len(b)/4)
	for i := range w {
		w[i] = order.Uint32(b[i*4:])
	}
	return w, nil
}

// Bytes is the little-endian encoding of words.
func Bytes(words []uint32) []byte {
	b := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

type typeInfo struct {
	op       uint32
	operands []uint32
}

type decorations struct {
	set, binding    uint32
	hasSet, hasBind bool
	block, bufBlock bool
	arrayStride     uint32
	specID          uint32
	hasSpecID       bool
}

type variable struct {
	id      uint32
	typ     uint32
	storage uint32
}

type function struct {
	globals map[uint32]bool
	calls   []uint32
}

type entry struct {
	model      uint32
	fn         uint32
	name       string
	local      [3]uint32
	localIDs   [3]uint32
	hasLocalID bool
}

type reflector struct {
	names     map[uint32]string
	types     map[uint32]typeInfo
	constants map[uint32]uint32
	decs      map[uint32]*decorations
	memberOff map[uint32]map[uint32]uint32
	memberMat map[uint32]map[uint32]uint32
	vars      map[uint32]variable
	funcs     map[uint32]*function
	entries   []*entry
	specIDs   []uint32
}

func (r *reflector) dec(id uint32) *decorations {
	d, ok := r.decs[id]
	if !ok {
		d = &decorations{}
		r.decs[id] = d
	}
	return d
}

func decodeString(ops []uint32) (string, int) {
	var buf []byte
	for i, w := range ops {
		for s := 0; s < 4; s++ {
			c := byte(w >> (8 * s))
			if c == 0 {
				return string(buf), i + 1
			}
			buf = append(buf, c)
		}
	}
	return string(buf), len(ops)
}

// Reflect parses words and reflects every entry point.
func Reflect(words []uint32) (*Module, error) {
	if len(words) < 5 {
		return nil, ErrTruncated
	}
	if words[0] != Magic {
		return nil, ErrNotSPIRV
	}
	r := &reflector{
		names:     map[uint32]string{},
		types:     map[uint32]typeInfo{},
		constants: map[uint32]uint32{},
		decs:      map[uint32]*decorations{},
		memberOff: map[uint32]map[uint32]uint32{},
		memberMat: map[uint32]map[uint32]uint32{},
		vars:      map[uint32]variable{},
		funcs:     map[uint32]*function{},
	}
	mod := &Module{Version: words[1], Bound: words[3]}

	var cur *function
	for i := 5; i < len(words); {
		n := int(words[i] >> 16)
		op := words[i] & 0xFFFF
		if n == 0 || i+n > len(words) {
			return nil, ErrTruncated
		}
		ops := words[i+1 : i+n]
		i += n
		if err := r.instruction(op, ops, &cur); err != nil {
			return nil, err
		}
	}

	for _, e := range r.entries {
		ep, err := r.entryPoint(e)
		if err != nil {
			return nil, err
		}
		mod.EntryPoints = append(mod.EntryPoints, ep)
	}
	sort.Slice(r.specIDs, func(a, b int) bool { return r.specIDs[a] < r.specIDs[b] })
	mod.SpecIDs = r.specIDs
	return mod, nil
}

func (r *reflector) instruction(op uint32, ops []uint32, cur **function) error {
	need := func(k int) error {
		if len(ops) < k {
			return fmt.Errorf("%w: opcode %d has %d operands", ErrTruncated, op, len(ops))
		}
		return nil
	}
	switch op {
	case opName:
		if err := need(2); err != nil {
			return err
		}
		r.names[ops[0]], _ = decodeString(ops[1:])
	case opEntryPoint:
		if err := need(3); err != nil {
			return err
		}
		name, _ := decodeString(ops[2:])
		r.entries = append(r.entries, &entry{model: ops[0], fn: ops[1], name: name})
	case opExecutionMode, opExecutionModeId:
		if err := need(5); err != nil {
			return nil
		}
		for _, e := range r.entries {
			if e.fn != ops[0] {
				continue
			}
			switch ops[1] {
			case modeLocalSize:
				e.local = [3]uint32{ops[2], ops[3], ops[4]}
			case modeLocalSizeID:
				e.localIDs = [3]uint32{ops[2], ops[3], ops[4]}
				e.hasLocalID = true
			}
		}
	case opDecorate:
		if err := need(2); err != nil {
			return err
		}
		d := r.dec(ops[0])
		switch ops[1] {
		case decBinding:
			if len(ops) > 2 {
				d.binding, d.hasBind = ops[2], true
			}
		case decDescriptorSet:
			if len(ops) > 2 {
				d.set, d.hasSet = ops[2], true
			}
		case decBlock:
			d.block = true
		case decBufferBlock:
			d.bufBlock = true
		case decArrayStride:
			if len(ops) > 2 {
				d.arrayStride = ops[2]
			}
		case decSpecID:
			if len(ops) > 2 {
				d.specID, d.hasSpecID = ops[2], true
				r.specIDs = append(r.specIDs, ops[2])
			}
		}
	case opMemberDecorate:
		if err := need(4); err != nil {
			return nil
		}
		switch ops[2] {
		case decOffset:
			if r.memberOff[ops[0]] == nil {
				r.memberOff[ops[0]] = map[uint32]uint32{}
			}
			r.memberOff[ops[0]][ops[1]] = ops[3]
		case decMatrixStride:
			if r.memberMat[ops[0]] == nil {
				r.memberMat[ops[0]] = map[uint32]uint32{}
			}
			r.memberMat[ops[0]][ops[1]] = ops[3]
		}
	case opTypeInt, opTypeFloat, opTypeVector, opTypeMatrix, opTypeImage, opTypeSampler,
		opTypeSampledImage, opTypeArray, opTypeRuntimeArray, opTypeStruct, opTypePointer:
		if err := need(1); err != nil {
			return err
		}
		r.types[ops[0]] = typeInfo{op: op, operands: append([]uint32(nil), ops[1:]...)}
	case opConstant, opSpecConstant:
		if len(ops) >= 3 {
			r.constants[ops[1]] = ops[2]
		}
	case opVariable:
		if err := need(3); err != nil {
			return err
		}
		if *cur == nil {
			r.vars[ops[1]] = variable{id: ops[1], typ: ops[0], storage: ops[2]}
		}
	case opFunction:
		if err := need(2); err != nil {
			return err
		}
		f := &function{globals: map[uint32]bool{}}
		r.funcs[ops[1]] = f
		*cur = f
	case opFunctionEnd:
		*cur = nil
	default:
		if *cur != nil {
			r.uses(op, ops, *cur)
		}
	}
	return nil
}

// uses records the global variables a function body references.
func (r *reflector) uses(op uint32, ops []uint32, f *function) {
	mark := func(idx int) {
		if idx < len(ops) {
			if _, ok := r.vars[ops[idx]]; ok {
				f.globals[ops[idx]] = true
			}
		}
	}
	switch {
	case op == opLoad, op == opAccessChain, op == opInBoundsAccess, op == opPtrAccessChain,
		op == opArrayLength, op == opImageTexelPointer:
		mark(2)
	case op == opStore:
		mark(0)
	case op == opCopyMemory:
		mark(0)
		mark(1)
	case op == opAtomicStore:
		mark(0)
	case op >= opAtomicLoad && op <= opAtomicXor:
		mark(2)
	case op == opFunctionCall:
		if len(ops) >= 3 {
			f.calls = append(f.calls, ops[2])
			for i := 3; i < len(ops); i++ {
				mark(i)
			}
		}
	}
}

func (r *reflector) reachable(fn uint32) map[uint32]bool {
	used := map[uint32]bool{}
	seen := map[uint32]bool{}
	var walk func(id uint32)
	walk = func(id uint32) {
		if seen[id] {
			return
		}
		seen[id] = true
		f, ok := r.funcs[id]
		if !ok {
			return
		}
		for g := range f.globals {
			used[g] = true
		}
		for _, c := range f.calls {
			walk(c)
		}
	}
	walk(fn)
	return used
}

// threadgroupSpecializable reports whether specialization constants 0, 1
// and 2 set the workgroup size of e, either through LocalSizeId operands
// or through a specialized WorkgroupSize constant.
func (r *reflector) threadgroupSpecializable(e *entry) bool {
	if e.hasLocalID {
		for i, id := range e.localIDs {
			d, ok := r.decs[id]
			if !ok || !d.hasSpecID || d.specID != uint32(i) {
				return false
			}
		}
		return true
	}
	declared := map[uint32]bool{}
	for _, id := range r.specIDs {
		declared[id] = true
	}
	return declared[0] && declared[1] && declared[2]
}

func (r *reflector) entryPoint(e *entry) (EntryPoint, error) {
	ep := EntryPoint{Name: e.name}
	switch e.model {
	case modelVertex:
		ep.Stage = metadata.FunctionTypeVertex
	case modelFragment:
		ep.Stage = metadata.FunctionTypeFragment
	case modelGLCompute:
		ep.Stage = metadata.FunctionTypeKernel
	default:
		return ep, fmt.Errorf("spirv: entry point %q has unsupported execution model %d", e.name, e.model)
	}

	local := e.local
	if e.hasLocalID {
		for i, id := range e.localIDs {
			local[i] = r.constants[id]
		}
	}
	ep.Layout.ThreadgroupSize = metadata.Size{Width: int(local[0]), Height: int(local[1]), Depth: int(local[2])}
	if ep.Stage == metadata.FunctionTypeKernel {
		ep.Layout.FixedThreadgroupSize = !r.threadgroupSpecializable(e)
	}

	used := r.reachable(e.fn)
	var resources []metadata.Argument
	type keyed struct {
		set uint32
		arg metadata.Argument
	}
	var ks []keyed
	for id := range used {
		v := r.vars[id]
		ptr, ok := r.types[v.typ]
		if !ok || ptr.op != opTypePointer || len(ptr.operands) < 2 {
			continue
		}
		pointee := ptr.operands[1]
		switch v.storage {
		case scWorkgroup:
			ep.WorkgroupMemory += r.sizeOf(pointee)
		case scPushConstant:
			consts, off, size := r.pushMembers(pointee)
			ep.Layout.PushOffset, ep.Layout.PushSize = off, size
			ep.Layout.Arguments = append(ep.Layout.Arguments, consts...)
		case scStorageBuffer, scUniform, scUniformConstant:
			arg, ok := r.resource(id, v.storage, pointee)
			if !ok {
				continue
			}
			d := r.dec(id)
			ks = append(ks, keyed{set: d.set, arg: arg})
		}
	}
	sort.Slice(ks, func(a, b int) bool {
		if ks[a].set != ks[b].set {
			return ks[a].set < ks[b].set
		}
		return ks[a].arg.Binding < ks[b].arg.Binding
	})
	for _, k := range ks {
		resources = append(resources, k.arg)
	}
	ep.Layout.Arguments = append(resources, ep.Layout.Arguments...)
	return ep, nil
}

func (r *reflector) unwrapArray(id uint32) uint32 {
	for {
		t, ok := r.types[id]
		if !ok || (t.op != opTypeArray && t.op != opTypeRuntimeArray) || len(t.operands) == 0 {
			return id
		}
		id = t.operands[0]
	}
}

func (r *reflector) resource(id, storage, pointee uint32) (metadata.Argument, bool) {
	d := r.dec(id)
	arg := metadata.Argument{Name: r.names[id], Binding: d.binding}
	base := r.unwrapArray(pointee)
	t := r.types[base]
	switch storage {
	case scStorageBuffer:
		arg.Class, arg.Kind = metadata.ArgumentClassBuffer, metadata.DescriptorKindStorageBuffer
	case scUniform:
		arg.Class = metadata.ArgumentClassBuffer
		if r.dec(base).bufBlock {
			arg.Kind = metadata.DescriptorKindStorageBuffer
		} else {
			arg.Kind = metadata.DescriptorKindUniformBuffer
		}
		arg.Size = r.sizeOf(base)
	case scUniformConstant:
		switch t.op {
		case opTypeImage:
			arg.Class = metadata.ArgumentClassTexture
			arg.Kind = metadata.DescriptorKindSampledImage
			if len(t.operands) > 5 && t.operands[5] == 2 {
				arg.Kind = metadata.DescriptorKindStorageImage
			}
		case opTypeSampledImage:
			arg.Class, arg.Kind = metadata.ArgumentClassTexture, metadata.DescriptorKindCombinedImageSampler
		case opTypeSampler:
			arg.Class, arg.Kind = metadata.ArgumentClassSampler, metadata.DescriptorKindSampler
		default:
			return arg, false
		}
	}
	return arg, true
}

// pushMembers returns one constant argument per member of the push block
// and the byte range the block covers.
func (r *reflector) pushMembers(structID uint32) ([]metadata.Argument, uint32, uint32) {
	t, ok := r.types[structID]
	if !ok || t.op != opTypeStruct {
		size := r.sizeOf(structID)
		return []metadata.Argument{{Class: metadata.ArgumentClassConstant, Size: size}}, 0, size
	}
	var args []metadata.Argument
	var lo, hi uint32
	lo = ^uint32(0)
	var next uint32
	for i, m := range t.operands {
		off, ok := r.memberOff[structID][uint32(i)]
		if !ok {
			off = next
		}
		size := r.memberSize(structID, uint32(i), m)
		args = append(args, metadata.Argument{
			Name:   r.names[structID] + "." + fmt.Sprint(i),
			Class:  metadata.ArgumentClassConstant,
			Offset: off,
			Size:   size,
		})
		if off < lo {
			lo = off
		}
		if off+size > hi {
			hi = off + size
		}
		next = off + size
	}
	if len(args) == 0 {
		return nil, 0, 0
	}
	return args, lo, hi - lo
}

func (r *reflector) memberSize(structID, member, typ uint32) uint32 {
	if t, ok := r.types[typ]; ok && t.op == opTypeMatrix && len(t.operands) >= 2 {
		if stride, ok := r.memberMat[structID][member]; ok {
			return stride * t.operands[1]
		}
	}
	return r.sizeOf(typ)
}

func (r *reflector) sizeOf(id uint32) uint32 {
	t, ok := r.types[id]
	if !ok {
		return 0
	}
	switch t.op {
	case opTypeInt, opTypeFloat:
		return t.operands[0] / 8
	case opTypeVector, opTypeMatrix:
		if len(t.operands) < 2 {
			return 0
		}
		return r.sizeOf(t.operands[0]) * t.operands[1]
	case opTypeArray:
		if len(t.operands) < 2 {
			return 0
		}
		n := r.constants[t.operands[1]]
		if s := r.dec(id).arrayStride; s != 0 {
			return s * n
		}
		return r.sizeOf(t.operands[0]) * n
	case opTypeRuntimeArray:
		return 0
	case opTypeStruct:
		var end, next uint32
		for i, m := range t.operands {
			off, ok := r.memberOff[id][uint32(i)]
			if !ok {
				off = next
			}
			s := r.memberSize(id, uint32(i), m)
			next = off + s
			if next > end {
				end = next
			}
		}
		return end
	}
	return 0
}
