package soft

// KernelFunc emulates one compute dispatch. It runs on the queue goroutine.
type KernelFunc func(ctx *KernelContext)

// KernelContext exposes the state bound for a dispatch.
type KernelContext struct {
	Groups    [3]uint32
	LocalSize [3]uint32
	Push      []byte

	sets map[uint32]*DescriptorSet
}

// Threads is the total number of invocations along each axis.
func (k *KernelContext) Threads() [3]uint32 {
	return [3]uint32{
		k.Groups[0] * k.LocalSize[0],
		k.Groups[1] * k.LocalSize[1],
		k.Groups[2] * k.LocalSize[2],
	}
}

// Buffer returns the bound range of the storage buffer at (set, binding),
// or nil when nothing is bound there.
func (k *KernelContext) Buffer(set, b uint32) []byte {
	ds, ok := k.sets[set]
	if !ok {
		return nil
	}
	bd, ok := ds.get(b)
	if !ok || bd.buffer == nil {
		return nil
	}
	end := int64(len(bd.buffer.data))
	if bd.size > 0 && bd.offset+bd.size < end {
		end = bd.offset + bd.size
	}
	return bd.buffer.data[bd.offset:end]
}

func (k *KernelContext) Image(set, b uint32) *Image {
	ds, ok := k.sets[set]
	if !ok {
		return nil
	}
	bd, ok := ds.get(b)
	if !ok {
		return nil
	}
	return bd.image
}
