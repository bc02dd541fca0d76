package metal

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

type layoutAccess struct {
	access vk.AccessFlags
	stage  vk.PipelineStageFlags
}

func access(bits ...vk.AccessFlagBits) vk.AccessFlags {
	var f vk.AccessFlags
	for _, b := range bits {
		f |= vk.AccessFlags(b)
	}
	return f
}

func stages(bits ...vk.PipelineStageFlagBits) vk.PipelineStageFlags {
	var f vk.PipelineStageFlags
	for _, b := range bits {
		f |= vk.PipelineStageFlags(b)
	}
	return f
}

// What has to finish before an image can leave a layout.
var srcLayouts = map[vk.ImageLayout]layoutAccess{
	vk.ImageLayoutUndefined: {0, stages(vk.PipelineStageTopOfPipeBit)},
	vk.ImageLayoutGeneral: {
		access(vk.AccessShaderWriteBit, vk.AccessTransferWriteBit, vk.AccessMemoryWriteBit),
		stages(vk.PipelineStageAllCommandsBit),
	},
	vk.ImageLayoutColorAttachmentOptimal: {
		access(vk.AccessColorAttachmentWriteBit),
		stages(vk.PipelineStageColorAttachmentOutputBit),
	},
	vk.ImageLayoutDepthStencilAttachmentOptimal: {
		access(vk.AccessDepthStencilAttachmentWriteBit),
		stages(vk.PipelineStageEarlyFragmentTestsBit, vk.PipelineStageLateFragmentTestsBit),
	},
	vk.ImageLayoutShaderReadOnlyOptimal: {
		0,
		stages(vk.PipelineStageVertexShaderBit, vk.PipelineStageFragmentShaderBit, vk.PipelineStageComputeShaderBit),
	},
	vk.ImageLayoutTransferSrcOptimal: {access(vk.AccessTransferReadBit), stages(vk.PipelineStageTransferBit)},
	vk.ImageLayoutTransferDstOptimal: {access(vk.AccessTransferWriteBit), stages(vk.PipelineStageTransferBit)},
	vk.ImageLayoutPresentSrc:         {0, stages(vk.PipelineStageBottomOfPipeBit)},
}

// What must wait for an image to enter a layout.
var dstLayouts = map[vk.ImageLayout]layoutAccess{
	vk.ImageLayoutGeneral: {
		access(vk.AccessShaderReadBit, vk.AccessShaderWriteBit, vk.AccessTransferReadBit, vk.AccessTransferWriteBit),
		stages(vk.PipelineStageAllCommandsBit),
	},
	vk.ImageLayoutColorAttachmentOptimal: {
		access(vk.AccessColorAttachmentReadBit, vk.AccessColorAttachmentWriteBit),
		stages(vk.PipelineStageColorAttachmentOutputBit),
	},
	vk.ImageLayoutDepthStencilAttachmentOptimal: {
		access(vk.AccessDepthStencilAttachmentReadBit, vk.AccessDepthStencilAttachmentWriteBit),
		stages(vk.PipelineStageEarlyFragmentTestsBit),
	},
	vk.ImageLayoutShaderReadOnlyOptimal: {
		access(vk.AccessShaderReadBit),
		stages(vk.PipelineStageVertexShaderBit, vk.PipelineStageFragmentShaderBit, vk.PipelineStageComputeShaderBit),
	},
	vk.ImageLayoutTransferSrcOptimal: {access(vk.AccessTransferReadBit), stages(vk.PipelineStageTransferBit)},
	vk.ImageLayoutTransferDstOptimal: {access(vk.AccessTransferWriteBit), stages(vk.PipelineStageTransferBit)},
	vk.ImageLayoutPresentSrc:         {access(vk.AccessMemoryReadBit), stages(vk.PipelineStageBottomOfPipeBit)},
}

// Layout is the layout the texture will be in after the commands encoded
// so far have run.
func (t *Texture) Layout() vk.ImageLayout {
	t.layoutMu.Lock()
	defer t.layoutMu.Unlock()
	return t.layout
}

// transitionTo records the barrier that moves the whole texture into
// layout and reports whether one was needed. The caller must be encoding
// into cb. A pair outside the tables is a programming error.
func (t *Texture) transitionTo(layout vk.ImageLayout, cb driver.CommandBuffer) bool {
	t.layoutMu.Lock()
	defer t.layoutMu.Unlock()

	if t.layout == layout {
		return false
	}
	src, ok := srcLayouts[t.layout]
	if !ok {
		core.Fatalf("%w: from layout %d of %s", core.ErrUnsupportedTransition, t.layout, t.Label())
	}
	dst, ok := dstLayouts[layout]
	if !ok {
		core.Fatalf("%w: %d -> %d on %s", core.ErrUnsupportedTransition, t.layout, layout, t.Label())
	}
	cb.PipelineBarrier(src.stage, dst.stage, nil, []driver.ImageBarrier{{
		Image:      t.native,
		OldLayout:  t.layout,
		NewLayout:  layout,
		SrcAccess:  src.access,
		DstAccess:  dst.access,
		LevelCount: uint32(t.desc.MipmapLevelCount),
		LayerCount: t.layerCount(),
	}})
	t.layout = layout
	return true
}

// assumeLayout records a layout change a render pass performs implicitly.
func (t *Texture) assumeLayout(layout vk.ImageLayout) {
	t.layoutMu.Lock()
	t.layout = layout
	t.layoutMu.Unlock()
}
