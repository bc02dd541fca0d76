package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

// RenderPass has a single subpass writing every color attachment and the
// optional depth attachment, which always comes last.
type RenderPass struct {
	gpu    *GPU
	handle vk.RenderPass
	desc   driver.RenderPassDesc
}

func attachmentDescription(a driver.AttachmentDesc, depth bool) vk.AttachmentDescription {
	samples := a.Samples
	if samples == 0 {
		samples = 1
	}
	d := vk.AttachmentDescription{
		Format:         a.Format,
		Samples:        vk.SampleCountFlagBits(samples),
		LoadOp:         a.Load,
		StoreOp:        a.Store,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  a.Initial,
		FinalLayout:    a.Final,
	}
	if depth {
		d.StencilLoadOp = a.Load
		d.StencilStoreOp = a.Store
	}
	return d
}

func (g *GPU) NewRenderPass(desc driver.RenderPassDesc) (driver.RenderPass, error) {
	// Main subpass
	subpass := vk.SubpassDescription{
		PipelineBindPoint: vk.PipelineBindPointGraphics,
	}

	attachmentDescriptions := make([]vk.AttachmentDescription, 0, len(desc.Colors)+1)
	colorRefs := make([]vk.AttachmentReference, len(desc.Colors))
	for i, c := range desc.Colors {
		attachmentDescriptions = append(attachmentDescriptions, attachmentDescription(c, false))
		colorRefs[i] = vk.AttachmentReference{
			Attachment: uint32(i), // Attachment description array index
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}
	}
	subpass.ColorAttachmentCount = uint32(len(colorRefs))
	subpass.PColorAttachments = colorRefs

	// Depth attachment, if there is one
	if desc.Depth != nil {
		attachmentDescriptions = append(attachmentDescriptions, attachmentDescription(*desc.Depth, true))
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(len(desc.Colors)),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	// Work before and after the pass is ordered by explicit barriers, these
	// only cover the attachment writes themselves.
	stages := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit) |
		vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit) |
		vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit)
	access := vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit) |
		vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit) | vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
	dependencies := []vk.SubpassDependency{
		{
			SrcSubpass:    vk.SubpassExternal,
			DstSubpass:    0,
			SrcStageMask:  stages,
			SrcAccessMask: access,
			DstStageMask:  stages,
			DstAccessMask: access,
		},
		{
			SrcSubpass:    0,
			DstSubpass:    vk.SubpassExternal,
			SrcStageMask:  stages,
			SrcAccessMask: access,
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
			DstAccessMask: vk.AccessFlags(vk.AccessMemoryReadBit) | vk.AccessFlags(vk.AccessMemoryWriteBit),
		},
	}

	// Render pass create.
	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachmentDescriptions)),
		PAttachments:    attachmentDescriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}

	rp := &RenderPass{gpu: g, desc: desc}
	if res := vk.CreateRenderPass(g.device, &renderpassCreateInfo, nil, &rp.handle); res != vk.Success {
		return nil, resultError("vkCreateRenderPass", res)
	}
	return rp, nil
}

func (rp *RenderPass) Destroy() {
	if rp.handle != nil {
		vk.DestroyRenderPass(rp.gpu.device, rp.handle, nil)
		rp.handle = nil
	}
}

// clearValues lays out clears in attachment order; the depth attachment
// takes its depth and stencil from the last entry.
func (rp *RenderPass) clearValues(clears []driver.ClearValue) []vk.ClearValue {
	n := len(rp.desc.Colors)
	if rp.desc.Depth != nil {
		n++
	}
	out := make([]vk.ClearValue, n)
	for i := 0; i < n && i < len(clears); i++ {
		if rp.desc.Depth != nil && i == len(rp.desc.Colors) {
			out[i].SetDepthStencil(clears[i].Depth, clears[i].Stencil)
			continue
		}
		c := clears[i].Color
		out[i].SetColor(c[:])
	}
	return out
}
