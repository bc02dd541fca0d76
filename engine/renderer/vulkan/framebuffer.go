package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

type Framebuffer struct {
	gpu         *GPU
	handle      vk.Framebuffer
	attachments []vk.ImageView
	renderpass  *RenderPass
}

func (g *GPU) NewFramebuffer(pass driver.RenderPass, attachments []driver.Image, width, height uint32) (driver.Framebuffer, error) {
	rp := pass.(*RenderPass)
	fb := &Framebuffer{
		gpu:         g,
		attachments: make([]vk.ImageView, len(attachments)),
		renderpass:  rp,
	}
	// Take a copy of the attachment views.
	for i, img := range attachments {
		fb.attachments[i] = img.(*Image).View
	}

	// Creation info
	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.handle,
		AttachmentCount: uint32(len(fb.attachments)),
		PAttachments:    fb.attachments,
		Width:           width,
		Height:          height,
		Layers:          1,
	}

	if res := vk.CreateFramebuffer(g.device, &framebufferCreateInfo, nil, &fb.handle); res != vk.Success {
		return nil, resultError("vkCreateFramebuffer", res)
	}
	return fb, nil
}

func (fb *Framebuffer) Destroy() {
	if fb.handle != nil {
		vk.DestroyFramebuffer(fb.gpu.device, fb.handle, nil)
		fb.handle = nil
	}
	fb.attachments = nil
	fb.renderpass = nil
}
