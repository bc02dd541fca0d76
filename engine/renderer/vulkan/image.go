package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

// Image is an optimally tiled, device local image with a view over every
// level and layer. Render passes bind the view, so attachments use level 0
// of layer 0.
type Image struct {
	gpu    *GPU
	desc   driver.ImageDesc
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
}

func (g *GPU) NewImage(desc driver.ImageDesc) (driver.Image, error) {
	if desc.Depth == 0 {
		desc.Depth = 1
	}
	if desc.Levels == 0 {
		desc.Levels = 1
	}
	if desc.Layers == 0 {
		desc.Layers = 1
	}
	if desc.Samples == 0 {
		desc.Samples = 1
	}

	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    desc.Format,
		Extent: vk.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  desc.Depth,
		},
		MipLevels:     desc.Levels,
		ArrayLayers:   desc.Layers,
		Samples:       vk.SampleCountFlagBits(desc.Samples),
		Tiling:        vk.ImageTilingOptimal,
		Usage:         desc.Usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	viewType := vk.ImageViewType2d
	switch {
	case desc.Is3D:
		imageInfo.ImageType = vk.ImageType3d
		viewType = vk.ImageViewType3d
	case desc.Cube:
		imageInfo.Flags = vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
		viewType = vk.ImageViewTypeCube
		if desc.Layers > 6 {
			viewType = vk.ImageViewTypeCubeArray
		}
	case desc.Layers > 1:
		viewType = vk.ImageViewType2dArray
	}

	img := &Image{gpu: g, desc: desc}
	if res := vk.CreateImage(g.device, &imageInfo, nil, &img.Handle); res != vk.Success {
		return nil, resultError("vkCreateImage", res)
	}

	var memReqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(g.device, img.Handle, &memReqs)
	memReqs.Deref()

	mem, err := g.allocate(memReqs, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		img.Destroy()
		return nil, err
	}
	img.Memory = mem
	if res := vk.BindImageMemory(g.device, img.Handle, img.Memory, 0); res != vk.Success {
		img.Destroy()
		return nil, resultError("vkBindImageMemory", res)
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img.Handle,
		ViewType: viewType,
		Format:   desc.Format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     desc.Aspect(),
			BaseMipLevel:   0,
			LevelCount:     desc.Levels,
			BaseArrayLayer: 0,
			LayerCount:     desc.Layers,
		},
	}
	if res := vk.CreateImageView(g.device, &viewInfo, nil, &img.View); res != vk.Success {
		img.Destroy()
		return nil, resultError("vkCreateImageView", res)
	}
	return img, nil
}

func (i *Image) Desc() driver.ImageDesc { return i.desc }

func (i *Image) Destroy() {
	if i.View != nil {
		vk.DestroyImageView(i.gpu.device, i.View, nil)
		i.View = nil
	}
	if i.Handle != nil {
		vk.DestroyImage(i.gpu.device, i.Handle, nil)
		i.Handle = nil
	}
	if i.Memory != nil {
		vk.FreeMemory(i.gpu.device, i.Memory, nil)
		i.Memory = nil
	}
}

type Sampler struct {
	gpu    *GPU
	handle vk.Sampler
}

func (g *GPU) NewSampler(desc driver.SamplerDesc) (driver.Sampler, error) {
	info := vk.SamplerCreateInfo{
		SType:            vk.StructureTypeSamplerCreateInfo,
		MagFilter:        desc.MagFilter,
		MinFilter:        desc.MinFilter,
		MipmapMode:       desc.MipmapMode,
		AddressModeU:     desc.AddressU,
		AddressModeV:     desc.AddressV,
		AddressModeW:     desc.AddressW,
		AnisotropyEnable: vkBool(desc.MaxAnisotropy > 1),
		MaxAnisotropy:    desc.MaxAnisotropy,
		CompareEnable:    vkBool(desc.CompareEnable),
		CompareOp:        desc.CompareOp,
		MinLod:           desc.MinLod,
		MaxLod:           desc.MaxLod,
		BorderColor:      vk.BorderColorFloatTransparentBlack,
	}
	if info.MaxAnisotropy < 1 {
		info.MaxAnisotropy = 1
	}
	s := &Sampler{gpu: g}
	if res := vk.CreateSampler(g.device, &info, nil, &s.handle); res != vk.Success {
		return nil, resultError("vkCreateSampler", res)
	}
	return s, nil
}

func (s *Sampler) Destroy() {
	if s.handle != nil {
		vk.DestroySampler(s.gpu.device, s.handle, nil)
		s.handle = nil
	}
}
