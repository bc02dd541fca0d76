package soft

import (
	"encoding/binary"
	"math"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer/driver"
)

func formatSize(f vk.Format) int {
	switch f {
	case vk.FormatR8Unorm:
		return 1
	case vk.FormatR8g8Unorm, vk.FormatR16Sfloat, vk.FormatD16Unorm:
		return 2
	case vk.FormatR8g8b8a8Unorm, vk.FormatR8g8b8a8Srgb, vk.FormatB8g8r8a8Unorm, vk.FormatB8g8r8a8Srgb,
		vk.FormatR32Uint, vk.FormatR32Sfloat, vk.FormatD32Sfloat, vk.FormatD24UnormS8Uint:
		return 4
	case vk.FormatR16g16b16a16Sfloat, vk.FormatR32g32Sfloat, vk.FormatD32SfloatS8Uint:
		return 8
	case vk.FormatR32g32b32a32Sfloat:
		return 16
	}
	return 0
}

func unorm8(v float32) byte {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return byte(math.Round(float64(v) * 255))
}

// halfBits converts to IEEE 754 binary16, flushing subnormals to zero.
func halfBits(f float32) uint16 {
	b := math.Float32bits(f)
	sign := uint16(b>>16) & 0x8000
	exp := int32((b>>23)&0xFF) - 127 + 15
	mant := b & 0x7FFFFF
	switch {
	case exp <= 0:
		return sign
	case exp >= 0x1F:
		return sign | 0x7C00
	}
	return sign | uint16(exp)<<10 | uint16(mant>>13)
}

// encodeColor returns one texel of format f holding c.
func encodeColor(f vk.Format, c [4]float32) []byte {
	out := make([]byte, formatSize(f))
	switch f {
	case vk.FormatR8Unorm:
		out[0] = unorm8(c[0])
	case vk.FormatR8g8Unorm:
		out[0], out[1] = unorm8(c[0]), unorm8(c[1])
	case vk.FormatR8g8b8a8Unorm, vk.FormatR8g8b8a8Srgb:
		for i := 0; i < 4; i++ {
			out[i] = unorm8(c[i])
		}
	case vk.FormatB8g8r8a8Unorm, vk.FormatB8g8r8a8Srgb:
		out[0], out[1], out[2], out[3] = unorm8(c[2]), unorm8(c[1]), unorm8(c[0]), unorm8(c[3])
	case vk.FormatR16Sfloat:
		binary.LittleEndian.PutUint16(out, halfBits(c[0]))
	case vk.FormatR16g16b16a16Sfloat:
		for i := 0; i < 4; i++ {
			binary.LittleEndian.PutUint16(out[i*2:], halfBits(c[i]))
		}
	case vk.FormatR32Uint:
		binary.LittleEndian.PutUint32(out, uint32(c[0]))
	case vk.FormatR32Sfloat:
		binary.LittleEndian.PutUint32(out, math.Float32bits(c[0]))
	case vk.FormatR32g32Sfloat:
		for i := 0; i < 2; i++ {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(c[i]))
		}
	case vk.FormatR32g32b32a32Sfloat:
		for i := 0; i < 4; i++ {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(c[i]))
		}
	}
	return out
}

func encodeDepth(f vk.Format, cv driver.ClearValue) []byte {
	out := make([]byte, formatSize(f))
	switch f {
	case vk.FormatD16Unorm:
		binary.LittleEndian.PutUint16(out, uint16(math.Round(float64(cv.Depth)*0xFFFF)))
	case vk.FormatD32Sfloat:
		binary.LittleEndian.PutUint32(out, math.Float32bits(cv.Depth))
	case vk.FormatD24UnormS8Uint:
		d := uint32(math.Round(float64(cv.Depth)*0xFFFFFF)) & 0xFFFFFF
		binary.LittleEndian.PutUint32(out, d|cv.Stencil<<24)
	case vk.FormatD32SfloatS8Uint:
		binary.LittleEndian.PutUint32(out, math.Float32bits(cv.Depth))
		out[4] = byte(cv.Stencil)
	}
	return out
}

func isDepthFormat(f vk.Format) bool {
	switch f {
	case vk.FormatD16Unorm, vk.FormatD32Sfloat, vk.FormatD24UnormS8Uint, vk.FormatD32SfloatS8Uint:
		return true
	}
	return false
}
