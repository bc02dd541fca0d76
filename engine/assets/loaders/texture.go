package loaders

import (
	"fmt"
	"image"
	"image/draw"
	"os"

	// Decoders for the formats the loader accepts.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
)

// TextureLoader decodes PNG, JPEG and BMP files into tightly packed RGBA8
// pixels ready for Texture.ReplaceRegion.
type TextureLoader struct{}

func (tl *TextureLoader) Load(path string) (*image.RGBA, error) {
	// Open and decode the texture image file
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	rgba := ToRGBA(img)
	if rgba.Rect.Empty() {
		return nil, fmt.Errorf("%s: empty %s image", path, format)
	}
	return rgba, nil
}

// ToRGBA returns img as an RGBA image whose origin is (0, 0) and whose
// stride is exactly four bytes per pixel.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) && rgba.Stride == 4*b.Dx() {
		return rgba
	}
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
