package loaders

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
)

func checker(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.NRGBA{R: 255, A: 255})
			} else {
				img.Set(x, y, color.NRGBA{B: 255, A: 255})
			}
		}
	}
	return img
}

func TestTextureLoaderFormats(t *testing.T) {
	dir := t.TempDir()
	src := checker(4, 3)
	encoders := map[string]func(*os.File) error{
		"tex.png": func(f *os.File) error { return png.Encode(f, src) },
		"tex.bmp": func(f *os.File) error { return bmp.Encode(f, src) },
	}
	for name, encode := range encoders {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := encode(f); err != nil {
			t.Fatal(err)
		}
		f.Close()

		var tl TextureLoader
		img, err := tl.Load(path)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if img.Stride != 16 || img.Rect.Dx() != 4 || img.Rect.Dy() != 3 {
			t.Errorf("%s: rect %v stride %d", name, img.Rect, img.Stride)
		}
		if got := img.RGBAAt(1, 0); got != (color.RGBA{B: 255, A: 255}) {
			t.Errorf("%s: pixel (1,0) = %v", name, got)
		}
	}
}

func TestTextureLoaderRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.png")
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	var tl TextureLoader
	if _, err := tl.Load(path); err == nil {
		t.Error("expected a decode error")
	}
}

func TestToRGBAOffsetOrigin(t *testing.T) {
	img := image.NewRGBA(image.Rect(2, 2, 4, 4))
	img.Set(2, 2, color.RGBA{G: 255, A: 255})
	out := ToRGBA(img)
	if out.Rect.Min != (image.Point{}) || out.RGBAAt(0, 0).G != 255 {
		t.Errorf("rect %v pixel %v", out.Rect, out.RGBAAt(0, 0))
	}
}
