package testbed

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/driver/soft"
	"github.com/spaghettifunk/anima/engine/renderer/metal"
	"golang.org/x/image/bmp"
)

func TestRunWritesClearedTarget(t *testing.T) {
	gpu := soft.New()
	defer gpu.Destroy()
	dev, err := metal.NewDevice(gpu, core.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	out := filepath.Join(t.TempDir(), "clear.bmp")
	res, err := Run(dev, Options{Output: out})
	if err != nil {
		t.Fatal(err)
	}
	if res.CopiedBytes != 64 {
		t.Errorf("copied %d bytes", res.CopiedBytes)
	}
	if want := (color.RGBA{R: 255, A: 255}); res.ClearedPixel != want {
		t.Errorf("pixel = %v, want %v", res.ClearedPixel, want)
	}
	if res.Submitted != 2 || res.Completed != 2 {
		t.Errorf("submitted %d completed %d", res.Submitted, res.Completed)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := bmp.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Errorf("bounds = %v", b)
	}
	r, g, _, _ := img.At(10, 10).RGBA()
	if r>>8 != 255 || g != 0 {
		t.Errorf("decoded pixel r=%d g=%d", r>>8, g)
	}
	if errs := gpu.Errors(); len(errs) != 0 {
		t.Errorf("validation errors: %v", errs)
	}
}

func TestRunRoundTripsInputImage(t *testing.T) {
	gpu := soft.New()
	defer gpu.Destroy()
	dev, err := metal.NewDevice(gpu, core.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	src := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for i := range src.Pix {
		src.Pix[i] = byte(i * 7)
	}
	in := filepath.Join(t.TempDir(), "in.png")
	f, err := os.Create(in)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, src); err != nil {
		t.Fatal(err)
	}
	f.Close()

	res, err := Run(dev, Options{Input: in})
	if err != nil {
		t.Fatal(err)
	}
	if !res.RoundTripped {
		t.Error("input image was not round tripped")
	}
	if res.Submitted != 3 {
		t.Errorf("submitted %d, want 3", res.Submitted)
	}
}
