package metal

import (
	"testing"

	"github.com/spaghettifunk/anima/engine/renderer/metadata"
)

func TestHeapAccounting(t *testing.T) {
	d, _ := newTestDevice(t)
	if _, err := d.MakeHeap(metadata.HeapDescriptor{}); err == nil {
		t.Fatal("empty heap accepted")
	}
	h, err := d.MakeHeap(metadata.HeapDescriptor{Size: 256})
	if err != nil {
		t.Fatal(err)
	}

	b, err := h.MakeBuffer(100, metadata.ResourceOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if h.UsedSize() != b.AllocatedSize() {
		t.Errorf("used %d, buffer %d", h.UsedSize(), b.AllocatedSize())
	}
	if _, err := h.MakeBuffer(200, metadata.ResourceOptions{}); err == nil {
		t.Error("heap overcommitted")
	}

	tex, err := h.MakeTexture(metadata.Texture2DDescriptor(metadata.PixelFormatRGBA8Unorm, 4, 4, false))
	if err != nil {
		t.Fatal(err)
	}
	if got := h.UsedSize(); got != b.AllocatedSize()+64 {
		t.Errorf("used after texture = %d", got)
	}
	if h.MaxAvailableSize(16) != 80 {
		t.Errorf("max available = %d", h.MaxAvailableSize(16))
	}

	b.Release()
	tex.Release()
	if h.UsedSize() != 0 {
		t.Errorf("used after release = %d", h.UsedSize())
	}
}
