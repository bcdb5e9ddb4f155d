package matting

import "testing"

func maskHalves(w, h int) *Grid {
	m := NewGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				m.Pix[gridOffset(w, x, y)] = 1
			}
		}
	}
	return m
}

func countValue(g *Grid, v float64) int {
	n := 0
	for _, p := range g.Pix {
		if p == v {
			n++
		}
	}
	return n
}

func TestRefineTrimapThresholds(t *testing.T) {
	opt := DefaultOptions()
	opt.ErodeSize = 0

	mask := NewGrid(3, 1)
	mask.Pix[0] = 0.0
	mask.Pix[1] = 0.5
	mask.Pix[2] = 1.0

	tri, warnings := RefineTrimap(mask, opt)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if tri.Pix[0] != 0 {
		t.Errorf("background pixel = %v, want 0", tri.Pix[0])
	}
	if tri.Pix[1] != unknownValue {
		t.Errorf("mid pixel = %v, want %v", tri.Pix[1], unknownValue)
	}
	if tri.Pix[2] != 1 {
		t.Errorf("foreground pixel = %v, want 1", tri.Pix[2])
	}
}

func TestRefineTrimapUnknownGrowsWithKernel(t *testing.T) {
	mask := maskHalves(24, 24)
	opt := DefaultOptions()

	prev := -1
	for _, size := range []int{0, 2, 4, 6, 8, 10} {
		opt.ErodeSize = size
		tri, _ := RefineTrimap(mask, opt)
		unknown := countValue(tri, unknownValue)
		if unknown < prev {
			t.Fatalf("unknown count decreased from %d to %d at kernel %d", prev, unknown, size)
		}
		prev = unknown
	}
	if prev == 0 {
		t.Fatal("largest kernel produced no unknown band")
	}
}

func TestRefineTrimapBandRatio(t *testing.T) {
	mask := maskHalves(40, 40)
	opt := DefaultOptions()
	opt.ErodeSize = 0
	opt.BandRatio = 0.1 // kernel 4 on a 40px image

	tri, _ := RefineTrimap(mask, opt)
	if countValue(tri, unknownValue) == 0 {
		t.Fatal("BandRatio produced no unknown band")
	}
}

func TestRefineTrimapClampKeepsClass(t *testing.T) {
	mask := NewGrid(8, 8)
	for i := range mask.Pix {
		mask.Pix[i] = 1
	}
	opt := DefaultOptions()
	opt.ErodeSize = 50 // far beyond the image half-width

	tri, warnings := RefineTrimap(mask, opt)
	if countValue(tri, 1) == 0 {
		t.Fatal("erosion erased the foreground class entirely")
	}
	if len(warnings) == 0 {
		t.Fatal("expected a clamp warning")
	}
}

func TestErodeBinaryBorderValue(t *testing.T) {
	// A full-true mask eroded with outside=true must survive untouched,
	// the way background erosion treats the image border as background.
	w, h := 6, 6
	mask := make([]bool, w*h)
	for i := range mask {
		mask[i] = true
	}
	eroded := erodeBinary(mask, w, h, 5, true)
	if countTrue(eroded) != w*h {
		t.Errorf("border-safe erosion removed %d pixels", w*h-countTrue(eroded))
	}
	eroded = erodeBinary(mask, w, h, 5, false)
	if countTrue(eroded) == w*h {
		t.Error("border-eroding erosion left the mask unchanged")
	}
}
