package matting

import (
	"math"
	"testing"
)

// gradientImage fills a small RGB grid with a smooth color ramp so window
// covariances are well conditioned without being degenerate.
func gradientImage(w, h int) *RGB {
	img := NewRGB(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := pixOffset(w, x, y)
			img.Pix[off] = float64(x) / float64(w)
			img.Pix[off+1] = float64(y) / float64(h)
			img.Pix[off+2] = float64(x+y) / float64(w+h)
		}
	}
	return img
}

func denseFromCOO(lap *coo, n int) []float64 {
	dense := make([]float64, n*n)
	for i := range lap.vals {
		dense[int(lap.rows[i])*n+int(lap.cols[i])] += lap.vals[i]
	}
	return dense
}

func TestLaplacianRowSumsZero(t *testing.T) {
	img := gradientImage(6, 6)
	known := make([]bool, 36) // everything unknown: all windows assembled

	lap, windows := buildLaplacian(img, known, 1e-7, 1)
	if windows != 16 {
		t.Fatalf("windows = %d, want 16", windows)
	}
	dense := denseFromCOO(lap, 36)
	for r := 0; r < 36; r++ {
		sum := 0.0
		for c := 0; c < 36; c++ {
			sum += dense[r*36+c]
		}
		if math.Abs(sum) > 1e-9 {
			t.Errorf("row %d sums to %g, want 0", r, sum)
		}
	}
}

func TestLaplacianSymmetric(t *testing.T) {
	img := gradientImage(5, 5)
	known := make([]bool, 25)

	lap, _ := buildLaplacian(img, known, 1e-7, 1)
	dense := denseFromCOO(lap, 25)
	for r := 0; r < 25; r++ {
		for c := 0; c < 25; c++ {
			if math.Abs(dense[r*25+c]-dense[c*25+r]) > 1e-12 {
				t.Fatalf("asymmetry at (%d,%d)", r, c)
			}
		}
	}
}

func TestLaplacianSkipsFullyKnown(t *testing.T) {
	img := gradientImage(8, 8)
	known := make([]bool, 64)
	for i := range known {
		known[i] = true
	}

	lap, windows := buildLaplacian(img, known, 1e-7, 1)
	if windows != 0 {
		t.Errorf("windows = %d, want 0 for a fully known trimap", windows)
	}
	if len(lap.vals) != 0 {
		t.Errorf("nnz = %d, want 0", len(lap.vals))
	}
}

func TestLaplacianRestrictedToBand(t *testing.T) {
	img := gradientImage(11, 11)
	known := make([]bool, 121)
	for i := range known {
		known[i] = true
	}
	known[gridOffset(11, 5, 5)] = false // single unknown pixel

	_, windows := buildLaplacian(img, known, 1e-7, 1)
	if windows == 0 {
		t.Fatal("no windows assembled around the unknown pixel")
	}
	total := 9 * 9 // all interior window positions
	if windows >= total {
		t.Errorf("windows = %d, want fewer than %d (band restriction)", windows, total)
	}
}

func TestLaplacianTooSmallImage(t *testing.T) {
	img := gradientImage(2, 2)
	known := make([]bool, 4)

	lap, windows := buildLaplacian(img, known, 1e-7, 1)
	if windows != 0 || len(lap.vals) != 0 {
		t.Errorf("windows = %d nnz = %d, want 0 for an image smaller than a window", windows, len(lap.vals))
	}
}

func TestLaplacianUniformImageRegularized(t *testing.T) {
	// A perfectly flat image exercises the epsilon regularization: the
	// covariance is singular without it, yet assembly must stay finite.
	img := NewRGB(5, 5)
	for i := range img.Pix {
		img.Pix[i] = 0.5
	}
	known := make([]bool, 25)

	lap, _ := buildLaplacian(img, known, 1e-7, 1)
	for i, v := range lap.vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("non-finite entry %g at triplet %d", v, i)
		}
	}
}
