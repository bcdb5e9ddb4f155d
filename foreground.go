package matting

import (
	"fmt"
	"math"
)

// estimateForeground recovers foreground and background colors from the
// image and the solved matte. The compositing equation I = aF + (1-a)B is
// underdetermined per pixel, so each pixel solves a 2x2 system combining the
// data term with smoothness toward its four neighbors, weighted by the local
// alpha gradient: near a=0 or a=1 one side is pinned by the data term while
// the other is filled in from neighbors. The solve runs coarse-to-fine,
// doubling resolution from FGMinSize up to the full image, with the coarser
// solution upsampled as the initial condition of the next level.
func estimateForeground(img *RGB, alpha *Grid, opt Options) (*RGB, *RGB) {
	w, h := img.W, img.H

	minSize := opt.FGMinSize
	if minSize < 2 {
		minSize = 2
	}
	reg := opt.FGRegularization
	if reg <= 0 {
		reg = 1e-5
	}
	smallIters := opt.FGSmallIterations
	if smallIters <= 0 {
		smallIters = 10
	}
	bigIters := opt.FGBigIterations
	if bigIters <= 0 {
		bigIters = 2
	}
	smallSize := opt.FGSmallSize
	if smallSize <= 0 {
		smallSize = 32
	}

	// Level sizes, coarsest first.
	type level struct{ w, h int }
	var levels []level
	for lw, lh := w, h; ; lw, lh = max(minSize, (lw+1)/2), max(minSize, (lh+1)/2) {
		levels = append(levels, level{lw, lh})
		if lw <= minSize && lh <= minSize {
			break
		}
	}
	for i, j := 0, len(levels)-1; i < j; i, j = i+1, j-1 {
		levels[i], levels[j] = levels[j], levels[i]
	}

	var fg, bg *RGB
	for i, lv := range levels {
		if opt.Progress != nil {
			opt.Progress(70+15*i/len(levels), fmt.Sprintf("foreground level %dx%d", lv.w, lv.h))
		}
		imgL := resampleRGB(img, lv.w, lv.h)
		alphaL := resampleGrid(alpha, lv.w, lv.h)
		if fg == nil {
			fg = resampleRGB(img, lv.w, lv.h)
			bg = resampleRGB(img, lv.w, lv.h)
		} else {
			fg = resampleRGB(fg, lv.w, lv.h)
			bg = resampleRGB(bg, lv.w, lv.h)
		}

		iters := bigIters
		if min(lv.w, lv.h) <= smallSize {
			iters = smallIters
		}
		for _i := 0; _i < iters; _i++ {
			foregroundSweep(imgL, alphaL, fg, bg, reg)
		}
	}
	return fg, bg
}

// foregroundSweep runs one in-place Gauss-Seidel pass of the per-pixel 2x2
// solve over the level. Updated neighbor values propagate within the sweep.
func foregroundSweep(img *RGB, alpha *Grid, fg, bg *RGB, reg float64) {
	w, h := img.W, img.H
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := gridOffset(w, x, y)
			off := idx * 3
			a := alpha.Pix[idx]

			a00 := a*a + reg
			a01 := a * (1 - a)
			a11 := (1-a)*(1-a) + reg
			var b00, b01, b02 float64
			var b10, b11v, b12 float64
			b00 = a * img.Pix[off]
			b01 = a * img.Pix[off+1]
			b02 = a * img.Pix[off+2]
			b10 = (1 - a) * img.Pix[off]
			b11v = (1 - a) * img.Pix[off+1]
			b12 = (1 - a) * img.Pix[off+2]

			for _, n := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
				nx, ny := x+n[0], y+n[1]
				if nx < 0 || nx >= w || ny < 0 || ny >= h {
					continue
				}
				nIdx := gridOffset(w, nx, ny)
				nOff := nIdx * 3
				da := reg + math.Abs(a-alpha.Pix[nIdx])
				a00 += da
				a11 += da
				b00 += da * fg.Pix[nOff]
				b01 += da * fg.Pix[nOff+1]
				b02 += da * fg.Pix[nOff+2]
				b10 += da * bg.Pix[nOff]
				b11v += da * bg.Pix[nOff+1]
				b12 += da * bg.Pix[nOff+2]
			}

			det := a00*a11 - a01*a01
			if det <= 0 {
				continue
			}
			inv := 1 / det
			fg.Pix[off] = clamp01((a11*b00 - a01*b10) * inv)
			fg.Pix[off+1] = clamp01((a11*b01 - a01*b11v) * inv)
			fg.Pix[off+2] = clamp01((a11*b02 - a01*b12) * inv)
			bg.Pix[off] = clamp01((a00*b10 - a01*b00) * inv)
			bg.Pix[off+1] = clamp01((a00*b11v - a01*b01) * inv)
			bg.Pix[off+2] = clamp01((a00*b12 - a01*b02) * inv)
		}
	}
}
