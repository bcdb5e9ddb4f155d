package matting

import (
	"fmt"
	"math"
)

// RefineTrimap turns a confidence mask into a ternary trimap with a widened
// unknown band. Pixels at or above ForegroundThreshold are provisional
// foreground, at or below BackgroundThreshold provisional background; both
// regions are then eroded independently with a square kernel so that
// over-confident mask boundaries fall back to unknown. Background erosion
// treats out-of-bounds pixels as background, so the image border never
// leaks into the unknown band on its own.
//
// If erosion would erase a class entirely the kernel is clamped down until
// at least one pixel of that class survives; the returned warnings describe
// any such clamp.
func RefineTrimap(mask *Grid, opt Options) (*Grid, []string) {
	w, h := mask.W, mask.H
	var warnings []string

	fg := make([]bool, w*h)
	bg := make([]bool, w*h)
	for i, v := range mask.Pix {
		if v >= opt.ForegroundThreshold {
			fg[i] = true
		} else if v <= opt.BackgroundThreshold {
			bg[i] = true
		}
	}

	size := opt.ErodeSize
	if opt.BandRatio > 0 {
		size = int(math.Round(opt.BandRatio * float64(max(w, h))))
	}
	if size < 0 {
		size = 0
	}

	if size > 1 {
		var clamped int
		fg, clamped = erodeClass(fg, w, h, size, false)
		if clamped < size {
			warnings = append(warnings, fmt.Sprintf("trimap: foreground erosion clamped from %d to %d to keep the class non-empty", size, clamped))
		}
		bg, clamped = erodeClass(bg, w, h, size, true)
		if clamped < size {
			warnings = append(warnings, fmt.Sprintf("trimap: background erosion clamped from %d to %d to keep the class non-empty", size, clamped))
		}
	}

	out := NewGrid(w, h)
	for i := range out.Pix {
		switch {
		case fg[i]:
			out.Pix[i] = 1
		case bg[i]:
			out.Pix[i] = 0
		default:
			out.Pix[i] = unknownValue
		}
	}
	return out, warnings
}

// erodeClass erodes a provisional class, shrinking the kernel until at least
// one member survives. Returns the eroded mask and the kernel actually used.
func erodeClass(mask []bool, w, h, size int, outside bool) ([]bool, int) {
	if countTrue(mask) == 0 {
		return mask, size
	}
	for k := size; k > 1; k-- {
		eroded := erodeBinary(mask, w, h, k, outside)
		if countTrue(eroded) > 0 {
			return eroded, k
		}
	}
	return mask, 1
}

// erodeBinary applies binary erosion with a k×k square structuring element.
// The anchor sits at k/2, so even kernels reach one pixel further toward the
// top-left, matching scipy's binary_erosion with ones((k, k)). outside is the
// value assumed beyond the image border. The square kernel factors into a
// horizontal and a vertical min pass.
func erodeBinary(mask []bool, w, h, k int, outside bool) []bool {
	lo := -(k / 2)
	hi := k - 1 - k/2

	tmp := make([]bool, w*h)
	for y := 0; y < h; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			v := true
			for d := lo; d <= hi; d++ {
				nx := x + d
				if nx < 0 || nx >= w {
					if !outside {
						v = false
						break
					}
					continue
				}
				if !mask[row+nx] {
					v = false
					break
				}
			}
			tmp[row+x] = v
		}
	}

	out := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := true
			for d := lo; d <= hi; d++ {
				ny := y + d
				if ny < 0 || ny >= h {
					if !outside {
						v = false
						break
					}
					continue
				}
				if !tmp[ny*w+x] {
					v = false
					break
				}
			}
			out[y*w+x] = v
		}
	}
	return out
}

func countTrue(mask []bool) int {
	n := 0
	for _, v := range mask {
		if v {
			n++
		}
	}
	return n
}
