package matting

// Bilinear resampling of float grids for the multiscale foreground solve.
// The 8-bit image resizers in the utils package would quantize the working
// buffers between levels, so the float path stays in the engine.

func resampleGrid(src *Grid, w, h int) *Grid {
	if src.W == w && src.H == h {
		return src.Clone()
	}
	out := NewGrid(w, h)
	sx := float64(src.W) / float64(w)
	sy := float64(src.H) / float64(h)
	for y := 0; y < h; y++ {
		_, y0, y1, wy := bilinearCoord(float64(y), sy, src.H)
		for x := 0; x < w; x++ {
			_, x0, x1, wx := bilinearCoord(float64(x), sx, src.W)
			v := (1-wy)*((1-wx)*src.Pix[y0*src.W+x0]+wx*src.Pix[y0*src.W+x1]) +
				wy*((1-wx)*src.Pix[y1*src.W+x0]+wx*src.Pix[y1*src.W+x1])
			out.Pix[y*w+x] = v
		}
	}
	return out
}

func resampleRGB(src *RGB, w, h int) *RGB {
	if src.W == w && src.H == h {
		out := NewRGB(w, h)
		copy(out.Pix, src.Pix)
		return out
	}
	out := NewRGB(w, h)
	sx := float64(src.W) / float64(w)
	sy := float64(src.H) / float64(h)
	for y := 0; y < h; y++ {
		_, y0, y1, wy := bilinearCoord(float64(y), sy, src.H)
		for x := 0; x < w; x++ {
			_, x0, x1, wx := bilinearCoord(float64(x), sx, src.W)
			o00 := (y0*src.W + x0) * 3
			o01 := (y0*src.W + x1) * 3
			o10 := (y1*src.W + x0) * 3
			o11 := (y1*src.W + x1) * 3
			dst := (y*w + x) * 3
			for c := 0; c < 3; c++ {
				v := (1-wy)*((1-wx)*src.Pix[o00+c]+wx*src.Pix[o01+c]) +
					wy*((1-wx)*src.Pix[o10+c]+wx*src.Pix[o11+c])
				out.Pix[dst+c] = v
			}
		}
	}
	return out
}

// bilinearCoord maps a destination coordinate to source space with
// pixel-center alignment and returns the two source indices and the
// interpolation weight of the second one.
func bilinearCoord(d, scale float64, srcLen int) (pos float64, i0, i1 int, frac float64) {
	pos = (d+0.5)*scale - 0.5
	if pos < 0 {
		pos = 0
	}
	limit := float64(srcLen - 1)
	if pos > limit {
		pos = limit
	}
	i0 = int(pos)
	i1 = min(i0+1, srcLen-1)
	frac = pos - float64(i0)
	return pos, i0, i1, frac
}
