// Package utils holds the collaborators around the matting engine: image
// I/O, the resize cap that keeps solve cost bounded, and heuristic
// confidence-mask generation for images arriving without a segmentation.
package utils

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/cenkalti/dominantcolor"
	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
)

func ReadImage(path string) image.Image {
	file, err := os.Open(path)
	if err != nil {
		panic(err)
	}
	defer file.Close()
	img, _, err := image.Decode(file)
	if err != nil {
		panic(err)
	}
	return img
}

func SaveImage(img image.Image, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

// FitDown caps the largest dimension at maxDim, returning the (possibly
// unchanged) image and the applied scale factor. The engine always works at
// the resolution it is given; callers resize the results back up with
// ResizeAlpha / ResizeCutout using the original dimensions.
func FitDown(img image.Image, maxDim int) (image.Image, float64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	largest := max(w, h)
	if maxDim <= 0 || largest <= maxDim {
		return img, 1
	}
	scale := float64(maxDim) / float64(largest)
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	return imaging.Resize(img, nw, nh, imaging.Lanczos), scale
}

// ResizeAlpha scales a matte back to the requested size.
func ResizeAlpha(alpha *image.Gray, w, h int) *image.Gray {
	resized := imaging.Resize(alpha, w, h, imaging.Lanczos)
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := resized.NRGBAAt(x, y)
			out.SetGray(x, y, color.Gray{Y: c.R})
		}
	}
	return out
}

// ResizeCutout scales an RGBA cutout back to the requested size.
func ResizeCutout(cutout image.Image, w, h int) *image.NRGBA {
	return imaging.Resize(cutout, w, h, imaging.Lanczos)
}

// AutoMask builds a confidence mask for images that arrive without an
// upstream segmentation, choosing the cheapest strategy that applies:
//  1. an existing alpha channel is used directly;
//  2. a mostly uniform border color yields a color-distance mask;
//  3. otherwise the colors are split into two clusters and graded by
//     relative distance, with the cluster nearest the border color taken
//     as background.
//
// The result is a graded [0,255] mask suitable for trimap refinement, not a
// finished matte.
func AutoMask(img image.Image) *image.Gray {
	if hasAlpha(img) {
		return MaskFromAlpha(img)
	}
	blurred := imaging.Blur(img, 1.0)
	bg := borderColor(blurred)
	if borderIsUniform(blurred, bg) {
		return MaskFromBackground(blurred, bg)
	}
	return MaskFromClusters(blurred, bg)
}

func hasAlpha(img image.Image) bool {
	b := img.Bounds()
	stepX := max(1, b.Dx()/10)
	stepY := max(1, b.Dy()/10)
	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			_, _, _, a := img.At(x, y).RGBA()
			if a < 0xffff {
				return true
			}
		}
	}
	return false
}

// MaskFromAlpha uses the image's own alpha channel as the confidence mask.
func MaskFromAlpha(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			_, _, _, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out.SetGray(x, y, color.Gray{Y: uint8(a >> 8)})
		}
	}
	return out
}

// MaskFromBackground grades each pixel by its Lab-space distance to the
// detected background color.
func MaskFromBackground(img image.Image, bg color.Color) *image.Gray {
	b := img.Bounds()
	bgCol := labColor(bg)
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := labColor(img.At(b.Min.X+x, b.Min.Y+y))
			d := c.DistanceLab(bgCol)
			// Distances below 0.08 are background, above 0.35 confident
			// foreground, with a linear ramp between.
			conf := (d - 0.08) / (0.35 - 0.08)
			conf = math.Max(0, math.Min(1, conf))
			out.SetGray(x, y, color.Gray{Y: uint8(conf*255 + 0.5)})
		}
	}
	return out
}

// MaskFromClusters splits the image colors into two k-means clusters and
// grades each pixel by its relative Lab distance to the cluster centers.
// The cluster whose center lies nearer the dominant border color is treated
// as background.
func MaskFromClusters(img image.Image, borderBg color.Color) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	// Subsample to keep kmeans tractable on large images.
	maxSamples := 12000
	step := 1
	if w*h > maxSamples {
		step = int(math.Sqrt(float64(w*h)/float64(maxSamples))) + 1
	}
	dataset := make(clusters.Observations, 0, min(w*h, maxSamples))
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			l, la, lb := labColor(img.At(x, y)).Lab()
			dataset = append(dataset, clusters.Coordinates{l, la, lb})
		}
	}

	if len(dataset) < 2 {
		return MaskFromBackground(img, borderBg)
	}
	km := kmeans.New()
	cc, err := km.Partition(dataset, 2)
	if err != nil || len(cc) != 2 {
		return MaskFromBackground(img, borderBg)
	}

	bl, ba, bb := labColor(borderBg).Lab()
	d0 := labDist(cc[0].Center, bl, ba, bb)
	d1 := labDist(cc[1].Center, bl, ba, bb)
	bgCenter, fgCenter := cc[0].Center, cc[1].Center
	if d1 < d0 {
		bgCenter, fgCenter = fgCenter, bgCenter
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			l, la, lb := labColor(img.At(b.Min.X+x, b.Min.Y+y)).Lab()
			dBg := labDist(bgCenter, l, la, lb)
			dFg := labDist(fgCenter, l, la, lb)
			conf := 0.5
			if dBg+dFg > 0 {
				conf = dBg / (dBg + dFg)
			}
			out.SetGray(x, y, color.Gray{Y: uint8(conf*255 + 0.5)})
		}
	}
	return out
}

// borderColor finds the dominant color of the image border strip.
func borderColor(img image.Image) color.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	strip := image.NewRGBA(image.Rect(0, 0, 2*(w+h), 1))
	sx := 0
	put := func(c color.Color) {
		strip.Set(sx, 0, c)
		sx++
	}
	for x := 0; x < w; x++ {
		put(img.At(b.Min.X+x, b.Min.Y))
		put(img.At(b.Min.X+x, b.Max.Y-1))
	}
	for y := 0; y < h; y++ {
		put(img.At(b.Min.X, b.Min.Y+y))
		put(img.At(b.Max.X-1, b.Min.Y+y))
	}
	return dominantcolor.Find(strip)
}

// borderIsUniform reports whether most border pixels sit close to the
// dominant border color in Lab space.
func borderIsUniform(img image.Image, bg color.Color) bool {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	bgCol := labColor(bg)

	total, near := 0, 0
	check := func(x, y int) {
		total++
		if labColor(img.At(x, y)).DistanceLab(bgCol) < 0.12 {
			near++
		}
	}
	stepX := max(1, w/64)
	stepY := max(1, h/64)
	for x := b.Min.X; x < b.Max.X; x += stepX {
		check(x, b.Min.Y)
		check(x, b.Max.Y-1)
	}
	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		check(b.Min.X, y)
		check(b.Max.X-1, y)
	}
	return total > 0 && float64(near)/float64(total) > 0.8
}

func labColor(c color.Color) colorful.Color {
	col, ok := colorful.MakeColor(c)
	if !ok {
		return colorful.Color{}
	}
	return col
}

func labDist(center clusters.Coordinates, l, a, b float64) float64 {
	if len(center) < 3 {
		return math.MaxFloat64
	}
	dl := center[0] - l
	da := center[1] - a
	db := center[2] - b
	return math.Sqrt(dl*dl + da*da + db*db)
}
