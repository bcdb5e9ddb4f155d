// Package matting implements closed-form alpha matting (Levin, Lischinski,
// Weiss 2007): given an image and a trimap it solves a sparse linear system
// built from local color-line windows to obtain a smooth alpha matte, then
// recovers foreground colors consistent with the compositing equation
// I = alpha*F + (1-alpha)*B via a multiscale regularized solve.
package matting

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/rs/zerolog"
)

// Trimap convention: values below trimapLow are definite background, above
// trimapHigh definite foreground, anything else is unknown and solved for.
const (
	trimapLow    = 0.1
	trimapHigh   = 0.9
	unknownValue = 0.5
)

var (
	// ErrEmptyInput reports a zero-sized image or a missing prior.
	ErrEmptyInput = errors.New("matting: empty input")
	// ErrDimensionMismatch reports image/trimap/mask grids of different sizes.
	ErrDimensionMismatch = errors.New("matting: dimension mismatch")
)

// ProgressFunc receives coarse percentage milestones with a stage label.
// The engine pushes milestones; callers never poll.
type ProgressFunc func(percent int, stage string)

type Options struct {
	// Mask values at or above this are provisional foreground.
	// Ideal start: 240/255. Raise when the upstream mask is over-confident.
	ForegroundThreshold float64
	// Mask values at or below this are provisional background.
	// Ideal start: 10/255.
	BackgroundThreshold float64
	// Square erosion kernel size (pixels) widening the unknown band.
	// Ideal start: 10. Too low keeps over-confident mask edges; too high
	// makes the solve expensive.
	ErodeSize int
	// Relative band width; when > 0 it overrides ErodeSize with
	// round(BandRatio * max(W,H)) so the band scales with resolution.
	BandRatio float64
	// Diagonal weight tying solved alpha to a soft prior where the prior
	// carries confidence. Ideal start: 100.
	Confidence float64
	// Covariance regularization added as (Epsilon/n)*I per window.
	// Ideal start: 1e-7. Raise only for extremely flat images.
	Epsilon float64
	// Color-line window radius. 1 gives the standard 3x3 windows.
	WindowRadius int
	// Conjugate gradient budget and relative residual tolerance.
	CGMaxIter int
	CGTol     float64
	// Multiscale foreground estimation schedule. Levels halve from the full
	// resolution down to FGMinSize; levels smaller than FGSmallSize run
	// FGSmallIterations sweeps, larger ones FGBigIterations.
	FGMinSize         int
	FGSmallSize       int
	FGSmallIterations int
	FGBigIterations   int
	// Smoothness weight in the per-pixel foreground solve.
	FGRegularization float64
	// Also recover background colors.
	EstimateBackground bool
	// Morphological clean-up and boundary blur of the final alpha.
	PostProcessMask bool
	// Skip foreground estimation; Cutout then visualizes alpha as gray RGB.
	ReturnOnlyMask bool
	// Optional milestone callback.
	Progress ProgressFunc
	// Structured logger; defaults to a no-op logger.
	Log zerolog.Logger
}

func DefaultOptions() Options {
	return Options{
		ForegroundThreshold: 240.0 / 255.0,
		BackgroundThreshold: 10.0 / 255.0,
		ErodeSize:           10,
		Confidence:          100,
		Epsilon:             1e-7,
		WindowRadius:        1,
		CGMaxIter:           2000,
		CGTol:               1e-7,
		FGMinSize:           2,
		FGSmallSize:         32,
		FGSmallIterations:   10,
		FGBigIterations:     2,
		FGRegularization:    1e-5,
		Log:                 zerolog.Nop(),
	}
}

func OptionsFromSize(size image.Point) Options {
	opt := DefaultOptions()
	if size.X <= 0 || size.Y <= 0 {
		return opt
	}
	maxDim := max(size.X, size.Y)
	// Keep the unknown band near 1.5% of the largest dimension so thin
	// structures survive at low resolutions.
	opt.ErodeSize = max(3, min(30, int(math.Round(0.015*float64(maxDim)))))
	return opt
}

// Grid is a single-channel H×W float64 image in [0,1], row-major.
type Grid struct {
	W, H int
	Pix  []float64 // len = W*H
}

// RGB is an interleaved three-channel H×W float64 image in [0,1].
type RGB struct {
	W, H int
	Pix  []float64 // len = W*H*3
}

func NewGrid(w, h int) *Grid {
	return &Grid{W: w, H: h, Pix: make([]float64, w*h)}
}

func NewRGB(w, h int) *RGB {
	return &RGB{W: w, H: h, Pix: make([]float64, w*h*3)}
}

func (g *Grid) Clone() *Grid {
	out := NewGrid(g.W, g.H)
	copy(out.Pix, g.Pix)
	return out
}

func gridOffset(w, x, y int) int {
	return y*w + x
}

func pixOffset(w, x, y int) int {
	return (y*w + x) * 3
}

// NewRGBFromImage converts any image to a normalized RGB grid.
func NewRGBFromImage(img image.Image) *RGB {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := NewRGB(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			off := pixOffset(w, x, y)
			out.Pix[off] = float64(r>>8) / 255.0
			out.Pix[off+1] = float64(g>>8) / 255.0
			out.Pix[off+2] = float64(b>>8) / 255.0
		}
	}
	return out
}

// NewGridFromImage converts any image to a normalized single-channel grid
// by averaging the color channels.
func NewGridFromImage(img image.Image) *Grid {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := NewGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			sum := float64(r>>8) + float64(g>>8) + float64(b>>8)
			out.Pix[gridOffset(w, x, y)] = sum / (3.0 * 255.0)
		}
	}
	return out
}

func NewGridFromGray(img *image.Gray) *Grid {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := NewGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Pix[gridOffset(w, x, y)] = float64(img.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y) / 255.0
		}
	}
	return out
}

func (g *Grid) GrayImage() *image.Gray {
	out := image.NewGray(image.Rect(0, 0, g.W, g.H))
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			v := clamp01(g.Pix[gridOffset(g.W, x, y)])
			out.SetGray(x, y, color.Gray{Y: uint8(v*255 + 0.5)})
		}
	}
	return out
}

// Report describes how an invocation went. A degraded result is complete but
// of reduced quality (the caller may proceed); fatal conditions surface as
// errors from Build instead.
type Report struct {
	Degraded      bool
	Warnings      []string
	UnknownPixels int
	Windows       int
	CGIterations  int
	Residual      float64
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Matter runs the matting pipeline for one image. It holds no shared state:
// distinct Matter values may run concurrently, but a single value must not.
type Matter struct {
	Image  *RGB
	Mask   *Grid // raw confidence mask, refined into a trimap
	Trimap *Grid // ternary prior; wins over Mask when both are set

	// Soft prior inputs, used instead of trimap elimination when set.
	Prior           *Grid
	PriorConfidence *Grid

	Alpha      *Grid
	Foreground *RGB
	Background *RGB
}

func NewMatter(img *RGB) *Matter {
	return &Matter{Image: img}
}

// SetMask supplies a raw confidence mask to be refined into a trimap.
func (m *Matter) SetMask(mask *Grid) {
	m.Mask = mask
}

// SetTrimap supplies a ready ternary trimap, bypassing refinement.
func (m *Matter) SetTrimap(trimap *Grid) {
	m.Trimap = trimap
}

// SetPrior supplies a soft alpha prior with per-pixel confidence. Every pixel
// is solved; the confidence diagonal pulls the solution toward the prior.
// A nil confidence grid applies Options.Confidence at the prior's definite
// pixels and zero inside its unknown band.
func (m *Matter) SetPrior(prior, confidence *Grid) {
	m.Prior = prior
	m.PriorConfidence = confidence
}

// Build runs the pipeline and stores Alpha, Foreground and (optionally)
// Background on the receiver. The returned Report is non-nil on success.
func (m *Matter) Build(opt Options) (*Report, error) {
	rep := &Report{}
	if m.Image == nil || m.Image.W == 0 || m.Image.H == 0 {
		return nil, fmt.Errorf("%w: image is empty", ErrEmptyInput)
	}

	prior, known, conf, err := m.prepare(opt, rep)
	if err != nil {
		return nil, err
	}
	m.progress(opt, 10, "trimap ready")

	unknown := 0
	for i := range known {
		if !known[i] {
			unknown++
		}
	}
	rep.UnknownPixels = unknown

	if unknown == 0 {
		// Fully constrained: the prior is the exact minimizer. No Laplacian
		// is built and the prior is returned unchanged.
		m.Alpha = prior.Clone()
		m.progress(opt, 50, "alpha solved")
	} else {
		lap, windows := buildLaplacian(m.Image, known, opt.Epsilon, opt.WindowRadius)
		rep.Windows = windows
		opt.Log.Debug().Int("windows", windows).Int("unknown", unknown).Msg("matting laplacian assembled")
		m.progress(opt, 30, "laplacian assembled")

		m.Alpha = solveAlpha(lap, prior, known, conf, opt, rep)
		m.progress(opt, 50, "alpha solved")
	}

	if opt.PostProcessMask {
		m.Alpha = postProcessAlpha(m.Alpha)
	}

	if opt.ReturnOnlyMask {
		m.Foreground = nil
		m.Background = nil
		m.progress(opt, 100, "done")
		return rep, nil
	}

	m.progress(opt, 70, "estimating foreground")
	fg, bg := estimateForeground(m.Image, m.Alpha, opt)
	m.Foreground = fg
	if opt.EstimateBackground {
		m.Background = bg
	} else {
		m.Background = nil
	}
	m.progress(opt, 85, "compositing")

	if rep.Degraded {
		opt.Log.Warn().Strs("warnings", rep.Warnings).Msg("matting completed degraded")
	}
	m.progress(opt, 100, "done")
	return rep, nil
}

// prepare resolves the configured inputs into a prior grid, the known-pixel
// mask and the per-pixel prior confidence used by the solver.
func (m *Matter) prepare(opt Options, rep *Report) (prior *Grid, known []bool, conf []float64, err error) {
	w, h := m.Image.W, m.Image.H

	switch {
	case m.Prior != nil:
		if m.Prior.W != w || m.Prior.H != h {
			return nil, nil, nil, fmt.Errorf("%w: image %dx%d, prior %dx%d", ErrDimensionMismatch, w, h, m.Prior.W, m.Prior.H)
		}
		prior = m.Prior
		known = make([]bool, w*h) // every pixel is solved
		conf = make([]float64, w*h)
		if m.PriorConfidence != nil {
			if m.PriorConfidence.W != w || m.PriorConfidence.H != h {
				return nil, nil, nil, fmt.Errorf("%w: image %dx%d, confidence %dx%d", ErrDimensionMismatch, w, h, m.PriorConfidence.W, m.PriorConfidence.H)
			}
			copy(conf, m.PriorConfidence.Pix)
		} else {
			for i, p := range prior.Pix {
				if p < trimapLow || p > trimapHigh {
					conf[i] = opt.Confidence
				}
			}
		}
		return prior, known, conf, nil
	case m.Trimap != nil:
		if m.Trimap.W != w || m.Trimap.H != h {
			return nil, nil, nil, fmt.Errorf("%w: image %dx%d, trimap %dx%d", ErrDimensionMismatch, w, h, m.Trimap.W, m.Trimap.H)
		}
		prior = m.Trimap
	case m.Mask != nil:
		if m.Mask.W != w || m.Mask.H != h {
			return nil, nil, nil, fmt.Errorf("%w: image %dx%d, mask %dx%d", ErrDimensionMismatch, w, h, m.Mask.W, m.Mask.H)
		}
		var warnings []string
		prior, warnings = RefineTrimap(m.Mask, opt)
		for _, msg := range warnings {
			rep.warnf("%s", msg)
			opt.Log.Warn().Msg(msg)
		}
	default:
		return nil, nil, nil, fmt.Errorf("%w: no trimap, mask or prior set", ErrEmptyInput)
	}

	known = make([]bool, w*h)
	conf = make([]float64, w*h)
	for i, p := range prior.Pix {
		if p < trimapLow || p > trimapHigh {
			known[i] = true
		}
	}
	return prior, known, conf, nil
}

func (m *Matter) progress(opt Options, percent int, stage string) {
	if opt.Progress != nil {
		opt.Progress(percent, stage)
	}
	opt.Log.Debug().Int("percent", percent).Msg(stage)
}

// AlphaImage returns the solved matte as an 8-bit grayscale image.
func (m *Matter) AlphaImage() *image.Gray {
	if m.Alpha == nil {
		return nil
	}
	return m.Alpha.GrayImage()
}

// Cutout composites the result into an RGBA buffer: color channels carry the
// estimated foreground and the alpha channel the matte. When foreground
// estimation was skipped the matte is visualized as gray RGB.
func (m *Matter) Cutout() *image.NRGBA {
	if m.Alpha == nil {
		return nil
	}
	w, h := m.Alpha.W, m.Alpha.H
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := clamp01(m.Alpha.Pix[gridOffset(w, x, y)])
			av := uint8(a*255 + 0.5)
			if m.Foreground == nil {
				out.SetNRGBA(x, y, color.NRGBA{R: av, G: av, B: av, A: av})
				continue
			}
			off := pixOffset(w, x, y)
			out.SetNRGBA(x, y, color.NRGBA{
				R: uint8(clamp01(m.Foreground.Pix[off])*255 + 0.5),
				G: uint8(clamp01(m.Foreground.Pix[off+1])*255 + 0.5),
				B: uint8(clamp01(m.Foreground.Pix[off+2])*255 + 0.5),
				A: av,
			})
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
