package matting

import (
	"errors"
	"math/rand"
	"testing"
)

func uniformImage(w, h int, r, g, b float64) *RGB {
	img := NewRGB(w, h)
	for i := 0; i < len(img.Pix); i += 3 {
		img.Pix[i] = r
		img.Pix[i+1] = g
		img.Pix[i+2] = b
	}
	return img
}

func TestBuildDimensionMismatch(t *testing.T) {
	m := NewMatter(uniformImage(4, 4, 0.5, 0.5, 0.5))
	m.SetTrimap(NewGrid(3, 3))
	if _, err := m.Build(DefaultOptions()); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestBuildWithoutPrior(t *testing.T) {
	m := NewMatter(uniformImage(4, 4, 0.5, 0.5, 0.5))
	if _, err := m.Build(DefaultOptions()); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("err = %v, want ErrEmptyInput", err)
	}
}

func TestBuildEmptyImage(t *testing.T) {
	m := NewMatter(NewRGB(0, 0))
	m.SetTrimap(NewGrid(0, 0))
	if _, err := m.Build(DefaultOptions()); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("err = %v, want ErrEmptyInput", err)
	}
}

// A fully constrained trimap must come back bit-for-bit, with no Laplacian
// assembled and no solve executed.
func TestFullyConstrainedReturnsTrimap(t *testing.T) {
	img := uniformImage(4, 4, 0.5, 0.5, 0.5)
	tri := NewGrid(4, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if x >= 2 {
				tri.Pix[gridOffset(4, x, y)] = 1
			}
		}
	}

	m := NewMatter(img)
	m.SetTrimap(tri)
	opt := DefaultOptions()
	opt.ReturnOnlyMask = true

	rep, err := m.Build(opt)
	if err != nil {
		t.Fatal(err)
	}
	if rep.UnknownPixels != 0 {
		t.Errorf("UnknownPixels = %d, want 0", rep.UnknownPixels)
	}
	if rep.Windows != 0 {
		t.Errorf("Windows = %d, want 0 (no Laplacian for a fully known trimap)", rep.Windows)
	}
	for i := range tri.Pix {
		if m.Alpha.Pix[i] != tri.Pix[i] {
			t.Fatalf("alpha[%d] = %v, want %v", i, m.Alpha.Pix[i], tri.Pix[i])
		}
	}
}

// Known pixels are eliminated from the system, so the solved matte must
// carry the prior values there exactly.
func TestConstrainedPixelsKeepPrior(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	w, h := 10, 10
	img := NewRGB(w, h)
	for i := range img.Pix {
		img.Pix[i] = rng.Float64()
	}
	tri := NewGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			switch {
			case x < 3:
				tri.Pix[gridOffset(w, x, y)] = 0
			case x > 6:
				tri.Pix[gridOffset(w, x, y)] = 1
			default:
				tri.Pix[gridOffset(w, x, y)] = unknownValue
			}
		}
	}

	m := NewMatter(img)
	m.SetTrimap(tri)
	opt := DefaultOptions()
	opt.ReturnOnlyMask = true

	rep, err := m.Build(opt)
	if err != nil {
		t.Fatal(err)
	}
	if rep.UnknownPixels == 0 {
		t.Fatal("expected unknown pixels to be solved")
	}
	for i, p := range tri.Pix {
		if p < trimapLow || p > trimapHigh {
			if m.Alpha.Pix[i] != p {
				t.Fatalf("alpha[%d] = %v, want prior %v", i, m.Alpha.Pix[i], p)
			}
		}
	}
	for i, v := range m.Alpha.Pix {
		if v < 0 || v > 1 {
			t.Fatalf("alpha[%d] = %v out of [0,1]", i, v)
		}
	}
}

// singleUnknownAlpha sets up the 5x5 scenario: gray background, one red
// pixel tagged foreground next to a single unknown center pixel whose color
// blends between background gray and foreground red by t.
func singleUnknownAlpha(t *testing.T, blend float64) float64 {
	t.Helper()
	w, h := 5, 5
	img := uniformImage(w, h, 0.2, 0.2, 0.2)
	red := [3]float64{0.9, 0.1, 0.1}

	fgOff := pixOffset(w, 1, 2)
	img.Pix[fgOff] = red[0]
	img.Pix[fgOff+1] = red[1]
	img.Pix[fgOff+2] = red[2]

	cOff := pixOffset(w, 2, 2)
	for c := 0; c < 3; c++ {
		gray := 0.2
		img.Pix[cOff+c] = blend*red[c] + (1-blend)*gray
	}

	tri := NewGrid(w, h)
	tri.Pix[gridOffset(w, 1, 2)] = 1            // red neighbor: foreground
	tri.Pix[gridOffset(w, 2, 2)] = unknownValue // center: solved

	m := NewMatter(img)
	m.SetTrimap(tri)
	opt := DefaultOptions()
	opt.ReturnOnlyMask = true

	rep, err := m.Build(opt)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Degraded {
		t.Fatalf("unexpected degraded result: %v", rep.Warnings)
	}
	return m.Alpha.Pix[gridOffset(w, 2, 2)]
}

func TestSingleUnknownPixelFollowsColor(t *testing.T) {
	nearFg := singleUnknownAlpha(t, 0.8)
	nearBg := singleUnknownAlpha(t, 0.2)

	if nearFg <= 0 || nearFg >= 1 {
		t.Errorf("alpha near foreground color = %v, want strictly inside (0,1)", nearFg)
	}
	if nearBg <= 0 || nearBg >= 1 {
		t.Errorf("alpha near background color = %v, want strictly inside (0,1)", nearBg)
	}
	if nearFg <= nearBg {
		t.Errorf("alpha(%v) = %v not greater than alpha(%v) = %v", 0.8, nearFg, 0.2, nearBg)
	}
}

// Images smaller than a window leave unknown pixels unreachable: the solver
// pins them to the prior and reports a degraded result instead of failing.
func TestUnreachableUnknownFallsBackToPrior(t *testing.T) {
	img := uniformImage(2, 2, 0.3, 0.4, 0.5)
	tri := NewGrid(2, 2)
	tri.Pix[0] = 1
	tri.Pix[1] = unknownValue
	tri.Pix[2] = 0
	tri.Pix[3] = 0

	m := NewMatter(img)
	m.SetTrimap(tri)
	opt := DefaultOptions()
	opt.ReturnOnlyMask = true

	rep, err := m.Build(opt)
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Degraded {
		t.Error("expected a degraded report")
	}
	if m.Alpha.Pix[1] != unknownValue {
		t.Errorf("unreachable unknown = %v, want prior %v", m.Alpha.Pix[1], unknownValue)
	}
}

// The soft-prior path pulls every pixel toward the prior through the
// confidence diagonal instead of eliminating constraints.
func TestSoftPriorConfidence(t *testing.T) {
	w, h := 6, 6
	img := uniformImage(w, h, 0.5, 0.5, 0.5)
	prior := NewGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				prior.Pix[gridOffset(w, x, y)] = 1
			}
		}
	}
	conf := NewGrid(w, h)
	for i := range conf.Pix {
		conf.Pix[i] = 1000
	}

	m := NewMatter(img)
	m.SetPrior(prior, conf)
	opt := DefaultOptions()
	opt.ReturnOnlyMask = true

	rep, err := m.Build(opt)
	if err != nil {
		t.Fatal(err)
	}
	if rep.UnknownPixels != w*h {
		t.Errorf("UnknownPixels = %d, want %d (every pixel solved)", rep.UnknownPixels, w*h)
	}
	for i := range prior.Pix {
		if diff := m.Alpha.Pix[i] - prior.Pix[i]; diff > 0.05 || diff < -0.05 {
			t.Fatalf("alpha[%d] = %v drifted from high-confidence prior %v", i, m.Alpha.Pix[i], prior.Pix[i])
		}
	}
}

// Without an explicit confidence grid, Options.Confidence anchors the
// prior's definite pixels.
func TestSoftPriorDefaultConfidence(t *testing.T) {
	w, h := 8, 8
	img := uniformImage(w, h, 0.5, 0.5, 0.5)
	prior := NewGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				prior.Pix[gridOffset(w, x, y)] = 1
			}
		}
	}

	m := NewMatter(img)
	m.SetPrior(prior, nil)
	opt := DefaultOptions()
	opt.ReturnOnlyMask = true

	rep, err := m.Build(opt)
	if err != nil {
		t.Fatal(err)
	}
	if rep.UnknownPixels != w*h {
		t.Errorf("UnknownPixels = %d, want %d", rep.UnknownPixels, w*h)
	}
	// Deep inside each half the anchored solution stays near the prior.
	if v := m.Alpha.Pix[gridOffset(w, 0, h/2)]; v < 0.9 {
		t.Errorf("anchored foreground = %v, want near 1", v)
	}
	if v := m.Alpha.Pix[gridOffset(w, w-1, h/2)]; v > 0.1 {
		t.Errorf("anchored background = %v, want near 0", v)
	}
}

func TestMaskInputRunsRefinement(t *testing.T) {
	w, h := 16, 16
	img := uniformImage(w, h, 0.5, 0.5, 0.5)
	mask := maskHalves(w, h)

	m := NewMatter(img)
	m.SetMask(mask)
	opt := DefaultOptions()
	opt.ErodeSize = 3
	opt.ReturnOnlyMask = true

	rep, err := m.Build(opt)
	if err != nil {
		t.Fatal(err)
	}
	if rep.UnknownPixels == 0 {
		t.Error("refinement produced no unknown band to solve")
	}
	for _, v := range m.Alpha.Pix {
		if v < 0 || v > 1 {
			t.Fatalf("alpha value %v out of [0,1]", v)
		}
	}
}

func TestProgressMilestones(t *testing.T) {
	img := uniformImage(8, 8, 0.5, 0.5, 0.5)
	tri := NewGrid(8, 8)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			switch {
			case x < 3:
				tri.Pix[gridOffset(8, x, y)] = 0
			case x > 4:
				tri.Pix[gridOffset(8, x, y)] = 1
			default:
				tri.Pix[gridOffset(8, x, y)] = unknownValue
			}
		}
	}

	var percents []int
	m := NewMatter(img)
	m.SetTrimap(tri)
	opt := DefaultOptions()
	opt.Progress = func(percent int, stage string) {
		percents = append(percents, percent)
	}

	if _, err := m.Build(opt); err != nil {
		t.Fatal(err)
	}
	if len(percents) == 0 {
		t.Fatal("no progress reported")
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("progress went backwards: %v", percents)
		}
	}
	if percents[len(percents)-1] != 100 {
		t.Errorf("final milestone = %d, want 100", percents[len(percents)-1])
	}
}

func TestCutoutGrayWhenMaskOnly(t *testing.T) {
	img := uniformImage(4, 4, 0.2, 0.4, 0.6)
	tri := NewGrid(4, 4)
	for i := range tri.Pix {
		tri.Pix[i] = 1
	}

	m := NewMatter(img)
	m.SetTrimap(tri)
	opt := DefaultOptions()
	opt.ReturnOnlyMask = true

	if _, err := m.Build(opt); err != nil {
		t.Fatal(err)
	}
	cut := m.Cutout()
	c := cut.NRGBAAt(1, 1)
	if c.R != c.G || c.G != c.B {
		t.Errorf("mask-only cutout is not gray: %+v", c)
	}
	if c.A != 255 {
		t.Errorf("alpha channel = %d, want 255", c.A)
	}
}

func TestCutoutCompositesForeground(t *testing.T) {
	w, h := 8, 8
	img := uniformImage(w, h, 0.8, 0.2, 0.2)
	tri := NewGrid(w, h)
	for i := range tri.Pix {
		tri.Pix[i] = 1
	}

	m := NewMatter(img)
	m.SetTrimap(tri)
	rep, err := m.Build(DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Degraded {
		t.Fatalf("unexpected degradation: %v", rep.Warnings)
	}
	if m.Foreground == nil {
		t.Fatal("foreground not estimated")
	}
	c := m.Cutout().NRGBAAt(4, 4)
	if c.A != 255 {
		t.Errorf("alpha = %d, want 255", c.A)
	}
	if c.R < 190 || c.G > 70 {
		t.Errorf("foreground color off: %+v", c)
	}
}
