package main

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

const eps = 1e-9

func TestComputeMinScale(t *testing.T) {
	tests := []struct {
		name        string
		w, h, frame int
		want        float64
	}{
		{"landscape", 2000, 1000, 500, 0.5},
		{"portrait", 1000, 2000, 500, 0.5},
		{"square", 500, 500, 500, 1},
		{"small image", 100, 250, 500, 5},
		{"not loaded width", 0, 1000, 500, unloadedMinScale},
		{"not loaded height", 1000, 0, 500, unloadedMinScale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeMinScale(tt.w, tt.h, tt.frame); math.Abs(got-tt.want) > eps {
				t.Fatalf("ComputeMinScale(%d, %d, %d) = %v, want %v", tt.w, tt.h, tt.frame, got, tt.want)
			}
		})
	}
}

func TestMinScaleCoversWithOneTightAxis(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 1000; i++ {
		w, h, f := 1+rng.IntN(5000), 1+rng.IntN(5000), 1+rng.IntN(2000)
		s := ComputeMinScale(w, h, f)
		sw, sh := float64(w)*s, float64(h)*s
		tol := 1e-9 * float64(f)
		if sw < float64(f)-tol || sh < float64(f)-tol {
			t.Fatalf("%dx%d frame %d: scaled %vx%v does not cover", w, h, f, sw, sh)
		}
		if math.Abs(sw-float64(f)) > tol && math.Abs(sh-float64(f)) > tol {
			t.Fatalf("%dx%d frame %d: scaled %vx%v is not tight on any axis", w, h, f, sw, sh)
		}
	}
}

func TestInitialize(t *testing.T) {
	got := Initialize(2000, 1000, 500)
	if diff := cmp.Diff(ViewState{Scale: 0.5}, got); diff != "" {
		t.Fatalf("Initialize() mismatch (-want +got):\n%s", diff)
	}
}

func TestMaxOffsetAtMinScale(t *testing.T) {
	g := Geometry{Image: ImageMetadata{Width: 2000, Height: 1000}, FrameSize: 500}
	got := g.MaxOffset(g.MinScale())
	if diff := cmp.Diff(Point{X: 250, Y: 0}, got); diff != "" {
		t.Fatalf("MaxOffset mismatch (-want +got):\n%s", diff)
	}
}

func TestClampOffset(t *testing.T) {
	tests := []struct {
		name  string
		x, y  float64
		scale float64
		wantX float64
		wantY float64
	}{
		{"inside", 100, 0, 0.5, 100, 0},
		{"past positive x", 400, 0, 0.5, 250, 0},
		{"past negative x", -400, 0, 0.5, -250, 0},
		{"y pinned at min scale", 0, 30, 0.5, 0, 0},
		{"both axes free when zoomed", 900, -400, 1, 750, -250},
		{"image narrower than frame", 50, 50, 0.2, 0, 0},
		{"nan collapses", math.NaN(), math.Inf(1), 1, 0, 250},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := ClampOffset(tt.x, tt.y, tt.scale, 2000, 1000, 500)
			if x != tt.wantX || y != tt.wantY {
				t.Fatalf("ClampOffset(%v, %v, %v) = (%v, %v), want (%v, %v)", tt.x, tt.y, tt.scale, x, y, tt.wantX, tt.wantY)
			}
		})
	}
}

func TestClampOffsetIdempotent(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 1000; i++ {
		w, h, f := 1+rng.IntN(4000), 1+rng.IntN(4000), 1+rng.IntN(1000)
		s := ComputeMinScale(w, h, f) * (1 + 2*rng.Float64())
		x0, y0 := (rng.Float64()-0.5)*10000, (rng.Float64()-0.5)*10000
		x1, y1 := ClampOffset(x0, y0, s, w, h, f)
		x2, y2 := ClampOffset(x1, y1, s, w, h, f)
		if x1 != x2 || y1 != y2 {
			t.Fatalf("ClampOffset not idempotent: (%v, %v) then (%v, %v)", x1, y1, x2, y2)
		}
	}
}

func TestApplyZoomReclampsAgainstNewScale(t *testing.T) {
	g := Geometry{Image: ImageMetadata{Width: 2000, Height: 1000}, FrameSize: 500}
	bound := g.MaxOffset(1.5)
	if diff := cmp.Diff(Point{X: 1250, Y: 500}, bound); diff != "" {
		t.Fatalf("MaxOffset(1.5) mismatch (-want +got):\n%s", diff)
	}

	got := ApplyZoom(1.0, bound, 2000, 1000, 500)
	want := ViewState{Scale: 1, OffsetX: 750, OffsetY: 250}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ApplyZoom mismatch (-want +got):\n%s", diff)
	}
	if !g.Covers(got) {
		t.Fatalf("view %+v does not cover the frame", got)
	}
}

func TestApplyDrag(t *testing.T) {
	got := ApplyDrag(Point{X: 120, Y: 40}, Point{X: -20, Y: 5}, 0.5, 2000, 1000, 500)
	want := ViewState{Scale: 0.5, OffsetX: 100, OffsetY: 0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ApplyDrag mismatch (-want +got):\n%s", diff)
	}
}

func TestViewportDragTracksPointerThenPins(t *testing.T) {
	vp := NewViewport(500, 3)
	vp.Load(ImageMetadata{Width: 2000, Height: 1000})

	vp.BeginDrag(Point{X: 100, Y: 100})
	steps := []struct {
		pointer Point
		wantX   float64
	}{
		{Point{X: 150, Y: 130}, 50},
		{Point{X: 300, Y: 100}, 200},
		{Point{X: 350, Y: 90}, 250},
		{Point{X: 500, Y: 100}, 250},
		{Point{X: 900, Y: 100}, 250},
		{Point{X: 340, Y: 100}, 240},
		{Point{X: -400, Y: 100}, -250},
	}
	for i, step := range steps {
		view, _ := vp.DragTo(step.pointer)
		if view.OffsetX != step.wantX || view.OffsetY != 0 {
			t.Fatalf("step %d: DragTo(%+v) offset = (%v, %v), want (%v, 0)", i, step.pointer, view.OffsetX, view.OffsetY, step.wantX)
		}
	}
	if !vp.EndDrag() {
		t.Fatalf("EndDrag() = false, want true")
	}
	if _, changed := vp.DragTo(Point{X: 0, Y: 0}); changed {
		t.Fatalf("DragTo after EndDrag changed the view")
	}
}

func TestViewportDragResumesFromCurrentOffset(t *testing.T) {
	vp := NewViewport(500, 3)
	vp.Load(ImageMetadata{Width: 2000, Height: 2000})
	vp.SetZoom(0.5)

	vp.BeginDrag(Point{X: 10, Y: 10})
	vp.DragTo(Point{X: 60, Y: 30})
	vp.EndDrag()

	vp.BeginDrag(Point{X: 500, Y: 500})
	view, _ := vp.DragTo(Point{X: 510, Y: 490})
	want := ViewState{Scale: 0.5, OffsetX: 60, OffsetY: 10}
	if diff := cmp.Diff(want, view, cmpopts.EquateApprox(0, eps)); diff != "" {
		t.Fatalf("second drag mismatch (-want +got):\n%s", diff)
	}
}

func TestViewportSetZoomClamps(t *testing.T) {
	vp := NewViewport(500, 3)
	vp.Load(ImageMetadata{Width: 2000, Height: 1000})

	lo, hi := vp.ZoomRange()
	if lo != 0.5 || hi != 1.5 {
		t.Fatalf("ZoomRange() = (%v, %v), want (0.5, 1.5)", lo, hi)
	}

	tests := []struct {
		in          float64
		want        float64
		wantChanged bool
	}{
		{1.2, 1.2, true},
		{1.2, 1.2, false},
		{99, 1.5, true},
		{0.01, 0.5, true},
		{math.NaN(), 0.5, false},
		{math.Inf(1), 1.5, true},
	}
	for _, tt := range tests {
		view, changed := vp.SetZoom(tt.in)
		if view.Scale != tt.want || changed != tt.wantChanged {
			t.Fatalf("SetZoom(%v) = (%v, %v), want (%v, %v)", tt.in, view.Scale, changed, tt.want, tt.wantChanged)
		}
	}
}

func TestViewportUnloadedIsInert(t *testing.T) {
	vp := NewViewport(500, 3)
	if vp.Loaded() {
		t.Fatalf("Loaded() = true for a new viewport")
	}
	if got := vp.State(); got.Scale != unloadedMinScale {
		t.Fatalf("State().Scale = %v, want %v", got.Scale, unloadedMinScale)
	}
	if _, changed := vp.SetZoom(2); changed {
		t.Fatalf("SetZoom changed an unloaded viewport")
	}
	vp.BeginDrag(Point{X: 1, Y: 1})
	if vp.Dragging() {
		t.Fatalf("BeginDrag started a drag without an image")
	}
}

func TestViewportLoadResets(t *testing.T) {
	vp := NewViewport(500, 3)
	vp.Load(ImageMetadata{Width: 2000, Height: 1000})
	vp.SetZoom(1.5)
	vp.BeginDrag(Point{})
	vp.DragTo(Point{X: 300, Y: -100})

	view := vp.Load(ImageMetadata{Width: 1000, Height: 1000})
	if diff := cmp.Diff(ViewState{Scale: 0.5}, view); diff != "" {
		t.Fatalf("Load() mismatch (-want +got):\n%s", diff)
	}
	if vp.Dragging() {
		t.Fatalf("Load() kept the drag in progress")
	}
}

func TestViewportTransitionsKeepFrameCovered(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	for round := 0; round < 50; round++ {
		meta := ImageMetadata{Width: 1 + rng.IntN(6000), Height: 1 + rng.IntN(6000)}
		frame := 1 + rng.IntN(1000)
		vp := NewViewport(frame, DefaultZoomMultiplier)
		vp.Load(meta)
		g := vp.Geometry()
		if !g.Covers(vp.State()) {
			t.Fatalf("initial view %+v does not cover frame %d for %+v", vp.State(), frame, meta)
		}
		lo, hi := vp.ZoomRange()
		for i := 0; i < 200; i++ {
			switch rng.IntN(4) {
			case 0:
				vp.SetZoom(lo + rng.Float64()*(hi-lo)*1.5)
			case 1:
				vp.BeginDrag(Point{X: rng.Float64() * 500, Y: rng.Float64() * 500})
			case 2:
				vp.DragTo(Point{X: (rng.Float64() - 0.5) * 5000, Y: (rng.Float64() - 0.5) * 5000})
			case 3:
				vp.EndDrag()
			}
			if v := vp.State(); !g.Covers(v) {
				t.Fatalf("view %+v does not cover frame %d for %+v", v, frame, meta)
			}
		}
	}
}
