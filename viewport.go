package main

import (
	"math"
)

const (
	// DefaultFrameSize is the side of the square frame in display pixels.
	DefaultFrameSize      = 500
	// DefaultZoomMultiplier bounds zoom to [minScale, minScale*K].
	DefaultZoomMultiplier = 3.0
	// ZoomStep is the slider granularity offered to the UI.
	ZoomStep              = 0.01

	// unloadedMinScale is reported while no image is loaded so callers can
	// render before the metadata arrives.
	unloadedMinScale = 0.1

	coverEpsilon = 1e-9
)

// ImageMetadata holds the natural pixel size of the source image.
// The zero value means no image is loaded.
type ImageMetadata struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (m ImageMetadata) Loaded() bool {
	return m.Width > 0 && m.Height > 0
}

// ViewState is the current pan and zoom. Offsets are display-space
// translations of the image centre relative to the frame centre.
type ViewState struct {
	Scale   float64 `json:"scale"`
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
}

func (v ViewState) Offset() Point {
	return Point{X: v.OffsetX, Y: v.OffsetY}
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

// Geometry is an image placed behind a square frame. All of its methods are
// pure; Viewport keeps the mutable state.
type Geometry struct {
	Image     ImageMetadata
	FrameSize int
}

// ComputeMinScale returns the smallest scale at which the image covers the
// frame on both axes.
func ComputeMinScale(imageW, imageH, frameSize int) float64 {
	return Geometry{Image: ImageMetadata{Width: imageW, Height: imageH}, FrameSize: frameSize}.MinScale()
}

// Initialize returns the view for a freshly loaded image: cover fit, centred.
func Initialize(imageW, imageH, frameSize int) ViewState {
	return Geometry{Image: ImageMetadata{Width: imageW, Height: imageH}, FrameSize: frameSize}.Initialize()
}

// ClampOffset keeps the frame inside the scaled image on both axes.
func ClampOffset(offsetX, offsetY, scale float64, imageW, imageH, frameSize int) (float64, float64) {
	p := Geometry{Image: ImageMetadata{Width: imageW, Height: imageH}, FrameSize: frameSize}.ClampOffset(Point{X: offsetX, Y: offsetY}, scale)
	return p.X, p.Y
}

// ApplyZoom sets a new scale and re-clamps the offset against it. The caller
// constrains newScale to the zoom range.
func ApplyZoom(newScale float64, current Point, imageW, imageH, frameSize int) ViewState {
	return Geometry{Image: ImageMetadata{Width: imageW, Height: imageH}, FrameSize: frameSize}.ApplyZoom(newScale, current)
}

// ApplyDrag moves the image to pointer+anchor, clamped.
func ApplyDrag(pointer, anchor Point, scale float64, imageW, imageH, frameSize int) ViewState {
	return Geometry{Image: ImageMetadata{Width: imageW, Height: imageH}, FrameSize: frameSize}.ApplyDrag(pointer, anchor, scale)
}

func (g Geometry) MinScale() float64 {
	if !g.Image.Loaded() {
		return unloadedMinScale
	}
	f := float64(g.FrameSize)
	return math.Max(f/float64(g.Image.Width), f/float64(g.Image.Height))
}

func (g Geometry) Initialize() ViewState {
	return ViewState{Scale: g.MinScale()}
}

// MaxOffset returns the largest offset magnitude per axis at the given scale.
// An axis on which the scaled image does not exceed the frame gets 0.
func (g Geometry) MaxOffset(scale float64) Point {
	f := float64(g.FrameSize)
	return Point{
		X: math.Max(0, (float64(g.Image.Width)*scale-f)/2),
		Y: math.Max(0, (float64(g.Image.Height)*scale-f)/2),
	}
}

func (g Geometry) ClampOffset(offset Point, scale float64) Point {
	bound := g.MaxOffset(scale)
	return Point{
		X: clampAxis(offset.X, bound.X),
		Y: clampAxis(offset.Y, bound.Y),
	}
}

func clampAxis(v, bound float64) float64 {
	if math.IsNaN(v) || math.IsNaN(bound) {
		return 0
	}
	return math.Max(-bound, math.Min(bound, v))
}

func (g Geometry) ApplyZoom(newScale float64, current Point) ViewState {
	// bounds come from the new scale, not the old one
	off := g.ClampOffset(current, newScale)
	return ViewState{Scale: newScale, OffsetX: off.X, OffsetY: off.Y}
}

func (g Geometry) ApplyDrag(pointer, anchor Point, scale float64) ViewState {
	off := g.ClampOffset(pointer.Add(anchor), scale)
	return ViewState{Scale: scale, OffsetX: off.X, OffsetY: off.Y}
}

// ZoomRange returns the permitted scale band above cover fit.
func (g Geometry) ZoomRange(multiplier float64) (lo, hi float64) {
	if multiplier < 1 || math.IsNaN(multiplier) || math.IsInf(multiplier, 0) {
		multiplier = DefaultZoomMultiplier
	}
	lo = g.MinScale()
	return lo, lo * multiplier
}

// ClampScale maps any requested scale onto the zoom range.
func (g Geometry) ClampScale(scale, multiplier float64) float64 {
	lo, hi := g.ZoomRange(multiplier)
	if math.IsNaN(scale) {
		return lo
	}
	return math.Max(lo, math.Min(hi, scale))
}

// Covers reports whether the scaled, translated image contains the frame.
func (g Geometry) Covers(v ViewState) bool {
	if !g.Image.Loaded() || v.Scale <= 0 {
		return false
	}
	half := float64(g.FrameSize) / 2
	w := float64(g.Image.Width) * v.Scale / 2
	h := float64(g.Image.Height) * v.Scale / 2
	tol := coverEpsilon * math.Max(1, math.Max(w, h))
	return w-math.Abs(v.OffsetX) >= half-tol &&
		h-math.Abs(v.OffsetY) >= half-tol
}

// Viewport owns one view state and the drag anchor for a single image.
// It is not safe for concurrent use.
type Viewport struct {
	geom       Geometry
	multiplier float64
	state      ViewState

	dragging bool
	anchor   Point
}

func NewViewport(frameSize int, multiplier float64) *Viewport {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	if multiplier < 1 || math.IsNaN(multiplier) || math.IsInf(multiplier, 0) {
		multiplier = DefaultZoomMultiplier
	}
	v := &Viewport{
		geom:       Geometry{FrameSize: frameSize},
		multiplier: multiplier,
	}
	v.state = v.geom.Initialize()
	return v
}

// Load resets the view for a new image.
func (v *Viewport) Load(meta ImageMetadata) ViewState {
	v.geom.Image = meta
	v.dragging = false
	v.anchor = Point{}
	v.state = v.geom.Initialize()
	return v.state
}

// Unload drops the image; the view falls back to the sentinel scale.
func (v *Viewport) Unload() {
	v.Load(ImageMetadata{})
}

func (v *Viewport) Loaded() bool { return v.geom.Image.Loaded() }
func (v *Viewport) State() ViewState { return v.state }
func (v *Viewport) Metadata() ImageMetadata { return v.geom.Image }
func (v *Viewport) Geometry() Geometry { return v.geom }
func (v *Viewport) FrameSize() int { return v.geom.FrameSize }
func (v *Viewport) Dragging() bool { return v.dragging }

func (v *Viewport) ZoomRange() (lo, hi float64) {
	return v.geom.ZoomRange(v.multiplier)
}

// SetZoom clamps scale into the zoom range and applies it.
func (v *Viewport) SetZoom(scale float64) (ViewState, bool) {
	if !v.Loaded() {
		return v.state, false
	}
	next := v.geom.ApplyZoom(v.geom.ClampScale(scale, v.multiplier), v.state.Offset())
	return v.set(next)
}

// BeginDrag records the anchor so that later pointer positions map to
// offsets without drift.
func (v *Viewport) BeginDrag(pointer Point) {
	if !v.Loaded() || !finite(pointer) {
		return
	}
	v.dragging = true
	v.anchor = v.state.Offset().Sub(pointer)
}

func (v *Viewport) DragTo(pointer Point) (ViewState, bool) {
	if !v.dragging || !finite(pointer) {
		return v.state, false
	}
	return v.set(v.geom.ApplyDrag(pointer, v.anchor, v.state.Scale))
}

// EndDrag reports whether a drag was in progress.
func (v *Viewport) EndDrag() bool {
	was := v.dragging
	v.dragging = false
	return was
}

func (v *Viewport) set(next ViewState) (ViewState, bool) {
	changed := next != v.state
	v.state = next
	return next, changed
}

func finite(p Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}
