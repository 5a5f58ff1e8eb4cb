package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

type CropperConfig struct {
	FrameSize      int
	ZoomMultiplier float64
	ResolutionCap  int
	Quality        int

	// RenderOnGestureEnd defers encoding during a drag until the pointer is
	// released. Zoom changes always render.
	RenderOnGestureEnd bool

	// OnCrop receives every completed render. Completions are not ordered:
	// a stale render may arrive after a newer one, compare Seq to discard it.
	OnCrop func(ctx context.Context, artifact CropArtifact)

	// OnLoadError is called once per failed load.
	OnLoadError func(ctx context.Context, err error)
}

// Cropper is one crop widget: a source image, its viewport and the renders
// produced from it. Mutations are serialized; renders run in the background.
type Cropper struct {
	config     CropperConfig
	rasterizer *Rasterizer

	mu       sync.Mutex
	viewport *Viewport
	surface  image.Image
	name     string
	seq      uint64
	latest   *CropArtifact

	// generation changes on every load so late renders of a replaced image
	// are not kept.
	generation uint64

	// dirty marks a drag that moved while renders were deferred.
	dirty bool

	renders conc.WaitGroup
}

func NewCropper(config CropperConfig) *Cropper {
	return &Cropper{
		config:     config,
		rasterizer: NewRasterizer(config.ResolutionCap, config.Quality),
		viewport:   NewViewport(config.FrameSize, config.ZoomMultiplier),
	}
}

// Load decodes a new source image and resets the view. On failure the
// widget is left without an image.
func (c *Cropper) Load(ctx context.Context, name string, r io.Reader) error {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		err = fmt.Errorf("failed to decode image: %w", err)
		c.failLoad(ctx, name, err)
		return err
	}
	return c.LoadImage(ctx, name, img)
}

// LoadImage installs an already decoded surface.
func (c *Cropper) LoadImage(ctx context.Context, name string, img image.Image) error {
	if img == nil || img.Bounds().Empty() {
		err := errors.New("image has no pixels")
		c.failLoad(ctx, name, err)
		return err
	}
	b := img.Bounds()
	meta := ImageMetadata{Width: b.Dx(), Height: b.Dy()}

	c.mu.Lock()
	c.surface = img
	c.name = name
	c.generation++
	c.latest = nil
	c.dirty = false
	view := c.viewport.Load(meta)
	c.mu.Unlock()

	log.Ctx(ctx).Info().
		Str("image", name).
		Int("width", meta.Width).
		Int("height", meta.Height).
		Float64("scale", view.Scale).
		Msg("image loaded")

	c.Refresh(ctx)
	return nil
}

func (c *Cropper) failLoad(ctx context.Context, name string, err error) {
	c.mu.Lock()
	c.surface = nil
	c.name = ""
	c.generation++
	c.latest = nil
	c.dirty = false
	c.viewport.Unload()
	c.mu.Unlock()

	log.Ctx(ctx).Error().Err(err).Str("image", name).Msg("failed to load image")
	if fn := c.config.OnLoadError; fn != nil {
		fn(ctx, err)
	}
}

func (c *Cropper) BeginDrag(ctx context.Context, pointer Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewport.BeginDrag(pointer)
}

func (c *Cropper) DragTo(ctx context.Context, pointer Point) ViewState {
	c.mu.Lock()
	view, changed := c.viewport.DragTo(pointer)
	deferred := changed && c.config.RenderOnGestureEnd
	if deferred {
		c.dirty = true
	}
	c.mu.Unlock()

	if changed && !deferred {
		c.Refresh(ctx)
	}
	return view
}

func (c *Cropper) EndDrag(ctx context.Context) {
	c.mu.Lock()
	c.viewport.EndDrag()
	dirty := c.dirty
	c.dirty = false
	c.mu.Unlock()

	if dirty {
		c.Refresh(ctx)
	}
}

// SetZoom applies a slider value; out of range values are clamped.
func (c *Cropper) SetZoom(ctx context.Context, scale float64) ViewState {
	c.mu.Lock()
	view, changed := c.viewport.SetZoom(scale)
	if changed {
		// this render covers any deferred drag movement
		c.dirty = false
	}
	c.mu.Unlock()

	if changed {
		c.Refresh(ctx)
	}
	return view
}

// Refresh schedules a render of the current view. It never blocks on the
// encode. Nothing is rendered while no image is loaded.
func (c *Cropper) Refresh(ctx context.Context) {
	c.mu.Lock()
	if c.surface == nil || !c.viewport.Loaded() {
		c.mu.Unlock()
		return
	}
	c.seq++
	seq := c.seq
	surface := c.surface
	generation := c.generation
	view := c.viewport.State()
	rect := c.viewport.Geometry().SourceRect(view)
	c.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	c.renders.Go(func() {
		artifact, err := c.rasterizer.RenderCrop(ctx, surface, rect)
		if err != nil {
			if errors.Is(err, ErrNotReady) {
				log.Ctx(ctx).Debug().Uint64("seq", seq).Msg("surface not ready, skipping render")
				return
			}
			log.Ctx(ctx).Error().Err(err).Uint64("seq", seq).Msg("failed to render crop")
			return
		}
		artifact.Seq = seq
		artifact.View = view

		c.mu.Lock()
		if c.generation == generation && (c.latest == nil || c.latest.Seq < seq) {
			c.latest = artifact
		}
		c.mu.Unlock()

		log.Ctx(ctx).Debug().
			Uint64("seq", seq).
			Int("size", artifact.Size).
			Int("bytes", len(artifact.Data)).
			Stringer("source", rect).
			Msg("crop rendered")

		if fn := c.config.OnCrop; fn != nil {
			fn(ctx, *artifact)
		}
	})
}

// Wait blocks until every scheduled render has completed.
func (c *Cropper) Wait() {
	c.renders.Wait()
}

// Latest returns the newest completed artifact for the current image.
func (c *Cropper) Latest() (CropArtifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return CropArtifact{}, false
	}
	return *c.latest, true
}

// Name is the label given to the current image, empty if none.
func (c *Cropper) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

type CropperSnapshot struct {
	Image     string        `json:"image"`
	Loaded    bool          `json:"loaded"`
	Metadata  ImageMetadata `json:"metadata"`
	FrameSize int           `json:"frame_size"`
	View      ViewState     `json:"view"`
	MinScale  float64       `json:"min_scale"`
	MaxScale  float64       `json:"max_scale"`
	ZoomStep  float64       `json:"zoom_step"`
	Dragging  bool          `json:"dragging"`
	Source    SourceRect    `json:"source"`
	LatestSeq uint64        `json:"latest_seq"`
}

func (c *Cropper) Snapshot() CropperSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	lo, hi := c.viewport.ZoomRange()
	s := CropperSnapshot{
		Image:     c.name,
		Loaded:    c.viewport.Loaded(),
		Metadata:  c.viewport.Metadata(),
		FrameSize: c.viewport.FrameSize(),
		View:      c.viewport.State(),
		MinScale:  lo,
		MaxScale:  hi,
		ZoomStep:  ZoomStep,
		Dragging:  c.viewport.Dragging(),
	}
	if s.Loaded {
		s.Source = c.viewport.Geometry().SourceRect(s.View)
	}
	if c.latest != nil {
		s.LatestSeq = c.latest.Seq
	}
	return s
}
