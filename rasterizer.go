package main

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

const (
	// DefaultResolutionCap bounds the side of the produced crop.
	DefaultResolutionCap = 1080
	// DefaultJPEGQuality is the encoder quality. Downstream consumers may
	// depend on it; keep it stable.
	DefaultJPEGQuality   = 95

	CropMIMEType = "image/jpeg"
	CropFilename = "cropped-image.jpg"
)

// ErrNotReady means the source surface has not been decoded yet. It is not
// terminal; the caller may render again later.
var ErrNotReady = errors.New("source image not ready")

// SourceRect is the region of the source image, in its own pixel units,
// that is visible inside the frame.
type SourceRect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (r SourceRect) String() string {
	return fmt.Sprintf("rect(x=%.4f,y=%.4f,w=%.4f,h=%.4f)", r.X, r.Y, r.W, r.H)
}

// ComputeSourceRect maps the view back into source pixel coordinates.
func ComputeSourceRect(view ViewState, imageW, imageH, frameSize int) SourceRect {
	return Geometry{Image: ImageMetadata{Width: imageW, Height: imageH}, FrameSize: frameSize}.SourceRect(view)
}

func (g Geometry) SourceRect(view ViewState) SourceRect {
	s := view.Scale
	f := float64(g.FrameSize)
	// frame centre in scaled-image space
	cx := float64(g.Image.Width)*s/2 - view.OffsetX
	cy := float64(g.Image.Height)*s/2 - view.OffsetY
	return SourceRect{
		X: (cx - f/2) / s,
		Y: (cy - f/2) / s,
		W: f / s,
		H: f / s,
	}
}

// CropArtifact is one encoded crop. It is a value; every render produces a
// fresh one.
type CropArtifact struct {
	Data      []byte     `json:"-"`
	MIMEType  string     `json:"mime_type"`
	Filename  string     `json:"filename"`
	Size      int        `json:"size"`
	Source    SourceRect `json:"source"`
	View      ViewState  `json:"view"`
	Seq       uint64     `json:"seq"`
	CreatedAt time.Time  `json:"created_at"`
}

// ID identifies the encoded bytes. Two images cropped at the same rectangle
// get different IDs.
func (a CropArtifact) ID() string {
	return fmt.Sprintf("%x", md5.Sum(a.Data))
}

// Rasterizer resamples a source rectangle into a square JPEG.
type Rasterizer struct {
	ResolutionCap int
	Quality       int
}

func NewRasterizer(resolutionCap, quality int) *Rasterizer {
	if resolutionCap <= 0 {
		resolutionCap = DefaultResolutionCap
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Rasterizer{ResolutionCap: resolutionCap, Quality: quality}
}

// OutputSize is the side of the output raster: the native width of the
// rectangle, capped.
func (r *Rasterizer) OutputSize(rect SourceRect) int {
	n := int(math.Round(rect.W))
	if n > r.ResolutionCap {
		n = r.ResolutionCap
	}
	if n < 1 {
		n = 1
	}
	return n
}

// RenderCrop samples rect out of surface and encodes it. It returns
// ErrNotReady when surface is missing. It reads nothing but its arguments
// and may run concurrently.
func (r *Rasterizer) RenderCrop(ctx context.Context, surface image.Image, rect SourceRect) (*CropArtifact, error) {
	if surface == nil || surface.Bounds().Empty() {
		return nil, ErrNotReady
	}
	if !(rect.W > 0 && rect.H > 0) || math.IsInf(rect.W, 0) || math.IsInf(rect.H, 0) ||
		math.IsNaN(rect.X) || math.IsNaN(rect.Y) || math.IsInf(rect.X, 0) || math.IsInf(rect.Y, 0) {
		return nil, fmt.Errorf("invalid source rectangle %s", rect)
	}

	n := r.OutputSize(rect)
	dst := image.NewRGBA(image.Rect(0, 0, n, n))

	b := surface.Bounds()
	kx := float64(n) / rect.W
	ky := float64(n) / rect.H
	s2d := f64.Aff3{
		kx, 0, -(float64(b.Min.X) + rect.X) * kx,
		0, ky, -(float64(b.Min.Y) + rect.Y) * ky,
	}
	draw.BiLinear.Transform(dst, s2d, surface, b, draw.Src, nil)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, imaging.JPEG, imaging.JPEGQuality(r.Quality)); err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}

	return &CropArtifact{
		Data:      buf.Bytes(),
		MIMEType:  CropMIMEType,
		Filename:  CropFilename,
		Size:      n,
		Source:    rect,
		CreatedAt: time.Now(),
	}, nil
}
