// Package compositor produces the output surface every render tick: the
// mirrored video with the selected shade blended over the face.
package compositor

import (
	"image"
	"image/color"
	"sync"

	"github.com/rs/zerolog"

	"github.com/andresmejia3/tryon/internal/degrade"
	"github.com/andresmejia3/tryon/internal/shade"
	"github.com/andresmejia3/tryon/internal/types"
)

// Fallback oval size as a fraction of the surface.
const (
	FallbackWidth  = 0.45
	FallbackHeight = 0.60
)

// DefaultOpacity is the overlay alpha used when none is configured.
const DefaultOpacity = 0.4

// FaceReporter receives whether a face region was rendered on a tick.
type FaceReporter interface {
	SetFaceDetected(bool)
}

// Input is everything one tick needs.
type Input struct {
	Frame     *image.RGBA
	Landmarks *types.LandmarkFrame
	Shade     *types.Shade
	Fallback  bool
}

// TickResult describes what a tick did.
type TickResult struct {
	Skipped      bool
	Drawn        bool
	FaceRendered bool
	Polygons     int
	Ellipse      bool
}

type Options struct {
	Regions      RegionTable
	Opacity      float64
	SkipInterval int
}

// Compositor draws onto a Canvas. Tick and Snapshot may be called from
// different goroutines.
type Compositor struct {
	canvas  Canvas
	regions RegionTable
	opacity float64
	skipper *degrade.FrameSkipper
	faces   FaceReporter
	log     zerolog.Logger

	mu sync.Mutex
	// shade color cache keyed by hex
	colorHex string
	color    color.RGBA
}

// New creates a compositor. faces may be nil.
func New(canvas Canvas, opts Options, faces FaceReporter, log zerolog.Logger) *Compositor {
	if opts.Opacity <= 0 {
		opts.Opacity = DefaultOpacity
	}
	return &Compositor{
		canvas:  canvas,
		regions: opts.Regions,
		opacity: opts.Opacity,
		skipper: degrade.NewFrameSkipper(opts.SkipInterval),
		faces:   faces,
		log:     log,
	}
}

func (c *Compositor) shadeColor(s *types.Shade) (color.RGBA, bool) {
	if s.ColorHex == c.colorHex {
		return c.color, true
	}
	col, err := shade.ParseHex(s.ColorHex)
	if err != nil {
		c.log.Warn().Err(err).Str("shade", s.ID).Msg("Ignoring shade with invalid color")
		return color.RGBA{}, false
	}
	c.colorHex, c.color = s.ColorHex, col
	return col, true
}

// Tick renders one frame. Skipped ticks and ticks without video leave the
// surface untouched.
func (c *Compositor) Tick(in Input) TickResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.skipper.Skip() {
		return TickResult{Skipped: true}
	}
	if in.Frame == nil {
		return TickResult{}
	}

	w, h := in.Frame.Rect.Dx(), in.Frame.Rect.Dy()
	if cw, ch := c.canvas.Size(); cw != w || ch != h {
		c.canvas.Resize(w, h)
	}
	c.canvas.Clear()
	c.canvas.DrawMirrored(in.Frame)

	res := TickResult{Drawn: true}
	var col color.RGBA
	haveShade := in.Shade != nil
	if haveShade {
		col, haveShade = c.shadeColor(in.Shade)
	}

	switch {
	case in.Fallback:
		res.FaceRendered = true
		if haveShade {
			c.canvas.SetBlend(Multiply)
			c.canvas.SetFill(col, c.opacity)
			fw, fh := float64(w), float64(h)
			c.canvas.FillEllipse(fw/2, fh/2, fw*FallbackWidth/2, fh*FallbackHeight/2)
			res.Ellipse = true
		}
	case in.Landmarks.HasFace():
		res.FaceRendered = true
		if haveShade {
			c.canvas.SetBlend(Multiply)
			c.canvas.SetFill(col, c.opacity)
			res.Polygons = c.fillRegions(in.Landmarks.Points, float64(w), float64(h))
		}
	}

	c.canvas.SetBlend(SourceOver)
	if c.faces != nil {
		c.faces.SetFaceDetected(res.FaceRendered)
	}
	return res
}

// fillRegions maps each configured region into mirrored screen space and
// fills it. Regions referencing missing points are skipped.
func (c *Compositor) fillRegions(pts []types.Point, w, h float64) int {
	n := 0
	for _, r := range c.regions.Regions {
		poly := make([]Vec, 0, len(r.Indices))
		for _, i := range r.Indices {
			if i >= len(pts) {
				poly = nil
				break
			}
			poly = append(poly, mirror(pts[i], w, h))
		}
		if poly == nil {
			c.log.Debug().Str("region", r.Name).Int("points", len(pts)).Msg("Landmark set too small for region")
			continue
		}
		c.canvas.FillPolygon(poly)
		n++
	}
	return n
}

// mirror converts a normalized landmark to screen space on a horizontally
// flipped surface.
func mirror(p types.Point, w, h float64) Vec {
	return Vec{X: (1 - p.X) * w, Y: p.Y * h}
}

// Snapshot returns a copy of the current surface.
func (c *Compositor) Snapshot() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canvas.Snapshot()
}

// Size returns the current surface size.
func (c *Compositor) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canvas.Size()
}
