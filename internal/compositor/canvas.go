package compositor

import (
	"image"
	"image/color"
	"math"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"
)

type BlendMode int

const (
	SourceOver BlendMode = iota
	Multiply
)

func (b BlendMode) String() string {
	if b == Multiply {
		return "multiply"
	}
	return "source-over"
}

// Vec is a screen-space point in pixels.
type Vec struct{ X, Y float64 }

// Canvas is the output surface the compositor draws on.
type Canvas interface {
	Size() (int, int)
	Resize(w, h int)
	Clear()
	// DrawMirrored draws frame flipped horizontally, scaled to the canvas.
	DrawMirrored(frame *image.RGBA)
	SetBlend(mode BlendMode)
	SetFill(c color.RGBA, alpha float64)
	FillPolygon(pts []Vec)
	FillEllipse(cx, cy, rx, ry float64)
	// Snapshot returns a copy of the surface.
	Snapshot() *image.RGBA
}

// kappa places cubic control points for a quarter-circle approximation.
const kappa = 0.5522847498

// scalePool recycles the scratch frame used when the video and surface
// sizes disagree.
var scalePool = sync.Pool{
	New: func() interface{} { return &image.RGBA{} },
}

// RGBACanvas rasterizes shapes into a coverage mask and blends the fill
// color into an RGBA surface.
type RGBACanvas struct {
	img   *image.RGBA
	mask  *image.Alpha
	ras   *vector.Rasterizer
	blend BlendMode
	fill  color.RGBA
	alpha float64
}

func NewRGBACanvas() *RGBACanvas {
	c := &RGBACanvas{}
	c.Resize(0, 0)
	return c
}

func (c *RGBACanvas) Size() (int, int) {
	return c.img.Rect.Dx(), c.img.Rect.Dy()
}

func (c *RGBACanvas) Resize(w, h int) {
	r := image.Rect(0, 0, w, h)
	c.img = image.NewRGBA(r)
	c.mask = image.NewAlpha(r)
	c.ras = vector.NewRasterizer(w, h)
}

func (c *RGBACanvas) Clear() {
	clear(c.img.Pix)
}

func (c *RGBACanvas) DrawMirrored(frame *image.RGBA) {
	w, h := c.Size()
	if w == 0 || h == 0 {
		return
	}
	src := frame
	if frame.Rect.Dx() != w || frame.Rect.Dy() != h {
		tmp := scalePool.Get().(*image.RGBA)
		defer scalePool.Put(tmp)
		if cap(tmp.Pix) < w*h*4 {
			tmp.Pix = make([]uint8, w*h*4)
		}
		tmp.Pix = tmp.Pix[:w*h*4]
		tmp.Stride = w * 4
		tmp.Rect = image.Rect(0, 0, w, h)
		draw.ApproxBiLinear.Scale(tmp, tmp.Rect, frame, frame.Rect, draw.Src, nil)
		src = tmp
	}

	for y := 0; y < h; y++ {
		srow := src.Pix[src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y):]
		drow := c.img.Pix[y*c.img.Stride:]
		for x := 0; x < w; x++ {
			s := (w - 1 - x) * 4
			copy(drow[x*4:x*4+4], srow[s:s+4])
		}
	}
}

func (c *RGBACanvas) SetBlend(mode BlendMode) { c.blend = mode }

func (c *RGBACanvas) SetFill(col color.RGBA, alpha float64) {
	c.fill = col
	c.alpha = math.Max(0, math.Min(1, alpha))
}

func (c *RGBACanvas) FillPolygon(pts []Vec) {
	if len(pts) < 3 {
		return
	}
	w, h := c.Size()
	c.ras.Reset(w, h)
	c.ras.MoveTo(float32(pts[0].X), float32(pts[0].Y))
	minX, minY, maxX, maxY := pts[0].X, pts[0].Y, pts[0].X, pts[0].Y
	for _, p := range pts[1:] {
		c.ras.LineTo(float32(p.X), float32(p.Y))
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	c.ras.ClosePath()
	c.fillMask(bbox(minX, minY, maxX, maxY))
}

func (c *RGBACanvas) FillEllipse(cx, cy, rx, ry float64) {
	if rx <= 0 || ry <= 0 {
		return
	}
	w, h := c.Size()
	kx, ky := kappa*rx, kappa*ry
	f := func(v float64) float32 { return float32(v) }

	c.ras.Reset(w, h)
	c.ras.MoveTo(f(cx+rx), f(cy))
	c.ras.CubeTo(f(cx+rx), f(cy+ky), f(cx+kx), f(cy+ry), f(cx), f(cy+ry))
	c.ras.CubeTo(f(cx-kx), f(cy+ry), f(cx-rx), f(cy+ky), f(cx-rx), f(cy))
	c.ras.CubeTo(f(cx-rx), f(cy-ky), f(cx-kx), f(cy-ry), f(cx), f(cy-ry))
	c.ras.CubeTo(f(cx+kx), f(cy-ry), f(cx+rx), f(cy-ky), f(cx+rx), f(cy))
	c.ras.ClosePath()
	c.fillMask(bbox(cx-rx, cy-ry, cx+rx, cy+ry))
}

func bbox(minX, minY, maxX, maxY float64) image.Rectangle {
	return image.Rect(int(math.Floor(minX))-1, int(math.Floor(minY))-1,
		int(math.Ceil(maxX))+1, int(math.Ceil(maxY))+1)
}

// fillMask rasterizes the current path into the mask and blends the fill
// color through it, visiting only pixels inside r.
func (c *RGBACanvas) fillMask(r image.Rectangle) {
	r = r.Intersect(c.img.Rect)
	if r.Empty() {
		return
	}
	clear(c.mask.Pix)
	c.ras.Draw(c.mask, c.mask.Rect, image.Opaque, image.Point{})

	sr := float64(c.fill.R) / 255
	sg := float64(c.fill.G) / 255
	sb := float64(c.fill.B) / 255
	for y := r.Min.Y; y < r.Max.Y; y++ {
		mrow := c.mask.Pix[y*c.mask.Stride:]
		prow := c.img.Pix[y*c.img.Stride:]
		for x := r.Min.X; x < r.Max.X; x++ {
			m := mrow[x]
			if m == 0 {
				continue
			}
			a := c.alpha * float64(m) / 255
			blendPixel(prow[x*4:x*4+4], sr, sg, sb, a, c.blend)
		}
	}
}

// blendPixel composites a straight-alpha source color with coverage a onto a
// premultiplied destination pixel.
func blendPixel(p []uint8, sr, sg, sb, a float64, mode BlendMode) {
	ab := float64(p[3]) / 255
	src := [3]float64{sr * a, sg * a, sb * a}
	for i := 0; i < 3; i++ {
		cb := float64(p[i]) / 255
		var co float64
		switch mode {
		case Multiply:
			co = src[i]*(1-ab) + cb*(1-a) + src[i]*cb
		default:
			co = src[i] + cb*(1-a)
		}
		p[i] = to8(co)
	}
	p[3] = to8(a + ab*(1-a))
}

func to8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

func (c *RGBACanvas) Snapshot() *image.RGBA {
	out := image.NewRGBA(c.img.Rect)
	copy(out.Pix, c.img.Pix)
	return out
}
