package detector

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	pigo "github.com/esimov/pigo/core"
	"github.com/rs/zerolog"

	"github.com/andresmejia3/tryon/internal/types"
)

// Indices of the synthesized pigo landmark layout.
const (
	PigoLeftEye = iota
	PigoRightEye
	PigoLeftCheek0
	PigoLeftCheek1
	PigoLeftCheek2
	PigoLeftCheek3
	PigoRightCheek0
	PigoRightCheek1
	PigoRightCheek2
	PigoRightCheek3
	PigoForehead
	PigoChin
	PigoPointCount
)

const (
	shiftFactor  = 0.1
	scaleFactor  = 1.1
	iouThreshold = 0.2
	minFaceSize  = 60
)

// PigoModel is a pure-Go detector. It finds the face box with the pigo
// face cascade, refines eye positions with the pupil cascade when available,
// and derives a fixed 12-point layout from them.
type PigoModel struct {
	cascadeDir string
	log        zerolog.Logger

	mu         sync.Mutex
	classifier *pigo.Pigo
	puploc     *pigo.PuplocCascade
	minQ       float32
	refine     bool
}

func NewPigoModel(cascadeDir string, log zerolog.Logger) *PigoModel {
	return &PigoModel{cascadeDir: cascadeDir, log: log}
}

func (m *PigoModel) Load(ctx context.Context, cfg Config) error {
	data, err := os.ReadFile(filepath.Join(m.cascadeDir, "facefinder"))
	if err != nil {
		return fmt.Errorf("%w: failed to read face cascade: %v", ErrModelLoad, err)
	}
	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return fmt.Errorf("%w: failed to unpack face cascade: %v", ErrModelLoad, err)
	}

	var plc *pigo.PuplocCascade
	if cfg.Refine {
		pdata, err := os.ReadFile(filepath.Join(m.cascadeDir, "puploc"))
		if err != nil {
			m.log.Warn().Err(err).Msg("Pupil cascade unavailable, eye positions will be estimated")
		} else if plc, err = pigo.NewPuplocCascade().UnpackCascade(pdata); err != nil {
			return fmt.Errorf("%w: failed to unpack pupil cascade: %v", ErrModelLoad, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.classifier = classifier
	m.puploc = plc
	m.refine = plc != nil
	// pigo scores are unbounded; 0.5 confidence maps to the customary 5.0.
	m.minQ = float32(cfg.DetectionConfidence * 10)
	m.log.Info().Float32("min_q", m.minQ).Bool("pupils", m.refine).Msg("Pigo cascades loaded")
	return nil
}

func (m *PigoModel) Detect(ctx context.Context, frame *image.RGBA) (types.LandmarkFrame, error) {
	m.mu.Lock()
	classifier, plc, minQ := m.classifier, m.puploc, m.minQ
	m.mu.Unlock()
	if classifier == nil {
		return types.LandmarkFrame{}, fmt.Errorf("%w: cascade not loaded", ErrModelState)
	}
	if err := ctx.Err(); err != nil {
		return types.LandmarkFrame{}, err
	}

	cols, rows := frame.Rect.Dx(), frame.Rect.Dy()
	out := types.LandmarkFrame{Width: cols, Height: rows}

	maxSize := cols
	if rows < maxSize {
		maxSize = rows
	}
	img := pigo.ImageParams{
		Pixels: pigo.RgbToGrayscale(frame),
		Rows:   rows,
		Cols:   cols,
		Dim:    cols,
	}
	dets := classifier.RunCascade(pigo.CascadeParams{
		MinSize:     minFaceSize,
		MaxSize:     maxSize,
		ShiftFactor: shiftFactor,
		ScaleFactor: scaleFactor,
		ImageParams: img,
	}, 0.0)
	dets = classifier.ClusterDetections(dets, iouThreshold)

	best := -1
	for i, d := range dets {
		if d.Q >= minQ && (best < 0 || d.Q > dets[best].Q) {
			best = i
		}
	}
	if best < 0 {
		return out, nil
	}
	det := dets[best]

	left, right := estimateEyes(det)
	if plc != nil {
		left = locatePupil(plc, img, det, left, -1)
		right = locatePupil(plc, img, det, right, 1)
	}
	out.Points = layout(det.Row, det.Col, det.Scale, left, right, cols, rows)
	return out, nil
}

func (m *PigoModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classifier = nil
	m.puploc = nil
	return nil
}

// eye is a pixel position (row, col).
type eye struct{ row, col int }

func estimateEyes(det pigo.Detection) (eye, eye) {
	s := float32(det.Scale)
	row := det.Row - int(0.085*s)
	return eye{row, det.Col - int(0.185*s)}, eye{row, det.Col + int(0.185*s)}
}

// locatePupil refines guess with the pupil cascade; side is -1 for the
// image-left eye and 1 for the image-right eye.
func locatePupil(plc *pigo.PuplocCascade, img pigo.ImageParams, det pigo.Detection, guess eye, side int) eye {
	p := plc.RunDetector(pigo.Puploc{
		Row:      guess.row,
		Col:      guess.col,
		Scale:    float32(det.Scale) * 0.4,
		Perturbs: 63,
	}, img, 0.0, false)
	if p == nil || p.Row <= 0 || p.Col <= 0 {
		return guess
	}
	// Reject pupils that jumped to the other side of the face.
	if (side < 0 && p.Col > det.Col) || (side > 0 && p.Col < det.Col) {
		return guess
	}
	return eye{p.Row, p.Col}
}

// layout derives the 12-point landmark set from a face box centred at
// (row, col) with side scale and the two eye positions, normalized to the
// frame size.
func layout(row, col, scale int, left, right eye, cols, rows int) []types.Point {
	s := float64(scale)
	cx, cy := float64(col), float64(row)
	eyeY := float64(left.row+right.row) / 2
	top := eyeY + 0.12*s

	px := func(x, y float64) types.Point {
		return types.Point{X: clamp01(x / float64(cols)), Y: clamp01(y / float64(rows))}
	}

	pts := make([]types.Point, PigoPointCount)
	pts[PigoLeftEye] = px(float64(left.col), float64(left.row))
	pts[PigoRightEye] = px(float64(right.col), float64(right.row))

	pts[PigoLeftCheek0] = px(cx-0.36*s, top)
	pts[PigoLeftCheek1] = px(cx-0.14*s, top+0.03*s)
	pts[PigoLeftCheek2] = px(cx-0.14*s, top+0.22*s)
	pts[PigoLeftCheek3] = px(cx-0.32*s, top+0.18*s)

	pts[PigoRightCheek0] = px(cx+0.36*s, top)
	pts[PigoRightCheek1] = px(cx+0.14*s, top+0.03*s)
	pts[PigoRightCheek2] = px(cx+0.14*s, top+0.22*s)
	pts[PigoRightCheek3] = px(cx+0.32*s, top+0.18*s)

	pts[PigoForehead] = px(cx, cy-0.45*s)
	pts[PigoChin] = px(cx, cy+0.5*s)
	return pts
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
