package detector

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/rs/zerolog"
)

func TestLayoutIsNormalizedAndSymmetric(t *testing.T) {
	left, right := eye{row: 180, col: 280}, eye{row: 180, col: 360}
	pts := layout(200, 320, 200, left, right, 640, 480)

	if len(pts) != PigoPointCount {
		t.Fatalf("got %d points, want %d", len(pts), PigoPointCount)
	}
	for i, p := range pts {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			t.Errorf("point %d out of range: %+v", i, p)
		}
	}

	pairs := [][2]int{
		{PigoLeftCheek0, PigoRightCheek0},
		{PigoLeftCheek2, PigoRightCheek2},
	}
	center := 320.0 / 640.0
	for _, pr := range pairs {
		l, r := pts[pr[0]], pts[pr[1]]
		if l.Y != r.Y {
			t.Errorf("cheek rows differ: %v vs %v", l, r)
		}
		dl, dr := center-l.X, r.X-center
		if d := dl - dr; d > 1e-9 || d < -1e-9 {
			t.Errorf("cheeks not symmetric: %v vs %v", dl, dr)
		}
	}
}

func TestLayoutClampsAtEdges(t *testing.T) {
	pts := layout(10, 5, 200, eye{0, 0}, eye{0, 40}, 100, 100)
	for i, p := range pts {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			t.Errorf("point %d not clamped: %+v", i, p)
		}
	}
}

func TestPigoModelRequiresCascade(t *testing.T) {
	m := NewPigoModel(t.TempDir(), zerolog.Nop())

	if err := m.Load(context.Background(), Config{DetectionConfidence: 0.5}); !errors.Is(err, ErrModelLoad) {
		t.Errorf("Load with missing cascade = %v, want ErrModelLoad", err)
	}
	if _, err := m.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8))); !errors.Is(err, ErrModelState) {
		t.Errorf("Detect before Load = %v, want ErrModelState", err)
	}
}
