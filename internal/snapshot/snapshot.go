// Package snapshot exports the composited output surface as PNG.
package snapshot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultFilename = "my_pearl_tryon.png"

var ErrEmpty = errors.New("nothing has been drawn yet")

// Record describes one saved snapshot.
type Record struct {
	ID        uuid.UUID `json:"id"`
	Path      string    `json:"path"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	ShadeID   string    `json:"shadeId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Recorder persists snapshot metadata.
type Recorder interface {
	RecordSnapshot(ctx context.Context, rec Record) error
}

var encoder = png.Encoder{CompressionLevel: png.BestSpeed}

// Encode writes img to w as PNG.
func Encode(w io.Writer, img image.Image) error {
	if img == nil || img.Bounds().Empty() {
		return ErrEmpty
	}
	bw := bufio.NewWriter(w)
	if err := encoder.Encode(bw, img); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return bw.Flush()
}

// WriteFile encodes img to path, replacing the file atomically.
func WriteFile(path string, img image.Image) error {
	if img == nil || img.Bounds().Empty() {
		return ErrEmpty
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.png")
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, img); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// Exporter saves snapshots under a directory and optionally records them.
type Exporter struct {
	Dir      string
	Filename string
	recorder Recorder
	log      zerolog.Logger
}

// NewExporter creates an exporter. recorder may be nil.
func NewExporter(dir, filename string, recorder Recorder, log zerolog.Logger) *Exporter {
	if filename == "" {
		filename = DefaultFilename
	}
	return &Exporter{Dir: dir, Filename: filename, recorder: recorder, log: log}
}

// Save writes img as <dir>/<id>_<filename>. A failure to record the
// snapshot is logged; the file is kept.
func (e *Exporter) Save(ctx context.Context, img image.Image, shadeID string) (Record, error) {
	if img == nil || img.Bounds().Empty() {
		return Record{}, ErrEmpty
	}
	rec := Record{
		ID:        uuid.New(),
		Width:     img.Bounds().Dx(),
		Height:    img.Bounds().Dy(),
		ShadeID:   shadeID,
		CreatedAt: time.Now().UTC(),
	}
	rec.Path = filepath.Join(e.Dir, rec.ID.String()+"_"+e.Filename)
	if err := WriteFile(rec.Path, img); err != nil {
		return Record{}, err
	}
	e.log.Info().Str("path", rec.Path).Str("shade", shadeID).Msg("Snapshot saved")

	if e.recorder != nil {
		if err := e.recorder.RecordSnapshot(ctx, rec); err != nil {
			e.log.Warn().Err(err).Str("id", rec.ID.String()).Msg("Failed to record snapshot")
		}
	}
	return rec, nil
}
