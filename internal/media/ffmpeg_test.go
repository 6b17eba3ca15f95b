package media

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/andresmejia3/tryon/internal/utils"
)

// catStream wires an ffmpegStream to `cat`, which echoes raw frames written
// to its stdin.
func catStream(t *testing.T) (*ffmpegStream, func([]byte)) {
	t.Helper()
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cmd := utils.NewSafeCommand(ctx, "cat")
	in, err := cmd.StdinPipe()
	if err != nil {
		t.Fatal(err)
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	s := &ffmpegStream{out: out, width: 2, height: 2, track: &ffmpegTrack{id: "cat", cmd: cmd, cancel: cancel}}
	t.Cleanup(func() { s.track.Stop() })
	return s, func(b []byte) {
		if _, err := in.Write(b); err != nil {
			t.Fatal(err)
		}
	}
}

func TestFFmpegStreamReadsWholeFrames(t *testing.T) {
	s, write := catStream(t)

	frame := make([]byte, 16)
	for i := range frame {
		frame[i] = byte(i)
	}
	write(frame)

	img, err := s.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 2 || b.Dy() != 2 {
		t.Errorf("frame size = %v, want 2x2", b)
	}
}

func TestFFmpegTrackStopEndsPendingRead(t *testing.T) {
	s, _ := catStream(t)

	readErr := make(chan error, 1)
	go func() {
		_, err := s.Read()
		readErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.track.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on the pending read")
	}

	if err := <-readErr; !errors.Is(err, errTrackStopped) {
		t.Errorf("pending Read = %v, want errTrackStopped", err)
	}
	if s.track.cmd.ProcessState == nil {
		t.Error("process should be reaped once Stop returns")
	}
	if _, err := s.Read(); !errors.Is(err, errTrackStopped) {
		t.Errorf("Read after Stop = %v, want errTrackStopped", err)
	}
}
