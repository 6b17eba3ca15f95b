package utils

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"30", 30, false},
		{"30000/1001", 30000.0 / 1001.0, false},
		{"25/1", 25, false},
		{"0/0", 0, true},
		{"abc", 0, true},
		{"-5", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRate(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseRate(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestReadRawFrame(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	r := bytes.NewReader(data)
	buf := make([]byte, 4)

	if err := ReadRawFrame(r, buf); err != nil || !bytes.Equal(buf, data[:4]) {
		t.Fatalf("first frame = %v, %v", buf, err)
	}
	if err := ReadRawFrame(r, buf); err != nil || !bytes.Equal(buf, data[4:8]) {
		t.Fatalf("second frame = %v, %v", buf, err)
	}
	// Only one byte left: a truncated frame is an error.
	if err := ReadRawFrame(r, buf); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestErrorBoxIncludesSubprocessLogs(t *testing.T) {
	cmd := NewSafeCommand(context.Background(), "true")
	cmd.Stderr.WriteString("Traceback: boom")

	var out bytes.Buffer
	writeErrorBox(&out, "Worker crashed", errors.New("exit status 1"), cmd)

	for _, want := range []string{"TRYON ERROR: Worker crashed", "DETAILS: exit status 1", "Traceback: boom"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("error box missing %q:\n%s", want, out.String())
		}
	}
}

func TestNewFFmpegRawDecoderArgs(t *testing.T) {
	cmd := NewFFmpegRawDecoder(context.Background(), "/dev/video0", "-f", "v4l2")
	got := strings.Join(cmd.Args, " ")
	if !strings.Contains(got, "-f v4l2 -i /dev/video0") || !strings.HasSuffix(got, "-f rawvideo -pix_fmt rgba -") {
		t.Errorf("unexpected decoder args: %s", got)
	}
}

func TestNewFFmpegScaledDecoderArgs(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		want          string
	}{
		{"Pinned", 1280, 720, "-f v4l2 -i /dev/video0 -s 1280x720 -f rawvideo -pix_fmt rgba -"},
		{"Native", 0, 0, "-f v4l2 -i /dev/video0 -f rawvideo -pix_fmt rgba -"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewFFmpegScaledDecoder(context.Background(), "/dev/video0", tt.width, tt.height, "-f", "v4l2")
			if got := strings.Join(cmd.Args, " "); !strings.HasSuffix(got, tt.want) {
				t.Errorf("args = %s, want suffix %s", got, tt.want)
			}
		})
	}
}
