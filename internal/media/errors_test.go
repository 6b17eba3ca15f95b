package media

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"eacces", fmt.Errorf("open /dev/video0: %w", syscall.EACCES), PermissionDenied},
		{"ebusy", fmt.Errorf("ioctl: %w", syscall.EBUSY), DeviceBusy},
		{"missing", fmt.Errorf("stat: %w", os.ErrNotExist), DeviceNotFound},
		{"driver", errors.New("failed to find the best driver that fits the constraints"), UnsupportedConstraints},
		{"ffmpeg busy", errors.New("/dev/video0: Device or resource busy"), DeviceBusy},
		{"ffmpeg size", errors.New("ioctl(VIDIOC_S_FMT): Invalid argument"), UnsupportedConstraints},
		{"unknown", errors.New("something odd"), Generic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("start: %w", acquireErr(DeviceNotFound, errors.New("none")))
	if KindOf(wrapped) != DeviceNotFound {
		t.Errorf("KindOf(wrapped) = %s", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != Generic {
		t.Error("plain errors should be Generic")
	}
	if ErrorKind("bogus").Message() != Generic.Message() {
		t.Error("unknown kinds should use the generic message")
	}
}
