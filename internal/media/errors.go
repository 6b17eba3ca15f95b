package media

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
)

// ErrorKind categorizes camera acquisition and playback failures.
type ErrorKind string

const (
	PermissionDenied       ErrorKind = "PermissionDenied"
	DeviceNotFound         ErrorKind = "DeviceNotFound"
	DeviceBusy             ErrorKind = "DeviceBusy"
	UnsupportedConstraints ErrorKind = "UnsupportedConstraints"
	PlaybackBlocked        ErrorKind = "PlaybackBlocked"
	PlaybackError          ErrorKind = "PlaybackError"
	Generic                ErrorKind = "Generic"
)

var messages = map[ErrorKind]string{
	PermissionDenied:       "Camera access denied. Please allow camera access in your browser settings and reload the page.",
	DeviceNotFound:         "No camera found. Please connect a camera and reload the page.",
	DeviceBusy:             "Camera is in use by another application. Please close other applications using your camera.",
	UnsupportedConstraints: "Your camera does not support the required features. Please try a different camera or device.",
	PlaybackBlocked:        "Browser requires user interaction before camera can start. Please tap anywhere on the screen.",
	PlaybackError:          "Could not play video stream. Please reload and try again.",
	Generic:                "Camera access error. Please check your browser settings and reload.",
}

// Message is the actionable text shown to the user for k.
func (k ErrorKind) Message() string {
	if m, ok := messages[k]; ok {
		return m
	}
	return messages[Generic]
}

var (
	ErrSinkBusy      = errors.New("sink already has a stream attached")
	ErrNoStream      = errors.New("no stream attached")
	ErrManagerClosed = errors.New("media manager stopped")
	ErrSuperseded    = errors.New("camera session superseded")
)

// AcquireError is a categorized camera failure.
type AcquireError struct {
	Kind ErrorKind
	Err  error
}

func (e *AcquireError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *AcquireError) Unwrap() error { return e.Err }

func acquireErr(kind ErrorKind, err error) error {
	return &AcquireError{Kind: kind, Err: err}
}

// KindOf extracts the failure category of err. Uncategorized errors are
// Generic.
func KindOf(err error) ErrorKind {
	var ae *AcquireError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Generic
}

// classifyText maps driver or ffmpeg error text to a failure category.
func classifyText(msg string) ErrorKind {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "permission denied"), strings.Contains(m, "operation not permitted"):
		return PermissionDenied
	case strings.Contains(m, "device or resource busy"), strings.Contains(m, "busy"):
		return DeviceBusy
	case strings.Contains(m, "no such file or directory"), strings.Contains(m, "no such device"):
		return DeviceNotFound
	case strings.Contains(m, "failed to find the best driver"),
		strings.Contains(m, "invalid argument"),
		strings.Contains(m, "not supported"),
		strings.Contains(m, "constraint"):
		return UnsupportedConstraints
	}
	return Generic
}

// classify categorizes a raw camera error.
func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return PermissionDenied
	case errors.Is(err, syscall.EBUSY):
		return DeviceBusy
	case errors.Is(err, os.ErrNotExist), errors.Is(err, syscall.ENODEV):
		return DeviceNotFound
	}
	return classifyText(err.Error())
}
