package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (worker logs)
// This ensures we don't lose critical crash information if a subprocess dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command bound to ctx and attaches a buffer to its
// Stderr pipe. It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box to stderr and dumps the captured
// subprocess logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	writeErrorBox(os.Stderr, context, err, s)
}

func writeErrorBox(w io.Writer, context string, err error, s *SafeCommand) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "🚨 TRYON ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(w, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(w, "\nSUBPROCESS LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// Die is ShowError followed by exit(1). Only for use from main-level code.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. Video Engine (Shared by the ffmpeg camera & render) ---

type ffprobeOutput struct {
	Streams []struct {
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		RFrameRate    string `json:"r_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
}

func probe(ctx context.Context, path string, args ...string) (*ffprobeOutput, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	full := append([]string{"-v", "error", "-select_streams", "v:0"}, args...)
	full = append(full, "-of", "json", path)
	cmd := NewSafeCommand(ctx, "ffprobe", full...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(cmd.Stderr.String()))
	}
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return nil, fmt.Errorf("no video stream in %s", path)
	}
	return &res, nil
}

// GetVideoDimensions returns the width and height of the first video stream.
func GetVideoDimensions(ctx context.Context, path string) (int, int, error) {
	res, err := probe(ctx, path, "-show_entries", "stream=width,height")
	if err != nil {
		return 0, 0, err
	}
	w, h := res.Streams[0].Width, res.Streams[0].Height
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid video dimensions %dx%d", w, h)
	}
	return w, h, nil
}

// GetVideoFPS returns the frame rate of the first video stream as a string
// ffmpeg accepts for -r (e.g. "30000/1001").
func GetVideoFPS(ctx context.Context, path string) (string, error) {
	res, err := probe(ctx, path, "-show_entries", "stream=r_frame_rate")
	if err != nil {
		return "", err
	}
	fps := res.Streams[0].RFrameRate
	if _, err := ParseRate(fps); err != nil {
		return "", err
	}
	return fps, nil
}

// ParseRate converts an ffprobe rate ("30000/1001" or "25") to a float.
func ParseRate(rate string) (float64, error) {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q", rate)
	}
	if !found {
		if n <= 0 {
			return 0, fmt.Errorf("invalid frame rate %q", rate)
		}
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 || n <= 0 {
		return 0, fmt.Errorf("invalid frame rate %q", rate)
	}
	return n / d, nil
}

// GetTotalFrames uses ffprobe to count packets for the progress bar
// It returns 0 if the count fails, allowing the caller to fallback to a spinner.
func GetTotalFrames(ctx context.Context, path string) int {
	// 1. Fast Path: Check Container Metadata
	// This is instant but might return "N/A" or be inaccurate for VFR.
	if res, err := probe(ctx, path, "-show_entries", "stream=nb_frames"); err == nil {
		if count, err := strconv.Atoi(res.Streams[0].NbFrames); err == nil && count > 0 {
			return count
		}
	}

	// 2. Slow Path: Count Packets (Fallback)
	fmt.Fprintf(os.Stderr, "⏳ Metadata missing. Counting frames (this may take a moment)...\n")
	res, err := probe(ctx, path, "-count_packets", "-show_entries", "stream=nb_read_packets")
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  %v\n", err)
		return 0
	}
	count, err := strconv.Atoi(res.Streams[0].NbReadPackets)
	if err != nil {
		return 0
	}
	return count
}

// NewFFmpegRawDecoder creates a decoder that writes packed RGBA frames to
// Stdout. inputArgs are placed before -i (e.g. "-f", "v4l2").
func NewFFmpegRawDecoder(ctx context.Context, input string, inputArgs ...string) *SafeCommand {
	return NewFFmpegScaledDecoder(ctx, input, 0, 0, inputArgs...)
}

// NewFFmpegScaledDecoder is NewFFmpegRawDecoder with the output pinned to
// width x height, whatever size the input negotiates. Zero keeps the input
// size.
func NewFFmpegScaledDecoder(ctx context.Context, input string, width, height int, inputArgs ...string) *SafeCommand {
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, inputArgs...)
	args = append(args, "-i", input)
	if width > 0 && height > 0 {
		args = append(args, "-s", fmt.Sprintf("%dx%d", width, height))
	}
	args = append(args, "-f", "rawvideo", "-pix_fmt", "rgba", "-")
	return NewSafeCommand(ctx, "ffmpeg", args...)
}

// NewFFmpegEncoder creates an encoder reading packed RGBA frames of the given
// size from Stdin and writing an H.264 file.
func NewFFmpegEncoder(ctx context.Context, output, fps string, width, height int) *SafeCommand {
	return NewSafeCommand(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height), "-r", fps,
		"-i", "-",
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		output)
}

// ReadRawFrame fills buf with exactly one frame from r.
func ReadRawFrame(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}
