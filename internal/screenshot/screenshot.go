// Package screenshot captures the display for the operator dashboard.
package screenshot

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// FFmpeg grabs one frame of the X display with ffmpeg's x11grab input.
type FFmpeg struct {
	display string
}

func NewFFmpeg(display string) *FFmpeg {
	return &FFmpeg{display: display}
}

// Capture returns one encoded frame plus its content type. Zero width or
// height keeps the source dimension; quality only applies to jpeg.
func (f *FFmpeg) Capture(ctx context.Context, width, height int, format string, quality int) ([]byte, string, error) {
	var codec, contentType string
	switch format {
	case "", "jpeg", "jpg":
		codec, contentType = "mjpeg", "image/jpeg"
	case "png":
		codec, contentType = "png", "image/png"
	default:
		return nil, "", fmt.Errorf("unsupported screenshot format %q", format)
	}

	if width <= 0 {
		width = -1
	}
	if height <= 0 {
		height = -1
	}

	args := []string{
		"-loglevel", "error",
		"-f", "x11grab",
		"-i", f.display,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-vcodec", codec,
	}
	if codec == "mjpeg" {
		if quality < 1 || quality > 31 {
			quality = 4
		}
		args = append(args, "-q:v", strconv.Itoa(quality))
	}
	args = append(args, "-f", "image2pipe", "pipe:1")

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, "", fmt.Errorf("ffmpeg capture: %w: %s", err, stderr.String())
	}
	return stdout.Bytes(), contentType, nil
}
