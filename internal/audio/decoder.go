package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
)

// Decoder converts compressed audio (WebM, MP3, WAV uploads) to raw PCM
type Decoder interface {
	Decode(ctx context.Context, compressed []byte) ([]byte, error)
}

// commandRunner abstracts process execution so decoding can be tested
// without an ffmpeg binary
type commandRunner interface {
	Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// FFmpegDecoder shells out to ffmpeg to transcode any container it
// understands into raw PCM in the target format
type FFmpegDecoder struct {
	path   string
	format Format
	runner commandRunner
}

// NewFFmpegDecoder creates a decoder that produces PCM in the given format
func NewFFmpegDecoder(path string, format Format) *FFmpegDecoder {
	return &FFmpegDecoder{
		path:   path,
		format: format,
		runner: execRunner{},
	}
}

// Decode transcodes compressed audio into raw PCM bytes
func (d *FFmpegDecoder) Decode(ctx context.Context, compressed []byte) ([]byte, error) {
	if len(compressed) == 0 {
		return nil, fmt.Errorf("cannot decode empty audio data")
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le",
		"-ac", strconv.Itoa(d.format.Channels),
		"-ar", strconv.Itoa(d.format.SampleRate),
		"-c:a", "pcm_s16le",
		"pipe:1",
	}

	pcm, err := d.runner.Run(ctx, d.path, args, compressed)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode failed: %w", err)
	}

	// Guard against a truncated final frame from a partial container
	if rem := len(pcm) % d.format.FrameSize(); rem != 0 {
		pcm = pcm[:len(pcm)-rem]
	}

	if len(pcm) == 0 {
		return nil, fmt.Errorf("ffmpeg produced no audio data")
	}

	return pcm, nil
}
