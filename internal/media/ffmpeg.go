package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"bilimusic/internal/core"
)

const (
	defaultFFmpegPath = "ffmpeg"
	defaultMuxTimeout = 5 * time.Minute
)

// MuxError is a non-zero ffmpeg exit. Stderr is kept verbatim.
type MuxError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *MuxError) Error() string {
	return fmt.Sprintf("ffmpeg exited with code %d: %s", e.ExitCode, e.Stderr)
}

func (e *MuxError) Unwrap() error {
	return e.Err
}

// Is makes every MuxError match core.ErrMuxFailed.
func (e *MuxError) Is(target error) bool {
	return target == core.ErrMuxFailed
}

// FFmpeg muxes audio and cover through the external ffmpeg binary.
type FFmpeg struct {
	path    string
	timeout time.Duration
	logger  *zap.Logger
}

func NewFFmpeg(path string, timeout time.Duration, logger *zap.Logger) *FFmpeg {
	if path == "" {
		path = defaultFFmpegPath
	}
	if timeout <= 0 {
		timeout = defaultMuxTimeout
	}
	return &FFmpeg{
		path:    path,
		timeout: timeout,
		logger:  logger,
	}
}

// Check verifies that the ffmpeg binary can be found.
func (f *FFmpeg) Check() error {
	if _, err := exec.LookPath(f.path); err != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrToolMissing, f.path, err)
	}
	return nil
}

// Args builds the ffmpeg command line for req.
//
// MP3 output re-encodes the audio, copies the cover as an attached picture
// and writes ID3v2.3 tags, which is what most players read. M4A output
// copies both streams untouched.
func Args(req core.MuxRequest) ([]string, error) {
	args := []string{
		"-i", req.AudioPath,
		"-i", req.CoverPath,
		"-map", "0:0",
		"-map", "1:0",
		"-metadata", "title=" + req.Title,
		"-metadata", "artist=" + req.Artist,
	}

	switch req.Format {
	case core.FormatMP3, "":
		args = append(args,
			"-id3v2_version", "3",
			"-codec:v", "copy",
		)
	case core.FormatM4A:
		args = append(args,
			"-c", "copy",
			"-disposition:v:0", "attached_pic",
		)
	default:
		return nil, fmt.Errorf("unsupported output format %q", req.Format)
	}

	return append(args, "-y", req.OutputPath), nil
}

// Mux runs ffmpeg and waits for it to exit.
func (f *FFmpeg) Mux(ctx context.Context, req core.MuxRequest) error {
	args, err := Args(req)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.path, args...)
	cmd.Stderr = &stderr

	f.logger.Debug("Running ffmpeg",
		zap.String("path", f.path),
		zap.Strings("args", args))

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s: %w", core.ErrToolMissing, f.path, err)
		}

		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(err, ctxErr)
		}

		f.logger.Error("ffmpeg failed",
			zap.Int("exit_code", exitCode),
			zap.String("stderr", stderr.String()),
			zap.Error(err))
		return &MuxError{ExitCode: exitCode, Stderr: stderr.String(), Err: err}
	}

	f.logger.Debug("ffmpeg finished",
		zap.String("output", req.OutputPath),
		zap.Duration("duration", time.Since(start)))
	return nil
}
