// Package exec runs the external tools the pipeline delegates to: ffmpeg
// for container formats the native decoders cannot read, and yt-dlp for
// YouTube retrieval.
package exec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	apperrors "github.com/dygy/midi-scribe/internal/errors"
)

// Result holds command execution output
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes external commands with context support
type Runner struct {
	FFmpegPath string
	YtDlpPath  string
}

// NewRunner creates a new command runner, resolving tool paths from PATH
// when not given explicitly.
func NewRunner(ffmpegPath, ytDlpPath string) *Runner {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ytDlpPath == "" {
		ytDlpPath = "yt-dlp"
	}
	return &Runner{FFmpegPath: ffmpegPath, YtDlpPath: ytDlpPath}
}

// CheckTool verifies a tool is installed and executable.
func (r *Runner) CheckTool(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrToolNotInstalled, name)
	}
	return nil
}

// RunFFmpeg executes ffmpeg with the given arguments.
func (r *Runner) RunFFmpeg(ctx context.Context, args ...string) (*Result, error) {
	return r.execute(ctx, r.FFmpegPath, args...)
}

// RunYtDlp executes yt-dlp with the given arguments.
func (r *Runner) RunYtDlp(ctx context.Context, args ...string) (*Result, error) {
	return r.execute(ctx, r.YtDlpPath, args...)
}

func (r *Runner) execute(ctx context.Context, name string, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: elapsed,
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			return result, fmt.Errorf("%s timed out after %s", name, elapsed.Round(time.Second))
		}
		return result, fmt.Errorf("%s: %w", name, err)
	}
	return result, nil
}
