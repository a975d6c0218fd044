package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	toolexec "github.com/dygy/midi-scribe/internal/exec"
)

// YouTubeDownloader fetches the audio track of a YouTube video. It is the
// "bytes given a URL" collaborator; everything downstream treats the result
// as a regular local audio file.
type YouTubeDownloader struct {
	runner *toolexec.Runner
}

// NewYouTubeDownloader creates a downloader backed by yt-dlp.
func NewYouTubeDownloader(runner *toolexec.Runner) *YouTubeDownloader {
	return &YouTubeDownloader{runner: runner}
}

var youtubePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://(www\.)?youtube\.com/watch\?v=[\w-]+`),
	regexp.MustCompile(`^https?://(www\.)?youtube\.com/shorts/[\w-]+`),
	regexp.MustCompile(`^https?://youtu\.be/[\w-]+`),
	regexp.MustCompile(`^https?://music\.youtube\.com/watch\?v=[\w-]+`),
}

// IsYouTubeURL checks if the given string is a YouTube URL
func IsYouTubeURL(url string) bool {
	for _, p := range youtubePatterns {
		if p.MatchString(url) {
			return true
		}
	}
	return false
}

// Download fetches the best audio track into outputDir as a WAV file and
// returns its path.
func (d *YouTubeDownloader) Download(ctx context.Context, url, outputDir string) (string, error) {
	if err := d.runner.CheckTool(d.runner.YtDlpPath); err != nil {
		return "", err
	}

	template := filepath.Join(outputDir, "input.%(ext)s")
	result, err := d.runner.RunYtDlp(ctx,
		"--no-playlist",
		"--extract-audio",
		"--audio-format", "wav",
		"--audio-quality", "0",
		"--output", template,
		"--no-warnings",
		"--quiet",
		url,
	)
	if err != nil {
		return "", fmt.Errorf("youtube download: %w (stderr: %s)", err, tail(result.Stderr, 300))
	}

	path := filepath.Join(outputDir, "input.wav")
	if _, statErr := os.Stat(path); statErr != nil {
		return "", fmt.Errorf("youtube download produced no audio file")
	}
	return path, nil
}

// Title fetches the video title, falling back to the URL on failure.
func (d *YouTubeDownloader) Title(ctx context.Context, url string) string {
	result, err := d.runner.RunYtDlp(ctx, "--get-title", "--no-playlist", "--no-warnings", url)
	if err != nil || result.Stdout == "" {
		return url
	}
	title := result.Stdout
	if n := len(title); n > 0 && title[n-1] == '\n' {
		title = title[:n-1]
	}
	return title
}
