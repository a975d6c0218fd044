package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/dygy/midi-scribe/internal/errors"
)

const (
	MaxFileSize = 100 * 1024 * 1024 // 100MB
)

// Format represents an audio container format
type Format string

const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatFLAC    Format = "flac"
	FormatOGG     Format = "ogg"
	FormatM4A     Format = "m4a"
	FormatVideo   Format = "video"
	FormatUnknown Format = "unknown"
)

// NativeDecode reports whether the format can be decoded without ffmpeg.
func (f Format) NativeDecode() bool {
	return f == FormatWAV || f == FormatMP3
}

// ValidateInput checks that the input file exists, is within the size limit
// and has a recognized audio container.
func ValidateInput(path string) (Format, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return FormatUnknown, fmt.Errorf("%w: %s", apperrors.ErrFileNotFound, path)
	}
	if err != nil {
		return FormatUnknown, fmt.Errorf("stat file: %w", err)
	}

	if info.Size() > MaxFileSize {
		return FormatUnknown, fmt.Errorf("%w: maximum size is 100MB", apperrors.ErrFileTooLarge)
	}

	format, err := detectFormat(path)
	if err != nil {
		return FormatUnknown, err
	}
	if format == FormatUnknown {
		return FormatUnknown, fmt.Errorf("%w: expected wav, mp3, flac, ogg, m4a or a video container", apperrors.ErrUnsupportedFormat)
	}
	return format, nil
}

// detectFormat checks file magic bytes to determine the container format
func detectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("%w: %v", apperrors.ErrAudioUnreadable, err)
	}
	defer f.Close()

	header := make([]byte, 12)
	n, err := f.Read(header)
	if err != nil || n < 4 {
		return FormatUnknown, fmt.Errorf("%w: could not read file header", apperrors.ErrAudioUnreadable)
	}

	switch {
	case string(header[:4]) == "RIFF" && n >= 12 && string(header[8:12]) == "WAVE":
		return FormatWAV, nil
	case string(header[:3]) == "ID3":
		return FormatMP3, nil
	case header[0] == 0xFF && (header[1]&0xE0) == 0xE0:
		return FormatMP3, nil
	case string(header[:4]) == "fLaC":
		return FormatFLAC, nil
	case string(header[:4]) == "OggS":
		return FormatOGG, nil
	case n >= 12 && string(header[4:8]) == "ftyp":
		// MP4 family: m4a audio or a video container with an audio track.
		if string(header[8:11]) == "M4A" {
			return FormatM4A, nil
		}
		return FormatVideo, nil
	case header[0] == 0x1A && header[1] == 0x45 && header[2] == 0xDF && header[3] == 0xA3:
		// Matroska / webm
		return FormatVideo, nil
	}

	// Fallback: extension
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return FormatWAV, nil
	case ".mp3":
		return FormatMP3, nil
	case ".flac":
		return FormatFLAC, nil
	case ".ogg", ".oga":
		return FormatOGG, nil
	case ".m4a", ".aac":
		return FormatM4A, nil
	case ".mp4", ".webm", ".mkv", ".mov":
		return FormatVideo, nil
	}

	return FormatUnknown, nil
}
