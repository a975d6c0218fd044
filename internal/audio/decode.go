package audio

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"

	apperrors "github.com/dygy/midi-scribe/internal/errors"
	toolexec "github.com/dygy/midi-scribe/internal/exec"
)

// TargetSampleRate is the canonical sample rate after standardization.
const TargetSampleRate = 16000

// targetRMS is the loudness the signal is rescaled to; clipLimit bounds the
// rescaled samples.
const (
	targetRMS = 0.1
	clipLimit = 0.95
)

// Decoder loads audio files into standardized mono 16kHz signals. WAV and
// MP3 decode natively; everything else goes through ffmpeg into a temporary
// WAV first.
type Decoder struct {
	runner *toolexec.Runner
}

// NewDecoder creates a decoder backed by the given tool runner.
func NewDecoder(runner *toolexec.Runner) *Decoder {
	return &Decoder{runner: runner}
}

// Load decodes path into a standardized signal: mono, resampled to 16kHz,
// RMS-normalized and clipped. workDir receives intermediate files for
// non-native formats. Returns a typed AudioUnreadable error when the file
// cannot be decoded.
func (d *Decoder) Load(ctx context.Context, path, workDir string) ([]float64, error) {
	format, err := detectFormat(path)
	if err != nil {
		return nil, err
	}

	decodePath := path
	if !format.NativeDecode() {
		decodePath, err = d.convertToWAV(ctx, path, workDir)
		if err != nil {
			return nil, err
		}
		format = FormatWAV
	}

	var signal []float64
	var rate int
	switch format {
	case FormatWAV:
		signal, rate, err = decodeWAV(decodePath)
	case FormatMP3:
		signal, rate, err = decodeMP3(decodePath)
	default:
		err = fmt.Errorf("%w: no decoder for %s", apperrors.ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}

	return Standardize(signal, rate), nil
}

// Standardize resamples a mono signal to the target rate, rescales it to
// the target RMS and clips the result. Near-silent signals pass through
// unscaled to avoid amplifying noise floor.
func Standardize(signal []float64, sampleRate int) []float64 {
	if sampleRate != TargetSampleRate {
		signal = resampleLinear(signal, sampleRate, TargetSampleRate)
	}

	var sq float64
	for _, v := range signal {
		sq += v * v
	}
	rms := math.Sqrt(sq / float64(len(signal)))
	if rms > 1e-6 {
		gain := targetRMS / rms
		for i, v := range signal {
			v *= gain
			if v > clipLimit {
				v = clipLimit
			} else if v < -clipLimit {
				v = -clipLimit
			}
			signal[i] = v
		}
	}
	return signal
}

// convertToWAV extracts the audio track with ffmpeg, already downmixed to
// mono at the target rate.
func (d *Decoder) convertToWAV(ctx context.Context, path, workDir string) (string, error) {
	if err := d.runner.CheckTool(d.runner.FFmpegPath); err != nil {
		return "", err
	}

	out := filepath.Join(workDir, "decoded.wav")
	result, err := d.runner.RunFFmpeg(ctx,
		"-y",
		"-i", path,
		"-vn",
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", TargetSampleRate),
		"-acodec", "pcm_s16le",
		out,
	)
	if err != nil {
		return "", fmt.Errorf("%w: ffmpeg decode failed: %v (stderr: %s)",
			apperrors.ErrAudioUnreadable, err, tail(result.Stderr, 300))
	}
	return out, nil
}

func decodeWAV(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", apperrors.ErrAudioUnreadable, err)
	}
	defer f.Close()

	dec := gowav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: wav decode: %v", apperrors.ErrAudioUnreadable, err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, 0, fmt.Errorf("%w: wav file has no samples", apperrors.ErrAudioUnreadable)
	}

	return monoFloat(buf), buf.Format.SampleRate, nil
}

// monoFloat downmixes an integer PCM buffer to a mono float signal in
// [-1, 1], averaging channels.
func monoFloat(buf *goaudio.IntBuffer) []float64 {
	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	scale := 1.0 / 32768.0
	if buf.SourceBitDepth > 0 {
		scale = 1.0 / float64(int(1)<<(buf.SourceBitDepth-1))
	}

	frames := len(buf.Data) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c]) * scale
		}
		out[i] = sum / float64(channels)
	}
	return out
}

func decodeMP3(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", apperrors.ErrAudioUnreadable, err)
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: mp3 decode: %v", apperrors.ErrAudioUnreadable, err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: mp3 read: %v", apperrors.ErrAudioUnreadable, err)
	}

	// go-mp3 always emits 16-bit little-endian stereo.
	frames := len(pcm) / 4
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		left := int16(uint16(pcm[i*4]) | uint16(pcm[i*4+1])<<8)
		right := int16(uint16(pcm[i*4+2]) | uint16(pcm[i*4+3])<<8)
		out[i] = (float64(left) + float64(right)) / (2.0 * 32768.0)
	}
	return out, dec.SampleRate(), nil
}

// resampleLinear converts between sample rates with linear interpolation.
func resampleLinear(samples []float64, srcRate, dstRate int) []float64 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(srcRate) / float64(dstRate)
	outLen := int(float64(len(samples)) / ratio)
	out := make([]float64, outLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
