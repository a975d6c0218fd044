package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
)

// Canonical feature parameters. Model weights are trained against these, so
// they are constants rather than configuration.
const (
	SampleRate = 16000
	NumMels    = 128
	FFTSize    = 2048
	HopLength  = 512

	// MinSeconds is the minimum recording length; shorter clips are rejected
	// before extraction begins.
	MinSeconds = 5.0
)

// FrameDuration is the wall-clock length of one feature frame in seconds.
const FrameDuration = float64(HopLength) / float64(SampleRate)

// topDB clamps the dynamic range of the log-power spectrogram.
const topDB = 80.0

// Extractor computes log-mel spectrogram features from a mono 16kHz signal.
// It is safe for reuse across clips but not for concurrent use; each
// pipeline run owns its own Extractor.
type Extractor struct {
	fft     *fourier.FFT
	filters [][]float64
	window  []float64
}

// NewExtractor creates an extractor with the canonical mel filterbank.
func NewExtractor() *Extractor {
	return &Extractor{
		fft:     fourier.NewFFT(FFTSize),
		filters: melFilterbank(FFTSize, NumMels, SampleRate),
		window:  hannWindow(FFTSize),
	}
}

// NumFrames returns the feature frame count for a signal of the given length.
func NumFrames(samples int) int {
	return (samples + HopLength - 1) / HopLength
}

// Extract computes a (NumMels x T) log-power mel spectrogram, z-score
// normalized over the whole clip. The signal must already be standardized
// to 16kHz mono.
func (e *Extractor) Extract(signal []float64) (*mat.Dense, error) {
	if len(signal) == 0 {
		return nil, fmt.Errorf("empty signal")
	}

	numFrames := NumFrames(len(signal))
	power := make([][]float64, numFrames)

	frame := make([]float64, FFTSize)
	for t := 0; t < numFrames; t++ {
		// Frames are centered on t*hop, zero-padded at the clip edges.
		start := t*HopLength - FFTSize/2
		for i := 0; i < FFTSize; i++ {
			idx := start + i
			if idx >= 0 && idx < len(signal) {
				frame[i] = signal[idx] * e.window[i]
			} else {
				frame[i] = 0
			}
		}

		coeffs := e.fft.Coefficients(nil, frame)
		spec := make([]float64, FFTSize/2+1)
		for k := range spec {
			re := real(coeffs[k])
			im := imag(coeffs[k])
			spec[k] = re*re + im*im
		}

		mels := make([]float64, NumMels)
		for m := 0; m < NumMels; m++ {
			sum := 0.0
			for k, w := range e.filters[m] {
				sum += spec[k] * w
			}
			mels[m] = sum
		}
		power[t] = mels
	}

	out := mat.NewDense(NumMels, numFrames, nil)
	powerToDB(power, out)
	normalize(out)
	return out, nil
}

// powerToDB converts mel power to decibels referenced to the peak value,
// clamped to peak-topDB, writing into a (mel x time) matrix.
func powerToDB(power [][]float64, out *mat.Dense) {
	const amin = 1e-10

	ref := amin
	for _, frame := range power {
		for _, v := range frame {
			if v > ref {
				ref = v
			}
		}
	}
	refDB := 10 * math.Log10(ref)

	maxDB := math.Inf(-1)
	for t, frame := range power {
		for m, v := range frame {
			if v < amin {
				v = amin
			}
			db := 10*math.Log10(v) - refDB
			out.Set(m, t, db)
			if db > maxDB {
				maxDB = db
			}
		}
	}

	floor := maxDB - topDB
	_, cols := out.Dims()
	for m := 0; m < NumMels; m++ {
		for t := 0; t < cols; t++ {
			if out.At(m, t) < floor {
				out.Set(m, t, floor)
			}
		}
	}
}

// normalize applies a global z-score over the whole clip.
func normalize(m *mat.Dense) {
	rows, cols := m.Dims()
	n := float64(rows * cols)

	var sum float64
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			sum += m.At(r, c)
		}
	}
	mean := sum / n

	var sq float64
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			d := m.At(r, c) - mean
			sq += d * d
		}
	}
	std := math.Sqrt(sq / n)

	inv := 1.0 / (std + 1e-8)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			m.Set(r, c, (m.At(r, c)-mean)*inv)
		}
	}
}

// melFilterbank builds triangular mel filters over FFT bins, HTK mel scale,
// compatible with the filterbank the model was trained on.
func melFilterbank(nFFT, nMels, sampleRate int) [][]float64 {
	hzToMel := func(hz float64) float64 {
		return 2595.0 * math.Log10(1.0+hz/700.0)
	}
	melToHz := func(mel float64) float64 {
		return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
	}

	numBins := nFFT/2 + 1
	fMax := float64(sampleRate) / 2.0

	binFreqs := make([]float64, numBins)
	for i := range binFreqs {
		binFreqs[i] = float64(i) * fMax / float64(numBins-1)
	}

	mMin := hzToMel(0)
	mMax := hzToMel(fMax)
	pts := make([]float64, nMels+2)
	for i := range pts {
		mel := mMin + float64(i)*(mMax-mMin)/float64(nMels+1)
		pts[i] = melToHz(mel)
	}

	diff := make([]float64, nMels+1)
	for i := range diff {
		diff[i] = pts[i+1] - pts[i]
	}

	filters := make([][]float64, nMels)
	for m := 0; m < nMels; m++ {
		filters[m] = make([]float64, numBins)
		for k := 0; k < numBins; k++ {
			lower := (binFreqs[k] - pts[m]) / diff[m]
			upper := (pts[m+2] - binFreqs[k]) / diff[m+1]
			v := math.Min(lower, upper)
			if v < 0 {
				v = 0
			}
			filters[m][k] = v
		}
	}
	return filters
}

func hannWindow(size int) []float64 {
	w := make([]float64, size)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}
	return w
}
