package features

import (
	"math"
	"testing"
)

func sineWave(freq float64, seconds float64) []float64 {
	n := int(seconds * SampleRate)
	signal := make([]float64, n)
	for i := range signal {
		signal[i] = 0.1 * math.Sin(2*math.Pi*freq*float64(i)/SampleRate)
	}
	return signal
}

func TestNumFrames(t *testing.T) {
	cases := []struct {
		samples int
		want    int
	}{
		{0, 0},
		{1, 1},
		{HopLength, 1},
		{HopLength + 1, 2},
		{SampleRate, 32}, // one second, rounds up from 31.25
		{10 * SampleRate, 313},
	}
	for _, tc := range cases {
		if got := NumFrames(tc.samples); got != tc.want {
			t.Errorf("NumFrames(%d) = %d, want %d", tc.samples, got, tc.want)
		}
	}
}

func TestExtractShape(t *testing.T) {
	signal := sineWave(440, 1.0)

	feat, err := NewExtractor().Extract(signal)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	rows, cols := feat.Dims()
	if rows != NumMels {
		t.Errorf("got %d mel rows, want %d", rows, NumMels)
	}
	if want := NumFrames(len(signal)); cols != want {
		t.Errorf("got %d frames, want %d", cols, want)
	}
}

func TestExtractEmptySignal(t *testing.T) {
	if _, err := NewExtractor().Extract(nil); err == nil {
		t.Error("expected error for empty signal")
	}
}

func TestExtractNormalized(t *testing.T) {
	feat, err := NewExtractor().Extract(sineWave(440, 2.0))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	rows, cols := feat.Dims()
	var sum float64
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			sum += feat.At(r, c)
		}
	}
	mean := sum / float64(rows*cols)
	if math.Abs(mean) > 1e-6 {
		t.Errorf("mean after normalization = %g, want ~0", mean)
	}

	var sq float64
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			d := feat.At(r, c) - mean
			sq += d * d
		}
	}
	std := math.Sqrt(sq / float64(rows*cols))
	if math.Abs(std-1) > 1e-3 {
		t.Errorf("std after normalization = %g, want ~1", std)
	}
}

func TestExtractSilenceFinite(t *testing.T) {
	// All-zero input must not produce NaN or Inf values.
	feat, err := NewExtractor().Extract(make([]float64, SampleRate))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	rows, cols := feat.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := feat.At(r, c)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("non-finite value %g at (%d,%d)", v, r, c)
			}
		}
	}
}

func TestExtractToneConcentration(t *testing.T) {
	// A pure tone should put its loudest pre-normalization energy in a
	// narrow band. After z-scoring, the row nearest the tone frequency
	// should still score above the clip mean.
	feat, err := NewExtractor().Extract(sineWave(440, 1.0))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	_, cols := feat.Dims()
	best, bestVal := -1, math.Inf(-1)
	for r := 0; r < NumMels; r++ {
		rowSum := 0.0
		for c := 0; c < cols; c++ {
			rowSum += feat.At(r, c)
		}
		if rowSum > bestVal {
			bestVal = rowSum
			best = r
		}
	}

	// 440Hz sits in the lower third of the HTK mel range at 16kHz.
	if best < 5 || best > NumMels/2 {
		t.Errorf("peak energy in mel row %d, expected a low-to-mid band", best)
	}
}
