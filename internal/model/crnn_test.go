package model

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/dygy/midi-scribe/internal/features"
)

func randomWindow(steps int) *mat.Dense {
	rng := rand.New(rand.NewSource(7))
	m := mat.NewDense(features.NumMels, steps, nil)
	for f := 0; f < features.NumMels; f++ {
		for t := 0; t < steps; t++ {
			m.Set(f, t, rng.NormFloat64())
		}
	}
	return m
}

func TestForwardShape(t *testing.T) {
	m := NewCRNN(VariantDirect)
	window := randomWindow(6)

	logits, err := m.Forward(window)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	rows, cols := logits.Dims()
	if rows != NumPitches {
		t.Errorf("got %d pitch rows, want %d", rows, NumPitches)
	}
	if cols != 6 {
		t.Errorf("got %d time steps, want 6 (time axis must be preserved)", cols)
	}

	for p := 0; p < rows; p++ {
		for s := 0; s < cols; s++ {
			v := logits.At(p, s)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("non-finite logit %g at (%d,%d)", v, p, s)
			}
		}
	}
}

func TestForwardClassifierVariant(t *testing.T) {
	m := NewCRNN(VariantClassifier)
	logits, err := m.Forward(randomWindow(4))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	rows, cols := logits.Dims()
	if rows != NumPitches || cols != 4 {
		t.Errorf("got %dx%d, want %dx4", rows, cols, NumPitches)
	}
}

func TestForwardDeterministic(t *testing.T) {
	// Same fixed seed, same input: outputs must match exactly, both across
	// calls and across model constructions.
	window := randomWindow(5)

	a, err := NewCRNN(VariantDirect).Forward(window)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	b, err := NewCRNN(VariantDirect).Forward(window)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	rows, cols := a.Dims()
	for p := 0; p < rows; p++ {
		for s := 0; s < cols; s++ {
			if a.At(p, s) != b.At(p, s) {
				t.Fatalf("outputs differ at (%d,%d): %g vs %g", p, s, a.At(p, s), b.At(p, s))
			}
		}
	}
}

func TestForwardWrongBinCount(t *testing.T) {
	m := NewCRNN(VariantDirect)
	if _, err := m.Forward(mat.NewDense(64, 10, nil)); err == nil {
		t.Error("expected error for wrong mel bin count")
	}
}

func TestVariantString(t *testing.T) {
	if VariantDirect.String() != "direct-linear" {
		t.Errorf("VariantDirect.String() = %q", VariantDirect.String())
	}
	if VariantClassifier.String() != "classifier" {
		t.Errorf("VariantClassifier.String() = %q", VariantClassifier.String())
	}
}

func TestMaxPoolFreq(t *testing.T) {
	in := featureMaps{
		data:  [][]float64{{1, 2, 5, 3, 0, 7, 4, 1}},
		freq:  4,
		steps: 2,
	}
	out := maxPoolFreq(in)
	if out.freq != 2 || out.steps != 2 {
		t.Fatalf("pooled dims %dx%d, want 2x2", out.freq, out.steps)
	}
	want := []float64{5, 3, 4, 7}
	for i, v := range want {
		if out.data[0][i] != v {
			t.Errorf("pooled[%d] = %g, want %g", i, out.data[0][i], v)
		}
	}
}
