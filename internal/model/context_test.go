package model

import (
	"io"
	"log/slog"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewInferenceContextNoWeights(t *testing.T) {
	ic, err := NewInferenceContext("", DefaultInferenceConfig(), quietLogger())
	if err != nil {
		t.Fatalf("NewInferenceContext: %v", err)
	}
	if ic.Trained {
		t.Error("context without weights must report Trained=false")
	}
	if ic.Model() == nil {
		t.Fatal("untrained context must still carry a usable model")
	}
}

func TestNewInferenceContextBadWeights(t *testing.T) {
	// Unreadable weights degrade to the untrained model, never fail.
	ic, err := NewInferenceContext("/nonexistent/weights.gob", DefaultInferenceConfig(), quietLogger())
	if err != nil {
		t.Fatalf("NewInferenceContext: %v", err)
	}
	if ic.Trained {
		t.Error("unreadable weights must report Trained=false")
	}
}

func TestInferSingleWindow(t *testing.T) {
	ic, err := NewInferenceContext("", DefaultInferenceConfig(), quietLogger())
	if err != nil {
		t.Fatalf("NewInferenceContext: %v", err)
	}

	logits, err := ic.Infer(randomWindow(10))
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	rows, cols := logits.Dims()
	if rows != NumPitches || cols != 10 {
		t.Errorf("got %dx%d, want %dx10", rows, cols, NumPitches)
	}
}

func TestInferChunked(t *testing.T) {
	// A tiny window (6 frames) forces the 15-frame input into three chunks
	// processed by two workers.
	cfg := InferenceConfig{WindowSeconds: 0.2, Workers: 2}
	ic, err := NewInferenceContext("", cfg, quietLogger())
	if err != nil {
		t.Fatalf("NewInferenceContext: %v", err)
	}

	feat := randomWindow(15)
	logits, err := ic.Infer(feat)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}

	rows, cols := logits.Dims()
	if rows != NumPitches || cols != 15 {
		t.Fatalf("got %dx%d, want %dx15", rows, cols, NumPitches)
	}

	// Parallel chunk order must match a sequential run exactly.
	seqCtx, err := NewInferenceContext("", InferenceConfig{WindowSeconds: 0.2, Workers: 1}, quietLogger())
	if err != nil {
		t.Fatalf("NewInferenceContext: %v", err)
	}
	sequential, err := seqCtx.Infer(feat)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	for p := 0; p < rows; p++ {
		for s := 0; s < cols; s++ {
			if logits.At(p, s) != sequential.At(p, s) {
				t.Fatalf("parallel and sequential outputs differ at (%d,%d)", p, s)
			}
		}
	}
}
