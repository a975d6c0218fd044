package model

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeCheckpoint(t *testing.T, ck *Checkpoint) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "weights.gob")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create checkpoint file: %v", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(ck); err != nil {
		t.Fatalf("encode checkpoint: %v", err)
	}
	return path
}

func TestLoadCheckpointRoundTrip(t *testing.T) {
	path := writeCheckpoint(t, &Checkpoint{
		Format: 1,
		Params: map[string]Param{
			"fc_frame.bias": {Shape: []int{3}, Data: []float64{0.1, 0.2, 0.3}},
		},
	})

	ck, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	p, ok := ck.Params["fc_frame.bias"]
	if !ok {
		t.Fatal("parameter missing after round trip")
	}
	if len(p.Data) != 3 || p.Data[1] != 0.2 {
		t.Errorf("parameter data corrupted: %v", p.Data)
	}
}

func TestLoadCheckpointMissingFile(t *testing.T) {
	if _, err := LoadCheckpoint("/nonexistent/weights.gob"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadCheckpointEmpty(t *testing.T) {
	path := writeCheckpoint(t, &Checkpoint{Format: 1, Params: map[string]Param{}})
	if _, err := LoadCheckpoint(path); err == nil {
		t.Error("expected error for checkpoint with no parameters")
	}
}

func TestDetectVariant(t *testing.T) {
	direct := &Checkpoint{Params: map[string]Param{
		"fc_frame.weight": {},
	}}
	if v := DetectVariant(direct); v != VariantDirect {
		t.Errorf("got %v, want VariantDirect", v)
	}

	classifier := &Checkpoint{Params: map[string]Param{
		"classifier.0.weight": {},
	}}
	if v := DetectVariant(classifier); v != VariantClassifier {
		t.Errorf("got %v, want VariantClassifier", v)
	}
}

func TestLoadCRNNMissingParams(t *testing.T) {
	ck := &Checkpoint{Params: map[string]Param{
		"fc_frame.weight": {Shape: []int{1}, Data: []float64{0}},
	}}

	_, err := LoadCRNN(ck)
	if err == nil {
		t.Fatal("expected error for incomplete checkpoint")
	}
	if !strings.Contains(err.Error(), "conv_block.0.weight") {
		t.Errorf("error should name the first missing parameter, got: %v", err)
	}
}

func TestLoadCRNNShapeMismatch(t *testing.T) {
	ck := &Checkpoint{Params: map[string]Param{
		// Present but the wrong size.
		"conv_block.0.weight": {Shape: []int{2}, Data: []float64{1, 2}},
	}}

	_, err := LoadCRNN(ck)
	if err == nil {
		t.Fatal("expected error for shape mismatch")
	}
	if !strings.Contains(err.Error(), "conv_block.0.weight") {
		t.Errorf("error should name the offending parameter, got: %v", err)
	}
}
