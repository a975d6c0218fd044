package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestReporterSnapshots(t *testing.T) {
	var snaps []Snapshot
	r := NewReporter(nil, func(s Snapshot) { snaps = append(snaps, s) }, false)

	r.StartStage(StageValidate)
	r.StartStage(StageFeatures)
	r.StartStage(StageInfer)
	r.Done("out.mid")

	if len(snaps) != 4 {
		t.Fatalf("got %d snapshots, want 4", len(snaps))
	}
	if snaps[0].Stage != "validating" || snaps[0].Percent != 5 {
		t.Errorf("first snapshot = %+v", snaps[0])
	}
	if snaps[3].Stage != "done" || snaps[3].Percent != 100 {
		t.Errorf("final snapshot = %+v", snaps[3])
	}

	last := 0
	for _, s := range snaps {
		if s.Percent < last {
			t.Fatalf("percent went backwards: %d after %d", s.Percent, last)
		}
		last = s.Percent
	}
}

func TestReporterClampsRegression(t *testing.T) {
	var snaps []Snapshot
	r := NewReporter(nil, func(s Snapshot) { snaps = append(snaps, s) }, false)

	// Re-entering an earlier stage must not lower the reported percent.
	r.StartStage(StageInfer)
	r.StartStage(StageValidate)

	if snaps[1].Percent != StageInfer.Percent {
		t.Errorf("regressed to %d, want clamp at %d", snaps[1].Percent, StageInfer.Percent)
	}
}

func TestReporterOutput(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, nil, false)

	r.StartStage(StageValidate)
	r.StageComplete("valid input: %.1fs", 6.5)
	r.Warning("something odd")
	r.Done("out.mid")

	out := buf.String()
	for _, want := range []string{"[1]", "Validating", "valid input: 6.5s", "Warning: something odd", "out.mid"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestReporterFailed(t *testing.T) {
	var snaps []Snapshot
	r := NewReporter(nil, func(s Snapshot) { snaps = append(snaps, s) }, false)

	r.StartStage(StageValidate)
	r.Failed(errors.New("boom"))

	final := snaps[len(snaps)-1]
	if final.Stage != "failed" || final.Message != "boom" {
		t.Errorf("final snapshot = %+v", final)
	}
}

func TestReporterNilSinkAndOutput(t *testing.T) {
	// Must not panic with neither writer nor sink.
	r := NewReporter(nil, nil, true)
	r.StartStage(StageValidate)
	r.Update("details")
	r.Done("")
}
