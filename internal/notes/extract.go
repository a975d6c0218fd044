// Package notes converts per-pitch activation curves into discrete note
// events via thresholding and run-length analysis.
package notes

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/dygy/midi-scribe/internal/features"
	"github.com/dygy/midi-scribe/internal/model"
)

// Event is one detected note.
type Event struct {
	Pitch      int `json:"pitch"` // MIDI note number, 21..108
	StartFrame int `json:"start_frame"`
	EndFrame   int `json:"end_frame"`
	Velocity   int `json:"velocity"`
}

// Start returns the onset time in seconds.
func (e Event) Start() float64 {
	return float64(e.StartFrame) * features.FrameDuration
}

// End returns the offset time in seconds.
func (e Event) End() float64 {
	return float64(e.EndFrame) * features.FrameDuration
}

// Options controls event extraction.
type Options struct {
	// Threshold on note probability; comparison is strict, so a value
	// exactly at the threshold counts as inactive.
	Threshold float64
	// MinDurationFrames discards activations shorter than this many frames.
	MinDurationFrames int
	// Velocity assigned to every emitted note.
	Velocity int
}

// DefaultOptions returns the standard extraction settings.
func DefaultOptions() Options {
	return Options{
		Threshold:         0.5,
		MinDurationFrames: 3,
		Velocity:          64,
	}
}

// Extract converts raw logits (model.NumPitches x T) into note events. Each
// pitch row is processed independently; chords are simply simultaneous
// events. Events are ordered by pitch, then onset.
func Extract(logits *mat.Dense, opts Options) ([]Event, error) {
	pitches, frames := logits.Dims()
	if pitches != model.NumPitches {
		return nil, fmt.Errorf("expected %d pitch rows, got %d", model.NumPitches, pitches)
	}

	var events []Event
	active := make([]bool, frames)
	for p := 0; p < pitches; p++ {
		for t := 0; t < frames; t++ {
			prob := 1.0 / (1.0 + math.Exp(-logits.At(p, t)))
			active[t] = prob > opts.Threshold
		}

		for _, run := range activeRuns(active) {
			if run.end-run.start < opts.MinDurationFrames {
				continue
			}
			events = append(events, Event{
				Pitch:      model.MinMIDINote + p,
				StartFrame: run.start,
				EndFrame:   run.end,
				Velocity:   opts.Velocity,
			})
		}
	}
	return events, nil
}

type run struct {
	start, end int
}

// activeRuns finds (onset, offset) frame pairs from a boolean activity
// vector. A row active at frame 0 gets an onset there; a row active at the
// final frame gets an offset at the vector length, so trailing notes are not
// dropped. Onsets and offsets are paired chronologically.
func activeRuns(active []bool) []run {
	if len(active) == 0 {
		return nil
	}

	var onsets, offsets []int
	if active[0] {
		onsets = append(onsets, 0)
	}
	for t := 1; t < len(active); t++ {
		if active[t] && !active[t-1] {
			onsets = append(onsets, t)
		} else if !active[t] && active[t-1] {
			offsets = append(offsets, t)
		}
	}
	if active[len(active)-1] {
		offsets = append(offsets, len(active))
	}

	n := len(onsets)
	if len(offsets) < n {
		n = len(offsets)
	}
	runs := make([]run, 0, n)
	for i := 0; i < n; i++ {
		runs = append(runs, run{start: onsets[i], end: offsets[i]})
	}
	return runs
}
