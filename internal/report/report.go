// Package report summarizes a transcription for debugging and display.
package report

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/dygy/midi-scribe/internal/features"
	"github.com/dygy/midi-scribe/internal/notes"
)

// KeyActivity describes how often one piano key sounded.
type KeyActivity struct {
	MIDINote  int `json:"midi_note"`
	NoteCount int `json:"note_count"`
}

// Summary captures the shape of one transcription result.
type Summary struct {
	Frames          int           `json:"frames"`
	DurationSeconds float64       `json:"duration_seconds"`
	NoteCount       int           `json:"note_count"`
	ActiveKeys      int           `json:"active_keys"`
	LowestPitch     int           `json:"lowest_pitch,omitempty"`
	HighestPitch    int           `json:"highest_pitch,omitempty"`
	MaxProbability  float64       `json:"max_probability"`
	MeanProbability float64       `json:"mean_probability"`
	TopKeys         []KeyActivity `json:"top_keys,omitempty"`
	Fallback        bool          `json:"fallback"`
	FallbackReason  string        `json:"fallback_reason,omitempty"`
}

// Summarize builds a summary from raw logits and the extracted events.
func Summarize(logits *mat.Dense, events []notes.Event) *Summary {
	_, frames := logits.Dims()
	s := &Summary{
		Frames:          frames,
		DurationSeconds: float64(frames) * features.FrameDuration,
		NoteCount:       len(events),
	}

	maxP := 0.0
	sumP := 0.0
	rows, cols := logits.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			p := 1.0 / (1.0 + math.Exp(-logits.At(r, c)))
			sumP += p
			if p > maxP {
				maxP = p
			}
		}
	}
	s.MaxProbability = maxP
	if rows*cols > 0 {
		s.MeanProbability = sumP / float64(rows*cols)
	}

	perKey := make(map[int]int)
	lowest, highest := 0, 0
	for _, ev := range events {
		perKey[ev.Pitch]++
		if lowest == 0 || ev.Pitch < lowest {
			lowest = ev.Pitch
		}
		if ev.Pitch > highest {
			highest = ev.Pitch
		}
	}
	s.ActiveKeys = len(perKey)
	s.LowestPitch = lowest
	s.HighestPitch = highest

	for note, count := range perKey {
		s.TopKeys = append(s.TopKeys, KeyActivity{MIDINote: note, NoteCount: count})
	}
	sort.Slice(s.TopKeys, func(i, j int) bool {
		if s.TopKeys[i].NoteCount != s.TopKeys[j].NoteCount {
			return s.TopKeys[i].NoteCount > s.TopKeys[j].NoteCount
		}
		return s.TopKeys[i].MIDINote < s.TopKeys[j].MIDINote
	})
	if len(s.TopKeys) > 5 {
		s.TopKeys = s.TopKeys[:5]
	}
	return s
}

// FallbackSummary describes a demo-melody result.
func FallbackSummary(noteCount int, reason string) *Summary {
	return &Summary{
		NoteCount:      noteCount,
		Fallback:       true,
		FallbackReason: reason,
	}
}

// WriteJSON persists the summary next to the MIDI artifact.
func (s *Summary) WriteJSON(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
