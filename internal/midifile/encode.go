// Package midifile serializes note events into standard MIDI files.
package midifile

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// DefaultTempoBPM is written as file metadata. Note timing is placed in
// wall-clock seconds, so the nominal tempo does not shift notes.
const DefaultTempoBPM = 120.0

// ticksPerQuarter is the SMF tick resolution.
const ticksPerQuarter = 480

// Note is one note to encode, with absolute times in seconds.
type Note struct {
	Pitch    int     `json:"pitch"` // MIDI note number
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Velocity int     `json:"velocity"`
}

// Encode renders notes into a single-track MIDI file with one Acoustic
// Grand Piano instrument (GM program 0). Output is deterministic for
// identical input.
func Encode(notes []Note, tempoBPM float64) ([]byte, error) {
	if tempoBPM <= 0 {
		tempoBPM = DefaultTempoBPM
	}

	type midiEvent struct {
		tick uint32
		on   bool
		key  uint8
		vel  uint8
	}

	ticks := smf.MetricTicks(ticksPerQuarter)
	events := make([]midiEvent, 0, 2*len(notes))
	for _, n := range notes {
		if n.Pitch < 0 || n.Pitch > 127 {
			return nil, fmt.Errorf("pitch %d out of MIDI range", n.Pitch)
		}
		vel := n.Velocity
		if vel < 1 {
			vel = 1
		} else if vel > 127 {
			vel = 127
		}
		start := ticks.Ticks(tempoBPM, time.Duration(n.Start*float64(time.Second)))
		end := ticks.Ticks(tempoBPM, time.Duration((n.Start+n.Duration)*float64(time.Second)))
		events = append(events,
			midiEvent{tick: start, on: true, key: uint8(n.Pitch), vel: uint8(vel)},
			midiEvent{tick: end, on: false, key: uint8(n.Pitch)},
		)
	}

	// Stable order: by tick, note-offs before note-ons so an immediate
	// re-strike of the same pitch does not collapse into a zero-length note,
	// then by key for determinism.
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].tick != events[j].tick {
			return events[i].tick < events[j].tick
		}
		if events[i].on != events[j].on {
			return !events[i].on
		}
		return events[i].key < events[j].key
	})

	var track smf.Track
	track.Add(0, smf.MetaTempo(tempoBPM))
	track.Add(0, smf.MetaInstrument("Acoustic Grand Piano"))
	track.Add(0, midi.ProgramChange(0, 0))

	last := uint32(0)
	for _, ev := range events {
		delta := ev.tick - last
		last = ev.tick
		if ev.on {
			track.Add(delta, midi.NoteOn(0, ev.key, ev.vel))
		} else {
			track.Add(delta, midi.NoteOff(0, ev.key))
		}
	}
	track.Close(0)

	s := smf.New()
	s.TimeFormat = ticks
	if err := s.Add(track); err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}

	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize midi: %w", err)
	}
	return buf.Bytes(), nil
}

// Write encodes notes and writes the MIDI file to path.
func Write(notes []Note, tempoBPM float64, path string) error {
	data, err := Encode(notes, tempoBPM)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write midi file: %w", err)
	}
	return nil
}

// DemoMelody returns the fixed fallback melody: an ascending C major scale
// spread over durationSeconds, with a small gap between notes.
func DemoMelody(durationSeconds float64) []Note {
	scale := []int{60, 62, 64, 65, 67, 69, 71, 72} // C4 to C5
	if durationSeconds <= 0 {
		durationSeconds = 5.0
	}
	step := durationSeconds / float64(len(scale))

	notes := make([]Note, 0, len(scale))
	for i, pitch := range scale {
		notes = append(notes, Note{
			Pitch:    pitch,
			Start:    float64(i) * step,
			Duration: step * 0.8,
			Velocity: 80,
		})
	}
	return notes
}
