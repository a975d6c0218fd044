package midifile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"gitlab.com/gomidi/midi/v2/smf"
)

func TestEncodeHeader(t *testing.T) {
	data, err := Encode([]Note{{Pitch: 60, Start: 0, Duration: 1, Velocity: 64}}, DefaultTempoBPM)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("MThd")) {
		t.Error("output does not start with an SMF header")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	notes := []Note{
		{Pitch: 60, Start: 3.2, Duration: 3.2, Velocity: 64},
		{Pitch: 64, Start: 0.0, Duration: 1.0, Velocity: 100},
	}

	data, err := Encode(notes, DefaultTempoBPM)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	parsed, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("reading back encoded file: %v", err)
	}
	if len(parsed.Tracks) != 1 {
		t.Fatalf("got %d tracks, want 1", len(parsed.Tracks))
	}

	var ons, offs int
	for _, ev := range parsed.Tracks[0] {
		var ch, key, vel uint8
		if ev.Message.GetNoteStart(&ch, &key, &vel) {
			ons++
		} else if ev.Message.GetNoteEnd(&ch, &key) {
			offs++
		}
	}
	if ons != 2 || offs != 2 {
		t.Errorf("got %d note-ons and %d note-offs, want 2 each", ons, offs)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	notes := []Note{
		{Pitch: 67, Start: 0.5, Duration: 0.25, Velocity: 64},
		{Pitch: 60, Start: 0.5, Duration: 0.25, Velocity: 64},
		{Pitch: 64, Start: 0.0, Duration: 0.75, Velocity: 64},
	}

	a, err := Encode(notes, DefaultTempoBPM)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := Encode(notes, DefaultTempoBPM)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("identical input produced different bytes")
	}
}

func TestEncodeRejectsBadPitch(t *testing.T) {
	if _, err := Encode([]Note{{Pitch: 200, Start: 0, Duration: 1, Velocity: 64}}, DefaultTempoBPM); err == nil {
		t.Error("expected error for out-of-range pitch")
	}
}

func TestEncodeClampsVelocity(t *testing.T) {
	_, err := Encode([]Note{
		{Pitch: 60, Start: 0, Duration: 1, Velocity: 0},
		{Pitch: 62, Start: 1, Duration: 1, Velocity: 300},
	}, DefaultTempoBPM)
	if err != nil {
		t.Errorf("out-of-range velocity should clamp, got error: %v", err)
	}
}

func TestWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mid")
	if err := Write(DemoMelody(8.0), DefaultTempoBPM, path); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(data) == 0 || !bytes.HasPrefix(data, []byte("MThd")) {
		t.Error("written file is not a MIDI file")
	}
}

func TestDemoMelody(t *testing.T) {
	notes := DemoMelody(8.0)
	if len(notes) != 8 {
		t.Fatalf("got %d notes, want 8", len(notes))
	}
	if notes[0].Pitch != 60 || notes[len(notes)-1].Pitch != 72 {
		t.Errorf("scale spans %d..%d, want 60..72", notes[0].Pitch, notes[len(notes)-1].Pitch)
	}
	for i := 1; i < len(notes); i++ {
		if notes[i].Start <= notes[i-1].Start {
			t.Error("demo melody notes must ascend in time")
		}
		if notes[i].Pitch <= notes[i-1].Pitch {
			t.Error("demo melody pitches must ascend")
		}
	}
	for _, n := range notes {
		if n.Velocity != 80 {
			t.Errorf("velocity = %d, want 80", n.Velocity)
		}
	}
}
