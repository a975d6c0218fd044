package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func testCache(t *testing.T) *ResultCache {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	c, err := NewResultCache()
	if err != nil {
		t.Fatalf("NewResultCache: %v", err)
	}
	return c
}

func writeArtifact(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

func TestPutGetRoundTrip(t *testing.T) {
	c := testCache(t)
	dir := t.TempDir()
	midi := writeArtifact(t, dir, "out.mid", "MThd-fake")
	rep := writeArtifact(t, dir, "out.report.json", "{}")

	cached, err := c.Put("abc123", midi, rep, false)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if cached == nil {
		t.Fatal("Put returned nil for a non-fallback result")
	}

	got, ok := c.Get("abc123")
	if !ok {
		t.Fatal("Get missed a freshly stored entry")
	}
	data, err := os.ReadFile(got.MIDIPath)
	if err != nil {
		t.Fatalf("read cached midi: %v", err)
	}
	if string(data) != "MThd-fake" {
		t.Errorf("cached midi content = %q", data)
	}
	if got.ReportPath == "" {
		t.Error("report path missing from cache entry")
	}
}

func TestGetMiss(t *testing.T) {
	c := testCache(t)
	if _, ok := c.Get("nothere"); ok {
		t.Error("Get returned a hit for an empty cache")
	}
}

func TestFallbackNotCached(t *testing.T) {
	c := testCache(t)
	midi := writeArtifact(t, t.TempDir(), "out.mid", "demo")

	cached, err := c.Put("demo-key", midi, "", true)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if cached != nil {
		t.Error("fallback results must not be cached")
	}
	if _, ok := c.Get("demo-key"); ok {
		t.Error("fallback entry is retrievable")
	}
}

func TestGetRejectsMissingArtifact(t *testing.T) {
	c := testCache(t)
	midi := writeArtifact(t, t.TempDir(), "out.mid", "x")

	cached, err := c.Put("gone", midi, "", false)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	os.Remove(cached.MIDIPath)

	if _, ok := c.Get("gone"); ok {
		t.Error("Get returned an entry whose artifact was deleted")
	}
}

func TestKeyForFile(t *testing.T) {
	dir := t.TempDir()
	a := writeArtifact(t, dir, "a.wav", "same content")
	b := writeArtifact(t, dir, "b.wav", "same content")
	other := writeArtifact(t, dir, "c.wav", "different content")

	ka, err := KeyForFile(a)
	if err != nil {
		t.Fatalf("KeyForFile: %v", err)
	}
	kb, _ := KeyForFile(b)
	kc, _ := KeyForFile(other)

	if ka != kb {
		t.Error("identical content produced different keys")
	}
	if ka == kc {
		t.Error("different content produced the same key")
	}
	if len(ka) != 16 {
		t.Errorf("key length = %d, want 16", len(ka))
	}

	if _, err := KeyForFile(filepath.Join(dir, "missing.wav")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestKeyForURL(t *testing.T) {
	a := KeyForURL("https://youtu.be/abc")
	b := KeyForURL("https://youtu.be/abc")
	c := KeyForURL("https://youtu.be/xyz")
	if a != b || a == c || len(a) != 16 {
		t.Errorf("url keys: %q %q %q", a, b, c)
	}
}
