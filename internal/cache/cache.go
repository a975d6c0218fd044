// Package cache stores finished transcription artifacts keyed by input
// content, so re-uploading the same recording (or re-submitting the same
// URL) skips the model entirely.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ResultCache manages cached transcription outputs.
type ResultCache struct {
	dir string
}

// CachedResult points at cached artifacts for one input.
type CachedResult struct {
	MIDIPath   string    `json:"midi_path"`
	ReportPath string    `json:"report_path,omitempty"`
	Fallback   bool      `json:"fallback"`
	CachedAt   time.Time `json:"cached_at"`
}

// NewResultCache creates a cache under the user cache directory.
func NewResultCache() (*ResultCache, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("locate cache dir: %w", err)
	}
	dir := filepath.Join(base, "midi-scribe")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &ResultCache{dir: dir}, nil
}

// KeyForFile derives a cache key from file contents.
func KeyForFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

// KeyForURL derives a cache key from a source URL.
func KeyForURL(url string) string {
	h := sha256.Sum256([]byte(url))
	return hex.EncodeToString(h[:])[:16]
}

// Get returns the cached result for a key, if present and intact.
func (c *ResultCache) Get(key string) (*CachedResult, bool) {
	metaPath := filepath.Join(c.dir, key, "meta.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, false
	}

	var cached CachedResult
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false
	}
	if _, err := os.Stat(cached.MIDIPath); err != nil {
		return nil, false
	}
	return &cached, true
}

// Put copies the MIDI and report artifacts into the cache under key.
// Fallback results are not cached: a later run with a healthy model should
// get the chance to produce a real transcription.
func (c *ResultCache) Put(key, midiPath, reportPath string, fallback bool) (*CachedResult, error) {
	if fallback {
		return nil, nil
	}

	entryDir := filepath.Join(c.dir, key)
	if err := os.MkdirAll(entryDir, 0755); err != nil {
		return nil, fmt.Errorf("create cache entry: %w", err)
	}

	cached := &CachedResult{
		MIDIPath: filepath.Join(entryDir, "output.mid"),
		CachedAt: time.Now(),
	}
	if err := CopyFile(midiPath, cached.MIDIPath); err != nil {
		return nil, err
	}
	if reportPath != "" {
		cached.ReportPath = filepath.Join(entryDir, "report.json")
		if err := CopyFile(reportPath, cached.ReportPath); err != nil {
			return nil, err
		}
	}

	meta, err := json.MarshalIndent(cached, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal cache meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(entryDir, "meta.json"), meta, 0644); err != nil {
		return nil, fmt.Errorf("write cache meta: %w", err)
	}
	return cached, nil
}

// Dir returns the cache root.
func (c *ResultCache) Dir() string {
	return c.dir
}

// CopyFile copies a cached artifact to dst.
func CopyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}
