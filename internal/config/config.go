// Package config loads server and pipeline settings from an optional YAML
// file, with flag-friendly defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dygy/midi-scribe/internal/pipeline"
)

// Config is the top-level configuration file layout.
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Model struct {
		WeightsPath   string  `yaml:"weights_path"`
		WindowSeconds float64 `yaml:"window_seconds"`
		ChunkWorkers  int     `yaml:"chunk_workers"`
	} `yaml:"model"`

	Transcription struct {
		Threshold     float64 `yaml:"threshold"`
		MinNoteFrames int     `yaml:"min_note_frames"`
		Velocity      int     `yaml:"velocity"`
		TempoBPM      float64 `yaml:"tempo_bpm"`
	} `yaml:"transcription"`

	Limits struct {
		MaxDurationSeconds int `yaml:"max_duration_seconds"`
	} `yaml:"limits"`

	Tools struct {
		FFmpegPath string `yaml:"ffmpeg_path"`
		YtDlpPath  string `yaml:"ytdlp_path"`
	} `yaml:"tools"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080

	p := pipeline.DefaultConfig()
	cfg.Model.WindowSeconds = p.WindowSeconds
	cfg.Model.ChunkWorkers = p.ChunkWorkers
	cfg.Transcription.Threshold = p.Threshold
	cfg.Transcription.MinNoteFrames = p.MinNoteFrames
	cfg.Transcription.Velocity = p.Velocity
	cfg.Transcription.TempoBPM = p.TempoBPM
	cfg.Limits.MaxDurationSeconds = int(p.MaxDuration.Seconds())
	return cfg
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Pipeline converts the file layout into a pipeline configuration.
func (c *Config) Pipeline() pipeline.Config {
	p := pipeline.DefaultConfig()
	p.WeightsPath = c.Model.WeightsPath
	if c.Model.WindowSeconds > 0 {
		p.WindowSeconds = c.Model.WindowSeconds
	}
	if c.Model.ChunkWorkers > 0 {
		p.ChunkWorkers = c.Model.ChunkWorkers
	}
	if c.Transcription.Threshold > 0 {
		p.Threshold = c.Transcription.Threshold
	}
	if c.Transcription.MinNoteFrames > 0 {
		p.MinNoteFrames = c.Transcription.MinNoteFrames
	}
	if c.Transcription.Velocity > 0 {
		p.Velocity = c.Transcription.Velocity
	}
	if c.Transcription.TempoBPM > 0 {
		p.TempoBPM = c.Transcription.TempoBPM
	}
	if c.Limits.MaxDurationSeconds > 0 {
		p.MaxDuration = time.Duration(c.Limits.MaxDurationSeconds) * time.Second
	}
	p.FFmpegPath = c.Tools.FFmpegPath
	p.YtDlpPath = c.Tools.YtDlpPath
	return p
}
