package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dygy/midi-scribe/internal/audio"
	"github.com/dygy/midi-scribe/internal/cache"
	"github.com/dygy/midi-scribe/internal/config"
	"github.com/dygy/midi-scribe/internal/pipeline"
	"github.com/dygy/midi-scribe/internal/server"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "midi-scribe",
	Short: "Transcribe piano audio to MIDI",
	Long: `midi-scribe converts piano recordings into MIDI files using a
neural transcription model.

Pipeline: audio → mel spectrogram → CRNN inference → note events → MIDI`,
	Version: version,
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe",
	Short: "Transcribe an audio file or YouTube URL to MIDI",
	Long: `Transcribe a piano recording into a MIDI file.

Examples:
  midi-scribe transcribe --input recording.wav
  midi-scribe transcribe -i song.mp3 -o song.mid --weights model.gob
  midi-scribe transcribe --url "https://youtube.com/watch?v=..." -o out.mid`,
	RunE: runTranscribe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web interface",
	Long: `Start the web interface for uploading audio files or pasting
YouTube URLs.

Example:
  midi-scribe serve --port 8080`,
	RunE: runServe,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Show result cache location",
	RunE:  runCache,
}

var (
	// transcribe flags
	inputPath     string
	inputURL      string
	outputPath    string
	weightsPath   string
	threshold     float64
	minNoteFrames int
	noteVelocity  int
	tempoBPM      float64
	chunkWorkers  int
	noCache       bool
	verbose       bool

	// serve flags
	port int

	// shared
	configPath string
)

func init() {
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cacheCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (YAML)")

	transcribeCmd.Flags().StringVarP(&inputPath, "input", "i", "", "Input audio file (WAV, MP3, FLAC, OGG, M4A or video)")
	transcribeCmd.Flags().StringVarP(&inputURL, "url", "u", "", "YouTube URL to transcribe")
	transcribeCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output MIDI path (default: input name with .mid)")
	transcribeCmd.Flags().StringVarP(&weightsPath, "weights", "w", "", "Model weights file")
	transcribeCmd.Flags().Float64VarP(&threshold, "threshold", "t", 0.5, "Note activation threshold (0..1)")
	transcribeCmd.Flags().IntVar(&minNoteFrames, "min-frames", 3, "Minimum note duration in frames")
	transcribeCmd.Flags().IntVar(&noteVelocity, "velocity", 64, "MIDI velocity for transcribed notes (1-127)")
	transcribeCmd.Flags().Float64Var(&tempoBPM, "tempo", 120, "Tempo metadata written to the MIDI file")
	transcribeCmd.Flags().IntVar(&chunkWorkers, "workers", 1, "Parallel inference workers for long inputs")
	transcribeCmd.Flags().BoolVar(&noCache, "no-cache", false, "Skip the result cache")
	transcribeCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	serveCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
}

// loadPipelineConfig merges the config file (when given) with command flags.
// Flags the user set explicitly win over file values.
func loadPipelineConfig(cmd *cobra.Command) (pipeline.Config, error) {
	fileCfg, err := config.Load(configPath)
	if err != nil {
		return pipeline.Config{}, err
	}
	cfg := fileCfg.Pipeline()

	if cmd.Flags().Changed("weights") {
		cfg.WeightsPath = weightsPath
	}
	if cmd.Flags().Changed("threshold") {
		cfg.Threshold = threshold
	}
	if cmd.Flags().Changed("min-frames") {
		cfg.MinNoteFrames = minNoteFrames
	}
	if cmd.Flags().Changed("velocity") {
		cfg.Velocity = noteVelocity
	}
	if cmd.Flags().Changed("tempo") {
		cfg.TempoBPM = tempoBPM
	}
	if cmd.Flags().Changed("workers") {
		cfg.ChunkWorkers = chunkWorkers
	}
	cfg.Verbose = verbose
	return cfg, nil
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	if inputPath == "" && inputURL == "" {
		return fmt.Errorf("either --input or --url is required")
	}
	if threshold <= 0 || threshold >= 1 {
		return fmt.Errorf("invalid threshold: %g (must be between 0 and 1)", threshold)
	}
	if noteVelocity < 1 || noteVelocity > 127 {
		return fmt.Errorf("invalid velocity: %d (must be 1-127)", noteVelocity)
	}

	cfg, err := loadPipelineConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
		cancel()
	}()

	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	orch := pipeline.NewOrchestrator(cfg, os.Stdout, logger)

	// URL input downloads first.
	actualInput := inputPath
	var cacheKey string
	if inputURL != "" {
		if !audio.IsYouTubeURL(inputURL) {
			return fmt.Errorf("invalid YouTube URL: %s", inputURL)
		}
		cacheKey = cache.KeyForURL(inputURL)

		tempDir, err := os.MkdirTemp("", "midi-scribe-*")
		if err != nil {
			return fmt.Errorf("create temp dir: %w", err)
		}
		defer os.RemoveAll(tempDir)

		downloader := audio.NewYouTubeDownloader(orch.Runner())
		fmt.Println("Downloading audio from YouTube...")
		dlCtx, dlCancel := context.WithTimeout(ctx, 5*time.Minute)
		actualInput, err = downloader.Download(dlCtx, inputURL, tempDir)
		dlCancel()
		if err != nil {
			return fmt.Errorf("download failed: %w", err)
		}
	} else if key, err := cache.KeyForFile(inputPath); err == nil {
		cacheKey = key
	}

	output := outputPath
	if output == "" {
		output = defaultOutputPath(actualInput, inputURL)
	}

	// Served from cache when possible.
	if !noCache && cacheKey != "" {
		if resultCache, err := cache.NewResultCache(); err == nil {
			if cached, ok := resultCache.Get(cacheKey); ok {
				if err := cache.CopyFile(cached.MIDIPath, output); err == nil {
					fmt.Printf("Using cached result: %s\n", output)
					return nil
				}
			}
		}
	}

	result, err := orch.Transcribe(ctx, actualInput, output, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}

	if result.Fallback {
		fmt.Printf("\nTranscription failed (%s), demo melody written to %s\n", result.FallbackReason, result.MIDIPath)
		return nil
	}

	if !noCache && cacheKey != "" {
		if resultCache, err := cache.NewResultCache(); err == nil {
			resultCache.Put(cacheKey, result.MIDIPath, result.ReportPath, false)
		}
	}

	fmt.Printf("\n%d notes transcribed in %.1fs\n", result.NoteCount, result.Elapsed.Seconds())
	fmt.Printf("MIDI:   %s\n", result.MIDIPath)
	fmt.Printf("Report: %s\n", result.ReportPath)
	if !result.Trained {
		fmt.Println("Note: no trained weights were loaded, output is from an untrained model.")
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadPipelineConfig(cmd)
	if err != nil {
		return err
	}

	fileCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("port") && fileCfg.Server.Port != 0 {
		port = fileCfg.Server.Port
	}

	srv, err := server.New(server.Config{Port: port, Pipeline: cfg})
	if err != nil {
		return err
	}
	return srv.Run()
}

func runCache(cmd *cobra.Command, args []string) error {
	resultCache, err := cache.NewResultCache()
	if err != nil {
		return err
	}
	fmt.Println(resultCache.Dir())
	return nil
}

// defaultOutputPath derives a MIDI path next to the input file, or a local
// one for URL inputs.
func defaultOutputPath(input, url string) string {
	if url != "" {
		return "transcription.mid"
	}
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + ".mid"
}
