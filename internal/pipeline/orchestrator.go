// Package pipeline sequences the transcription stages for one input file:
// decode and standardize, extract mel features, run the model (windowed for
// long inputs), extract note events and encode MIDI. Failures after
// validation degrade to a demo MIDI artifact instead of a hard error.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dygy/midi-scribe/internal/audio"
	apperrors "github.com/dygy/midi-scribe/internal/errors"
	toolexec "github.com/dygy/midi-scribe/internal/exec"
	"github.com/dygy/midi-scribe/internal/features"
	"github.com/dygy/midi-scribe/internal/midifile"
	"github.com/dygy/midi-scribe/internal/model"
	"github.com/dygy/midi-scribe/internal/notes"
	"github.com/dygy/midi-scribe/internal/progress"
	"github.com/dygy/midi-scribe/internal/report"
	"github.com/dygy/midi-scribe/internal/workspace"
)

// State is a transcription run's position in the stage machine.
type State string

const (
	StateReceived           State = "received"
	StateValidating         State = "validating"
	StateExtractingFeatures State = "extracting_features"
	StateInferring          State = "inferring"
	StateExtractingEvents   State = "extracting_events"
	StateEncodingMidi       State = "encoding_midi"
	StateCompleted          State = "completed"
	StateFailed             State = "failed"
	// StateFallbackCompleted means the run failed after validation and the
	// demo artifact was produced instead.
	StateFallbackCompleted State = "fallback_completed"
)

// Config holds pipeline configuration
type Config struct {
	WeightsPath   string
	Threshold     float64
	MinNoteFrames int
	Velocity      int
	TempoBPM      float64
	WindowSeconds float64
	ChunkWorkers  int
	// MaxDuration rejects overly long inputs before inference. Zero
	// disables the gate.
	MaxDuration time.Duration
	FFmpegPath  string
	YtDlpPath   string
	Verbose     bool
}

// DefaultConfig returns default pipeline configuration
func DefaultConfig() Config {
	return Config{
		Threshold:     0.5,
		MinNoteFrames: 3,
		Velocity:      64,
		TempoBPM:      midifile.DefaultTempoBPM,
		WindowSeconds: features.DefaultWindowSeconds,
		ChunkWorkers:  1,
		MaxDuration:   10 * time.Minute,
	}
}

// Result describes the outcome of one transcription run. Fallback results
// carry the original failure so callers can distinguish a real transcription
// from the demo melody.
type Result struct {
	State          State
	MIDIPath       string
	ReportPath     string
	NoteCount      int
	Duration       float64 // input length, seconds
	Trained        bool
	Fallback       bool
	FallbackReason string
	Summary        *report.Summary
	Elapsed        time.Duration
}

// Orchestrator coordinates the transcription pipeline. The model is loaded
// lazily on first use and then shared read-only across concurrent runs;
// all other per-run state is owned by each Transcribe call.
type Orchestrator struct {
	cfg     Config
	runner  *toolexec.Runner
	decoder *audio.Decoder
	logger  *slog.Logger
	out     io.Writer

	modelOnce sync.Once
	inference *model.InferenceContext
}

// NewOrchestrator creates a pipeline orchestrator. out receives human
// readable stage output and may be nil.
func NewOrchestrator(cfg Config, out io.Writer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	runner := toolexec.NewRunner(cfg.FFmpegPath, cfg.YtDlpPath)
	return &Orchestrator{
		cfg:     cfg,
		runner:  runner,
		decoder: audio.NewDecoder(runner),
		logger:  logger,
		out:     out,
	}
}

// Runner exposes the shared external tool runner.
func (o *Orchestrator) Runner() *toolexec.Runner {
	return o.runner
}

// Model returns the shared inference context, loading weights on first use.
// Initialization cannot fail: a missing weight file degrades to an untrained
// model, which is reported distinctly in logs and results.
func (o *Orchestrator) Model() *model.InferenceContext {
	o.modelOnce.Do(func() {
		ic, err := model.NewInferenceContext(o.cfg.WeightsPath, model.InferenceConfig{
			WindowSeconds: o.cfg.WindowSeconds,
			Workers:       o.cfg.ChunkWorkers,
		}, o.logger)
		if err != nil {
			ic, _ = model.NewInferenceContext("", model.DefaultInferenceConfig(), o.logger)
		}
		o.inference = ic
	})
	return o.inference
}

// Transcribe runs the full pipeline on inputPath and writes the MIDI
// artifact to outputPath, with a JSON report alongside. sink receives
// progress snapshots and may be nil.
//
// Validation failures (missing file, undecodable audio, too short, too
// long) return an error with no artifact. Any later failure produces the
// demo melody instead, with Result.Fallback set and the cause preserved.
func (o *Orchestrator) Transcribe(ctx context.Context, inputPath, outputPath string, sink progress.Sink) (*Result, error) {
	reporter := progress.NewReporter(o.out, sink, o.cfg.Verbose)
	start := time.Now()
	result := &Result{State: StateReceived, MIDIPath: outputPath}

	// Validation gate: fail fast before any heavy computation.
	result.State = StateValidating
	reporter.StartStage(progress.StageValidate)

	format, err := audio.ValidateInput(inputPath)
	if err != nil {
		result.State = StateFailed
		reporter.Failed(err)
		return result, err
	}

	ws, err := workspace.Create()
	if err != nil {
		result.State = StateFailed
		reporter.Failed(err)
		return result, err
	}
	defer ws.Cleanup()

	signal, err := o.decoder.Load(ctx, inputPath, ws.Dir)
	if err != nil {
		result.State = StateFailed
		reporter.Failed(err)
		return result, err
	}

	duration := float64(len(signal)) / audio.TargetSampleRate
	result.Duration = duration
	if duration < features.MinSeconds {
		err := fmt.Errorf("%w: %.1fs (minimum %.0fs)", apperrors.ErrAudioTooShort, duration, features.MinSeconds)
		result.State = StateFailed
		reporter.Failed(err)
		return result, err
	}
	if o.cfg.MaxDuration > 0 && duration > o.cfg.MaxDuration.Seconds() {
		err := fmt.Errorf("%w: %.1fs (maximum %.0fs)", apperrors.ErrAudioTooLong, duration, o.cfg.MaxDuration.Seconds())
		result.State = StateFailed
		reporter.Failed(err)
		return result, err
	}
	reporter.StageComplete("Valid %s input: %.1fs at %dHz mono", format, duration, audio.TargetSampleRate)

	// Feature extraction.
	result.State = StateExtractingFeatures
	reporter.StartStage(progress.StageFeatures)
	feat, err := features.NewExtractor().Extract(signal)
	if err != nil {
		return o.fallback(reporter, result, outputPath,
			apperrors.NewStageError(apperrors.StageFeatures, err))
	}
	_, frames := feat.Dims()
	reporter.StageComplete("Extracted %d mel bins x %d frames", features.NumMels, frames)

	// Inference. Windowing for long inputs happens inside the context; the
	// output always spans the full input timeline.
	result.State = StateInferring
	reporter.StartStage(progress.StageInfer)
	ic := o.Model()
	result.Trained = ic.Trained
	if !ic.Trained {
		reporter.Warning("model is untrained (no weight file); output will not be musically meaningful")
	}
	logits, err := ic.Infer(feat)
	if err != nil {
		return o.fallback(reporter, result, outputPath,
			apperrors.NewStageError(apperrors.StageInference, err))
	}
	if _, got := logits.Dims(); got != frames {
		return o.fallback(reporter, result, outputPath,
			apperrors.NewStageError(apperrors.StageInference,
				fmt.Errorf("activation frames %d != feature frames %d", got, frames)))
	}
	reporter.StageComplete("Model produced %d x %d activations", model.NumPitches, frames)

	// Note event extraction.
	result.State = StateExtractingEvents
	reporter.StartStage(progress.StageEvents)
	events, err := notes.Extract(logits, notes.Options{
		Threshold:         o.cfg.Threshold,
		MinDurationFrames: o.cfg.MinNoteFrames,
		Velocity:          o.cfg.Velocity,
	})
	if err != nil {
		return o.fallback(reporter, result, outputPath,
			apperrors.NewStageError(apperrors.StageEventExtraction, err))
	}
	reporter.StageComplete("Extracted %d note events", len(events))

	// MIDI encoding.
	result.State = StateEncodingMidi
	reporter.StartStage(progress.StageEncode)
	midiNotes := make([]midifile.Note, 0, len(events))
	for _, ev := range events {
		midiNotes = append(midiNotes, midifile.Note{
			Pitch:    ev.Pitch,
			Start:    ev.Start(),
			Duration: ev.End() - ev.Start(),
			Velocity: ev.Velocity,
		})
	}
	if err := midifile.Write(midiNotes, o.cfg.TempoBPM, outputPath); err != nil {
		return o.fallback(reporter, result, outputPath,
			apperrors.NewStageError(apperrors.StageEncoding, err))
	}

	summary := report.Summarize(logits, events)
	result.Summary = summary
	result.ReportPath = reportPath(outputPath)
	if err := summary.WriteJSON(result.ReportPath); err != nil {
		reporter.Warning("report write failed: %v", err)
		result.ReportPath = ""
	}

	result.State = StateCompleted
	result.NoteCount = len(events)
	result.Elapsed = time.Since(start)
	reporter.Done(outputPath)
	return result, nil
}

// fallback substitutes the demo melody after a post-validation failure so
// the caller still receives a playable artifact. The original error is
// preserved on the result; only a failed fallback surfaces as an error.
func (o *Orchestrator) fallback(reporter *progress.Reporter, result *Result, outputPath string, cause *apperrors.StageError) (*Result, error) {
	o.logger.Error("pipeline stage failed",
		slog.String("stage", string(cause.Stage)),
		slog.Any("error", cause.Cause))
	reporter.Warning("%s failed, generating demo output: %v", cause.Stage, cause.Cause)

	demo := midifile.DemoMelody(8.0)
	if err := midifile.Write(demo, o.cfg.TempoBPM, outputPath); err != nil {
		result.State = StateFailed
		reporter.Failed(cause)
		return result, fmt.Errorf("fallback encode after %v: %w", cause, err)
	}

	summary := report.FallbackSummary(len(demo), cause.Error())
	result.ReportPath = reportPath(outputPath)
	if err := summary.WriteJSON(result.ReportPath); err != nil {
		result.ReportPath = ""
	}

	result.State = StateFallbackCompleted
	result.Fallback = true
	result.FallbackReason = cause.Error()
	result.NoteCount = len(demo)
	result.Summary = summary
	reporter.Done(outputPath)
	return result, nil
}

func reportPath(midiPath string) string {
	if strings.HasSuffix(midiPath, ".mid") {
		return strings.TrimSuffix(midiPath, ".mid") + ".report.json"
	}
	return midiPath + ".report.json"
}
