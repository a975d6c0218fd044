package progress

import (
	"fmt"
	"io"
	"time"
)

// Stage represents a processing stage
type Stage struct {
	Name        string
	Percent     int
	Description string
}

// Predefined stages in pipeline order. Percentages are the completion level
// reported when the stage begins; they only ever increase.
var (
	StageValidate = Stage{"validating", 5, "Validating input audio..."}
	StageFeatures = Stage{"extracting_features", 20, "Extracting mel spectrogram features..."}
	StageInfer    = Stage{"running_model", 45, "Running transcription model..."}
	StageEvents   = Stage{"extracting_notes", 75, "Extracting note events..."}
	StageEncode   = Stage{"generating_output", 90, "Writing MIDI output..."}
	StageDone     = Stage{"done", 100, "Done"}
	StageFailed   = Stage{"failed", 100, "Failed"}
)

// Snapshot is an immutable progress record emitted by the pipeline.
// Consumers persist or stream these; the pipeline never mutates shared state.
type Snapshot struct {
	Stage   string    `json:"stage"`
	Percent int       `json:"percent"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Sink receives progress snapshots. Implementations must not block for long;
// the pipeline calls them inline between stages.
type Sink func(Snapshot)

// Reporter handles progress output and snapshot emission
type Reporter struct {
	out        io.Writer
	sink       Sink
	startTime  time.Time
	lastPct    int
	verbose    bool
	stageCount int
}

// NewReporter creates a new progress reporter. out may be nil for silent
// operation; sink may be nil when no caller is polling.
func NewReporter(out io.Writer, sink Sink, verbose bool) *Reporter {
	return &Reporter{
		out:       out,
		sink:      sink,
		startTime: time.Now(),
		verbose:   verbose,
	}
}

// StartStage announces the beginning of a processing stage
func (r *Reporter) StartStage(stage Stage) {
	r.stageCount++
	if r.out != nil {
		fmt.Fprintf(r.out, "[%d] %s\n", r.stageCount, stage.Description)
	}
	r.emit(stage, stage.Description)
}

// StageComplete shows a completion message for the current stage
func (r *Reporter) StageComplete(format string, args ...any) {
	if r.out != nil {
		fmt.Fprintf(r.out, "    %s\n", fmt.Sprintf(format, args...))
	}
}

// Update shows a sub-progress message within a stage
func (r *Reporter) Update(format string, args ...any) {
	if r.verbose && r.out != nil {
		fmt.Fprintf(r.out, "    %s\n", fmt.Sprintf(format, args...))
	}
}

// Warning announces a non-fatal warning
func (r *Reporter) Warning(format string, args ...any) {
	if r.out != nil {
		fmt.Fprintf(r.out, "Warning: %s\n", fmt.Sprintf(format, args...))
	}
}

// Done announces successful completion
func (r *Reporter) Done(outputPath string) {
	elapsed := time.Since(r.startTime)
	if r.out != nil {
		fmt.Fprintf(r.out, "Done in %.1fs", elapsed.Seconds())
		if outputPath != "" {
			fmt.Fprintf(r.out, " -> %s", outputPath)
		}
		fmt.Fprintln(r.out)
	}
	r.emit(StageDone, "Transcription complete")
}

// Failed announces a terminal failure
func (r *Reporter) Failed(err error) {
	if r.out != nil {
		fmt.Fprintf(r.out, "Error: %s\n", err)
	}
	r.emit(StageFailed, err.Error())
}

func (r *Reporter) emit(stage Stage, message string) {
	if r.sink == nil {
		return
	}
	// Percent is clamped so snapshots are monotonically non-decreasing even
	// if a stage is re-entered.
	pct := stage.Percent
	if pct < r.lastPct {
		pct = r.lastPct
	}
	r.lastPct = pct
	r.sink(Snapshot{
		Stage:   stage.Name,
		Percent: pct,
		Message: message,
		At:      time.Now(),
	})
}
