package model

import (
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/dygy/midi-scribe/internal/features"
)

// InferenceConfig tunes how long inputs are windowed during inference.
type InferenceConfig struct {
	// WindowSeconds bounds the input length per model pass.
	WindowSeconds float64
	// Workers caps concurrent chunk inference. 1 runs chunks sequentially.
	Workers int
}

// DefaultInferenceConfig returns the standard inference settings.
func DefaultInferenceConfig() InferenceConfig {
	return InferenceConfig{
		WindowSeconds: features.DefaultWindowSeconds,
		Workers:       1,
	}
}

// InferenceContext bundles a loaded model with its inference settings. It is
// constructed once and passed explicitly; the weights are read-only after
// construction, so a single context may serve concurrent transcriptions.
type InferenceContext struct {
	model  *CRNN
	config InferenceConfig

	// Trained reports whether real weights were loaded; false means the
	// model runs with random initialization.
	Trained bool
}

// NewInferenceContext loads weights from weightsPath and wraps them for
// inference. A missing or unreadable weight file is not fatal: the model
// falls back to deterministic random initialization so the pipeline stays
// serviceable, and the degradation is logged distinctly.
func NewInferenceContext(weightsPath string, cfg InferenceConfig, logger *slog.Logger) (*InferenceContext, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = features.DefaultWindowSeconds
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	if weightsPath != "" {
		ck, err := LoadCheckpoint(weightsPath)
		if err == nil {
			m, loadErr := LoadCRNN(ck)
			if loadErr == nil {
				logger.Info("model weights loaded",
					slog.String("path", weightsPath),
					slog.String("variant", m.Variant().String()))
				return &InferenceContext{model: m, config: cfg, Trained: true}, nil
			}
			err = loadErr
		}
		logger.Warn("weight load failed, using untrained model", slog.Any("error", err))
	} else {
		logger.Warn("no weight file configured, using untrained model")
	}

	return &InferenceContext{model: NewCRNN(VariantDirect), config: cfg}, nil
}

// Model exposes the underlying network.
func (ic *InferenceContext) Model() *CRNN {
	return ic.model
}

// Infer runs the model over a full-length feature matrix, windowing long
// inputs internally. The returned logits always span exactly the input's
// time axis: per-chunk outputs are concatenated in chunk order, never by
// completion order.
func (ic *InferenceContext) Infer(feat *mat.Dense) (*mat.Dense, error) {
	chunks := features.Chunk(feat, ic.config.WindowSeconds)
	if len(chunks) == 1 {
		return ic.model.Forward(chunks[0])
	}

	outputs := make([]*mat.Dense, len(chunks))
	var g errgroup.Group
	g.SetLimit(ic.config.Workers)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			out, err := ic.model.Forward(chunk)
			if err != nil {
				return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return features.ConcatTime(outputs), nil
}
