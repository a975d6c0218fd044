package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/dygy/midi-scribe/internal/features"
)

// Model geometry. Weight files are trained against these values.
const (
	NumPitches = 88
	// MinMIDINote maps pitch index 0 to A0; index 87 is C8.
	MinMIDINote = 21

	lstmHidden  = 256
	convOut     = 128
	freqReduced = features.NumMels / 8 // three (2,1) pools: 128 -> 16
	lstmInput   = convOut * freqReduced
)

// Variant distinguishes the two historical checkpoint head layouts.
type Variant int

const (
	// VariantDirect maps recurrent output straight to 88 logits through a
	// single linear layer.
	VariantDirect Variant = iota
	// VariantClassifier inserts a hidden linear+ReLU stage before the output
	// projection. Kept for loading older checkpoints.
	VariantClassifier
)

func (v Variant) String() string {
	if v == VariantClassifier {
		return "classifier"
	}
	return "direct-linear"
}

// conv2d is a 3x3 same-padding convolution over (freq x time) planes.
type conv2d struct {
	w       []float64 // flat (out x in x 3 x 3)
	b       []float64
	in, out int
}

// batchNorm holds inference-mode batch normalization statistics.
type batchNorm struct {
	gamma, beta []float64
	mean, vari  []float64
}

// featureMaps is a channel-major stack of (freq x time) planes.
type featureMaps struct {
	data  [][]float64
	freq  int
	steps int
}

// CRNN is the piano transcription network: a frequency-reducing
// convolutional stack, a two-layer bidirectional LSTM, a residual projection
// of the pre-recurrent features, and a frame-wise head producing one logit
// per piano key. The time axis length is preserved end to end.
//
// A CRNN is read-only after construction and safe for concurrent inference.
type CRNN struct {
	variant Variant

	conv1, conv2, conv3 conv2d
	bn1, bn2, bn3       batchNorm

	lstm1, lstm2 lstmLayer

	res linear // lstmInput -> 2*lstmHidden

	// Direct head
	frameFC linear
	// Classifier head
	clsHidden, clsOut linear
}

// Variant reports which head layout this model carries.
func (m *CRNN) Variant() Variant {
	return m.variant
}

// Forward maps a feature window (features.NumMels x T) to raw logits
// (NumPitches x T). No sigmoid is applied; probability conversion happens at
// the event-extraction boundary. A wrong mel-bin count is a contract
// violation and fails immediately.
func (m *CRNN) Forward(window *mat.Dense) (*mat.Dense, error) {
	bins, steps := window.Dims()
	if bins != features.NumMels {
		return nil, fmt.Errorf("expected %d mel bins, got %d", features.NumMels, bins)
	}
	if steps == 0 {
		return nil, fmt.Errorf("empty feature window")
	}

	// Single input channel.
	in := featureMaps{data: make([][]float64, 1), freq: features.NumMels, steps: steps}
	in.data[0] = make([]float64, features.NumMels*steps)
	for f := 0; f < features.NumMels; f++ {
		for t := 0; t < steps; t++ {
			in.data[0][f*steps+t] = window.At(f, t)
		}
	}

	x := convStage(in, m.conv1, m.bn1) // freq 128 -> 64
	x = convStage(x, m.conv2, m.bn2)   // 64 -> 32
	x = convStage(x, m.conv3, m.bn3)   // 32 -> 16

	// Per-frame feature vectors ordered channel-major: index c*freq + f.
	seq := mat.NewDense(steps, lstmInput, nil)
	for c := 0; c < convOut; c++ {
		plane := x.data[c]
		for f := 0; f < freqReduced; f++ {
			col := c*freqReduced + f
			for t := 0; t < steps; t++ {
				seq.Set(t, col, plane[f*steps+t])
			}
		}
	}

	h := m.lstm1.apply(seq)
	h = m.lstm2.apply(h)

	// Residual path around the recurrent layers.
	resOut := m.res.apply(seq)
	h.Add(h, resOut)

	var frame *mat.Dense
	switch m.variant {
	case VariantClassifier:
		hidden := m.clsHidden.apply(h)
		reluInPlace(hidden)
		frame = m.clsOut.apply(hidden)
	default:
		frame = m.frameFC.apply(h)
	}

	logits := mat.NewDense(NumPitches, steps, nil)
	for t := 0; t < steps; t++ {
		for p := 0; p < NumPitches; p++ {
			logits.Set(p, t, frame.At(t, p))
		}
	}
	return logits, nil
}

// convStage runs convolution, batch norm, ReLU and a (2,1) max-pool,
// halving the frequency axis and preserving time.
func convStage(in featureMaps, cv conv2d, bn batchNorm) featureMaps {
	conved := cv.apply(in)
	bn.apply(conved)
	for _, plane := range conved.data {
		for i, v := range plane {
			if v < 0 {
				plane[i] = 0
			}
		}
	}
	return maxPoolFreq(conved)
}

func (c *conv2d) apply(in featureMaps) featureMaps {
	freq, steps := in.freq, in.steps
	out := featureMaps{data: make([][]float64, c.out), freq: freq, steps: steps}

	for oc := 0; oc < c.out; oc++ {
		plane := make([]float64, freq*steps)
		for i := range plane {
			plane[i] = c.b[oc]
		}
		for ic := 0; ic < c.in; ic++ {
			src := in.data[ic]
			kbase := (oc*c.in + ic) * 9
			for df := -1; df <= 1; df++ {
				for dt := -1; dt <= 1; dt++ {
					w := c.w[kbase+(df+1)*3+(dt+1)]
					if w == 0 {
						continue
					}
					for f := 0; f < freq; f++ {
						sf := f + df
						if sf < 0 || sf >= freq {
							continue
						}
						srcRow := src[sf*steps:]
						dstRow := plane[f*steps:]
						tLo, tHi := 0, steps
						if dt == -1 {
							tLo = 1
						} else if dt == 1 {
							tHi = steps - 1
						}
						for t := tLo; t < tHi; t++ {
							dstRow[t] += w * srcRow[t+dt]
						}
					}
				}
			}
		}
		out.data[oc] = plane
	}
	return out
}

func (b *batchNorm) apply(fm featureMaps) {
	const eps = 1e-5
	for c, plane := range fm.data {
		scale := b.gamma[c] / math.Sqrt(b.vari[c]+eps)
		shift := b.beta[c] - b.mean[c]*scale
		for i, v := range plane {
			plane[i] = v*scale + shift
		}
	}
}

// maxPoolFreq halves the frequency axis with a (2,1) max-pool.
func maxPoolFreq(in featureMaps) featureMaps {
	freq := in.freq / 2
	steps := in.steps
	out := featureMaps{data: make([][]float64, len(in.data)), freq: freq, steps: steps}
	for c, plane := range in.data {
		pooled := make([]float64, freq*steps)
		for f := 0; f < freq; f++ {
			a := plane[(2*f)*steps:]
			b := plane[(2*f+1)*steps:]
			row := pooled[f*steps:]
			for t := 0; t < steps; t++ {
				if a[t] >= b[t] {
					row[t] = a[t]
				} else {
					row[t] = b[t]
				}
			}
		}
		out.data[c] = pooled
	}
	return out
}

func reluInPlace(m *mat.Dense) {
	rows, cols := m.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if m.At(r, c) < 0 {
				m.Set(r, c, 0)
			}
		}
	}
}
