package model

import (
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"os"

	"gonum.org/v1/gonum/mat"
)

// Param is one named weight tensor from a checkpoint file.
type Param struct {
	Shape []int
	Data  []float64
}

// Checkpoint is the serialized parameter set written by the training
// exporter: a gob-encoded manifest of named tensors.
type Checkpoint struct {
	Format int
	Params map[string]Param
}

// classifierProbeKey is present only in checkpoints saved with the older
// classifier-headed layout.
const classifierProbeKey = "classifier.0.weight"

// LoadCheckpoint reads a checkpoint file.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	var ck Checkpoint
	if err := gob.NewDecoder(f).Decode(&ck); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if len(ck.Params) == 0 {
		return nil, fmt.Errorf("checkpoint has no parameters")
	}
	return &ck, nil
}

// DetectVariant decides which head layout a checkpoint encodes. The decision
// is made once at load time by probing the parameter manifest.
func DetectVariant(ck *Checkpoint) Variant {
	if _, ok := ck.Params[classifierProbeKey]; ok {
		return VariantClassifier
	}
	return VariantDirect
}

// NewCRNN builds a model of the given variant with deterministic randomly
// initialized weights. An untrained model is fully functional; its output is
// musically meaningless but structurally valid.
func NewCRNN(variant Variant) *CRNN {
	// Fixed seed keeps untrained-model runs reproducible.
	rng := rand.New(rand.NewSource(1))

	m := &CRNN{variant: variant}
	m.conv1 = randomConv(rng, 1, 32)
	m.bn1 = identityBN(32)
	m.conv2 = randomConv(rng, 32, 64)
	m.bn2 = identityBN(64)
	m.conv3 = randomConv(rng, 64, convOut)
	m.bn3 = identityBN(convOut)

	m.lstm1 = randomLSTM(rng, lstmInput, lstmHidden)
	m.lstm2 = randomLSTM(rng, 2*lstmHidden, lstmHidden)

	m.res = randomLinear(rng, lstmInput, 2*lstmHidden)

	switch variant {
	case VariantClassifier:
		m.clsHidden = randomLinear(rng, 2*lstmHidden, 2*lstmHidden)
		m.clsOut = randomLinear(rng, 2*lstmHidden, NumPitches)
	default:
		m.frameFC = randomLinear(rng, 2*lstmHidden, NumPitches)
	}
	return m
}

// LoadCRNN builds a model matching the checkpoint's head layout and loads
// its weights.
func LoadCRNN(ck *Checkpoint) (*CRNN, error) {
	variant := DetectVariant(ck)
	m := NewCRNN(variant)

	r := paramReader{params: ck.Params}

	m.conv1.w, m.conv1.b = r.conv("conv_block.0", 32, 1)
	m.bn1 = r.batchNorm("conv_block.1", 32)
	m.conv2.w, m.conv2.b = r.conv("conv_block.4", 64, 32)
	m.bn2 = r.batchNorm("conv_block.5", 64)
	m.conv3.w, m.conv3.b = r.conv("conv_block.8", convOut, 64)
	m.bn3 = r.batchNorm("conv_block.9", convOut)

	m.lstm1 = r.lstmLayer(0, lstmInput)
	m.lstm2 = r.lstmLayer(1, 2*lstmHidden)

	m.res = r.linear("res_fc", 2*lstmHidden, lstmInput)

	switch variant {
	case VariantClassifier:
		m.clsHidden = r.linear("classifier.0", 2*lstmHidden, 2*lstmHidden)
		m.clsOut = r.linear("classifier.2", NumPitches, 2*lstmHidden)
	default:
		m.frameFC = r.linear("fc_frame", NumPitches, 2*lstmHidden)
	}

	if r.err != nil {
		return nil, r.err
	}
	return m, nil
}

// paramReader pulls named tensors out of a checkpoint with shape checks,
// collecting the first error.
type paramReader struct {
	params map[string]Param
	err    error
}

func (r *paramReader) get(name string, want ...int) []float64 {
	if r.err != nil {
		return nil
	}
	p, ok := r.params[name]
	if !ok {
		r.err = fmt.Errorf("checkpoint missing parameter %q", name)
		return nil
	}
	n := 1
	for _, d := range want {
		n *= d
	}
	if len(p.Data) != n {
		r.err = fmt.Errorf("parameter %q: expected %v (%d values), got shape %v (%d values)",
			name, want, n, p.Shape, len(p.Data))
		return nil
	}
	return p.Data
}

func (r *paramReader) conv(prefix string, out, in int) ([]float64, []float64) {
	w := r.get(prefix+".weight", out, in, 3, 3)
	b := r.get(prefix+".bias", out)
	return w, b
}

func (r *paramReader) batchNorm(prefix string, n int) batchNorm {
	return batchNorm{
		gamma: r.get(prefix+".weight", n),
		beta:  r.get(prefix+".bias", n),
		mean:  r.get(prefix+".running_mean", n),
		vari:  r.get(prefix+".running_var", n),
	}
}

func (r *paramReader) linear(prefix string, out, in int) linear {
	w := r.get(prefix+".weight", out, in)
	b := r.get(prefix+".bias", out)
	if r.err != nil {
		return linear{}
	}
	return linear{w: mat.NewDense(out, in, w), b: b}
}

func (r *paramReader) lstmDirection(layer int, in int, reverse bool) lstmDirection {
	suffix := fmt.Sprintf("l%d", layer)
	if reverse {
		suffix += "_reverse"
	}
	wx := r.get("lstm.weight_ih_"+suffix, 4*lstmHidden, in)
	wh := r.get("lstm.weight_hh_"+suffix, 4*lstmHidden, lstmHidden)
	bi := r.get("lstm.bias_ih_"+suffix, 4*lstmHidden)
	bh := r.get("lstm.bias_hh_"+suffix, 4*lstmHidden)
	if r.err != nil {
		return lstmDirection{hidden: lstmHidden}
	}

	b := make([]float64, 4*lstmHidden)
	for i := range b {
		b[i] = bi[i] + bh[i]
	}
	return lstmDirection{
		wx:     mat.NewDense(4*lstmHidden, in, wx),
		wh:     mat.NewDense(4*lstmHidden, lstmHidden, wh),
		b:      b,
		hidden: lstmHidden,
	}
}

func (r *paramReader) lstmLayer(layer int, in int) lstmLayer {
	return lstmLayer{
		fwd: r.lstmDirection(layer, in, false),
		bwd: r.lstmDirection(layer, in, true),
	}
}

func randomConv(rng *rand.Rand, in, out int) conv2d {
	scale := 1.0 / math.Sqrt(float64(in*9))
	w := make([]float64, out*in*9)
	for i := range w {
		w[i] = rng.NormFloat64() * scale
	}
	return conv2d{w: w, b: make([]float64, out), in: in, out: out}
}

func identityBN(n int) batchNorm {
	gamma := make([]float64, n)
	vari := make([]float64, n)
	for i := 0; i < n; i++ {
		gamma[i] = 1
		vari[i] = 1
	}
	return batchNorm{gamma: gamma, beta: make([]float64, n), mean: make([]float64, n), vari: vari}
}

func randomLinear(rng *rand.Rand, in, out int) linear {
	scale := 1.0 / math.Sqrt(float64(in))
	w := make([]float64, out*in)
	for i := range w {
		w[i] = rng.NormFloat64() * scale
	}
	return linear{w: mat.NewDense(out, in, w), b: make([]float64, out)}
}

func randomLSTM(rng *rand.Rand, in, hidden int) lstmLayer {
	dir := func() lstmDirection {
		scale := 1.0 / math.Sqrt(float64(hidden))
		wx := make([]float64, 4*hidden*in)
		for i := range wx {
			wx[i] = rng.NormFloat64() * scale
		}
		wh := make([]float64, 4*hidden*hidden)
		for i := range wh {
			wh[i] = rng.NormFloat64() * scale
		}
		return lstmDirection{
			wx:     mat.NewDense(4*hidden, in, wx),
			wh:     mat.NewDense(4*hidden, hidden, wh),
			b:      make([]float64, 4*hidden),
			hidden: hidden,
		}
	}
	return lstmLayer{fwd: dir(), bwd: dir()}
}
