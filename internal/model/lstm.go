package model

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// linear is a fully connected layer y = W*x + b with W shaped (out x in).
type linear struct {
	w *mat.Dense
	b []float64
}

// apply computes X*W^T + b for X shaped (T x in), returning (T x out).
func (l *linear) apply(x *mat.Dense) *mat.Dense {
	rows, _ := x.Dims()
	out, _ := l.w.Dims()

	var y mat.Dense
	y.Mul(x, l.w.T())
	for t := 0; t < rows; t++ {
		for o := 0; o < out; o++ {
			y.Set(t, o, y.At(t, o)+l.b[o])
		}
	}
	return &y
}

// lstmDirection holds weights for one direction of one LSTM layer.
// Gate order within the 4H axis is input, forget, cell, output.
type lstmDirection struct {
	wx     *mat.Dense // (4H x in)
	wh     *mat.Dense // (4H x H)
	b      []float64  // (4H), input and hidden biases combined
	hidden int
}

// run processes the sequence X (T x in) and returns hidden states (T x H).
// When reverse is set the sequence is consumed back to front but the output
// keeps original time order.
func (d *lstmDirection) run(x *mat.Dense, reverse bool) *mat.Dense {
	steps, _ := x.Dims()
	h4 := 4 * d.hidden

	// Input contributions for all timesteps in one multiply.
	var xw mat.Dense
	xw.Mul(x, d.wx.T())

	out := mat.NewDense(steps, d.hidden, nil)
	h := make([]float64, d.hidden)
	c := make([]float64, d.hidden)
	gates := make([]float64, h4)

	for step := 0; step < steps; step++ {
		t := step
		if reverse {
			t = steps - 1 - step
		}

		for g := 0; g < h4; g++ {
			sum := xw.At(t, g) + d.b[g]
			row := d.wh.RawRowView(g)
			for j, hv := range h {
				sum += row[j] * hv
			}
			gates[g] = sum
		}

		for j := 0; j < d.hidden; j++ {
			in := sigmoid(gates[j])
			forget := sigmoid(gates[d.hidden+j])
			cell := math.Tanh(gates[2*d.hidden+j])
			outg := sigmoid(gates[3*d.hidden+j])

			c[j] = forget*c[j] + in*cell
			h[j] = outg * math.Tanh(c[j])
			out.Set(t, j, h[j])
		}
	}
	return out
}

// lstmLayer is a bidirectional LSTM layer; forward and backward hidden
// states are concatenated per frame.
type lstmLayer struct {
	fwd lstmDirection
	bwd lstmDirection
}

// apply returns (T x 2H) with forward states in the first H columns.
func (l *lstmLayer) apply(x *mat.Dense) *mat.Dense {
	fw := l.fwd.run(x, false)
	bw := l.bwd.run(x, true)

	steps, _ := x.Dims()
	h := l.fwd.hidden
	out := mat.NewDense(steps, 2*h, nil)
	for t := 0; t < steps; t++ {
		for j := 0; j < h; j++ {
			out.Set(t, j, fw.At(t, j))
			out.Set(t, h+j, bw.At(t, j))
		}
	}
	return out
}

func sigmoid(v float64) float64 {
	return 1.0 / (1.0 + math.Exp(-v))
}
