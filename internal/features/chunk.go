package features

import (
	"gonum.org/v1/gonum/mat"
)

// DefaultWindowSeconds bounds the sequence length fed to the model in one
// pass. Longer clips are split into consecutive windows.
const DefaultWindowSeconds = 10.0

// WindowFrames returns the chunk size in frames for a window length in
// seconds.
func WindowFrames(windowSeconds float64) int {
	return int(windowSeconds * SampleRate / HopLength)
}

// Chunk splits a feature matrix into consecutive non-overlapping windows
// along the time axis. If the clip fits in one window the original matrix is
// returned unchanged, with no copy. The final chunk may be shorter than the
// rest; no padding is performed.
//
// Notes straddling a chunk edge may be split in two by downstream event
// extraction. That is an accepted approximation; no overlap-stitching is
// attempted.
func Chunk(feat *mat.Dense, windowSeconds float64) []*mat.Dense {
	rows, total := feat.Dims()
	size := WindowFrames(windowSeconds)
	if size <= 0 || total <= size {
		return []*mat.Dense{feat}
	}

	var chunks []*mat.Dense
	for start := 0; start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}
		chunks = append(chunks, feat.Slice(0, rows, start, end).(*mat.Dense))
	}
	return chunks
}

// ConcatTime concatenates matrices along the time axis in slice order,
// preserving global frame indexing across chunk boundaries.
func ConcatTime(parts []*mat.Dense) *mat.Dense {
	if len(parts) == 1 {
		return parts[0]
	}

	rows, _ := parts[0].Dims()
	total := 0
	for _, p := range parts {
		_, c := p.Dims()
		total += c
	}

	out := mat.NewDense(rows, total, nil)
	offset := 0
	for _, p := range parts {
		_, c := p.Dims()
		for r := 0; r < rows; r++ {
			for t := 0; t < c; t++ {
				out.Set(r, offset+t, p.At(r, t))
			}
		}
		offset += c
	}
	return out
}
