package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// DCT projects the channel axis of a channel x time matrix onto type-2
// discrete cosine basis coefficients, keeping the lowest-order ones
type DCT struct {
	size      int
	normalize bool
}

// NewDCT creates a reducer keeping the first size coefficients. When
// normalize is true the orthonormal scaling convention is used, making the
// full-rank transform energy-preserving and invertible; otherwise the
// unscaled convention (a plain factor of 2) applies.
func NewDCT(size int, normalize bool) (*DCT, error) {
	if size < 1 {
		return nil, fmt.Errorf("features: dct size must be >= 1, got %d", size)
	}
	return &DCT{size: size, normalize: normalize}, nil
}

// Reduce applies the DCT along the channel axis independently for each time
// column. The output has min(size, rows) rows and an unchanged column count.
func (d *DCT) Reduce(matrix [][]float64) ([][]float64, error) {
	nChannels := len(matrix)
	if nChannels == 0 {
		return nil, fmt.Errorf("features: empty matrix")
	}
	nFrames := len(matrix[0])
	for i, row := range matrix {
		if len(row) != nFrames {
			return nil, fmt.Errorf("features: ragged matrix, row %d has %d frames, want %d",
				i, len(row), nFrames)
		}
	}

	nCoeffs := min(d.size, nChannels)
	basis := dctBasis(nCoeffs, nChannels, d.normalize)

	out := make([][]float64, nCoeffs)
	for k := range out {
		out[k] = make([]float64, nFrames)
	}

	column := make([]float64, nChannels)
	for t := 0; t < nFrames; t++ {
		for n := range matrix {
			column[n] = matrix[n][t]
		}
		for k := 0; k < nCoeffs; k++ {
			out[k][t] = floats.Dot(basis[k], column)
		}
	}
	return out, nil
}

// dctBasis builds the truncated DCT-II matrix over n input channels
func dctBasis(nCoeffs, n int, normalize bool) [][]float64 {
	basis := make([][]float64, nCoeffs)
	for k := 0; k < nCoeffs; k++ {
		row := make([]float64, n)
		scale := 2.0
		if normalize {
			if k == 0 {
				scale = math.Sqrt(1.0 / float64(n))
			} else {
				scale = math.Sqrt(2.0 / float64(n))
			}
		}
		for i := 0; i < n; i++ {
			row[i] = scale * math.Cos(math.Pi*float64(k)*(float64(i)+0.5)/float64(n))
		}
		basis[k] = row
	}
	return basis
}
