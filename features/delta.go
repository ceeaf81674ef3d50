// Package features computes spectral-dynamics features over a channel x time
// energy matrix: regression-based delta and delta-delta filters and a
// DCT-based reduction of the channel axis. All transforms are pure functions.
package features

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Regression window half-lengths of the derivative filters
const (
	deltaHalfLen  = 4
	smoothHalfLen = 1
)

// deltaTaps returns the FIR kernel a_k = k/scale for k = h, h-1, ..., -h,
// the least-squares slope estimator over a 2h+1 frame window
func deltaTaps(h int, scale float64) []float64 {
	taps := make([]float64, 2*h+1)
	for i := range taps {
		taps[i] = float64(h-i) / scale
	}
	return taps
}

// Delta computes the smoothed first derivative of each channel row over the
// time axis. The output has the same shape as the input.
//
// The time axis is padded before filtering by replicating the second frame
// (index 1, not 0) at the head and the last frame at the tail; the padded
// result is trimmed back to the input length. The index-1 head padding is
// inherited from the reference regression filter and kept for numerical
// compatibility with features produced by it.
func Delta(matrix [][]float64) ([][]float64, error) {
	return filterRows(matrix, deltaHalfLen, deltaTaps(deltaHalfLen, 60))
}

// DeltaDelta computes the smoothed second derivative of each channel row:
// the delta kernel followed by a short central-difference kernel, with the
// same replicate-padding policy extended to the combined half-length.
func DeltaDelta(matrix [][]float64) ([][]float64, error) {
	return filterRows(matrix, deltaHalfLen+smoothHalfLen,
		deltaTaps(deltaHalfLen, 60), deltaTaps(smoothHalfLen, 2))
}

// filterRows pads each row with h replicated frames on both sides, applies
// the kernel cascade causally with zero initial state, and trims h leading
// and trailing frames so output length equals input length
func filterRows(matrix [][]float64, h int, kernels ...[]float64) ([][]float64, error) {
	if len(matrix) == 0 {
		return nil, fmt.Errorf("features: empty matrix")
	}
	nFrames := len(matrix[0])
	if nFrames < 2 {
		return nil, fmt.Errorf("features: need at least 2 time frames, got %d", nFrames)
	}

	out := make([][]float64, len(matrix))
	for i, row := range matrix {
		if len(row) != nFrames {
			return nil, fmt.Errorf("features: ragged matrix, row %d has %d frames, want %d",
				i, len(row), nFrames)
		}

		padded := make([]float64, nFrames+2*h)
		for j := 0; j < h; j++ {
			padded[j] = row[1]
			padded[nFrames+h+j] = row[nFrames-1]
		}
		copy(padded[h:], row)

		for _, kernel := range kernels {
			padded = firFilter(padded, kernel)
		}
		out[i] = padded[h : h+nFrames]
	}
	return out, nil
}

// firFilter computes y[n] = sum_k taps[k]*x[n-k], with x[m] = 0 for m < 0
func firFilter(x, taps []float64) []float64 {
	k := len(taps)
	rev := make([]float64, k)
	for i, t := range taps {
		rev[k-1-i] = t
	}

	y := make([]float64, len(x))
	for n := range x {
		if n >= k-1 {
			y[n] = floats.Dot(rev, x[n-k+1:n+1])
			continue
		}
		// Filter warm-up, part of the kernel still hangs over the start
		sum := 0.0
		for i := 0; i <= n; i++ {
			sum += taps[i] * x[n-i]
		}
		y[n] = sum
	}
	return y
}
