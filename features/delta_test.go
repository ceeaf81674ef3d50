package features_test

import (
	"math"
	"strings"
	"testing"

	"github.com/prosodylab/prosolia/features"
)

func constantMatrix(rows, cols int, value float64) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
		for j := range m[i] {
			m[i][j] = value
		}
	}
	return m
}

func TestDelta_ShapePreserved(t *testing.T) {
	t.Parallel()
	m := constantMatrix(5, 17, 3.5)

	for name, fn := range map[string]func([][]float64) ([][]float64, error){
		"delta":       features.Delta,
		"delta-delta": features.DeltaDelta,
	} {
		out, err := fn(m)
		if err != nil {
			t.Fatalf("%s failed: %v", name, err)
		}
		if len(out) != 5 {
			t.Fatalf("%s: want 5 rows, got %d", name, len(out))
		}
		for i, row := range out {
			if len(row) != 17 {
				t.Fatalf("%s: row %d has %d frames, want 17", name, i, len(row))
			}
		}
	}
}

func TestDelta_ConstantSignalHasZeroSlope(t *testing.T) {
	t.Parallel()
	m := constantMatrix(4, 25, 7.25)

	delta, err := features.Delta(m)
	if err != nil {
		t.Fatalf("Delta failed: %v", err)
	}
	for i, row := range delta {
		for j, v := range row {
			if math.Abs(v) > 1e-9 {
				t.Errorf("delta[%d][%d]: constant signal should have zero slope, got %g", i, j, v)
			}
		}
	}

	deltaDelta, err := features.DeltaDelta(m)
	if err != nil {
		t.Fatalf("DeltaDelta failed: %v", err)
	}
	for i, row := range deltaDelta {
		for j, v := range row {
			if math.Abs(v) > 1e-9 {
				t.Errorf("delta-delta[%d][%d]: constant signal should have zero curvature, got %g", i, j, v)
			}
		}
	}
}

func TestDelta_LinearRampRecoversSlope(t *testing.T) {
	t.Parallel()
	const slope = 0.75
	const frames = 30
	m := make([][]float64, 2)
	for i := range m {
		m[i] = make([]float64, frames)
		for j := range m[i] {
			m[i][j] = slope * float64(j)
		}
	}

	delta, err := features.Delta(m)
	if err != nil {
		t.Fatalf("Delta failed: %v", err)
	}
	// Frames past the filter warm-up see only the true ramp and must
	// report its slope exactly
	for i, row := range delta {
		for j := 8; j < frames; j++ {
			if math.Abs(row[j]-slope) > 1e-9 {
				t.Errorf("delta[%d][%d]: want slope %g, got %g", i, j, slope, row[j])
			}
		}
	}
}

func TestDelta_DegenerateInput(t *testing.T) {
	t.Parallel()

	if _, err := features.Delta(nil); err == nil {
		t.Error("empty matrix should fail")
	}

	if _, err := features.Delta([][]float64{{1}}); err == nil {
		t.Error("single-frame matrix should fail")
	} else if !strings.Contains(err.Error(), "2 time frames") {
		t.Errorf("error should mention the frame requirement, got: %v", err)
	}

	ragged := [][]float64{{1, 2, 3}, {1, 2}}
	if _, err := features.Delta(ragged); err == nil {
		t.Error("ragged matrix should fail")
	}
}
