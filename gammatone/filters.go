package gammatone

import (
	"math"
	"math/cmplx"
)

// Glasberg & Moore ERB scale constants
const (
	earQ  = 9.26449
	minBW = 24.7
)

// ERBWidth returns the equivalent rectangular bandwidth of the auditory
// filter centered at cf Hz
func ERBWidth(cf float64) float64 {
	return cf/earQ + minBW
}

// ERBSpace returns num center frequencies evenly spaced on the ERB scale
// between lowFreq and highFreq. The frequencies are in DECREASING order,
// from just below highFreq down to exactly lowFreq, matching the underlying
// filter design convention; callers wanting increasing order must reverse.
func ERBSpace(lowFreq, highFreq float64, num int) []float64 {
	c := earQ * minBW
	cfs := make([]float64, num)
	for i := 0; i < num; i++ {
		fraction := float64(i+1) / float64(num)
		cfs[i] = -c + math.Exp(fraction*(math.Log(lowFreq+c)-math.Log(highFreq+c)))*(highFreq+c)
	}
	return cfs
}

// ERBFilter holds the coefficients of one 8th-order gammatone filter,
// factored as four cascaded second-order sections sharing a common
// denominator (Slaney's all-pole approximation)
type ERBFilter struct {
	A0, A11, A12, A13, A14, A2 float64
	B0, B1, B2                 float64
	Gain                       float64
}

// MakeERBFilters designs one gammatone filter per center frequency for a
// signal sampled at fs Hz
func MakeERBFilters(fs float64, centreFreqs []float64) []ERBFilter {
	t := 1.0 / fs
	rtPos := math.Sqrt(3 + math.Pow(2, 1.5))
	rtNeg := math.Sqrt(3 - math.Pow(2, 1.5))

	coefs := make([]ERBFilter, len(centreFreqs))
	for i, cf := range centreFreqs {
		b := 1.019 * 2 * math.Pi * ERBWidth(cf)
		arg := 2 * cf * math.Pi * t

		cosArg := math.Cos(arg)
		sinArg := math.Sin(arg)
		expBT := math.Exp(b * t)

		common := -t / expBT
		k11 := cosArg + rtPos*sinArg
		k12 := cosArg - rtPos*sinArg
		k13 := cosArg + rtNeg*sinArg
		k14 := cosArg - rtNeg*sinArg

		// Gain is the magnitude of the cascade response at the center
		// frequency, evaluated in the z-domain
		vec := cmplx.Exp(complex(0, 2*arg))
		gainArg := cmplx.Exp(complex(-b*t, arg))
		scale := complex(t*expBT, 0) /
			(complex(-1/expBT+1, 0) + vec*complex(1-expBT, 0))
		gain := cmplx.Abs(
			(vec - gainArg*complex(k11, 0)) *
				(vec - gainArg*complex(k12, 0)) *
				(vec - gainArg*complex(k13, 0)) *
				(vec - gainArg*complex(k14, 0)) *
				(scale * scale * scale * scale))

		coefs[i] = ERBFilter{
			A0:   t,
			A11:  common * k11,
			A12:  common * k12,
			A13:  common * k13,
			A14:  common * k14,
			A2:   0,
			B0:   1,
			B1:   -2 * cosArg / expBT,
			B2:   math.Exp(-2 * b * t),
			Gain: gain,
		}
	}
	return coefs
}

// ERBFilterbank passes wave through each filter and returns one output
// signal per filter, row order matching the coefficient order
func ERBFilterbank(wave []float64, coefs []ERBFilter) [][]float64 {
	output := make([][]float64, len(coefs))
	for i, c := range coefs {
		y := filterSOS(wave, c.A0/c.Gain, c.A11/c.Gain, c.A2/c.Gain, c.B1, c.B2)
		y = filterSOS(y, c.A0, c.A12, c.A2, c.B1, c.B2)
		y = filterSOS(y, c.A0, c.A13, c.A2, c.B1, c.B2)
		y = filterSOS(y, c.A0, c.A14, c.A2, c.B1, c.B2)
		output[i] = y
	}
	return output
}

// filterSOS applies a single second-order section with numerator
// (b0, b1, b2) and denominator (1, a1, a2), direct form II transposed
func filterSOS(x []float64, b0, b1, b2, a1, a2 float64) []float64 {
	y := make([]float64, len(x))
	var z1, z2 float64
	for n, xn := range x {
		yn := b0*xn + z1
		z1 = b1*xn - a1*yn + z2
		z2 = b2*xn - a2*yn
		y[n] = yn
	}
	return y
}
