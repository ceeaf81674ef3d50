package gammatone

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/prosodylab/prosolia/logging"
)

// Compression selects the element-wise energy compression applied to the
// spectrogram after computation
type Compression string

const (
	CompressionNone  Compression = "none"
	CompressionLog   Compression = "log"   // 20*log10(x)
	CompressionCubic Compression = "cubic" // x^(1/3)
)

// Apply compresses matrix in place and returns it. An empty or unrecognized
// compression is an identity transform, kept for compatibility with existing
// configuration files; unrecognized values are logged as a warning.
func (c Compression) Apply(matrix [][]float64, logger logging.Logger) [][]float64 {
	switch c {
	case CompressionNone, "":
		return matrix
	case CompressionLog:
		for _, row := range matrix {
			for j, v := range row {
				row[j] = 20 * math.Log10(v)
			}
		}
	case CompressionCubic:
		for _, row := range matrix {
			for j, v := range row {
				row[j] = math.Cbrt(v)
			}
		}
	default:
		if logger == nil {
			logger = logging.GetGlobalLogger()
		}
		logger.Warn("Unrecognized compression, energy left uncompressed", logging.Fields{
			"compression": string(c),
		})
	}
	return matrix
}

// InvalidParameterError reports a malformed or out-of-range parameter,
// detected before any filterbank computation
type InvalidParameterError struct {
	Param  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Param, e.Reason)
}

// Params configures the filterbank spectrogram.
//
// OverlapTime is the window advance between successive columns, so two
// consecutive windows share WindowTime-OverlapTime seconds of signal.
type Params struct {
	Channels    int         `json:"channels"`     // Number of frequency channels (default: 20)
	LowFreq     float64     `json:"low_freq"`     // Lowest center frequency in Hz (default: 20)
	WindowTime  float64     `json:"window_time"`  // Energy integration window in seconds (default: 0.5)
	OverlapTime float64     `json:"overlap_time"` // Window advance in seconds (default: 0.1)
	Compression Compression `json:"compression"`  // Energy compression (default: none)
	Accurate    bool        `json:"accurate"`     // Full filterbank instead of the FFT approximation
}

// DefaultParams returns the default filterbank parameters
func DefaultParams() Params {
	return Params{
		Channels:    20,
		LowFreq:     20,
		WindowTime:  0.5,
		OverlapTime: 0.1,
		Compression: CompressionNone,
		Accurate:    true,
	}
}

// Engine computes gammatone spectrograms
type Engine struct {
	params Params
	logger logging.Logger
}

// NewEngine creates a filterbank engine. Zero-valued numeric fields in
// params are replaced by defaults.
func NewEngine(params Params) *Engine {
	if params.Channels == 0 {
		params.Channels = 20
	}
	if params.LowFreq == 0 {
		params.LowFreq = 20
	}
	if params.WindowTime == 0 {
		params.WindowTime = 0.5
	}
	if params.OverlapTime == 0 {
		params.OverlapTime = 0.1
	}
	return &Engine{params: params, logger: logging.GetGlobalLogger()}
}

// SetLogger overrides the diagnostics sink used by the engine
func (e *Engine) SetLogger(logger logging.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Params returns the engine parameters
func (e *Engine) Params() Params {
	return e.params
}

// validate checks parameter ranges before any expensive computation
func (e *Engine) validate(sampleRate int, nSamples int) error {
	p := e.params
	if sampleRate <= 0 {
		return &InvalidParameterError{"sample_rate", "must be positive"}
	}
	if p.Channels < 1 {
		return &InvalidParameterError{"channels", "must be >= 1"}
	}
	if p.LowFreq <= 0 {
		return &InvalidParameterError{"low_freq", "must be positive"}
	}
	if p.LowFreq >= float64(sampleRate)/2 {
		return &InvalidParameterError{"low_freq", fmt.Sprintf(
			"must be below the Nyquist frequency %g Hz", float64(sampleRate)/2)}
	}
	if p.WindowTime <= 0 {
		return &InvalidParameterError{"window_time", "must be positive"}
	}
	if p.OverlapTime <= 0 || p.OverlapTime >= p.WindowTime {
		return &InvalidParameterError{"overlap_time", "must be in (0, window_time)"}
	}

	nwin, _, ncols := strides(sampleRate, p.WindowTime, p.OverlapTime, nSamples)
	if ncols < 1 {
		return &InvalidParameterError{"window_time", fmt.Sprintf(
			"signal too short: %d samples, window is %d", nSamples, nwin)}
	}
	return nil
}

// Spectrogram passes wave through the gammatone filterbank covering
// [LowFreq, sampleRate/2] and integrates per-channel energy over sliding
// windows. The returned matrix has Params.Channels rows in strictly
// INCREASING center-frequency order; row i corresponds to cfs[i]. The
// underlying filter design yields channels in decreasing order, reversed
// here so every downstream consumer sees one consistent ordering.
//
// Column count is floor((nSamples-windowSamples)/hopSamples)+1: only
// complete windows are emitted, the trailing partial window is dropped.
func (e *Engine) Spectrogram(wave []float64, sampleRate int) ([][]float64, []float64, error) {
	if err := e.validate(sampleRate, len(wave)); err != nil {
		return nil, nil, err
	}
	p := e.params

	e.logger.Debug("computing filterbank energy", logging.Fields{
		"channels":    p.Channels,
		"compression": string(p.Compression),
		"accurate":    p.Accurate,
	})

	// Center frequencies come out highest-first
	cfs := ERBSpace(p.LowFreq, float64(sampleRate)/2, p.Channels)

	nwin, hop, ncols := strides(sampleRate, p.WindowTime, p.OverlapTime, len(wave))

	var energy [][]float64
	if p.Accurate {
		energy = gtgram(wave, float64(sampleRate), cfs, nwin, hop, ncols)
	} else {
		energy = fftGtgram(wave, float64(sampleRate), cfs, nwin, hop, ncols)
	}

	// Ordering normalization: increasing center frequency, rows and
	// frequency list reversed together
	reverseRows(energy)
	reverseFloats(cfs)

	energy = p.Compression.Apply(energy, e.logger)

	return energy, cfs, nil
}

// strides converts window timing to sample counts. Window and hop sizes
// round half away from zero.
func strides(sampleRate int, windowTime, hopTime float64, nSamples int) (nwin, hop, ncols int) {
	nwin = int(roundHalfAwayFromZero(windowTime * float64(sampleRate)))
	hop = int(roundHalfAwayFromZero(hopTime * float64(sampleRate)))
	if hop < 1 {
		hop = 1
	}
	ncols = int(math.Floor(float64(nSamples-nwin)/float64(hop))) + 1
	return nwin, hop, ncols
}

func roundHalfAwayFromZero(x float64) float64 {
	if x < 0 {
		return -math.Floor(-x + 0.5)
	}
	return math.Floor(x + 0.5)
}

// gtgram is the exact path: filter the full signal per channel, then take
// the rms of each window of the squared output
func gtgram(wave []float64, fs float64, cfs []float64, nwin, hop, ncols int) [][]float64 {
	coefs := MakeERBFilters(fs, cfs)
	filtered := ERBFilterbank(wave, coefs)

	energy := make([][]float64, len(cfs))
	for ch, row := range filtered {
		// Square in place, the filtered signal is not needed afterwards
		for i, v := range row {
			row[i] = v * v
		}
		energy[ch] = make([]float64, ncols)
		for col := 0; col < ncols; col++ {
			window := row[col*hop : col*hop+nwin]
			energy[ch][col] = math.Sqrt(stat.Mean(window, nil))
		}
	}
	return energy
}

func reverseRows(m [][]float64) {
	for i, j := 0, len(m)-1; i < j; i, j = i+1, j-1 {
		m[i], m[j] = m[j], m[i]
	}
}

func reverseFloats(s []float64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
