package pipeline

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/prosodylab/prosolia/gammatone"
)

// Config holds the full parameter surface of one pipeline run, grouped the
// way the configuration files are laid out
type Config struct {
	Audio      AudioConfig      `yaml:"audio" json:"audio"`
	Filterbank FilterbankConfig `yaml:"filterbank" json:"filterbank"`
	Energy     EnergyConfig     `yaml:"energy" json:"energy"`
	DCT        DCTConfig        `yaml:"dct" json:"dct"`
	Pitch      PitchConfig      `yaml:"pitch" json:"pitch"`
}

// AudioConfig controls waveform loading
type AudioConfig struct {
	TStart         float64 `yaml:"tstart" json:"tstart"`                   // Start of the chunk to load in seconds, 0 for file start
	TStop          float64 `yaml:"tstop" json:"tstop"`                     // End of the chunk to load in seconds, 0 for file end
	FFmpegPath     string  `yaml:"ffmpeg_path" json:"ffmpeg_path"`         // ffmpeg binary (default: from PATH)
	FFprobePath    string  `yaml:"ffprobe_path" json:"ffprobe_path"`       // ffprobe binary (default: from PATH)
	TimeoutSeconds float64 `yaml:"timeout_seconds" json:"timeout_seconds"` // Decode timeout
}

// FilterbankConfig controls the gammatone filterbank
type FilterbankConfig struct {
	Channels     int     `yaml:"channels" json:"channels"`           // Number of frequency channels
	LowFrequency float64 `yaml:"low_frequency" json:"low_frequency"` // Lowest center frequency in Hz
	Accurate     bool    `yaml:"accurate" json:"accurate"`           // Exact filterbank instead of the FFT approximation
}

// EnergyConfig controls windowed energy integration and compression
type EnergyConfig struct {
	WindowTime  float64               `yaml:"window_time" json:"window_time"`   // Integration window in seconds
	OverlapTime float64               `yaml:"overlap_time" json:"overlap_time"` // Window advance in seconds
	Compression gammatone.Compression `yaml:"compression" json:"compression"`   // none, log or cubic
}

// DCTConfig controls spectral reduction
type DCTConfig struct {
	Size      int  `yaml:"size" json:"size"`           // Number of coefficients to keep
	Normalize bool `yaml:"normalize" json:"normalize"` // Orthonormal scaling
}

// PitchConfig controls the external pitch tool
type PitchConfig struct {
	KaldiRoot      string  `yaml:"kaldi_root" json:"kaldi_root"`           // Required: root of a compiled Kaldi distribution
	FrameLengthMs  float64 `yaml:"frame_length_ms" json:"frame_length_ms"` // Frame length in milliseconds
	FrameShiftMs   float64 `yaml:"frame_shift_ms" json:"frame_shift_ms"`   // Frame shift in milliseconds
	Options        string  `yaml:"options" json:"options"`                 // Extra --key=value flags forwarded to the tool
	Verbose        bool    `yaml:"verbose" json:"verbose"`                 // Pass the tool's stderr through instead of discarding it
	TimeoutSeconds float64 `yaml:"timeout_seconds" json:"timeout_seconds"` // Kill the tool after this long, 0 for no limit
}

// DefaultConfig returns the documented defaults. The Kaldi root has no
// default and must be provided.
func DefaultConfig() *Config {
	return &Config{
		Audio: AudioConfig{
			FFmpegPath:     "ffmpeg",
			FFprobePath:    "ffprobe",
			TimeoutSeconds: 60,
		},
		Filterbank: FilterbankConfig{
			Channels:     20,
			LowFrequency: 20,
			Accurate:     true,
		},
		Energy: EnergyConfig{
			WindowTime:  0.5,
			OverlapTime: 0.1,
			Compression: gammatone.CompressionNone,
		},
		DCT: DCTConfig{
			Size:      8,
			Normalize: false,
		},
		Pitch: PitchConfig{
			FrameLengthMs: 25,
			FrameShiftMs:  10,
		},
	}
}

// LoadConfig reads a YAML configuration file. Omitted fields keep their
// defaults; unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadConfigFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigFromReader decodes a YAML config from r on top of the defaults.
// Useful in tests where configs are constructed from string literals.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return cfg, nil
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return cfg, nil
}

// Validate checks the whole parameter surface before any computation begins
func (c *Config) Validate() error {
	if c.Filterbank.Channels < 1 {
		return &gammatone.InvalidParameterError{Param: "filterbank.channels", Reason: "must be >= 1"}
	}
	if c.Filterbank.LowFrequency <= 0 {
		return &gammatone.InvalidParameterError{Param: "filterbank.low_frequency", Reason: "must be positive"}
	}
	if c.Energy.WindowTime <= 0 {
		return &gammatone.InvalidParameterError{Param: "energy.window_time", Reason: "must be positive"}
	}
	if c.Energy.OverlapTime <= 0 || c.Energy.OverlapTime >= c.Energy.WindowTime {
		return &gammatone.InvalidParameterError{Param: "energy.overlap_time", Reason: "must be in (0, window_time)"}
	}
	if c.DCT.Size < 1 {
		return &gammatone.InvalidParameterError{Param: "dct.size", Reason: "must be >= 1"}
	}
	if c.Pitch.KaldiRoot == "" {
		return &gammatone.InvalidParameterError{Param: "pitch.kaldi_root", Reason: "required, no default"}
	}
	if c.Pitch.FrameLengthMs <= 0 {
		return &gammatone.InvalidParameterError{Param: "pitch.frame_length_ms", Reason: "must be positive"}
	}
	if c.Pitch.FrameShiftMs <= 0 {
		return &gammatone.InvalidParameterError{Param: "pitch.frame_shift_ms", Reason: "must be positive"}
	}
	if c.Audio.TStart < 0 {
		return &gammatone.InvalidParameterError{Param: "audio.tstart", Reason: "must be nonnegative"}
	}
	if c.Audio.TStop < 0 {
		return &gammatone.InvalidParameterError{Param: "audio.tstop", Reason: "must be nonnegative"}
	}
	if c.Audio.TStop > 0 && c.Audio.TStop <= c.Audio.TStart {
		return &gammatone.InvalidParameterError{Param: "audio.tstop", Reason: "must be greater than tstart"}
	}
	return nil
}

func (c *AudioConfig) timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

func (c *PitchConfig) timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}
