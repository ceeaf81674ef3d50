package audio

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/prosodylab/prosolia/logging"
)

// Waveform is a mono audio signal loaded from a file. It is read once at
// pipeline start and never mutated afterwards.
type Waveform struct {
	Samples    []float64 `json:"-"`
	SampleRate int       `json:"sample_rate"`
	Path       string    `json:"path"`
}

// Duration returns the signal duration
func (w *Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(w.SampleRate)
}

// ReaderConfig holds audio reader configuration
type ReaderConfig struct {
	FFmpegPath  string        `json:"ffmpeg_path"`  // Path to ffmpeg binary
	FFprobePath string        `json:"ffprobe_path"` // Path to ffprobe binary
	Timeout     time.Duration `json:"timeout"`      // Timeout for ffmpeg operations
}

// DefaultReaderConfig returns default reader configuration
func DefaultReaderConfig() *ReaderConfig {
	return &ReaderConfig{
		FFmpegPath:  "ffmpeg",  // Assume in PATH
		FFprobePath: "ffprobe", // Assume in PATH
		Timeout:     60 * time.Second,
	}
}

// Reader decodes audio files to mono float64 PCM using FFmpeg
type Reader struct {
	config *ReaderConfig
	logger logging.Logger
}

// NewReader creates a new audio reader
func NewReader(config *ReaderConfig) *Reader {
	if config == nil {
		config = DefaultReaderConfig()
	}
	return &Reader{config: config, logger: logging.GetGlobalLogger()}
}

// SetLogger overrides the diagnostics sink used by the reader
func (r *Reader) SetLogger(logger logging.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// ReadFile decodes filename to mono float64 samples at the file's native
// sample rate. The optional tstart/tstop bounds restrict the decoded range
// to [tstart, tstop) seconds; pass a negative value to leave a bound open.
// Sample offsets are floor(time * sampleRate), matching the file decoder
// capability contract.
func (r *Reader) ReadFile(ctx context.Context, filename string, tstart, tstop float64) (*Waveform, error) {
	logger := r.logger.WithFields(logging.Fields{
		"component": "audio_reader",
		"filename":  filename,
	})

	if _, err := os.Stat(filename); err != nil {
		return nil, fmt.Errorf("audio: %w", err)
	}

	sampleRate, err := r.probeSampleRate(ctx, filename)
	if err != nil {
		logger.Error(err, "Failed to probe audio file")
		return nil, err
	}

	logger.Debug("Audio sample rate detected", logging.Fields{
		"sample_rate": sampleRate,
	})

	args := []string{
		"-v", "error",
	}
	startSample := 0.0
	if tstart > 0 {
		// Seek in samples rounded down, expressed back in seconds so the
		// boundary matches floor(tstart * rate)
		startSample = math.Floor(tstart * float64(sampleRate))
		args = append(args, "-ss", fmt.Sprintf("%.9f", startSample/float64(sampleRate)))
	}
	args = append(args, "-i", filename)
	if tstop > 0 {
		// Input seeking resets timestamps to zero, so the stop bound must be
		// expressed as a duration from the seek point rather than an
		// absolute end time
		stopSample := math.Floor(tstop * float64(sampleRate))
		args = append(args, "-t", fmt.Sprintf("%.9f", (stopSample-startSample)/float64(sampleRate)))
	}
	args = append(args,
		"-vn",         // No video
		"-f", "f64le", // Raw float64 little-endian
		"-ac", "1", // Mono
		"-ar", strconv.Itoa(sampleRate), // Keep the native rate
		"pipe:1",
	)

	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.config.FFmpegPath, args...)

	startTime := time.Now()
	output, err := cmd.Output()
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			logger.Error(err, "FFmpeg decode failed", logging.Fields{
				"stderr": string(exitError.Stderr),
			})
			return nil, fmt.Errorf("ffmpeg decode failed: %w, stderr: %s", err, string(exitError.Stderr))
		}
		return nil, fmt.Errorf("ffmpeg decode failed: %w", err)
	}

	samples := bytesToFloat64(output)
	if len(samples) == 0 {
		return nil, fmt.Errorf("no audio samples decoded from %s", filename)
	}

	logger.Debug("Audio file loaded", logging.Fields{
		"samples":     len(samples),
		"duration_s":  float64(len(samples)) / float64(sampleRate),
		"decode_time": time.Since(startTime).Seconds(),
	})

	return &Waveform{
		Samples:    samples,
		SampleRate: sampleRate,
		Path:       filename,
	}, nil
}

// probeSampleRate asks ffprobe for the sample rate of the first audio stream
func (r *Reader) probeSampleRate(ctx context.Context, filename string) (int, error) {
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.config.FFprobePath,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=sample_rate",
		"-of", "json",
		filename,
	)

	output, err := cmd.Output()
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			return 0, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, string(exitError.Stderr))
		}
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe struct {
		Streams []struct {
			SampleRate string `json:"sample_rate"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return 0, fmt.Errorf("ffprobe output parse failed: %w", err)
	}
	if len(probe.Streams) == 0 {
		return 0, fmt.Errorf("no audio stream found in %s", filename)
	}

	sampleRate, err := strconv.Atoi(probe.Streams[0].SampleRate)
	if err != nil || sampleRate <= 0 {
		return 0, fmt.Errorf("invalid sample rate %q in %s", probe.Streams[0].SampleRate, filename)
	}
	return sampleRate, nil
}

// bytesToFloat64 converts raw f64le bytes to a float64 slice
func bytesToFloat64(data []byte) []float64 {
	sampleCount := len(data) / 8
	samples := make([]float64, sampleCount)

	for i := 0; i < sampleCount; i++ {
		bits := binary.LittleEndian.Uint64(data[i*8 : (i+1)*8])
		samples[i] = math.Float64frombits(bits)
	}

	return samples
}
