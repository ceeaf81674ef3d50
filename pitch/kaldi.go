// Package pitch extracts a fundamental-frequency and voicing-confidence
// track from a wav file by driving Kaldi's compute-kaldi-pitch-feats binary
// as a subprocess.
package pitch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prosodylab/prosolia/logging"
)

// toolRelPath is the fixed location of the pitch binary inside a compiled
// Kaldi distribution
var toolRelPath = filepath.Join("src", "featbin", "compute-kaldi-pitch-feats")

// Track holds the aligned per-frame outputs of the pitch extractor. POV is
// the normalized cross-correlation voicing confidence in [-1, 1], higher for
// voiced frames; Pitch is the fundamental frequency estimate in Hz.
//
// Frame count and spacing are governed by the tool's frame-length and
// frame-shift, not by any filterbank timing; callers must not assume the
// track aligns with spectrogram frames.
type Track struct {
	POV   []float64 `json:"pov"`
	Pitch []float64 `json:"pitch"`
}

// NotFoundError reports a missing compute-kaldi-pitch-feats executable,
// detected before any subprocess is spawned
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("pitch: %s not found", e.Path)
}

// ToolError reports a pitch tool subprocess that exited nonzero
type ToolError struct {
	Command  string
	ExitCode int
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("pitch: command %q returned with %d", e.Command, e.ExitCode)
}

// Config holds pitch extractor configuration
type Config struct {
	KaldiRoot     string        `json:"kaldi_root"`      // Root of a compiled Kaldi distribution
	FrameLengthMs float64       `json:"frame_length_ms"` // Frame length in milliseconds (default: 25)
	FrameShiftMs  float64       `json:"frame_shift_ms"`  // Frame shift in milliseconds (default: 10)
	Options       string        `json:"options"`         // Extra --key=value flags, forwarded verbatim
	Verbose       bool          `json:"verbose"`         // Pass tool stderr through instead of discarding it
	Timeout       time.Duration `json:"timeout"`         // Kill the tool after this long, 0 for no limit
}

// DefaultConfig returns default pitch extractor configuration. KaldiRoot has
// no default and must be set by the caller.
func DefaultConfig() *Config {
	return &Config{
		FrameLengthMs: 25,
		FrameShiftMs:  10,
	}
}

// Extractor runs the Kaldi pitch tool on wav files
type Extractor struct {
	config *Config
	logger logging.Logger
}

// NewExtractor creates a pitch extractor. Zero-valued frame timing fields in
// config are replaced by defaults.
func NewExtractor(config *Config) *Extractor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.FrameLengthMs == 0 {
		config.FrameLengthMs = 25
	}
	if config.FrameShiftMs == 0 {
		config.FrameShiftMs = 10
	}
	return &Extractor{config: config, logger: logging.GetGlobalLogger()}
}

// SetLogger overrides the diagnostics sink used by the extractor
func (e *Extractor) SetLogger(logger logging.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Extract runs compute-kaldi-pitch-feats on wavfile and parses its output.
//
// The tool works inside a freshly created temporary directory holding the
// wav.scp manifest and the text output table; the directory is removed on
// every exit path, success or failure. The tool's stderr goes to the null
// device unless Config.Verbose is set.
func (e *Extractor) Extract(ctx context.Context, wavfile string, sampleRate int) (*Track, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("pitch: sample rate must be positive, got %d", sampleRate)
	}
	if e.config.KaldiRoot == "" {
		return nil, fmt.Errorf("pitch: kaldi root not configured")
	}

	// Precondition: the executable must exist before anything is spawned
	tool := filepath.Join(e.config.KaldiRoot, toolRelPath)
	if info, err := os.Stat(tool); err != nil || info.IsDir() {
		return nil, &NotFoundError{Path: tool}
	}

	e.logger.Debug("estimating pitch and POV", logging.Fields{
		"wavfile":     wavfile,
		"sample_rate": sampleRate,
	})

	tempdir, err := os.MkdirTemp("", "prosolia-pitch-")
	if err != nil {
		return nil, fmt.Errorf("pitch: create temp dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tempdir); rmErr != nil {
			e.logger.Warn("failed to remove pitch temp dir", logging.Fields{
				"dir":   tempdir,
				"error": rmErr.Error(),
			})
		}
	}()

	// Register the wav input, one manifest line "<utterance_id> <abs_path>"
	absWav, err := filepath.Abs(wavfile)
	if err != nil {
		return nil, fmt.Errorf("pitch: resolve %s: %w", wavfile, err)
	}
	uttID := strings.TrimSuffix(filepath.Base(wavfile), filepath.Ext(wavfile))
	scp := filepath.Join(tempdir, "wav.scp")
	if err := os.WriteFile(scp, []byte(uttID+" "+absWav+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("pitch: write manifest: %w", err)
	}

	outFile := filepath.Join(tempdir, "pitch.txt")

	args := []string{
		fmt.Sprintf("--sample-frequency=%d", sampleRate),
		fmt.Sprintf("--frame-length=%g", e.config.FrameLengthMs),
		fmt.Sprintf("--frame-shift=%g", e.config.FrameShiftMs),
	}
	args = append(args, strings.Fields(e.config.Options)...)
	args = append(args, "scp:"+scp, "ark,t:"+outFile)

	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Dir = tempdir
	if e.config.Verbose {
		cmd.Stderr = os.Stderr
	}

	commandLine := tool + " " + strings.Join(args, " ")
	e.logger.Debug("running pitch tool", logging.Fields{
		"command": commandLine,
	})

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("pitch: %s: %w", commandLine, ctxErr)
		}
		if exitError, ok := err.(*exec.ExitError); ok {
			return nil, &ToolError{Command: commandLine, ExitCode: exitError.ExitCode()}
		}
		return nil, fmt.Errorf("pitch: run %s: %w", commandLine, err)
	}

	f, err := os.Open(outFile)
	if err != nil {
		return nil, fmt.Errorf("pitch: open tool output: %w", err)
	}
	defer f.Close()

	track, err := parseTable(f)
	if err != nil {
		return nil, fmt.Errorf("pitch: parse tool output: %w", err)
	}

	e.logger.Debug("pitch track extracted", logging.Fields{
		"frames": len(track.Pitch),
	})
	return track, nil
}

// parseTable reads the tool's text table: a header line to skip, then one
// line per frame whose first two columns are POV and pitch in Hz. The Kaldi
// text-archive trailing "]" token is tolerated.
func parseTable(r io.Reader) (*Track, error) {
	track := &Track{}
	scanner := bufio.NewScanner(r)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo == 1 {
			continue // archive header, "<utterance_id> ["
		}
		line := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(scanner.Text()), "]"))
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: want 2 columns, got %d", lineNo, len(fields))
		}
		pov, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad POV value %q", lineNo, fields[0])
		}
		hz, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad pitch value %q", lineNo, fields[1])
		}
		track.POV = append(track.POV, pov)
		track.Pitch = append(track.Pitch, hz)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return track, nil
}
