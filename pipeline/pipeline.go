// Package pipeline orchestrates the prosolia feature-extraction run: load a
// waveform, compute the gammatone filterbank energy, derive delta,
// delta-delta and DCT features, extract the pitch track, and assemble one
// immutable result.
package pipeline

import (
	"context"
	"fmt"

	"github.com/prosodylab/prosolia/audio"
	"github.com/prosodylab/prosolia/features"
	"github.com/prosodylab/prosolia/gammatone"
	"github.com/prosodylab/prosolia/logging"
	"github.com/prosodylab/prosolia/pitch"
)

// Pipeline runs the feature-extraction sequence for one configuration.
// Runs share no mutable state, so one Pipeline may process files from
// several goroutines concurrently.
type Pipeline struct {
	config *Config
	logger logging.Logger
}

// New creates a pipeline after validating config. A nil config means the
// defaults, which fail validation since the Kaldi root is required.
func New(config *Config) (*Pipeline, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{config: config, logger: logging.GetGlobalLogger()}, nil
}

// SetLogger overrides the diagnostics sink used by the pipeline and every
// stage it drives
func (p *Pipeline) SetLogger(logger logging.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// Config returns the pipeline configuration
func (p *Pipeline) Config() *Config {
	return p.config
}

// Run processes one audio file. Any stage failure aborts the run
// immediately; there are no retries and no partial results.
//
// The pitch stage runs on the ORIGINAL file path at the file's native
// sample rate, independent of any tstart/tstop restriction applied to the
// in-memory waveform; the filterbank and pitch frame axes are therefore not
// guaranteed to align and are reported separately.
func (p *Pipeline) Run(ctx context.Context, wavPath string) (*Result, error) {
	cfg := p.config

	reader := audio.NewReader(&audio.ReaderConfig{
		FFmpegPath:  cfg.Audio.FFmpegPath,
		FFprobePath: cfg.Audio.FFprobePath,
		Timeout:     cfg.Audio.timeout(),
	})
	reader.SetLogger(p.logger)

	wave, err := reader.ReadFile(ctx, wavPath, cfg.Audio.TStart, cfg.Audio.TStop)
	if err != nil {
		return nil, err
	}

	engine := gammatone.NewEngine(gammatone.Params{
		Channels:    cfg.Filterbank.Channels,
		LowFreq:     cfg.Filterbank.LowFrequency,
		WindowTime:  cfg.Energy.WindowTime,
		OverlapTime: cfg.Energy.OverlapTime,
		Compression: cfg.Energy.Compression,
		Accurate:    cfg.Filterbank.Accurate,
	})
	engine.SetLogger(p.logger)

	energy, centerFreqs, err := engine.Spectrogram(wave.Samples, wave.SampleRate)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("computing delta")
	delta, err := features.Delta(energy)
	if err != nil {
		return nil, fmt.Errorf("delta: %w", err)
	}

	p.logger.Debug("computing delta-delta")
	deltaDelta, err := features.DeltaDelta(energy)
	if err != nil {
		return nil, fmt.Errorf("delta-delta: %w", err)
	}

	p.logger.Debug("computing DCT")
	dct, err := features.NewDCT(cfg.DCT.Size, cfg.DCT.Normalize)
	if err != nil {
		return nil, err
	}
	dctCoeffs, err := dct.Reduce(energy)
	if err != nil {
		return nil, fmt.Errorf("dct: %w", err)
	}

	extractor := pitch.NewExtractor(&pitch.Config{
		KaldiRoot:     cfg.Pitch.KaldiRoot,
		FrameLengthMs: cfg.Pitch.FrameLengthMs,
		FrameShiftMs:  cfg.Pitch.FrameShiftMs,
		Options:       cfg.Pitch.Options,
		Verbose:       cfg.Pitch.Verbose,
		Timeout:       cfg.Pitch.timeout(),
	})
	extractor.SetLogger(p.logger)

	track, err := extractor.Extract(ctx, wavPath, wave.SampleRate)
	if err != nil {
		return nil, err
	}

	return &Result{
		WavPath:           wavPath,
		Config:            cfg,
		SampleRate:        wave.SampleRate,
		CenterFrequencies: centerFreqs,
		Energy:            energy,
		Delta:             delta,
		DeltaDelta:        deltaDelta,
		DCT:               dctCoeffs,
		POV:               track.POV,
		Pitch:             track.Pitch,
	}, nil
}
