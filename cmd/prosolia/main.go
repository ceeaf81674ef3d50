// Command prosolia extracts pitch, probability of voicing and filterbank
// energy modulation features from a wav file.
//
// Usage:
//
//	prosolia [-v] -c config.yaml [-o output.json] <file.wav>
//
// The output encoding follows the output file extension (.json or
// .msgpack); by default the output path is the input path with the
// extension replaced by .json.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/prosodylab/prosolia/gammatone"
	"github.com/prosodylab/prosolia/logging"
	"github.com/prosodylab/prosolia/pipeline"
	"github.com/prosodylab/prosolia/pitch"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		outputPath string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "prosolia [flags] <file.wav>",
		Short: "Extract pitch, probability of voicing and filterbank energy modulation from a wav file",
		Args:  cobra.ExactArgs(1),
		// Errors are reported once, by exitCode's caller path below
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], configPath, outputPath, verbose)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "configuration file to load (required)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file, default is <wav>.json")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "display debug messages")
	cobra.CheckErr(cmd.MarkFlagRequired("config"))

	return cmd
}

func run(ctx context.Context, wavPath, configPath, outputPath string, verbose bool) error {
	logger := logging.NewDefaultLogger()
	if verbose {
		logger.SetLevel(logging.DebugLevel)
	}
	logging.SetGlobalLogger(logger)

	cfg, err := pipeline.LoadConfig(configPath)
	if err != nil {
		return reportFatal(err)
	}
	if verbose {
		// Let the pitch tool's stderr through with the rest of the diagnostics
		cfg.Pitch.Verbose = true
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		return reportFatal(err)
	}
	p.SetLogger(logger)

	result, err := p.Run(ctx, wavPath)
	if err != nil {
		return reportFatal(err)
	}

	if outputPath == "" {
		outputPath = strings.TrimSuffix(wavPath, filepath.Ext(wavPath)) + ".json"
	}
	logger.Info("saving results", logging.Fields{"output": outputPath})
	if err := result.Save(outputPath); err != nil {
		return reportFatal(err)
	}
	return nil
}

// reportFatal prints the user-facing diagnostic once and passes the error
// up for exit-status mapping
func reportFatal(err error) error {
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "keyboard interruption, exiting")
	} else {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
	}
	return err
}

// exitCode is the single error-to-exit-status mapping at the process
// boundary: each domain error kind has a fixed status
func exitCode(err error) int {
	var invalidParam *gammatone.InvalidParameterError
	var notFound *pitch.NotFoundError
	var toolErr *pitch.ToolError
	var pathErr *fs.PathError

	switch {
	case errors.Is(err, context.Canceled):
		return 130
	case errors.As(err, &invalidParam):
		return 2
	case errors.As(err, &notFound):
		return 3
	case errors.As(err, &toolErr):
		return 4
	case errors.As(err, &pathErr):
		return 5
	default:
		return 1
	}
}
