package pitch

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prosodylab/prosolia/logging"
)

// writeFakeTool installs a shell script at the expected executable path
// under root and returns that path
func writeFakeTool(t *testing.T, root, script string) string {
	t.Helper()
	dir := filepath.Join(root, "src", "featbin")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	tool := filepath.Join(dir, "compute-kaldi-pitch-feats")
	if err := os.WriteFile(tool, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return tool
}

// leakedTempDirs lists temp directories created by the extractor that are
// still on disk
func leakedTempDirs(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "prosolia-pitch-*"))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func newTestExtractor(config *Config) *Extractor {
	e := NewExtractor(config)
	e.SetLogger(&logging.NoOpLogger{})
	return e
}

func TestExtract_MissingTool(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	// A real recording tool exists under root, but the extractor is pointed
	// at a root with no src/featbin below it; the spy file proves nothing
	// was spawned on the missing-tool path
	spyFile := filepath.Join(root, "invoked.txt")
	writeFakeTool(t, root, `touch "`+spyFile+`"`)
	doctored := filepath.Join(root, "missing")

	e := newTestExtractor(&Config{KaldiRoot: doctored})
	_, err := e.Extract(context.Background(), "some.wav", 16000)
	if err == nil {
		t.Fatal("expected an error for a missing executable, got nil")
	}

	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("want NotFoundError, got %T: %v", err, err)
	}
	if !strings.Contains(notFound.Path, filepath.Join("missing", "src", "featbin", "compute-kaldi-pitch-feats")) {
		t.Errorf("error should name the expected tool path, got %q", notFound.Path)
	}

	if _, statErr := os.Stat(spyFile); !os.IsNotExist(statErr) {
		t.Error("no subprocess may be spawned when the tool is missing")
	}
}

func TestExtract_Success(t *testing.T) {
	root := t.TempDir() // not parallel: the test counts live temp directories

	// The fake tool records its arguments and writes a small text archive
	// to the ark,t: output path
	writeFakeTool(t, root, `
echo "$@" > "`+filepath.Join(root, "args.txt")+`"
for a in "$@"; do
  case "$a" in ark,t:*) out="${a#ark,t:}";; esac
done
printf 'utt [\n0.91 118.5\n-0.32 0\n0.75 121 ]\n' > "$out"
`)

	wav := filepath.Join(root, "utt.wav")
	if err := os.WriteFile(wav, []byte("not really audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	before := len(leakedTempDirs(t))

	e := newTestExtractor(&Config{
		KaldiRoot:     root,
		FrameLengthMs: 25,
		FrameShiftMs:  10,
		Options:       "--min-f0=50 --max-f0=400",
	})
	track, err := e.Extract(context.Background(), wav, 16000)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	wantPOV := []float64{0.91, -0.32, 0.75}
	wantPitch := []float64{118.5, 0, 121}
	if len(track.POV) != len(wantPOV) || len(track.Pitch) != len(wantPitch) {
		t.Fatalf("want %d frames, got %d POV / %d pitch", len(wantPOV), len(track.POV), len(track.Pitch))
	}
	for i := range wantPOV {
		if math.Abs(track.POV[i]-wantPOV[i]) > 1e-12 {
			t.Errorf("POV[%d]: want %g, got %g", i, wantPOV[i], track.POV[i])
		}
		if math.Abs(track.Pitch[i]-wantPitch[i]) > 1e-12 {
			t.Errorf("Pitch[%d]: want %g, got %g", i, wantPitch[i], track.Pitch[i])
		}
	}

	args, err := os.ReadFile(filepath.Join(root, "args.txt"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"--sample-frequency=16000",
		"--frame-length=25",
		"--frame-shift=10",
		"--min-f0=50",
		"--max-f0=400",
		"scp:",
		"ark,t:",
	} {
		if !strings.Contains(string(args), want) {
			t.Errorf("tool arguments should contain %q, got: %s", want, args)
		}
	}

	if after := len(leakedTempDirs(t)); after > before {
		t.Errorf("temp directory leaked: %d before, %d after", before, after)
	}
}

func TestExtract_ToolFailure(t *testing.T) {
	root := t.TempDir() // not parallel: the test counts live temp directories
	writeFakeTool(t, root, "exit 3\n")

	wav := filepath.Join(root, "utt.wav")
	if err := os.WriteFile(wav, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	before := len(leakedTempDirs(t))

	e := newTestExtractor(&Config{KaldiRoot: root})
	_, err := e.Extract(context.Background(), wav, 16000)
	if err == nil {
		t.Fatal("expected an error for a failing tool, got nil")
	}

	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("want ToolError, got %T: %v", err, err)
	}
	if toolErr.ExitCode != 3 {
		t.Errorf("want exit code 3, got %d", toolErr.ExitCode)
	}
	if !strings.Contains(toolErr.Command, "compute-kaldi-pitch-feats") {
		t.Errorf("error should carry the command line, got %q", toolErr.Command)
	}

	if after := len(leakedTempDirs(t)); after > before {
		t.Errorf("temp directory leaked after failure: %d before, %d after", before, after)
	}
}

func TestExtract_Timeout(t *testing.T) {
	root := t.TempDir() // not parallel: the test counts live temp directories
	writeFakeTool(t, root, "sleep 30\n")

	wav := filepath.Join(root, "utt.wav")
	if err := os.WriteFile(wav, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	before := len(leakedTempDirs(t))

	e := newTestExtractor(&Config{
		KaldiRoot: root,
		Timeout:   50 * time.Millisecond,
	})
	start := time.Now()
	_, err := e.Extract(context.Background(), wav, 16000)
	if err == nil {
		t.Fatal("expected an error for a hung tool, got nil")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("want deadline error, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout did not kill the tool promptly, took %s", elapsed)
	}

	if after := len(leakedTempDirs(t)); after > before {
		t.Errorf("temp directory leaked after timeout: %d before, %d after", before, after)
	}
}

func TestExtract_ManifestContents(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	// The fake tool copies the manifest it was given next to the root so
	// the test can inspect it after the temp dir is destroyed
	writeFakeTool(t, root, `
for a in "$@"; do
  case "$a" in
    scp:*) cp "${a#scp:}" "`+filepath.Join(root, "manifest.txt")+`";;
    ark,t:*) out="${a#ark,t:}";;
  esac
done
printf 'utt [\n0.5 100 ]\n' > "$out"
`)

	wav := filepath.Join(root, "recording.wav")
	if err := os.WriteFile(wav, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	e := newTestExtractor(&Config{KaldiRoot: root})
	if _, err := e.Extract(context.Background(), wav, 8000); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	manifest, err := os.ReadFile(filepath.Join(root, "manifest.txt"))
	if err != nil {
		t.Fatal(err)
	}
	line := strings.TrimSpace(string(manifest))
	fields := strings.Fields(line)
	if len(fields) != 2 {
		t.Fatalf("manifest should have one '<id> <path>' line, got %q", line)
	}
	if fields[0] != "recording" {
		t.Errorf("utterance id should be the basename without extension, got %q", fields[0])
	}
	if !filepath.IsAbs(fields[1]) || !strings.HasSuffix(fields[1], "recording.wav") {
		t.Errorf("manifest should hold the absolute wav path, got %q", fields[1])
	}
}

func TestParseTable(t *testing.T) {
	t.Parallel()

	track, err := parseTable(strings.NewReader("utt [\n0.5 100\n-0.1 0\n0.9 230 ]\n"))
	if err != nil {
		t.Fatalf("parseTable failed: %v", err)
	}
	if len(track.POV) != 3 || len(track.Pitch) != 3 {
		t.Fatalf("want 3 frames, got %d/%d", len(track.POV), len(track.Pitch))
	}

	if _, err := parseTable(strings.NewReader("utt [\n0.5\n")); err == nil {
		t.Error("a one-column row should fail")
	}
	if _, err := parseTable(strings.NewReader("utt [\nnope 100\n")); err == nil {
		t.Error("a non-numeric POV should fail")
	}
}
