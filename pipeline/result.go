package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// Result is the terminal aggregate of one pipeline run, constructed once
// and never mutated. Matrices are channel x time (or coefficient x time for
// DCT); POV and Pitch share the pitch tool's own frame axis.
type Result struct {
	WavPath           string      `json:"wav" msgpack:"wav"`
	Config            *Config     `json:"config" msgpack:"config"`
	SampleRate        int         `json:"sample_frequency" msgpack:"sample_frequency"`
	CenterFrequencies []float64   `json:"center_frequencies" msgpack:"center_frequencies"`
	Energy            [][]float64 `json:"energy" msgpack:"energy"`
	Delta             [][]float64 `json:"delta" msgpack:"delta"`
	DeltaDelta        [][]float64 `json:"delta_delta" msgpack:"delta_delta"`
	DCT               [][]float64 `json:"dct" msgpack:"dct"`
	POV               []float64   `json:"pov" msgpack:"pov"`
	Pitch             []float64   `json:"pitch" msgpack:"pitch"`
}

// WriteJSON serializes the result as indented JSON
func (r *Result) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteMsgpack serializes the result as MessagePack, a compact binary form
// readable by common numeric tooling
func (r *Result) WriteMsgpack(w io.Writer) error {
	return msgpack.NewEncoder(w).Encode(r)
}

// Save writes the result to path, choosing the encoding by extension:
// .msgpack for MessagePack, anything else for JSON
func (r *Result) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("result: create %q: %w", path, err)
	}

	switch filepath.Ext(path) {
	case ".msgpack":
		err = r.WriteMsgpack(f)
	default:
		err = r.WriteJSON(f)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("result: write %q: %w", path, err)
	}
	return f.Close()
}
