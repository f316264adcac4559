// Package output stores simulation results as JSON files, optionally zstd
// compressed.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/signalsfoundry/epidemic-simulator/model"
)

// CompressedExt marks output files that are zstd compressed.
const CompressedExt = ".zst"

// Write stores out at path as indented JSON. Paths ending in CompressedExt
// are zstd compressed. The path "-" writes to stdout.
func Write(path string, out *model.Output) error {
	if path == "-" {
		return Encode(os.Stdout, out)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if !compressed(path) {
		if err := Encode(f, out); err != nil {
			return err
		}
		return f.Close()
	}

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if err := Encode(enc, out); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("zstd close: %w", err)
	}
	return f.Close()
}

// Encode writes out to w as indented JSON.
func Encode(w io.Writer, out *model.Output) error {
	bw := bufio.NewWriterSize(w, 256*1024)
	enc := json.NewEncoder(bw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return bw.Flush()
}

// Read loads an output file written by Write.
func Read(path string) (*model.Output, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if compressed(path) {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	}

	var out model.Output
	if err := json.NewDecoder(bufio.NewReaderSize(r, 256*1024)).Decode(&out); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}
	return &out, nil
}

func compressed(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), CompressedExt)
}
