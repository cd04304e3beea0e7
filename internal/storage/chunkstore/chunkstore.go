// Package chunkstore is a minimal stand-in for the bundled Zarr/xtensor
// array library referenced by spec.md §8 ("Bundled Zarr/xtensor numeric
// library"): a backend mapping (dataset, chunk index) to bytes, always
// compressed with zstd (the Compressor metadata field is stored but does
// not select the codec), and a JSON .zarray metadata sidecar. The
// full Zarr/xtensor dependency tree is out of scope; only its service to
// the adaptive-stream task is modeled here.
package chunkstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/josevcm/nfc-laboratory-go/internal/errs"
)

// Metadata mirrors Zarr's .zarray document.
type Metadata struct {
	Dtype      string `json:"dtype"`
	Shape      []int  `json:"shape"`
	Chunks     []int  `json:"chunks"`
	FillValue  float64 `json:"fill_value"`
	Order      string `json:"order"`
	Compressor string `json:"compressor"`
}

// Store is a directory-backed chunk store: one subdirectory per dataset,
// one file per chunk index, named "c<index>", plus a ".zarray" metadata
// file.
type Store struct {
	root string
}

// Open returns a Store rooted at dir, creating it if absent.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.FatalIO, errs.FileOpenFailed, "create chunkstore root", err)
	}
	return &Store{root: dir}, nil
}

// Create writes a dataset's .zarray metadata, establishing its shape,
// chunk shape, and compressor.
func (s *Store) Create(dataset string, meta Metadata) error {
	dir := filepath.Join(s.root, dataset)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.FatalIO, errs.FileOpenFailed, "create dataset directory", err)
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return errs.Wrap(errs.FatalIO, errs.WriteDataFailed, "marshal .zarray", err)
	}
	return os.WriteFile(filepath.Join(dir, ".zarray"), data, 0o644)
}

// Exists reports whether dataset has been created.
func (s *Store) Exists(dataset string) bool {
	_, err := os.Stat(filepath.Join(s.root, dataset, ".zarray"))
	return err == nil
}

// Metadata reads a dataset's .zarray.
func (s *Store) Metadata(dataset string) (Metadata, error) {
	data, err := os.ReadFile(filepath.Join(s.root, dataset, ".zarray"))
	if err != nil {
		return Metadata{}, errs.Wrap(errs.NotReady, errs.MissingFileName, "read .zarray", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, errs.Wrap(errs.Format, errs.InvalidStorageFormat, "parse .zarray", err)
	}
	return m, nil
}

// Keys lists the chunk file names ("c<index>") present for dataset.
func (s *Store) Keys(dataset string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, dataset))
	if err != nil {
		return nil, errs.Wrap(errs.NotReady, errs.MissingFileName, "list chunks", err)
	}
	var keys []string
	for _, e := range entries {
		if e.Name() != ".zarray" {
			keys = append(keys, e.Name())
		}
	}
	return keys, nil
}

// WriteChunk compresses and writes one chunk's raw bytes.
func (s *Store) WriteChunk(dataset string, chunkIndex int, raw []byte) error {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return errs.Wrap(errs.FatalIO, errs.WriteDataFailed, "create zstd encoder", err)
	}
	defer enc.Close()
	compressed := enc.EncodeAll(raw, nil)
	path := filepath.Join(s.root, dataset, chunkName(chunkIndex))
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return errs.Wrap(errs.FatalIO, errs.WriteDataFailed, "write chunk", err)
	}
	return nil
}

// ReadChunk reads and decompresses one chunk.
func (s *Store) ReadChunk(dataset string, chunkIndex int) ([]byte, error) {
	path := filepath.Join(s.root, dataset, chunkName(chunkIndex))
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.NotReady, errs.MissingFileName, "read chunk", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errs.Wrap(errs.FatalIO, errs.ReadDataFailed, "create zstd decoder", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Format, errs.InvalidStorageFormat, "decompress chunk", err)
	}
	return raw, nil
}

// Remove deletes dataset entirely.
func (s *Store) Remove(dataset string) error {
	return os.RemoveAll(filepath.Join(s.root, dataset))
}

func chunkName(index int) string { return fmt.Sprintf("c%d", index) }
