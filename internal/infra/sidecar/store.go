// Package sidecar reads and writes the per-model metadata record stored
// next to each model file as <model>.json. The format matches the WebUI
// extra-networks metadata files so existing tooling keeps working.
package sidecar

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/civisync/civisync/internal/domain"
)

// Store persists sidecar records. It is the sole writer of sidecar files;
// atomicity comes from writing a temp file in the same directory and
// renaming it over the target, so a concurrent reader sees either the old
// or the new complete record.
type Store struct{}

// New creates a Store.
func New() *Store { return &Store{} }

// Path returns the sidecar path for a model file: same base, .json ext.
func (s *Store) Path(modelPath string) string {
	return strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + ".json"
}

// PreviewPath returns the preview-image path the WebUI convention uses.
func (s *Store) PreviewPath(modelPath string) string {
	return strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + ".preview.png"
}

// HasPreview reports whether the model already has a preview image.
func (s *Store) HasPreview(modelPath string) bool {
	_, err := os.Stat(s.PreviewPath(modelPath))
	return err == nil
}

// Read loads the sidecar record for modelPath.
// Returns domain.ErrSidecarMissing when no sidecar exists.
func (s *Store) Read(modelPath string) (*domain.SidecarRecord, error) {
	data, err := os.ReadFile(s.Path(modelPath))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrSidecarMissing
	}
	if err != nil {
		return nil, fmt.Errorf("read sidecar for %s: %v: %w", filepath.Base(modelPath), err, domain.ErrIO)
	}

	var rec domain.SidecarRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse sidecar for %s: %v: %w", filepath.Base(modelPath), err, domain.ErrIO)
	}
	return &rec, nil
}

// Write atomically replaces the sidecar record for modelPath.
func (s *Store) Write(modelPath string, rec domain.SidecarRecord) error {
	target := s.Path(modelPath)

	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	data = append(data, '\n')

	// Temp file in the target directory; rename is only atomic within
	// one filesystem.
	tmp, err := os.CreateTemp(filepath.Dir(target), ".civisync-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp sidecar: %v: %w", err, domain.ErrIO)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp sidecar: %v: %w", err, domain.ErrIO)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp sidecar: %v: %w", err, domain.ErrIO)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp sidecar: %v: %w", err, domain.ErrIO)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace sidecar %s: %v: %w", target, err, domain.ErrIO)
	}
	return nil
}

// Probe verifies dir accepts writes by creating and removing a temp file.
// Used once per run so an unwritable sidecar location fails the run up
// front instead of item by item.
func (s *Store) Probe(dir string) error {
	f, err := os.CreateTemp(dir, ".civisync-probe-*")
	if err != nil {
		return fmt.Errorf("%s: %v: %w", dir, err, domain.ErrSidecarRootUnwritable)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return nil
}
