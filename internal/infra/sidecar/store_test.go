package sidecar

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/civisync/civisync/internal/domain"
)

func TestPath(t *testing.T) {
	s := New()
	if got := s.Path("/m/loras/foo.safetensors"); got != "/m/loras/foo.json" {
		t.Errorf("Path() = %q", got)
	}
	if got := s.PreviewPath("/m/loras/foo.safetensors"); got != "/m/loras/foo.preview.png" {
		t.Errorf("PreviewPath() = %q", got)
	}
}

func TestReadMissing(t *testing.T) {
	s := New()
	_, err := s.Read(filepath.Join(t.TempDir(), "absent.safetensors"))
	if !errors.Is(err, domain.ErrSidecarMissing) {
		t.Errorf("error = %v, want ErrSidecarMissing", err)
	}
}

func TestReadCorrupt(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "bad.safetensors")
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := New().Read(model)
	if !errors.Is(err, domain.ErrIO) {
		t.Errorf("error = %v, want ErrIO", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "foo.safetensors")

	s := New()
	rec := domain.SidecarRecord{
		VersionID:      7,
		ModelID:        42,
		SDVersion:      "SD 1.5",
		ActivationText: "anime, 1girl",
		TrainedWords:   []string{"anime", "1girl"},
		Description:    "a test model",
	}
	if err := s.Write(model, rec); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	got, err := s.Read(model)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if got.VersionID != 7 || got.ActivationText != "anime, 1girl" {
		t.Errorf("round trip = %+v", got)
	}
}

func TestWriteUsesWebUIKeys(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "foo.safetensors")

	s := New()
	rec := domain.SidecarRecord{SDVersion: "SDXL 1.0", ActivationText: "trigger"}
	if err := s.Write(model, rec); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(s.Path(model))
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"sd version", "activation text"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("sidecar missing key %q; keys: %v", key, keys(raw))
		}
	}
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestWriteReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "foo.safetensors")

	s := New()
	if err := s.Write(model, domain.SidecarRecord{VersionID: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(model, domain.SidecarRecord{VersionID: 2}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Read(model)
	if err != nil {
		t.Fatal(err)
	}
	if got.VersionID != 2 {
		t.Errorf("VersionID = %d, want 2", got.VersionID)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("stale temp file: %s", e.Name())
		}
	}
}

func TestHasPreview(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "foo.safetensors")

	s := New()
	if s.HasPreview(model) {
		t.Error("HasPreview() = true with no preview")
	}
	if err := os.WriteFile(s.PreviewPath(model), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !s.HasPreview(model) {
		t.Error("HasPreview() = false with preview present")
	}
}

func TestProbe(t *testing.T) {
	s := New()
	if err := s.Probe(t.TempDir()); err != nil {
		t.Errorf("Probe() on writable dir: %v", err)
	}

	if os.Geteuid() == 0 {
		t.Skip("root bypasses permission checks")
	}
	dir := t.TempDir()
	if err := os.Chmod(dir, 0o555); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(dir, 0o755)

	err := s.Probe(dir)
	if !errors.Is(err, domain.ErrSidecarRootUnwritable) {
		t.Errorf("Probe() on read-only dir = %v, want ErrSidecarRootUnwritable", err)
	}
}
