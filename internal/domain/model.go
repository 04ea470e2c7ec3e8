// Package domain holds the core types of CiviSync: the local model
// inventory, content hashes, catalog records, sidecar records, and the
// per-item sync state machine. Domain types are pure: no I/O, no
// infrastructure dependency.
package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ModelType classifies a local model artifact by where it was found.
type ModelType string

const (
	TypeCheckpoint ModelType = "checkpoint"
	TypeLORA       ModelType = "lora"
	TypeEmbedding  ModelType = "embedding"
)

// AllModelTypes lists every known model type, in scan order.
var AllModelTypes = []ModelType{TypeCheckpoint, TypeLORA, TypeEmbedding}

// ParseModelType maps a user-supplied string to a ModelType.
func ParseModelType(s string) (ModelType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "checkpoint", "ckpt":
		return TypeCheckpoint, nil
	case "lora", "lycoris", "dora":
		return TypeLORA, nil
	case "embedding", "ti", "textual-inversion":
		return TypeEmbedding, nil
	}
	return "", fmt.Errorf("unknown model type %q (want checkpoint, lora, or embedding)", s)
}

// ModelFile is one local artifact discovered in a scan pass.
// Immutable once discovered; a new scan produces new values.
type ModelFile struct {
	Path      string    `json:"path"`       // Absolute path to the model file
	SizeBytes int64     `json:"size_bytes"` // Size as reported by stat at scan time
	ModTime   time.Time `json:"mod_time"`   // Last-modified timestamp at scan time
	Type      ModelType `json:"type"`       // Which configured directory it was found under
}

// Base returns the file's base name, for display.
func (f ModelFile) Base() string { return filepath.Base(f.Path) }

// ContentHash is the lowercase hex SHA-256 digest of a model file's bytes.
// Identical bytes produce identical hashes regardless of path or name.
type ContentHash string

// AutoV2 returns the short form used by the Civitai by-hash endpoint:
// the first 10 hex characters of the SHA-256 digest.
func (h ContentHash) AutoV2() string {
	if len(h) < 10 {
		return string(h)
	}
	return string(h[:10])
}

func (h ContentHash) String() string { return string(h) }

// CatalogRecord is the remote metadata for one model version, as returned
// by the catalog's by-hash lookup. Immutable once fetched; the engine never
// mutates server-returned fields, only the local sidecar.
type CatalogRecord struct {
	VersionID    int64    // Catalog model-version id
	ModelID      int64    // Parent model id
	Name         string   // Version display name
	BaseModel    string   // Base model string, e.g. "SD 1.5", "SDXL 1.0"
	TrainedWords []string // Ordered trigger words; may be empty
	Description  string   // Version description, HTML stripped to text
}

// ActivationText joins the trained words into the activation string the
// WebUI expects.
func (r CatalogRecord) ActivationText() string {
	return strings.Join(r.TrainedWords, ", ")
}

// SDVersion maps the catalog base-model string to the sd-version value
// stored in sidecars. "Pony" has no WebUI bucket and maps to "Other".
func (r CatalogRecord) SDVersion() string {
	if r.BaseModel == "" || r.BaseModel == "Pony" {
		return "Other"
	}
	return r.BaseModel
}

// SyncStatus is the terminal outcome recorded in a sidecar's provenance.
type SyncStatus string

const (
	StatusUpdated   SyncStatus = "updated"
	StatusUnchanged SyncStatus = "unchanged"
	StatusNotFound  SyncStatus = "notfound"
	StatusFailed    SyncStatus = "failed"
)

// Provenance records where a sidecar's data came from and when.
type Provenance struct {
	SourceHash string     `json:"source_hash"` // Full SHA-256 of the model file
	LastSync   time.Time  `json:"last_sync"`
	Status     SyncStatus `json:"status"`
}

// SidecarRecord is the local persisted mirror of a CatalogRecord, one per
// model file, stored next to it as <model>.json. Field names follow the
// WebUI extra-networks metadata keys so existing tooling can read them.
type SidecarRecord struct {
	Hash            string     `json:"hash"`
	VersionID       int64      `json:"id,omitempty"`
	ModelID         int64      `json:"model id,omitempty"`
	Description     string     `json:"description,omitempty"`
	SDVersion       string     `json:"sd version"`
	ActivationText  string     `json:"activation text"`
	PreferredWeight float64    `json:"preferred weight"`
	NegativeText    string     `json:"negative text"`
	Notes           string     `json:"notes"`
	TrainedWords    []string   `json:"trained words,omitempty"`
	Provenance      Provenance `json:"civisync"`
}

// FromCatalog builds the sidecar content for a catalog record, preserving
// the locally-authored fields (weight, negative text, notes) of prev.
func FromCatalog(hash ContentHash, rec CatalogRecord, prev *SidecarRecord) SidecarRecord {
	out := SidecarRecord{
		Hash:           hash.String(),
		VersionID:      rec.VersionID,
		ModelID:        rec.ModelID,
		Description:    rec.Description,
		SDVersion:      rec.SDVersion(),
		ActivationText: rec.ActivationText(),
		TrainedWords:   rec.TrainedWords,
	}
	if prev != nil {
		out.PreferredWeight = prev.PreferredWeight
		out.NegativeText = prev.NegativeText
		out.Notes = prev.Notes
	}
	return out
}

// Equivalent reports whether two sidecar records carry the same synced
// catalog data. Provenance and locally-authored fields are ignored: a sync
// that changes nothing the server owns counts as Unchanged.
func (s SidecarRecord) Equivalent(other SidecarRecord) bool {
	if s.VersionID != other.VersionID || s.ModelID != other.ModelID {
		return false
	}
	if s.ActivationText != other.ActivationText || s.SDVersion != other.SDVersion {
		return false
	}
	if len(s.TrainedWords) != len(other.TrainedWords) {
		return false
	}
	for i := range s.TrainedWords {
		if s.TrainedWords[i] != other.TrainedWords[i] {
			return false
		}
	}
	return true
}
