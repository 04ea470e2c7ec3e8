// Package scan discovers local model files. It walks the configured
// directory per model type and produces the inventory a reconciliation run
// operates on.
package scan

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/civisync/civisync/internal/domain"
)

// modelExts are the file extensions treated as model artifacts.
var modelExts = map[string]bool{
	".safetensors": true,
	".ckpt":        true,
	".pt":          true,
}

// IsModelFile reports whether name looks like a model artifact.
func IsModelFile(name string) bool {
	return modelExts[strings.ToLower(filepath.Ext(name))]
}

// Scanner walks per-type model directories.
type Scanner struct {
	dirs map[domain.ModelType]string
}

// New creates a Scanner over the given per-type directories. Types with an
// empty directory are skipped at scan time.
func New(dirs map[domain.ModelType]string) *Scanner {
	return &Scanner{dirs: dirs}
}

// Scan walks the directories for the requested types and returns every
// model file found, sorted by path. A missing or unreadable directory is
// logged and skipped; one bad dir must not sink the whole scan.
func (s *Scanner) Scan(types []domain.ModelType) ([]domain.ModelFile, error) {
	if len(types) == 0 {
		types = domain.AllModelTypes
	}

	var files []domain.ModelFile
	for _, t := range types {
		dir := s.dirs[t]
		if dir == "" {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			log.Printf("[scan] skipping %s dir %s: %v", t, dir, err)
			continue
		}

		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.Printf("[scan] %s: %v", path, err)
				return nil
			}
			if d.IsDir() || !IsModelFile(d.Name()) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				log.Printf("[scan] stat %s: %v", path, err)
				return nil
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				abs = path
			}
			files = append(files, domain.ModelFile{
				Path:      abs,
				SizeBytes: info.Size(),
				ModTime:   info.ModTime(),
				Type:      t,
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Orphans returns sidecar files under the scanned directories whose model
// file no longer exists. Orphans are reported, never deleted.
func (s *Scanner) Orphans(types []domain.ModelType) ([]string, error) {
	if len(types) == 0 {
		types = domain.AllModelTypes
	}

	var orphans []string
	for _, t := range types {
		dir := s.dirs[t]
		if dir == "" {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			continue
		}

		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if !strings.EqualFold(filepath.Ext(d.Name()), ".json") {
				return nil
			}
			base := strings.TrimSuffix(path, filepath.Ext(path))
			for ext := range modelExts {
				if _, err := os.Stat(base + ext); err == nil {
					return nil
				}
			}
			abs, aerr := filepath.Abs(path)
			if aerr != nil {
				abs = path
			}
			orphans = append(orphans, abs)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(orphans)
	return orphans, nil
}
