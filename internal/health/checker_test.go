package health

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/civisync/civisync/internal/infra/sqlite"
)

func newChecker(t *testing.T, modelDirs []string) *Checker {
	t.Helper()
	dataDir := t.TempDir()
	db, err := sqlite.Open(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewChecker(db, dataDir, modelDirs)
}

func TestChecker_AllHealthy(t *testing.T) {
	c := newChecker(t, []string{t.TempDir()})
	c.runAll(context.Background())

	if !c.IsHealthy() {
		t.Errorf("IsHealthy() = false: %+v", c.Statuses())
	}
	statuses := c.Statuses()
	if len(statuses) != 3 {
		t.Fatalf("Statuses() = %d checks, want 3", len(statuses))
	}
	for _, s := range statuses {
		if !s.Healthy {
			t.Errorf("check %s unhealthy: %s", s.Name, s.Error)
		}
		if s.CheckedAt.IsZero() {
			t.Errorf("check %s has no timestamp", s.Name)
		}
	}
}

func TestChecker_MissingModelDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone")
	c := newChecker(t, []string{missing})
	c.runAll(context.Background())

	if c.IsHealthy() {
		t.Error("IsHealthy() = true with a missing model dir")
	}

	var found bool
	for _, s := range c.Statuses() {
		if s.Name == "model_dir:gone" {
			found = true
			if s.Healthy {
				t.Error("missing dir reported healthy")
			}
			if s.Error == "" {
				t.Error("unhealthy check has no error text")
			}
		}
	}
	if !found {
		t.Errorf("no model_dir check registered: %+v", c.Statuses())
	}
}

func TestChecker_EmptyDirsSkipped(t *testing.T) {
	c := newChecker(t, []string{"", "", ""})
	c.runAll(context.Background())

	if got := len(c.Statuses()); got != 2 {
		t.Errorf("Statuses() = %d checks, want 2 (sqlite + data dir)", got)
	}
}

func TestChecker_VacuouslyHealthyBeforeFirstRound(t *testing.T) {
	c := newChecker(t, nil)
	if !c.IsHealthy() {
		t.Error("IsHealthy() = false before any check round")
	}
	if got := len(c.Statuses()); got != 0 {
		t.Errorf("Statuses() = %d before first round", got)
	}
}
