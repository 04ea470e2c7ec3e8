package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/civisync/civisync/internal/domain"
	"github.com/civisync/civisync/internal/infra/scan"
	"github.com/civisync/civisync/internal/infra/sidecar"
	"github.com/civisync/civisync/internal/infra/sqlite"
)

type testEnv struct {
	srv      *Server
	http     *httptest.Server
	db       *sqlite.DB
	loraDir  string
	sidecars *sidecar.Store
}

func newTestEnv(t *testing.T, sync SyncFunc) *testEnv {
	t.Helper()

	loraDir := t.TempDir()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	scanner := scan.New(map[domain.ModelType]string{domain.TypeLORA: loraDir})
	sidecars := sidecar.New()
	hub := NewEventHub()

	if sync == nil {
		sync = func(ctx context.Context, types []domain.ModelType) (domain.RunSummary, error) {
			return domain.RunSummary{ID: "stub-run", Total: 0}, nil
		}
	}

	srv := NewServer(scanner, sidecars, db, nil, hub, sync)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{srv: srv, http: ts, db: db, loraDir: loraDir, sidecars: sidecars}
}

func (e *testEnv) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (e *testEnv) post(t *testing.T, path, body string, out any) int {
	t.Helper()
	resp, err := http.Post(e.http.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestHealth_NoChecker(t *testing.T) {
	env := newTestEnv(t, nil)
	var body map[string]string
	if code := env.get(t, "/health", &body); code != http.StatusOK {
		t.Errorf("GET /health = %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestModels(t *testing.T) {
	env := newTestEnv(t, nil)

	synced := filepath.Join(env.loraDir, "synced.safetensors")
	bare := filepath.Join(env.loraDir, "bare.safetensors")
	for _, p := range []string{synced, bare} {
		if err := os.WriteFile(p, []byte("weights"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	rec := domain.SidecarRecord{VersionID: 7}
	rec.Provenance = domain.Provenance{SourceHash: "H1", Status: domain.StatusUpdated, LastSync: time.Now().UTC()}
	if err := env.sidecars.Write(synced, rec); err != nil {
		t.Fatal(err)
	}

	var entries []struct {
		Path       string             `json:"path"`
		Synced     bool               `json:"synced"`
		Provenance *domain.Provenance `json:"provenance"`
	}
	if code := env.get(t, "/api/models", &entries); code != http.StatusOK {
		t.Fatalf("GET /api/models = %d", code)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	byBase := map[string]bool{}
	for _, e := range entries {
		byBase[filepath.Base(e.Path)] = e.Synced
		if e.Synced && e.Provenance == nil {
			t.Errorf("%s synced but no provenance", e.Path)
		}
	}
	if !byBase["synced.safetensors"] || byBase["bare.safetensors"] {
		t.Errorf("synced flags = %v", byBase)
	}
}

func TestModels_BadTypeFilter(t *testing.T) {
	env := newTestEnv(t, nil)
	if code := env.get(t, "/api/models?type=vae", nil); code != http.StatusBadRequest {
		t.Errorf("GET with bad type = %d, want 400", code)
	}
}

func TestSync(t *testing.T) {
	var gotTypes []domain.ModelType
	env := newTestEnv(t, func(ctx context.Context, types []domain.ModelType) (domain.RunSummary, error) {
		gotTypes = types
		return domain.RunSummary{ID: "run-x", Updated: 3, Total: 3}, nil
	})

	var run domain.RunSummary
	if code := env.post(t, "/api/sync", `{"types":["lora"]}`, &run); code != http.StatusOK {
		t.Fatalf("POST /api/sync = %d", code)
	}
	if run.ID != "run-x" || run.Updated != 3 {
		t.Errorf("run = %+v", run)
	}
	if len(gotTypes) != 1 || gotTypes[0] != domain.TypeLORA {
		t.Errorf("types = %v", gotTypes)
	}
}

func TestSync_EmptyBody(t *testing.T) {
	env := newTestEnv(t, nil)
	if code := env.post(t, "/api/sync", "", nil); code != http.StatusOK {
		t.Errorf("POST /api/sync with empty body = %d", code)
	}
}

func TestSync_ConcurrentRunConflicts(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	env := newTestEnv(t, func(ctx context.Context, types []domain.ModelType) (domain.RunSummary, error) {
		close(started)
		<-release
		return domain.RunSummary{ID: "slow-run"}, nil
	})

	done := make(chan int)
	go func() {
		done <- env.post(t, "/api/sync", "", nil)
	}()

	<-started
	if code := env.post(t, "/api/sync", "", nil); code != http.StatusConflict {
		t.Errorf("second POST /api/sync = %d, want 409", code)
	}
	close(release)

	if code := <-done; code != http.StatusOK {
		t.Errorf("first POST /api/sync = %d", code)
	}
}

func TestRuns(t *testing.T) {
	env := newTestEnv(t, nil)

	var empty []domain.RunSummary
	if code := env.get(t, "/api/runs", &empty); code != http.StatusOK {
		t.Fatalf("GET /api/runs = %d", code)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty history, got %d", len(empty))
	}

	run := domain.RunSummary{
		ID: "run-1", StartedAt: time.Now(), FinishedAt: time.Now(),
		Updated: 1, Total: 1,
		Items: []domain.ItemReport{{State: domain.StateUpdated}},
	}
	if err := env.db.SaveRun(run); err != nil {
		t.Fatal(err)
	}

	var runs []domain.RunSummary
	env.get(t, "/api/runs", &runs)
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Errorf("runs = %+v", runs)
	}

	var detail domain.RunSummary
	if code := env.get(t, "/api/runs/run-1", &detail); code != http.StatusOK {
		t.Fatalf("GET /api/runs/run-1 = %d", code)
	}
	if len(detail.Items) != 1 {
		t.Errorf("detail items = %d", len(detail.Items))
	}

	if code := env.get(t, "/api/runs/nope", nil); code != http.StatusNotFound {
		t.Errorf("GET missing run = %d, want 404", code)
	}
}

func TestOrphans(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := os.WriteFile(filepath.Join(env.loraDir, "lonely.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	var orphans []string
	if code := env.get(t, "/api/orphans", &orphans); code != http.StatusOK {
		t.Fatalf("GET /api/orphans = %d", code)
	}
	if len(orphans) != 1 || filepath.Base(orphans[0]) != "lonely.json" {
		t.Errorf("orphans = %v", orphans)
	}
}

func TestEventHub(t *testing.T) {
	hub := NewEventHub()
	ch, cancel := hub.Subscribe()

	hub.Broadcast(domain.Event{RunID: "r", Path: "/m/a.safetensors", State: "hashing"})

	select {
	case ev := <-ch:
		if ev.State != "hashing" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	hub.Broadcast(domain.Event{State: "updated"})
	select {
	case ev, ok := <-ch:
		if ok {
			t.Errorf("event after unsubscribe: %+v", ev)
		}
	default:
	}
}

func TestEventHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewEventHub()
	_, cancel := hub.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Past the buffer size; must never stall.
		for i := 0; i < 200; i++ {
			hub.Broadcast(domain.Event{State: "resolving"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a slow subscriber")
	}
}
