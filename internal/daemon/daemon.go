package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/civisync/civisync/internal/api"
	"github.com/civisync/civisync/internal/app/reconcile"
	"github.com/civisync/civisync/internal/domain"
	"github.com/civisync/civisync/internal/health"
	"github.com/civisync/civisync/internal/infra/catalog"
	"github.com/civisync/civisync/internal/infra/hashindex"
	_ "github.com/civisync/civisync/internal/infra/metrics" // Register Prometheus metrics
	"github.com/civisync/civisync/internal/infra/scan"
	"github.com/civisync/civisync/internal/infra/sidecar"
	"github.com/civisync/civisync/internal/infra/sqlite"
	"github.com/civisync/civisync/internal/infra/watch"
)

// Daemon wires the CiviSync services together: storage, scanner, hash
// index, catalog client, sidecar store, engine, and the API server.
type Daemon struct {
	Config   Config
	DB       *sqlite.DB
	Scanner  *scan.Scanner
	Hashes   *hashindex.Index
	Catalog  *catalog.Client
	Sidecars *sidecar.Store
	Health   *health.Checker
	Server   *api.Server
	Hub      *api.EventHub
}

// New creates a Daemon from the on-disk config.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		log.SetOutput(f)
	}

	db, err := sqlite.Open(Home())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	d := &Daemon{
		Config:   cfg,
		DB:       db,
		Scanner:  scan.New(cfg.Models.Dirs()),
		Hashes:   hashindex.New(db),
		Sidecars: sidecar.New(),
		Hub:      api.NewEventHub(),
		Catalog: catalog.New(catalog.Options{
			BaseURL:     cfg.Catalog.Endpoint,
			Token:       cfg.Catalog.Token,
			Timeout:     cfg.Catalog.Timeout(),
			MaxInFlight: cfg.Catalog.MaxInFlight,
			MinInterval: cfg.Catalog.MinInterval(),
		}),
	}

	var dirs []string
	for _, dir := range cfg.Models.Dirs() {
		if dir != "" {
			dirs = append(dirs, dir)
		}
	}
	d.Health = health.NewChecker(db, Home(), dirs)

	d.Server = api.NewServer(d.Scanner, d.Sidecars, d.DB, d.Health, d.Hub, d.RunSync)
	if cfg.API.EnableMetrics {
		d.Server.EnableMetrics()
	}

	return d, nil
}

// Close releases daemon resources.
func (d *Daemon) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}

// EngineConfig maps the sync config onto the engine's knobs.
func (d *Daemon) EngineConfig() reconcile.Config {
	return reconcile.Config{
		Workers:     d.Config.Sync.Workers,
		MaxAttempts: d.Config.Sync.MaxAttempts,
		BaseDelay:   time.Duration(d.Config.Sync.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(d.Config.Sync.MaxDelayMS) * time.Millisecond,
	}
}

// RunSync scans the requested model types, reconciles them against the
// catalog, persists the run to history, and returns the summary.
func (d *Daemon) RunSync(ctx context.Context, types []domain.ModelType) (domain.RunSummary, error) {
	files, err := d.Scanner.Scan(types)
	if err != nil {
		return domain.RunSummary{}, fmt.Errorf("scan models: %w", err)
	}
	log.Printf("[daemon] sync: %d model files discovered", len(files))

	engine := reconcile.New(d.EngineConfig(), d.Hashes, d.Catalog, d.Sidecars, d.Hub.Broadcast)
	run := engine.Run(ctx, files)

	if err := d.DB.SaveRun(run); err != nil {
		log.Printf("[daemon] save run %s: %v", run.ID, err)
	}
	return run, nil
}

// Serve runs the HTTP API (and the optional filesystem watcher) until the
// process receives SIGINT/SIGTERM or ctx is cancelled.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go d.Health.Run(ctx)

	if d.Config.Sync.Watch {
		var dirs []string
		for _, dir := range d.Config.Models.Dirs() {
			dirs = append(dirs, dir)
		}
		w, err := watch.New(dirs, watch.DefaultDebounce, func() {
			log.Printf("[daemon] model directory changed, starting sync")
			if _, err := d.RunSync(ctx, nil); err != nil {
				log.Printf("[daemon] watch-triggered sync: %v", err)
			}
		})
		if err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		defer w.Close()
		go w.Start(ctx)
	}

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: d.Server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[daemon] API listening on http://%s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		log.Printf("[daemon] received %s, shutting down", s)
	case <-ctx.Done():
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	return srv.Shutdown(shutCtx)
}
