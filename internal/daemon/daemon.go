// Package daemon assembles the long-running process: single-instance lock,
// manifest, artifact store, stage registry, job controller, and the HTTP
// API server.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"redub/internal/api"
	"redub/internal/artifact"
	"redub/internal/config"
	"redub/internal/job"
	"redub/internal/logging"
	"redub/internal/manifest"
)

// Daemon owns the process-lifetime resources.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	lock       *flock.Flock
	manifest   *manifest.Store
	store      artifact.Store
	controller *job.Controller

	listener net.Listener
	server   *http.Server
}

// New wires a daemon from configuration. Nothing is started yet; Run
// acquires the lock and serves until its context is cancelled.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires a config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	man, err := manifest.Open(cfg.ManifestPath())
	if err != nil {
		return nil, err
	}
	registry, err := buildRegistry(cfg)
	if err != nil {
		_ = man.Close()
		return nil, err
	}
	controller := job.NewController(cfg, store, man, registry, job.NewEventBus(0), logger)

	return &Daemon{
		cfg:        cfg,
		logger:     logger,
		lock:       flock.New(cfg.LockPath()),
		manifest:   man,
		store:      store,
		controller: controller,
	}, nil
}

// Controller exposes the job controller, mainly for tests.
func (d *Daemon) Controller() *job.Controller { return d.controller }

// Addr returns the bound API address once Run has started listening.
func (d *Daemon) Addr() string {
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

func newStore(ctx context.Context, cfg *config.Config) (artifact.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Backend)) {
	case "", "fs":
		return artifact.NewFSStore(cfg.Paths.StoreDir)
	case "s3":
		return artifact.NewS3Store(ctx, artifact.S3Options{
			Endpoint:  cfg.Store.Endpoint,
			AccessKey: cfg.Store.AccessKey,
			SecretKey: cfg.Store.SecretKey,
			Bucket:    cfg.Store.Bucket,
			UseSSL:    cfg.Store.UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// Run acquires the single-instance lock, starts the API server, and blocks
// until ctx is cancelled. Shutdown drains running jobs within the
// configured grace period.
func (d *Daemon) Run(ctx context.Context) error {
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another daemon instance holds %s", d.cfg.LockPath())
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("release daemon lock", logging.Error(err))
		}
	}()
	defer func() {
		if err := d.manifest.Close(); err != nil {
			d.logger.Warn("close manifest", logging.Error(err))
		}
	}()

	dependencies := CheckDependencies(d.cfg)
	for _, status := range dependencies {
		if status.Available || status.Optional {
			continue
		}
		d.logger.Warn("required dependency unavailable",
			logging.String("name", status.Name),
			logging.String("detail", status.Detail))
	}

	listener, err := net.Listen("tcp", d.cfg.Paths.APIBind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	d.listener = listener

	router := api.NewRouter(d.controller, dependencies, d.logger)
	d.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := d.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()
	d.logger.Info("daemon listening",
		logging.String("address", listener.Addr().String()),
		logging.String("lock", d.cfg.LockPath()))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		d.shutdown()
		return err
	}

	d.shutdown()
	return <-serveErr
}

func (d *Daemon) shutdown() {
	grace := time.Duration(d.cfg.Workflow.ShutdownGraceSecs) * time.Second
	if grace <= 0 {
		grace = 5 * time.Second
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("api shutdown", logging.Error(err))
	}
	d.controller.Shutdown(grace)
	d.logger.Info("daemon stopped")
}
