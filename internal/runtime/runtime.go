package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-interpret/internal/bridge"
	"github.com/loqalabs/loqa-interpret/internal/bus"
	"github.com/loqalabs/loqa-interpret/internal/cache"
	"github.com/loqalabs/loqa-interpret/internal/config"
	"github.com/loqalabs/loqa-interpret/internal/natsserver"
	"github.com/loqalabs/loqa-interpret/internal/pipeline"
)

const cachePruneInterval = time.Hour

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	nats   *natsserver.EmbeddedServer
	bus    *bus.Client
	cache  *cache.Store
	pipe   *pipeline.Pipeline
	bridge *bridge.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = tel.shutdown

	r.cache = openCache(ctx, r.cfg.Cache, r.logger)
	deps, err := buildDeps(r.cfg, r.cache, r.logger)
	if err != nil {
		r.shutdown()
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	r.pipe, err = pipeline.New(r.cfg, deps, r.logger)
	if err != nil {
		r.shutdown()
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.pipe.Run(ctx); err != nil {
			r.logger.Error("pipeline exited", slog.String("error", err.Error()))
		}
	}()

	if err := r.startBridge(ctx); err != nil {
		cancel()
		r.wg.Wait()
		r.shutdown()
		return err
	}

	if r.cache.Enabled() {
		r.wg.Add(1)
		go r.pruneCache(ctx)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if tel.metrics != nil {
		mux.Handle("/metrics", tel.metrics)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.bridge != nil {
		r.bridge.Close()
	}
	r.wg.Wait()
	r.shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) startBridge(ctx context.Context) error {
	if !r.cfg.Bridge.Enabled {
		return nil
	}
	ns, err := natsserver.Start(r.cfg.RuntimeName, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.nats = ns

	busCfg := r.cfg.Bus
	if ns != nil {
		busCfg.Servers = []string{ns.ClientURL()}
	}
	r.bus, err = bus.Connect(ctx, r.cfg.RuntimeName, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect bus: %w", err)
	}

	r.bridge = bridge.NewService(ctx, r.cfg.Bridge, r.bus, r.pipe, r.logger)
	if err := r.bridge.Start(); err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}
	return nil
}

// shutdown releases the bus and cache once the workers are gone.
func (r *Runtime) shutdown() {
	r.bus.Close()
	r.nats.Shutdown()
	if err := r.cache.Close(); err != nil {
		r.logger.Warn("cache close error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) pruneCache(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(cachePruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.cache.Prune(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("translation cache prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Ready reports whether the pipeline workers and, when enabled, the bridge
// are serving.
func (r *Runtime) Ready() bool {
	if !r.ready.Load() || r.pipe == nil || !r.pipe.Healthy() {
		return false
	}
	if r.cfg.Bridge.Enabled && (!r.bus.Healthy() || r.bridge == nil || !r.bridge.Healthy()) {
		return false
	}
	return true
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
