// Package runtime assembles the daemon: telemetry, bus, job store, model
// manager, conversion pipeline, and the bus-facing service, with lifecycle
// ordering on the way up and the reverse on the way down.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sonantlabs/sonant-core/internal/bus"
	"github.com/sonantlabs/sonant-core/internal/config"
	"github.com/sonantlabs/sonant-core/internal/convert"
	"github.com/sonantlabs/sonant-core/internal/jobstore"
	"github.com/sonantlabs/sonant-core/internal/model"
	"github.com/sonantlabs/sonant-core/internal/natsserver"
	"github.com/sonantlabs/sonant-core/internal/service"
	"github.com/sonantlabs/sonant-core/internal/tempfiles"
	"github.com/sonantlabs/sonant-core/internal/video"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	metricsSrv  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the runtime up and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	store, err := jobstore.Open(ctx, jobstore.Config{
		Path:          r.cfg.JobStore.Path,
		RetentionMode: r.cfg.JobStore.RetentionMode,
		RetentionDays: r.cfg.JobStore.RetentionDays,
	}, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	defer store.Close()

	temps := tempfiles.New(tempfiles.Config{
		Dir:          r.cfg.TempFiles.Dir,
		MaxRetries:   r.cfg.TempFiles.MaxRetries,
		InitialDelay: time.Duration(r.cfg.TempFiles.InitialDelayMS) * time.Millisecond,
	}, r.logger)

	loader, err := r.buildLoader(temps)
	if err != nil {
		return err
	}
	models := model.NewManager(loader, r.cfg.Model.Devices,
		time.Duration(r.cfg.Model.IdleUnloadSeconds)*time.Second, r.logger)
	defer models.Unload()

	var reconciler *video.Reconciler
	if r.cfg.Video.Enabled {
		reconciler = video.New(video.Config{
			FFmpegPath:       r.cfg.Video.FFmpegPath,
			FFprobePath:      r.cfg.Video.FFprobePath,
			DurationFallback: time.Duration(r.cfg.Video.DurationFallbackSec) * time.Second,
			ExtractRate:      r.cfg.Pipeline.SampleRate,
		}, temps, r.logger)
	}

	metrics, err := convert.NewMetrics(otel.Meter("sonant-core/convert"))
	if err != nil {
		r.logger.Warn("failed to register pipeline metrics", slog.String("error", err.Error()))
	}
	r.registerModelGauge(models)

	pipeline := convert.NewPipeline(models, reconciler, store, convert.Limits{
		MaxInputBytes: r.cfg.Pipeline.MaxInputMB << 20,
		MaxDuration:   time.Duration(r.cfg.Pipeline.MaxDurationSec) * time.Second,
		MinDuration:   time.Duration(r.cfg.Pipeline.MinDurationMS) * time.Millisecond,
	}, metrics, r.logger)

	svc := service.NewService(ctx, r.cfg, busClient, pipeline, models, r.logger)
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start convert service: %w", err)
	}
	defer svc.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricHandler)
		r.metricsSrv = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("model_mode", r.cfg.Model.Mode),
		slog.Bool("video", r.cfg.Video.Enabled))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// registerModelGauge exposes whether (and where) the model is resident.
func (r *Runtime) registerModelGauge(models *model.Manager) {
	meter := otel.Meter("sonant-core/model")
	gauge, err := meter.Int64ObservableGauge("sonant.model.loaded",
		metric.WithDescription("1 while the transform model is resident on a device"))
	if err != nil {
		r.logger.Warn("failed to register model gauge", slog.String("error", err.Error()))
		return
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := models.Status()
		var v int64
		if st.State == model.StateLoaded {
			v = 1
		}
		o.ObserveInt64(gauge, v, metric.WithAttributes(attribute.String("device", st.Device)))
		return nil
	}, gauge)
	if err != nil {
		r.logger.Warn("failed to register model gauge callback", slog.String("error", err.Error()))
	}
}

func (r *Runtime) buildLoader(temps *tempfiles.Manager) (model.Loader, error) {
	switch r.cfg.Model.Mode {
	case "exec":
		loader, err := model.NewExecLoader(r.cfg.Model.Command, temps, r.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build exec loader: %w", err)
		}
		return loader, nil
	default:
		return model.NewMockLoader(0), nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
