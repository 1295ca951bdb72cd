package daemonrun

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"whisperd/internal/config"
	"whisperd/internal/engine"
	"whisperd/internal/engine/whisperx"
	"whisperd/internal/models"
	"whisperd/internal/predict"
)

// Runtime bundles the long-lived prediction stack: the WhisperX worker, the
// model manager on top of it, and the request handler.
type Runtime struct {
	Engine  engine.Engine
	Models  *models.Manager
	Handler *predict.Handler
}

// EngineConfig maps application config onto worker settings.
func EngineConfig(cfg *config.Config) whisperx.Config {
	return whisperx.Config{
		Command:        cfg.Engine.Command,
		Package:        cfg.Engine.Package,
		CUDAEnabled:    cfg.Engine.CUDAEnabled,
		CacheDir:       cfg.Paths.CacheDir,
		HFToken:        cfg.Engine.HFToken,
		StartupTimeout: time.Duration(cfg.Engine.StartupTimeoutSeconds) * time.Second,
		RequestTimeout: time.Duration(cfg.Engine.RequestTimeoutSeconds) * time.Second,
	}
}

// Open wires the runtime around a WhisperX worker. The worker process starts
// lazily on the first engine call, normally during Models.Setup.
func Open(cfg *config.Config, logger *slog.Logger) *Runtime {
	return OpenWith(cfg, whisperx.New(EngineConfig(cfg), logger), logger)
}

// OpenWith wires the runtime around an existing engine.
func OpenWith(cfg *config.Config, eng engine.Engine, logger *slog.Logger) *Runtime {
	mgr := models.New(cfg, eng, logger)
	return &Runtime{
		Engine:  eng,
		Models:  mgr,
		Handler: predict.NewHandler(cfg, mgr, eng, logger),
	}
}

// Close releases loaded models and stops the worker.
func (r *Runtime) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return errors.Join(r.Models.Close(ctx), r.Engine.Close())
}
