package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"whisperd/internal/config"
	"whisperd/internal/logging"
	"whisperd/internal/preflight"
	"whisperd/internal/server"
)

// Options configures serve process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// ErrAlreadyRunning reports that another serve process holds the instance lock.
var ErrAlreadyRunning = errors.New("another whisperd serve instance is already running")

// Run starts the prediction server and blocks until SIGINT/SIGTERM or until
// cmdCtx is cancelled.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	lock, err := acquireInstanceLock(cfg.Paths.LogDir)
	if err != nil {
		return err
	}
	defer lock.Unlock() //nolint:errcheck

	level := strings.TrimSpace(opts.LogLevel)
	if level == "" {
		level = cfg.Logging.Level
	}
	logPath := logging.SessionLogPath(cfg.Paths.LogDir, "whisperd", time.Now())
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		FilePath:    logPath,
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update whisperd.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Paths.LogDir, "whisperd-*.log", logPath, cfg.Logging.RetentionDays)

	pidPath := filepath.Join(cfg.Paths.LogDir, "whisperd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	logDependencySnapshot(signalCtx, logger, cfg)

	rt := Open(cfg, logger)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(cmdCtx), 30*time.Second)
		defer closeCancel()
		if err := rt.Close(closeCtx); err != nil {
			logger.Warn("runtime shutdown incomplete",
				logging.Error(err),
				logging.String(logging.FieldEventType, "runtime_close_failed"),
				logging.String(logging.FieldErrorHint, "a stray whisperx worker may need to be killed manually"),
			)
		}
	}()

	srv := server.New(cfg, rt.Models, rt.Handler, logger)
	if err := srv.Run(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "api server failed", "api_server_failed", logging.Error(err))
		return err
	}
	logger.Info("whisperd shutting down")
	return nil
}

func acquireInstanceLock(logDir string) (*flock.Flock, error) {
	lockPath := filepath.Join(logDir, "whisperd.lock")
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", lockPath, err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	return lock, nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "whisperd.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("device", cfg.Device()),
		logging.String("compute_type", cfg.ComputeType()),
		logging.String("model", cfg.Transcription.Model),
		logging.String("alignment_strategy", cfg.Alignment.Strategy),
		logging.Int("alignment_languages", len(cfg.Alignment.Languages)),
		logging.Bool("hf_token_present", strings.TrimSpace(cfg.Engine.HFToken) != ""),
	}
	for _, status := range preflight.CheckSystemDeps(ctx, cfg) {
		key := strings.ToLower(strings.ReplaceAll(status.Name, " ", "_"))
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Available),
			logging.String(key+"_binary", status.Command),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)

	for _, result := range preflight.Failed(preflight.RunAll(ctx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "predictions may fail until resolved"),
		)
	}
}
