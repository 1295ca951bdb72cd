package whisperx

import (
	"path/filepath"
	"time"
)

// Config captures runtime settings for the WhisperX worker.
type Config struct {
	// Command launches the Python environment (uvx).
	Command string
	// Package is the distribution uvx resolves the worker interpreter from.
	Package     string
	CUDAEnabled bool
	// CacheDir roots HF_HOME and TORCH_HOME so every download lands in the model cache.
	CacheDir       string
	HFToken        string
	StartupTimeout time.Duration
	RequestTimeout time.Duration
	// StopGrace bounds the wait between SIGTERM and SIGKILL on shutdown.
	StopGrace time.Duration
}

// WhisperX configuration constants.
const (
	CUDAIndexURL     = "https://download.pytorch.org/whl/cu128"
	PypiIndexURL     = "https://pypi.org/simple"
	DefaultPackage   = "whisperx"
	UVXCommand       = "uvx"
	FFmpegCommand    = "ffmpeg"
	defaultStopGrace = 10 * time.Second
	stderrTailLines  = 20
)

func (c Config) withDefaults() Config {
	if c.Command == "" {
		c.Command = UVXCommand
	}
	if c.Package == "" {
		c.Package = DefaultPackage
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 10 * time.Minute
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Minute
	}
	if c.StopGrace <= 0 {
		c.StopGrace = defaultStopGrace
	}
	return c
}

// buildArgs returns the uvx argument list that starts the worker script.
func buildArgs(cfg Config) []string {
	args := make([]string, 0, 10)
	if cfg.CUDAEnabled {
		args = append(args, "--index-url", CUDAIndexURL, "--extra-index-url", PypiIndexURL)
	} else {
		args = append(args, "--index-url", PypiIndexURL)
	}
	args = append(args, "--from", cfg.Package, "python", "-u", "-c", workerScript)
	return args
}

// buildEnv returns the extra environment entries for the worker process.
func buildEnv(cfg Config) []string {
	env := []string{
		"TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1",
		"PYTHONIOENCODING=utf-8",
	}
	if cfg.CacheDir != "" {
		env = append(env,
			"HF_HOME="+filepath.Join(cfg.CacheDir, "huggingface"),
			"TORCH_HOME="+filepath.Join(cfg.CacheDir, "torch"),
		)
	}
	if cfg.HFToken != "" {
		env = append(env, "HF_TOKEN="+cfg.HFToken)
	}
	return env
}
