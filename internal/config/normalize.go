package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"whisperd/internal/language"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEngine()
	c.normalizeTranscription()
	c.normalizeAlignment()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		c.Paths.CacheDir = defaultCacheDir
	}
	if c.Paths.CacheDir, err = resolveCacheDir(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	if value, ok := c.lookupEnv("WHISPERD_API_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Paths.APIToken = value
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

// installRoot is the directory holding the whisperd binary.
var installRoot = func() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

// resolveCacheDir anchors a relative cache_dir beneath the install root so the
// model cache does not move with the working directory.
func resolveCacheDir(value string) (string, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "~") || filepath.IsAbs(value) {
		return expandPath(value)
	}
	root, err := installRoot()
	if err != nil {
		return "", fmt.Errorf("resolve install root: %w", err)
	}
	return expandPath(filepath.Join(root, value))
}

func (c *Config) normalizeEngine() {
	c.Engine.Command = strings.TrimSpace(c.Engine.Command)
	if c.Engine.Command == "" {
		c.Engine.Command = defaultEngineCommand
	}
	c.Engine.Package = strings.TrimSpace(c.Engine.Package)
	if c.Engine.Package == "" {
		c.Engine.Package = defaultEnginePackage
	}
	c.Engine.ComputeType = strings.ToLower(strings.TrimSpace(c.Engine.ComputeType))
	if c.Engine.ComputeType == "" {
		c.Engine.ComputeType = defaultComputeType
	}
	if c.Engine.BatchSize == 0 {
		c.Engine.BatchSize = defaultBatchSize
	}
	if c.Engine.StartupTimeoutSeconds == 0 {
		c.Engine.StartupTimeoutSeconds = defaultStartupTimeoutSeconds
	}
	if c.Engine.RequestTimeoutSeconds == 0 {
		c.Engine.RequestTimeoutSeconds = defaultRequestTimeoutSeconds
	}
	for _, key := range []string{"HF_TOKEN", "HUGGING_FACE_HUB_TOKEN"} {
		if value, ok := c.lookupEnv(key); ok && strings.TrimSpace(value) != "" {
			c.Engine.HFToken = value
			break
		}
	}
	c.Engine.HFToken = strings.TrimSpace(c.Engine.HFToken)
}

func (c *Config) normalizeTranscription() {
	c.Transcription.Model = strings.TrimSpace(c.Transcription.Model)
	if c.Transcription.Model == "" {
		c.Transcription.Model = defaultTranscriptionModel
	}
}

func (c *Config) normalizeAlignment() {
	c.Alignment.Strategy = strings.ToLower(strings.TrimSpace(c.Alignment.Strategy))
	if c.Alignment.Strategy == "" {
		c.Alignment.Strategy = StrategyLazy
	}
	c.Alignment.Languages = language.NormalizeList(c.Alignment.Languages)
	if len(c.Alignment.Languages) == 0 {
		c.Alignment.Languages = language.AlignmentDefaults()
	}
	overrides := make(map[string]string, len(c.Alignment.Overrides))
	for code, model := range c.Alignment.Overrides {
		model = strings.TrimSpace(model)
		if model == "" {
			continue
		}
		key := language.Normalize(code)
		if key == "" {
			key = strings.ToLower(strings.TrimSpace(code))
		}
		overrides[key] = model
	}
	c.Alignment.Overrides = overrides
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
