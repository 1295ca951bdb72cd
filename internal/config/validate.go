package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"

	"whisperd/internal/language"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateAlignment(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		return errors.New("paths.cache_dir must be set")
	}
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind: %w", err)
	}
	return nil
}

func (c *Config) validateEngine() error {
	if c.Engine.BatchSize <= 0 {
		return errors.New("engine.batch_size must be positive")
	}
	if c.Engine.StartupTimeoutSeconds <= 0 {
		return errors.New("engine.startup_timeout_seconds must be positive")
	}
	if c.Engine.RequestTimeoutSeconds <= 0 {
		return errors.New("engine.request_timeout_seconds must be positive")
	}
	switch c.Engine.ComputeType {
	case "float16", "float32", "int8", "int8_float16", "bfloat16":
	default:
		return fmt.Errorf("engine.compute_type: unsupported value %q", c.Engine.ComputeType)
	}
	return nil
}

func (c *Config) validateTranscription() error {
	inc := c.Transcription.TemperatureIncrementOnFallback
	if inc < 0 || inc > 1 {
		return errors.New("transcription.temperature_increment_on_fallback must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateAlignment() error {
	switch c.Alignment.Strategy {
	case StrategyLazy, StrategyEager:
	default:
		return fmt.Errorf("alignment.strategy must be %q or %q, got %q", StrategyLazy, StrategyEager, c.Alignment.Strategy)
	}
	for _, code := range c.Alignment.Languages {
		if language.Normalize(code) != code {
			return fmt.Errorf("alignment.languages: unrecognized language %q", code)
		}
	}
	if !slices.Contains(c.Alignment.Languages, defaultAlignmentLanguage) {
		return fmt.Errorf("alignment.languages must include the default request language %q", defaultAlignmentLanguage)
	}
	for code := range c.Alignment.Overrides {
		if !c.SupportsLanguage(code) {
			return fmt.Errorf("alignment.overrides: language %q is not in alignment.languages", code)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero or positive")
	}
	return nil
}
