package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	CacheDir string `toml:"cache_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Engine contains settings for the WhisperX worker process.
type Engine struct {
	// Command launches the worker environment (uvx by default).
	Command string `toml:"command"`
	// Package is the Python package uvx resolves the worker from.
	Package     string `toml:"package"`
	CUDAEnabled bool   `toml:"cuda_enabled"`
	// ComputeType applies to CUDA only; CPU mode always runs float32.
	ComputeType           string `toml:"compute_type"`
	BatchSize             int    `toml:"batch_size"`
	HFToken               string `toml:"hf_token"`
	StartupTimeoutSeconds int    `toml:"startup_timeout_seconds"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Transcription contains settings for the transcription model.
type Transcription struct {
	Model                          string  `toml:"model"`
	TemperatureIncrementOnFallback float64 `toml:"temperature_increment_on_fallback"`
	SuppressNumerals               bool    `toml:"suppress_numerals"`
}

// Alignment contains settings for the per-language alignment model table.
type Alignment struct {
	// Strategy is "lazy" (load on first request) or "eager" (load all at setup).
	Strategy  string            `toml:"strategy"`
	Languages []string          `toml:"languages"`
	Overrides map[string]string `toml:"overrides"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	// RetentionDays prunes serve session logs older than this. Zero keeps all.
	RetentionDays int `toml:"retention_days"`
}

// Config encapsulates all configuration values for whisperd.
//
// Configuration sections by subsystem:
//   - Paths: model cache, logs, API bind address and token
//   - Engine: WhisperX worker launch and device settings
//   - Transcription: transcription model and decoding options
//   - Alignment: supported languages, load strategy, model overrides
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Engine        Engine        `toml:"engine"`
	Transcription Transcription `toml:"transcription"`
	Alignment     Alignment     `toml:"alignment"`
	Logging       Logging       `toml:"logging"`

	// dotenv holds values read from a .env file beside the config. Process
	// environment always wins over these.
	dotenv map[string]string
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	dotenv, err := readDotenv(filepath.Join(filepath.Dir(resolvedPath), ".env"))
	if err != nil {
		return nil, "", false, err
	}
	cfg.dotenv = dotenv

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("whisperd.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func readDotenv(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat env file: %w", err)
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("parse env file %s: %w", path, err)
	}
	return values, nil
}

// lookupEnv consults the process environment first, then the .env file.
func (c *Config) lookupEnv(key string) (string, bool) {
	if value, ok := os.LookupEnv(key); ok {
		return value, true
	}
	if c.dotenv != nil {
		value, ok := c.dotenv[key]
		return value, ok
	}
	return "", false
}

// EnsureDirectories creates the model cache and log directories. Safe to call
// repeatedly.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.CacheDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// Device returns the torch device the worker runs models on.
func (c *Config) Device() string {
	if c.Engine.CUDAEnabled {
		return DeviceCUDA
	}
	return DeviceCPU
}

// ComputeType returns the precision for the transcription model. CPU inference
// does not support float16, so CPU mode always reports float32.
func (c *Config) ComputeType() string {
	if !c.Engine.CUDAEnabled {
		return computeTypeCPU
	}
	return c.Engine.ComputeType
}

// Temperatures returns the decoding temperature fallback schedule: 0 through 1
// inclusive in steps of the configured increment.
func (c *Config) Temperatures() []float64 {
	step := c.Transcription.TemperatureIncrementOnFallback
	if step <= 0 {
		return []float64{0}
	}
	var out []float64
	for i := 0; ; i++ {
		t := float64(i) * step
		if t > 1.0+1e-6 {
			break
		}
		// Round to avoid 0.6000000000000001 in worker payloads and logs.
		out = append(out, float64(int(t*1e6+0.5))/1e6)
	}
	return out
}

// SupportsLanguage reports whether code (already normalized) is in the
// configured supported set.
func (c *Config) SupportsLanguage(code string) bool {
	for _, lang := range c.Alignment.Languages {
		if lang == code {
			return true
		}
	}
	return false
}

// AlignModelFor returns the override alignment model for a language, or empty
// when WhisperX should pick its default.
func (c *Config) AlignModelFor(code string) string {
	if c.Alignment.Overrides == nil {
		return ""
	}
	return c.Alignment.Overrides[code]
}

// EagerAlignment reports whether alignment models are preloaded at setup.
func (c *Config) EagerAlignment() bool {
	return c.Alignment.Strategy == StrategyEager
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
