package config

import "whisperd/internal/language"

// Device and strategy values.
const (
	DeviceCUDA    = "cuda"
	DeviceCPU     = "cpu"
	StrategyLazy  = "lazy"
	StrategyEager = "eager"
)

const (
	defaultConfigPath            = "~/.config/whisperd/config.toml"
	defaultCacheDir              = "model_cache"
	defaultLogDir                = "~/.local/share/whisperd/logs"
	defaultAPIBind               = "127.0.0.1:5000"
	defaultEngineCommand         = "uvx"
	defaultEnginePackage         = "whisperx"
	defaultComputeType           = "float16"
	computeTypeCPU               = "float32"
	defaultBatchSize             = 16
	defaultStartupTimeoutSeconds = 600
	defaultRequestTimeoutSeconds = 1800
	defaultTranscriptionModel    = "large-v2"
	defaultTemperatureIncrement  = 0.2
	defaultAlignmentLanguage     = "en"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 14
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			CacheDir: defaultCacheDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Engine: Engine{
			Command:               defaultEngineCommand,
			Package:               defaultEnginePackage,
			CUDAEnabled:           true,
			ComputeType:           defaultComputeType,
			BatchSize:             defaultBatchSize,
			StartupTimeoutSeconds: defaultStartupTimeoutSeconds,
			RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
		},
		Transcription: Transcription{
			Model:                          defaultTranscriptionModel,
			TemperatureIncrementOnFallback: defaultTemperatureIncrement,
		},
		Alignment: Alignment{
			Strategy:  StrategyLazy,
			Languages: language.AlignmentDefaults(),
			Overrides: map[string]string{},
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}

// DefaultLanguage is the request language used when a caller omits one.
func DefaultLanguage() string {
	return defaultAlignmentLanguage
}
