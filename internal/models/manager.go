package models

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"whisperd/internal/config"
	"whisperd/internal/engine"
	"whisperd/internal/language"
	"whisperd/internal/logging"
	"whisperd/internal/modelcache"
	"whisperd/internal/services"
)

// Manager owns the model cache, the transcription model, and the alignment
// model table for the lifetime of the process.
type Manager struct {
	cfg    *config.Config
	engine engine.Engine
	logger *slog.Logger
	now    func() time.Time

	setupMu sync.Mutex
	cache   *modelcache.Cache
	model   *engine.ModelHandle
	version engine.VersionInfo

	// alignMu guards the map only. Loads run outside it.
	alignMu sync.Mutex
	align   map[string]engine.AlignHandle
}

// Snapshot describes loaded state for health reporting.
type Snapshot struct {
	Ready           bool     `json:"ready"`
	Model           string   `json:"model"`
	Device          string   `json:"device"`
	ComputeType     string   `json:"compute_type"`
	Strategy        string   `json:"alignment_strategy"`
	AlignLanguages  []string `json:"alignment_loaded"`
	WhisperXVersion string   `json:"whisperx_version,omitempty"`
	CacheDir        string   `json:"cache_dir"`
}

// New constructs a Manager. Nothing is loaded until Setup.
func New(cfg *config.Config, eng engine.Engine, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		engine: eng,
		logger: logging.NewComponentLogger(logger, "models"),
		now:    time.Now,
		align:  make(map[string]engine.AlignHandle),
	}
}

// Setup prepares the cache and loads the transcription model, plus every
// alignment model when the eager strategy is configured. Calling Setup again
// after success does nothing.
func (m *Manager) Setup(ctx context.Context) error {
	m.setupMu.Lock()
	defer m.setupMu.Unlock()
	if m.model != nil {
		m.logger.Debug("setup skipped; models already loaded")
		return nil
	}

	started := m.now()
	if m.cache == nil {
		cache, err := modelcache.Open(m.cfg.Paths.CacheDir)
		if err != nil {
			return err
		}
		m.cache = cache
	}

	unlock, err := m.cache.Lock(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()

	version, err := m.engine.Version(ctx)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "models", "setup", "query engine version", err)
	}
	m.version = version

	spec := engine.ModelSpec{
		Name:         m.cfg.Transcription.Model,
		Device:       m.cfg.Device(),
		ComputeType:  m.cfg.ComputeType(),
		DownloadRoot: m.cache.Dir(),
		ASROptions: engine.ASROptions{
			Temperatures:     m.cfg.Temperatures(),
			SuppressNumerals: m.cfg.Transcription.SuppressNumerals,
		},
	}
	handle, err := m.engine.LoadModel(ctx, spec)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "models", "setup", "load transcription model "+spec.Name, err)
	}
	m.model = &handle
	m.recordLoad(ctx, modelcache.Entry{Kind: modelcache.KindTranscription, Name: spec.Name, Device: spec.Device})

	m.logger.Info("whisperx version report",
		logging.String(logging.FieldEventType, "version_report"),
		logging.String("whisperx_version", version.WhisperX),
		logging.String("torch_version", version.Torch),
		logging.String("model", spec.Name),
		logging.String("device", spec.Device),
		logging.String("compute_type", spec.ComputeType),
		logging.Bool("faster_whisper_direct", false),
	)

	if m.cfg.EagerAlignment() {
		for _, lang := range m.cfg.Alignment.Languages {
			if _, err := m.loadAlign(ctx, lang); err != nil {
				return err
			}
		}
	}

	m.logger.Info("model setup complete",
		logging.String(logging.FieldEventType, "setup_complete"),
		logging.String("alignment_strategy", m.cfg.Alignment.Strategy),
		logging.Int("alignment_models", m.alignCount()),
		logging.Duration("elapsed", m.now().Sub(started)),
	)
	return nil
}

// TranscriptionModel returns the loaded transcription model.
func (m *Manager) TranscriptionModel() (engine.ModelHandle, error) {
	m.setupMu.Lock()
	defer m.setupMu.Unlock()
	if m.model == nil {
		return engine.ModelHandle{}, services.Wrap(services.ErrConfiguration, "models", "transcription model", "setup has not completed", nil)
	}
	return *m.model, nil
}

// SupportsLanguage reports whether code is in the configured language set.
func (m *Manager) SupportsLanguage(code string) bool {
	return m.cfg.SupportsLanguage(code)
}

// AlignModel returns the cached alignment model for lang, loading it on first
// use. Concurrent first requests may both load; the last one stored wins and
// the handle it replaces is released.
func (m *Manager) AlignModel(ctx context.Context, lang string) (engine.AlignHandle, error) {
	m.alignMu.Lock()
	handle, ok := m.align[lang]
	m.alignMu.Unlock()
	if ok {
		return handle, nil
	}
	if !m.cfg.SupportsLanguage(lang) {
		return engine.AlignHandle{}, services.InvalidArgument("models", "align model", "unsupported language "+lang)
	}

	cache, err := m.ensureCache()
	if err != nil {
		return engine.AlignHandle{}, err
	}
	unlock, err := cache.Lock(ctx)
	if err != nil {
		return engine.AlignHandle{}, err
	}
	defer func() { _ = unlock() }()

	m.alignMu.Lock()
	handle, ok = m.align[lang]
	m.alignMu.Unlock()
	if ok {
		return handle, nil
	}
	return m.loadAlign(ctx, lang)
}

func (m *Manager) loadAlign(ctx context.Context, lang string) (engine.AlignHandle, error) {
	spec := engine.AlignSpec{
		Language:  lang,
		ModelName: m.cfg.AlignModelFor(lang),
		Device:    m.cfg.Device(),
		ModelDir:  m.cfg.Paths.CacheDir,
	}
	started := m.now()
	handle, err := m.engine.LoadAlignModel(ctx, spec)
	if err != nil {
		return engine.AlignHandle{}, services.Wrap(services.ErrExternalTool, "models", "align model", "load alignment model for "+lang, err)
	}

	m.alignMu.Lock()
	previous, replaced := m.align[lang]
	m.align[lang] = handle
	m.alignMu.Unlock()
	if replaced && previous.ID != handle.ID {
		if err := m.engine.Release(ctx, previous.ID); err != nil {
			logging.WarnWithContext(m.logger, "release of duplicate alignment model failed", "align_release_failed",
				logging.String(logging.FieldLanguage, lang),
				logging.Error(err),
				logging.String(logging.FieldImpact, "extra alignment model stays in worker memory"),
			)
		}
	}

	name := spec.ModelName
	if name == "" {
		name = "default:" + lang
	}
	m.recordLoad(ctx, modelcache.Entry{Kind: modelcache.KindAlignment, Name: name, Language: lang, Device: spec.Device})
	m.logger.Info("alignment model loaded",
		logging.String(logging.FieldLanguage, lang),
		logging.String("language_name", language.DisplayName(lang)),
		logging.String("model", name),
		logging.Duration("elapsed", m.now().Sub(started)),
	)
	return handle, nil
}

func (m *Manager) ensureCache() (*modelcache.Cache, error) {
	m.setupMu.Lock()
	defer m.setupMu.Unlock()
	if m.cache == nil {
		cache, err := modelcache.Open(m.cfg.Paths.CacheDir)
		if err != nil {
			return nil, err
		}
		m.cache = cache
	}
	return m.cache, nil
}

func (m *Manager) recordLoad(ctx context.Context, entry modelcache.Entry) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Record(ctx, entry, m.now()); err != nil {
		logging.WarnWithContext(m.logger, "model manifest update failed", "manifest_write_failed",
			logging.String("model", entry.Name),
			logging.Error(err),
			logging.String(logging.FieldImpact, "whisperd models listing may be stale"),
		)
	}
}

func (m *Manager) alignCount() int {
	m.alignMu.Lock()
	defer m.alignMu.Unlock()
	return len(m.align)
}

// Snapshot reports what is currently loaded.
func (m *Manager) Snapshot() Snapshot {
	m.setupMu.Lock()
	snap := Snapshot{
		Ready:           m.model != nil,
		Model:           m.cfg.Transcription.Model,
		Device:          m.cfg.Device(),
		ComputeType:     m.cfg.ComputeType(),
		Strategy:        m.cfg.Alignment.Strategy,
		WhisperXVersion: m.version.WhisperX,
		CacheDir:        m.cfg.Paths.CacheDir,
	}
	m.setupMu.Unlock()

	m.alignMu.Lock()
	snap.AlignLanguages = make([]string, 0, len(m.align))
	for lang := range m.align {
		snap.AlignLanguages = append(snap.AlignLanguages, lang)
	}
	m.alignMu.Unlock()
	slices.Sort(snap.AlignLanguages)
	return snap
}

// Close releases every loaded model, stops the engine, and closes the cache.
func (m *Manager) Close(ctx context.Context) error {
	m.alignMu.Lock()
	aligns := m.align
	m.align = make(map[string]engine.AlignHandle)
	m.alignMu.Unlock()
	for _, handle := range aligns {
		if err := m.engine.Release(ctx, handle.ID); err != nil {
			m.logger.Debug("release alignment model failed", logging.String("handle", handle.ID), logging.Error(err))
		}
	}

	m.setupMu.Lock()
	defer m.setupMu.Unlock()
	if m.model != nil {
		if err := m.engine.Release(ctx, m.model.ID); err != nil {
			m.logger.Debug("release transcription model failed", logging.Error(err))
		}
		m.model = nil
	}
	engineErr := m.engine.Close()
	if m.cache != nil {
		if err := m.cache.Close(); err != nil && engineErr == nil {
			engineErr = err
		}
		m.cache = nil
	}
	if engineErr != nil {
		return services.Wrap(services.ErrExternalTool, "models", "close", "shutdown", engineErr)
	}
	return nil
}
