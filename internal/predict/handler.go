package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"whisperd/internal/config"
	"whisperd/internal/engine"
	"whisperd/internal/language"
	"whisperd/internal/logging"
	"whisperd/internal/services"
)

// Models is the subset of the model manager a prediction needs.
type Models interface {
	TranscriptionModel() (engine.ModelHandle, error)
	AlignModel(ctx context.Context, lang string) (engine.AlignHandle, error)
	SupportsLanguage(code string) bool
}

// Handler runs predictions against loaded models. It holds no per-call state
// and is safe for concurrent use.
type Handler struct {
	models    Models
	engine    engine.Engine
	batchSize int
	logger    *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(cfg *config.Config, models Models, eng engine.Engine, logger *slog.Logger) *Handler {
	return &Handler{
		models:    models,
		engine:    eng,
		batchSize: cfg.Engine.BatchSize,
		logger:    logging.NewComponentLogger(logger, "predict"),
	}
}

// Predict validates req, runs transcription or takes the supplied segments,
// aligns them, and returns the result as a JSON string.
func (h *Handler) Predict(ctx context.Context, req Request) (string, error) {
	result, err := h.Run(ctx, req)
	if err != nil {
		return "", err
	}
	return result.JSON(), nil
}

// Validate checks req without touching the engine. It needs no loaded models.
func (h *Handler) Validate(req Request) error {
	_, err := h.validate(req)
	return err
}

type validated struct {
	lang     string
	mode     Mode
	segments []engine.Segment
}

func (h *Handler) validate(req Request) (validated, error) {
	var v validated
	var err error
	if v.lang, err = h.resolveLanguage(req.Language); err != nil {
		return validated{}, err
	}
	if v.mode, err = ParseMode(req.Mode); err != nil {
		return validated{}, err
	}
	if v.mode == ModeAlign {
		if v.segments, err = ParseSegments(req.Segments); err != nil {
			return validated{}, err
		}
	}
	if err := checkAudio(req.AudioPath); err != nil {
		return validated{}, err
	}
	return v, nil
}

// Run is Predict without the final serialization.
func (h *Handler) Run(ctx context.Context, req Request) (Result, error) {
	started := time.Now()

	v, err := h.validate(req)
	if err != nil {
		return Result{}, err
	}
	lang, mode, segments := v.lang, v.mode, v.segments
	ctx = services.WithMode(services.WithLanguage(ctx, lang), string(mode))
	logger := logging.WithContext(ctx, h.logger)

	var model engine.ModelHandle
	if mode == ModeTranscribe {
		if model, err = h.models.TranscriptionModel(); err != nil {
			return Result{}, err
		}
	}

	audio, err := h.engine.LoadAudio(ctx, req.AudioPath)
	if err != nil {
		return Result{}, engineError("load audio", err)
	}
	defer func() {
		if err := h.engine.Release(context.WithoutCancel(ctx), audio.ID); err != nil {
			logger.Debug("audio release failed", logging.Error(err))
		}
	}()

	if mode == ModeTranscribe {
		transcript, err := h.engine.Transcribe(ctx, model, audio, engine.TranscribeOptions{Language: lang, BatchSize: h.batchSize})
		if err != nil {
			return Result{}, engineError("transcribe", err)
		}
		segments = transcript.Segments
		logger.Debug("transcription complete", logging.Int("segments", len(segments)))
	}

	alignModel, err := h.models.AlignModel(ctx, lang)
	if err != nil {
		return Result{}, err
	}

	var alignment engine.Alignment
	if len(segments) > 0 {
		alignment, err = h.engine.Align(ctx, alignModel, segments, audio, engine.AlignOptions{ReturnCharAlignments: false})
		if err != nil {
			return Result{}, engineError("align", err)
		}
	}

	result := newResult(alignment, lang)
	logger.Info("prediction complete",
		logging.String(logging.FieldEventType, "prediction_complete"),
		logging.Int("segments", len(result.Segments)),
		logging.Int("words", len(result.WordSegments)),
		logging.Float64("audio_seconds", audio.Duration.Float()),
		logging.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

func (h *Handler) resolveLanguage(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return config.DefaultLanguage(), nil
	}
	lang := language.Normalize(value)
	if lang == "" {
		return "", services.InvalidArgument("predict", "validate", fmt.Sprintf("unrecognized language %q", value))
	}
	if !h.models.SupportsLanguage(lang) {
		return "", services.InvalidArgument("predict", "validate",
			fmt.Sprintf("unsupported language %q (%s)", lang, language.DisplayName(lang)))
	}
	return lang, nil
}

func checkAudio(path string) error {
	if strings.TrimSpace(path) == "" {
		return services.InvalidArgument("predict", "validate", "audio path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return services.InvalidArgument("predict", "validate", "audio file not found: "+path)
		}
		return services.Wrap(services.ErrInvalidArgument, "predict", "validate", "audio file unreadable: "+path, err)
	}
	if info.IsDir() {
		return services.InvalidArgument("predict", "validate", "audio path is a directory: "+path)
	}
	return nil
}

var markers = []error{
	services.ErrInvalidArgument,
	services.ErrExternalTool,
	services.ErrConfiguration,
	services.ErrNotFound,
	services.ErrTimeout,
	services.ErrTransient,
}

// engineError keeps an existing classification and tags anything else as an
// external tool failure.
func engineError(op string, err error) error {
	for _, marker := range markers {
		if errors.Is(err, marker) {
			return fmt.Errorf("predict: %s: %w", op, err)
		}
	}
	return services.Wrap(services.ErrExternalTool, "predict", op, "", err)
}
