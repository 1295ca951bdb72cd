package services

import "context"

type contextKey string

const (
	predictionIDKey contextKey = "prediction_id"
	modeKey         contextKey = "mode"
	languageKey     contextKey = "language"
)

// WithPredictionID annotates context with the prediction identifier used for
// log correlation.
func WithPredictionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, predictionIDKey, id)
}

// PredictionIDFromContext extracts the prediction identifier if present.
func PredictionIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(predictionIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithMode annotates context with the inference mode (transcribe/align).
func WithMode(ctx context.Context, mode string) context.Context {
	if mode == "" {
		return ctx
	}
	return context.WithValue(ctx, modeKey, mode)
}

// ModeFromContext returns the inference mode if present.
func ModeFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(modeKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithLanguage annotates context with the normalized request language.
func WithLanguage(ctx context.Context, language string) context.Context {
	if language == "" {
		return ctx
	}
	return context.WithValue(ctx, languageKey, language)
}

// LanguageFromContext returns the request language if present.
func LanguageFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(languageKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
