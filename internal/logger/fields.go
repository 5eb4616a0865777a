package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldProvider is the structured log field key for the reasoning provider name.
	FieldProvider = "ai_provider"
	// FieldModel is the structured log field key for the reasoning model identifier.
	FieldModel = "ai_model"
	// FieldSession is the structured log field key for the session id.
	FieldSession = "session"
	// FieldGeneration is the structured log field key for the session generation.
	FieldGeneration = "generation"
	// FieldSource is the structured log field key for the document store kind.
	FieldSource = "source"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts key/value pairs into zap fields, dropping entries whose
// key or value is blank.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		value := strings.TrimSpace(field.Value)
		if key == "" || value == "" {
			continue
		}
		result = append(result, zap.String(key, value))
	}
	return result
}

// WithFields attaches fields to logger, falling back to a no-op logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

// WithProvider tags a logger with the reasoning provider and model.
func WithProvider(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)...)
}

// WithSession tags a logger with a session id and, when known, its generation.
func WithSession(logger *zap.Logger, sessionID string, generation uint64) *zap.Logger {
	fields := StringFields(StringField{Key: FieldSession, Value: sessionID})
	if generation > 0 {
		fields = append(fields, zap.Uint64(FieldGeneration, generation))
	}
	return WithFields(logger, fields...)
}
