// Package logging wraps zerolog with the fields the scheduler logs by:
// user, job, batch and pipeline stage.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is a wrapper around zerolog.Logger
type Logger struct {
	logger zerolog.Logger
}

// Config holds logging configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	Output     string // stdout, stderr, file path
	TimeFormat string
}

// Fields that carry secrets and are dropped from every entry
var redacted = map[string]bool{
	"credential_ref": true,
	"refresh_token":  true,
	"api_key":        true,
	"authorization":  true,
}

const redactedValue = "[redacted]"

// NewLogger creates a logger writing to cfg.Output
func NewLogger(cfg Config) (*Logger, error) {
	var output io.Writer

	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		output = file
	}

	return build(output, cfg, true), nil
}

// NewWriterLogger creates a logger writing to w. The global zerolog logger
// is left alone.
func NewWriterLogger(w io.Writer, cfg Config) *Logger {
	return build(w, cfg, false)
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

func build(output io.Writer, cfg Config, global bool) *Logger {
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Logger()
	if global {
		log.Logger = logger
	}
	return &Logger{logger: logger}
}

func (l *Logger) with(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{logger: fn(l.logger.With()).Logger()}
}

// WithField adds a field to the logger
func (l *Logger) WithField(key string, value interface{}) *Logger {
	if redacted[key] {
		value = redactedValue
	}
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

// WithFields adds multiple fields to the logger
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		for k, v := range fields {
			if redacted[k] {
				v = redactedValue
			}
			c = c.Interface(k, v)
		}
		return c
	})
}

// WithComponent tags every entry with the emitting component
func (l *Logger) WithComponent(component string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("component", component) })
}

func (l *Logger) WithJobID(jobID string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("job_id", jobID) })
}

func (l *Logger) WithUserID(userID string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("user_id", userID) })
}

func (l *Logger) WithBatchID(batchID string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("batch_id", batchID) })
}

func (l *Logger) Debug(msg string) { l.logger.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.logger.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.logger.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.logger.Error().Msg(msg) }

// ErrorWithErr logs msg at error level with err attached
func (l *Logger) ErrorWithErr(msg string, err error) {
	l.logger.Error().Err(err).Msg(msg)
}

// LogHTTPRequest logs one served API request
func (l *Logger) LogHTTPRequest(method, path, clientIP string, statusCode int, duration time.Duration) {
	evt := l.logger.Info()
	if statusCode >= 500 {
		evt = l.logger.Error()
	}
	evt.
		Str("method", method).
		Str("path", path).
		Str("client_ip", clientIP).
		Int("status_code", statusCode).
		Dur("duration_ms", duration).
		Msg("HTTP request")
}

// LogJobEvent logs a change in a job's lifecycle
func (l *Logger) LogJobEvent(userID, jobID, event, status string, details map[string]interface{}) {
	evt := l.logger.Info().
		Str("user_id", userID).
		Str("job_id", jobID).
		Str("event", event).
		Str("status", status)

	for k, v := range details {
		if redacted[k] {
			continue
		}
		evt = evt.Interface(k, v)
	}

	evt.Msg("Job event")
}

// LogStageResult logs the outcome of one pipeline stage
func (l *Logger) LogStageResult(userID, jobID, stage string, duration time.Duration, err error) {
	evt := l.logger.Info()
	if err != nil {
		evt = l.logger.Error().Err(err)
	}

	evt.
		Str("user_id", userID).
		Str("job_id", jobID).
		Str("stage", stage).
		Dur("duration_ms", duration).
		Msg("Pipeline stage finished")
}

// LogStoreOperation logs a queue store operation. Successful ones are debug
// level since every status change saves.
func (l *Logger) LogStoreOperation(operation, backend, userID string, jobs int, duration time.Duration, err error) {
	evt := l.logger.Debug()
	if err != nil {
		evt = l.logger.Error().Err(err)
	}

	evt.
		Str("operation", operation).
		Str("backend", backend).
		Str("user_id", userID).
		Int("jobs", jobs).
		Dur("duration_ms", duration).
		Msg("Store operation")
}

// LogBatchCompleted logs a finished batch
func (l *Logger) LogBatchCompleted(userID, batchID string, succeeded, total int, elapsed time.Duration) {
	l.logger.Info().
		Str("user_id", userID).
		Str("batch_id", batchID).
		Int("succeeded", succeeded).
		Int("failed", total-succeeded).
		Int("total", total).
		Dur("elapsed_ms", elapsed).
		Msg("Batch completed")
}
