/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Seednode/santabox/santa"
)

// newLogger builds the structured JSON logger. --verbose enables debug
// output; LOG_LEVEL overrides both.
func newLogger(verbose bool) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		level.SetLevel(zapcore.DebugLevel)
	}
	if env := strings.TrimSpace(os.Getenv("LOG_LEVEL")); env != "" {
		_ = level.UnmarshalText([]byte(strings.ToLower(env)))
	}

	encoderCfg := zapcore.EncoderConfig{
		MessageKey: "message",
		TimeKey:    "timestamp",
		LevelKey:   "severity",
		EncodeTime: zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(level.String()))
		},
		CallerKey:     "caller",
		EncodeCaller:  zapcore.ShortCallerEncoder,
		StacktraceKey: "stacktrace",
	}

	zcfg := zap.Config{
		Level:             level,
		Encoding:          "json",
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}

	return zcfg.Build()
}

func logger(cfg *Config) *zap.Logger {
	if cfg.logger == nil {
		return zap.NewNop()
	}
	return cfg.logger
}

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	logger(cfg).WithOptions(zap.AddCallerSkip(1)).Sugar().Infof(format, args...)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps room errors onto HTTP statuses. Validation and
// authorisation failures are the user's to fix; exhaustion is retryable.
func statusFor(err error) int {
	switch santa.KindOf(err) {
	case santa.KindValidation:
		return http.StatusBadRequest
	case santa.KindAuthorization:
		return http.StatusForbidden
	case santa.KindConflict:
		return http.StatusConflict
	case santa.KindExhausted:
		return http.StatusServiceUnavailable
	case santa.KindMalformed:
		return http.StatusInternalServerError
	}
	if errors.Is(err, santa.ErrSessionClosed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func writeRoomError(w http.ResponseWriter, err error) {
	kind := santa.KindOf(err)

	msg := err.Error()
	if kind == santa.KindUnknown || kind == santa.KindMalformed {
		msg = "room storage is unavailable, please try again"
	}

	writeJSON(w, statusFor(err), errorResponse{Error: msg, Kind: kind.String()})
}
