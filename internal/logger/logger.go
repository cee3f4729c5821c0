// Copyright 2024 The udfcore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger is a small, leveled wrapper around log/slog that every
// udfcore subsystem calls instead of reaching for log/slog directly. It
// gives every call site a stable Tracef/Debugf/Infof/Warnf/Errorf surface
// regardless of whether the underlying handler is text, JSON, or rotated
// to a file through lumberjack.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels, ordered least to most severe. TRACE is below slog's
// own Debug level, so it is modeled as a custom level two steps below.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	// LevelOff silences every call site; see SetSeverity.
	LevelOff = slog.Level(100)
)

var severityNames = map[slog.Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARNING",
	LevelError: "ERROR",
}

// Format selects the on-disk encoding of log records.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config controls where and how logger.Init writes records. It mirrors the
// teacher's LogConfig (file path, format, severity, rotation knobs).
type Config struct {
	Severity   string
	Format     Format
	FilePath   string
	MaxSizeMB  int
	Backups    int
	MaxAgeDays int
	Compress   bool
}

var (
	programLevel  = new(slog.LevelVar)
	defaultLogger = slog.New(newHandler(os.Stderr, programLevel, ""))
	closer        io.Closer
)

func newHandler(w io.Writer, lvl *slog.LevelVar, prefix string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				l := a.Value.Any().(slog.Level)
				name, ok := severityNames[l]
				if !ok {
					name = l.String()
				}
				return slog.String("severity", name)
			case slog.MessageKey:
				return slog.String("message", prefix+a.Value.String())
			}
			return a
		},
	}
	return slog.NewJSONHandler(w, opts)
}

func newTextHandler(w io.Writer, lvl *slog.LevelVar, prefix string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				return slog.String("time", a.Value.Time().Format("2006/01/02 15:04:05.000000"))
			case slog.LevelKey:
				l := a.Value.Any().(slog.Level)
				name, ok := severityNames[l]
				if !ok {
					name = l.String()
				}
				return slog.String("severity", name)
			case slog.MessageKey:
				return slog.String("message", prefix+a.Value.String())
			}
			return a
		},
	}
	return slog.NewTextHandler(w, opts)
}

// Init wires the default logger from cfg. It is safe to call once at
// process start, before any subsystem begins logging.
func Init(cfg Config) error {
	setSeverity(cfg.Severity)

	var w io.Writer = os.Stderr
	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 512),
			MaxBackups: cfg.Backups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w = lj
		closer = lj
	}

	var h slog.Handler
	if cfg.Format == FormatText {
		h = newTextHandler(w, programLevel, "")
	} else {
		h = newHandler(w, programLevel, "")
	}
	defaultLogger = slog.New(h)
	return nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Close flushes and closes the rotated log file, if one is in use.
func Close() error {
	if closer == nil {
		return nil
	}
	return closer.Close()
}

func setSeverity(sev string) {
	switch sev {
	case "TRACE":
		programLevel.Set(LevelTrace)
	case "DEBUG":
		programLevel.Set(LevelDebug)
	case "INFO":
		programLevel.Set(LevelInfo)
	case "WARNING", "WARN":
		programLevel.Set(LevelWarn)
	case "ERROR":
		programLevel.Set(LevelError)
	case "OFF":
		programLevel.Set(LevelOff)
	default:
		programLevel.Set(LevelInfo)
	}
}

// SetSeverity adjusts the minimum level the default logger emits at
// runtime, the way cmd/root.go re-applies --log-severity after flag
// parsing.
func SetSeverity(sev string) { setSeverity(sev) }

func log(ctx context.Context, lvl slog.Level, format string, v ...any) {
	if !defaultLogger.Enabled(ctx, lvl) {
		return
	}
	defaultLogger.Log(ctx, lvl, fmt.Sprintf(format, v...))
}

func Tracef(format string, v ...any) { log(context.Background(), LevelTrace, format, v...) }
func Debugf(format string, v ...any) { log(context.Background(), LevelDebug, format, v...) }
func Infof(format string, v ...any)  { log(context.Background(), LevelInfo, format, v...) }
func Warnf(format string, v ...any)  { log(context.Background(), LevelWarn, format, v...) }
func Errorf(format string, v ...any) { log(context.Background(), LevelError, format, v...) }

// TraceContext, etc. thread a ctx through so handlers that look at
// ctx-scoped attributes (request IDs) still see them; plain vs Context
// variants mirror gcsfuse's call-site split between background
// goroutines and request-scoped dispatch handlers.
func TracefCtx(ctx context.Context, format string, v ...any) { log(ctx, LevelTrace, format, v...) }
func DebugfCtx(ctx context.Context, format string, v ...any) { log(ctx, LevelDebug, format, v...) }
func InfofCtx(ctx context.Context, format string, v ...any)  { log(ctx, LevelInfo, format, v...) }
func WarnfCtx(ctx context.Context, format string, v ...any)  { log(ctx, LevelWarn, format, v...) }
func ErrorfCtx(ctx context.Context, format string, v ...any) { log(ctx, LevelError, format, v...) }
