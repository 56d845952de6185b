/*
 * Minio Cloud Storage, (C) 2016 Minio, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package xlog is the ambient structured logger used across the coordinator
// and node processes. It wraps zap behind a package-level instance
// installed once at process start, accessed through small free functions
// so call sites never hold a *zap.Logger themselves; they still import zap
// to build fields such as zap.String.
package xlog

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.Logger = zap.NewNop()
)

// Init installs the process-wide logger. component is attached to every
// entry so coordinator and node logs can be told apart when shipped
// somewhere that interleaves them. debug enables debug-level output.
func Init(component string, debug bool) error {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	built, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}

	mu.Lock()
	log = built.With(zap.String("component", component))
	mu.Unlock()
	return nil
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Debug logs a debug-level entry. Cheap to call unconditionally; zap itself
// skips the encode when the level is disabled.
func Debug(msg string, fields ...zap.Field) { current().Debug(msg, fields...) }

// Info logs an info-level entry.
func Info(msg string, fields ...zap.Field) { current().Info(msg, fields...) }

// Warn logs a warn-level entry.
func Warn(msg string, fields ...zap.Field) { current().Warn(msg, fields...) }

// Error logs an error-level entry. Takes the error directly so call sites
// don't have to remember zap.Error(err) at every site.
func Error(msg string, err error, fields ...zap.Field) {
	current().Error(msg, append(fields, zap.Error(err))...)
}

// Fatal logs and exits the process; used at startup for unrecoverable
// configuration errors.
func Fatal(msg string, err error, fields ...zap.Field) {
	current().Error(msg, append(fields, zap.Error(err))...)
	os.Exit(1)
}

// Sync flushes any buffered log entries; call before process exit.
func Sync() { _ = current().Sync() }
