/*
Copyright 2025 The Adaptive Compute Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logging wires zap into the logr API used across the engine.
package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity levels used with logger.V(). INFO is the default level;
// DEBUG and TRACE are progressively more verbose.
const (
	INFO  = 0
	DEBUG = 1
	TRACE = 2
)

// Options controls logger construction.
type Options struct {
	// Verbosity is the maximum V() level that will be emitted.
	Verbosity int

	// JSON selects the production JSON encoder instead of the
	// human-readable console encoder.
	JSON bool
}

// NewLogger builds a logr.Logger backed by zap.
//
// zapr maps logr V(n) calls to zap level -n, so the verbosity knob is
// applied as a negative zap level.
func NewLogger(opts Options) logr.Logger {
	var cfg zap.Config
	if opts.JSON {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-opts.Verbosity)) //nolint:gosec

	zl, err := cfg.Build()
	if err != nil {
		// Construction only fails on invalid config paths; fall back
		// to a no-op logger rather than panicking in callers.
		return logr.Discard()
	}
	return zapr.NewLogger(zl)
}

// NewTestLogger returns a development logger at TRACE verbosity for use
// in unit and suite tests.
func NewTestLogger() logr.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-TRACE))
	zl, err := cfg.Build()
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(zl)
}
