// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// maxLogRolls is the number of rotated log files kept alongside the
// active one.
const maxLogRolls = 3

// maxLogFileSize is the rotation threshold, in KiB, matching the
// convention this logrotate package was written for.
const maxLogFileSize = 10 * 1024

// newLogger builds a zap.Logger that writes human-readable output to
// stderr and rotating JSON records under logDir/initializer.log.
func newLogger(logDir string, debug bool) (*zap.Logger, func(), error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}
	logFile := filepath.Join(logDir, "initializer.log")
	logRotator, err := rotator.New(logFile, maxLogFileSize, false, maxLogRolls)
	if err != nil {
		return nil, nil, err
	}

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stderr), level)
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(logRotator), level)

	logger := zap.New(zapcore.NewTee(consoleCore, fileCore))
	closeFn := func() {
		logRotator.Close()
		_ = logger.Sync()
	}
	return logger, closeFn, nil
}
