// Package logging builds the process logger: a console core for the
// operator and a JSON file core for the diagnostic trail, with size-based
// rotation of the file.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// maxLogFileSize triggers rotation of the diagnostic log file.
const maxLogFileSize = 10 * 1024 * 1024

type Options struct {
	// FilePath is the JSON diagnostic log; empty disables the file core.
	FilePath string
	// Console enables the human-readable stderr core. The dashboard run
	// turns it off so log lines do not fight the TUI for the terminal.
	Console bool
	Debug   bool
}

// New assembles the logger from the enabled cores. With everything
// disabled it returns a no-op logger.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	var cores []zapcore.Core

	if opts.Console {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stderr),
			level,
		))
	}

	if opts.FilePath != "" {
		if err := rotateIfOversize(opts.FilePath); err != nil {
			return nil, err
		}
		if dir := filepath.Dir(opts.FilePath); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
		}
		file, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(file),
			level,
		))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}
	return zap.New(zapcore.NewTee(cores...)), nil
}

// rotateIfOversize moves an oversized log aside as <name>.bak, replacing any
// previous backup.
func rotateIfOversize(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < maxLogFileSize {
		return nil
	}
	if err := os.Rename(path, path+".bak"); err != nil {
		return fmt.Errorf("rotate log file: %w", err)
	}
	return nil
}
