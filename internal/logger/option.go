package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLogFilename is the name of the debug log written into the temp directory.
const DefaultLogFilename = "xlm.log"

// WithFileSink opens (truncating) the log file at path and returns an option
// that tees every entry at debug level and above into it as plain text.
// The returned close function must be called once logging is done.
//
//nolint:ireturn,nolintlint // Returning zap.Option is intended for zap integration.
func WithFileSink(path string) (zap.Option, func() error, error) {
	file, err := os.Create(filepath.Clean(path))
	if err != nil {
		return nil, nil, fmt.Errorf("create log file: %w", err)
	}

	encoderConfig := consoleEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	fileCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(file),
		zapcore.DebugLevel,
	)

	option := zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})

	return option, file.Close, nil
}

// DefaultLogPath returns the debug log location inside the system temp directory.
func DefaultLogPath() string {
	return filepath.Join(os.TempDir(), DefaultLogFilename)
}
