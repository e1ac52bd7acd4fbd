/*

Package log proxies logging calls to logrus, with a process-wide level
controlled by verbosity flags on the root command.

*/
package log

import (
	"context"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultLevel only prints warning and errors.
	DefaultLevel = logrus.WarnLevel
	// InfoLevel is signaling system information like global calls.
	InfoLevel = logrus.InfoLevel
	// DebugLevel gives fine-grained details about executions.
	DebugLevel = logrus.DebugLevel
)

// SetLevel sets default logger
func SetLevel(l logrus.Level) {
	setLevelLogger(logrus.StandardLogger(), l)
}

// GetLevel gets default logger level
func GetLevel() logrus.Level {
	return logrus.GetLevel()
}

func setLevelLogger(logger *logrus.Logger, l logrus.Level) {
	logger.SetLevel(l)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableLevelTruncation: true,
		DisableTimestamp:       true,
	})
}

// Debug logs a message at level Debug on the standard logger.
// ctx is accepted for call-site symmetry with Info/Warning/Error and to
// allow a future per-request logger to be threaded through without
// changing every call site.
func Debug(ctx context.Context, args ...interface{}) {
	logrus.Debug(args...)
}

// Debugf logs a formatted message at level Debug.
func Debugf(ctx context.Context, format string, args ...interface{}) {
	logrus.Debugf(format, args...)
}

// Info logs a message at level Info on the standard logger.
func Info(ctx context.Context, args ...interface{}) {
	logrus.Info(args...)
}

// Infof logs a formatted message at level Info.
func Infof(ctx context.Context, format string, args ...interface{}) {
	logrus.Infof(format, args...)
}

// Warning logs a message at level Warning on the standard logger.
func Warning(ctx context.Context, args ...interface{}) {
	logrus.Warning(args...)
}

// Warningf logs a formatted message at level Warning.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	logrus.Warningf(format, args...)
}

// Error logs a message at level Error on the standard logger.
func Error(ctx context.Context, args ...interface{}) {
	logrus.Error(args...)
}

// Errorf logs a formatted message at level Error.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	logrus.Errorf(format, args...)
}
