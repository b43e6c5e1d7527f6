// Package mylog builds the shared logrus logger: levels come from config
// strings, output goes to stdout and optionally to a log file.
package mylog

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

const (
	PanicLevel = "panic"
	FatalLevel = "fatal"
	ErrorLevel = "error"
	WarnLevel  = "warn"
	InfoLevel  = "info"
	DebugLevel = "debug"
)

func convertLevel(level string) logrus.Level {
	switch level {
	case PanicLevel:
		return logrus.PanicLevel
	case FatalLevel:
		return logrus.FatalLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	case WarnLevel:
		return logrus.WarnLevel
	case InfoLevel:
		return logrus.InfoLevel
	case DebugLevel:
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// Init builds a logger at the given level. When path is non-empty a
// wallet.log file under that directory receives a copy of the output.
func Init(path string, level string) *logrus.Logger {
	clog := logrus.New()
	clog.Out = os.Stdout
	clog.Formatter = &logrus.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
	}
	clog.Level = convertLevel(level)

	if path != "" {
		if err := os.MkdirAll(path, 0700); err == nil {
			f, err := os.OpenFile(filepath.Join(path, "wallet.log"),
				os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
			if err == nil {
				clog.Out = io.MultiWriter(os.Stdout, f)
			}
		}
	}
	return clog
}
