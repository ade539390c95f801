package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var (
	// Log is the shared logger. It writes to stderr until Init points it at a
	// file.
	Log     = newLogger(os.Stderr)
	logFile *os.File
)

func newLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:          true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
	return l
}

// Init sets the log level and, when logFilePath is not empty, sends output to
// that file.
func Init(level, logFilePath string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	Log.SetLevel(lvl)
	Log.SetReportCaller(lvl >= logrus.DebugLevel)

	if logFilePath == "" {
		return nil
	}

	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	Cleanup()
	logFile = f
	Log.SetOutput(f)

	return nil
}

// Cleanup closes the log file when the application is done using it
func Cleanup() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
		Log.SetOutput(os.Stderr)
	}
}

// WithField returns an entry carrying a single structured field.
func WithField(key string, value interface{}) *logrus.Entry {
	return Log.WithField(key, value)
}

func Debugf(format string, v ...interface{}) { Log.Debugf(format, v...) }

func Infof(format string, v ...interface{}) { Log.Infof(format, v...) }

func Warnf(format string, v ...interface{}) { Log.Warnf(format, v...) }

func Errorf(format string, v ...interface{}) { Log.Errorf(format, v...) }
