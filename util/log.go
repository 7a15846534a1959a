package util

import (
	"io"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jupiter/notifier/formatter"
)

// LogConsole keeps the log output on stderr
const LogConsole = "console"

const (
	logMaxSizeMB  = 5
	logMaxBackups = 10
	logMaxAgeDays = 30
)

// InitLog sets the level, the text formatter and the output of the standard logger. Any log path other
// than console is written to a rotated file.
func InitLog(logLevel string, logPath string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Errorf("Failed parsing log-level %s: %s", logLevel, err)
		return err
	}

	if w := logWriter(logPath); w != nil {
		log.SetOutput(w)
	}

	formatter.SetTextFormatter(log.StandardLogger())
	log.SetLevel(level)
	return nil
}

// logWriter returns nil for the console
func logWriter(logPath string) io.Writer {
	if logPath == "" || logPath == LogConsole {
		return nil
	}
	return &lumberjack.Logger{
		// os agnostic absolute path
		Filename:   filepath.ToSlash(logPath),
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAge:     logMaxAgeDays,
		Compress:   true,
	}
}
