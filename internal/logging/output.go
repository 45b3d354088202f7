package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	setupOnce sync.Once
	writerMu  sync.Mutex
	logWriter *lumberjack.Logger
)

// SetupBaseLogger installs stdout output at info level. Safe to call repeatedly.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		SetOutput(os.Stdout)
		SetLevel(slog.LevelInfo)
		SetReportCaller(true)
	})
}

// ConfigureLogOutput switches between stdout and a size-rotated file under
// $WRITABLE_PATH/logs (or ./logs).
func ConfigureLogOutput(loggingToFile bool) error {
	SetupBaseLogger()

	writerMu.Lock()
	defer writerMu.Unlock()

	if !loggingToFile {
		closeWriterLocked()
		SetOutput(os.Stdout)
		return nil
	}

	logDir := "logs"
	if base := writablePath(); base != "" {
		logDir = filepath.Join(base, "logs")
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("logging: failed to create log directory: %w", err)
	}
	closeWriterLocked()
	logWriter = &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "gameday.log"),
		MaxSize:    10,
		MaxBackups: 3,
		Compress:   true,
	}
	SetOutput(logWriter)
	return nil
}

// Close flushes and releases the rotating file, if any.
func Close() {
	writerMu.Lock()
	defer writerMu.Unlock()
	closeWriterLocked()
}

func closeWriterLocked() {
	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
}

func writablePath() string {
	for _, key := range []string{"WRITABLE_PATH", "writable_path"} {
		if value, ok := os.LookupEnv(key); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return filepath.Clean(trimmed)
			}
		}
	}
	return ""
}
