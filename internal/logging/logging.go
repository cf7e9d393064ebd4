// Package logging configures the global zerolog logger for a duochat run.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger owns the optional log file of the current run.
type Logger struct {
	logFile   *os.File
	startTime time.Time
	mutex     sync.Mutex
}

// Setup points the global logger at stderr (console format when pretty,
// JSON otherwise) and, when file is set, also at that file. The file's
// directory is created if needed.
func Setup(level, file string, pretty bool) (*Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var console io.Writer = os.Stderr
	if pretty {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	}

	l := &Logger{startTime: time.Now()}
	writers := []io.Writer{console}

	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.logFile = f
		writers = append(writers, f)
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	if l.logFile != nil {
		log.Info().Str("file", file).Str("level", lvl.String()).Msg("Logging to file")
	}
	return l, nil
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.logFile == nil {
		return nil
	}
	log.Debug().Dur("elapsed", time.Since(l.startTime).Round(time.Millisecond)).Msg("Closing log")
	l.logFile.Sync()
	err := l.logFile.Close()
	l.logFile = nil
	return err
}
