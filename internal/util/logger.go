// Package util holds process-wide helpers: logger setup and host
// information.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
	// Role names the process in the file name and the "role" field,
	// e.g. "server" or "client".
	Role string `json:"-"`
	// ConsoleOut overrides os.Stdout for the console writer.
	ConsoleOut io.Writer `json:"-"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxSizeMB:  10,
		MaxBackups: 5,
		Console:    true,
		Role:       "server",
	}
}

// InitLogger initializes the zerolog global logger with file and console output.
func InitLogger(cfg LogConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Role == "" {
		cfg.Role = "server"
	}

	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
	}

	logFileName := fmt.Sprintf("mayhem_%s_%s.log", cfg.Role, time.Now().Format("2006-01-02"))
	logFilePath := filepath.Join(cfg.Directory, logFileName)

	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
	}

	// File gets JSON, console gets the human-readable form.
	writers := []io.Writer{logFile}
	if cfg.Console {
		out := cfg.ConsoleOut
		if out == nil {
			out = os.Stdout
		}
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05.000",
		})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", "mayhem").
		Str("role", cfg.Role).
		Logger()

	log.Info().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	go cleanOldLogs(cfg.Directory, cfg.MaxBackups, cfg.MaxSizeMB)

	return nil
}

// cleanOldLogs keeps the newest maxBackups log files and removes files
// above maxSizeMB except the newest one.
func cleanOldLogs(directory string, maxBackups, maxSizeMB int) int {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return 0
	}

	type logFile struct {
		path    string
		modTime time.Time
		size    int64
	}
	var files []logFile
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, logFile{
			path:    filepath.Join(directory, entry.Name()),
			modTime: info.ModTime(),
			size:    info.Size(),
		})
	}

	// Newest first
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	removed := 0
	for i, f := range files {
		tooMany := maxBackups > 0 && i >= maxBackups
		tooBig := maxSizeMB > 0 && i > 0 && f.size > int64(maxSizeMB)*1024*1024
		if !tooMany && !tooBig {
			continue
		}
		if err := os.Remove(f.path); err == nil {
			removed++
			log.Debug().Str("file", f.path).Msg("removed old log file")
		}
	}
	return removed
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
