package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config represents logger configuration
type Config struct {
	ConsoleOutput bool   `yaml:"console_output"`
	ConsoleColor  bool   `yaml:"console_color"`
	FileOutput    bool   `yaml:"file_output"`
	FileName      string `yaml:"file_name"`
	FileMaxSize   string `yaml:"file_max_size"`
	Level         string `yaml:"level"`
}

// Logger wraps zerolog functionality with isolated dependencies
type Logger struct {
	zlog   zerolog.Logger
	config Config
}

// New creates a new logger instance
func New(config Config) (*Logger, error) {
	level, err := parseLogLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var writers []io.Writer

	if config.ConsoleOutput {
		var consoleWriter io.Writer = os.Stdout
		if config.ConsoleColor {
			consoleWriter = zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: time.RFC3339,
			}
		}
		writers = append(writers, consoleWriter)
	}

	// File writer with rotation
	if config.FileOutput {
		if config.FileName == "" {
			return nil, fmt.Errorf("file_name is required when file_output is enabled")
		}

		maxSizeMB, err := parseMaxSize(config.FileMaxSize)
		if err != nil {
			return nil, fmt.Errorf("invalid file_max_size: %w", err)
		}

		execDir, err := getExecutableDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get executable directory: %w", err)
		}

		fileWriter := &lumberjack.Logger{
			Filename: filepath.Join(execDir, config.FileName),
			MaxSize:  maxSizeMB, // megabytes
			Compress: true,
		}
		writers = append(writers, fileWriter)
	}

	if len(writers) == 0 {
		// If no output is configured, default to console
		writers = append(writers, os.Stdout)
	}

	var writer io.Writer
	if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = io.MultiWriter(writers...)
	}

	zlogger := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &Logger{
		zlog:   zlogger,
		config: config,
	}, nil
}

// Zerolog returns the underlying zerolog logger for components that attach
// their own contextual fields.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// parseLogLevel converts string to zerolog level
func parseLogLevel(levelStr string) (zerolog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level: %s", levelStr)
	}
}

// parseMaxSize converts size string (e.g., "10MB") to megabytes
func parseMaxSize(sizeStr string) (int, error) {
	if sizeStr == "" {
		return 10, nil // default 10MB
	}

	sizeStr = strings.ToUpper(sizeStr)
	sizeStr = strings.TrimSuffix(sizeStr, "MB")
	size, err := strconv.Atoi(sizeStr)
	if err != nil {
		return 0, fmt.Errorf("invalid size format: %s", sizeStr)
	}
	return size, nil
}

// getExecutableDir returns the directory containing the executable
func getExecutableDir() (string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(execPath), nil
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.log(l.zlog.Debug(), msg, fields...)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...interface{}) {
	l.log(l.zlog.Info(), msg, fields...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.log(l.zlog.Warn(), msg, fields...)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields ...interface{}) {
	l.log(l.zlog.Error(), msg, fields...)
}

func (l *Logger) log(event *zerolog.Event, msg string, fields ...interface{}) {
	if len(fields) > 0 {
		event = event.Fields(fieldsToMap(fields...))
	}
	event.Msg(msg)
}

// fieldsToMap converts variadic key-value fields to a map for zerolog
func fieldsToMap(fields ...interface{}) map[string]interface{} {
	fieldMap := make(map[string]interface{})
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			fieldMap[key] = fields[i+1]
		}
	}
	return fieldMap
}
