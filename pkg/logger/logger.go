// Package logger provides structured logging for hass-watchdog using Logrus.
// It supports JSON and text formats, multiple log levels, and structured field logging.
package logger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	log            *logrus.Logger
	mu             sync.RWMutex
	currentLogFile io.Closer
)

func init() {
	log = logrus.New()
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	log.SetOutput(os.Stdout)
}

// Initialize reconfigures the global logger. Entries handed out by For
// before the call keep working. Nothing changes when an argument is invalid;
// on success a log file opened by an earlier call is flushed and closed.
//   - level: debug, info, warn, error, fatal
//   - format: json, text
//   - output: stdout, stderr, file
//   - outputFile: file path when output is "file"
func Initialize(level, format, output, outputFile string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	formatter, err := newFormatter(format)
	if err != nil {
		return err
	}
	writer, closer, err := openOutput(output, outputFile)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()

	previous := currentLogFile
	currentLogFile = closer

	log.SetLevel(lvl)
	log.SetFormatter(formatter)
	log.SetOutput(writer)

	if previous != nil {
		if err := previous.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close previous log file: %v\n", err)
		}
	}
	return nil
}

func newFormatter(format string) (logrus.Formatter, error) {
	switch format {
	case "json":
		return &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}, nil
	case "text":
		return &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"}, nil
	}
	return nil, fmt.Errorf("invalid log format %q: must be json or text", format)
}

// openOutput returns the writer for output and, for files, the closer that
// flushes it.
func openOutput(output, path string) (io.Writer, io.Closer, error) {
	switch output {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	case "file":
		if path == "" {
			return nil, nil, fmt.Errorf("logFile must be specified when logOutput is 'file'")
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %q: %w", path, err)
		}
		sink := &fileSink{buf: bufio.NewWriterSize(f, 64*1024), file: f}
		return sink, sink, nil
	}
	return nil, nil, fmt.Errorf("invalid log output %q: must be stdout, stderr, or file", output)
}

// fileSink buffers writes to a log file. logrus serialises writes under its
// own lock; mu guards against a Close racing a write.
type fileSink struct {
	mu   sync.Mutex
	buf  *bufio.Writer
	file *os.File
}

func (s *fileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

// Close flushes the buffer and closes the file.
func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to flush log buffer: %w", err)
	}
	return s.file.Close()
}

// SetLevel changes the level of the global logger.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	return nil
}

// Get returns the global logger instance
func Get() *logrus.Logger {
	return log
}

// For returns an entry tagged with the given component name.
// *logrus.Entry satisfies the small Logger interfaces used across packages.
func For(component string) *logrus.Entry {
	return log.WithField("component", component)
}

// WithFields returns a logger entry with structured fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return log.WithFields(fields)
}

// WithError returns a logger entry with an error field
func WithError(err error) *logrus.Entry {
	return log.WithError(err)
}

// Infof logs a formatted message at level Info
func Infof(format string, args ...interface{}) {
	log.Infof(format, args...)
}

// Warnf logs a formatted message at level Warn
func Warnf(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

// Errorf logs a formatted message at level Error
func Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}

// Fatalf logs a formatted message at level Fatal then calls os.Exit(1)
func Fatalf(format string, args ...interface{}) {
	log.Fatalf(format, args...)
}

// Close flushes any buffered log data and closes the log file if one is open.
// It is safe to call Close more than once.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if currentLogFile != nil {
		err := currentLogFile.Close()
		currentLogFile = nil
		return err
	}
	return nil
}
