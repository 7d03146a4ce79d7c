// Package logger is the process-wide leveled logger of the harness.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

var (
	globalLogger *log.Logger
	logFile      *os.File
	output       io.Writer
	verbose      bool
	mu           sync.Mutex
)

// Init opens logPath for appending and logs to it.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	output = f
	globalLogger = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds)

	return nil
}

// SetOutput logs to w instead of a file. A nil w disables logging.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	output = w
	if w == nil {
		globalLogger = nil
		return
	}
	globalLogger = log.New(w, "", log.Ldate|log.Ltime|log.Lmicroseconds)
}

// SetVerbose enables debug lines.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	globalLogger = nil
	output = nil
}

func printf(level, format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil {
		globalLogger.Printf("["+level+"] "+format, v...)
	}
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	printf("INFO", format, v...)
}

// Debug logs a debug message when verbose logging is on.
func Debug(format string, v ...interface{}) {
	mu.Lock()
	on := verbose
	mu.Unlock()
	if on {
		printf("DEBUG", format, v...)
	}
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	printf("ERROR", format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	printf("WARN", format, v...)
}

// GetWriter returns the log sink for subprocess output.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if output != nil {
		return output
	}
	return io.Discard
}
