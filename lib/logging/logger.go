// Package logging provides logging utilities for the application
package logging

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragenboats logger.ILogger)
// --------------------------------------------------------------------------

// cedarLogger implements the ILogger interface with custom formatting
type cedarLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *cedarLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *cedarLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *cedarLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *cedarLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *cedarLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *cedarLogger) Panicf(format string, args ...interface{}) {
	if l.level >= logger.CRITICAL {
		panic(fmt.Sprintf(format, args...))
	}
}

// log formats and writes a log message. this internal helper is used by the public methods
func (l *cedarLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

func init() {
	// route all loggers (including dragonboat's own) through the custom format
	logger.SetLoggerFactory(newCedarLogger)
}

// newCedarLogger implements the logger.Factory interface
func newCedarLogger(pkgName string) logger.ILogger {
	// Create standard logger with custom flags
	stdLogger := log.New(os.Stdout, "", log.Ldate|log.Ltime)

	return &cedarLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: stdLogger,
	}
}

// CreateLogger returns the leveled logger registered for the given package
// name. Loggers are shared: repeated calls with the same name return the
// same instance, so a level set via InitLoggers applies everywhere.
func CreateLogger(pkgName string) logger.ILogger {
	return logger.GetLogger(pkgName)
}

// InitLoggers applies the given level to all loggers of the module.
func InitLoggers(level string) {
	for _, pkg := range []string{"concurrent", "mempool", "commitlog", "engine", "cmd"} {
		logger.GetLogger(pkg).SetLevel(ParseLogLevel(level))
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG
	case "info":
		return logger.INFO
	case "warning", "warn":
		return logger.WARNING
	case "error":
		return logger.ERROR
	case "critical":
		return logger.CRITICAL
	default:
		return logger.INFO
	}
}
