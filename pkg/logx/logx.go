// Package logx provides structured, component-scoped logging with
// environment-driven debug domains.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// Level identifies the severity of a log line.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// DebugConfig controls debug logging behavior.
type DebugConfig struct {
	Enabled bool
	Domains map[string]bool // Which domains emit debug lines (nil = all)
}

//nolint:gochecknoglobals // Package-level debug state configured once from env
var (
	debugConfig = &DebugConfig{}
	debugMutex  sync.RWMutex

	// Color output is decided once at startup: only when stdout is a terminal.
	colorize = term.IsTerminal(int(os.Stdout.Fd()))
)

//nolint:gochecknoinits // Env var initialization must happen before first log line
func init() {
	initDebugFromEnv()
}

func initDebugFromEnv() {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debug := os.Getenv("DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		debugConfig.Enabled = true
	}

	// DEBUG_DOMAINS=engine,cache,circuit limits debug output to those components.
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugConfig.Domains = make(map[string]bool)
		for _, domain := range strings.Split(domains, ",") {
			debugConfig.Domains[strings.TrimSpace(domain)] = true
		}
	}
}

// SetDebug enables or disables debug logging globally. Primarily for tests.
func SetDebug(enabled bool) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugConfig.Enabled = enabled
}

func debugEnabledFor(domain string) bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()

	if !debugConfig.Enabled {
		return false
	}
	if debugConfig.Domains == nil {
		return true
	}
	return debugConfig.Domains[domain]
}

// ANSI color codes per level.
const (
	colorReset  = "\033[0m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// Logger writes leveled, component-prefixed log lines.
type Logger struct {
	component string
	logger    *log.Logger
}

// NewLogger creates a logger scoped to the given component
// (e.g. "engine", "cache", or a specialist name).
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(os.Stdout, "", 0),
	}
}

func (l *Logger) log(level Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	ts := time.Now().UTC().Format(time.RFC3339)

	line := fmt.Sprintf("%s [%s] [%s] %s", ts, level, l.component, msg)
	if colorize {
		switch level {
		case LevelWarn:
			line = colorYellow + line + colorReset
		case LevelError:
			line = colorRed + line + colorReset
		case LevelDebug:
			line = colorGray + line + colorReset
		case LevelInfo:
		}
	}
	l.logger.Print(line)
}

// Debug logs a debug message if debug logging is enabled for this component.
func (l *Logger) Debug(format string, args ...any) {
	if !debugEnabledFor(l.component) {
		return
	}
	l.log(LevelDebug, format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}
