// Package logx provides printf-style logging with session-aware debug output.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const timestampFormat = "2006-01-02T15:04:05.000Z"

type Logger struct {
	component string
}

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
	Domains map[string]bool // nil = all domains
}

// LogEntry is one captured log line, served by the web API.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	SessionID string `json:"session_id,omitempty"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Domain    string `json:"domain,omitempty"`
}

// InMemoryLogBuffer keeps the most recent log entries.
type InMemoryLogBuffer struct {
	entries []LogEntry
	mutex   sync.RWMutex
	maxSize int
}

type sessionKey struct{}

var (
	debugConfig = &DebugConfig{}
	debugMutex  sync.RWMutex

	logWriter     io.Writer
	logWriterLock sync.Mutex

	logBuffer = &InMemoryLogBuffer{
		entries: make([]LogEntry, 0),
		maxSize: 1000,
	}
)

func init() { //nolint:gochecknoinits // env-driven debug config
	initDebugFromEnv()
}

// initDebugFromEnv reads DEBUG and DEBUG_DOMAINS.
func initDebugFromEnv() {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	debug := os.Getenv("DEBUG")
	debugConfig.Enabled = debug == "1" || strings.EqualFold(debug, "true")

	debugConfig.Domains = nil
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugConfig.Domains = parseDomains(strings.Split(domains, ","))
	}
}

func parseDomains(domains []string) map[string]bool {
	set := make(map[string]bool, len(domains))
	for _, domain := range domains {
		if d := strings.TrimSpace(domain); d != "" {
			set[d] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

// NewLogger creates a logger that tags every line with component.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// SetOutput redirects all log output. A nil writer restores stderr.
func SetOutput(w io.Writer) {
	logWriterLock.Lock()
	defer logWriterLock.Unlock()
	logWriter = w
}

// SetDebug enables or disables debug logging globally.
func SetDebug(enabled bool) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugConfig.Enabled = enabled
}

// SetDebugDomains restricts debug logging to the given domains. Empty enables all.
func SetDebugDomains(domains []string) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugConfig.Domains = parseDomains(domains)
}

// IsDebugEnabled returns whether debug logging is enabled.
func IsDebugEnabled() bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()
	return debugConfig.Enabled
}

// IsDebugEnabledForDomain returns whether debug logging is enabled for a domain.
func IsDebugEnabledForDomain(domain string) bool {
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

// WithSessionID returns a context carrying the session id for debug lines.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionID extracts the session id placed by WithSessionID.
func SessionID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(sessionKey{}).(string); ok {
		return id
	}
	return ""
}

// AddLogEntry appends an entry, evicting the oldest beyond maxSize.
func (b *InMemoryLogBuffer) AddLogEntry(entry *LogEntry) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.entries = append(b.entries, *entry)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

// GetLogEntries returns a filtered copy of the buffered entries.
func (b *InMemoryLogBuffer) GetLogEntries(sessionID string, since time.Time) []LogEntry {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	filtered := make([]LogEntry, 0, len(b.entries))
	for i := range b.entries {
		entry := &b.entries[i]
		if sessionID != "" && entry.SessionID != sessionID {
			continue
		}
		if !since.IsZero() {
			entryTime, err := time.Parse(timestampFormat, entry.Timestamp)
			if err != nil || entryTime.Before(since) {
				continue
			}
		}
		filtered = append(filtered, *entry)
	}
	return filtered
}

// GetRecentLogEntries returns buffered entries, optionally for one session.
func GetRecentLogEntries(sessionID string, since time.Time) []LogEntry {
	return logBuffer.GetLogEntries(sessionID, since)
}

func emit(entry *LogEntry) {
	tag := entry.Component
	if entry.SessionID != "" {
		tag = entry.Component + "/" + entry.SessionID
	}
	msg := entry.Message
	if entry.Domain != "" {
		msg = fmt.Sprintf("[%s] %s", entry.Domain, msg)
	}
	line := fmt.Sprintf("[%s] [%s] %s: %s\n", entry.Timestamp, tag, entry.Level, msg)

	logWriterLock.Lock()
	w := logWriter
	if w == nil {
		w = os.Stderr
	}
	_, _ = io.WriteString(w, line)
	logWriterLock.Unlock()

	logBuffer.AddLogEntry(entry)
}

func (l *Logger) log(level Level, format string, args ...any) {
	emit(&LogEntry{
		Timestamp: time.Now().UTC().Format(timestampFormat),
		Component: l.component,
		Level:     string(level),
		Message:   fmt.Sprintf(format, args...),
	})
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Component returns the tag this logger writes.
func (l *Logger) Component() string {
	return l.component
}

// Debug logs a debug message for a domain, tagged with the session id in ctx.
//
//	DEBUG=1                             # all domains
//	DEBUG=1 DEBUG_DOMAINS=session,llm   # selected domains only
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	emit(&LogEntry{
		Timestamp: time.Now().UTC().Format(timestampFormat),
		Component: "debug",
		SessionID: SessionID(ctx),
		Level:     string(LevelDebug),
		Message:   fmt.Sprintf(format, args...),
		Domain:    domain,
	})
}

// DebugState logs a state transition.
func DebugState(ctx context.Context, domain, action, state string, extra ...string) {
	extraInfo := ""
	if len(extra) > 0 {
		extraInfo = " - " + extra[0]
	}
	Debug(ctx, domain, "State %s: %s%s", action, state, extraInfo)
}

// DebugFlow logs a workflow step.
func DebugFlow(ctx context.Context, domain, step, status string, extra ...string) {
	extraInfo := ""
	if len(extra) > 0 {
		extraInfo = " - " + extra[0]
	}
	Debug(ctx, domain, "Flow %s: %s%s", step, status, extraInfo)
}

// Scoped returns a logger whose lines carry the session id from ctx.
func (l *Logger) Scoped(ctx context.Context) *SessionLogger {
	return &SessionLogger{component: l.component, sessionID: SessionID(ctx)}
}

// SessionLogger is a Logger bound to one session.
type SessionLogger struct {
	component string
	sessionID string
}

func (s *SessionLogger) log(level Level, format string, args ...any) {
	emit(&LogEntry{
		Timestamp: time.Now().UTC().Format(timestampFormat),
		Component: s.component,
		SessionID: s.sessionID,
		Level:     string(level),
		Message:   fmt.Sprintf(format, args...),
	})
}

func (s *SessionLogger) Info(format string, args ...any)  { s.log(LevelInfo, format, args...) }
func (s *SessionLogger) Warn(format string, args ...any)  { s.log(LevelWarn, format, args...) }
func (s *SessionLogger) Error(format string, args ...any) { s.log(LevelError, format, args...) }

var defaultLogger = NewLogger("system")

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
//
//	err := logx.Errorf("setup failed: %w", err)
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err.Error() and returns fmt.Errorf("%s: %w", msg, err).
//
//	if err != nil { return logx.Wrap(err, "open store") }
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}
