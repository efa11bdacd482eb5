package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger handles application logging to stdout and, when a directory is
// configured, to per-stream files (server.log, error.log, access.log, audit.log)
type Logger struct {
	serverLog *log.Logger
	errorLog  *log.Logger
	accessLog *log.Logger
	auditLog  *log.Logger
	debugLog  *log.Logger

	logDir  string
	isDebug bool

	mu    sync.Mutex
	files []*os.File
}

var logStreams = []string{"server.log", "error.log", "access.log", "audit.log"}

// NewLogger creates a logger writing to logDir. An empty logDir logs to stdout/stderr only.
func NewLogger(logDir string, debug bool) (*Logger, error) {
	l := &Logger{logDir: logDir, isDebug: debug}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

// NewWriterLogger sends every stream to w, used by tests and tools
func NewWriterLogger(w io.Writer, debug bool) *Logger {
	return &Logger{
		serverLog: log.New(w, "", 0),
		errorLog:  log.New(w, "", 0),
		accessLog: log.New(w, "", 0),
		auditLog:  log.New(w, "", 0),
		debugLog:  log.New(w, "", 0),
		isDebug:   debug,
	}
}

// NewDiscardLogger drops everything
func NewDiscardLogger() *Logger {
	return NewWriterLogger(io.Discard, false)
}

func (l *Logger) open() error {
	if l.logDir == "" {
		l.serverLog = log.New(os.Stdout, "", 0)
		l.errorLog = log.New(os.Stderr, "", 0)
		l.accessLog = log.New(os.Stdout, "", 0)
		l.auditLog = log.New(os.Stdout, "", 0)
		l.debugLog = log.New(os.Stdout, "", 0)
		return nil
	}

	if err := os.MkdirAll(l.logDir, 0o750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	writers := make(map[string]*os.File, len(logStreams))
	for _, name := range logStreams {
		f, err := os.OpenFile(filepath.Join(l.logDir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			for _, opened := range writers {
				opened.Close()
			}
			return fmt.Errorf("failed to open %s: %w", name, err)
		}
		writers[name] = f
		l.files = append(l.files, f)
	}

	l.serverLog = log.New(io.MultiWriter(writers["server.log"], os.Stdout), "", 0)
	l.errorLog = log.New(io.MultiWriter(writers["error.log"], os.Stderr), "", 0)
	l.accessLog = log.New(io.MultiWriter(writers["access.log"], os.Stdout), "", 0)
	// Audit only to file, not stdout
	l.auditLog = log.New(writers["audit.log"], "", 0)
	l.debugLog = log.New(io.MultiWriter(writers["server.log"], os.Stdout), "", 0)
	return nil
}

func stamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

// Info logs an informational message
func (l *Logger) Info(format string, v ...interface{}) {
	l.serverLog.Printf("[%s] [INFO] %s", stamp(), fmt.Sprintf(format, v...))
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.serverLog.Printf("[%s] [WARN] %s", stamp(), fmt.Sprintf(format, v...))
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.errorLog.Printf("[%s] [ERROR] %s", stamp(), fmt.Sprintf(format, v...))
}

// Debug logs a debug message (only in debug mode)
func (l *Logger) Debug(format string, v ...interface{}) {
	if !l.isDebug {
		return
	}
	l.debugLog.Printf("[%s] [DEBUG] %s", stamp(), fmt.Sprintf(format, v...))
}

// Access logs an access entry (Apache Combined Log Format plus request id and latency)
func (l *Logger) Access(ip, user, method, path, protocol string, status int, size int64, referer, userAgent, requestID string, latency time.Duration) {
	if user == "" {
		user = "-"
	}
	if referer == "" {
		referer = "-"
	}
	if userAgent == "" {
		userAgent = "-"
	}
	if size < 0 {
		size = 0
	}
	l.accessLog.Printf(`%s - %s [%s] "%s %s %s" %d %d "%s" "%s" rid=%s dur=%s`,
		ip, user, time.Now().Format("02/Jan/2006:15:04:05 -0700"),
		method, path, protocol, status, size, referer, userAgent, requestID, latency)
}

// AuditEvent is one line of the audit log
type AuditEvent struct {
	Action  string `json:"action"`
	Subject string `json:"subject,omitempty"`
	IP      string `json:"ip,omitempty"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Audit logs an audit entry as a JSON line
func (l *Logger) Audit(ev AuditEvent) {
	line := struct {
		Timestamp string `json:"timestamp"`
		AuditEvent
	}{time.Now().Format(time.RFC3339), ev}

	data, err := json.Marshal(line)
	if err != nil {
		l.Error("audit marshal failed: %v", err)
		return
	}
	l.auditLog.Println(string(data))
}

// RotateLogs archives the current log files with a date suffix and removes
// archives older than retention. Called by the scheduler.
func (l *Logger) RotateLogs(retention time.Duration) error {
	if l.logDir == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	suffix := time.Now().Format("2006-01-02")
	for _, name := range logStreams {
		current := filepath.Join(l.logDir, name)
		info, err := os.Stat(current)
		if err != nil || info.Size() == 0 {
			continue
		}
		if err := copyFile(current, fmt.Sprintf("%s.%s", current, suffix)); err != nil {
			return fmt.Errorf("failed to archive %s: %w", name, err)
		}
		if err := os.Truncate(current, 0); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", name, err)
		}
	}

	return l.cleanOldLogs(time.Now().Add(-retention))
}

// cleanOldLogs removes rotated archives older than cutoff
func (l *Logger) cleanOldLogs(cutoff time.Time) error {
	entries, err := os.ReadDir(l.logDir)
	if err != nil {
		return err
	}

	active := make(map[string]bool, len(logStreams))
	for _, name := range logStreams {
		active[name] = true
	}

	for _, entry := range entries {
		if entry.IsDir() || active[entry.Name()] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(l.logDir, entry.Name())); err != nil {
				l.Error("Failed to remove old log %s: %v", entry.Name(), err)
			}
		}
	}
	return nil
}

// Close closes the underlying log files
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.files = nil
	return firstErr
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}
