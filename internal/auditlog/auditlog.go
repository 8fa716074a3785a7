// Package auditlog writes the append-only operational log: one file per day,
// one line per event, each stamped with time, severity and client IP. These
// files are the record of who did what; process-lifecycle chatter stays on
// the standard logger.
package auditlog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger appends to daily log files under a directory. Safe for concurrent use.
type Logger struct {
	mu     sync.Mutex
	dir    string
	file   *os.File
	curDay string

	now func() time.Time
}

// New creates the log directory if needed and returns a Logger. Files are
// opened lazily on first write.
func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &Logger{dir: dir, now: time.Now}, nil
}

// Info records an informational event.
func (l *Logger) Info(clientIP, format string, args ...interface{}) {
	l.write("INFO", clientIP, format, args...)
}

// Error records a failure.
func (l *Logger) Error(clientIP, format string, args ...interface{}) {
	l.write("ERROR", clientIP, format, args...)
}

func (l *Logger) write(level, clientIP, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if err := l.rotate(now); err != nil {
		log.Printf("auditlog: %v", err)
		return
	}

	if clientIP == "" {
		clientIP = "unknown"
	}
	line := fmt.Sprintf("[%s] [%s] [IP:%s] %s\n",
		now.Format("2006-01-02 15:04:05"), level, clientIP, fmt.Sprintf(format, args...))
	if _, err := l.file.WriteString(line); err != nil {
		log.Printf("auditlog: write: %v", err)
	}
}

// rotate opens the current day's file, closing yesterday's when the date rolls.
func (l *Logger) rotate(now time.Time) error {
	day := now.Format("2006-01-02")
	if l.file != nil && day == l.curDay {
		return nil
	}
	if l.file != nil {
		l.file.Close()
	}
	path := filepath.Join(l.dir, "api_"+day+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	l.file = f
	l.curDay = day
	return nil
}

// Close flushes and closes the current log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Purge removes daily log files older than retentionDays. Called once at
// startup; files that do not match the daily naming pattern are left alone.
func (l *Logger) Purge(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := l.now().AddDate(0, 0, -retentionDays)

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("read log dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "api_") || !strings.HasSuffix(name, ".log") {
			continue
		}
		day, err := time.Parse("2006-01-02", strings.TrimSuffix(strings.TrimPrefix(name, "api_"), ".log"))
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			if err := os.Remove(filepath.Join(l.dir, name)); err != nil {
				log.Printf("auditlog: purge %s: %v", name, err)
			}
		}
	}
	return nil
}
