// Package csvlog persists heart-rate readings to a CSV file. Rows are
// buffered in memory and flushed on an interval so the logger stays off
// the notification hot path; the file is only created once there is
// something to write.
package csvlog

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hrlink/internal/hrm"
)

// DefaultFlushInterval is how often buffered rows hit the disk.
const DefaultFlushInterval = time.Minute

var header = []string{"timestamp", "heart_rate", "contact", "battery"}

// Logger buffers connected readings and writes them out as CSV. It
// implements the hub's Sink interface.
type Logger struct {
	logger   *logrus.Logger
	folder   string
	interval time.Duration

	mu      sync.Mutex
	pending [][]string
	file    *os.File
	w       *csv.Writer
}

// Option tunes a Logger.
type Option func(*Logger)

// WithFlushInterval overrides the flush cadence.
func WithFlushInterval(d time.Duration) Option {
	return func(l *Logger) { l.interval = d }
}

// New creates a logger writing into folder. The file name carries the
// session start time, so every run gets its own log.
func New(logger *logrus.Logger, folder string, opts ...Option) *Logger {
	l := &Logger{
		logger:   logger,
		folder:   folder,
		interval: DefaultFlushInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Write buffers one reading. Disconnected readings carry no sample and
// are skipped. Never fails; disk errors surface at flush time.
func (l *Logger) Write(r hrm.Reading) error {
	if !r.Connected() {
		return nil
	}
	row := []string{
		r.Timestamp.Format(time.RFC3339),
		strconv.FormatUint(uint64(r.Sample.BPM), 10),
		"",
		"",
	}
	if r.Sample.Contact != nil {
		row[2] = strconv.FormatBool(*r.Sample.Contact)
	}
	if r.Sample.Battery != nil {
		row[3] = strconv.FormatUint(uint64(*r.Sample.Battery), 10)
	}

	l.mu.Lock()
	l.pending = append(l.pending, row)
	l.mu.Unlock()
	return nil
}

// Flush writes all buffered rows to disk, creating the file and writing
// the header on first use.
func (l *Logger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) == 0 {
		return nil
	}
	if l.file == nil {
		if err := l.open(); err != nil {
			return err
		}
	}
	for _, row := range l.pending {
		if err := l.w.Write(row); err != nil {
			return fmt.Errorf("csv write failed: %w", err)
		}
	}
	l.pending = l.pending[:0]
	l.w.Flush()
	return l.w.Error()
}

// open must run with l.mu held.
func (l *Logger) open() error {
	if l.folder != "" {
		if err := os.MkdirAll(l.folder, 0o755); err != nil {
			return fmt.Errorf("failed to create log folder: %w", err)
		}
	}
	name := fmt.Sprintf("heartrate-log-%s.csv", time.Now().Format("2006-01-02_15-04-05"))
	path := filepath.Join(l.folder, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	l.file = f
	l.w = csv.NewWriter(f)
	l.logger.WithField("file", path).Info("Logging heart rate to CSV")
	return l.w.Write(header)
}

// Run flushes on the configured interval until ctx is cancelled, then
// does a final flush and closes the file.
func (l *Logger) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return l.Close()
		case <-ticker.C:
			if err := l.Flush(); err != nil {
				l.logger.WithError(err).Error("Could not flush CSV log")
			}
		}
	}
}

// Close flushes the remaining rows and closes the file.
func (l *Logger) Close() error {
	err := l.Flush()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		if cerr := l.file.Close(); err == nil {
			err = cerr
		}
		l.file = nil
		l.w = nil
	}
	return err
}
