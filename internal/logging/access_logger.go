// Package logging provides the gateway's file-based access log: buffered
// JSONL entries with size-based rotation, written off the request path.
package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Entry is one JSON line in the access log. Payment proofs never appear
// here; only the settlement transaction reference does.
type Entry struct {
	Timestamp  time.Time `json:"timestamp"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	RemoteAddr string    `json:"remote_addr"`
	UserAgent  string    `json:"user_agent,omitempty"`
	TxHash     string    `json:"tx_hash,omitempty"`
}

// AccessLogger implements asynchronous, buffered access logging with
// rotation and periodic flush.
type AccessLogger struct {
	fileTemplate  string // e.g. "/var/log/gateway/access-%s.jsonl"
	maxSize       int64  // maximum size in bytes before rotation
	maxFiles      int    // maximum number of rotated files to keep
	flushInterval time.Duration

	mu          sync.Mutex
	currentFile string
	file        *os.File
	writer      *bufio.Writer
	currentSize int64

	logCh  chan Entry
	doneCh chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewAccessLogger creates an access logger writing to files named from
// fileTemplate (a fmt template with one %s for the timestamp). bufferSize
// bounds how many entries can be queued; beyond it entries are dropped.
func NewAccessLogger(fileTemplate string, maxSize int64, maxFiles, bufferSize int, flushInterval time.Duration) (*AccessLogger, error) {
	logger := &AccessLogger{
		fileTemplate:  fileTemplate,
		maxSize:       maxSize,
		maxFiles:      maxFiles,
		flushInterval: flushInterval,
		logCh:         make(chan Entry, bufferSize),
		doneCh:        make(chan struct{}),
	}

	if err := logger.openFile(); err != nil {
		return nil, err
	}

	logger.wg.Add(1)
	go logger.run()

	return logger, nil
}

// Log queues an entry. If the queue is full the entry is dropped rather
// than blocking a request.
func (l *AccessLogger) Log(entry Entry) {
	select {
	case l.logCh <- entry:
	default:
	}
}

// Shutdown flushes the buffer and closes the file. Call from the
// application's graceful shutdown handler.
func (l *AccessLogger) Shutdown() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	close(l.doneCh)
	l.wg.Wait()
}

func (l *AccessLogger) newFileName() string {
	timestamp := time.Now().Format("20060102150405")
	return fmt.Sprintf(l.fileTemplate, timestamp)
}

func (l *AccessLogger) openFile() error {
	l.currentFile = l.newFileName()
	dir := filepath.Dir(l.currentFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	file, err := os.OpenFile(l.currentFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	l.currentSize = fi.Size()
	l.file = file
	l.writer = bufio.NewWriter(file)
	return nil
}

// rotateIfNeeded rotates the file when adding n bytes would exceed maxSize.
func (l *AccessLogger) rotateIfNeeded(n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentSize+int64(n) < l.maxSize {
		return nil
	}

	if err := l.writer.Flush(); err != nil {
		return err
	}
	if err := l.file.Close(); err != nil {
		return err
	}

	return l.openFile()
}

// cleanupOldFiles removes the oldest rotated files beyond maxFiles.
func (l *AccessLogger) cleanupOldFiles() error {
	pattern := fmt.Sprintf(l.fileTemplate, "*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}

	sort.Slice(matches, func(i, j int) bool {
		fi, err1 := os.Stat(matches[i])
		fj, err2 := os.Stat(matches[j])
		if err1 != nil || err2 != nil {
			return false
		}
		return fi.ModTime().Before(fj.ModTime())
	})

	excess := len(matches) - l.maxFiles
	for i := 0; i < excess; i++ {
		_ = os.Remove(matches[i])
	}
	return nil
}

func (l *AccessLogger) run() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-l.logCh:
			l.writeEntry(entry)
		case <-ticker.C:
			l.mu.Lock()
			_ = l.writer.Flush()
			l.mu.Unlock()
		case <-l.doneCh:
			// Drain remaining entries before closing.
			for {
				select {
				case entry := <-l.logCh:
					l.writeEntry(entry)
				default:
					l.mu.Lock()
					_ = l.writer.Flush()
					_ = l.file.Close()
					l.mu.Unlock()
					return
				}
			}
		}
	}
}

func (l *AccessLogger) writeEntry(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	line := string(data) + "\n"
	n := len(line)

	if err := l.rotateIfNeeded(n); err != nil {
		return
	}

	l.mu.Lock()
	_, _ = l.writer.WriteString(line)
	l.currentSize += int64(n)
	l.mu.Unlock()

	_ = l.cleanupOldFiles()
}
