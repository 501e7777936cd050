package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Log is an append-only JSONL event log. Each record occupies exactly one
// line; the byte offset of the end of the file is the reader cursor.
// Safe for concurrent Append calls.
type Log struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	offset int64
	now    func() time.Time
}

// OpenLog opens (creating if necessary) the log at path for appending.
func OpenLog(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat log: %w", err)
	}
	return &Log{f: f, path: path, offset: info.Size(), now: time.Now}, nil
}

// SetClock overrides the wall clock. Intended for tests.
func (l *Log) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// Append stamps the event time and writes it as a single JSON line.
// Returns the byte offset at which the record begins.
func (l *Log) Append(e Event) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Time.IsZero() {
		e.Time = l.now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}
	data = append(data, '\n')

	at := l.offset
	n, err := l.f.Write(data)
	l.offset += int64(n)
	if err != nil {
		return at, fmt.Errorf("append event: %w", err)
	}
	return at, nil
}

// Offset returns the current end-of-log byte offset.
func (l *Log) Offset() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offset
}

// Sync flushes the log to disk.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Sync()
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// Page is one reader response: raw JSONL lines plus the cursor to pass on
// the next call.
type Page struct {
	Lines      []string `json:"lines"`
	NextCursor int64    `json:"nextCursor"`
}

// ReadPage reads up to maxLines complete lines starting at the byte cursor.
// Cursors past EOF are tolerated: the page is empty and NextCursor echoes
// the cursor. Only newline-terminated lines are returned, so NextCursor
// always lands on a record boundary.
func ReadPage(path string, cursor int64, maxLines int) (Page, error) {
	if cursor < 0 {
		cursor = 0
	}
	page := Page{NextCursor: cursor}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return page, nil
		}
		return page, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return page, fmt.Errorf("stat log: %w", err)
	}
	if cursor >= info.Size() {
		return page, nil
	}
	if _, err := f.Seek(cursor, 0); err != nil {
		return page, fmt.Errorf("seek log: %w", err)
	}

	data := make([]byte, info.Size()-cursor)
	if _, err := io.ReadFull(f, data); err != nil && err != io.ErrUnexpectedEOF {
		return page, fmt.Errorf("read log: %w", err)
	}

	next := cursor
	for len(data) > 0 {
		if maxLines > 0 && len(page.Lines) >= maxLines {
			break
		}
		nl := bytes.IndexByte(data, '\n')
		if nl < 0 {
			break // partial trailing record, wait for the writer
		}
		page.Lines = append(page.Lines, string(data[:nl]))
		data = data[nl+1:]
		next += int64(nl + 1)
	}
	page.NextCursor = next
	return page, nil
}

// ParseLine decodes a single JSONL record back into an Event.
func ParseLine(line []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(line, &e); err != nil {
		return Event{}, fmt.Errorf("invalid event line: %w", err)
	}
	return e, nil
}
