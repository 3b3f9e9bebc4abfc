package changes

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/ulikunitz/xz"
)

// xzNewWriter and xzNewReader are variables to allow testing of codec errors.
var (
	xzNewWriter = xz.NewWriter
	xzNewReader = xz.NewReader
)

// LogItem is one detection result. It is never modified after it has been
// appended to a Log.
type LogItem struct {
	Timestamp string   `json:"timestamp"`
	Entries   []string `json:"entries"`
}

// Log is an append-only change history, safe for concurrent use.
type Log struct {
	mu    sync.RWMutex
	items []LogItem
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append adds an item to the history. The entries are copied.
func (l *Log) Append(item LogItem) {
	item.Entries = slices.Clone(item.Entries)
	l.mu.Lock()
	l.items = append(l.items, item)
	l.mu.Unlock()
}

// Len returns the number of items in the history.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Latest returns the most recent item.
func (l *Log) Latest() (LogItem, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.items) == 0 {
		return LogItem{}, false
	}
	item := l.items[len(l.items)-1]
	item.Entries = slices.Clone(item.Entries)
	return item, true
}

// History returns a copy of every item, oldest first.
func (l *Log) History() []LogItem {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]LogItem, len(l.items))
	for i, item := range l.items {
		out[i] = LogItem{Timestamp: item.Timestamp, Entries: slices.Clone(item.Entries)}
	}
	return out
}

// Export writes the history as JSON lines, one item per line.
func (l *Log) Export(w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, item := range l.History() {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("failed to encode log item: %w", err)
		}
	}
	return nil
}

// ExportXZ writes the history as xz-compressed JSON lines.
func (l *Log) ExportXZ(w io.Writer) error {
	xw, err := xzNewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create xz writer: %w", err)
	}
	if err := l.Export(xw); err != nil {
		xw.Close()
		return err
	}
	if err := xw.Close(); err != nil {
		return fmt.Errorf("failed to finish xz stream: %w", err)
	}
	return nil
}

// ReadExport parses JSON lines written by Export.
func ReadExport(r io.Reader) ([]LogItem, error) {
	var items []LogItem
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var item LogItem
		if err := json.Unmarshal(sc.Bytes(), &item); err != nil {
			return nil, fmt.Errorf("line %d: failed to decode log item: %w", line, err)
		}
		items = append(items, item)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}
	return items, nil
}

// ReadExportXZ parses an export written by ExportXZ.
func ReadExportXZ(r io.Reader) ([]LogItem, error) {
	xr, err := xzNewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create xz reader: %w", err)
	}
	return ReadExport(xr)
}
