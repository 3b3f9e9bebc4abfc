package changes

import (
	"fmt"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/FocuswithJustin/dbwatch/core/sqlite"
)

// TimestampLayout formats LogItem timestamps.
const TimestampLayout = time.RFC3339

// Detector diffs snapshots and appends the results to a Log.
type Detector struct {
	clock clockwork.Clock
	log   *Log
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock sets the clock used to timestamp log items.
func WithClock(clock clockwork.Clock) Option {
	return func(d *Detector) {
		d.clock = clock
	}
}

// NewDetector creates a Detector appending to log. A nil log gets a fresh one.
func NewDetector(log *Log, opts ...Option) *Detector {
	d := &Detector{clock: clockwork.NewRealClock(), log: log}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = NewLog()
	}
	return d
}

// Log returns the log the detector appends to.
func (d *Detector) Log() *Log {
	return d.log
}

// DetectChanges compares two snapshots. When they differ it appends one
// LogItem to the log and returns it with the marked cells; otherwise it
// returns nil and empty annotations. Either snapshot may be nil.
func (d *Detector) DetectChanges(newDB, oldDB *sqlite.Database) (*LogItem, Annotations) {
	entries, marks := Diff(newDB.Root(), oldDB.Root())
	if len(entries) == 0 {
		return nil, marks
	}
	item := LogItem{
		Timestamp: d.clock.Now().UTC().Format(TimestampLayout),
		Entries:   entries,
	}
	d.log.Append(item)
	return &item, marks
}

// Diff returns the change entries between two trees, the last one
// newline-terminated. Nil or structurally equal trees yield no entries.
func Diff(newRoot, oldRoot *sqlite.Node) ([]string, Annotations) {
	marks := newAnnotations()
	if newRoot == nil || oldRoot == nil || sqlite.Equal(newRoot, oldRoot) {
		return nil, marks
	}

	newCells := postOrder(newRoot)
	oldCells := postOrder(oldRoot)
	oldByPage := indexByPage(oldCells)
	newByPage := indexByPage(newCells)

	var entries []string

	// Only the longer side is searched for unmatched pages.
	switch {
	case len(newCells) > len(oldCells):
		for _, c := range newCells {
			if _, ok := oldByPage[c.PageNumber]; !ok {
				marks.New.add(c.PageNumber, WholePage)
				entries = append(entries, fmt.Sprintf("ADDED PAGE '%d'", c.PageNumber))
			}
		}
	case len(oldCells) > len(newCells):
		for _, c := range oldCells {
			if _, ok := newByPage[c.PageNumber]; !ok {
				marks.Old.add(c.PageNumber, WholePage)
				entries = append(entries, fmt.Sprintf("REMOVED PAGE '%d'", c.PageNumber))
			}
		}
	}

	for _, nc := range newCells {
		oc, ok := oldByPage[nc.PageNumber]
		if !ok {
			continue
		}
		entries = append(entries, diffRows(nc, oc, marks)...)
	}

	if n := len(entries); n > 0 {
		entries[n-1] += "\n"
	}
	return entries, marks
}

// diffRows compares two cells decoded from the same page.
func diffRows(nc, oc *sqlite.Cell, marks Annotations) []string {
	// Placeholders have no rows to report; a change is only marked.
	if nc.Type == sqlite.CellUnknown || oc.Type == sqlite.CellUnknown {
		if !nc.Equal(oc) {
			marks.New.add(nc.PageNumber, WholePage)
			marks.Old.add(oc.PageNumber, WholePage)
		}
		return nil
	}

	var entries []string
	switch {
	case nc.Count > oc.Count:
		for i, v := range nc.Data {
			if !slices.Contains(oc.Data, v) {
				marks.New.add(nc.PageNumber, i)
				entries = append(entries, fmt.Sprintf("ADDED '%s'", v))
			}
		}
	case nc.Count < oc.Count:
		for i, v := range oc.Data {
			if !slices.Contains(nc.Data, v) {
				marks.Old.add(oc.PageNumber, i)
				entries = append(entries, fmt.Sprintf("REMOVED '%s'", v))
			}
		}
	case !nc.Equal(oc):
		for i := 0; i < len(nc.Data) && i < len(oc.Data); i++ {
			if nc.Data[i] != oc.Data[i] {
				marks.New.add(nc.PageNumber, i)
				marks.Old.add(oc.PageNumber, i)
				entries = append(entries, fmt.Sprintf("'%s' TO '%s'", oc.Data[i], nc.Data[i]))
			}
		}
	}
	return entries
}

func postOrder(root *sqlite.Node) []*sqlite.Cell {
	t := &sqlite.Tree{Root: root}
	return t.PostOrder()
}

func indexByPage(cells []*sqlite.Cell) map[uint32]*sqlite.Cell {
	m := make(map[uint32]*sqlite.Cell, len(cells))
	for _, c := range cells {
		if _, dup := m[c.PageNumber]; !dup {
			m[c.PageNumber] = c
		}
	}
	return m
}
