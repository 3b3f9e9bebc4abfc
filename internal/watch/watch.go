// Package watch polls a database file and re-decodes it whenever its
// contents change, feeding each new snapshot to the change detector.
package watch

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/FocuswithJustin/dbwatch/core/cas"
	"github.com/FocuswithJustin/dbwatch/core/changes"
	"github.com/FocuswithJustin/dbwatch/core/sqlite"
	"github.com/FocuswithJustin/dbwatch/internal/logging"
)

// Event describes a published snapshot.
type Event struct {
	Snapshot *sqlite.Database
	Previous *sqlite.Database
	Item     *changes.LogItem // nil when nothing changed
	Marks    changes.Annotations
}

// Watcher polls one database file. Snapshot and Log may be read from any
// goroutine; Poll and Run must not be called concurrently.
type Watcher struct {
	cfg       Config
	clock     clockwork.Clock
	log       *changes.Log
	detector  *changes.Detector
	store     *cas.Store
	notify    func(Event)
	sessionID string

	snapshot atomic.Pointer[sqlite.Database]

	// Owned by the polling goroutine.
	lastMod    time.Time
	lastSize   int64
	lastDigest string
	failing    bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithClock sets the clock driving polls and timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(w *Watcher) {
		w.clock = clock
	}
}

// WithLog sets the change log detections are appended to.
func WithLog(log *changes.Log) Option {
	return func(w *Watcher) {
		w.log = log
	}
}

// WithNotify registers a function called after every published snapshot.
// It runs on the polling goroutine.
func WithNotify(fn func(Event)) Option {
	return func(w *Watcher) {
		w.notify = fn
	}
}

// New creates a Watcher for cfg.Path.
func New(cfg Config, opts ...Option) (*Watcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := &Watcher{
		cfg:       cfg,
		clock:     clockwork.NewRealClock(),
		sessionID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.detector = changes.NewDetector(w.log, changes.WithClock(w.clock))

	if cfg.ArchiveDir != "" {
		store, err := cas.NewStore(cfg.ArchiveDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open archive: %w", err)
		}
		w.store = store
	}
	return w, nil
}

// Snapshot returns the most recently published snapshot, or nil before the
// first successful decode.
func (w *Watcher) Snapshot() *sqlite.Database {
	return w.snapshot.Load()
}

// Log returns the change log.
func (w *Watcher) Log() *changes.Log {
	return w.detector.Log()
}

// SessionID identifies this watcher in log output.
func (w *Watcher) SessionID() string {
	return w.sessionID
}

// Archive returns the version store, or nil when archiving is off.
func (w *Watcher) Archive() *cas.Store {
	return w.store
}

// Run polls until ctx is cancelled. Decode failures are logged and leave the
// previous snapshot in place.
func (w *Watcher) Run(ctx context.Context) error {
	ctx = logging.WithSessionID(ctx, w.sessionID)
	logging.WatchStarted(ctx, w.cfg.Path, w.cfg.Interval)

	ticker := w.clock.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			w.Poll(ctx)
		}
	}
}

// Poll checks the file once. When its contents changed since the last
// successful decode, it parses the file, publishes the new snapshot and runs
// change detection against the previous one. The returned item is nil when
// nothing changed.
func (w *Watcher) Poll(ctx context.Context) (*changes.LogItem, error) {
	if logging.GetSessionID(ctx) == "" {
		ctx = logging.WithSessionID(ctx, w.sessionID)
	}

	info, err := os.Stat(w.cfg.Path)
	if err != nil {
		return nil, w.fail(ctx, err)
	}
	if w.Snapshot() != nil && info.ModTime().Equal(w.lastMod) && info.Size() == w.lastSize {
		return nil, nil
	}

	digest, err := cas.DigestFile(w.cfg.Path)
	if err != nil {
		return nil, w.fail(ctx, err)
	}
	if w.Snapshot() != nil && digest == w.lastDigest {
		w.lastMod, w.lastSize = info.ModTime(), info.Size()
		w.failing = false
		return nil, nil
	}

	start := w.clock.Now()
	db, err := sqlite.ParseDatabase(ctx, w.cfg.Path,
		sqlite.WithCacheSize(w.cfg.CacheSize),
		sqlite.WithClock(w.clock),
		sqlite.WithLogger(logging.LoggerFromContext(ctx)),
	)
	if err != nil {
		return nil, w.fail(ctx, err)
	}
	logging.SnapshotParsed(ctx, w.cfg.Path, db.PageCount, db.Tree().Size(), w.clock.Since(start))

	w.failing = false
	w.lastMod, w.lastSize, w.lastDigest = info.ModTime(), info.Size(), db.Fingerprint

	if w.store != nil {
		if v, err := w.store.ArchiveFile(w.cfg.Path, db.ParsedAt); err != nil {
			logging.WarnContext(ctx, "archive failed", "path", w.cfg.Path, "error", err.Error())
		} else {
			logging.VersionArchived(ctx, w.cfg.Path, v.Digest, v.Size)
		}
	}

	previous := w.snapshot.Swap(db)
	item, marks := w.detector.DetectChanges(db, previous)
	if item != nil {
		logging.ChangeLogged(ctx, w.cfg.Path, len(item.Entries))
	}
	if w.notify != nil {
		w.notify(Event{Snapshot: db, Previous: previous, Item: item, Marks: marks})
	}
	return item, nil
}

// fail logs the first failure of a streak and returns err.
func (w *Watcher) fail(ctx context.Context, err error) error {
	if !w.failing {
		logging.DecodeFailed(ctx, w.cfg.Path, err)
		w.failing = true
	}
	return err
}
