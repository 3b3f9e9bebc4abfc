package sqlite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/FocuswithJustin/dbwatch/core/cas"
	dberrors "github.com/FocuswithJustin/dbwatch/core/errors"
	"github.com/FocuswithJustin/dbwatch/core/sqlite/internal/btree"
	"github.com/FocuswithJustin/dbwatch/core/sqlite/internal/format"
	"github.com/FocuswithJustin/dbwatch/core/sqlite/internal/pager"
	"github.com/FocuswithJustin/dbwatch/internal/logging"
	"github.com/FocuswithJustin/dbwatch/internal/validation"
)

// Decoded structures are defined in the internal btree and format packages
// and re-exported here for callers outside core/sqlite.
type (
	Metadata = format.Metadata
	Tree     = btree.Tree
	Node     = btree.Node
	Cell     = btree.Cell
	CellType = btree.CellType
)

// DefaultCacheSize is the default number of pages kept in the page cache.
const DefaultCacheSize = pager.DefaultCacheSize

// Cell shapes.
const (
	CellUnknown       = btree.CellUnknown
	CellTableLeaf     = btree.CellTableLeaf
	CellTableInterior = btree.CellTableInterior
	CellIndexLeaf     = btree.CellIndexLeaf
	CellIndexInterior = btree.CellIndexInterior
)

// NewNode creates a detached node for a cell.
func NewNode(cell *Cell) *Node {
	return btree.NewNode(cell)
}

// Equal reports whether two decoded trees have the same shape and cells.
func Equal(a, b *Node) bool {
	return btree.Equal(a, b)
}

// PageTypeName returns a readable name for an on-disk page type byte.
func PageTypeName(pageType byte) string {
	return btree.PageTypeName(pageType)
}

// Database is one decoded snapshot of a database file. A Database is never
// mutated after ParseDatabase returns it.
type Database struct {
	Path      string
	Metadata  Metadata
	Trees     []*Tree // Trees[0] is rooted at the schema page
	PageCount uint32
	Size      int64

	// Fingerprint is the BLAKE3 digest of the decoded bytes.
	Fingerprint string
	ParsedAt    time.Time
}

// Tree returns the schema-rooted tree, or nil.
func (d *Database) Tree() *Tree {
	if d == nil || len(d.Trees) == 0 {
		return nil
	}
	return d.Trees[0]
}

// Root returns the root node of the schema-rooted tree, or nil.
func (d *Database) Root() *Node {
	if t := d.Tree(); t != nil {
		return t.Root
	}
	return nil
}

// SchemaObjects counts the table and index rows found in the schema.
func (d *Database) SchemaObjects() int {
	n := 0
	d.Tree().Walk(func(node *Node, _ int) bool {
		for _, isTable := range node.Cell.IsTable {
			if isTable {
				n++
			}
		}
		return true
	})
	return n
}

// Option configures ParseDatabase and Parse.
type Option func(*options)

type options struct {
	cacheSize int
	logger    *slog.Logger
	clock     clockwork.Clock
}

// WithCacheSize sets the number of pages the page cache may hold.
func WithCacheSize(pages int) Option {
	return func(o *options) {
		o.cacheSize = pages
	}
}

// WithLogger sets the logger used for decode warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock sets the clock that stamps ParsedAt.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func buildOptions(opts []Option) options {
	o := options{cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.GetLogger()
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	return o
}

// ParseDatabase decodes the database file at path into a page tree. Errors
// match dberrors.ErrNotFound, ErrBadMagic, ErrTruncated or ErrCorrupt.
func ParseDatabase(ctx context.Context, path string, opts ...Option) (*Database, error) {
	o := buildOptions(opts)

	if _, err := validation.ValidateDatabaseFile(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, dberrors.FromIO("open", path, err)
		}
		return nil, dberrors.WrapValidation("path", err)
	}

	fingerprint, err := cas.DigestFile(path)
	if err != nil {
		return nil, dberrors.FromIO("fingerprint", path, err)
	}

	p, err := pager.Open(path, pager.WithCacheSize(o.cacheSize))
	if err != nil {
		return nil, err
	}
	defer p.Close()

	db, err := build(ctx, p, o)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, dberrors.FromIO("parse", path, err)
	}
	db.Path = path
	db.Fingerprint = fingerprint
	return db, nil
}

// Parse decodes a database image read from r.
func Parse(ctx context.Context, r io.ReaderAt, size int64, opts ...Option) (*Database, error) {
	o := buildOptions(opts)

	fingerprint, err := cas.DigestReader(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, dberrors.Truncated("fingerprint", 0, err)
	}

	p, err := pager.New(r, size, pager.WithCacheSize(o.cacheSize))
	if err != nil {
		return nil, err
	}
	defer p.Close()

	db, err := build(ctx, p, o)
	if err != nil {
		return nil, err
	}
	db.Fingerprint = fingerprint
	return db, nil
}

func build(ctx context.Context, p *pager.Pager, o options) (*Database, error) {
	tree, err := btree.NewBuilder(p, p.Metadata(), o.logger).Build(ctx, btree.SchemaRootPage)
	if err != nil {
		return nil, err
	}
	return &Database{
		Metadata:  p.Metadata(),
		Trees:     []*Tree{tree},
		PageCount: p.PageCount(),
		Size:      p.Size(),
		ParsedAt:  o.clock.Now(),
	}, nil
}

// String returns a one-line summary of the snapshot.
func (d *Database) String() string {
	return fmt.Sprintf("Database{path=%s, pages=%d, nodes=%d}", d.Path, d.PageCount, d.Tree().Size())
}
