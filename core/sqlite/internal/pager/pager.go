package pager

import (
	"fmt"
	"io"
	"os"

	"github.com/FocuswithJustin/dbwatch/core/cache"
	dberrors "github.com/FocuswithJustin/dbwatch/core/errors"
	"github.com/FocuswithJustin/dbwatch/core/sqlite/internal/format"
)

// Default values
const (
	DefaultCacheSize = 2000 // Default number of pages to cache
)

// Pager serves pages of a database file.
type Pager struct {
	// Byte source and the closer that owns it, if any
	r      io.ReaderAt
	closer io.Closer

	// Source path, empty for in-memory sources
	path string

	// Source size in bytes
	size int64

	// Decoded file header
	meta format.Metadata

	// Number of pages in the database
	pageCount uint32

	// Page cache
	cache *cache.PageCache
}

// Option configures a Pager.
type Option func(*options)

type options struct {
	cacheSize int
}

// WithCacheSize sets the number of pages kept in memory. Zero disables
// the limit.
func WithCacheSize(pages int) Option {
	return func(o *options) {
		if pages >= 0 {
			o.cacheSize = pages
		}
	}
}

// Open opens a database file read-only.
func Open(filename string, opts ...Option) (*Pager, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, dberrors.FromIO("open", filename, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, dberrors.FromIO("stat", filename, err)
	}

	p, err := New(f, info.Size(), opts...)
	if err != nil {
		f.Close()
		return nil, dberrors.FromIO("open", filename, err)
	}
	p.path = filename
	p.closer = f
	return p, nil
}

// New creates a Pager over an arbitrary byte source of the given size.
func New(r io.ReaderAt, size int64, opts ...Option) (*Pager, error) {
	o := options{cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}

	hdr := make([]byte, format.HeaderSize)
	n, err := r.ReadAt(hdr, 0)
	if err != nil && !dberrors.IsShortRead(err) {
		return nil, dberrors.Truncated("read header", 0, err)
	}

	meta, err := format.DecodeMetadata(hdr[:n])
	if err != nil {
		return nil, err
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	return &Pager{
		r:         r,
		size:      size,
		meta:      meta,
		pageCount: pageCount(meta, size),
		cache:     cache.NewPageCache(meta.PageSize, o.cacheSize),
	}, nil
}

// pageCount applies SQLite's rule for trusting the in-header database size.
func pageCount(meta format.Metadata, size int64) uint32 {
	if meta.DatabaseSize > 0 && meta.VersionValidFor == meta.FileChangeCounter {
		return meta.DatabaseSize
	}
	pages := (size + int64(meta.PageSize) - 1) / int64(meta.PageSize)
	if pages > int64(^uint32(0)) {
		pages = int64(^uint32(0))
	}
	return uint32(pages)
}

// Close releases the underlying file, if the pager opened it.
func (p *Pager) Close() error {
	p.cache.Clear()
	if p.closer == nil {
		return nil
	}
	err := p.closer.Close()
	p.closer = nil
	return err
}

// Metadata returns the decoded file header.
func (p *Pager) Metadata() format.Metadata {
	return p.meta
}

// PageSize returns the page size in bytes.
func (p *Pager) PageSize() int {
	return p.meta.PageSize
}

// PageCount returns the number of pages in the database.
func (p *Pager) PageCount() uint32 {
	return p.pageCount
}

// Size returns the size of the byte source.
func (p *Pager) Size() int64 {
	return p.size
}

// Path returns the file the pager was opened on.
func (p *Pager) Path() string {
	return p.path
}

// CacheStats reports page cache statistics.
func (p *Pager) CacheStats() cache.Stats {
	return p.cache.Stats()
}

// ReadPage returns the full contents of a 1-based page. A page that starts
// past the end of the source is ErrTruncated; a page inside the source but
// beyond the database size in the header is ErrCorrupt.
func (p *Pager) ReadPage(pgno uint32) ([]byte, error) {
	if pgno == 0 {
		return nil, dberrors.Corrupt("read page", pgno, "page numbers start at 1")
	}
	if pgno > p.pageCount {
		offset := int64(pgno-1) * int64(p.meta.PageSize)
		if offset >= p.size {
			return nil, dberrors.Truncated("read page", pgno,
				fmt.Errorf("page offset %d is past the end of the %d-byte source: %w", offset, p.size, io.ErrUnexpectedEOF))
		}
		return nil, dberrors.Corrupt("read page", pgno, "page number out of range (%d pages)", p.pageCount)
	}

	if data, ok := p.cache.Get(pgno); ok {
		return data, nil
	}

	data := make([]byte, p.meta.PageSize)
	offset := int64(pgno-1) * int64(p.meta.PageSize)
	n, err := p.r.ReadAt(data, offset)
	if n < len(data) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, dberrors.Truncated("read page", pgno,
			fmt.Errorf("read %d of %d bytes at offset %d: %w", n, len(data), offset, err))
	}

	p.cache.Put(pgno, data)
	return data, nil
}
