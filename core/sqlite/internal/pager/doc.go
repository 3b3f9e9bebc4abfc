/*
Package pager implements read-only page access to a SQLite database file.

The pager sits between the B-tree decoder and the byte source. It reads the
100-byte file header once, validates it, and then serves whole pages by
1-based page number through a bounded LRU page cache.

# Database File Format

SQLite databases begin with a 100-byte header containing metadata:
  - Magic string: "SQLite format 3\0"
  - Page size (512 to 65536 bytes, power of 2)
  - File format versions
  - Database size in pages
  - Schema information
  - Text encoding
  - User-defined metadata

All database access is done in fixed-size pages. Page N lives at file offset
(N-1) * pageSize. The first page contains the database header followed by
the root page of the schema table.

# Page Count

The in-header database size is trusted only when it is non-zero and the
version-valid-for number matches the file change counter, the same rule
SQLite applies. Otherwise the count is derived from the source size. A page
that lies past the end of the source is reported as truncated.

# Usage

	p, err := pager.Open("mydb.db")
	if err != nil {
	    return err
	}
	defer p.Close()

	data, err := p.ReadPage(1)
	if err != nil {
	    return err
	}

Returned page slices are shared with the cache and must not be modified.

# Thread Safety

All public operations are safe for concurrent use. The byte source must
support concurrent ReadAt calls, which *os.File does.

# Limitations

  - No write support, journals or WAL
  - No page checksums or encryption

# References

  - SQLite File Format: https://www.sqlite.org/fileformat.html
*/
package pager
