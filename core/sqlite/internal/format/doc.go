// Package format decodes the SQLite database file header.
//
// Every SQLite database file begins with a 100-byte header:
//
//   - Magic string ("SQLite format 3\x00"), validated byte for byte
//   - Page size (512 to 65536 bytes, power of 2; stored 1 means 65536)
//   - File format versions and payload fractions
//   - File change counter and database size in pages
//   - Freelist, schema cookie and schema format
//   - Text encoding (UTF-8, UTF-16LE, UTF-16BE)
//   - User version, application ID and the writer's SQLite version
//
// Bytes 72 to 91 are reserved for expansion and are skipped.
//
// Example usage:
//
//	data := make([]byte, format.HeaderSize)
//	if _, err := f.ReadAt(data, 0); err != nil {
//	    return err
//	}
//	meta, err := format.DecodeMetadata(data)
//	if errors.Is(err, dberrors.ErrBadMagic) {
//	    // not a SQLite 3 file
//	}
package format
