package format

import (
	"bytes"
	"encoding/binary"
	"fmt"

	dberrors "github.com/FocuswithJustin/dbwatch/core/errors"
)

// SQLite file format constants
const (
	// HeaderSize is the database header size in bytes (first 100 bytes of the database file).
	HeaderSize = 100

	// MagicString is the magic header string for SQLite 3 database files.
	// Must be exactly 16 bytes including the null terminator.
	MagicString = "SQLite format 3\000"

	// MinPageSize is the minimum allowed page size (512 bytes).
	MinPageSize = 512

	// MaxPageSize is the maximum allowed page size (65536 bytes).
	MaxPageSize = 65536
)

// Header offsets - byte positions in the 100-byte database header
const (
	OffsetMagic             = 0  // 16 bytes
	OffsetPageSize          = 16 // 2 bytes, 1 means 65536
	OffsetWriteVersion      = 18 // 1 byte
	OffsetReadVersion       = 19 // 1 byte
	OffsetReservedSpace     = 20 // 1 byte, unused bytes at the end of each page
	OffsetMaxPayloadFrac    = 21 // 1 byte, must be 64
	OffsetMinPayloadFrac    = 22 // 1 byte, must be 32
	OffsetLeafPayloadFrac   = 23 // 1 byte, must be 32
	OffsetFileChangeCounter = 24
	OffsetDatabaseSize      = 28
	OffsetFirstFreelist     = 32
	OffsetFreelistCount     = 36
	OffsetSchemaCookie      = 40
	OffsetSchemaFormat      = 44
	OffsetDefaultCacheSize  = 48
	OffsetLargestRootPage   = 52
	OffsetTextEncoding      = 56
	OffsetUserVersion       = 60
	OffsetIncrVacuum        = 64
	OffsetAppID             = 68
	OffsetReserved          = 72 // 20 bytes, skipped
	OffsetVersionValidFor   = 92
	OffsetSQLiteVersion     = 96
)

// Text encodings - values for the OffsetTextEncoding field
const (
	EncodingUTF8    = 1
	EncodingUTF16LE = 2
	EncodingUTF16BE = 3
)

// Page types - first byte of B-tree page header
const (
	PageTypeInteriorIndex = 0x02
	PageTypeInteriorTable = 0x05
	PageTypeLeafIndex     = 0x0a
	PageTypeLeafTable     = 0x0d
)

// Metadata is the decoded 100-byte database file header.
type Metadata struct {
	// PageSize is the database page size in bytes. A stored value of 1 is
	// already expanded to 65536.
	PageSize int

	WriteVersion    uint8
	ReadVersion     uint8
	ReservedSpace   uint8
	MaxPayloadFrac  uint8
	MinPayloadFrac  uint8
	LeafPayloadFrac uint8

	// FileChangeCounter is incremented whenever the database file is modified.
	FileChangeCounter uint32

	// DatabaseSize is the size of the database file in pages.
	DatabaseSize uint32

	FirstFreelist    uint32
	FreelistCount    uint32
	SchemaCookie     uint32
	SchemaFormat     uint32
	DefaultCacheSize uint32

	// LargestRootPage is only non-zero in auto-vacuum and incremental-vacuum modes.
	LargestRootPage uint32

	// TextEncoding is 1 for UTF-8, 2 for UTF-16le and 3 for UTF-16be.
	TextEncoding uint32

	UserVersion     uint32
	IncrVacuum      uint32
	AppID           uint32
	VersionValidFor uint32
	SQLiteVersion   uint32
}

// DecodeMetadata validates the magic signature and decodes the file header.
// No metadata is returned when the signature does not match.
func DecodeMetadata(data []byte) (Metadata, error) {
	magic := len(MagicString)
	if len(data) >= magic && !bytes.Equal(data[OffsetMagic:OffsetMagic+magic], []byte(MagicString)) {
		return Metadata{}, dberrors.NewDecode(dberrors.ErrBadMagic, "read header", 0,
			fmt.Errorf("got %q, want %q", data[OffsetMagic:OffsetMagic+magic], MagicString))
	}
	if len(data) < HeaderSize {
		return Metadata{}, dberrors.Truncated("read header", 0,
			fmt.Errorf("got %d bytes, want %d", len(data), HeaderSize))
	}

	be := binary.BigEndian
	m := Metadata{
		PageSize:          int(be.Uint16(data[OffsetPageSize:])),
		WriteVersion:      data[OffsetWriteVersion],
		ReadVersion:       data[OffsetReadVersion],
		ReservedSpace:     data[OffsetReservedSpace],
		MaxPayloadFrac:    data[OffsetMaxPayloadFrac],
		MinPayloadFrac:    data[OffsetMinPayloadFrac],
		LeafPayloadFrac:   data[OffsetLeafPayloadFrac],
		FileChangeCounter: be.Uint32(data[OffsetFileChangeCounter:]),
		DatabaseSize:      be.Uint32(data[OffsetDatabaseSize:]),
		FirstFreelist:     be.Uint32(data[OffsetFirstFreelist:]),
		FreelistCount:     be.Uint32(data[OffsetFreelistCount:]),
		SchemaCookie:      be.Uint32(data[OffsetSchemaCookie:]),
		SchemaFormat:      be.Uint32(data[OffsetSchemaFormat:]),
		DefaultCacheSize:  be.Uint32(data[OffsetDefaultCacheSize:]),
		LargestRootPage:   be.Uint32(data[OffsetLargestRootPage:]),
		TextEncoding:      be.Uint32(data[OffsetTextEncoding:]),
		UserVersion:       be.Uint32(data[OffsetUserVersion:]),
		IncrVacuum:        be.Uint32(data[OffsetIncrVacuum:]),
		AppID:             be.Uint32(data[OffsetAppID:]),
		VersionValidFor:   be.Uint32(data[OffsetVersionValidFor:]),
		SQLiteVersion:     be.Uint32(data[OffsetSQLiteVersion:]),
	}
	if m.PageSize == 1 {
		m.PageSize = MaxPageSize
	}

	return m, nil
}

// Validate checks the fields the page walker depends on.
func (m Metadata) Validate() error {
	if !IsValidPageSize(m.PageSize) {
		return dberrors.Corrupt("validate header", 0, "invalid page size: %d", m.PageSize)
	}
	if int(m.ReservedSpace) >= m.PageSize-480 {
		return dberrors.Corrupt("validate header", 0, "reserved space %d leaves no usable page", m.ReservedSpace)
	}
	if m.TextEncoding != 0 && (m.TextEncoding < EncodingUTF8 || m.TextEncoding > EncodingUTF16BE) {
		return dberrors.Corrupt("validate header", 0, "invalid text encoding: %d", m.TextEncoding)
	}
	return nil
}

// UsableSize returns the page size minus the reserved bytes at the end of each page.
func (m Metadata) UsableSize() int {
	return m.PageSize - int(m.ReservedSpace)
}

// Encoding returns the text encoding, treating an unset field as UTF-8.
func (m Metadata) Encoding() uint32 {
	if m.TextEncoding == 0 {
		return EncodingUTF8
	}
	return m.TextEncoding
}

// EncodingName returns a display name for the text encoding.
func (m Metadata) EncodingName() string {
	switch m.Encoding() {
	case EncodingUTF16LE:
		return "UTF-16le"
	case EncodingUTF16BE:
		return "UTF-16be"
	default:
		return "UTF-8"
	}
}

// VersionString renders SQLiteVersion (e.g. 3045001) as "3.45.1".
func (m Metadata) VersionString() string {
	v := m.SQLiteVersion
	return fmt.Sprintf("%d.%d.%d", v/1000000, (v/1000)%1000, v%1000)
}

// IsValidPageSize checks if a page size is valid.
// Valid page sizes are powers of 2 between 512 and 65536 inclusive.
func IsValidPageSize(size int) bool {
	if size < MinPageSize || size > MaxPageSize {
		return false
	}
	return size&(size-1) == 0
}

// IsInterior reports whether a page type byte is one of the two interior types.
func IsInterior(pageType byte) bool {
	return pageType == PageTypeInteriorIndex || pageType == PageTypeInteriorTable
}
