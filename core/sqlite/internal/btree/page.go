package btree

import (
	"encoding/binary"
	"fmt"

	dberrors "github.com/FocuswithJustin/dbwatch/core/errors"
	"github.com/FocuswithJustin/dbwatch/core/sqlite/internal/format"
)

// Page header offsets
const (
	PageHeaderOffsetType       = 0 // Page type (1 byte)
	PageHeaderOffsetFreeblock  = 1 // First freeblock offset (2 bytes)
	PageHeaderOffsetNumCells   = 3 // Number of cells (2 bytes)
	PageHeaderOffsetCellStart  = 5 // Start of cell content area (2 bytes)
	PageHeaderOffsetFragmented = 7 // Fragmented free bytes (1 byte)
	PageHeaderOffsetRightChild = 8 // Right-most child pointer (4 bytes, interior only)
)

// Header sizes
const (
	PageHeaderSizeLeaf     = 8   // Leaf pages: 8 bytes
	PageHeaderSizeInterior = 12  // Interior pages: 12 bytes (includes right child pointer)
	FileHeaderSize         = 100 // Database file header on page 1
)

// PageHeader is the decoded header of one B-tree page. It only lives while
// the page is being decoded.
type PageHeader struct {
	PageType         byte   // Page type (0x02, 0x05, 0x0a, 0x0d)
	FirstFreeblock   uint16 // Offset to first freeblock (0 if none)
	NumCells         uint16 // Number of cells on this page
	CellContentStart int    // Start of cell content area; stored 1 means 65536
	FragmentedBytes  byte   // Number of fragmented free bytes
	RightChild       uint32 // Right-most child page number (interior pages only)

	// Offset is the absolute file offset of the page.
	Offset int64

	// CellPointers holds the absolute file offset of every cell.
	CellPointers []int64
}

// PageOffset returns the absolute file offset of a 1-based page number.
func PageOffset(pageNum uint32, pageSize int) int64 {
	if pageNum == 0 {
		return 0
	}
	return int64(pageNum-1) * int64(pageSize)
}

// HeaderOffset returns the file offset where the page header starts. Page 1
// shares its page with the 100-byte file header.
func HeaderOffset(pageNum uint32, pageSize int) int64 {
	if pageNum == 1 {
		return FileHeaderSize
	}
	return PageOffset(pageNum, pageSize)
}

// IsInterior reports whether the page carries a right-most child pointer.
func (h *PageHeader) IsInterior() bool {
	return format.IsInterior(h.PageType)
}

// LocalOffset converts the i-th cell pointer back into an offset within the page.
func (h *PageHeader) LocalOffset(i int) int {
	return int(h.CellPointers[i] - h.Offset)
}

// ReadPageHeader decodes the header and cell pointer array of a page. data is
// the whole page as read from the file.
func ReadPageHeader(data []byte, pageNum uint32, pageSize int) (*PageHeader, error) {
	const op = "read page header"

	start := 0
	if pageNum == 1 {
		start = FileHeaderSize
	}
	if len(data) < start+PageHeaderSizeLeaf {
		return nil, dberrors.Truncated(op, pageNum, fmt.Errorf("page data too small: %d bytes", len(data)))
	}

	hdr := data[start:]
	h := &PageHeader{
		PageType:         hdr[PageHeaderOffsetType],
		FirstFreeblock:   binary.BigEndian.Uint16(hdr[PageHeaderOffsetFreeblock:]),
		NumCells:         binary.BigEndian.Uint16(hdr[PageHeaderOffsetNumCells:]),
		CellContentStart: int(binary.BigEndian.Uint16(hdr[PageHeaderOffsetCellStart:])),
		FragmentedBytes:  hdr[PageHeaderOffsetFragmented],
		Offset:           PageOffset(pageNum, pageSize),
	}
	if h.CellContentStart == 1 {
		h.CellContentStart = format.MaxPageSize
	}

	size := PageHeaderSizeLeaf
	if h.IsInterior() {
		if len(hdr) < PageHeaderSizeInterior {
			return nil, dberrors.Truncated(op, pageNum, fmt.Errorf("interior page data too small: %d bytes", len(data)))
		}
		h.RightChild = binary.BigEndian.Uint32(hdr[PageHeaderOffsetRightChild:])
		size = PageHeaderSizeInterior
	}

	ptrs := hdr[size:]
	if len(ptrs) < int(h.NumCells)*2 {
		return nil, dberrors.Truncated(op, pageNum, fmt.Errorf("cell pointer array of %d cells overruns page", h.NumCells))
	}
	h.CellPointers = make([]int64, h.NumCells)
	for i := range h.CellPointers {
		h.CellPointers[i] = h.Offset + int64(binary.BigEndian.Uint16(ptrs[i*2:]))
	}

	return h, nil
}

// String returns a string representation of the page header
func (h *PageHeader) String() string {
	return fmt.Sprintf("PageHeader{type=%s, cells=%d, contentStart=%d, freeblock=%d, fragmented=%d, right=%d}",
		PageTypeName(h.PageType), h.NumCells, h.CellContentStart, h.FirstFreeblock, h.FragmentedBytes, h.RightChild)
}

// PageTypeName returns a display name for a page type byte.
func PageTypeName(pageType byte) string {
	switch pageType {
	case format.PageTypeInteriorIndex:
		return "interior index"
	case format.PageTypeInteriorTable:
		return "interior table"
	case format.PageTypeLeafIndex:
		return "leaf index"
	case format.PageTypeLeafTable:
		return "leaf table"
	default:
		return fmt.Sprintf("unknown (0x%02x)", pageType)
	}
}
