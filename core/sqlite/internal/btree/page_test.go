package btree

import (
	"encoding/binary"
	"testing"

	dberrors "github.com/FocuswithJustin/dbwatch/core/errors"
	"github.com/FocuswithJustin/dbwatch/core/sqlite/internal/format"
)

func TestPageOffset(t *testing.T) {
	tests := []struct {
		pageNum  uint32
		pageSize int
		want     int64
	}{
		{1, 4096, 0},
		{2, 4096, 4096},
		{3, 512, 1024},
		{10, 65536, 9 * 65536},
		{0, 4096, 0},
	}

	for _, tt := range tests {
		if got := PageOffset(tt.pageNum, tt.pageSize); got != tt.want {
			t.Errorf("PageOffset(%d, %d) = %d, want %d", tt.pageNum, tt.pageSize, got, tt.want)
		}
	}
}

func TestHeaderOffset(t *testing.T) {
	if got := HeaderOffset(1, 4096); got != FileHeaderSize {
		t.Errorf("HeaderOffset(1) = %d, want %d", got, FileHeaderSize)
	}
	if got := HeaderOffset(2, 4096); got != 4096 {
		t.Errorf("HeaderOffset(2) = %d, want 4096", got)
	}
}

func TestReadPageHeader(t *testing.T) {
	tests := []struct {
		name      string
		pageNum   uint32
		page      []byte
		wantType  byte
		wantCells uint16
		wantRight uint32
	}{
		{
			name:      "leaf table",
			pageNum:   2,
			page:      buildPage(2, format.PageTypeLeafTable, 0, tableLeafCell(1, encodeRecord("a"))),
			wantType:  format.PageTypeLeafTable,
			wantCells: 1,
		},
		{
			name:      "interior table",
			pageNum:   3,
			page:      buildPage(3, format.PageTypeInteriorTable, 7, tableInteriorCell(4, 10), tableInteriorCell(5, 20)),
			wantType:  format.PageTypeInteriorTable,
			wantCells: 2,
			wantRight: 7,
		},
		{
			name:      "schema page",
			pageNum:   1,
			page:      buildPage(1, format.PageTypeLeafTable, 0),
			wantType:  format.PageTypeLeafTable,
			wantCells: 0,
		},
		{
			name:      "interior index",
			pageNum:   4,
			page:      buildPage(4, format.PageTypeInteriorIndex, 9, indexInteriorCell(8, encodeRecord("k", 1))),
			wantType:  format.PageTypeInteriorIndex,
			wantCells: 1,
			wantRight: 9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := ReadPageHeader(tt.page, tt.pageNum, testPageSize)
			if err != nil {
				t.Fatalf("ReadPageHeader() error = %v", err)
			}
			if h.PageType != tt.wantType {
				t.Errorf("PageType = 0x%02x, want 0x%02x", h.PageType, tt.wantType)
			}
			if h.NumCells != tt.wantCells {
				t.Errorf("NumCells = %d, want %d", h.NumCells, tt.wantCells)
			}
			if h.RightChild != tt.wantRight {
				t.Errorf("RightChild = %d, want %d", h.RightChild, tt.wantRight)
			}
			if len(h.CellPointers) != int(tt.wantCells) {
				t.Fatalf("len(CellPointers) = %d, want %d", len(h.CellPointers), tt.wantCells)
			}
		})
	}
}

func TestReadPageHeaderAbsolutePointers(t *testing.T) {
	page := buildPage(3, format.PageTypeLeafTable, 0, tableLeafCell(1, encodeRecord("x")))
	h, err := ReadPageHeader(page, 3, testPageSize)
	if err != nil {
		t.Fatalf("ReadPageHeader() error = %v", err)
	}

	local := int64(binary.BigEndian.Uint16(page[PageHeaderSizeLeaf:]))
	if want := 2*int64(testPageSize) + local; h.CellPointers[0] != want {
		t.Errorf("CellPointers[0] = %d, want %d", h.CellPointers[0], want)
	}
	if got := h.LocalOffset(0); int64(got) != local {
		t.Errorf("LocalOffset(0) = %d, want %d", got, local)
	}
}

func TestReadPageHeaderCellStart65536(t *testing.T) {
	page := make([]byte, 64)
	page[PageHeaderOffsetType] = format.PageTypeLeafTable
	binary.BigEndian.PutUint16(page[PageHeaderOffsetCellStart:], 1)

	h, err := ReadPageHeader(page, 2, format.MaxPageSize)
	if err != nil {
		t.Fatalf("ReadPageHeader() error = %v", err)
	}
	if h.CellContentStart != 65536 {
		t.Errorf("CellContentStart = %d, want 65536", h.CellContentStart)
	}
}

func TestReadPageHeaderTruncated(t *testing.T) {
	tests := []struct {
		name    string
		pageNum uint32
		data    []byte
	}{
		{"empty", 2, nil},
		{"short leaf header", 2, []byte{0x0d, 0, 0, 0}},
		{"page 1 inside file header", 1, make([]byte, 104)},
		{"short interior header", 2, []byte{0x05, 0, 0, 0, 0, 0, 0, 0, 0}},
		{"pointer array overrun", 2, []byte{0x0d, 0, 0, 0, 5, 0, 0, 0, 0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadPageHeader(tt.data, tt.pageNum, testPageSize)
			if !dberrors.Is(err, dberrors.ErrTruncated) {
				t.Errorf("ReadPageHeader() error = %v, want ErrTruncated", err)
			}
		})
	}
}

func TestPageTypeName(t *testing.T) {
	tests := []struct {
		pageType byte
		want     string
	}{
		{format.PageTypeInteriorIndex, "interior index"},
		{format.PageTypeInteriorTable, "interior table"},
		{format.PageTypeLeafIndex, "leaf index"},
		{format.PageTypeLeafTable, "leaf table"},
		{0x42, "unknown (0x42)"},
	}
	for _, tt := range tests {
		if got := PageTypeName(tt.pageType); got != tt.want {
			t.Errorf("PageTypeName(0x%02x) = %q, want %q", tt.pageType, got, tt.want)
		}
	}
}
