package btree

import (
	"encoding/binary"
	"fmt"
	"strconv"

	dberrors "github.com/FocuswithJustin/dbwatch/core/errors"
	"github.com/FocuswithJustin/dbwatch/core/sqlite/internal/format"
)

// Schema row type strings that mark a nested table or index definition.
const (
	SchemaTypeTable = "table"
	SchemaTypeIndex = "index"
)

// maxPayloadSize bounds a single cell payload; anything larger is corrupt.
const maxPayloadSize = 1 << 31

// PageSource supplies raw pages by 1-based page number. ReadPage reports a
// page past the end of the source as ErrTruncated.
type PageSource interface {
	ReadPage(pageNum uint32) ([]byte, error)
	PageCount() uint32
}

// childRef is a page to decode below the current node.
type childRef struct {
	page   uint32
	schema bool
}

// decoder turns one page into a Cell plus the pages that hang below it.
type decoder struct {
	src  PageSource
	meta format.Metadata
}

// decodePage decodes every cell of a page. The returned children are in
// traversal order: per-slot children first, the right-most pointer last.
// schema is true while walking the schema table rooted at page 1.
func (d *decoder) decodePage(pageNum uint32, schema bool) (*Cell, []childRef, error) {
	data, err := d.src.ReadPage(pageNum)
	if err != nil {
		return nil, nil, err
	}
	hdr, err := ReadPageHeader(data, pageNum, d.meta.PageSize)
	if err != nil {
		return nil, nil, err
	}

	cell := newCell(pageNum, hdr.PageType, int(hdr.NumCells))
	var children []childRef

	for i := 0; i < cell.Count && cell.Type != CellUnknown; i++ {
		off := hdr.LocalOffset(i)
		if off < 0 || off >= len(data) {
			return nil, nil, dberrors.Corrupt("decode cell", pageNum, "cell %d pointer %d outside page", i, off)
		}

		var (
			child uint32
			rec   *Record
		)
		switch cell.Type {
		case CellTableLeaf:
			rec, err = d.tableLeaf(cell, i, data, off)
		case CellIndexLeaf:
			rec, err = d.indexLeaf(cell, i, data, off)
		case CellTableInterior:
			child, err = d.tableInterior(cell, i, data, off)
		case CellIndexInterior:
			child, err = d.indexInterior(cell, i, data, off)
		}
		if err != nil {
			return nil, nil, err
		}

		if child != 0 {
			children = append(children, childRef{page: child, schema: schema})
		}
		if schema && rec != nil {
			if root, ok := schemaRoot(rec); ok {
				cell.IsTable[i] = true
				cell.ChildPages[i] = root
				children = append(children, childRef{page: root})
			}
		}
	}

	if hdr.IsInterior() && hdr.RightChild != 0 {
		children = append(children, childRef{page: hdr.RightChild, schema: schema})
	}

	return cell, children, nil
}

// tableLeaf decodes varint(payload size), varint(rowid), payload.
func (d *decoder) tableLeaf(cell *Cell, i int, data []byte, off int) (*Record, error) {
	size, n := GetVarint(data[off:])
	if n == 0 {
		return nil, dberrors.Truncated("read payload size", cell.PageNumber, nil)
	}
	off += n

	rowid, n := GetVarintInt64(data[off:])
	if n == 0 {
		return nil, dberrors.Truncated("read rowid", cell.PageNumber, nil)
	}
	off += n

	cell.RowIDs[i] = rowid
	cell.PayloadSizes[i] = size
	return d.leafRecord(cell, i, data, off, size, true)
}

// indexLeaf decodes varint(payload size), payload.
func (d *decoder) indexLeaf(cell *Cell, i int, data []byte, off int) (*Record, error) {
	size, n := GetVarint(data[off:])
	if n == 0 {
		return nil, dberrors.Truncated("read payload size", cell.PageNumber, nil)
	}
	cell.PayloadSizes[i] = size
	return d.leafRecord(cell, i, data, off+n, size, false)
}

// tableInterior decodes a 4-byte left child pointer and varint(rowid).
func (d *decoder) tableInterior(cell *Cell, i int, data []byte, off int) (uint32, error) {
	if off+4 > len(data) {
		return 0, dberrors.Truncated("read left child", cell.PageNumber, nil)
	}
	left := binary.BigEndian.Uint32(data[off:])

	rowid, n := GetVarintInt64(data[off+4:])
	if n == 0 {
		return 0, dberrors.Truncated("read rowid", cell.PageNumber, nil)
	}

	cell.LeftChildren[i] = left
	cell.RowIDs[i] = rowid
	cell.Data[i] = strconv.FormatInt(rowid, 10)
	return left, nil
}

// indexInterior decodes a 4-byte left child pointer, varint(payload size), payload.
func (d *decoder) indexInterior(cell *Cell, i int, data []byte, off int) (uint32, error) {
	if off+4 > len(data) {
		return 0, dberrors.Truncated("read left child", cell.PageNumber, nil)
	}
	left := binary.BigEndian.Uint32(data[off:])
	off += 4

	size, n := GetVarint(data[off:])
	if n == 0 {
		return 0, dberrors.Truncated("read payload size", cell.PageNumber, nil)
	}
	off += n

	cell.LeftChildren[i] = left
	cell.PayloadSizes[i] = size

	payload, overflow, err := d.payload(data, off, cell.PageNumber, size, false)
	if err != nil {
		return 0, err
	}
	cell.Overflow[i] = overflow

	rec, err := DecodeRecord(payload, d.meta.Encoding())
	if err != nil {
		return 0, dberrors.NewDecode(dberrors.ErrCorrupt, "decode record", cell.PageNumber, err)
	}
	cell.Data[i] = rec.Preview()
	return left, nil
}

// leafRecord reads the payload of a leaf slot and decodes its record.
func (d *decoder) leafRecord(cell *Cell, i int, data []byte, off int, size uint64, tableLeaf bool) (*Record, error) {
	payload, overflow, err := d.payload(data, off, cell.PageNumber, size, tableLeaf)
	if err != nil {
		return nil, err
	}
	cell.Overflow[i] = overflow

	rec, err := DecodeRecord(payload, d.meta.Encoding())
	if err != nil {
		return nil, dberrors.NewDecode(dberrors.ErrCorrupt, "decode record", cell.PageNumber, err)
	}
	cell.Data[i] = rec.Preview()
	return rec, nil
}

// schemaRoot recognises a schema row (type "table" or "index") and returns
// the root page it names. Rows without a root page, such as views, are not
// nested definitions.
func schemaRoot(rec *Record) (uint32, bool) {
	if len(rec.Columns) == 0 || rec.Columns[0].Kind != KindText {
		return 0, false
	}
	if t := rec.Columns[0].Text; t != SchemaTypeTable && t != SchemaTypeIndex {
		return 0, false
	}
	root, ok := rec.FirstInt()
	if !ok || root <= 0 || root > int64(^uint32(0)) {
		return 0, false
	}
	return uint32(root), true
}

// payload assembles the full payload of a cell whose local part starts at
// off, following the overflow chain when it does not fit on the page. It
// returns the overflow page numbers in chain order.
func (d *decoder) payload(data []byte, off int, pageNum uint32, size uint64, tableLeaf bool) ([]byte, []uint32, error) {
	if size > maxPayloadSize || size > uint64(d.src.PageCount())*uint64(d.meta.PageSize) {
		return nil, nil, dberrors.Corrupt("read payload", pageNum, "payload size %d larger than the file", size)
	}

	local := LocalPayloadSize(d.meta, int(size), tableLeaf)
	if off+local > len(data) {
		return nil, nil, dberrors.Truncated("read payload", pageNum,
			fmt.Errorf("local payload of %d bytes overruns page", local))
	}

	out := make([]byte, 0, size)
	out = append(out, data[off:off+local]...)
	if local == int(size) {
		return out, nil, nil
	}

	if off+local+4 > len(data) {
		return nil, nil, dberrors.Truncated("read overflow pointer", pageNum, nil)
	}
	next := binary.BigEndian.Uint32(data[off+local:])
	usable := d.meta.UsableSize()

	var chain []uint32
	remaining := int(size) - local
	for remaining > 0 {
		if next == 0 {
			return nil, nil, dberrors.Corrupt("read overflow", pageNum, "overflow chain ends with %d bytes missing", remaining)
		}
		page, err := d.src.ReadPage(next)
		if err != nil {
			return nil, nil, err
		}
		if len(page) < 4 {
			return nil, nil, dberrors.Truncated("read overflow", next, nil)
		}
		chain = append(chain, next)

		n := min(remaining, usable-4, len(page)-4)
		if n <= 0 {
			return nil, nil, dberrors.Truncated("read overflow", next, nil)
		}
		out = append(out, page[4:4+n]...)
		remaining -= n
		next = binary.BigEndian.Uint32(page)
	}

	return out, chain, nil
}

// LocalPayloadSize returns how many bytes of a payload of the given size are
// stored on the B-tree page itself; the rest spills to overflow pages.
func LocalPayloadSize(meta format.Metadata, size int, tableLeaf bool) int {
	usable := meta.UsableSize()
	maxLocal, minLocal := localLimits(meta, usable, tableLeaf)
	if size <= maxLocal {
		return size
	}
	surplus := minLocal + (size-minLocal)%(usable-4)
	if surplus <= maxLocal {
		return surplus
	}
	return minLocal
}

func localLimits(meta format.Metadata, usable int, tableLeaf bool) (maxLocal, minLocal int) {
	frac := func(v uint8, def int) int {
		if v == 0 {
			return def
		}
		return int(v)
	}
	if tableLeaf {
		return usable - 35, (usable-12)*frac(meta.LeafPayloadFrac, 32)/255 - 23
	}
	return (usable-12)*frac(meta.MaxPayloadFrac, 64)/255 - 23,
		(usable-12)*frac(meta.MinPayloadFrac, 32)/255 - 23
}
