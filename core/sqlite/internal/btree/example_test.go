package btree_test

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/FocuswithJustin/dbwatch/core/sqlite/internal/btree"
	"github.com/FocuswithJustin/dbwatch/core/sqlite/internal/format"
)

// Example_varintEncoding demonstrates encoding and decoding variable-length integers
func Example_varintEncoding() {
	var buf [9]byte
	value := uint64(12345678)
	n := btree.PutVarint(buf[:], value)

	fmt.Printf("Encoded %d in %d bytes\n", value, n)

	decoded, m := btree.GetVarint(buf[:])
	fmt.Printf("Decoded %d from %d bytes\n", decoded, m)

	length := btree.VarintLen(value)
	fmt.Printf("Varint length: %d bytes\n", length)

	// Output:
	// Encoded 12345678 in 4 bytes
	// Decoded 12345678 from 4 bytes
	// Varint length: 4 bytes
}

// Example_pageHeader demonstrates decoding a B-tree page header
func Example_pageHeader() {
	pageData := make([]byte, 4096)
	pageData[0] = format.PageTypeLeafTable
	binary.BigEndian.PutUint16(pageData[3:], 3)    // 3 cells
	binary.BigEndian.PutUint16(pageData[5:], 3500) // Cell content starts at offset 3500
	for i := 0; i < 3; i++ {
		binary.BigEndian.PutUint16(pageData[8+2*i:], uint16(3500+100*i))
	}

	header, err := btree.ReadPageHeader(pageData, 2, 4096)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Page type: %s\n", btree.PageTypeName(header.PageType))
	fmt.Printf("Number of cells: %d\n", header.NumCells)
	fmt.Printf("First cell at file offset: %d\n", header.CellPointers[0])

	// Output:
	// Page type: leaf table
	// Number of cells: 3
	// First cell at file offset: 7596
}

// Example_decodeRecord demonstrates rendering a record preview
func Example_decodeRecord() {
	// Header length 4, then serial types: NULL, 1-byte int, 5-byte text.
	payload := []byte{4, 0, 1, 23, 42, 'h', 'e', 'l', 'l', 'o'}

	rec, err := btree.DecodeRecord(payload, format.EncodingUTF8)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println(rec.Preview())

	// Output:
	// NULL|42|hello
}

type pages map[uint32][]byte

func (p pages) ReadPage(n uint32) ([]byte, error) { return p[n], nil }
func (p pages) PageCount() uint32                 { return uint32(len(p)) }

// Example_build demonstrates building the tree of an empty database
func Example_build() {
	page1 := make([]byte, 4096)
	copy(page1, format.MagicString)
	page1[100] = format.PageTypeLeafTable
	binary.BigEndian.PutUint16(page1[105:], 4096)

	meta := format.Metadata{PageSize: 4096}
	tree, err := btree.NewBuilder(pages{1: page1}, meta, nil).Build(context.Background(), btree.SchemaRootPage)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Nodes: %d\n", tree.Size())
	fmt.Printf("Root: %s\n", tree.Root.Cell)

	// Output:
	// Nodes: 1
	// Root: Cell{page=1, type=table-leaf, count=0}
}
