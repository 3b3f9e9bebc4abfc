package btree

import (
	"fmt"

	"github.com/FocuswithJustin/dbwatch/core/sqlite/internal/format"
)

// CellType tags the shape of the cells decoded from one page.
type CellType int

const (
	CellUnknown CellType = iota
	CellTableLeaf
	CellTableInterior
	CellIndexLeaf
	CellIndexInterior
)

func (t CellType) String() string {
	switch t {
	case CellTableLeaf:
		return "table-leaf"
	case CellTableInterior:
		return "table-interior"
	case CellIndexLeaf:
		return "index-leaf"
	case CellIndexInterior:
		return "index-interior"
	default:
		return "unknown"
	}
}

// CellTypeOf maps a page type byte to its cell shape.
func CellTypeOf(pageType byte) CellType {
	switch pageType {
	case format.PageTypeLeafTable:
		return CellTableLeaf
	case format.PageTypeInteriorTable:
		return CellTableInterior
	case format.PageTypeLeafIndex:
		return CellIndexLeaf
	case format.PageTypeInteriorIndex:
		return CellIndexInterior
	default:
		return CellUnknown
	}
}

// Cell is one page's worth of decoded cells. Every per-slot slice has Count
// entries, except on placeholder cells for unknown page types which carry no
// slots at all.
type Cell struct {
	PageNumber uint32 // 1-based page number on disk
	PageType   byte
	Type       CellType
	Count      int

	RowIDs       []int64
	PayloadSizes []uint64
	LeftChildren []uint32
	Data         []string   // textual preview per slot
	IsTable      []bool     // slot is a schema row for a table or index
	ChildPages   []uint32   // root page of that table or index
	Overflow     [][]uint32 // overflow chain per slot
}

func newCell(pageNum uint32, pageType byte, count int) *Cell {
	c := &Cell{
		PageNumber: pageNum,
		PageType:   pageType,
		Type:       CellTypeOf(pageType),
		Count:      count,
	}
	if c.Type == CellUnknown {
		return c
	}
	c.RowIDs = make([]int64, count)
	c.PayloadSizes = make([]uint64, count)
	c.LeftChildren = make([]uint32, count)
	c.Data = make([]string, count)
	c.IsTable = make([]bool, count)
	c.ChildPages = make([]uint32, count)
	c.Overflow = make([][]uint32, count)
	return c
}

// RealPageNumber is the 0-based page number, the multiplier of the page size
// in the page's file offset.
func (c *Cell) RealPageNumber() uint32 {
	if c.PageNumber == 0 {
		return 0
	}
	return c.PageNumber - 1
}

// Equal reports whether both cells have the same page type, cell count and
// preview strings. Page numbers and other slot metadata do not take part.
// Placeholders carry no previews, so type and count are all they compare.
func (c *Cell) Equal(other *Cell) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.PageType != other.PageType || c.Type != other.Type || c.Count != other.Count {
		return false
	}
	if len(c.Data) != len(other.Data) {
		return false
	}
	for i := range c.Data {
		if c.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}

func (c *Cell) String() string {
	return fmt.Sprintf("Cell{page=%d, type=%s, count=%d}", c.PageNumber, c.Type, c.Count)
}

// Node wraps one decoded page. Parent is nil for the root.
type Node struct {
	Cell     *Cell
	Children []*Node
	Parent   *Node
}

// NewNode creates a detached node for a cell.
func NewNode(cell *Cell) *Node {
	return &Node{Cell: cell}
}

// AddChild appends child and sets its parent.
func (n *Node) AddChild(child *Node) {
	child.Parent = n
	n.Children = append(n.Children, child)
}

// IsRoot reports whether the node has no parent.
func (n *Node) IsRoot() bool {
	return n.Parent == nil
}

// Depth returns the number of ancestors of the node.
func (n *Node) Depth() int {
	d := 0
	for p := n.Parent; p != nil; p = p.Parent {
		d++
	}
	return d
}

// Equal reports whether two subtrees have the same shape and equal cells at
// every position.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	type pair struct{ a, b *Node }
	stack := []pair{{a, b}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !p.a.Cell.Equal(p.b.Cell) || len(p.a.Children) != len(p.b.Children) {
			return false
		}
		for i := range p.a.Children {
			stack = append(stack, pair{p.a.Children[i], p.b.Children[i]})
		}
	}
	return true
}

// Tree is a decoded B-tree hierarchy. Root is nil until a parse succeeds.
type Tree struct {
	Root *Node
}

// Size returns the number of nodes in the tree.
func (t *Tree) Size() int {
	n := 0
	t.Walk(func(*Node, int) bool {
		n++
		return true
	})
	return n
}

// Walk visits nodes depth-first in pre-order. Returning false from fn stops
// the walk.
func (t *Tree) Walk(fn func(n *Node, depth int) bool) {
	if t == nil || t.Root == nil {
		return
	}
	type item struct {
		n     *Node
		depth int
	}
	stack := []item{{t.Root, 0}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(it.n, it.depth) {
			return
		}
		for i := len(it.n.Children) - 1; i >= 0; i-- {
			stack = append(stack, item{it.n.Children[i], it.depth + 1})
		}
	}
}

// Find returns the first node, depth-first, whose cell equals cell.
func (t *Tree) Find(cell *Cell) *Node {
	var found *Node
	t.Walk(func(n *Node, _ int) bool {
		if n.Cell.Equal(cell) {
			found = n
			return false
		}
		return true
	})
	return found
}

// PostOrder flattens the tree into cells, every node after all of its children.
func (t *Tree) PostOrder() []*Cell {
	if t == nil || t.Root == nil {
		return nil
	}
	var out []*Cell
	type item struct {
		n    *Node
		next int
	}
	stack := []item{{n: t.Root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.n.Children) {
			child := top.n.Children[top.next]
			top.next++
			stack = append(stack, item{n: child})
			continue
		}
		out = append(out, top.n.Cell)
		stack = stack[:len(stack)-1]
	}
	return out
}
