package btree

import (
	"context"
	"log/slog"

	dberrors "github.com/FocuswithJustin/dbwatch/core/errors"
	"github.com/FocuswithJustin/dbwatch/core/sqlite/internal/format"
)

// SchemaRootPage is the root of the schema table, always page 1.
const SchemaRootPage = 1

// Builder decodes a page hierarchy into a Tree.
type Builder struct {
	src    PageSource
	meta   format.Metadata
	logger *slog.Logger
}

// NewBuilder creates a Builder over src. A nil logger discards output.
func NewBuilder(src PageSource, meta format.Metadata, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{src: src, meta: meta, logger: logger}
}

// Build decodes the tree rooted at root. Pages are processed from an explicit
// work list; ctx is checked between pages. Tables and indexes named by schema
// rows hang below the schema leaf that defines them. Any failure discards the
// partial tree.
func (b *Builder) Build(ctx context.Context, root uint32) (*Tree, error) {
	dec := &decoder{src: b.src, meta: b.meta}

	type work struct {
		node   *Node
		page   uint32
		schema bool
	}

	rootNode := &Node{}
	stack := []work{{node: rootNode, page: root, schema: root == SchemaRootPage}}
	visited := make(map[uint32]uint32) // page -> page that referenced it

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		w := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		// Pages past the end are left to the source, which tells a short
		// file from a bad pointer.
		if w.page == 0 {
			return nil, dberrors.Corrupt("build tree", w.page, "page numbers start at 1")
		}
		if from, seen := visited[w.page]; seen {
			return nil, dberrors.Corrupt("build tree", w.page, "page already referenced from page %d", from)
		}
		var parentPage uint32
		if w.node.Parent != nil {
			parentPage = w.node.Parent.Cell.PageNumber
		}
		visited[w.page] = parentPage

		cell, children, err := dec.decodePage(w.page, w.schema)
		if err != nil {
			return nil, err
		}
		w.node.Cell = cell
		if cell.Type == CellUnknown {
			b.logger.Warn("unknown page type", "page", w.page, "type", PageTypeName(cell.PageType))
		}

		// Children are attached now so traversal order is fixed regardless
		// of the order the work list decodes them in.
		for _, ref := range children {
			child := &Node{}
			w.node.AddChild(child)
			stack = append(stack, work{node: child, page: ref.page, schema: ref.schema})
		}
	}

	return &Tree{Root: rootNode}, nil
}
