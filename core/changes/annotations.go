package changes

// WholePage is the slot of a mark that covers an entire page.
const WholePage = -1

// Mark identifies a changed slot, or a whole page when Slot is WholePage.
type Mark struct {
	Page uint32
	Slot int
}

// MarkSet is a set of marks.
type MarkSet map[Mark]struct{}

func (s MarkSet) add(page uint32, slot int) {
	s[Mark{Page: page, Slot: slot}] = struct{}{}
}

// Has reports whether the slot, or its whole page, is marked.
func (s MarkSet) Has(page uint32, slot int) bool {
	if _, ok := s[Mark{Page: page, Slot: WholePage}]; ok {
		return true
	}
	_, ok := s[Mark{Page: page, Slot: slot}]
	return ok
}

// Annotations records which cells of each snapshot a detection marked as
// changed. Snapshots themselves are never modified.
type Annotations struct {
	New MarkSet // marks on the newer snapshot
	Old MarkSet // marks on the older snapshot
}

func newAnnotations() Annotations {
	return Annotations{New: MarkSet{}, Old: MarkSet{}}
}

// Empty reports whether nothing was marked.
func (a Annotations) Empty() bool {
	return len(a.New) == 0 && len(a.Old) == 0
}
