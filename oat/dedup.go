package oat

// dedupTable maps a compiler-assigned BlobID to the offset it was first
// planned at. Keys are identity handles, never blob contents: the compiler
// is the sole source of truth for which artifacts are the same artifact.
type dedupTable struct {
	offsets map[BlobID]uint32
}

func newDedupTable() *dedupTable {
	return &dedupTable{offsets: make(map[BlobID]uint32)}
}

// Intern records tentative as the offset for id if id has not been seen
// before, returning (tentative, true). If id was already interned, it
// returns the previously recorded offset and false: this artifact is a
// duplicate and must not be re-emitted.
func (t *dedupTable) Intern(id BlobID, tentative uint32) (offset uint32, isNew bool) {
	if off, ok := t.offsets[id]; ok {
		return off, false
	}
	t.offsets[id] = tentative
	return tentative, true
}
