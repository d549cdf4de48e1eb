// Package dnapool implements the two pool shapes spec'd for per-(feature,
// cell) molecule bookkeeping (design notes §9, "Dual-purpose DNA pool"):
//
//   - DedupSet is a deduplicating multiset of short DNA strings (UMIs). When
//     a sequence is pure upper-case ACGT, it is folded into a 4-bit-per-base
//     packed key using the repo's own biosimd.ASCIIToSeq8 + PackSeq, the
//     same SIMD-friendly packing the teacher uses for sequence data
//     elsewhere; sequences containing other symbols (N, lower case, ...)
//     fall back to a raw string key, since ASCIIToSeq8 maps every non-ACGT
//     byte to the same nibble and would otherwise collide distinct UMIs.
//     The choice is never observable from Size()/Push().
//
//   - IndexMap is an integer-keyed map with an opaque payload per entry,
//     used as the feature -> {cell entry} table so that cell ids (not cell
//     barcode strings) key the per-feature cell pool.
package dnapool

import "github.com/grailbio/cellcount/biosimd"

// DedupSet stores each distinct string pushed into it exactly once.
type DedupSet struct {
	packed map[string]struct{}
}

// NewDedupSet returns an empty DedupSet.
func NewDedupSet() *DedupSet {
	return &DedupSet{packed: make(map[string]struct{})}
}

// packKey folds s into its dedup key: a 4-bit-per-base packed encoding
// prefixed with the sequence length (four big-endian bytes) when every
// base is a capital A/C/G/T, or "raw:" followed by s otherwise (including
// the empty string). ASCIIToSeq8 maps A/C/G/T to the distinct nibbles
// 1/2/4/8 and everything else to 15, so the packed path is only lossless
// (and therefore only used) when IsNonACGTPresent reports false.
func packKey(s string) string {
	if len(s) == 0 || biosimd.IsNonACGTPresent([]byte(s)) {
		return "raw:" + s
	}
	nibbles := make([]byte, len(s))
	biosimd.ASCIIToSeq8(nibbles, []byte(s))
	dst := make([]byte, (len(s)+1)/2)
	biosimd.PackSeq(dst, nibbles)
	buf := make([]byte, 0, len(dst)+5)
	buf = append(buf, byte(len(s)>>24), byte(len(s)>>16), byte(len(s)>>8), byte(len(s)))
	buf = append(buf, dst...)
	return string(buf)
}

// Push inserts s if absent. It reports whether s was not previously present.
func (p *DedupSet) Push(s string) bool {
	key := packKey(s)
	if _, ok := p.packed[key]; ok {
		return false
	}
	p.packed[key] = struct{}{}
	return true
}

// Size reports the number of distinct strings pushed so far.
func (p *DedupSet) Size() int {
	return len(p.packed)
}

// Entry is one slot of an IndexMap: the original key plus an opaque
// payload, set by the caller after Push returns a fresh entry.
type Entry struct {
	Idx     int32
	Payload interface{}
}

// IndexMap is an int32-keyed map supporting idempotent Push and Query,
// used to hold one Entry per cell id within a feature's cell pool. Push
// order is retained (mirroring the array-backed push semantics of the
// original dna_pool this type replaces) so that Range, and therefore
// serialized matrix output, is deterministic run over run.
type IndexMap struct {
	entries map[int32]*Entry
	order   []*Entry
}

// NewIndexMap returns an empty IndexMap.
func NewIndexMap() *IndexMap {
	return &IndexMap{entries: make(map[int32]*Entry)}
}

// Query returns the entry for idx, or (nil, false) if none was pushed yet.
func (m *IndexMap) Query(idx int32) (*Entry, bool) {
	e, ok := m.entries[idx]
	return e, ok
}

// Push returns the existing entry for idx, or creates and returns a fresh
// one (with a nil Payload the caller is expected to fill in).
func (m *IndexMap) Push(idx int32) *Entry {
	if e, ok := m.entries[idx]; ok {
		return e
	}
	e := &Entry{Idx: idx}
	m.entries[idx] = e
	m.order = append(m.order, e)
	return e
}

// Size reports the number of distinct keys ever pushed.
func (m *IndexMap) Size() int {
	return len(m.entries)
}

// Range calls f for every entry in push order.
func (m *IndexMap) Range(f func(e *Entry)) {
	for _, e := range m.order {
		f(e)
	}
}
