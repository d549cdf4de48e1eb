// Package dict implements an insertion-ordered, bidirectional string<->id
// table: the interner used throughout cellcount to turn cell barcodes,
// feature names, and gene-structure identifiers into dense integer ids.
//
// The design mirrors the geneName<->GeneID interning pattern in
// fusion.GeneDB.internGene: a map for lookup plus a parallel slice for
// reverse lookup, with ids assigned in insertion order starting at zero.
package dict

import (
	"bufio"
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
)

// Dict is a dense, insertion-ordered name<->id table with an optional
// per-id value slot. It is not safe for concurrent use; the counting engine
// and gene-structure loader are both single-threaded consumers.
type Dict struct {
	names     []string
	index     map[string]int32
	values    []interface{}
	hasValues bool
}

// New returns an empty Dict.
func New() *Dict {
	return &Dict{index: make(map[string]int32)}
}

// Push interns s, returning its id. Re-inserting a previously pushed string
// returns the same id (push is idempotent).
func (d *Dict) Push(s string) int32 {
	if id, ok := d.index[s]; ok {
		return id
	}
	id := int32(len(d.names))
	d.names = append(d.names, s)
	d.index[s] = id
	if d.hasValues {
		d.values = append(d.values, nil)
	}
	return id
}

// Query returns the id of s, or -1 if s has never been pushed.
func (d *Dict) Query(s string) int32 {
	if id, ok := d.index[s]; ok {
		return id
	}
	return -1
}

// Name returns the string interned at id. REQUIRES: 0 <= id < d.Size().
func (d *Dict) Name(id int32) string {
	return d.names[id]
}

// Size returns the number of distinct strings interned so far.
func (d *Dict) Size() int {
	return len(d.names)
}

// SetValueSlot enables the per-id value side-table. Must be called before
// any value is assigned; existing ids get a nil slot retroactively.
func (d *Dict) SetValueSlot() {
	if d.hasValues {
		return
	}
	d.hasValues = true
	d.values = make([]interface{}, len(d.names))
}

// AssignValue sets the value slot for id. REQUIRES: SetValueSlot was called.
func (d *Dict) AssignValue(id int32, v interface{}) {
	d.values[id] = v
}

// QueryValue returns the value slot for id, or nil if unset.
// REQUIRES: SetValueSlot was called.
func (d *Dict) QueryValue(id int32) interface{} {
	return d.values[id]
}

// Read bulk-loads a newline-delimited file, pushing one entry per non-empty
// line. It is used to pre-populate and freeze a barcode whitelist.
func (d *Dict) Read(ctx context.Context, path string) error {
	f, err := file.Open(ctx, path)
	if err != nil {
		return errors.E(err, "open", path)
	}
	defer func() { _ = f.Close(ctx) }()

	scanner := bufio.NewScanner(f.Reader(ctx))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		d.Push(line)
	}
	if err := scanner.Err(); err != nil {
		return errors.E(err, "read", path)
	}
	return nil
}
