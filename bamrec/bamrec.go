// Package bamrec adapts *github.com/biogo/hts/sam.Record (imported
// directly from upstream biogo/hts) to countmatrix.Record, so the
// counting engine never needs to import a BAM/SAM codec itself.
package bamrec

import (
	"github.com/biogo/hts/sam"
	"github.com/grailbio/cellcount/countmatrix"
)

// record is the unexported adapter type returned by Wrap.
type record struct {
	r *sam.Record
}

// Wrap returns a countmatrix.Record backed by r.
func Wrap(r *sam.Record) countmatrix.Record {
	return record{r: r}
}

func (rec record) TID() int {
	if rec.r.Ref == nil {
		return -1
	}
	return rec.r.Ref.ID()
}

func (rec record) MapQ() byte {
	return rec.r.MapQ
}

func (rec record) Flag() countmatrix.SAMFlag {
	return countmatrix.SAMFlag(rec.r.Flags)
}

// Aux looks up tag among the record's aux fields and, if present, returns
// the type-code byte plus value bytes (sam.Aux's on-wire layout is
// tag[0:2] + type[2] + value[3:]; this adapter strips the 2-byte tag
// prefix to match countmatrix.Record.Aux's contract).
func (rec record) Aux(tag [2]byte) ([]byte, bool) {
	aux := rec.r.AuxFields.Get(sam.Tag(tag))
	if aux == nil {
		return nil, false
	}
	return []byte(aux)[2:], true
}
