package dnapool

import "testing"

func TestDedupSetRepushIsNoop(t *testing.T) {
	p := NewDedupSet()
	if fresh := p.Push("AAA"); !fresh {
		t.Fatalf("first push of AAA should be fresh")
	}
	if fresh := p.Push("AAA"); fresh {
		t.Fatalf("repush of AAA should not be fresh")
	}
	if fresh := p.Push("TTT"); !fresh {
		t.Fatalf("first push of TTT should be fresh")
	}
	if p.Size() != 2 {
		t.Fatalf("size = %d, want 2", p.Size())
	}
}

func TestDedupSetHandlesAmbiguityCodes(t *testing.T) {
	p := NewDedupSet()
	p.Push("ACGTN")
	p.Push("ACGTN")
	if p.Size() != 1 {
		t.Fatalf("size = %d, want 1", p.Size())
	}
	p.Push("acgtn")
	if p.Size() != 2 {
		t.Fatalf("lower-case sequence should be a distinct key, size = %d", p.Size())
	}
}

func TestDedupSetLengthDisambiguation(t *testing.T) {
	p := NewDedupSet()
	p.Push("AAAA")
	p.Push("AAAAAAAA")
	if p.Size() != 2 {
		t.Fatalf("distinct lengths collapsed into one entry, size = %d", p.Size())
	}
}

func TestIndexMapPushOrder(t *testing.T) {
	m := NewIndexMap()
	m.Push(5).Payload = "five"
	m.Push(2).Payload = "two"
	m.Push(5).Payload = "five-again" // re-push must return the same entry
	if m.Size() != 2 {
		t.Fatalf("size = %d, want 2", m.Size())
	}
	var seen []int32
	m.Range(func(e *Entry) { seen = append(seen, e.Idx) })
	if len(seen) != 2 || seen[0] != 5 || seen[1] != 2 {
		t.Fatalf("range order = %v, want [5 2]", seen)
	}
	e, ok := m.Query(5)
	if !ok || e.Payload != "five-again" {
		t.Fatalf("query(5) = %+v, ok=%v", e, ok)
	}
}

func TestIndexMapQueryMissing(t *testing.T) {
	m := NewIndexMap()
	if _, ok := m.Query(1); ok {
		t.Fatalf("query of unpushed key should miss")
	}
}
