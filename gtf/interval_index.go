package gtf

import "sort"

// intervalIndex answers overlap queries against a fixed set of gene
// records on one contig. Genes are sorted by (start, end). query
// binary-searches for the last gene starting at or before the query end,
// then scans forward from the first gene, stopping early only once the
// running suffix-max of end shows that no remaining gene reaches the
// query start. The scan is linear in the number of genes starting at or
// before the query end; it is not O(log n + k).
type intervalIndex struct {
	genes      []*Record
	suffixEnds []int // suffixEnds[i] = max(genes[i:].End)
}

func buildIntervalIndex(genes []*Record) *intervalIndex {
	idx := &intervalIndex{genes: genes, suffixEnds: make([]int, len(genes))}
	maxEnd := 0
	for i := len(genes) - 1; i >= 0; i-- {
		if genes[i].End > maxEnd {
			maxEnd = genes[i].End
		}
		idx.suffixEnds[i] = maxEnd
	}
	return idx
}

// query returns every gene overlapping [start, end], in (start, end)
// order, matching the pre-sorted order of idx.genes.
func (idx *intervalIndex) query(start, end int) []*Record {
	if len(idx.genes) == 0 {
		return nil
	}
	// hi = index of the last gene with Start <= end.
	hi := sort.Search(len(idx.genes), func(i int) bool { return idx.genes[i].Start > end }) - 1
	if hi < 0 {
		return nil
	}
	var out []*Record
	for i := 0; i <= hi; i++ {
		if idx.suffixEnds[i] < start {
			break
		}
		if idx.genes[i].End >= start {
			out = append(out, idx.genes[i])
		}
	}
	return out
}
