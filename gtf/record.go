package gtf

// Strand is the strand column of a gene-structure record.
type Strand int8

const (
	StrandPlus  Strand = 0
	StrandMinus Strand = 1
)

// recognizedTypes is the feature-type vocabulary a record's type column
// must belong to, independent of lite mode; anything else is an unknown
// feature type and is dropped with a warning. liteTypes further restricts
// to the subset lite mode keeps.
var recognizedTypes = map[string]bool{
	"gene": true, "transcript": true, "exon": true, "CDS": true,
	"5UTR": true, "3UTR": true, "start_codon": true, "stop_codon": true,
}

var liteTypes = map[string]bool{
	"gene": true, "transcript": true, "exon": true, "CDS": true,
	"5UTR": true, "3UTR": true,
}

// Record is one node of the contig/gene/transcript/sub-feature tree: a
// gene record's Children are transcripts, a transcript record's Children
// are exons/CDS/UTRs, and leaf records have no children.
type Record struct {
	Seqname int32
	Source  int32
	Type    string
	Start   int
	End     int
	Strand  Strand

	GeneID       int32
	GeneName     int32
	TranscriptID int32 // -1 on gene records

	Attributes map[string]string // nil unless built in non-lite mode

	Children []*Record
}

// arena-free: parent/child links are plain pointers, since the whole
// annotation is built once and then read-only for the lifetime of a run.
