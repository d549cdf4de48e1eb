// Package gtf builds the hierarchical contig/gene/transcript/sub-feature
// model, queried for gene overlaps and gene_id -> gene_name lookups, by
// streaming a GTF/GFF annotation file. It does not assign alignments to
// features.
//
// The shape mirrors struct gtf_spec / struct gtf / gtf_push in the original
// gene-structure reader: a handful of interners for seqname, source,
// gene_id, gene_name and transcript_id, plus a per-contig slice of gene
// records built incrementally as lines stream in, sorted and indexed once
// the whole file has been consumed.
package gtf

import (
	"bufio"
	"compress/gzip"
	"context"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/cellcount/dict"
)

// Contig holds the top-level gene records for one reference sequence,
// sorted and indexed for overlap queries once Load returns.
type Contig struct {
	Name  string
	Genes []*Record
	index *intervalIndex
}

// Annotation is the parsed, built and indexed gene-structure model for a
// whole GTF/GFF file.
type Annotation struct {
	SeqNames      *dict.Dict
	Sources       *dict.Dict
	GeneIDs       *dict.Dict
	GeneNames     *dict.Dict
	TranscriptIDs *dict.Dict
	AttrKeys      *dict.Dict

	contigs     map[string]*Contig
	contigOrder []string

	geneByID map[int32]*Record
	txByID   map[int32]*Record
}

// LiteMode, when set, restricts accepted feature types to the six lite
// types and discards attributes outside gene_id/gene_name/transcript_id.
type Options struct {
	LiteMode bool
}

func newAnnotation() *Annotation {
	return &Annotation{
		SeqNames:      dict.New(),
		Sources:       dict.New(),
		GeneIDs:       dict.New(),
		GeneNames:     dict.New(),
		TranscriptIDs: dict.New(),
		AttrKeys:      dict.New(),
		contigs:       make(map[string]*Contig),
		geneByID:      make(map[int32]*Record),
		txByID:        make(map[int32]*Record),
	}
}

// Load parses the GTF/GFF file at path (transparently gzip-decompressed if
// it carries a gzip header) and returns the built, sorted and indexed
// Annotation. It returns (nil, nil) if the file contains zero contigs,
// mirroring gtf_read's "empty annotation" convention.
func Load(ctx context.Context, path string, opts Options) (*Annotation, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open", path)
	}
	defer func() { _ = f.Close(ctx) }()

	r, err := maybeGunzip(f.Reader(ctx))
	if err != nil {
		return nil, errors.E(err, "open gzip reader", path)
	}

	a := newAnnotation()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			log.Printf("gtf: line %d is empty, skipping", lineNo)
			continue
		}
		if line[0] == '#' {
			continue
		}
		if err := a.parseLine(line, lineNo, opts); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(err, "read", path)
	}

	if len(a.contigOrder) == 0 {
		return nil, nil
	}
	a.build()
	return a, nil
}

func maybeGunzip(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(head) == 2 && head[0] == 0x1f && head[1] == 0x8b {
		return gzip.NewReader(br)
	}
	return br, nil
}

// parseLine implements parse_str: split into 9 tab-separated fields,
// screen the feature type against the recognized (and, in lite mode,
// lite) vocabulary, tokenize the attribute column, fill in gene_id /
// gene_name cross-references, and push the resulting record into its
// contig via pushRecord.
func (a *Annotation) parseLine(line string, lineNo int, opts Options) error {
	fields := strings.Split(line, "\t")
	if len(fields) != 9 {
		return errors.Errorf("gtf: line %d: expected 9 fields, got %d", lineNo, len(fields))
	}

	featureType := fields[2]
	if !recognizedTypes[featureType] {
		log.Printf("gtf: line %d: unknown feature type %q, skipping", lineNo, featureType)
		return nil
	}
	if opts.LiteMode && !liteTypes[featureType] {
		return nil
	}

	start, err := strconv.Atoi(fields[3])
	if err != nil {
		return errors.Errorf("gtf: line %d: bad start %q", lineNo, fields[3])
	}
	end, err := strconv.Atoi(fields[4])
	if err != nil {
		return errors.Errorf("gtf: line %d: bad end %q", lineNo, fields[4])
	}

	rec := &Record{
		Seqname:      a.SeqNames.Push(fields[0]),
		Source:       a.Sources.Push(fields[1]),
		Type:         featureType,
		Start:        start,
		End:          end,
		Strand:       StrandPlus,
		GeneID:       -1,
		GeneName:     -1,
		TranscriptID: -1,
	}
	if fields[6] == "-" {
		rec.Strand = StrandMinus
	}

	ctg, ok := a.contigs[fields[0]]
	if !ok {
		ctg = &Contig{Name: fields[0]}
		a.contigs[fields[0]] = ctg
		a.contigOrder = append(a.contigOrder, fields[0])
	}

	for _, p := range tokenizeAttrs(fields[8]) {
		switch p.key {
		case "gene_id":
			rec.GeneID = a.GeneIDs.Push(p.val)
		case "gene_name", "gene":
			rec.GeneName = a.GeneNames.Push(p.val)
		case "transcript_id":
			rec.TranscriptID = a.TranscriptIDs.Push(p.val)
		default:
			if opts.LiteMode {
				continue
			}
			a.AttrKeys.Push(p.key)
			if rec.Attributes == nil {
				rec.Attributes = make(map[string]string)
			}
			rec.Attributes[p.key] = p.val
		}
	}

	if rec.GeneID == -1 && rec.GeneName == -1 {
		log.Printf("gtf: line %d: record has no gene_id and no gene_name, skipping", lineNo)
		return nil
	}
	if rec.GeneID == -1 {
		log.Printf("gtf: line %d: record has no gene_id, using gene_name instead", lineNo)
		rec.GeneID = a.GeneIDs.Push(a.GeneNames.Name(rec.GeneName))
	}
	if rec.GeneName == -1 {
		log.Printf("gtf: line %d: record has no gene_name, using gene_id instead", lineNo)
		rec.GeneName = a.GeneNames.Push(a.GeneIDs.Name(rec.GeneID))
	}

	return a.pushRecord(ctg, rec, lineNo)
}

// pushRecord implements gtf_push: find-or-create the gene record for
// rec.GeneID, find-or-create the transcript record for rec.TranscriptID
// within that gene, and either adopt rec as the gene/transcript record
// itself or append it as a child of the transcript.
func (a *Annotation) pushRecord(ctg *Contig, rec *Record, lineNo int) error {
	gene, ok := a.geneByID[rec.GeneID]
	if !ok {
		if rec.Type == "gene" {
			ctg.Genes = append(ctg.Genes, rec)
			a.geneByID[rec.GeneID] = rec
			return nil
		}
		gene = &Record{
			Type: "gene", Start: -1, End: -1,
			GeneID: rec.GeneID, GeneName: rec.GeneName, TranscriptID: -1,
			Seqname: rec.Seqname, Source: rec.Source, Strand: rec.Strand,
		}
		ctg.Genes = append(ctg.Genes, gene)
		a.geneByID[rec.GeneID] = gene
	} else if rec.Type == "gene" {
		log.Printf("gtf: line %d: duplicate gene record for %s, skipping", lineNo, a.GeneNames.Name(rec.GeneName))
		return nil
	}

	if rec.TranscriptID == -1 {
		return errors.Errorf("gtf: line %d: %s record has no transcript_id", lineNo, rec.Type)
	}

	if gene.GeneID == -1 {
		gene.GeneID = rec.GeneID
	}
	if gene.GeneName == -1 {
		gene.GeneName = rec.GeneName
	}

	tx, ok := a.txByID[rec.TranscriptID]
	if !ok {
		if rec.Type == "transcript" {
			gene.Children = append(gene.Children, rec)
			a.txByID[rec.TranscriptID] = rec
			return nil
		}
		tx = &Record{
			Type: "transcript", Start: -1, End: -1,
			GeneID: rec.GeneID, GeneName: rec.GeneName, TranscriptID: rec.TranscriptID,
			Seqname: rec.Seqname, Source: rec.Source, Strand: rec.Strand,
		}
		gene.Children = append(gene.Children, tx)
		a.txByID[rec.TranscriptID] = tx
	} else if rec.Type == "transcript" {
		log.Printf("gtf: line %d: duplicate transcript record for %s, skipping", lineNo, a.TranscriptIDs.Name(rec.TranscriptID))
		return nil
	}

	if tx.GeneID == -1 {
		tx.GeneID = rec.GeneID
	}
	if tx.GeneName == -1 {
		tx.GeneName = rec.GeneName
	}
	if tx.TranscriptID == -1 {
		tx.TranscriptID = rec.TranscriptID
	}

	tx.Children = append(tx.Children, rec)
	return nil
}

// build sorts every gene's descendants by (seqname, start, end),
// propagates start/end up from children (extending, never shrinking, a
// parent's own coordinates), and builds each contig's interval index.
func (a *Annotation) build() {
	for _, name := range a.contigOrder {
		ctg := a.contigs[name]
		for _, gene := range ctg.Genes {
			sortAndPropagate(gene)
		}
		sort.Slice(ctg.Genes, func(i, j int) bool {
			return less(ctg.Genes[i], ctg.Genes[j])
		})
		ctg.index = buildIntervalIndex(ctg.Genes)
	}
}

func sortAndPropagate(r *Record) {
	for _, c := range r.Children {
		sortAndPropagate(c)
	}
	if len(r.Children) == 0 {
		return
	}
	sort.Slice(r.Children, func(i, j int) bool { return less(r.Children[i], r.Children[j]) })
	for _, c := range r.Children {
		if r.Start < 0 || c.Start < r.Start {
			r.Start = c.Start
		}
		if c.End > r.End {
			r.End = c.End
		}
	}
}

func less(a, b *Record) bool {
	if a.Seqname != b.Seqname {
		return a.Seqname < b.Seqname
	}
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.End < b.End
}

// GeneIDToName returns a map from every gene's gene_id string to its
// gene_name string, built from the gene records collected during Load. It
// is the lookup a caller needs to relabel feature ids carried on
// alignment-record aux tags with a human-readable symbol.
func (a *Annotation) GeneIDToName() map[string]string {
	out := make(map[string]string, len(a.geneByID))
	for _, gene := range a.geneByID {
		out[a.GeneIDs.Name(gene.GeneID)] = a.GeneNames.Name(gene.GeneName)
	}
	return out
}

// Contig returns the contig named name, or nil if unknown.
func (a *Annotation) Contig(name string) *Contig {
	return a.contigs[name]
}

// Query returns every top-level gene record on contig name overlapping
// [start, end] (1-based inclusive), sorted by (start, end).
func (a *Annotation) Query(name string, start, end int) []*Record {
	ctg, ok := a.contigs[name]
	if !ok || end < start {
		return nil
	}
	return ctg.index.query(start, end)
}
