package main

/*
cellcount builds a sparse feature x cell count matrix from a stream of
aligned sequencing records carrying per-read cell-barcode, feature and
(optionally) UMI and region-type auxiliary tags.

Usage: cellcount [OPTIONS] bam1 [bam2 ...]
*/

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/cellcount/bamrec"
	"github.com/grailbio/cellcount/countmatrix"
	"github.com/grailbio/cellcount/gtf"
	"github.com/grailbio/cellcount/mex"
)

var (
	cellTag       = flag.String("cell-tag", "CB", "Aux tag carrying the cell barcode; empty to disable (requires -file-barcode)")
	featureTag    = flag.String("feature-tag", "GN", "Aux tag carrying one or more ';'/','-separated feature ids; required")
	umiTag        = flag.String("umi-tag", "", "Aux tag carrying the UMI; if set, enables UMI dedup mode")
	regionTypeTag = flag.String("region-type-tag", "", "Aux tag carrying a single-character region classification")
	regionTypes   = flag.String("region-types", "", "Comma-separated whitelist of accepted region classes (exon,exonic,intron,exon_intron,antisense,ambiguous,intergenic); empty = accept all")
	mapqThreshold = flag.Int("mapq", 0, "Minimum mapping quality; records below are skipped")
	useDup        = flag.Bool("use-dup", false, "If set, records flagged as PCR/optical duplicates are kept instead of skipped")
	oneHit        = flag.Bool("one-hit", false, "If set, records whose feature field lists more than one feature are skipped")
	velocity      = flag.Bool("velocity", false, "If set, split counts into spliced/unspliced for RNA-velocity output; requires -region-type-tag")
	fileBarcode   = flag.Bool("file-barcode", false, "If -cell-tag is empty, use each input file's alias as its barcode")
	whitelist       = flag.String("whitelist", "", "Optional path to a newline-delimited cell-barcode whitelist; barcodes outside it are skipped instead of learned")
	maxBarcodeEdits = flag.Int("max-barcode-edits", 0, "If >0 and -whitelist is set, correct a whitelist-miss barcode to the single whitelisted barcode within this many edits")
	sampleList      = flag.String("sample-list", "", "Optional path to a TSV file of <bam path>\\t<alias> lines, one per input; overrides positional arguments")
	samInput        = flag.Bool("sam", false, "Treat inputs as SAM text instead of BAM")

	gtfPath  = flag.String("gtf", "", "Optional GTF/GFF annotation path; when set, logs how many counted feature ids resolve to a gene_name in the annotation (features.tsv.gz keeps the raw ids)")
	gtfLite  = flag.Bool("gtf-lite", true, "Restrict the GTF annotation to the lite feature vocabulary (gene, transcript, exon, CDS, 5UTR, 3UTR)")

	outDir   = flag.String("out", ".", "Output directory for barcodes.tsv.gz / features.tsv.gz / matrix.mtx.gz")
	prefix   = flag.String("prefix", "", "Output filename prefix")
	legacy   = flag.String("legacy-tsv", "", "Optional path to also write the dense legacy TSV matrix")
	nThreads = flag.Int("parallelism", 0, "gzip writer worker count; values below 2 keep the gzip writer's default concurrency")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] bam1 [bam2 ...]\n", os.Args[0])
	flag.PrintDefaults()
}

// tagOf converts a CLI tag flag ("" or a 2-character string) to the
// [2]byte sentinel countmatrix.Config expects; a malformed tag is a
// configuration error.
func tagOf(flagName, s string) ([2]byte, error) {
	if s == "" {
		return [2]byte{}, nil
	}
	if len(s) != 2 {
		return [2]byte{}, errors.Errorf("cellcount: -%s must be exactly two characters, got %q", flagName, s)
	}
	return [2]byte{s[0], s[1]}, nil
}

func parseRegionTypes(s string) (map[countmatrix.RegionType]bool, error) {
	if s == "" {
		return nil, nil
	}
	out := make(map[countmatrix.RegionType]bool)
	for _, name := range strings.Split(s, ",") {
		rt, ok := countmatrix.ParseRegionType(strings.TrimSpace(name))
		if !ok {
			return nil, errors.Errorf("cellcount: -region-types: unknown region class %q", name)
		}
		out[rt] = true
	}
	return out, nil
}

// inputFile is one (path, alias) pair to ingest.
type inputFile struct {
	path  string
	alias string
}

// loadSampleList reads <path>\t<alias> lines from path.
func loadSampleList(ctx context.Context, path string) ([]inputFile, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open", path)
	}
	defer func() { _ = f.Close(ctx) }()

	var files []inputFile
	scanner := bufio.NewScanner(f.Reader(ctx))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.SplitN(line, "\t", 2)
		in := inputFile{path: cols[0]}
		if len(cols) == 2 {
			in.alias = cols[1]
		}
		files = append(files, in)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(err, "read", path)
	}
	return files, nil
}

// recordReader is implemented by both biogo sam.Reader and biogo
// bam.Reader, mirroring bio-bam-sort's openInput abstraction.
type recordReader interface {
	Header() *sam.Header
	Read() (*sam.Record, error)
}

func openInput(ctx context.Context, path string) (recordReader, func(), error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, errors.E(err, "open", path)
	}
	closeFn := func() { _ = f.Close(ctx) }

	var reader recordReader
	if *samInput {
		reader, err = sam.NewReader(f.Reader(ctx))
	} else {
		reader, err = bam.NewReader(f.Reader(ctx), runtime.NumCPU())
	}
	if err != nil {
		closeFn()
		return nil, nil, errors.E(err, "open alignment stream", path)
	}
	return reader, closeFn, nil
}

// logGeneNameCoverage builds a gene_id -> gene_name map from annotation and
// reports how many of the engine's interned feature ids it could resolve a
// display name for; mex.Write always writes the raw feature ids as-is, so
// this is diagnostic only.
func logGeneNameCoverage(a *gtf.Annotation, e *countmatrix.Engine) {
	names := a.GeneIDToName()
	resolved := 0
	for i := 0; i < e.Features.Size(); i++ {
		if _, ok := names[e.Features.Name(int32(i))]; ok {
			resolved++
		}
	}
	log.Printf("cellcount: gtf annotation resolved gene names for %d/%d counted features", resolved, e.Features.Size())
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()
	flag.Parse()

	ctx := vcontext.Background()

	cellTagVal, err := tagOf("cell-tag", *cellTag)
	if err != nil {
		log.Fatalf("%v", err)
	}
	featureTagVal, err := tagOf("feature-tag", *featureTag)
	if err != nil {
		log.Fatalf("%v", err)
	}
	umiTagVal, err := tagOf("umi-tag", *umiTag)
	if err != nil {
		log.Fatalf("%v", err)
	}
	regionTypeTagVal, err := tagOf("region-type-tag", *regionTypeTag)
	if err != nil {
		log.Fatalf("%v", err)
	}
	regionTypesVal, err := parseRegionTypes(*regionTypes)
	if err != nil {
		log.Fatalf("%v", err)
	}

	cfg := countmatrix.Config{
		CellTag:         cellTagVal,
		FeatureTag:      featureTagVal,
		UMITag:          umiTagVal,
		RegionTypeTag:   regionTypeTagVal,
		FileBarcode:     *fileBarcode,
		RegionTypes:     regionTypesVal,
		MapQThreshold:   byte(*mapqThreshold),
		UseDup:          *useDup,
		OneHit:          *oneHit,
		Velocity:        *velocity,
		UseWhitelist:    *whitelist != "",
		MaxBarcodeEdits: *maxBarcodeEdits,
	}

	e, err := countmatrix.NewEngine(cfg)
	if err != nil {
		log.Fatalf("cellcount: %v", err)
	}

	if *whitelist != "" {
		if err := e.Barcodes.Read(ctx, *whitelist); err != nil {
			log.Fatalf("cellcount: loading whitelist: %v", err)
		}
		log.Printf("cellcount: loaded %d whitelisted barcodes", e.Barcodes.Size())
	}

	var annotation *gtf.Annotation
	if *gtfPath != "" {
		annotation, err = gtf.Load(ctx, *gtfPath, gtf.Options{LiteMode: *gtfLite})
		if err != nil {
			log.Fatalf("cellcount: loading gtf: %v", err)
		}
		if annotation == nil {
			log.Fatalf("cellcount: %s contains no parseable gene-structure records", *gtfPath)
		}
	}

	var files []inputFile
	if *sampleList != "" {
		files, err = loadSampleList(ctx, *sampleList)
		if err != nil {
			log.Fatalf("cellcount: %v", err)
		}
	} else {
		for _, path := range flag.Args() {
			files = append(files, inputFile{path: path, alias: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))})
		}
	}
	if len(files) == 0 {
		flag.Usage()
		log.Fatalf("cellcount: no input files; pass BAM paths or -sample-list")
	}

	var nRecords, nKept uint64
	for _, in := range files {
		reader, closeFn, err := openInput(ctx, in.path)
		if err != nil {
			log.Panicf("%v", err)
		}
		for {
			rec, err := reader.Read()
			if rec == nil {
				if err != nil && err != io.EOF {
					log.Printf("cellcount: %s: truncated input? %v", in.path, err)
				}
				break
			}
			nRecords++
			if e.Add(bamrec.Wrap(rec), in.alias) {
				nKept++
			}
		}
		closeFn()
		log.Printf("cellcount: %s (alias %q): done", in.path, in.alias)
	}
	e.Finalize()
	log.Printf("cellcount: read %d records, %d survived the filter pipeline", nRecords, nKept)

	if annotation != nil {
		logGeneNameCoverage(annotation, e)
	}

	if err := mex.Write(e, mex.Options{OutDir: *outDir, Prefix: *prefix, NThreads: *nThreads, Velocity: *velocity}); err != nil {
		log.Panicf("cellcount: writing matrix: %v", err)
	}
	if *legacy != "" {
		if err := mex.WriteLegacyTSV(*legacy, e); err != nil {
			log.Panicf("cellcount: writing legacy tsv: %v", err)
		}
	}
	log.Debug.Printf("exiting")
}
