package countmatrix

import (
	"testing"

	"github.com/grailbio/cellcount/dnapool"
)

// fakeRecord is a minimal Record for exercising the filter pipeline
// without a real BAM decoder, standing in for bamrec.Wrap in tests.
type fakeRecord struct {
	tid   int
	mapq  byte
	flag  SAMFlag
	aux   map[[2]byte][]byte
}

func newFakeRecord() *fakeRecord {
	return &fakeRecord{tid: 0, mapq: 60, aux: make(map[[2]byte][]byte)}
}

func (r *fakeRecord) TID() int        { return r.tid }
func (r *fakeRecord) MapQ() byte      { return r.mapq }
func (r *fakeRecord) Flag() SAMFlag   { return r.flag }
func (r *fakeRecord) Aux(tag [2]byte) ([]byte, bool) {
	v, ok := r.aux[tag]
	return v, ok
}

func (r *fakeRecord) withCell(cb string) *fakeRecord {
	r.aux[[2]byte{'C', 'B'}] = append([]byte{'Z'}, cb...)
	return r
}

func (r *fakeRecord) withFeature(gn string) *fakeRecord {
	r.aux[[2]byte{'G', 'N'}] = append([]byte{'Z'}, gn...)
	return r
}

func (r *fakeRecord) withUMI(umi string) *fakeRecord {
	r.aux[[2]byte{'U', 'B'}] = append([]byte{'Z'}, umi...)
	return r
}

func (r *fakeRecord) withRegion(code byte) *fakeRecord {
	r.aux[[2]byte{'R', 'E'}] = []byte{'A', code}
	return r
}

var (
	cellTag    = [2]byte{'C', 'B'}
	featureTag = [2]byte{'G', 'N'}
	umiTag     = [2]byte{'U', 'B'}
	regionTag  = [2]byte{'R', 'E'}
)

func baseConfig() Config {
	return Config{CellTag: cellTag, FeatureTag: featureTag}
}

// TestBasicCount is scenario S1: one feature, two cells, no UMI.
func TestBasicCount(t *testing.T) {
	e, err := NewEngine(baseConfig())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	for i := 0; i < 3; i++ {
		e.Add(newFakeRecord().withCell("A").withFeature("G1"), "")
	}
	e.Add(newFakeRecord().withCell("B").withFeature("G1"), "")
	e.Finalize()

	cc := mustCellCount(t, e, "G1", "A")
	if cc.Count != 3 {
		t.Fatalf("count(G1,A) = %d, want 3", cc.Count)
	}
	cc = mustCellCount(t, e, "G1", "B")
	if cc.Count != 1 {
		t.Fatalf("count(G1,B) = %d, want 1", cc.Count)
	}
	if e.NTotal != 4 {
		t.Fatalf("NTotal = %d, want 4", e.NTotal)
	}
}

// TestUMIDedup is scenario S2.
func TestUMIDedup(t *testing.T) {
	cfg := baseConfig()
	cfg.UMITag = umiTag
	e, _ := NewEngine(cfg)
	e.Add(newFakeRecord().withCell("A").withFeature("G1").withUMI("AAA"), "")
	e.Add(newFakeRecord().withCell("A").withFeature("G1").withUMI("AAA"), "")
	e.Add(newFakeRecord().withCell("A").withFeature("G1").withUMI("TTT"), "")
	e.Finalize()

	cc := mustCellCount(t, e, "G1", "A")
	if cc.Count != 2 {
		t.Fatalf("count(G1,A) = %d, want 2", cc.Count)
	}
}

// TestOneHit is scenario S3.
func TestOneHit(t *testing.T) {
	cfg := baseConfig()
	e, _ := NewEngine(cfg)
	e.Add(newFakeRecord().withCell("A").withFeature("G1;G2"), "")
	e.Finalize()
	if mustCellCount(t, e, "G1", "A").Count != 1 {
		t.Fatalf("expected (G1,A)=1 with one_hit=false")
	}
	if mustCellCount(t, e, "G2", "A").Count != 1 {
		t.Fatalf("expected (G2,A)=1 with one_hit=false")
	}

	cfg.OneHit = true
	e2, _ := NewEngine(cfg)
	e2.Add(newFakeRecord().withCell("A").withFeature("G1;G2"), "")
	e2.Finalize()
	if e2.NTotal != 0 {
		t.Fatalf("one_hit=true should drop multi-feature record entirely, NTotal=%d", e2.NTotal)
	}
}

// TestVelocitySplit is scenario S4.
func TestVelocitySplit(t *testing.T) {
	cfg := baseConfig()
	cfg.UMITag = umiTag
	cfg.RegionTypeTag = regionTag
	cfg.Velocity = true
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e.Add(newFakeRecord().withCell("A").withFeature("G1").withUMI("AAA").withRegion('E'), "")
	e.Add(newFakeRecord().withCell("A").withFeature("G1").withUMI("CCC").withRegion('N'), "")
	e.Finalize()

	cc := mustCellCount(t, e, "G1", "A")
	if cc.Count != 2 {
		t.Fatalf("count = %d, want 2", cc.Count)
	}
	if cc.Unspliced != 1 {
		t.Fatalf("unspliced = %d, want 1", cc.Unspliced)
	}
	if cc.Count-cc.Unspliced != 1 {
		t.Fatalf("spliced = %d, want 1", cc.Count-cc.Unspliced)
	}
}

// TestWhitelistFilter is scenario S5.
func TestWhitelistFilter(t *testing.T) {
	cfg := baseConfig()
	cfg.UseWhitelist = true
	e, _ := NewEngine(cfg)
	e.Barcodes.Push("A") // pre-load whitelist

	e.Add(newFakeRecord().withCell("A").withFeature("G1"), "")
	e.Add(newFakeRecord().withCell("B").withFeature("G1"), "")
	e.Add(newFakeRecord().withCell("C").withFeature("G1"), "")
	e.Finalize()

	if e.Barcodes.Size() != 1 {
		t.Fatalf("barcodes size = %d, want 1 (whitelist must not learn new barcodes)", e.Barcodes.Size())
	}
	if e.NTotal != 1 {
		t.Fatalf("NTotal = %d, want 1", e.NTotal)
	}
}

func TestBarcodeCorrection(t *testing.T) {
	cfg := baseConfig()
	cfg.UseWhitelist = true
	cfg.MaxBarcodeEdits = 1
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e.Barcodes.Push("AAAA")
	e.Barcodes.Push("CCCC")

	// one edit from AAAA, four edits from CCCC: corrects to AAAA.
	e.Add(newFakeRecord().withCell("AAAT").withFeature("G1"), "")
	// two edits from both AAAA and CCCC, beyond MaxBarcodeEdits: dropped.
	e.Add(newFakeRecord().withCell("AACC").withFeature("G1"), "")
	// different length: never a correction candidate, dropped.
	e.Add(newFakeRecord().withCell("AAA").withFeature("G1"), "")
	e.Finalize()

	if mustCellCount(t, e, "G1", "AAAA").Count != 1 {
		t.Fatalf("expected AAAT to correct to whitelisted AAAA")
	}
	if e.Barcodes.Size() != 2 {
		t.Fatalf("barcodes size = %d, want 2 (correction must not learn new barcodes)", e.Barcodes.Size())
	}
	if e.NTotal != 1 {
		t.Fatalf("NTotal = %d, want 1 (only the unambiguous correction should survive)", e.NTotal)
	}
}

func TestMapQAndDupFilters(t *testing.T) {
	cfg := baseConfig()
	cfg.MapQThreshold = 30
	e, _ := NewEngine(cfg)

	low := newFakeRecord().withCell("A").withFeature("G1")
	low.mapq = 10
	e.Add(low, "")

	dup := newFakeRecord().withCell("A").withFeature("G1")
	dup.flag = FlagDup
	e.Add(dup, "")

	unmapped := newFakeRecord().withCell("A").withFeature("G1")
	unmapped.flag = FlagUnmapped
	e.Add(unmapped, "")

	e.Finalize()
	if e.NTotal != 0 {
		t.Fatalf("NTotal = %d, want 0 (all three records should be filtered)", e.NTotal)
	}
}

func TestFileBarcodeAlias(t *testing.T) {
	cfg := Config{FeatureTag: featureTag, FileBarcode: true}
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e.Add(newFakeRecord().withFeature("G1"), "sample-1")
	e.Finalize()
	if mustCellCount(t, e, "G1", "sample-1").Count != 1 {
		t.Fatalf("file-alias barcode path failed")
	}
}

func TestValidateRejectsMissingFeatureTag(t *testing.T) {
	if _, err := NewEngine(Config{CellTag: cellTag}); err == nil {
		t.Fatalf("expected validation error for missing feature_tag")
	}
}

func TestValidateRejectsNoBarcodeSource(t *testing.T) {
	if _, err := NewEngine(Config{FeatureTag: featureTag}); err == nil {
		t.Fatalf("expected validation error when neither cell_tag nor file_barcode is set")
	}
}

func mustCellCount(t *testing.T, e *Engine, feature, barcode string) *CellCount {
	t.Helper()
	fid := e.Features.Query(feature)
	if fid == -1 {
		t.Fatalf("feature %q not found", feature)
	}
	cellID := e.Barcodes.Query(barcode)
	if cellID == -1 {
		t.Fatalf("barcode %q not found", barcode)
	}
	pool, _ := e.Features.QueryValue(fid).(*dnapool.IndexMap)
	if pool == nil {
		t.Fatalf("feature %q has no cell pool", feature)
	}
	entry, ok := pool.Query(cellID)
	if !ok {
		t.Fatalf("(%s,%s) has no cell entry", feature, barcode)
	}
	cc, ok := entry.Payload.(*CellCount)
	if !ok {
		t.Fatalf("(%s,%s) entry payload is not a *CellCount", feature, barcode)
	}
	return cc
}
