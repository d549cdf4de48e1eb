package mex

import (
	"compress/gzip"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/cellcount/countmatrix"
)

type fakeRecord struct {
	tid  int
	flag countmatrix.SAMFlag
	aux  map[[2]byte][]byte
}

func newFakeRecord() *fakeRecord { return &fakeRecord{aux: make(map[[2]byte][]byte)} }

func (r *fakeRecord) TID() int                      { return r.tid }
func (r *fakeRecord) MapQ() byte                    { return 60 }
func (r *fakeRecord) Flag() countmatrix.SAMFlag     { return r.flag }
func (r *fakeRecord) Aux(tag [2]byte) ([]byte, bool) {
	v, ok := r.aux[tag]
	return v, ok
}

func (r *fakeRecord) withCell(cb string) *fakeRecord {
	r.aux[cellTag] = append([]byte{'Z'}, cb...)
	return r
}

func (r *fakeRecord) withFeature(gn string) *fakeRecord {
	r.aux[featureTag] = append([]byte{'Z'}, gn...)
	return r
}

func (r *fakeRecord) withRegion(code byte) *fakeRecord {
	r.aux[regionTag] = []byte{'A', code}
	return r
}

var (
	cellTag    = [2]byte{'C', 'B'}
	featureTag = [2]byte{'G', 'N'}
	regionTag  = [2]byte{'R', 'E'}
)

func readGzip(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader %s: %v", path, err)
	}
	defer gz.Close()
	data, err := ioutil.ReadAll(gz)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

// TestWriteBasic is scenario S1: one feature, two cells, no UMI.
func TestWriteBasic(t *testing.T) {
	cfg := countmatrix.Config{CellTag: cellTag, FeatureTag: featureTag}
	e, err := countmatrix.NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	for i := 0; i < 3; i++ {
		e.Add(newFakeRecord().withCell("A").withFeature("G1"), "")
	}
	e.Add(newFakeRecord().withCell("B").withFeature("G1"), "")
	e.Finalize()

	dir := t.TempDir()
	if err := Write(e, Options{OutDir: dir}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	barcodes := readGzip(t, filepath.Join(dir, "barcodes.tsv.gz"))
	if barcodes != "A\nB\n" {
		t.Fatalf("barcodes = %q, want %q", barcodes, "A\nB\n")
	}
	features := readGzip(t, filepath.Join(dir, "features.tsv.gz"))
	if features != "G1\n" {
		t.Fatalf("features = %q, want %q", features, "G1\n")
	}
	matrix := readGzip(t, filepath.Join(dir, "matrix.mtx.gz"))
	wantBody := "1\t1\t3\n1\t2\t1\n"
	if matrix[len(matrix)-len(wantBody):] != wantBody {
		t.Fatalf("matrix body = %q, want suffix %q", matrix, wantBody)
	}
}

// TestWriteVelocity is scenario S4.
func TestWriteVelocity(t *testing.T) {
	cfg := countmatrix.Config{CellTag: cellTag, FeatureTag: featureTag, RegionTypeTag: regionTag, Velocity: true}
	e, err := countmatrix.NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e.Add(newFakeRecord().withCell("A").withFeature("G1").withRegion('E'), "")
	e.Add(newFakeRecord().withCell("A").withFeature("G1").withRegion('N'), "")
	e.Finalize()

	dir := t.TempDir()
	if err := Write(e, Options{OutDir: dir, Velocity: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	spliced := readGzip(t, filepath.Join(dir, "spliced.mtx.gz"))
	wantSpliced := "1\t1\t1\n"
	if spliced[len(spliced)-len(wantSpliced):] != wantSpliced {
		t.Fatalf("spliced body = %q, want suffix %q", spliced, wantSpliced)
	}
	unspliced := readGzip(t, filepath.Join(dir, "unspliced.mtx.gz"))
	wantUnspliced := "1\t1\t1\n"
	if unspliced[len(unspliced)-len(wantUnspliced):] != wantUnspliced {
		t.Fatalf("unspliced body = %q, want suffix %q", unspliced, wantUnspliced)
	}
}

func TestWriteLegacyTSV(t *testing.T) {
	cfg := countmatrix.Config{CellTag: cellTag, FeatureTag: featureTag}
	e, _ := countmatrix.NewEngine(cfg)
	e.Add(newFakeRecord().withCell("A").withFeature("G1"), "")
	e.Add(newFakeRecord().withCell("B").withFeature("G1"), "")
	e.Add(newFakeRecord().withCell("B").withFeature("G1"), "")
	e.Finalize()

	path := filepath.Join(t.TempDir(), "legacy.tsv")
	if err := WriteLegacyTSV(path, e); err != nil {
		t.Fatalf("WriteLegacyTSV: %v", err)
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	want := "ID\tA\tB\nG1\t1\t2\n"
	if string(data) != want {
		t.Fatalf("legacy tsv = %q, want %q", string(data), want)
	}
}

func TestWriteNoOpWhenEmpty(t *testing.T) {
	cfg := countmatrix.Config{CellTag: cellTag, FeatureTag: featureTag}
	e, _ := countmatrix.NewEngine(cfg)
	e.Finalize()

	dir := t.TempDir()
	if err := Write(e, Options{OutDir: dir}); err != nil {
		t.Fatalf("Write on empty engine should be a no-op, not an error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "matrix.mtx.gz")); !os.IsNotExist(err) {
		t.Fatalf("expected no output files written when no records were annotated")
	}
}
