// Package mex writes the counting engine's accumulated feature/cell
// counts out as Market Exchange Format (MEX) sparse-matrix files, or as a
// legacy dense TSV, per original_source/src/bam_count.c's write_outs.
package mex

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/cellcount/countmatrix"
	"github.com/grailbio/cellcount/dnapool"
	gzip "github.com/klauspost/pgzip"
)

// Version is the generator version string stamped into the MatrixMarket
// header's comment line.
const Version = "0.1.0"

// flushThreshold mirrors bam_count.c's write_outs: the triplet buffer is
// flushed to the underlying gzip stream once it exceeds ~100MB, and once
// more at the end.
const flushThreshold = 100 * 1000 * 1000

// Options configures the MEX writer.
type Options struct {
	OutDir   string
	Prefix   string
	NThreads int // gzip worker concurrency; matches -@ in the original
	Velocity bool
}

func (o Options) path(name string) string {
	return filepath.Join(o.OutDir, o.Prefix+name)
}

// Write emits barcodes.tsv.gz, features.tsv.gz, and matrix.mtx.gz (or, in
// velocity mode, spliced.mtx.gz + unspliced.mtx.gz) for e, which must
// already have had Finalize called. It is a no-op (logged, per the
// no-op-warning error class) if e accumulated zero records.
func Write(e *countmatrix.Engine, opts Options) error {
	nFeatures := e.Features.Size()
	nBarcodes := e.Barcodes.Size()
	if e.NTotal == 0 {
		log.Printf("mex: no annotated record found, skipping output")
		return nil
	}
	if nBarcodes == 0 {
		return errors.E("mex: no barcode found")
	}
	if nFeatures == 0 {
		return errors.E("mex: no feature found")
	}

	if err := writeLines(opts.path("barcodes.tsv.gz"), opts.NThreads, nBarcodes, e.Barcodes.Name); err != nil {
		return err
	}
	if err := writeLines(opts.path("features.tsv.gz"), opts.NThreads, nFeatures, e.Features.Name); err != nil {
		return err
	}

	matrixName := "matrix.mtx.gz"
	if opts.Velocity {
		matrixName = "spliced.mtx.gz"
	}
	if err := writeMatrix(e, opts, matrixName, "unspliced.mtx.gz"); err != nil {
		return err
	}

	log.Printf("mex: wrote %s features, %s barcodes, %s total counts",
		humanize.Comma(int64(nFeatures)), humanize.Comma(int64(nBarcodes)), humanize.Comma(int64(e.NTotal)))
	return nil
}

// writeLines writes n newline-terminated names (barcodes or features, in
// their interned insertion order) to a gzipped file.
func writeLines(path string, nThreads, n int, name func(int32) string) error {
	f, gz, err := createGzip(path, nThreads)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		buf.WriteString(name(int32(i)))
		buf.WriteByte('\n')
	}
	if _, err := gz.Write(buf.Bytes()); err != nil {
		return errors.E(err, "write", path)
	}
	if err := gz.Close(); err != nil {
		return errors.E(err, "close", path)
	}
	return nil
}

// writeMatrix streams the MatrixMarket triplet body for every
// (feature, cell) entry with a positive count. In velocity mode, spliced
// counts go to matrixName and unspliced counts (when positive) go to a
// second file unsplicedName; non-velocity mode writes only matrixName.
//
// The header's third dimension field, conventionally "nnz" in
// MatrixMarket, is instead the SUM of emitted counts (n_record1 /
// n_record2 in the original) rather than a count of triplet lines. This
// reproduces original_source/src/bam_count.c's write_outs exactly and is
// required by the engine's invariant that the header total matches
// n_record.
func writeMatrix(e *countmatrix.Engine, opts Options, matrixName, unsplicedName string) error {
	mf, mgz, err := createGzip(opts.path(matrixName), opts.NThreads)
	if err != nil {
		return err
	}
	defer mf.Close()

	var uf *os.File
	var ugz *gzip.Writer
	if opts.Velocity {
		uf, ugz, err = createGzip(opts.path(unsplicedName), opts.NThreads)
		if err != nil {
			return err
		}
		defer uf.Close()
	}

	nFeatures := e.Features.Size()
	nBarcodes := e.Barcodes.Size()

	matrixTotal := e.NTotal
	if opts.Velocity {
		matrixTotal = e.NSpliced()
	}
	var mbuf, ubuf bytes.Buffer
	writeHeader(&mbuf, nFeatures, nBarcodes, matrixTotal)
	if opts.Velocity {
		writeHeader(&ubuf, nFeatures, nBarcodes, e.NUnspliced)
	}

	for fid := int32(0); fid < int32(nFeatures); fid++ {
		pool, _ := e.Features.QueryValue(fid).(*dnapool.IndexMap)
		if pool == nil {
			continue
		}
		pool.Range(func(entry *dnapool.Entry) {
			cc := entry.Payload.(*countmatrix.CellCount)
			if opts.Velocity {
				spliced := cc.Count - cc.Unspliced
				if spliced > 0 {
					fmt.Fprintf(&mbuf, "%d\t%d\t%d\n", fid+1, entry.Idx+1, spliced)
				}
				if cc.Unspliced > 0 {
					fmt.Fprintf(&ubuf, "%d\t%d\t%d\n", fid+1, entry.Idx+1, cc.Unspliced)
				}
			} else if cc.Count > 0 {
				fmt.Fprintf(&mbuf, "%d\t%d\t%d\n", fid+1, entry.Idx+1, cc.Count)
			}
		})

		if mbuf.Len() > flushThreshold {
			if err := flush(mgz, &mbuf, opts.path(matrixName)); err != nil {
				return err
			}
		}
		if opts.Velocity && ubuf.Len() > flushThreshold {
			if err := flush(ugz, &ubuf, opts.path(unsplicedName)); err != nil {
				return err
			}
		}
	}

	if err := flush(mgz, &mbuf, opts.path(matrixName)); err != nil {
		return err
	}
	if err := mgz.Close(); err != nil {
		return errors.E(err, "close", opts.path(matrixName))
	}
	if opts.Velocity {
		if err := flush(ugz, &ubuf, opts.path(unsplicedName)); err != nil {
			return err
		}
		if err := ugz.Close(); err != nil {
			return errors.E(err, "close", opts.path(unsplicedName))
		}
	}
	return nil
}

func writeHeader(buf *bytes.Buffer, nFeatures, nBarcodes int, total uint64) {
	buf.WriteString("%%MatrixMarket matrix coordinate integer general\n")
	buf.WriteString("% Generated by cellcount ")
	buf.WriteString(Version)
	buf.WriteByte('\n')
	fmt.Fprintf(buf, "%d\t%d\t%d\n", nFeatures, nBarcodes, total)
}

func flush(gz *gzip.Writer, buf *bytes.Buffer, path string) error {
	if buf.Len() == 0 {
		return nil
	}
	if _, err := gz.Write(buf.Bytes()); err != nil {
		return errors.E(err, "write", path)
	}
	buf.Reset()
	return nil
}

func createGzip(path string, nThreads int) (*os.File, *gzip.Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.E(err, "create", path)
	}
	gz := gzip.NewWriter(f)
	if nThreads > 1 {
		if err := gz.SetConcurrency(1<<20, nThreads); err != nil {
			_ = f.Close()
			return nil, nil, errors.E(err, "set gzip concurrency", path)
		}
	}
	return f, gz, nil
}

// WriteLegacyTSV emits the backward-compatible dense TSV: a header row
// "ID\t<barcode1>\t...\n" followed by one row per feature, with counts in
// barcode order. It zero-fills barcodes with no count for that feature,
// and allocates one temp row of n_barcodes counts at a time rather than a
// full dense matrix, matching write_outs's "temp" row reuse.
func WriteLegacyTSV(path string, e *countmatrix.Engine) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.E(err, "create", path)
	}
	defer f.Close()
	w := bufio.NewWriterSize(f, os.Getpagesize())

	nBarcodes := e.Barcodes.Size()
	w.WriteString("ID")
	for i := 0; i < nBarcodes; i++ {
		w.WriteByte('\t')
		w.WriteString(e.Barcodes.Name(int32(i)))
	}
	w.WriteByte('\n')

	row := make([]uint32, nBarcodes)
	for fid := int32(0); fid < int32(e.Features.Size()); fid++ {
		for i := range row {
			row[i] = 0
		}
		pool, _ := e.Features.QueryValue(fid).(*dnapool.IndexMap)
		if pool != nil {
			pool.Range(func(entry *dnapool.Entry) {
				cc := entry.Payload.(*countmatrix.CellCount)
				row[entry.Idx] = cc.Count
			})
		}
		w.WriteString(e.Features.Name(fid))
		for _, c := range row {
			fmt.Fprintf(w, "\t%d", c)
		}
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return errors.E(err, "write", path)
	}
	return nil
}
