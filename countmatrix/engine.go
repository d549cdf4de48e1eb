// Package countmatrix implements the single-threaded counting engine: it
// consumes a stream of alignment records, applies the filter pipeline in
// spec order, and accumulates per-(feature, cell) counts, split into
// spliced/unspliced in velocity mode.
//
// Grounded on bam_count_core/update_counts/write_outs in
// original_source/src/bam_count.c, with the process-global struct args
// replaced by an immutable Config and the process-global feature/barcode
// dicts replaced by fields on Engine (design notes §9, "Global
// configuration struct").
package countmatrix

import (
	"strings"

	"github.com/grailbio/cellcount/dict"
	"github.com/grailbio/cellcount/dnapool"
)

// Record is the alignment-record abstraction the engine consumes. It is
// intentionally narrow: the engine never imports a BAM/SAM decoder. See
// bamrec for an adapter from *github.com/biogo/hts/sam.Record.
type Record interface {
	TID() int
	MapQ() byte
	Flag() SAMFlag
	// Aux returns the raw aux-field bytes for tag, beginning with the
	// one-byte type code as carried on the wire, or ok=false if absent.
	Aux(tag [2]byte) (value []byte, ok bool)
}

// CellCount is the per-(feature, cell) accumulator. In UMI mode the umis
// pools hold the running dedup state until Finalize collapses them down
// to Count/Unspliced; in non-UMI mode Count/Unspliced are incremented
// directly and the pools are never allocated.
type CellCount struct {
	Count     uint32
	Unspliced uint32

	umis          *dnapool.DedupSet
	umisUnspliced *dnapool.DedupSet
}

// Engine is the counting engine. It is not safe for concurrent use:
// spec.md §5 specifies a single-threaded cooperative consumer.
type Engine struct {
	cfg Config

	Features *dict.Dict // value slot holds *dnapool.IndexMap
	Barcodes *dict.Dict

	NTotal     uint64
	NUnspliced uint64

	finalized bool
}

// NewEngine validates cfg and returns a fresh Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, Features: dict.New(), Barcodes: dict.New()}
	e.Features.SetValueSlot()
	return e, nil
}

// Add runs the filter pipeline and, if the record survives, accumulates
// it into the appropriate feature/cell entries. fileAlias is the current
// input file's alias, used as the barcode when Config.CellTag is unset
// and Config.FileBarcode is set. It reports whether the record was kept.
func (e *Engine) Add(rec Record, fileAlias string) bool {
	if rec.TID() < 0 || rec.Flag()&FlagUnmapped != 0 {
		return false
	}
	if rec.MapQ() < e.cfg.MapQThreshold {
		return false
	}
	if !e.cfg.UseDup && rec.Flag()&FlagDup != 0 {
		return false
	}

	if len(e.cfg.RegionTypes) > 0 {
		val, ok := rec.Aux(e.cfg.RegionTypeTag)
		if !ok || len(val) < 2 {
			return false
		}
		if !e.cfg.RegionTypes[classifyRegion(val[1])] {
			return false
		}
	}

	var barcode string
	switch {
	case e.cfg.hasCellTag():
		val, ok := rec.Aux(e.cfg.CellTag)
		if !ok || len(val) < 2 {
			return false
		}
		barcode = string(val[1:])
	case e.cfg.FileBarcode:
		if fileAlias == "" {
			return false
		}
		barcode = fileAlias
	default:
		return false // unreachable: Validate rejects this configuration
	}

	featureVal, ok := rec.Aux(e.cfg.FeatureTag)
	if !ok || len(featureVal) < 2 {
		return false
	}
	featureField := string(featureVal[1:])

	var umi string
	if e.cfg.hasUMITag() {
		val, ok := rec.Aux(e.cfg.UMITag)
		if !ok || len(val) < 2 {
			return false
		}
		umi = string(val[1:])
	}

	unspliced := false
	if e.cfg.Velocity {
		val, ok := rec.Aux(e.cfg.RegionTypeTag)
		if !ok || len(val) < 2 {
			return false
		}
		rt := classifyRegion(val[1])
		if !isVelocityRegion(rt) {
			return false
		}
		unspliced = !spliceCompatible(rt)
	}

	var cellID int32
	if e.cfg.UseWhitelist {
		cellID = e.Barcodes.Query(barcode)
		if cellID == -1 {
			var ok bool
			cellID, ok = e.correctBarcode(barcode)
			if !ok {
				return false
			}
		}
	} else {
		cellID = e.Barcodes.Push(barcode)
	}

	tokens := splitFeatureField(featureField)
	if e.cfg.OneHit && len(tokens) > 1 {
		return false
	}

	for _, tok := range tokens {
		e.accumulate(tok, cellID, umi, unspliced)
	}
	return true
}

// splitFeatureField tokenizes a feature aux value on ';' or ','.
func splitFeatureField(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' })
}

func (e *Engine) accumulate(featureName string, cellID int32, umi string, unspliced bool) {
	fid := e.Features.Push(featureName)
	pool, _ := e.Features.QueryValue(fid).(*dnapool.IndexMap)
	if pool == nil {
		pool = dnapool.NewIndexMap()
		e.Features.AssignValue(fid, pool)
	}

	entry := pool.Push(cellID)
	cc, _ := entry.Payload.(*CellCount)
	if cc == nil {
		cc = &CellCount{}
		if e.cfg.hasUMITag() {
			cc.umis = dnapool.NewDedupSet()
			if e.cfg.Velocity {
				cc.umisUnspliced = dnapool.NewDedupSet()
			}
		}
		entry.Payload = cc
	}

	if e.cfg.hasUMITag() {
		cc.umis.Push(umi)
		if e.cfg.Velocity && unspliced {
			cc.umisUnspliced.Push(umi)
		}
		return
	}
	cc.Count++
	if e.cfg.Velocity && unspliced {
		cc.Unspliced++
	}
}

// Finalize collapses UMI pools to plain counts and accumulates the
// global totals. It must be called exactly once, after the last Add.
func (e *Engine) Finalize() {
	if e.finalized {
		return
	}
	e.finalized = true

	for fid := int32(0); fid < int32(e.Features.Size()); fid++ {
		pool, _ := e.Features.QueryValue(fid).(*dnapool.IndexMap)
		if pool == nil {
			continue
		}
		pool.Range(func(entry *dnapool.Entry) {
			cc := entry.Payload.(*CellCount)
			if e.cfg.hasUMITag() {
				cc.Count = uint32(cc.umis.Size())
				cc.umis = nil
				if e.cfg.Velocity {
					cc.Unspliced = uint32(cc.umisUnspliced.Size())
					cc.umisUnspliced = nil
				}
			}
			e.NTotal += uint64(cc.Count)
			e.NUnspliced += uint64(cc.Unspliced)
		})
	}
}

// NSpliced returns n_total - n_unspliced. Only meaningful after Finalize.
func (e *Engine) NSpliced() uint64 {
	return e.NTotal - e.NUnspliced
}
