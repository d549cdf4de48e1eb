package countmatrix

import "github.com/grailbio/cellcount/util"

// correctBarcode looks for the single whitelisted barcode of the same
// length within e.cfg.MaxBarcodeEdits of barcode. It is a linear scan of
// the whitelist per miss, acceptable here since it only runs on the
// whitelist-miss path (exact hits, the common case, never reach it).
func (e *Engine) correctBarcode(barcode string) (int32, bool) {
	if e.cfg.MaxBarcodeEdits <= 0 {
		return -1, false
	}
	best := int32(-1)
	bestDist := e.cfg.MaxBarcodeEdits + 1
	ambiguous := false
	for i := 0; i < e.Barcodes.Size(); i++ {
		id := int32(i)
		cand := e.Barcodes.Name(id)
		if len(cand) != len(barcode) {
			continue
		}
		d := util.Levenshtein(barcode, cand, "", "")
		switch {
		case d < bestDist:
			bestDist = d
			best = id
			ambiguous = false
		case d == bestDist:
			ambiguous = true
		}
	}
	if best == -1 || bestDist > e.cfg.MaxBarcodeEdits || ambiguous {
		return -1, false
	}
	return best, true
}
