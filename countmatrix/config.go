package countmatrix

import "github.com/grailbio/base/errors"

// SAMFlag mirrors the handful of SAM flag bits the counting engine reads
// off a Record, so this package never needs to import a BAM/SAM codec
// (see bamrec for the adapter that does).
type SAMFlag uint16

const (
	FlagUnmapped SAMFlag = 0x4
	FlagDup      SAMFlag = 0x400
)

// Config is the engine's immutable configuration, constructed once by the
// CLI layer and passed to NewEngine. A zero-valued two-byte tag field
// ([2]byte{}) means "unset" — no SAM aux tag name is the NUL byte pair.
type Config struct {
	CellTag       [2]byte // aux tag carrying the cell barcode
	FeatureTag    [2]byte // aux tag carrying one or more ';'/','-separated feature ids; required
	UMITag        [2]byte // if set, enables UMI dedup mode
	RegionTypeTag [2]byte // aux tag carrying a single-character region classification

	FileBarcode bool // if CellTag is unset, use the per-input-file alias as the barcode

	RegionTypes map[RegionType]bool // whitelist of accepted classifications; empty/nil = accept all

	MapQThreshold byte
	UseDup        bool
	OneHit        bool
	Velocity      bool
	UseWhitelist  bool // if true, unknown barcodes are dropped instead of learned

	// MaxBarcodeEdits, if positive, allows a barcode that misses the
	// whitelist exactly to be corrected to the single whitelisted
	// barcode within this many edits; 0 disables correction (an exact
	// miss is simply dropped). Only consulted when UseWhitelist is set.
	MaxBarcodeEdits int
}

var zeroTag [2]byte

func (c Config) hasUMITag() bool        { return c.UMITag != zeroTag }
func (c Config) hasRegionTypeTag() bool { return c.RegionTypeTag != zeroTag }
func (c Config) hasCellTag() bool       { return c.CellTag != zeroTag }

// Validate checks the configuration-error class from the error taxonomy:
// a missing required tag, or an input combination that can never resolve
// a barcode or a velocity classification.
func (c Config) Validate() error {
	if c.FeatureTag == zeroTag {
		return errors.E("countmatrix: feature_tag is required")
	}
	if !c.hasCellTag() && !c.FileBarcode {
		return errors.E("countmatrix: cell_tag must be set, or file_barcode must be enabled")
	}
	if c.Velocity && !c.hasRegionTypeTag() {
		return errors.E("countmatrix: velocity mode requires region_type_tag")
	}
	if c.MaxBarcodeEdits > 0 && !c.UseWhitelist {
		return errors.E("countmatrix: max_barcode_edits requires use_whitelist")
	}
	return nil
}
