package countmatrix

// RegionType classifies a record by where it landed relative to a
// transcript, driving the spliced/unspliced split in velocity mode.
type RegionType byte

const (
	RegionExon RegionType = iota
	RegionExonic
	RegionIntron
	RegionExonIntron
	RegionAntisense
	RegionAmbiguous
	RegionIntergenic
	RegionUnknown
)

// regionCodes maps the single-byte region-classification character
// carried in the region-type aux tag to a RegionType. A byte outside this
// table classifies as RegionUnknown, which velocity mode always drops.
var regionCodes = map[byte]RegionType{
	'E': RegionExon,
	'e': RegionExonic,
	'N': RegionIntron,
	'B': RegionExonIntron,
	'A': RegionAntisense,
	'M': RegionAmbiguous,
	'I': RegionIntergenic,
}

// regionNames maps the spec's region-class names (as used on the
// -region-types CLI flag) to RegionType, for Config construction.
var regionNames = map[string]RegionType{
	"exon":         RegionExon,
	"exonic":       RegionExonic,
	"intron":       RegionIntron,
	"exon_intron":  RegionExonIntron,
	"antisense":    RegionAntisense,
	"ambiguous":    RegionAmbiguous,
	"intergenic":   RegionIntergenic,
}

// ParseRegionType looks up name among the spec's region-class names.
func ParseRegionType(name string) (RegionType, bool) {
	rt, ok := regionNames[name]
	return rt, ok
}

func classifyRegion(code byte) RegionType {
	if rt, ok := regionCodes[code]; ok {
		return rt
	}
	return RegionUnknown
}

// spliceCompatible reports whether rt is evidence of a mature (spliced)
// transcript; rt itself is assumed already known to be one of
// {RegionExon, RegionExonic, RegionIntron, RegionExonIntron} by the
// caller, via isVelocityRegion.
func spliceCompatible(rt RegionType) bool {
	return rt == RegionExon || rt == RegionExonic
}

// isVelocityRegion reports whether rt carries spliced/unspliced evidence
// at all; antisense, ambiguous, intergenic and unknown classifications
// are dropped in velocity mode rather than assigned to either side.
func isVelocityRegion(rt RegionType) bool {
	return rt == RegionExon || rt == RegionExonic || rt == RegionIntron || rt == RegionExonIntron
}
