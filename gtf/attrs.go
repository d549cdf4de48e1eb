package gtf

import (
	"strings"

	"github.com/grailbio/base/log"
)

// attrPair is one key/value pair pulled out of a GTF/GFF attribute column.
type attrPair struct {
	key, val string
}

// tokenizeAttrs implements the attribute-column tokenizer: strip trailing
// whitespace and ';', then repeatedly read a key (non-space, non-';'), skip
// whitespace/';', and take the value either as a quoted run up to the next
// '"' or as the unquoted run up to the next ';'. An unterminated quoted
// value runs to end of input rather than erroring. An empty key is logged
// as a warning and dropped; a bare (unquoted) run after an empty key is
// not consumed as its value but read as the next key.
//
// Grounded on split_gff/bend_pair in the original gene-structure reader:
// this is the same two-pointer scan, translated from kstring_t byte
// twiddling into range-over-string with explicit indices.
func tokenizeAttrs(s string) []attrPair {
	s = strings.TrimRight(s, " \t\r\n;")
	if s == "" {
		return nil
	}
	var out []attrPair
	i, n := 0, len(s)
	for i < n {
		keyStart := i
		for i < n && !isSpaceOrSemi(s[i]) {
			i++
		}
		key := s[keyStart:i]

		for i < n && isSpaceOrSemi(s[i]) {
			i++
		}

		var val string
		if i < n && s[i] == '"' {
			i++ // opening quote
			valStart := i
			for i < n && s[i] != '"' {
				i++
			}
			val = s[valStart:i]
			if i < n {
				i++ // closing quote
			}
		} else if key != "" {
			valStart := i
			for i < n && s[i] != ';' {
				i++
			}
			val = s[valStart:i]
		}

		for i < n && isSpaceOrSemi(s[i]) {
			i++
		}

		if key == "" {
			log.Printf("gtf: empty attribute key in %q, skipping", s)
			continue
		}
		out = append(out, attrPair{key: key, val: val})
	}
	return out
}

func isSpaceOrSemi(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n' || b == ';'
}
