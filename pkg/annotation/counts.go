// Package annotation parses functional annotation outputs (GFF feature
// tables and metaproteomics peptide reports) into per-identifier counts.
package annotation

import (
	"sort"
	"strings"
)

// Identifier prefixes used in gene_function_id values.
const (
	PrefixKEGG = "KEGG.ORTHOLOGY:"
	PrefixCOG  = "COG:"
	PrefixPfam = "PFAM:"
)

// Category of a functional identifier.
type Category string

const (
	CategoryKEGG    Category = "kegg"
	CategoryCOG     Category = "cog"
	CategoryPfam    Category = "pfam"
	CategoryUnknown Category = "unknown"
)

// CategoryOf reports which annotation category a normalized identifier belongs to.
func CategoryOf(id string) Category {
	switch {
	case strings.HasPrefix(id, PrefixKEGG):
		return CategoryKEGG
	case strings.HasPrefix(id, PrefixCOG):
		return CategoryCOG
	case strings.HasPrefix(id, PrefixPfam):
		return CategoryPfam
	}
	return CategoryUnknown
}

// Counts maps a normalized functional identifier to its count.
type Counts map[string]int

// Add increments id by n. Empty ids are ignored.
func (c Counts) Add(id string, n int) {
	if id == "" {
		return
	}
	c[id] += n
}

// IDs returns the identifiers in lexical order.
func (c Counts) IDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// KEGG normalizes a KO term ("KO:K00001" or "K00001").
func KEGG(term string) string {
	term = strings.TrimSpace(term)
	if term == "" {
		return ""
	}
	term = strings.TrimPrefix(term, "KO:")
	if term == "" {
		return ""
	}
	return PrefixKEGG + term
}

// COG normalizes a COG id ("COG0463").
func COG(term string) string {
	term = strings.TrimSpace(term)
	if term == "" {
		return ""
	}
	return PrefixCOG + term
}

// Pfam normalizes a Pfam id ("PF00535").
func Pfam(term string) string {
	term = strings.TrimSpace(term)
	if term == "" {
		return ""
	}
	return PrefixPfam + term
}

// splitTerms splits a comma separated attribute value and normalizes each
// term, dropping empties.
func splitTerms(value string, normalize func(string) string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if id := normalize(p); id != "" {
			out = append(out, id)
		}
	}
	return out
}
