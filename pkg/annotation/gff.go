package annotation

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// maxGFFLine bounds a single feature line. Functional annotation GFFs carry
// long attribute columns (product names, superfamily lists).
const maxGFFLine = 16 * 1024 * 1024

// Feature is the functional part of one GFF feature line.
type Feature struct {
	ID    string
	KEGG  []string
	COGs  []string
	Pfams []string
}

// Terms returns every functional identifier carried by the feature.
func (f *Feature) Terms() []string {
	terms := make([]string, 0, len(f.KEGG)+len(f.COGs)+len(f.Pfams))
	terms = append(terms, f.KEGG...)
	terms = append(terms, f.COGs...)
	terms = append(terms, f.Pfams...)
	return terms
}

// ParseFeature parses the attribute column (column 9) of a GFF line.
// ok is false for comments, blank lines and lines with fewer than nine
// tab separated columns.
func ParseFeature(line string) (f Feature, ok bool) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" || strings.HasPrefix(line, "#") {
		return Feature{}, false
	}
	cols := strings.Split(line, "\t")
	if len(cols) < 9 {
		return Feature{}, false
	}

	for i, attr := range strings.Split(cols[8], ";") {
		key, value, found := strings.Cut(attr, "=")
		if !found {
			continue
		}
		if i == 0 && key == "ID" {
			f.ID = value
			continue
		}
		switch key {
		case "ko":
			f.KEGG = splitTerms(value, KEGG)
		case "cog":
			f.COGs = splitTerms(value, COG)
		case "pfam":
			f.Pfams = splitTerms(value, Pfam)
		}
	}
	return f, true
}

// CountGFF counts functional identifiers over every feature line of a GFF
// stream. Each line contributes one per identifier it carries.
func CountGFF(r io.Reader) (Counts, error) {
	counts := make(Counts)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxGFFLine)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		f, ok := ParseFeature(scanner.Text())
		if !ok {
			continue
		}
		for _, id := range f.Terms() {
			counts.Add(id, 1)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read GFF after line %d: %w", lineNo, err)
	}
	return counts, nil
}
