package annotation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Peptide Report column names.
const (
	ColPeptideSequence = "peptide_sequence"
	ColSpectralCount   = "peptide_spectral_count"
	ColKO              = "KO"
	ColCOG             = "COG"
	ColPfam            = "pfam"
)

// ErrMissingColumn is returned when a peptide report lacks a required column.
var ErrMissingColumn = errors.New("peptide report is missing a required column")

type peptide struct {
	spectralCount int
	annotations   map[string]struct{}
}

// CountPeptideReport collapses a metaproteomics Peptide Report (TSV) to
// functional identifier spectral counts.
//
// A peptide sequence may appear on several rows, one per matched protein.
// Its spectral count is taken once, from its first row, and its annotation
// set is the union over all its rows. Each identifier's count is the sum of
// the spectral counts of the peptides annotated with it.
func CountPeptideReport(r io.Reader) (Counts, error) {
	tsv := csv.NewReader(r)
	tsv.Comma = '\t'
	tsv.LazyQuotes = true
	tsv.FieldsPerRecord = -1
	tsv.ReuseRecord = true

	header, err := tsv.Read()
	if err == io.EOF {
		return make(Counts), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read peptide report header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{ColPeptideSequence, ColSpectralCount} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	peptides := make(map[string]*peptide)
	// Keep first-seen order so the fold below is deterministic.
	var order []string

	row := 1
	for {
		rec, err := tsv.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			return nil, fmt.Errorf("failed to read peptide report row %d: %w", row, err)
		}

		seq := field(rec, ColPeptideSequence)
		p, seen := peptides[seq]
		if !seen {
			n, err := parseSpectralCount(field(rec, ColSpectralCount))
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", row, err)
			}
			p = &peptide{spectralCount: n, annotations: make(map[string]struct{})}
			peptides[seq] = p
			order = append(order, seq)
		}

		for _, id := range splitTerms(field(rec, ColKO), KEGG) {
			p.annotations[id] = struct{}{}
		}
		for _, id := range splitTerms(field(rec, ColCOG), COG) {
			p.annotations[id] = struct{}{}
		}
		for _, id := range splitTerms(field(rec, ColPfam), Pfam) {
			p.annotations[id] = struct{}{}
		}
	}

	counts := make(Counts)
	for _, seq := range order {
		p := peptides[seq]
		for id := range p.annotations {
			counts.Add(id, p.spectralCount)
		}
	}
	return counts, nil
}

// maxSpectralCount bounds a single peptide's count so per-term sums stay
// far from int overflow.
const maxSpectralCount = math.MaxInt32

// parseSpectralCount accepts integer or float notation ("12", "12.0") and
// truncates toward zero. Negative, non-finite and oversized values are errors.
func parseSpectralCount(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty %s", ColSpectralCount)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", ColSpectralCount, s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > maxSpectralCount {
		return 0, fmt.Errorf("invalid %s %q: out of range", ColSpectralCount, s)
	}
	return int(f), nil
}
