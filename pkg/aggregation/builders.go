package aggregation

import (
	"github.com/microbiomedata/funcagg/pkg/annotation"
	"github.com/microbiomedata/funcagg/pkg/source"
	"github.com/microbiomedata/funcagg/pkg/storage"
)

// Workflow types, data object types and unit id prefixes in the NMDC schema.
const (
	TypeMetagenomeAnnotation        = "nmdc:MetagenomeAnnotation"
	TypeMetatranscriptomeAnnotation = "nmdc:MetatranscriptomeAnnotation"
	TypeMetaproteomicsAnalysis      = "nmdc:MetaproteomicsAnalysis"

	DataObjectFunctionalGFF = "Functional Annotation GFF"
	DataObjectPeptideReport = "Peptide Report"

	PrefixMetagenome        = "nmdc:wfmgan"
	PrefixMetatranscriptome = "nmdc:wfmtan"
	PrefixMetaproteomics    = "nmdc:wfmp"
)

// NewMetaGT builds the metagenome/metatranscriptome builder, which counts
// KEGG, COG and Pfam terms over GFF feature lines.
func NewMetaGT(src source.Source, store storage.Store, fetcher Fetcher, opts ...Option) *Builder {
	b := newBuilder(src, store, fetcher, opts)
	b.Name = "metag"
	b.WorkflowTypes = []string{TypeMetagenomeAnnotation, TypeMetatranscriptomeAnnotation}
	b.Prefixes = []string{PrefixMetagenome, PrefixMetatranscriptome}
	b.DataObjectType = DataObjectFunctionalGFF
	b.Parse = annotation.CountGFF
	return b
}

// NewMetaP builds the metaproteomics builder, which weights each peptide's
// annotations by its spectral count.
func NewMetaP(src source.Source, store storage.Store, fetcher Fetcher, opts ...Option) *Builder {
	b := newBuilder(src, store, fetcher, opts)
	b.Name = "metap"
	b.WorkflowTypes = []string{TypeMetaproteomicsAnalysis}
	b.Prefixes = []string{PrefixMetaproteomics}
	b.DataObjectType = DataObjectPeptideReport
	b.Parse = annotation.CountPeptideReport
	return b
}
