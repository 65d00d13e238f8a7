/*
Package aggregation recomputes functional annotation aggregations for NMDC
workflow executions.

# Builders

A Builder covers one family of workflow types:

	metag: nmdc:MetagenomeAnnotation, nmdc:MetatranscriptomeAnnotation
	       source "Functional Annotation GFF", one count per feature line
	metap: nmdc:MetaproteomicsAnalysis
	       source "Peptide Report", counts weighted by spectral count

# Run

Each Run lists the builder's workflow executions, resolves the result file
of every unit and replaces the unit's members in the store:

	units := source.WorkflowExecutions(types)
	for each unit:
	    counts := Parse(fetch(url))
	    store.ReplaceUnit(unit, Members(unit, counts))

Members are sorted by gene_function_id, so recomputing an unchanged source
writes identical documents. The source bytes are hashed with xxhash and the
checksum is kept in the UnitResult.

A failure to list units is returned and ends the run. Everything after that
is isolated per unit: a missing URL, a failed download or a malformed file is
recorded in that unit's UnitResult and the run continues.

# Sweep Verification

After the units are processed, Run lists the units that still have no
members (Report.Pending). A unit whose source has no identifiers always ends
up there, because an empty aggregation is stored as no members.
*/
package aggregation
