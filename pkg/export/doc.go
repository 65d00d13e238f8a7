// Package export serves the stored aggregation of one workflow execution as
// JSON or CSV.
//
// # HTTP API
//
// Export endpoint: GET /v1/aggregations/{id}
// Query parameters:
//   - format: "json" or "csv" (default: json)
//
// Example:
//
//	curl "http://localhost:8080/v1/aggregations/nmdc:wfmgan-11-5rqhd817.1?format=csv" \
//	  -o wfmgan.csv
//
// # Formats
//
// JSON carries export metadata, the number of distinct identifiers per
// category and the member documents as stored:
//
//	{
//	  "metadata": {"was_generated_by": "...", "members_exported": 3, ...},
//	  "counts_by_category": {"cog": 1, "kegg": 1, "pfam": 1},
//	  "members": [{"was_generated_by": "...", "gene_function_id": "COG:COG0001", "count": 4, ...}]
//	}
//
// CSV has one row per member:
//
//	was_generated_by,gene_function_id,category,count
//	nmdc:wfmgan-1,COG:COG0001,cog,4
//
// A unit without members is reported as 404 Not Found.
package export
