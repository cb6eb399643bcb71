package planner

import (
	"fmt"
	"strings"

	"github.com/labscreen/screenresults/internal/compiler"
)

// DisplayQuery reads one page of full rows for a populated cached query.
type DisplayQuery struct {
	SQL  string
	Args []any
	Keys []string
}

// BuildDisplayQuery selects columns for the wells recorded under queryID, in recorded
// ordinal order. The first selected column is the ordinal; column i+1 holds Keys[i].
// A limit of 0 reads every row from offset on.
func BuildDisplayQuery(columns compiler.Columns, queryID, datasetID int64, limit, offset int) DisplayQuery {
	selects := make([]string, 0, len(columns)+1)
	selects = append(selects, "wqi.ordinal")

	for i, c := range columns {
		selects = append(selects, fmt.Sprintf("%s AS c%d", compiler.SQL(c.Expr), i))
	}

	var b strings.Builder

	b.WriteString("SELECT ")
	b.WriteString(strings.Join(selects, ", "))
	b.WriteString(" FROM well_query_index wqi")
	b.WriteString(" JOIN well w ON w.well_id = wqi.well_id")
	b.WriteString(" LEFT JOIN assay_well aw ON aw.well_id = wqi.well_id AND aw.screen_result_id = $2")
	b.WriteString(" WHERE wqi.query_id = $1")
	b.WriteString(" ORDER BY wqi.ordinal, wqi.id")

	args := []any{queryID, datasetID}

	if limit > 0 {
		args = append(args, limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}

	if offset > 0 {
		args = append(args, offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}

	return DisplayQuery{SQL: b.String(), Args: args, Keys: columns.Keys()}
}
