package store

import (
	"fmt"

	"github.com/sells-group/mailhaus/internal/model"
)

// historyTable pairs an entity table with the table holding its prior
// versions. History rows repeat the entity's columns and add archived_at.
type historyTable struct {
	source  string
	history string
	columns string
}

var (
	propertyHistory = historyTable{source: "properties", history: "property_history", columns: propertyColumns}
	ownerHistory    = historyTable{source: "owners", history: "property_owner_history", columns: ownerColumns}
	loanHistory     = historyTable{source: "loans", history: "loan_history", columns: loanColumns}
)

// archiveSQL copies the rows of h.source matched by where into h.history,
// stamping each copy with the archivedAt placeholder.
func archiveSQL(h historyTable, archivedAt, where string) string {
	return fmt.Sprintf("INSERT INTO %s (%s, archived_at)\nSELECT %s, %s FROM %s WHERE %s",
		h.history, h.columns, h.columns, archivedAt, h.source, where)
}

const loanHistorySelect = `SELECT history_id, ` + loanColumns + `, archived_at FROM loan_history`

func loanVersionDest(v *model.LoanVersion) []any {
	dest := append([]any{&v.HistoryID}, loanDest(&v.Loan)...)
	return append(dest, &v.ArchivedAt)
}

// withArchive runs archiveSQL as a CTE ahead of stmt. Both see the
// statement's snapshot, so history receives the values stmt overwrites.
func withArchive(h historyTable, archivedAt, where, stmt string) string {
	return "WITH archived AS (\n" + archiveSQL(h, archivedAt, where) + "\n)\n" + stmt
}
