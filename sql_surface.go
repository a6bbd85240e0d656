package motedb

import (
	"fmt"

	"github.com/motedb/motedb/internal/merrors"
	"github.com/motedb/motedb/internal/query"
	"github.com/motedb/motedb/internal/row"
	"github.com/motedb/motedb/internal/types"
)

// StatementKind discriminates a pre-parsed Statement's operation. The SQL
// front-end (lexer/parser/planner) is out of this module's scope; Execute
// and Query accept the post-parse shape that front-end would emit instead
// of a raw SQL string, per spec.md §1's "consumes CRUD, scan, and
// index-probe calls."
type StatementKind uint8

const (
	StmtInsert StatementKind = iota
	StmtUpdate
	StmtDelete
)

// Statement is a pre-parsed mutating statement for Execute.
type Statement struct {
	Kind  StatementKind
	Table string
	RowID row.RowID // Update, Delete
	Row   row.Row   // Insert, Update
}

// Execute applies a single pre-parsed mutating statement as an autocommit
// transaction, returning the row id it affected (the newly allocated id for
// Insert, the given id otherwise).
func (db *Database) Execute(stmt Statement) (row.RowID, error) {
	switch stmt.Kind {
	case StmtInsert:
		return db.InsertRow(stmt.Table, stmt.Row)
	case StmtUpdate:
		return stmt.RowID, db.UpdateRow(stmt.Table, stmt.RowID, stmt.Row)
	case StmtDelete:
		old, ok := db.GetRow(stmt.Table, stmt.RowID)
		if !ok {
			return stmt.RowID, merrors.InvalidDataErr("motedb.execute",
				fmt.Sprintf("row %d does not exist in table %q", stmt.RowID, stmt.Table), nil)
		}
		return stmt.RowID, db.DeleteRow(stmt.Table, stmt.RowID, old)
	default:
		return 0, merrors.InvalidDataErr("motedb.execute", "unknown statement kind", nil)
	}
}

// QueryKind discriminates a pre-parsed read-only Query.
type QueryKind uint8

const (
	QueryScanTable QueryKind = iota
	QueryByColumnKind
	QueryByColumnRangeKind
)

// Query is a pre-parsed read-only statement for the Query method, covering
// the subset of the SQL surface this module implements directly (full
// predicate/JOIN/aggregation planning is the out-of-scope SQL layer's job).
type Query struct {
	Kind      QueryKind
	Table     string              // QueryScanTable
	IndexName string              // QueryByColumnKind, QueryByColumnRangeKind
	Value     types.Comparable    // QueryByColumnKind
	Condition *query.ScanCondition // QueryByColumnRangeKind
}

// Query runs a pre-parsed read-only statement and returns the matching row
// ids. QueryScanTable instead returns full decoded rows via ScanTableRows,
// the one read path this module resolves against the row store itself
// rather than an index.
func (db *Database) Query(q Query) ([]row.RowID, []RowResult, error) {
	switch q.Kind {
	case QueryScanTable:
		rows, err := db.ScanTableRows(q.Table)
		return nil, rows, err
	case QueryByColumnKind:
		ids, err := db.QueryByColumn(q.IndexName, q.Value)
		return ids, nil, err
	case QueryByColumnRangeKind:
		ids, err := db.QueryByColumnRange(q.IndexName, q.Condition)
		return ids, nil, err
	default:
		return nil, nil, merrors.InvalidDataErr("motedb.query", "unknown query kind", nil)
	}
}
