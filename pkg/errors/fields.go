package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const maxChainDepth = 16

// LogFields flattens err into structured log fields: the message, the typed
// code, the wrap chain and any driver diagnostics found along it.
func LogFields(err error) map[string]any {
	if err == nil {
		return nil
	}
	fields := map[string]any{"error": err.Error()}
	if typed := As(err); typed != nil {
		fields["error_code"] = typed.code
	}
	if chain := unwrapChain(err); len(chain) > 1 {
		fields["error_chain"] = chain
	}
	addDriverFields(err, fields)
	return fields
}

// unwrapChain walks single and joined wraps depth first.
func unwrapChain(err error) []string {
	var chain []string
	var walk func(error)
	walk = func(e error) {
		for e != nil && len(chain) < maxChainDepth {
			chain = append(chain, fmt.Sprintf("%T: %v", e, e))
			if joined, ok := e.(interface{ Unwrap() []error }); ok {
				for _, inner := range joined.Unwrap() {
					walk(inner)
				}
				return
			}
			e = stdErrors.Unwrap(e)
		}
	}
	walk(err)
	return chain
}

func addDriverFields(err error, fields map[string]any) {
	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	var liteErr sqlite3.Error
	switch {
	case stdErrors.As(err, &pgxErr):
		putNonEmpty(fields, "pg_code", pgxErr.Code)
		putNonEmpty(fields, "pg_constraint", pgxErr.ConstraintName)
		putNonEmpty(fields, "pg_table", pgxErr.TableName)
		putNonEmpty(fields, "pg_column", pgxErr.ColumnName)
		putNonEmpty(fields, "pg_detail", pgxErr.Detail)
	case stdErrors.As(err, &pqErr):
		putNonEmpty(fields, "pg_code", string(pqErr.Code))
		putNonEmpty(fields, "pg_constraint", pqErr.Constraint)
		putNonEmpty(fields, "pg_table", pqErr.Table)
		putNonEmpty(fields, "pg_column", pqErr.Column)
		putNonEmpty(fields, "pg_detail", pqErr.Detail)
	case stdErrors.As(err, &liteErr):
		fields["sqlite_code"] = int(liteErr.Code)
		fields["sqlite_extended_code"] = int(liteErr.ExtendedCode)
	}
}

func putNonEmpty(fields map[string]any, key, value string) {
	if value != "" {
		fields[key] = value
	}
}
