package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// SQLSTATE codes the service reacts to.
const (
	PGUniqueViolation      = "23505"
	PGCheckViolation       = "23514"
	PGSerializationFailure = "40001"
	PGDeadlockDetected     = "40P01"
)

// ErrorDump flattens an error chain for structured logs. Postgres fields are
// filled from either driver so pgx and lib/pq failures log the same way.
type ErrorDump struct {
	TopMessage    string `json:"top_message"`
	Code          Code   `json:"code,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`

	Chain []string `json:"chain,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGColumn     string `json:"pg_column,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
	PGMessage    string `json:"pg_message,omitempty"`
}

type pgFields struct {
	code, constraint, table, column, detail, message string
}

func postgresFields(err error) (pgFields, bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgFields{pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.ColumnName, pgxErr.Detail, pgxErr.Message}, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pgFields{string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Column, pqErr.Detail, pqErr.Message}, true
	}
	return pgFields{}, false
}

// PGCode returns the SQLSTATE carried anywhere in err's chain, or "".
func PGCode(err error) string {
	f, _ := postgresFields(err)
	return f.code
}

// PGConstraint returns the violated constraint name, or "".
func PGConstraint(err error) string {
	f, _ := postgresFields(err)
	return f.constraint
}

// IsRetryableTx reports whether Postgres aborted the transaction in a way a
// fresh attempt can succeed: serialization failures and deadlocks.
func IsRetryableTx(err error) bool {
	switch PGCode(err) {
	case PGSerializationFailure, PGDeadlockDetected:
		return true
	}
	return false
}

// Dump is safe to call with nil.
func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
		d.CorrelationID = CorrelationID(te)
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	if f, ok := postgresFields(err); ok {
		d.PGCode = f.code
		d.PGConstraint = f.constraint
		d.PGTable = f.table
		d.PGColumn = f.column
		d.PGDetail = f.detail
		d.PGMessage = f.message
	}
	return d
}
