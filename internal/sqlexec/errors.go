package sqlexec

import (
	"errors"

	"portfolio-query/internal/queryerr"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes for integrity violations.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNotNullViolation    = "23502"
)

// statement classifies the write a driver error came from.
type statement int

const (
	stmtInsert statement = iota
	stmtUpdate
	stmtDelete
)

// normalizeError converts integrity errors reported by MySQL or PostgreSQL
// into ConstraintErrors on model. Other errors are returned unchanged.
func normalizeError(err error, model string, stmt statement) error {
	if err == nil {
		return nil
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1062:
			return constraint(queryerr.UniqueViolation, model, mysqlErr.Message, err)
		case 1451:
			return constraint(queryerr.RelationViolation, model, mysqlErr.Message, err)
		case 1452:
			return constraint(queryerr.ForeignKeyViolation, model, mysqlErr.Message, err)
		case 1048, 1364:
			return constraint(queryerr.NotNullViolation, model, mysqlErr.Message, err)
		}
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return constraint(queryerr.UniqueViolation, model, pgErr.Message, err)
		case pgForeignKeyViolation:
			// PostgreSQL reports both sides of a foreign key with one code.
			if stmt == stmtDelete {
				return constraint(queryerr.RelationViolation, model, pgErr.Message, err)
			}
			return constraint(queryerr.ForeignKeyViolation, model, pgErr.Message, err)
		case pgNotNullViolation:
			ce := constraint(queryerr.NotNullViolation, model, pgErr.Message, err)
			if pgErr.ColumnName != "" {
				ce.Fields = []string{pgErr.ColumnName}
			}
			return ce
		}
	}
	return err
}

func constraint(kind queryerr.ConstraintKind, model, detail string, cause error) *queryerr.ConstraintError {
	return &queryerr.ConstraintError{Constraint: kind, Model: model, Detail: detail, Cause: cause}
}
