package archiver

import (
	"context"
	"database/sql"
	"strings"

	"github.com/bitbaso/Arindu/internal/connector"
	"github.com/bitbaso/Arindu/internal/statement"
	"github.com/bitbaso/Arindu/pkg/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// erDupEntry is ER_DUP_ENTRY
const erDupEntry = 1062

// ErrArchivedRowMismatch is returned when the destination holds a row under
// a batch key whose columns differ from the source row, or holds no row at all
var ErrArchivedRowMismatch = errors.New("archived row does not match source row")

const noBackslashEscapes = "SET SESSION sql_mode = CONCAT_WS(',', NULLIF(@@SESSION.sql_mode, ''), 'NO_BACKSLASH_ESCAPES')"

// CommitResult counts what one batch commit did
type CommitResult struct {
	Copied  int64
	Deleted int64
}

// BatchCommitter copies a batch to the destination and then deletes it from
// the source. Each side runs in its own transaction on its own connection:
// the destination commits first, so a failed delete leaves the rows in both
// tables rather than in neither.
type BatchCommitter struct {
	Builder statement.Builder
	Logger  logrus.FieldLogger
}

// PrepareSessions puts both connections in the mode the builder needs.
// Literal statements rely on doubled quotes being the only escape.
func (c *BatchCommitter) PrepareSessions(ctx context.Context, source, dest *connector.DatabaseConnector) error {
	if !c.Builder.Literal {
		return nil
	}
	for _, db := range []*connector.DatabaseConnector{source, dest} {
		if _, err := db.ExecuteStatement(ctx, noBackslashEscapes); err != nil {
			return errors.Wrap(err, "enable NO_BACKSLASH_ESCAPES")
		}
	}
	return nil
}

// CommitBatch archives one batch. sourceTable and destTable must be quoted.
func (c *BatchCommitter) CommitBatch(ctx context.Context, source, dest *connector.DatabaseConnector, sourceTable, destTable string, keys models.PrimaryKeyColumns, batch models.Batch) (CommitResult, error) {
	var result CommitResult
	if len(keys) == 0 {
		return result, statement.ErrNoKeyColumns
	}

	copied, err := c.insert(ctx, dest, destTable, batch, false)
	if err != nil && connector.IsErrorNumber(err, erDupEntry) {
		c.Logger.Warnf("Rows of this batch already exist in %s, copying the missing ones", destTable)
		copied, err = c.insertVerified(ctx, dest, destTable, keys, batch)
	}
	if err != nil {
		return result, errors.Wrap(err, "copy batch")
	}
	result.Copied = copied

	deletes, err := c.Builder.Delete(sourceTable, keys, batch)
	if err != nil {
		return result, errors.Wrap(err, "build delete")
	}

	err = source.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range deletes {
			c.Logger.Debugf("Executing SQL: %s", stmt.SQL)
			res, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...)
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			result.Deleted += affected
		}
		return nil
	})
	if err != nil {
		result.Deleted = 0
		return result, errors.Wrapf(err, "delete batch from %s after it was copied to %s", sourceTable, destTable)
	}

	if result.Deleted < int64(len(batch)) {
		c.Logger.Warnf("Deleted %d of %d rows from %s", result.Deleted, len(batch), sourceTable)
	}
	return result, nil
}

// insertVerified copies the rows missing from destTable with INSERT IGNORE
// and reads every batch key back in the same transaction. The transaction
// commits only when each source row is present with identical columns.
func (c *BatchCommitter) insertVerified(ctx context.Context, dest *connector.DatabaseConnector, destTable string, keys models.PrimaryKeyColumns, batch models.Batch) (int64, error) {
	inserts, err := c.Builder.Insert(destTable, batch, true)
	if err != nil {
		return 0, errors.Wrap(err, "build insert")
	}
	selects, err := c.Builder.Select(destTable, keys, batch)
	if err != nil {
		return 0, errors.Wrap(err, "build select")
	}

	var copied int64
	err = dest.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
			return err
		}
		for _, stmt := range inserts {
			c.Logger.Debugf("Executing SQL: %s", stmt.SQL)
			res, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...)
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			copied += affected
		}

		archived := make(map[string]models.Row, len(batch))
		for _, stmt := range selects {
			c.Logger.Debugf("Executing SQL: %s", stmt.SQL)
			rows, err := tx.QueryContext(ctx, stmt.SQL, stmt.Args...)
			if err != nil {
				return err
			}
			found, err := connector.ScanRows(rows)
			rows.Close()
			if err != nil {
				return err
			}
			for _, row := range found {
				archived[keyOf(row, keys)] = row
			}
		}

		for _, row := range batch {
			key := keyOf(row, keys)
			if got, ok := archived[key]; !ok || !sameRow(row, got) {
				return errors.Wrapf(ErrArchivedRowMismatch, "key %s in %s", key, destTable)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return copied, nil
}

func keyOf(row models.Row, keys models.PrimaryKeyColumns) string {
	parts := make([]string, len(keys))
	for i, key := range keys {
		v, _ := row.Get(key)
		parts[i] = v.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// sameRow reports whether every column of want holds the same value in got
func sameRow(want, got models.Row) bool {
	for _, f := range want {
		v, ok := got.Get(f.Name)
		if !ok || !f.Value.Equal(v) {
			return false
		}
	}
	return true
}

func (c *BatchCommitter) insert(ctx context.Context, dest *connector.DatabaseConnector, destTable string, batch models.Batch, ignore bool) (int64, error) {
	inserts, err := c.Builder.Insert(destTable, batch, ignore)
	if err != nil {
		return 0, errors.Wrap(err, "build insert")
	}

	var copied int64
	err = dest.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
			return err
		}
		for _, stmt := range inserts {
			c.Logger.Debugf("Executing SQL: %s", stmt.SQL)
			res, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...)
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			copied += affected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return copied, nil
}
