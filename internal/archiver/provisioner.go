package archiver

import (
	"context"

	"github.com/bitbaso/Arindu/internal/connector"
	"github.com/bitbaso/Arindu/internal/statement"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// erDBCreateExists is ER_DB_CREATE_EXISTS
const erDBCreateExists = 1007

const tableExistsQuery = `
		SELECT COUNT(*) AS table_count
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ?
		AND TABLE_NAME = ?
	`

// Provisioner makes sure the destination schema and table exist
type Provisioner struct {
	Logger logrus.FieldLogger
}

// EnsureSchema creates the schema unless it already exists
func (p *Provisioner) EnsureSchema(ctx context.Context, db *connector.DatabaseConnector, schema string) error {
	if schema == "" {
		return errors.New("empty schema name")
	}

	p.Logger.Debugf("Ensuring schema %s", schema)
	_, err := db.ExecuteStatement(ctx, "CREATE SCHEMA IF NOT EXISTS "+statement.QuoteIdentifier(schema))
	if err != nil {
		if connector.IsErrorNumber(err, erDBCreateExists) {
			p.Logger.Debugf("Schema %s already exists", schema)
			return nil
		}
		return errors.Wrapf(err, "create schema %s", schema)
	}
	return nil
}

// TableExists reports whether schema.table exists on db
func (p *Provisioner) TableExists(ctx context.Context, db *connector.DatabaseConnector, schema, table string) (bool, error) {
	rows, err := db.ExecuteQuery(ctx, tableExistsQuery, schema, table)
	if err != nil {
		return false, errors.Wrapf(err, "look up table %s.%s", schema, table)
	}
	if len(rows) == 0 {
		return false, nil
	}
	count, _ := rows[0].Get("table_count")
	return count.String() != "0", nil
}

// EnsureTableMirrored creates the destination table from the source table's
// own DDL when it is missing. created reports whether the DDL was replayed.
func (p *Provisioner) EnsureTableMirrored(ctx context.Context, source, dest *connector.DatabaseConnector, sourceSchema, destSchema, table string) (created bool, err error) {
	exists, err := p.TableExists(ctx, dest, destSchema, table)
	if err != nil {
		return false, err
	}
	if exists {
		p.Logger.Debugf("Table exists %s.%s", destSchema, table)
		return false, nil
	}

	rows, err := source.ExecuteQuery(ctx, "SHOW CREATE TABLE "+statement.QualifiedName(sourceSchema, table))
	if err != nil {
		return false, errors.Wrapf(err, "read definition of %s.%s", sourceSchema, table)
	}
	if len(rows) == 0 {
		return false, errors.Errorf("no definition returned for %s.%s", sourceSchema, table)
	}
	ddl, ok := rows[0].Get("Create Table")
	if !ok || ddl.IsNull() || ddl.String() == "" {
		return false, errors.Errorf("empty definition for %s.%s", sourceSchema, table)
	}

	// The definition names the table unqualified; replay it inside the destination schema.
	for _, stmt := range []string{
		"USE " + statement.QuoteIdentifier(destSchema),
		"SET FOREIGN_KEY_CHECKS = 0",
		ddl.String(),
	} {
		if _, err := dest.ExecuteStatement(ctx, stmt); err != nil {
			return false, errors.Wrapf(err, "mirror %s into %s", table, destSchema)
		}
	}

	p.Logger.Infof("Created table %s.%s from %s.%s", destSchema, table, sourceSchema, table)
	return true, nil
}
