package analyzer

import (
	"context"
	"strconv"

	"github.com/bitbaso/Arindu/internal/connector"
	"github.com/bitbaso/Arindu/pkg/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/yourbasic/graph"
)

const primaryKeyQuery = `
		SELECT COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
		AND TABLE_NAME = ?
		AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION
	`

const columnsQuery = `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			COLUMN_TYPE,
			CHARACTER_MAXIMUM_LENGTH,
			NUMERIC_PRECISION,
			NUMERIC_SCALE,
			IS_NULLABLE,
			COLUMN_KEY,
			EXTRA
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ?
		AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`

const foreignKeysQuery = `
		SELECT
			TABLE_NAME,
			COLUMN_NAME,
			REFERENCED_TABLE_NAME,
			REFERENCED_COLUMN_NAME,
			CONSTRAINT_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
		AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY TABLE_NAME, COLUMN_NAME
	`

// SchemaAnalyzer reads table metadata from information_schema
type SchemaAnalyzer struct {
	DB     *connector.DatabaseConnector
	Logger logrus.FieldLogger
}

// NewSchemaAnalyzer creates a new schema analyzer
func NewSchemaAnalyzer(db *connector.DatabaseConnector, logger logrus.FieldLogger) *SchemaAnalyzer {
	return &SchemaAnalyzer{
		DB:     db,
		Logger: logger,
	}
}

// PrimaryKeyColumns returns the primary key columns of a table in key order.
// A table without a primary key yields an empty result and no error.
func (sa *SchemaAnalyzer) PrimaryKeyColumns(ctx context.Context, schema, table string) (models.PrimaryKeyColumns, error) {
	rows, err := sa.DB.ExecuteQuery(ctx, primaryKeyQuery, schema, table)
	if err != nil {
		return nil, errors.Wrapf(err, "read primary key of %s.%s", schema, table)
	}

	keys := make(models.PrimaryKeyColumns, 0, len(rows))
	for _, row := range rows {
		name := stringField(row, "COLUMN_NAME")
		if name != "" {
			keys = append(keys, name)
		}
	}
	sa.Logger.Debugf("Primary key of %s.%s: %v", schema, table, keys)
	return keys, nil
}

// TableColumns returns the columns of a table in ordinal order
func (sa *SchemaAnalyzer) TableColumns(ctx context.Context, schema, table string) ([]models.Column, error) {
	rows, err := sa.DB.ExecuteQuery(ctx, columnsQuery, schema, table)
	if err != nil {
		return nil, errors.Wrapf(err, "read columns of %s.%s", schema, table)
	}

	var columns []models.Column
	for _, row := range rows {
		columns = append(columns, models.Column{
			Name:             stringField(row, "COLUMN_NAME"),
			DataType:         stringField(row, "DATA_TYPE"),
			ColumnType:       stringField(row, "COLUMN_TYPE"),
			CharMaxLength:    intField(row, "CHARACTER_MAXIMUM_LENGTH"),
			NumericPrecision: intField(row, "NUMERIC_PRECISION"),
			NumericScale:     intField(row, "NUMERIC_SCALE"),
			IsNullable:       stringField(row, "IS_NULLABLE") == "YES",
			ColumnKey:        stringField(row, "COLUMN_KEY"),
			Extra:            stringField(row, "EXTRA"),
		})
	}
	return columns, nil
}

// ForeignKeys returns every foreign key declared in a schema
func (sa *SchemaAnalyzer) ForeignKeys(ctx context.Context, schema string) ([]models.ForeignKey, error) {
	rows, err := sa.DB.ExecuteQuery(ctx, foreignKeysQuery, schema)
	if err != nil {
		return nil, errors.Wrapf(err, "read foreign keys of %s", schema)
	}

	var fks []models.ForeignKey
	for _, row := range rows {
		fks = append(fks, models.ForeignKey{
			Table:            stringField(row, "TABLE_NAME"),
			Column:           stringField(row, "COLUMN_NAME"),
			ReferencedTable:  stringField(row, "REFERENCED_TABLE_NAME"),
			ReferencedColumn: stringField(row, "REFERENCED_COLUMN_NAME"),
			ConstraintName:   stringField(row, "CONSTRAINT_NAME"),
		})
	}
	return fks, nil
}

// OrderTables sorts tables so that a table referencing another comes first.
// Foreign keys to tables outside the list and self references are ignored.
// When the references form a cycle the input order is returned with ok false.
func OrderTables(tables []string, fks []models.ForeignKey) (ordered []string, ok bool) {
	index := make(map[string]int, len(tables))
	for i, table := range tables {
		index[table] = i
	}

	g := graph.New(len(tables))
	for _, fk := range fks {
		if fk.Table == fk.ReferencedTable {
			continue
		}
		child, hasChild := index[fk.Table]
		parent, hasParent := index[fk.ReferencedTable]
		if hasChild && hasParent {
			g.Add(child, parent)
		}
	}

	order, ok := graph.TopSort(g)
	if !ok {
		return append([]string(nil), tables...), false
	}
	ordered = make([]string, len(order))
	for i, v := range order {
		ordered[i] = tables[v]
	}
	return ordered, true
}

func stringField(row models.Row, name string) string {
	v, ok := row.Get(name)
	if !ok || v.IsNull() {
		return ""
	}
	return v.String()
}

func intField(row models.Row, name string) *int64 {
	v, ok := row.Get(name)
	if !ok || v.IsNull() {
		return nil
	}
	if v.Kind == models.Integer {
		i := v.Int()
		return &i
	}
	i, err := strconv.ParseInt(v.String(), 10, 64)
	if err != nil {
		return nil
	}
	return &i
}
