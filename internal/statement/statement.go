// Package statement renders archival batches into MySQL statements.
//
// Two modes exist. Bound mode, the default, emits placeholders and
// arguments and is the one the archiver should use. Literal mode inlines
// every value through FormatValue; it is kept for compatibility with
// deployments that compare generated SQL text and must run with
// NO_BACKSLASH_ESCAPES enabled on the session.
package statement

import (
	"fmt"
	"strings"

	"github.com/bitbaso/Arindu/pkg/models"
	"github.com/pkg/errors"
)

// MaxPlaceholders is the prepared statement placeholder limit of MySQL
const MaxPlaceholders = 65535

var (
	// ErrEmptyBatch is returned when a statement is requested for no rows
	ErrEmptyBatch = errors.New("empty batch")
	// ErrRowShape is returned when rows of one batch disagree on their columns
	ErrRowShape = errors.New("rows in batch have different columns")
	// ErrNoKeyColumns is returned when a delete is requested without key columns
	ErrNoKeyColumns = errors.New("no primary key columns")
)

// Statement is SQL text plus its bound arguments
type Statement struct {
	SQL  string
	Args []interface{}
}

// Builder produces insert and delete statements for batches
type Builder struct {
	Literal         bool
	MaxPlaceholders int
}

// NewBuilder returns a builder in bound mode unless literal is set
func NewBuilder(literal bool) Builder {
	return Builder{Literal: literal, MaxPlaceholders: MaxPlaceholders}
}

// QuoteIdentifier backtick-quotes a MySQL identifier
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QualifiedName renders schema.table, or just the table when schema is empty
func QualifiedName(schema, table string) string {
	if schema == "" {
		return QuoteIdentifier(table)
	}
	return QuoteIdentifier(schema) + "." + QuoteIdentifier(table)
}

// columnsOf returns the column list of the first row and checks the rest share it
func columnsOf(batch models.Batch) ([]string, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}
	columns := batch[0].Columns()
	if len(columns) == 0 {
		return nil, errors.Wrap(ErrRowShape, "first row has no columns")
	}
	for i, row := range batch[1:] {
		if len(row) != len(columns) {
			return nil, errors.Wrapf(ErrRowShape, "row %d has %d columns, expected %d", i+1, len(row), len(columns))
		}
		for j, f := range row {
			if f.Name != columns[j] {
				return nil, errors.Wrapf(ErrRowShape, "row %d column %d is %q, expected %q", i+1, j, f.Name, columns[j])
			}
		}
	}
	return columns, nil
}

func insertHead(table string, columns []string, ignore bool) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = QuoteIdentifier(c)
	}
	verb := "INSERT INTO"
	if ignore {
		verb = "INSERT IGNORE INTO"
	}
	return fmt.Sprintf("%s %s (%s) VALUES ", verb, table, strings.Join(quoted, ", "))
}

// BuildInsert renders a batch as one multi-row insert with inline literal
// values. table must already be quoted.
func BuildInsert(table string, batch models.Batch) (string, error) {
	return buildLiteralInsert(table, batch, false)
}

func buildLiteralInsert(table string, batch models.Batch, ignore bool) (string, error) {
	columns, err := columnsOf(batch)
	if err != nil {
		return "", err
	}

	tuples := make([]string, len(batch))
	for i, row := range batch {
		values := make([]string, len(row))
		for j, f := range row {
			values[j] = FormatValue(f.Value)
		}
		tuples[i] = "(" + strings.Join(values, ", ") + ")"
	}
	return insertHead(table, columns, ignore) + strings.Join(tuples, ", "), nil
}

// BuildDeletePredicate renders a disjunction of per-row key conjunctions with
// every key value string-quoted.
func BuildDeletePredicate(keys models.PrimaryKeyColumns, batch models.Batch) (string, error) {
	if len(keys) == 0 {
		return "", ErrNoKeyColumns
	}
	if len(batch) == 0 {
		return "", ErrEmptyBatch
	}

	conditions := make([]string, len(batch))
	for i, row := range batch {
		parts := make([]string, len(keys))
		for j, key := range keys {
			v, ok := row.Get(key)
			if !ok {
				return "", errors.Errorf("row %d has no value for key column %q", i, key)
			}
			parts[j] = fmt.Sprintf("%s = %s", QuoteIdentifier(key), QuoteText(v.String()))
		}
		conditions[i] = "(" + strings.Join(parts, " AND ") + ")"
	}
	return strings.Join(conditions, " OR "), nil
}

// Insert returns the statements copying batch into table. Literal mode
// yields a single statement; bound mode splits so no statement exceeds
// the placeholder limit.
func (b Builder) Insert(table string, batch models.Batch, ignore bool) ([]Statement, error) {
	if b.Literal {
		sql, err := buildLiteralInsert(table, batch, ignore)
		if err != nil {
			return nil, err
		}
		return []Statement{{SQL: sql}}, nil
	}

	columns, err := columnsOf(batch)
	if err != nil {
		return nil, err
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	head := insertHead(table, columns, ignore)

	var statements []Statement
	for _, chunk := range b.chunks(batch, len(columns)) {
		tuples := make([]string, len(chunk))
		args := make([]interface{}, 0, len(chunk)*len(columns))
		for i, row := range chunk {
			tuples[i] = tuple
			for _, f := range row {
				args = append(args, f.Value.Arg())
			}
		}
		statements = append(statements, Statement{SQL: head + strings.Join(tuples, ", "), Args: args})
	}
	return statements, nil
}

// Delete returns the statements removing exactly the batch rows from table by key
func (b Builder) Delete(table string, keys models.PrimaryKeyColumns, batch models.Batch) ([]Statement, error) {
	return b.byKey("DELETE FROM "+table, keys, batch)
}

// Select returns the statements reading the rows of table that share a key
// with a batch row
func (b Builder) Select(table string, keys models.PrimaryKeyColumns, batch models.Batch) ([]Statement, error) {
	return b.byKey("SELECT * FROM "+table, keys, batch)
}

func (b Builder) byKey(head string, keys models.PrimaryKeyColumns, batch models.Batch) ([]Statement, error) {
	if b.Literal {
		predicate, err := BuildDeletePredicate(keys, batch)
		if err != nil {
			return nil, err
		}
		return []Statement{{SQL: head + " WHERE " + predicate}}, nil
	}

	if len(keys) == 0 {
		return nil, ErrNoKeyColumns
	}
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}

	parts := make([]string, len(keys))
	for i, key := range keys {
		parts[i] = QuoteIdentifier(key) + " = ?"
	}
	condition := "(" + strings.Join(parts, " AND ") + ")"

	var statements []Statement
	for _, chunk := range b.chunks(batch, len(keys)) {
		conditions := make([]string, len(chunk))
		args := make([]interface{}, 0, len(chunk)*len(keys))
		for i, row := range chunk {
			conditions[i] = condition
			for _, key := range keys {
				v, ok := row.Get(key)
				if !ok {
					return nil, errors.Errorf("row has no value for key column %q", key)
				}
				args = append(args, v.Arg())
			}
		}
		statements = append(statements, Statement{
			SQL:  head + " WHERE " + strings.Join(conditions, " OR "),
			Args: args,
		})
	}
	return statements, nil
}

// chunks splits batch so each part uses at most MaxPlaceholders placeholders
func (b Builder) chunks(batch models.Batch, perRow int) []models.Batch {
	limit := b.MaxPlaceholders
	if limit <= 0 {
		limit = MaxPlaceholders
	}
	rowsPerChunk := limit / perRow
	if rowsPerChunk < 1 {
		rowsPerChunk = 1
	}

	var chunks []models.Batch
	for start := 0; start < len(batch); start += rowsPerChunk {
		end := start + rowsPerChunk
		if end > len(batch) {
			end = len(batch)
		}
		chunks = append(chunks, batch[start:end])
	}
	return chunks
}
