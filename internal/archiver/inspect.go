package archiver

import (
	"context"

	"github.com/bitbaso/Arindu/internal/analyzer"
	"github.com/bitbaso/Arindu/internal/config"
	"github.com/bitbaso/Arindu/internal/statement"
	"github.com/bitbaso/Arindu/pkg/models"
	"github.com/pkg/errors"
)

// Inspection describes what the next cycle would do for one table
type Inspection struct {
	Table      string
	Schema     string
	PrimaryKey models.PrimaryKeyColumns
	Eligible   int64
	Err        error
}

// Inspect reads the primary key and the eligible row count of every table
// without changing anything.
func (m *Manager) Inspect(ctx context.Context, tables []models.TableConfiguration) []Inspection {
	inspections := make([]Inspection, 0, len(tables))
	for _, tc := range tables {
		if ctx.Err() != nil {
			break
		}
		inspections = append(inspections, m.inspectTable(ctx, tc))
	}
	return inspections
}

func (m *Manager) inspectTable(ctx context.Context, tc models.TableConfiguration) Inspection {
	in := Inspection{Table: tc.TableName, Schema: tc.SchemaName}
	if err := config.ValidateTable(tc); err != nil {
		in.Err = newError(ConfigurationInvalid, tc.TableName, err)
		return in
	}

	source, err := m.Connections.Open(ctx, tc.SourceConnectionString)
	if err != nil {
		in.Err = newError(ConnectionFailure, tc.TableName, errors.Wrap(err, "open source connection"))
		return in
	}
	defer source.Disconnect()

	in.PrimaryKey, err = analyzer.NewSchemaAnalyzer(source, m.Logger).PrimaryKeyColumns(ctx, tc.SchemaName, tc.TableName)
	if err != nil {
		in.Err = newError(StatementExecutionFailed, tc.TableName, err)
		return in
	}

	in.Eligible, err = CountEligible(ctx, source, statement.QualifiedName(tc.SchemaName, tc.TableName), tc.DateColumnName, tc.DaysInterval)
	if err != nil {
		in.Err = newError(StatementExecutionFailed, tc.TableName, err)
		return in
	}
	if len(in.PrimaryKey) == 0 {
		in.Err = newError(NoPrimaryKey, tc.TableName, errors.New("archival is skipped for tables without a primary key"))
	}
	return in
}
