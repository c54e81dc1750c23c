package populator

import (
	"context"
	"fmt"
	"strings"

	"github.com/bitbaso/Arindu/internal/analyzer"
	"github.com/bitbaso/Arindu/internal/connector"
	"github.com/bitbaso/Arindu/internal/generator"
	"github.com/bitbaso/Arindu/internal/statement"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// InsertBatchSize is how many generated rows go into one transaction
const InsertBatchSize = 100

// DatabasePopulator fills a source table with synthetic rows
type DatabasePopulator struct {
	DB             *connector.DatabaseConnector
	SchemaAnalyzer *analyzer.SchemaAnalyzer
	DataGenerator  *generator.DataGenerator
	Logger         *logrus.Logger
}

// NewDatabasePopulator creates a new database populator
func NewDatabasePopulator(
	db *connector.DatabaseConnector,
	schemaAnalyzer *analyzer.SchemaAnalyzer,
	dataGenerator *generator.DataGenerator,
	logger *logrus.Logger,
) *DatabasePopulator {
	return &DatabasePopulator{
		DB:             db,
		SchemaAnalyzer: schemaAnalyzer,
		DataGenerator:  dataGenerator,
		Logger:         logger,
	}
}

// PopulateTable inserts numRecords generated rows into schema.table and
// returns how many were inserted.
func (dp *DatabasePopulator) PopulateTable(ctx context.Context, schema, table string, numRecords int) (int64, error) {
	dp.Logger.Infof("Populating table: %s.%s", schema, table)

	columns, err := dp.SchemaAnalyzer.TableColumns(ctx, schema, table)
	if err != nil {
		return 0, err
	}
	if len(columns) == 0 {
		return 0, errors.Errorf("no columns found for table %s.%s", schema, table)
	}

	insertable := generator.InsertableColumns(columns)
	if len(insertable) == 0 {
		dp.Logger.Warningf("No insertable columns found for table: %s.%s", schema, table)
		return 0, nil
	}

	columnNames := make([]string, len(insertable))
	for i, column := range insertable {
		columnNames[i] = statement.QuoteIdentifier(column.Name)
	}
	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		statement.QualifiedName(schema, table),
		strings.Join(columnNames, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(insertable)), ", "),
	)

	var inserted int64
	var paramsList [][]interface{}
	for i := 0; i < numRecords; i++ {
		paramsList = append(paramsList, dp.DataGenerator.GenerateRow(insertable))

		if len(paramsList) >= InsertBatchSize || i == numRecords-1 {
			affected, err := dp.DB.ExecuteMany(ctx, insertSQL, paramsList)
			if err != nil {
				return inserted, errors.Wrapf(err, "insert into %s.%s", schema, table)
			}
			inserted += affected
			paramsList = nil
		}
	}

	dp.Logger.Infof("Successfully populated table %s.%s with %d records", schema, table, inserted)
	return inserted, nil
}
