package models

// TableConfiguration describes one archival job: which table moves from
// which source schema to which destination schema, and when a row is old
// enough to move.
type TableConfiguration struct {
	SourceConnectionString      string `mapstructure:"source_connection_string"`
	DestinationConnectionString string `mapstructure:"destination_connection_string"`
	TableName                   string `mapstructure:"table_name"`
	SchemaName                  string `mapstructure:"schema_name"`
	DestinationSchemaName       string `mapstructure:"destination_schema_name"`
	DateColumnName              string `mapstructure:"date_column_name"`
	DaysInterval                int    `mapstructure:"days_interval"`
	BatchSize                   int    `mapstructure:"batch_size"`
}

// SourceKey groups configurations that read from the same source schema
func (tc TableConfiguration) SourceKey() string {
	return tc.SourceConnectionString + "|" + tc.SchemaName
}

// Column represents a database column with its properties
type Column struct {
	Name             string
	DataType         string
	ColumnType       string
	CharMaxLength    *int64
	NumericPrecision *int64
	NumericScale     *int64
	IsNullable       bool
	ColumnKey        string
	Extra            string
}

// ForeignKey represents a foreign key relationship
type ForeignKey struct {
	Table            string
	Column           string
	ReferencedTable  string
	ReferencedColumn string
	ConstraintName   string
}

// PrimaryKeyColumns is the ordered list of columns forming a table's primary key
type PrimaryKeyColumns []string

// Batch is a bounded set of rows read by one select
type Batch []Row
