package connector

import (
	"context"
	"database/sql"

	"github.com/bitbaso/Arindu/pkg/models"
	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DatabaseConnector owns a connection pool for one DSN and a dedicated
// connection used by a single archival cycle.
type DatabaseConnector struct {
	DSN    string
	DB     *sql.DB
	Conn   *sql.Conn
	Logger *logrus.Logger

	ownsDB bool
}

// NewDatabaseConnector creates a new database connector for a go-sql-driver DSN
func NewDatabaseConnector(dsn string, logger *logrus.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		DSN:    dsn,
		Logger: logger,
		ownsDB: true,
	}
}

// NewFromDB wraps an already opened pool. Disconnect releases the dedicated
// connection but leaves the pool open for its owner.
func NewFromDB(db *sql.DB, logger *logrus.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		DB:     db,
		Logger: logger,
	}
}

// NormalizeDSN parses a DSN and forces parseTime so DATETIME columns scan into time.Time
func NormalizeDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", errors.Wrap(err, "invalid connection string")
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// Database returns the schema selected by the DSN, if any
func (dc *DatabaseConnector) Database() string {
	cfg, err := mysql.ParseDSN(dc.DSN)
	if err != nil {
		return ""
	}
	return cfg.DBName
}

// Connect opens the pool if needed and acquires the dedicated connection
func (dc *DatabaseConnector) Connect(ctx context.Context) error {
	if dc.DB == nil {
		dsn, err := NormalizeDSN(dc.DSN)
		if err != nil {
			return err
		}
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			dc.Logger.Errorf("Error connecting to MySQL database: %v", err)
			return errors.Wrap(err, "open connection")
		}
		dc.DB = db
		dc.ownsDB = true
	}

	if err := dc.DB.PingContext(ctx); err != nil {
		dc.Logger.Errorf("Error pinging MySQL database: %v", err)
		return errors.Wrap(err, "ping")
	}

	conn, err := dc.DB.Conn(ctx)
	if err != nil {
		dc.Logger.Errorf("Error acquiring MySQL connection: %v", err)
		return errors.Wrap(err, "acquire connection")
	}
	dc.Conn = conn
	dc.Logger.Debugf("Connected to MySQL database %q", dc.Database())
	return nil
}

// Disconnect releases the dedicated connection and closes the pool it owns
func (dc *DatabaseConnector) Disconnect() {
	if dc.Conn != nil {
		if err := dc.Conn.Close(); err != nil {
			dc.Logger.Errorf("Error releasing database connection: %v", err)
		}
		dc.Conn = nil
	}
	if dc.DB != nil && dc.ownsDB {
		if err := dc.DB.Close(); err != nil {
			dc.Logger.Errorf("Error closing database connection: %v", err)
		} else {
			dc.Logger.Debug("MySQL connection closed")
		}
		dc.DB = nil
	}
}

func (dc *DatabaseConnector) conn() (*sql.Conn, error) {
	if dc.Conn == nil {
		return nil, errors.New("connector is not connected")
	}
	return dc.Conn, nil
}

// ExecuteQuery executes a SQL query and returns the rows in select order
func (dc *DatabaseConnector) ExecuteQuery(ctx context.Context, query string, params ...interface{}) ([]models.Row, error) {
	conn, err := dc.conn()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, query, params...)
	if err != nil {
		dc.Logger.Errorf("Error executing query: %v", err)
		return nil, err
	}
	defer rows.Close()

	return ScanRows(rows)
}

// ScanRows drains rows into typed values, keeping column order
func ScanRows(rows *sql.Rows) ([]models.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "read columns")
	}

	dbTypes := make([]string, len(columns))
	if columnTypes, err := rows.ColumnTypes(); err == nil {
		for i, ct := range columnTypes {
			dbTypes[i] = ct.DatabaseTypeName()
		}
	}

	var results []models.Row
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range columns {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, errors.Wrap(err, "scan row")
		}

		row := make(models.Row, 0, len(columns))
		for i, col := range columns {
			row = row.Set(col, models.ValueOf(values[i], dbTypes[i]))
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate rows")
	}
	return results, nil
}

// ExecuteStatement executes a SQL statement and returns the number of affected rows
func (dc *DatabaseConnector) ExecuteStatement(ctx context.Context, query string, params ...interface{}) (int64, error) {
	conn, err := dc.conn()
	if err != nil {
		return 0, err
	}

	result, err := conn.ExecContext(ctx, query, params...)
	if err != nil {
		dc.Logger.Errorf("Error executing statement: %v", err)
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	return affected, nil
}

// WithTransaction runs fn inside a transaction on the dedicated connection.
// The transaction is committed when fn succeeds and rolled back otherwise.
func (dc *DatabaseConnector) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	conn, err := dc.conn()
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		dc.Logger.Errorf("Error starting transaction: %v", err)
		return errors.Wrap(err, "begin transaction")
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			dc.Logger.Errorf("Error rolling back transaction: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		dc.Logger.Errorf("Error committing transaction: %v", err)
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}

// ExecuteMany executes a SQL statement with multiple parameter sets in one transaction
func (dc *DatabaseConnector) ExecuteMany(ctx context.Context, query string, paramsList [][]interface{}) (int64, error) {
	var totalAffected int64
	err := dc.WithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return errors.Wrap(err, "prepare statement")
		}
		defer stmt.Close()

		for _, params := range paramsList {
			result, err := stmt.ExecContext(ctx, params...)
			if err != nil {
				return errors.Wrap(err, "execute batch statement")
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return errors.Wrap(err, "rows affected")
			}
			totalAffected += affected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return totalAffected, nil
}

// IsErrorNumber reports whether err is a MySQL server error with the given number
func IsErrorNumber(err error, number uint16) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == number
	}
	return false
}

// Factory opens connected connectors for DSNs
type Factory interface {
	Open(ctx context.Context, dsn string) (*DatabaseConnector, error)
}

// FactoryFunc adapts a function to Factory
type FactoryFunc func(ctx context.Context, dsn string) (*DatabaseConnector, error)

func (f FactoryFunc) Open(ctx context.Context, dsn string) (*DatabaseConnector, error) {
	return f(ctx, dsn)
}

// MySQLFactory opens a fresh pool and dedicated connection per call
type MySQLFactory struct {
	Logger *logrus.Logger
}

func (f MySQLFactory) Open(ctx context.Context, dsn string) (*DatabaseConnector, error) {
	dc := NewDatabaseConnector(dsn, f.Logger)
	if err := dc.Connect(ctx); err != nil {
		dc.Disconnect()
		return nil, err
	}
	return dc, nil
}
