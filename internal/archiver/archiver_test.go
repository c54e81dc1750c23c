package archiver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bitbaso/Arindu/internal/connector"
	"github.com/bitbaso/Arindu/internal/statement"
	"github.com/bitbaso/Arindu/pkg/models"
	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sourceDSN = "archiver:pw@tcp(source:3306)/app"
	destDSN   = "archiver:pw@tcp(archive:3306)/"
)

var oldDate = time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func eventsConfig() models.TableConfiguration {
	return models.TableConfiguration{
		SourceConnectionString:      sourceDSN,
		DestinationConnectionString: destDSN,
		TableName:                   "events",
		SchemaName:                  "app",
		DestinationSchemaName:       "app_archive",
		DateColumnName:              "created",
		DaysInterval:                30,
		BatchSize:                   2,
	}
}

type testServers struct {
	source  sqlmock.Sqlmock
	dest    sqlmock.Sqlmock
	factory connector.Factory
	logger  *logrus.Logger
}

func newTestServers(t *testing.T) *testServers {
	t.Helper()
	logger := quietLogger()

	dbs := map[string]*sql.DB{}
	mocks := map[string]sqlmock.Sqlmock{}
	for _, dsn := range []string{sourceDSN, destDSN} {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		dbs[dsn] = db
		mocks[dsn] = mock
	}

	factory := connector.FactoryFunc(func(ctx context.Context, dsn string) (*connector.DatabaseConnector, error) {
		db, ok := dbs[dsn]
		if !ok {
			return nil, errors.Errorf("no server for %s", dsn)
		}
		dc := connector.NewFromDB(db, logger)
		if err := dc.Connect(ctx); err != nil {
			return nil, err
		}
		return dc, nil
	})

	return &testServers{
		source:  mocks[sourceDSN],
		dest:    mocks[destDSN],
		factory: factory,
		logger:  logger,
	}
}

func (s *testServers) verify(t *testing.T) {
	t.Helper()
	assert.NoError(t, s.source.ExpectationsWereMet(), "source")
	assert.NoError(t, s.dest.ExpectationsWereMet(), "destination")
}

func exact(sql string) string {
	return "^" + regexp.QuoteMeta(sql) + "$"
}

func repeatJoin(s string, n int, sep string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s
	}
	return strings.Join(parts, sep)
}

func expectProvisioned(mock sqlmock.Sqlmock) {
	mock.ExpectExec(exact("CREATE SCHEMA IF NOT EXISTS `app_archive`")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM information_schema.TABLES").
		WithArgs("app_archive", "events").
		WillReturnRows(sqlmock.NewRows([]string{"table_count"}).AddRow(int64(1)))
}

func expectKeys(mock sqlmock.Sqlmock, columns ...string) {
	rows := sqlmock.NewRows([]string{"COLUMN_NAME"})
	for _, c := range columns {
		rows.AddRow(c)
	}
	mock.ExpectQuery("CONSTRAINT_NAME = 'PRIMARY'").
		WithArgs("app", "events").
		WillReturnRows(rows)
}

func expectRead(mock sqlmock.Sqlmock, batchSize int, ids ...int64) {
	rows := sqlmock.NewRows([]string{"id", "name", "created"})
	for _, id := range ids {
		rows.AddRow(id, fmt.Sprintf("event %d", id), oldDate)
	}
	mock.ExpectQuery(exact("SELECT * FROM `app`.`events` WHERE `created` < NOW() - INTERVAL ? DAY LIMIT ?")).
		WithArgs(int64(30), int64(batchSize)).
		WillReturnRows(rows)
}

func insertSQL(ignore bool, n int) string {
	verb := "INSERT INTO"
	if ignore {
		verb = "INSERT IGNORE INTO"
	}
	return exact(verb + " `app_archive`.`events` (`id`, `name`, `created`) VALUES " + repeatJoin("(?, ?, ?)", n, ", "))
}

func expectInsert(mock sqlmock.Sqlmock, ids ...int64) {
	mock.ExpectBegin()
	mock.ExpectExec(exact("SET FOREIGN_KEY_CHECKS = 0")).WillReturnResult(sqlmock.NewResult(0, 0))
	args := make([]driver.Value, 0, len(ids)*3)
	for _, id := range ids {
		args = append(args, id, fmt.Sprintf("event %d", id), sqlmock.AnyArg())
	}
	mock.ExpectExec(insertSQL(false, len(ids))).
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(0, int64(len(ids))))
	mock.ExpectCommit()
}

func deleteSQL(n int) string {
	return exact("DELETE FROM `app`.`events` WHERE " + repeatJoin("(`id` = ?)", n, " OR "))
}

func expectDelete(mock sqlmock.Sqlmock, ids ...int64) {
	args := make([]driver.Value, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	mock.ExpectBegin()
	mock.ExpectExec(deleteSQL(len(ids))).
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(0, int64(len(ids))))
	mock.ExpectCommit()
}

func expectOptimize(mock sqlmock.Sqlmock, table string) {
	mock.ExpectQuery(exact("OPTIMIZE TABLE " + table)).
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Op", "Msg_type", "Msg_text"}).
			AddRow(table, "optimize", "status", "OK"))
}

func TestRunArchivesEventsInBatches(t *testing.T) {
	s := newTestServers(t)

	expectProvisioned(s.dest)
	expectKeys(s.source, "id")

	expectRead(s.source, 2, 1, 2)
	expectInsert(s.dest, 1, 2)
	expectDelete(s.source, 1, 2)

	expectRead(s.source, 2, 3)
	expectInsert(s.dest, 3)
	expectDelete(s.source, 3)

	expectRead(s.source, 2)
	expectOptimize(s.source, "`app`.`events`")
	expectOptimize(s.dest, "`app_archive`.`events`")

	result := NewTableArchiver(eventsConfig(), s.factory, statement.NewBuilder(false), s.logger).Run(context.Background())

	require.NoError(t, result.Err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, Done, result.State)
	assert.Equal(t, 2, result.Batches)
	assert.Equal(t, int64(3), result.Copied)
	assert.Equal(t, int64(3), result.Deleted)
	assert.False(t, result.Cancelled)
	s.verify(t)
}

func TestRunIterationCount(t *testing.T) {
	tests := []struct {
		name      string
		eligible  int
		batchSize int
		batches   int
	}{
		{"exact multiple", 4, 2, 2},
		{"remainder", 5, 2, 3},
		{"single batch", 1, 5, 1},
		{"nothing eligible", 0, 3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServers(t)
			cfg := eventsConfig()
			cfg.BatchSize = tt.batchSize

			expectProvisioned(s.dest)
			expectKeys(s.source, "id")
			next := int64(1)
			for remaining := tt.eligible; remaining > 0; remaining -= tt.batchSize {
				n := tt.batchSize
				if remaining < n {
					n = remaining
				}
				ids := make([]int64, n)
				for i := range ids {
					ids[i] = next
					next++
				}
				expectRead(s.source, tt.batchSize, ids...)
				expectInsert(s.dest, ids...)
				expectDelete(s.source, ids...)
			}
			expectRead(s.source, tt.batchSize)
			expectOptimize(s.source, "`app`.`events`")
			expectOptimize(s.dest, "`app_archive`.`events`")

			result := NewTableArchiver(cfg, s.factory, statement.NewBuilder(false), s.logger).Run(context.Background())

			require.NoError(t, result.Err)
			assert.Equal(t, tt.batches, result.Batches)
			assert.Equal(t, int64(tt.eligible), result.Deleted)
			s.verify(t)
		})
	}
}

func TestRunCreatesMissingTable(t *testing.T) {
	s := newTestServers(t)
	ddl := "CREATE TABLE `events` (\n  `id` int NOT NULL,\n  PRIMARY KEY (`id`)\n) ENGINE=InnoDB"

	s.dest.ExpectExec(exact("CREATE SCHEMA IF NOT EXISTS `app_archive`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.dest.ExpectQuery("FROM information_schema.TABLES").
		WithArgs("app_archive", "events").
		WillReturnRows(sqlmock.NewRows([]string{"table_count"}).AddRow(int64(0)))
	s.source.ExpectQuery(exact("SHOW CREATE TABLE `app`.`events`")).
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Create Table"}).AddRow("events", ddl))
	s.dest.ExpectExec(exact("USE `app_archive`")).WillReturnResult(sqlmock.NewResult(0, 0))
	s.dest.ExpectExec(exact("SET FOREIGN_KEY_CHECKS = 0")).WillReturnResult(sqlmock.NewResult(0, 0))
	s.dest.ExpectExec(exact(ddl)).WillReturnResult(sqlmock.NewResult(0, 0))

	expectKeys(s.source, "id")
	expectRead(s.source, 2)
	expectOptimize(s.source, "`app`.`events`")
	expectOptimize(s.dest, "`app_archive`.`events`")

	result := NewTableArchiver(eventsConfig(), s.factory, statement.NewBuilder(false), s.logger).Run(context.Background())

	require.NoError(t, result.Err)
	assert.Equal(t, Done, result.State)
	s.verify(t)
}

func TestRunToleratesExistingSchemaError(t *testing.T) {
	s := newTestServers(t)

	s.dest.ExpectExec(exact("CREATE SCHEMA IF NOT EXISTS `app_archive`")).
		WillReturnError(&mysql.MySQLError{Number: 1007, Message: "database exists"})
	s.dest.ExpectQuery("FROM information_schema.TABLES").
		WithArgs("app_archive", "events").
		WillReturnRows(sqlmock.NewRows([]string{"table_count"}).AddRow(int64(1)))
	expectKeys(s.source, "id")
	expectRead(s.source, 2)
	expectOptimize(s.source, "`app`.`events`")
	expectOptimize(s.dest, "`app_archive`.`events`")

	result := NewTableArchiver(eventsConfig(), s.factory, statement.NewBuilder(false), s.logger).Run(context.Background())

	require.NoError(t, result.Err)
	s.verify(t)
}

func TestRunProvisioningFailure(t *testing.T) {
	s := newTestServers(t)

	s.dest.ExpectExec(exact("CREATE SCHEMA IF NOT EXISTS `app_archive`")).
		WillReturnError(&mysql.MySQLError{Number: 1044, Message: "access denied"})

	result := NewTableArchiver(eventsConfig(), s.factory, statement.NewBuilder(false), s.logger).Run(context.Background())

	assert.Equal(t, Aborted, result.State)
	assert.Equal(t, ProvisioningFailed, KindOf(result.Err))
	s.verify(t)
}

func TestRunEmptyDefinitionStopsBeforeCopy(t *testing.T) {
	s := newTestServers(t)

	s.dest.ExpectExec(exact("CREATE SCHEMA IF NOT EXISTS `app_archive`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.dest.ExpectQuery("FROM information_schema.TABLES").
		WithArgs("app_archive", "events").
		WillReturnRows(sqlmock.NewRows([]string{"table_count"}).AddRow(int64(0)))
	s.source.ExpectQuery(exact("SHOW CREATE TABLE `app`.`events`")).
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Create Table"}).AddRow("events", ""))

	result := NewTableArchiver(eventsConfig(), s.factory, statement.NewBuilder(false), s.logger).Run(context.Background())

	assert.Equal(t, ProvisioningFailed, KindOf(result.Err))
	assert.Zero(t, result.Batches)
	s.verify(t)
}

func TestRunWithoutPrimaryKey(t *testing.T) {
	s := newTestServers(t)

	expectProvisioned(s.dest)
	expectKeys(s.source)

	result := NewTableArchiver(eventsConfig(), s.factory, statement.NewBuilder(false), s.logger).Run(context.Background())

	assert.Equal(t, Aborted, result.State)
	assert.Equal(t, NoPrimaryKey, KindOf(result.Err))
	assert.Zero(t, result.Batches)
	assert.Zero(t, result.Copied)
	assert.Zero(t, result.Deleted)
	s.verify(t)
}

func TestRunInvalidConfiguration(t *testing.T) {
	s := newTestServers(t)
	cfg := eventsConfig()
	cfg.SchemaName = ""

	result := NewTableArchiver(cfg, s.factory, statement.NewBuilder(false), s.logger).Run(context.Background())

	assert.Equal(t, Aborted, result.State)
	assert.Equal(t, ConfigurationInvalid, KindOf(result.Err))
	s.verify(t)
}

func TestRunConnectionFailure(t *testing.T) {
	s := newTestServers(t)
	cfg := eventsConfig()
	cfg.DestinationConnectionString = "archiver:pw@tcp(unknown:3306)/"

	result := NewTableArchiver(cfg, s.factory, statement.NewBuilder(false), s.logger).Run(context.Background())

	assert.Equal(t, ConnectionFailure, KindOf(result.Err))
	s.verify(t)
}

func TestRunInsertFailureSkipsDelete(t *testing.T) {
	s := newTestServers(t)

	expectProvisioned(s.dest)
	expectKeys(s.source, "id")
	expectRead(s.source, 2, 1, 2)
	s.dest.ExpectBegin()
	s.dest.ExpectExec(exact("SET FOREIGN_KEY_CHECKS = 0")).WillReturnResult(sqlmock.NewResult(0, 0))
	s.dest.ExpectExec(insertSQL(false, 2)).WillReturnError(&mysql.MySQLError{Number: 1114, Message: "table is full"})
	s.dest.ExpectRollback()

	result := NewTableArchiver(eventsConfig(), s.factory, statement.NewBuilder(false), s.logger).Run(context.Background())

	assert.Equal(t, StatementExecutionFailed, KindOf(result.Err))
	assert.Zero(t, result.Copied)
	assert.Zero(t, result.Deleted)
	s.verify(t)
}

func TestRunDeleteFailureKeepsArchivedCopy(t *testing.T) {
	s := newTestServers(t)

	expectProvisioned(s.dest)
	expectKeys(s.source, "id")
	expectRead(s.source, 2, 1, 2)
	expectInsert(s.dest, 1, 2)
	s.source.ExpectBegin()
	s.source.ExpectExec(deleteSQL(2)).WillReturnError(&mysql.MySQLError{Number: 1205, Message: "lock wait timeout"})
	s.source.ExpectRollback()

	result := NewTableArchiver(eventsConfig(), s.factory, statement.NewBuilder(false), s.logger).Run(context.Background())

	assert.Equal(t, StatementExecutionFailed, KindOf(result.Err))
	assert.Equal(t, int64(2), result.Copied)
	assert.Zero(t, result.Deleted)
	s.verify(t)
}

// expectDuplicateRetry fails the plain insert of ids 1 and 2 with a duplicate
// key and expects the IGNORE retry followed by the read back of both keys.
func expectDuplicateRetry(mock sqlmock.Sqlmock, archived *sqlmock.Rows) {
	mock.ExpectBegin()
	mock.ExpectExec(exact("SET FOREIGN_KEY_CHECKS = 0")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(insertSQL(false, 2)).WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '1' for key 'PRIMARY'"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(exact("SET FOREIGN_KEY_CHECKS = 0")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(insertSQL(true, 2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(exact("SELECT * FROM `app_archive`.`events` WHERE (`id` = ?) OR (`id` = ?)")).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(archived)
}

func TestRunRecoversFromIdenticalArchivedRows(t *testing.T) {
	s := newTestServers(t)

	expectProvisioned(s.dest)
	expectKeys(s.source, "id")
	expectRead(s.source, 2, 1, 2)
	expectDuplicateRetry(s.dest, sqlmock.NewRows([]string{"id", "name", "created"}).
		AddRow(int64(1), "event 1", oldDate).
		AddRow(int64(2), "event 2", oldDate))
	s.dest.ExpectCommit()
	expectDelete(s.source, 1, 2)

	expectRead(s.source, 2)
	expectOptimize(s.source, "`app`.`events`")
	expectOptimize(s.dest, "`app_archive`.`events`")

	result := NewTableArchiver(eventsConfig(), s.factory, statement.NewBuilder(false), s.logger).Run(context.Background())

	require.NoError(t, result.Err)
	assert.Equal(t, int64(1), result.Copied)
	assert.Equal(t, int64(2), result.Deleted)
	s.verify(t)
}

func TestRunKeepsSourceRowsOnArchivedConflict(t *testing.T) {
	tests := []struct {
		name     string
		archived *sqlmock.Rows
	}{
		{
			name: "different row under same key",
			archived: sqlmock.NewRows([]string{"id", "name", "created"}).
				AddRow(int64(1), "reused id", oldDate).
				AddRow(int64(2), "event 2", oldDate),
		},
		{
			name: "row skipped by ignore",
			archived: sqlmock.NewRows([]string{"id", "name", "created"}).
				AddRow(int64(1), "event 1", oldDate),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServers(t)

			expectProvisioned(s.dest)
			expectKeys(s.source, "id")
			expectRead(s.source, 2, 1, 2)
			expectDuplicateRetry(s.dest, tt.archived)
			s.dest.ExpectRollback()

			result := NewTableArchiver(eventsConfig(), s.factory, statement.NewBuilder(false), s.logger).Run(context.Background())

			assert.Equal(t, StatementExecutionFailed, KindOf(result.Err))
			assert.True(t, errors.Is(result.Err, ErrArchivedRowMismatch))
			assert.Equal(t, Aborted, result.State)
			assert.Zero(t, result.Copied)
			assert.Zero(t, result.Deleted)
			s.verify(t)
		})
	}
}

func TestRunStopsWhenNothingIsDeleted(t *testing.T) {
	s := newTestServers(t)

	expectProvisioned(s.dest)
	expectKeys(s.source, "id")
	expectRead(s.source, 2, 1, 2)
	expectInsert(s.dest, 1, 2)
	s.source.ExpectBegin()
	s.source.ExpectExec(deleteSQL(2)).WillReturnResult(sqlmock.NewResult(0, 0))
	s.source.ExpectCommit()

	result := NewTableArchiver(eventsConfig(), s.factory, statement.NewBuilder(false), s.logger).Run(context.Background())

	assert.Equal(t, StatementExecutionFailed, KindOf(result.Err))
	assert.Equal(t, 1, result.Batches)
	s.verify(t)
}

func TestRunLiteralMode(t *testing.T) {
	s := newTestServers(t)

	expectProvisioned(s.dest)
	expectKeys(s.source, "id")
	s.source.ExpectExec("NO_BACKSLASH_ESCAPES").WillReturnResult(sqlmock.NewResult(0, 0))
	s.dest.ExpectExec("NO_BACKSLASH_ESCAPES").WillReturnResult(sqlmock.NewResult(0, 0))

	s.source.ExpectQuery(exact("SELECT * FROM `app`.`events` WHERE `created` < NOW() - INTERVAL ? DAY LIMIT ?")).
		WithArgs(int64(30), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created"}).
			AddRow(int64(7), "O'Brien", oldDate))
	s.dest.ExpectBegin()
	s.dest.ExpectExec(exact("SET FOREIGN_KEY_CHECKS = 0")).WillReturnResult(sqlmock.NewResult(0, 0))
	s.dest.ExpectExec(exact("INSERT INTO `app_archive`.`events` (`id`, `name`, `created`) VALUES (7, 'O''Brien', '2020-01-02 03:04:05')")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.dest.ExpectCommit()
	s.source.ExpectBegin()
	s.source.ExpectExec(exact("DELETE FROM `app`.`events` WHERE (`id` = '7')")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.source.ExpectCommit()

	expectRead(s.source, 2)
	expectOptimize(s.source, "`app`.`events`")
	expectOptimize(s.dest, "`app_archive`.`events`")

	result := NewTableArchiver(eventsConfig(), s.factory, statement.NewBuilder(true), s.logger).Run(context.Background())

	require.NoError(t, result.Err)
	assert.Equal(t, int64(1), result.Deleted)
	s.verify(t)
}

func TestRunCancelledBeforeFirstBatch(t *testing.T) {
	s := newTestServers(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	expectProvisioned(s.dest)
	expectKeys(s.source, "id")

	result := NewTableArchiver(eventsConfig(), s.factory, statement.NewBuilder(false), s.logger).Run(ctx)

	assert.True(t, result.Cancelled)
	assert.Equal(t, Aborted, result.State)
	assert.NoError(t, result.Err)
	assert.Zero(t, result.Batches)
	s.verify(t)
}

func TestMaintenanceFailureDoesNotFailCycle(t *testing.T) {
	s := newTestServers(t)

	expectProvisioned(s.dest)
	expectKeys(s.source, "id")
	expectRead(s.source, 2)
	s.source.ExpectQuery(exact("OPTIMIZE TABLE `app`.`events`")).
		WillReturnError(&mysql.MySQLError{Number: 1142, Message: "command denied"})
	s.dest.ExpectQuery(exact("OPTIMIZE TABLE `app_archive`.`events`")).
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Op", "Msg_type", "Msg_text"}).
			AddRow("app_archive.events", "optimize", "error", "Table is read only"))

	result := NewTableArchiver(eventsConfig(), s.factory, statement.NewBuilder(false), s.logger).Run(context.Background())

	require.NoError(t, result.Err)
	assert.Equal(t, Done, result.State)
	s.verify(t)
}

func TestKindOf(t *testing.T) {
	err := errors.Wrap(newError(NoPrimaryKey, "events", errors.New("no key")), "cycle")

	assert.Equal(t, NoPrimaryKey, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Contains(t, err.Error(), "events: no primary key: no key")
}
