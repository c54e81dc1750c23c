package archiver

import (
	"context"

	"github.com/bitbaso/Arindu/internal/analyzer"
	"github.com/bitbaso/Arindu/internal/config"
	"github.com/bitbaso/Arindu/internal/connector"
	"github.com/bitbaso/Arindu/internal/statement"
	"github.com/bitbaso/Arindu/pkg/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// State is a step of one table cycle
type State int

const (
	Idle State = iota
	Provisioning
	KeyDiscovery
	BatchLoop
	Maintaining
	Done
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Provisioning:
		return "provisioning"
	case KeyDiscovery:
		return "key discovery"
	case BatchLoop:
		return "batch loop"
	case Maintaining:
		return "maintaining"
	case Done:
		return "done"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// TableResult reports how one table cycle ended
type TableResult struct {
	Table     string
	Schema    string
	State     State
	Batches   int
	Copied    int64
	Deleted   int64
	Cancelled bool
	Err       error
}

// Succeeded is false when the cycle stopped on a classified failure.
// A cancelled cycle is not a failure.
func (r TableResult) Succeeded() bool {
	return r.Err == nil
}

// TableArchiver runs the archival cycle of one configured table
type TableArchiver struct {
	Config      models.TableConfiguration
	Connections connector.Factory
	Builder     statement.Builder
	Logger      *logrus.Logger
}

// NewTableArchiver creates an archiver for one table configuration
func NewTableArchiver(tc models.TableConfiguration, connections connector.Factory, builder statement.Builder, logger *logrus.Logger) *TableArchiver {
	return &TableArchiver{
		Config:      tc,
		Connections: connections,
		Builder:     builder,
		Logger:      logger,
	}
}

type cycle struct {
	result TableResult
	log    logrus.FieldLogger
}

func (c *cycle) enter(s State) {
	c.log.Debugf("State %s -> %s", c.result.State, s)
	c.result.State = s
}

func (c *cycle) abort(kind Kind, err error) TableResult {
	c.result.Err = newError(kind, c.result.Table, err)
	c.log.Errorf("Archive aborted: %v", c.result.Err)
	c.enter(Aborted)
	return c.result
}

// Run drives provision, key discovery, the batch loop and maintenance.
// ctx is checked between batches only; a started statement always runs to
// completion so an insert is never separated from its delete.
func (ta *TableArchiver) Run(ctx context.Context) TableResult {
	tc := ta.Config
	log := ta.Logger.WithFields(logrus.Fields{
		"table":              tc.TableName,
		"source_schema":      tc.SchemaName,
		"destination_schema": tc.DestinationSchemaName,
	})
	c := &cycle{
		result: TableResult{Table: tc.TableName, Schema: tc.SchemaName, State: Idle},
		log:    log,
	}

	if err := config.ValidateTable(tc); err != nil {
		c.log.Warnf("Not tables configured: %v", err)
		c.result.Err = newError(ConfigurationInvalid, tc.TableName, err)
		c.enter(Aborted)
		return c.result
	}

	stmtCtx := context.WithoutCancel(ctx)
	sourceTable := statement.QualifiedName(tc.SchemaName, tc.TableName)
	destTable := statement.QualifiedName(tc.DestinationSchemaName, tc.TableName)

	c.enter(Provisioning)
	source, err := ta.Connections.Open(stmtCtx, tc.SourceConnectionString)
	if err != nil {
		return c.abort(ConnectionFailure, errors.Wrap(err, "open source connection"))
	}
	defer source.Disconnect()

	dest, err := ta.Connections.Open(stmtCtx, tc.DestinationConnectionString)
	if err != nil {
		return c.abort(ConnectionFailure, errors.Wrap(err, "open destination connection"))
	}
	defer dest.Disconnect()

	provisioner := &Provisioner{Logger: c.log}
	if err := provisioner.EnsureSchema(stmtCtx, dest, tc.DestinationSchemaName); err != nil {
		return c.abort(ProvisioningFailed, err)
	}
	if _, err := provisioner.EnsureTableMirrored(stmtCtx, source, dest, tc.SchemaName, tc.DestinationSchemaName, tc.TableName); err != nil {
		return c.abort(ProvisioningFailed, err)
	}

	c.enter(KeyDiscovery)
	keys, err := analyzer.NewSchemaAnalyzer(source, c.log).PrimaryKeyColumns(stmtCtx, tc.SchemaName, tc.TableName)
	if err != nil {
		return c.abort(StatementExecutionFailed, err)
	}
	if len(keys) == 0 {
		return c.abort(NoPrimaryKey, errors.Errorf("%s has no primary key", sourceTable))
	}
	c.log.Debugf("Primary key columns: %v", keys)

	committer := &BatchCommitter{Builder: ta.Builder, Logger: c.log}
	if err := committer.PrepareSessions(stmtCtx, source, dest); err != nil {
		return c.abort(StatementExecutionFailed, err)
	}

	c.enter(BatchLoop)
	for {
		if ctx.Err() != nil {
			c.log.Warnf("Cancelled after %d batches", c.result.Batches)
			c.result.Cancelled = true
			c.enter(Aborted)
			return c.result
		}

		batch, err := ReadBatch(stmtCtx, source, tc.BatchSize, sourceTable, tc.DateColumnName, tc.DaysInterval)
		if err != nil {
			return c.abort(StatementExecutionFailed, err)
		}
		if len(batch) == 0 {
			break
		}

		committed, err := committer.CommitBatch(stmtCtx, source, dest, sourceTable, destTable, keys, batch)
		c.result.Copied += committed.Copied
		c.result.Deleted += committed.Deleted
		if err != nil {
			return c.abort(StatementExecutionFailed, err)
		}
		c.result.Batches++
		c.log.Infof("Batch %d: copied %d, deleted %d rows", c.result.Batches, committed.Copied, committed.Deleted)

		// Nothing deleted means the next read returns the same rows again.
		if committed.Deleted == 0 {
			return c.abort(StatementExecutionFailed, errors.Errorf("batch of %d rows deleted nothing from %s", len(batch), sourceTable))
		}
	}

	c.enter(Maintaining)
	maintainer := &Maintainer{Logger: c.log}
	maintainer.Optimize(stmtCtx, source, sourceTable)
	maintainer.Optimize(stmtCtx, dest, destTable)

	c.enter(Done)
	c.log.Infof("Archived %d rows in %d batches", c.result.Deleted, c.result.Batches)
	return c.result
}
