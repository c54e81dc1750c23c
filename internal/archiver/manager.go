package archiver

import (
	"context"
	"strconv"

	"github.com/bitbaso/Arindu/internal/analyzer"
	"github.com/bitbaso/Arindu/internal/config"
	"github.com/bitbaso/Arindu/internal/connector"
	"github.com/bitbaso/Arindu/internal/statement"
	"github.com/bitbaso/Arindu/pkg/models"
	"github.com/sirupsen/logrus"
)

// Manager archives every configured table, one at a time
type Manager struct {
	Connections         connector.Factory
	Builder             statement.Builder
	OrderByDependencies bool
	Logger              *logrus.Logger
}

// NewManager creates a manager opening connections through connections
func NewManager(connections connector.Factory, builder statement.Builder, logger *logrus.Logger) *Manager {
	return &Manager{
		Connections: connections,
		Builder:     builder,
		Logger:      logger,
	}
}

// ExecuteArchive runs one cycle over tables. It returns false when the list
// is empty or any table failed. Tables not started before ctx is cancelled
// are left for the next cycle.
func (m *Manager) ExecuteArchive(ctx context.Context, tables []models.TableConfiguration) (bool, []TableResult) {
	if len(tables) == 0 {
		m.Logger.Warn("Not tables configured")
		return false, nil
	}

	if m.OrderByDependencies {
		tables = m.orderTables(ctx, tables)
	}

	ok := true
	results := make([]TableResult, 0, len(tables))
	for i, tc := range tables {
		if ctx.Err() != nil {
			m.Logger.Infof("Archive cancelled, %d tables left for the next cycle", len(tables)-i)
			break
		}

		m.Logger.Infof("Archiving table %s.%s", tc.SchemaName, tc.TableName)
		result := NewTableArchiver(tc, m.Connections, m.Builder, m.Logger).Run(ctx)
		results = append(results, result)
		if !result.Succeeded() {
			ok = false
		}
	}
	return ok, results
}

// orderTables keeps configuration order between source schemas and, inside
// each schema, moves referencing tables ahead of the tables they reference.
func (m *Manager) orderTables(ctx context.Context, tables []models.TableConfiguration) []models.TableConfiguration {
	groups := make(map[string][]int)
	var keys []string
	for i, tc := range tables {
		key := tc.SourceKey()
		if config.ValidateTable(tc) != nil {
			key = "invalid|" + strconv.Itoa(i)
		}
		if _, seen := groups[key]; !seen {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], i)
	}

	ordered := make([]models.TableConfiguration, 0, len(tables))
	for _, key := range keys {
		members := groups[key]
		if len(members) == 1 {
			ordered = append(ordered, tables[members[0]])
			continue
		}
		ordered = append(ordered, m.orderGroup(ctx, tables, members)...)
	}
	return ordered
}

func (m *Manager) orderGroup(ctx context.Context, tables []models.TableConfiguration, members []int) []models.TableConfiguration {
	group := make([]models.TableConfiguration, len(members))
	for i, idx := range members {
		group[i] = tables[idx]
	}
	first := group[0]

	stmtCtx := context.WithoutCancel(ctx)
	source, err := m.Connections.Open(stmtCtx, first.SourceConnectionString)
	if err != nil {
		m.Logger.Warnf("Keeping configured order for schema %s: %v", first.SchemaName, err)
		return group
	}
	defer source.Disconnect()

	fks, err := analyzer.NewSchemaAnalyzer(source, m.Logger).ForeignKeys(stmtCtx, first.SchemaName)
	if err != nil {
		m.Logger.Warnf("Keeping configured order for schema %s: %v", first.SchemaName, err)
		return group
	}

	byName := make(map[string][]models.TableConfiguration)
	var names []string
	for _, tc := range group {
		if _, seen := byName[tc.TableName]; !seen {
			names = append(names, tc.TableName)
		}
		byName[tc.TableName] = append(byName[tc.TableName], tc)
	}

	sorted, ok := analyzer.OrderTables(names, fks)
	if !ok {
		m.Logger.Warnf("Foreign keys in schema %s form a cycle, keeping configured order", first.SchemaName)
		return group
	}

	result := make([]models.TableConfiguration, 0, len(group))
	for _, name := range sorted {
		result = append(result, byName[name]...)
	}
	m.Logger.Debugf("Archive order for schema %s: %v", first.SchemaName, sorted)
	return result
}
