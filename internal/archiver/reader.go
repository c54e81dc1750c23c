package archiver

import (
	"context"
	"fmt"

	"github.com/bitbaso/Arindu/internal/connector"
	"github.com/bitbaso/Arindu/internal/statement"
	"github.com/bitbaso/Arindu/pkg/models"
	"github.com/pkg/errors"
)

func eligibleCondition(dateColumn string) string {
	return fmt.Sprintf("%s < NOW() - INTERVAL ? DAY", statement.QuoteIdentifier(dateColumn))
}

// ReadBatch selects up to batchSize rows of table whose dateColumn is older
// than days days. An empty batch means nothing is left to archive.
func ReadBatch(ctx context.Context, db *connector.DatabaseConnector, batchSize int, table, dateColumn string, days int) (models.Batch, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT ?", table, eligibleCondition(dateColumn))
	rows, err := db.ExecuteQuery(ctx, query, days, batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "read batch")
	}
	return models.Batch(rows), nil
}

// CountEligible counts the rows ReadBatch would eventually return
func CountEligible(ctx context.Context, db *connector.DatabaseConnector, table, dateColumn string, days int) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) AS eligible FROM %s WHERE %s", table, eligibleCondition(dateColumn))
	rows, err := db.ExecuteQuery(ctx, query, days)
	if err != nil {
		return 0, errors.Wrap(err, "count eligible rows")
	}
	if len(rows) == 0 {
		return 0, nil
	}
	v, _ := rows[0].Get("eligible")
	if v.Kind == models.Integer {
		return v.Int(), nil
	}
	var n int64
	if _, err := fmt.Sscan(v.String(), &n); err != nil {
		return 0, errors.Wrap(err, "parse eligible count")
	}
	return n, nil
}
