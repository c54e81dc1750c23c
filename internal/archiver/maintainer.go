package archiver

import (
	"context"

	"github.com/bitbaso/Arindu/internal/connector"
	"github.com/sirupsen/logrus"
)

// Maintainer reclaims space after a cycle
type Maintainer struct {
	Logger logrus.FieldLogger
}

// Optimize runs OPTIMIZE TABLE. Failures are logged and reported as false,
// they never stop the cycle.
func (m *Maintainer) Optimize(ctx context.Context, db *connector.DatabaseConnector, table string) bool {
	m.Logger.Infof("Optimizing table %s", table)

	rows, err := db.ExecuteQuery(ctx, "OPTIMIZE TABLE "+table)
	if err != nil {
		m.Logger.Errorf("Error optimizing table %s: %v", table, err)
		return false
	}

	ok := true
	for _, row := range rows {
		msgType, _ := row.Get("Msg_type")
		msgText, _ := row.Get("Msg_text")
		if msgType.String() == "error" {
			m.Logger.Errorf("Optimize %s: %s", table, msgText.String())
			ok = false
			continue
		}
		m.Logger.Debugf("Optimize %s: %s %s", table, msgType.String(), msgText.String())
	}

	if ok {
		m.Logger.Infof("Optimized table %s", table)
	}
	return ok
}
