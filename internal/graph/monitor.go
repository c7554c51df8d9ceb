package graph

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// DefaultNodeWarnThreshold is the store size at which growth warnings start.
const DefaultNodeWarnThreshold = 5000

// Stats is a point-in-time snapshot of the decision graph.
type Stats struct {
	NodeCount     int     `json:"node_count"`
	EdgeCount     int     `json:"edge_count"`
	AvgSimilarity float64 `json:"avg_similarity"`
	DBBytes       int64   `json:"db_bytes"`
}

// Health is the result of a health check.
type Health struct {
	Status string   `json:"status"` // "ok" or "degraded"
	Issues []string `json:"issues,omitempty"`
}

// Monitor observes the graph without participating in deliberations.
type Monitor struct {
	store         *Store
	dbPath        string
	warnThreshold int
	logger        *slog.Logger
}

// NewMonitor builds a monitor. A non-positive warnThreshold takes the
// default.
func NewMonitor(store *Store, dbPath string, warnThreshold int, logger *slog.Logger) *Monitor {
	if warnThreshold <= 0 {
		warnThreshold = DefaultNodeWarnThreshold
	}
	return &Monitor{store: store, dbPath: dbPath, warnThreshold: warnThreshold, logger: logger}
}

// GetStats collects counts and database size, warning when the store has
// grown past the configured threshold.
func (m *Monitor) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	var err error
	if stats.NodeCount, err = m.store.NodeCount(ctx); err != nil {
		return stats, err
	}
	if stats.EdgeCount, err = m.store.EdgeCount(ctx); err != nil {
		return stats, err
	}
	if stats.AvgSimilarity, err = m.store.AvgSimilarity(ctx); err != nil {
		return stats, err
	}
	if m.dbPath != "" && m.dbPath != ":memory:" {
		if info, statErr := os.Stat(m.dbPath); statErr == nil {
			stats.DBBytes = info.Size()
		}
	}

	if stats.NodeCount > m.warnThreshold {
		m.logger.Warn("graph monitor: store size over threshold",
			"node_count", stats.NodeCount, "threshold", m.warnThreshold)
	}
	return stats, nil
}

// HealthCheck verifies connectivity and schema presence.
func (m *Monitor) HealthCheck(ctx context.Context) Health {
	var issues []string

	if _, err := m.store.SchemaVersion(ctx); err != nil {
		issues = append(issues, fmt.Sprintf("schema version unreadable: %v", err))
	}
	for _, table := range []string{"decision_nodes", "participant_stances", "decision_similarities"} {
		var n int
		q := fmt.Sprintf("SELECT COUNT(*) FROM %s", table) //nolint:gosec // table names are fixed
		if err := m.store.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
			issues = append(issues, fmt.Sprintf("table %s unreadable: %v", table, err))
		}
	}

	if len(issues) > 0 {
		return Health{Status: "degraded", Issues: issues}
	}
	return Health{Status: "ok"}
}
