package sources

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
)

// SQLProvider evaluates one scalar query per metric against the
// application database
type SQLProvider struct {
	db      *sqlx.DB
	queries map[string]string
}

// NewSQLProvider creates a provider from metric id -> query
func NewSQLProvider(db *sqlx.DB, queries map[string]string) *SQLProvider {
	q := make(map[string]string, len(queries))
	for id, query := range queries {
		q[id] = query
	}
	return &SQLProvider{db: db, queries: q}
}

// Metrics implements Lister
func (p *SQLProvider) Metrics() []string {
	out := make([]string, 0, len(p.queries))
	for id := range p.queries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Value implements Provider. A query returning no row or NULL is an error so
// the metric keeps its previous value.
func (p *SQLProvider) Value(ctx context.Context, metricID string) (float64, error) {
	query, ok := p.queries[metricID]
	if !ok {
		return 0, fmt.Errorf("%s: %w", metricID, ErrUnsupported)
	}

	var v sql.NullFloat64
	if err := p.db.GetContext(ctx, &v, query); err != nil {
		return 0, fmt.Errorf("failed to query %s: %w", metricID, err)
	}
	if !v.Valid {
		return 0, fmt.Errorf("query for %s returned NULL", metricID)
	}
	return v.Float64, nil
}
