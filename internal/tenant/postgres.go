package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/onnwee/matchrank/internal/tracing"
)

// ErrSettingsUnavailable is returned when the settings table itself is
// missing, typically because migrations have not run.
var ErrSettingsUnavailable = errors.New("tenant settings unavailable")

// pgUndefinedTable is the SQLSTATE for a missing relation.
const pgUndefinedTable = "42P01"

const selectRankingConfig = `SELECT ranking_config FROM tenant_settings WHERE tenant_id = $1`

// PostgresSource reads tenant_settings.ranking_config.
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource creates a Source over db.
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// RankingConfigBlob implements Source. A NULL column reads as an empty blob.
func (s *PostgresSource) RankingConfigBlob(ctx context.Context, tenantID string) (_ []byte, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "tenant_settings", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	var blob []byte
	err = s.db.QueryRowContext(ctx, selectRankingConfig, tenantID).Scan(&blob)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("tenant %q: %w", tenantID, ErrTenantNotFound)
	case err != nil:
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUndefinedTable {
			return nil, fmt.Errorf("%w: %s", ErrSettingsUnavailable, pqErr.Message)
		}
		return nil, fmt.Errorf("failed to read ranking config for tenant %q: %w", tenantID, err)
	}
	return blob, nil
}
