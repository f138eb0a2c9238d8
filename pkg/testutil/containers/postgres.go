//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"kycflow/internal/platform/config"
	"kycflow/internal/platform/postgres"
)

// PostgresContainer is a disposable Postgres opened through the server's
// connection setup.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("kycflow"),
		tcpostgres.WithUsername("kycflow"),
		tcpostgres.WithPassword("kycflow"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		require.NoError(t, err, "postgres connection string")
	}

	db, err := postgres.Open(ctx, config.PostgresConfig{URL: dsn, MaxOpenConns: 5})
	if err != nil {
		_ = container.Terminate(ctx)
		require.NoError(t, err, "connect to postgres container")
	}
	return &PostgresContainer{Container: container, DSN: dsn, DB: db}
}

// TruncateTables empties the named tables between suite runs.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	_, err := p.DB.ExecContext(ctx, fmt.Sprintf("TRUNCATE %s", strings.Join(tables, ", ")))
	return err
}
