//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"kycflow/pkg/testutil/containers"
)

func TestRedisStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.GetManager().GetRedis(t)
	suite.Run(t, &StoreContractSuite{newStore: func() sessionStore {
		require.NoError(t, rc.FlushAll(context.Background()))
		return NewRedis(rc.Client)
	}})
}

func TestPostgresStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pc := containers.GetManager().GetPostgres(t)
	st := NewPostgres(pc.DB)
	require.NoError(t, st.Migrate(context.Background()))

	suite.Run(t, &StoreContractSuite{newStore: func() sessionStore {
		require.NoError(t, pc.TruncateTables(context.Background(), "kyc_sessions"))
		return st
	}})
}
