//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	tcredpanda "github.com/testcontainers/testcontainers-go/modules/redpanda"
)

// NewKafkaBroker starts Redpanda for the audit topic tests and returns the
// seed broker address.
func NewKafkaBroker(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcredpanda.Run(ctx, "docker.redpanda.com/redpandadata/redpanda:v24.1.7",
		tcredpanda.WithAutoCreateTopics(),
	)
	require.NoError(t, err, "start redpanda container")

	broker, err := container.KafkaSeedBroker(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		require.NoError(t, err, "kafka seed broker")
	}
	return broker
}
