//go:build integration

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	id "kycflow/pkg/domain"
	audit "kycflow/pkg/platform/audit"
	"kycflow/pkg/testutil/containers"
)

func TestStore_ProducesToBroker(t *testing.T) {
	broker := containers.GetManager().GetKafka(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := NewClient([]string{broker}, "kycflow-test")
	require.NoError(t, err)
	defer client.Close()

	topic := "kyc.audit." + uuid.NewString()[:8]
	require.NoError(t, EnsureTopic(ctx, client, topic, 1, 1))
	require.NoError(t, EnsureTopic(ctx, client, topic, 1, 1), "second call must be idempotent")

	userID := id.UserID(uuid.New())
	store := New(client, topic)
	require.NoError(t, store.Append(ctx, audit.Event{UserID: userID, Action: string(audit.EventSessionCreated)}))

	consumer, err := kgo.NewClient(kgo.SeedBrokers(broker), kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.Empty(t, fetches.Errors())
	records := fetches.Records()
	require.NotEmpty(t, records)
	require.Equal(t, userID.String(), string(records[0].Key))
}
