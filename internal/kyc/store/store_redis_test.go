package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestRedisStoreContract(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	suite.Run(t, &StoreContractSuite{newStore: func() sessionStore {
		mr.FlushAll()
		return NewRedis(client)
	}})
}

func TestRedisStoreIndexesOpenSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	st := NewRedis(client)

	sess := newSession(baseTime)
	require.NoError(t, st.Create(context.Background(), sess, nil))

	members, err := mr.ZMembers(redisOpenIndex)
	require.NoError(t, err)
	assert.Equal(t, []string{sess.UserID.String()}, members)
	assert.True(t, mr.Exists(sessionKey(sess.UserID)))

	t.Run("corrupt payload surfaces a decode error", func(t *testing.T) {
		require.NoError(t, mr.Set(sessionKey(sess.UserID), "{not json"))
		_, err := st.Get(context.Background(), sess.UserID)
		assert.ErrorContains(t, err, "decode kyc session")
	})

	t.Run("unreachable server fails health", func(t *testing.T) {
		mr.Close()
		assert.Error(t, st.Health(context.Background()))
	})
}
