//go:build integration

package containers

import (
	"sync"
	"testing"
)

// Manager starts each backing container at most once per test binary and
// shares it across suites.
type Manager struct {
	redisOnce    sync.Once
	redis        *RedisContainer
	postgresOnce sync.Once
	postgres     *PostgresContainer
	kafkaOnce    sync.Once
	kafka        string
}

var (
	manager     *Manager
	managerOnce sync.Once
)

func GetManager() *Manager {
	managerOnce.Do(func() {
		manager = &Manager{}
	})
	return manager
}

func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	t.Helper()
	m.redisOnce.Do(func() {
		m.redis = NewRedisContainer(t)
	})
	return m.redis
}

func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	m.postgresOnce.Do(func() {
		m.postgres = NewPostgresContainer(t)
	})
	return m.postgres
}

func (m *Manager) GetKafka(t *testing.T) string {
	t.Helper()
	m.kafkaOnce.Do(func() {
		m.kafka = NewKafkaBroker(t)
	})
	return m.kafka
}
