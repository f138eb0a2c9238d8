package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"kycflow/internal/kyc/models"
)

func TestInMemoryStoreContract(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func() sessionStore { return NewInMemory() }})
}

func TestInMemoryStoreUsersDoNotContend(t *testing.T) {
	st := NewInMemory()
	a := newSession(baseTime)
	b := newSession(baseTime)
	require.NoError(t, st.Create(context.Background(), a, nil))
	require.NoError(t, st.Create(context.Background(), b, nil))

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = st.Execute(context.Background(), a.UserID, nil, func(*models.Session) {
			close(entered)
			<-release
		})
	}()
	<-entered

	done := make(chan error, 1)
	go func() {
		_, err := st.Execute(context.Background(), b.UserID, nil, func(cur *models.Session) { cur.Start() })
		done <- err
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("write for another user blocked behind a held session")
	}
	close(release)
}
