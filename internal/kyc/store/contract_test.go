package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"kycflow/internal/kyc/models"
	"kycflow/internal/kyc/policy"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
)

type sessionStore interface {
	Get(ctx context.Context, userID id.UserID) (*models.Session, error)
	Create(ctx context.Context, session *models.Session, canReplace ReplaceFunc) error
	Execute(ctx context.Context, userID id.UserID, validate ValidateFunc, mutate MutateFunc) (*models.Session, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]id.UserID, error)
	Health(ctx context.Context) error
}

// StoreContractSuite is the behaviour every backend must share. Backends
// run it with their own factory; newStore must return an empty store.
type StoreContractSuite struct {
	suite.Suite
	newStore func() sessionStore
	store    sessionStore
	ctx      context.Context
}

func (s *StoreContractSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore()
}

var baseTime = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func newSession(at time.Time) *models.Session {
	return models.NewSession(id.UserID(uuid.New()), policy.Default().Documents, at)
}

var errRefused = errors.New("refused")

func (s *StoreContractSuite) TestGetMissing() {
	_, err := s.store.Get(s.ctx, id.UserID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreContractSuite) TestCreateAndGet() {
	sess := newSession(baseTime)
	s.Require().NoError(s.store.Create(s.ctx, sess, nil))

	got, err := s.store.Get(s.ctx, sess.UserID)
	s.Require().NoError(err)
	s.Equal(sess.ID, got.ID)
	s.Equal(models.SessionCreated, got.Status)
	s.Equal(models.RiskHigh, got.RiskLevel)
	s.Len(got.Documents, 2)
	s.True(sess.UpdatedAt.Equal(got.UpdatedAt))
}

func (s *StoreContractSuite) TestCreateReplace() {
	first := newSession(baseTime)
	s.Require().NoError(s.store.Create(s.ctx, first, nil))

	s.Run("refused replacement keeps the existing session", func() {
		second := newSession(baseTime)
		second.UserID = first.UserID
		var seen id.SessionID
		err := s.store.Create(s.ctx, second, func(existing *models.Session) error {
			seen = existing.ID
			return errRefused
		})
		s.ErrorIs(err, errRefused)
		s.Equal(first.ID, seen)

		got, err := s.store.Get(s.ctx, first.UserID)
		s.Require().NoError(err)
		s.Equal(first.ID, got.ID)
	})

	s.Run("allowed replacement overwrites", func() {
		third := newSession(baseTime)
		third.UserID = first.UserID
		s.Require().NoError(s.store.Create(s.ctx, third, func(*models.Session) error { return nil }))

		got, err := s.store.Get(s.ctx, first.UserID)
		s.Require().NoError(err)
		s.Equal(third.ID, got.ID)
	})
}

func (s *StoreContractSuite) TestExecute() {
	sess := newSession(baseTime)
	s.Require().NoError(s.store.Create(s.ctx, sess, nil))

	s.Run("missing session", func() {
		_, err := s.store.Execute(s.ctx, id.UserID(uuid.New()), nil, func(*models.Session) {})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("validation failure leaves the session untouched", func() {
		_, err := s.store.Execute(s.ctx, sess.UserID,
			func(*models.Session) error { return errRefused },
			func(cur *models.Session) { cur.Status = models.SessionFailed },
		)
		s.ErrorIs(err, errRefused)

		got, err := s.store.Get(s.ctx, sess.UserID)
		s.Require().NoError(err)
		s.Equal(models.SessionCreated, got.Status)
	})

	s.Run("mutation persists and the result is a copy", func() {
		updated, err := s.store.Execute(s.ctx, sess.UserID, nil, func(cur *models.Session) {
			cur.Start()
			cur.AddFlags("checked")
		})
		s.Require().NoError(err)
		s.Equal(models.SessionInProgress, updated.Status)

		updated.AddFlags("local only")
		got, err := s.store.Get(s.ctx, sess.UserID)
		s.Require().NoError(err)
		s.Equal([]string{"checked"}, got.ComplianceFlags)
	})
}

func (s *StoreContractSuite) TestConcurrentExecuteLosesNoUpdates() {
	sess := newSession(baseTime)
	s.Require().NoError(s.store.Create(s.ctx, sess, nil))

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(s.ctx, sess.UserID, nil, func(cur *models.Session) {
				cur.AddFlags(fmt.Sprintf("writer-%d", i))
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	got, err := s.store.Get(s.ctx, sess.UserID)
	s.Require().NoError(err)
	s.Len(got.ComplianceFlags, writers)
}

func (s *StoreContractSuite) TestListStale() {
	oldest := newSession(baseTime.Add(-3 * time.Hour))
	older := newSession(baseTime.Add(-2 * time.Hour))
	fresh := newSession(baseTime)
	done := newSession(baseTime.Add(-4 * time.Hour))
	done.Status = models.SessionCompleted
	for _, sess := range []*models.Session{fresh, older, done, oldest} {
		s.Require().NoError(s.store.Create(s.ctx, sess, nil))
	}

	cutoff := baseTime.Add(-time.Hour)
	stale, err := s.store.ListStale(s.ctx, cutoff, 0)
	s.Require().NoError(err)
	s.Equal([]id.UserID{oldest.UserID, older.UserID}, stale)

	limited, err := s.store.ListStale(s.ctx, cutoff, 1)
	s.Require().NoError(err)
	s.Equal([]id.UserID{oldest.UserID}, limited)

	s.Run("closing a session removes it from the sweep", func() {
		_, err := s.store.Execute(s.ctx, oldest.UserID, nil, func(cur *models.Session) {
			cur.Status = models.SessionExpired
		})
		s.Require().NoError(err)
		stale, err := s.store.ListStale(s.ctx, cutoff, 0)
		s.Require().NoError(err)
		s.Equal([]id.UserID{older.UserID}, stale)
	})
}

func (s *StoreContractSuite) TestHealth() {
	s.NoError(s.store.Health(s.ctx))
}
