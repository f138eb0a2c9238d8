package service

import (
	"errors"
	"time"

	"go.uber.org/mock/gomock"

	"kycflow/internal/kyc/models"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/audit"
	"kycflow/pkg/requestcontext"
)

func (s *ServiceSuite) TestCreateSession() {
	s.Run("initialises required documents from policy", func() {
		userID := newUserID()
		session := s.createSession(userID)

		s.Equal(models.SessionCreated, session.Status)
		s.Equal(models.RiskHigh, session.RiskLevel)
		s.Equal(0, session.OverallScore)
		s.Equal("prov-"+userID.String(), session.ProviderSessionID)
		s.Require().Len(session.Documents, 2)
		s.Equal(govID, session.Documents[0].ID)
		s.Equal(models.RecordPending, session.Documents[0].Status)
		s.Nil(session.Biometric)
		s.Contains(s.actions(), string(audit.EventSessionCreated))
	})

	s.Run("active session blocks creation without reset", func() {
		userID := newUserID()
		s.createSession(userID)

		_, err := s.service.CreateSession(s.ctx, userID, false)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("reset replaces the session", func() {
		userID := newUserID()
		first := s.createSession(userID)
		s.submitPersonalInfo(userID)

		s.provider.EXPECT().OpenSession(gomock.Any(), userID).Return("prov-2", nil)
		second, err := s.service.CreateSession(s.ctx, userID, true)
		s.Require().NoError(err)
		s.NotEqual(first.ID, second.ID)
		s.Equal(models.SessionCreated, second.Status)
		s.Empty(second.CompletedSteps)

		stored, err := s.service.GetSession(s.ctx, userID)
		s.Require().NoError(err)
		s.Equal(second.ID, stored.ID)
	})

	s.Run("failed session can be replaced without reset", func() {
		userID := newUserID()
		s.createSession(userID)
		finalized, err := s.service.Finalize(s.ctx, userID)
		s.Require().NoError(err)
		s.Require().Equal(models.SessionFailed, finalized.Status)

		s.provider.EXPECT().OpenSession(gomock.Any(), userID).Return("prov-3", nil)
		_, err = s.service.CreateSession(s.ctx, userID, false)
		s.NoError(err)
	})

	s.Run("provider outage is retryable", func() {
		userID := newUserID()
		s.provider.EXPECT().OpenSession(gomock.Any(), userID).Return("", errors.New("dial tcp: refused"))
		_, err := s.service.CreateSession(s.ctx, userID, false)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

		_, err = s.service.GetSession(s.ctx, userID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestGetSessionNotFound() {
	_, err := s.service.GetSession(s.ctx, newUserID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.GetProgress(s.ctx, newUserID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	approved, err := s.service.IsKYCApproved(s.ctx, newUserID())
	s.NoError(err)
	s.False(approved)
}

func (s *ServiceSuite) TestSubmitPersonalInfo() {
	s.Run("valid info completes the step", func() {
		userID := newUserID()
		s.createSession(userID)

		session, err := s.service.SubmitPersonalInfo(s.ctx, userID, validPersonalInfo())
		s.Require().NoError(err)
		s.Equal(models.SessionInProgress, session.Status)
		s.True(session.IsStepCompleted(models.StepPersonalInfo))
		s.Equal(25, session.OverallScore)
		s.Equal("+12015550123", session.PersonalInfo.Phone)
	})

	s.Run("seventeen year old is rejected as underage", func() {
		userID := newUserID()
		s.createSession(userID)
		info := validPersonalInfo()
		info.DateOfBirth = testNow.AddDate(-17, 0, 0).Format("2006-01-02")

		_, err := s.service.SubmitPersonalInfo(s.ctx, userID, info)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		de, _ := dErrors.As(err)
		s.Require().Len(de.Fields, 1)
		s.Equal("date_of_birth", de.Fields[0].Field)

		session, err := s.service.GetSession(s.ctx, userID)
		s.Require().NoError(err)
		s.True(session.HasFlag(models.FlagUnderage))
		s.Contains(session.FailedSteps, models.StepPersonalInfo)
		s.Equal(0, session.OverallScore)
		s.Nil(session.PersonalInfo)
	})

	s.Run("eighteen years and one day passes", func() {
		userID := newUserID()
		s.createSession(userID)
		info := validPersonalInfo()
		info.DateOfBirth = testNow.AddDate(-18, 0, -1).Format("2006-01-02")

		session, err := s.service.SubmitPersonalInfo(s.ctx, userID, info)
		s.Require().NoError(err)
		s.True(session.IsStepCompleted(models.StepPersonalInfo))
	})

	s.Run("every invalid field is flagged", func() {
		userID := newUserID()
		s.createSession(userID)
		info := validPersonalInfo()
		info.FirstName = ""
		info.Phone = "12"

		_, err := s.service.SubmitPersonalInfo(s.ctx, userID, info)
		s.Require().Error(err)

		session, err := s.service.GetSession(s.ctx, userID)
		s.Require().NoError(err)
		s.True(session.HasFlag(models.InvalidFieldFlag("first_name")))
		s.True(session.HasFlag(models.InvalidFieldFlag("phone")))
		s.Equal(models.SessionInProgress, session.Status)
	})

	s.Run("failed resubmission keeps earlier credit", func() {
		userID := newUserID()
		s.createSession(userID)
		s.submitPersonalInfo(userID)

		info := validPersonalInfo()
		info.LastName = ""
		_, err := s.service.SubmitPersonalInfo(s.ctx, userID, info)
		s.Require().Error(err)

		session, err := s.service.GetSession(s.ctx, userID)
		s.Require().NoError(err)
		s.True(session.IsStepCompleted(models.StepPersonalInfo))
		s.Equal(25, session.OverallScore)
		s.Equal("Doe", session.PersonalInfo.LastName)
	})

	s.Run("finalized session refuses submissions", func() {
		userID := newUserID()
		s.createSession(userID)
		_, err := s.service.Finalize(s.ctx, userID)
		s.Require().NoError(err)

		_, err = s.service.SubmitPersonalInfo(s.ctx, userID, validPersonalInfo())
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ServiceSuite) TestFinalize() {
	s.Run("is idempotent", func() {
		userID := newUserID()
		s.createSession(userID)
		s.submitPersonalInfo(userID)
		s.expectDocument(govID, docResult(0.95, "JANE DOE"))
		_, err := s.service.SubmitDocument(s.ctx, userID, govID, "file://id.jpg")
		s.Require().NoError(err)

		first, err := s.service.Finalize(s.ctx, userID)
		s.Require().NoError(err)
		second, err := s.service.Finalize(s.ctx, userID)
		s.Require().NoError(err)

		s.Equal(first.Status, second.Status)
		s.Equal(first.RiskLevel, second.RiskLevel)
		s.Equal(first.OverallScore, second.OverallScore)
		s.Equal(models.SessionFailed, second.Status)
		s.Equal(models.RiskHigh, second.RiskLevel)
	})

	s.Run("three of four steps cannot complete", func() {
		userID := newUserID()
		s.createSession(userID)
		s.submitPersonalInfo(userID)
		s.expectDocument(govID, docResult(0.95, "JANE DOE"))
		s.expectDocument(proofOfAddress, docResult(0.9, "Jane Doe"))
		_, err := s.service.SubmitDocument(s.ctx, userID, govID, "file://id.jpg")
		s.Require().NoError(err)
		_, err = s.service.SubmitDocument(s.ctx, userID, proofOfAddress, "file://bill.pdf")
		s.Require().NoError(err)

		session, err := s.service.Finalize(s.ctx, userID)
		s.Require().NoError(err)
		s.Equal(75, session.OverallScore)
		s.Equal(models.SessionInProgress, session.Status)
		s.Equal(models.RiskMedium, session.RiskLevel)
		s.True(session.ReviewRequired)
		s.True(session.HasFlag(models.FlagManualReview))
		s.NotNil(session.FinalizedAt)

		approved, err := s.service.IsKYCApproved(s.ctx, userID)
		s.NoError(err)
		s.False(approved)
	})

	s.Run("expired session cannot be finalized", func() {
		userID := newUserID()
		s.createSession(userID)
		_, err := s.service.ExpireSession(s.ctx, userID)
		s.Require().NoError(err)

		_, err = s.service.Finalize(s.ctx, userID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unknown user", func() {
		_, err := s.service.Finalize(s.ctx, newUserID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestAutoApprove() {
	s.Run("disabled by default", func() {
		_, err := s.service.AutoApprove(s.ctx, newUserID(), RoleDemo)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.Equal("demo_disabled", dErrors.ReasonOf(err))
	})

	s.Run("never in production", func() {
		svc := s.newService(WithDemoApproval(true, true))
		s.False(svc.DemoApprovalEnabled())
		_, err := svc.AutoApprove(s.ctx, newUserID(), RoleAdmin)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.Equal("production", dErrors.ReasonOf(err))
	})

	s.Run("requires demo or admin role", func() {
		svc := s.newService(WithDemoApproval(true, false))
		_, err := svc.AutoApprove(s.ctx, newUserID(), "user")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.Equal("role", dErrors.ReasonOf(err))
	})

	s.Run("synthesises a verified session without analysis", func() {
		svc := s.newService(WithDemoApproval(true, false))
		userID := newUserID()
		actor := newUserID()
		ctx := requestcontext.WithUserID(s.ctx, actor)

		session, err := svc.AutoApprove(ctx, userID, RoleDemo)
		s.Require().NoError(err)
		s.Equal(models.SessionCompleted, session.Status)
		s.Equal(models.RiskLow, session.RiskLevel)
		s.Equal(100, session.OverallScore)
		s.Equal(RoleDemo, session.ApprovedBy)
		s.Len(session.CompletedSteps, 4)
		s.True(session.HasFlag(models.FlagAutoApproved))

		approved, err := svc.IsKYCApproved(s.ctx, userID)
		s.Require().NoError(err)
		s.True(approved)

		event, ok := s.lastEvent(audit.EventAutoApproved)
		s.Require().True(ok)
		s.Equal(actor.String(), event.ActorID)
		s.Equal(audit.CategoryCompliance, event.Category)
	})
}

func (s *ServiceSuite) TestExpiry() {
	s.Run("expire session", func() {
		userID := newUserID()
		s.createSession(userID)

		session, err := s.service.ExpireSession(s.ctx, userID)
		s.Require().NoError(err)
		s.Equal(models.SessionExpired, session.Status)
		s.NotNil(session.ExpiredAt)

		_, err = s.service.ExpireSession(s.ctx, userID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		_, err = s.service.SubmitDocument(s.ctx, userID, govID, "file://id.jpg")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		s.provider.EXPECT().OpenSession(gomock.Any(), userID).Return("prov-new", nil)
		_, err = s.service.CreateSession(s.ctx, userID, false)
		s.NoError(err, "expired sessions do not block a new one")
	})

	s.Run("expire stale sweeps only open sessions past the ttl", func() {
		longAgo := requestcontext.WithTime(s.ctx, testNow.Add(-40*24*time.Hour))

		stale := newUserID()
		s.provider.EXPECT().OpenSession(gomock.Any(), stale).Return("prov-stale", nil)
		_, err := s.service.CreateSession(longAgo, stale, false)
		s.Require().NoError(err)

		finalized := newUserID()
		s.provider.EXPECT().OpenSession(gomock.Any(), finalized).Return("prov-final", nil)
		_, err = s.service.CreateSession(longAgo, finalized, false)
		s.Require().NoError(err)
		_, err = s.service.Finalize(longAgo, finalized)
		s.Require().NoError(err)

		fresh := newUserID()
		s.createSession(fresh)

		count, err := s.service.ExpireStale(s.ctx, 0)
		s.Require().NoError(err)
		s.Equal(1, count)

		session, err := s.service.GetSession(s.ctx, stale)
		s.Require().NoError(err)
		s.Equal(models.SessionExpired, session.Status)

		session, err = s.service.GetSession(s.ctx, finalized)
		s.Require().NoError(err)
		s.Equal(models.SessionFailed, session.Status)

		session, err = s.service.GetSession(s.ctx, fresh)
		s.Require().NoError(err)
		s.Equal(models.SessionCreated, session.Status)

		count, err = s.service.ExpireStale(s.ctx, 0)
		s.Require().NoError(err)
		s.Zero(count)
	})
}
