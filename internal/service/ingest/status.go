package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/internal/repository"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
	"github.com/feichai0017/plan-takeoff/pkg/metrics"
)

// StatusError is a status write that did not reach the store.
type StatusError struct {
	PlanID string
	Stage  models.Stage
	Err    error
}

func (e StatusError) Error() string {
	return fmt.Sprintf("status write for plan %s at %s: %v", e.PlanID, e.Stage, e.Err)
}

func (e StatusError) Unwrap() error { return e.Err }

// StatusReporter writes ProcessingStatus snapshots. Writes are best effort:
// a failure is logged, counted and offered on Errors(), and never returned.
type StatusReporter struct {
	repo   repository.StatusRepository
	errs   chan StatusError
	logger logger.Logger
	now    func() time.Time
}

func NewStatusReporter(repo repository.StatusRepository, log logger.Logger) *StatusReporter {
	return &StatusReporter{
		repo:   repo,
		errs:   make(chan StatusError, 16),
		logger: log.Named("status"),
		now:    time.Now,
	}
}

// Errors exposes failed writes. When nobody drains it, failures past the
// buffer are dropped from the channel but still logged.
func (s *StatusReporter) Errors() <-chan StatusError {
	return s.errs
}

// Start writes the initial queued status.
func (s *StatusReporter) Start(ctx context.Context, planID string) *models.ProcessingStatus {
	st := models.NewProcessingStatus(s.now())
	s.write(ctx, planID, st)
	return st
}

// Advance moves st to stage and persists it. An illegal transition is
// logged and leaves st unchanged.
func (s *StatusReporter) Advance(ctx context.Context, planID string, st *models.ProcessingStatus, to models.Stage, step string) {
	if err := st.Advance(to, step, s.now()); err != nil {
		s.logger.Warn("Rejected status transition",
			logger.String("planId", planID),
			logger.String("from", string(st.Stage)),
			logger.String("to", string(to)),
		)
		return
	}
	s.write(ctx, planID, st)
}

// Update persists st without a stage change.
func (s *StatusReporter) Update(ctx context.Context, planID string, st *models.ProcessingStatus) {
	st.UpdatedAt = s.now()
	s.write(ctx, planID, st)
}

// Fail records err and moves st to failed.
func (s *StatusReporter) Fail(ctx context.Context, planID string, st *models.ProcessingStatus, err error) {
	st.Error = err.Error()
	st.ErrorCount++
	s.Advance(ctx, planID, st, models.StageFailed, "failed")
}

func (s *StatusReporter) write(ctx context.Context, planID string, st *models.ProcessingStatus) {
	err := s.repo.SaveStatus(ctx, planID, st)
	if err == nil {
		return
	}

	metrics.StatusWriteFailures.Inc()
	s.logger.Warn("Failed to persist processing status",
		logger.String("planId", planID),
		logger.String("stage", string(st.Stage)),
		logger.Error(err),
	)

	select {
	case s.errs <- StatusError{PlanID: planID, Stage: st.Stage, Err: err}:
	default:
	}
}
