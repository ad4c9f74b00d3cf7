// Package service drives one submission through the sandbox and the linked
// language backend.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"codejudge/internal/judge/backend"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/observer"
	"codejudge/internal/judge/sandbox"
	"codejudge/internal/judge/value"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultCloseTimeout = 30 * time.Second

// Session is a sandbox session as seen by the judge.
type Session interface {
	backend.Session
	ID() string
	// Checkpoint records the built work dir; Restore returns to it.
	Checkpoint(ctx context.Context) error
	Restore(ctx context.Context) error
	Close(ctx context.Context) error
}

// SessionOpener opens one session per submission.
type SessionOpener interface {
	Open(ctx context.Context) (Session, error)
}

type managerOpener struct {
	m *sandbox.Manager
}

// NewSandboxOpener adapts a sandbox manager to SessionOpener.
func NewSandboxOpener(m *sandbox.Manager) SessionOpener {
	return managerOpener{m: m}
}

func (o managerOpener) Open(ctx context.Context) (Session, error) {
	s, err := o.m.Open(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Config holds judge dependencies and settings.
type Config struct {
	Backend backend.Backend
	Opener  SessionOpener
	Metrics observer.MetricsRecorder
	// CloseTimeout bounds backend cleanup plus session teardown. Teardown is
	// detached from the caller's cancellation.
	CloseTimeout time.Duration
}

// Judge judges submissions. It is safe for concurrent use; every call owns
// its own session.
type Judge struct {
	backend      backend.Backend
	opener       SessionOpener
	metrics      observer.MetricsRecorder
	closeTimeout time.Duration
}

// NewJudge creates a judge.
func NewJudge(cfg Config) (*Judge, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.Opener == nil {
		return nil, fmt.Errorf("session opener is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observer.Noop{}
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	return &Judge{
		backend:      cfg.Backend,
		opener:       cfg.Opener,
		metrics:      cfg.Metrics,
		closeTimeout: cfg.CloseTimeout,
	}, nil
}

// Language is the name of the linked backend.
func (j *Judge) Language() string {
	return j.backend.Name()
}

// Judge runs sub to completion and returns its single result. The session is
// torn down before Judge returns, whatever the outcome. A cancelled ctx stops
// judging at the next step and yields an internal error.
func (j *Judge) Judge(ctx context.Context, sub model.Submission) (res model.SubmissionResult) {
	lang := j.backend.Name()
	m := newMachine()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "judge panicked",
				zap.Any("panic", r),
				zap.String("state", string(m.state)),
				zap.ByteString("stack", debug.Stack()),
			)
			res = model.InternalErrorResult(appErr.JudgeSystemError.Message())
		}
		j.metrics.ObserveSubmission(ctx, lang, string(res.Status))
		logger.Info(ctx, "submission judged",
			zap.String("language", lang),
			zap.String("status", string(res.Status)),
			zap.Int("test_cases", len(sub.TestCases)),
			zap.Duration("elapsed", time.Since(start)),
		)
	}()

	sess, err := j.opener.Open(ctx)
	if err != nil {
		m.fail(ctx, err)
		return j.internalError(ctx, appErr.Wrapf(err, appErr.SandboxError, "open sandbox session failed"))
	}
	j.metrics.SessionOpened()
	if v, _ := ctx.Value(contextkey.SubmissionID).(string); v == "" {
		ctx = context.WithValue(ctx, contextkey.SubmissionID, sess.ID())
	}
	defer j.release(ctx, sess)

	return j.judge(ctx, m, sess, sub)
}

func (j *Judge) judge(ctx context.Context, m *machine, sess Session, sub model.Submission) model.SubmissionResult {
	lang := j.backend.Name()

	if err := j.backend.Prepare(ctx, sess, sub.Solution); err != nil {
		m.fail(ctx, err)
		return j.internalError(ctx, err)
	}
	m.enter(ctx, StatePrepared)

	buildStart := time.Now()
	err := j.backend.Build(ctx, sess)
	j.metrics.ObserveCompile(ctx, lang, err == nil, time.Since(buildStart))
	if err != nil {
		if ctx.Err() == nil && appErr.Is(err, appErr.CompilationError) {
			m.enter(ctx, StateCompileFailed)
			return model.CompileErrorResult(err.Error())
		}
		m.fail(ctx, err)
		return j.internalError(ctx, err)
	}
	if err := sess.Checkpoint(ctx); err != nil {
		m.fail(ctx, err)
		return j.internalError(ctx, appErr.Wrapf(err, appErr.SandboxError, "checkpoint work dir failed"))
	}
	m.enter(ctx, StateCompiled)

	results := make([]model.TestCaseResult, 0, len(sub.TestCases))
	for i, tc := range sub.TestCases {
		m.enter(ctx, StateRunning, zap.Int("case", i), zap.Int64("case_id", tc.ID))
		caseStart := time.Now()
		// Nothing a case writes may be seen by the next one.
		if i > 0 {
			if err := sess.Restore(ctx); err != nil {
				m.fail(ctx, err)
				return j.internalError(ctx, appErr.Wrapf(err, appErr.SandboxError, "restore work dir failed"))
			}
		}
		r, err := j.runCase(ctx, sess, tc)
		if err != nil {
			j.metrics.ObserveRun(ctx, lang, string(model.StatusInternalError), time.Since(caseStart))
			m.fail(ctx, err)
			return j.internalError(ctx, err)
		}
		outcome := "passed"
		if !r.Passed {
			outcome = string(r.FailureReason)
		}
		j.metrics.ObserveRun(ctx, lang, outcome, time.Since(caseStart))
		results = append(results, r)
	}
	m.enter(ctx, StateCompleted)
	return model.Aggregate(results)
}

var failureKinds = map[appErr.ErrorCode]model.ErrorKind{
	appErr.RuntimeError:        model.RuntimeError,
	appErr.TimeLimitExceeded:   model.TimeoutError,
	appErr.MemoryLimitExceeded: model.MemoryLimitExceeded,
	appErr.OutputLimitExceeded: model.OutputLimitExceeded,
	appErr.WrongAnswer:         model.WrongAnswer,
}

// runCase runs one test case. Faults of the program become a failed result;
// the returned error is reserved for faults of the judge.
func (j *Judge) runCase(ctx context.Context, sess Session, tc model.TestCase) (model.TestCaseResult, error) {
	outputs, err := j.backend.Run(ctx, sess, tc.InputParameters)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.TestCaseResult{}, ctxErr
		}
		kind, ok := failureKinds[appErr.GetCode(err)]
		if !ok {
			return model.TestCaseResult{}, err
		}
		return model.TestCaseResult{ID: tc.ID, FailureReason: kind, Detail: err.Error()}, nil
	}

	r := model.TestCaseResult{ID: tc.ID, ActualOutput: outputs}
	kind, detail := compareOutputs(tc.OutputParameters, outputs)
	if kind == "" {
		r.Passed = true
		return r, nil
	}
	r.FailureReason = kind
	r.Detail = detail
	return r, nil
}

// compareOutputs reads each produced value as its expected type and matches
// them positionally. It returns an empty kind when every value matches.
func compareOutputs(expected, actual []value.Value) (model.ErrorKind, string) {
	if len(expected) != len(actual) {
		return model.WrongAnswer, fmt.Sprintf("expected %d values, got %d", len(expected), len(actual))
	}
	for i := range expected {
		err := value.Compare(expected[i], value.Conform(actual[i], expected[i].Type))
		if err == nil {
			continue
		}
		if errors.Is(err, value.ErrTypeMismatch) {
			return model.TypeMismatch, fmt.Sprintf("value %d: %v", i, err)
		}
		return model.WrongAnswer, fmt.Sprintf("value %d: %v", i, err)
	}
	return "", ""
}

// release runs backend cleanup and closes the session. Failures are logged
// and counted, never returned.
func (j *Judge) release(ctx context.Context, sess Session) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.closeTimeout)
	defer cancel()

	if err := j.backend.Cleanup(closeCtx, sess); err != nil {
		logger.Warn(ctx, "backend cleanup failed", zap.Error(err))
	}
	err := sess.Close(closeCtx)
	if err != nil {
		logger.Warn(ctx, "close sandbox session failed", zap.String("session", sess.ID()), zap.Error(err))
	}
	j.metrics.SessionClosed(err)
}

func (j *Judge) internalError(ctx context.Context, err error) model.SubmissionResult {
	code := appErr.GetCode(err)
	switch {
	case ctx.Err() != nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Warn(ctx, "judging cancelled", zap.Error(err))
		return model.InternalErrorResult("judging cancelled")
	case code == appErr.Success || code.SubmissionFault():
		code = appErr.JudgeSystemError
	}
	logger.Error(ctx, "judging failed", zap.Int("code", int(code)), zap.Error(err))
	return model.InternalErrorResult(code.Message())
}
