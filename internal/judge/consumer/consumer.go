// Package consumer judges submissions arriving over the message queue and
// publishes their results.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const headerTraceID = "trace_id"

// Judger judges one submission.
type Judger interface {
	Judge(ctx context.Context, sub model.Submission) model.SubmissionResult
}

// ResultMessage is published for every consumed submission. Exactly one of
// Result and Error is set.
type ResultMessage struct {
	SubmissionID string                  `json:"submissionId"`
	Result       *model.SubmissionResult `json:"result,omitempty"`
	Error        string                  `json:"error,omitempty"`
	Code         appErr.ErrorCode        `json:"code,omitempty"`
}

// Config holds consumer settings.
type Config struct {
	ResultTopic    string
	Limits         model.IntakeLimits
	PublishTimeout time.Duration
}

// Consumer turns submission messages into result messages.
type Consumer struct {
	judge    Judger
	producer mq.Producer
	cfg      Config
}

// New creates a consumer.
func New(judge Judger, producer mq.Producer, cfg Config) (*Consumer, error) {
	if judge == nil || producer == nil {
		return nil, fmt.Errorf("judge and producer are required")
	}
	if cfg.ResultTopic == "" {
		return nil, fmt.Errorf("result topic is required")
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	return &Consumer{judge: judge, producer: producer, cfg: cfg}, nil
}

// HandleMessage judges the submission in msg. Invalid submissions are
// answered with an error result; only a failed publish returns an error.
func (c *Consumer) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	ctx = context.WithValue(ctx, contextkey.RequestID, msg.ID)
	if msg.ID != "" {
		ctx = context.WithValue(ctx, contextkey.SubmissionID, msg.ID)
	}
	if traceID, ok := msg.GetHeader(headerTraceID); ok {
		ctx = context.WithValue(ctx, contextkey.TraceID, traceID)
	}

	out := ResultMessage{SubmissionID: msg.ID}
	sub, err := decodeSubmission(msg.Body, c.cfg.Limits)
	if err != nil {
		logger.Warn(ctx, "reject submission message", zap.Error(err))
		out.Error = err.Error()
		out.Code = appErr.GetCode(err)
	} else {
		res := c.judge.Judge(ctx, sub)
		out.Result = &res
	}
	return c.publish(ctx, out)
}

func decodeSubmission(body []byte, limits model.IntakeLimits) (model.Submission, error) {
	var sub model.Submission
	if err := json.Unmarshal(body, &sub); err != nil {
		return model.Submission{}, appErr.Wrapf(err, appErr.InvalidFormat, "decode submission failed: %v", err)
	}
	if err := sub.Validate(limits); err != nil {
		return model.Submission{}, err
	}
	return sub, nil
}

func (c *Consumer) publish(ctx context.Context, out ResultMessage) error {
	body, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	reply := mq.NewMessage(out.SubmissionID, body)
	if traceID, ok := ctx.Value(contextkey.TraceID).(string); ok && traceID != "" {
		reply.SetHeader(headerTraceID, traceID)
	}
	// Results of a finished judging run are published even during shutdown.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.PublishTimeout)
	defer cancel()
	if err := c.producer.Publish(pubCtx, c.cfg.ResultTopic, reply); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	return nil
}
