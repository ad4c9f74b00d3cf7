// Package controller exposes the judge over HTTP.
package controller

import (
	"context"
	"net/http"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// Judger judges one submission.
type Judger interface {
	Judge(ctx context.Context, sub model.Submission) model.SubmissionResult
}

// JudgeController handles judge requests.
type JudgeController struct {
	judge  Judger
	limits model.IntakeLimits
}

// NewJudgeController creates a new controller.
func NewJudgeController(judge Judger, limits model.IntakeLimits) *JudgeController {
	return &JudgeController{judge: judge, limits: limits}
}

// Register mounts the judge routes on r. The extra handlers run before
// Submit only, e.g. an admission limit.
func (h *JudgeController) Register(r gin.IRouter, submit ...gin.HandlerFunc) {
	r.POST("/submit", append(submit, h.Submit)...)
	r.GET("/status", h.Status)
}

// Submit judges the submission in the request body. Judging is bound to the
// request context.
func (h *JudgeController) Submit(c *gin.Context) {
	var sub model.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		response.ErrorWithCode(c, appErr.InvalidFormat, "Invalid submission body: "+err.Error())
		return
	}
	if err := sub.Validate(h.limits); err != nil {
		response.Error(c, err)
		return
	}

	res := h.judge.Judge(c.Request.Context(), sub)
	if res.Status == model.StatusInternalError {
		response.ErrorWithData(c, appErr.New(appErr.JudgeSystemError).WithMessage(res.Message), res)
		return
	}
	response.Success(c, res)
}

// Status answers liveness probes.
func (h *JudgeController) Status(c *gin.Context) {
	c.Status(http.StatusOK)
}
