//go:build !linux

package engine

import (
	"context"
	"fmt"

	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
)

type stubEngine struct{}

func NewEngine(cfg Config) (Engine, error) {
	return &stubEngine{}, nil
}

func (s *stubEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	return result.RunResult{}, fmt.Errorf("sandbox engine is only supported on linux")
}

func (s *stubEngine) KillSession(ctx context.Context, sessionID string) error {
	return nil
}

func (s *stubEngine) ReapUser(ctx context.Context, uid uint32) (int, error) {
	return 0, nil
}
