// Package model holds the submission and result types exchanged with the judge.
package model

import (
	"fmt"

	"codejudge/internal/judge/value"
	appErr "codejudge/pkg/errors"
)

// TestCase is one positional call of the solution and the values it must return.
type TestCase struct {
	ID               int64         `json:"id"`
	InputParameters  []value.Value `json:"inputParameters"`
	OutputParameters []value.Value `json:"outputParameters"`
}

// Submission is a solution plus its ordered test cases.
type Submission struct {
	Solution  string     `json:"solution"`
	TestCases []TestCase `json:"testCases"`
}

// IntakeLimits bounds what a single submission may carry.
type IntakeLimits struct {
	MaxSourceBytes int
	MaxTestCases   int
}

// Validate checks a decoded submission before it reaches the judge. Every
// value must lexically match its declared type.
func (s Submission) Validate(limits IntakeLimits) error {
	if s.Solution == "" {
		return appErr.ValidationError("solution", "required")
	}
	if limits.MaxSourceBytes > 0 && len(s.Solution) > limits.MaxSourceBytes {
		return appErr.Newf(appErr.CodeTooLarge, "solution exceeds %d bytes", limits.MaxSourceBytes)
	}
	if limits.MaxTestCases > 0 && len(s.TestCases) > limits.MaxTestCases {
		return appErr.Newf(appErr.TooManyTestCases, "at most %d test cases are allowed", limits.MaxTestCases)
	}
	seen := make(map[int64]struct{}, len(s.TestCases))
	for i, tc := range s.TestCases {
		if _, dup := seen[tc.ID]; dup {
			return appErr.ValidationError(fmt.Sprintf("testCases[%d].id", i), fmt.Sprintf("duplicate id %d", tc.ID))
		}
		seen[tc.ID] = struct{}{}
		if err := validateValues(tc.InputParameters, fmt.Sprintf("testCases[%d].inputParameters", i)); err != nil {
			return err
		}
		if err := validateValues(tc.OutputParameters, fmt.Sprintf("testCases[%d].outputParameters", i)); err != nil {
			return err
		}
	}
	return nil
}

func validateValues(values []value.Value, field string) error {
	for i, v := range values {
		if err := v.Validate(); err != nil {
			return appErr.Wrapf(err, appErr.InvalidValue, "%s[%d]: %v", field, i, err).
				WithDetail("field", fmt.Sprintf("%s[%d]", field, i)).
				WithDetail("reason", err.Error())
		}
	}
	return nil
}
