package model

import "codejudge/internal/judge/value"

// Status is the overall outcome of a submission.
type Status string

const (
	StatusPassed        Status = "passed"
	StatusFailed        Status = "failed"
	StatusCompileError  Status = "compileError"
	StatusInternalError Status = "internalError"
)

// ErrorKind explains why a single test case failed.
type ErrorKind string

const (
	WrongAnswer         ErrorKind = "wrongAnswer"
	TypeMismatch        ErrorKind = "typeMismatch"
	RuntimeError        ErrorKind = "runtimeError"
	TimeoutError        ErrorKind = "timeoutError"
	MemoryLimitExceeded ErrorKind = "memoryLimitExceeded"
	OutputLimitExceeded ErrorKind = "outputLimitExceeded"
)

// TestCaseResult reports one test case.
type TestCaseResult struct {
	ID            int64         `json:"id"`
	Passed        bool          `json:"passed"`
	ActualOutput  []value.Value `json:"actualOutput,omitempty"`
	FailureReason ErrorKind     `json:"failureReason,omitempty"`
	Detail        string        `json:"detail,omitempty"`
}

// SubmissionResult is the single answer for a submission. Results follow the
// order of the submitted test cases and are empty for compile and internal errors.
type SubmissionResult struct {
	Status  Status           `json:"status"`
	Results []TestCaseResult `json:"results"`
	Message string           `json:"message,omitempty"`
}

// CompileErrorResult reports a solution that did not build.
func CompileErrorResult(diagnostics string) SubmissionResult {
	return SubmissionResult{Status: StatusCompileError, Results: []TestCaseResult{}, Message: diagnostics}
}

// InternalErrorResult reports a failure of the judge itself.
func InternalErrorResult(message string) SubmissionResult {
	return SubmissionResult{Status: StatusInternalError, Results: []TestCaseResult{}, Message: message}
}

// Aggregate derives the overall status from per-case results.
func Aggregate(results []TestCaseResult) SubmissionResult {
	if results == nil {
		results = []TestCaseResult{}
	}
	status := StatusPassed
	for _, r := range results {
		if !r.Passed {
			status = StatusFailed
			break
		}
	}
	return SubmissionResult{Status: status, Results: results}
}
