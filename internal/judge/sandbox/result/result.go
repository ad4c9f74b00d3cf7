// Package result defines raw sandbox execution results.
package result

// RunResult captures raw sandbox execution data for one process.
type RunResult struct {
	ExitCode int
	// Signal is the terminating signal number, 0 when the process exited.
	Signal     int
	TimeMs     int64
	WallTimeMs int64
	MemoryKB   int64
	OutputKB   int64
	Stdout     string
	Stderr     string
	// TimedOut is set when the wall clock or the CPU limit stopped the process.
	TimedOut  bool
	OomKilled bool
}

// Succeeded reports a clean zero exit within limits.
func (r RunResult) Succeeded() bool {
	return r.ExitCode == 0 && r.Signal == 0 && !r.TimedOut && !r.OomKilled
}
