// Command agentqa queries, benchmarks and cross-checks the platform's
// domain expert agents, and serves the same operations over HTTP.
package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess   = 0
	ExitRunFailed = 1 // A benchmark run ended in the failed state
	ExitError     = 2 // Configuration or runtime error
)

// RunFailedError indicates that a benchmark was started but the run
// itself failed, for example because the agent has no question bank.
type RunFailedError struct {
	RunID   string
	Message string
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("benchmark %s failed: %s", e.RunID, e.Message)
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var runErr *RunFailedError
		if errors.As(err, &runErr) {
			os.Exit(ExitRunFailed)
		}
		os.Exit(ExitError)
	}
}
