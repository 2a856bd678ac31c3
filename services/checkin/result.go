package checkin

import "time"

// Result statuses. A result never changes status once created.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Result is the immutable outcome of one account's check-in.
type Result struct {
	Platform string
	Account  string
	Status   string
	Message  string
	// Details carries free-form extras for the report, like browse and
	// like counts or the session method.
	Details map[string]string
}

func successResult(platform, account, message string, details map[string]string) Result {
	return Result{
		Platform: platform,
		Account:  account,
		Status:   StatusSuccess,
		Message:  message,
		Details:  details,
	}
}

func failedResult(platform, account, message string) Result {
	return Result{
		Platform: platform,
		Account:  account,
		Status:   StatusFailed,
		Message:  message,
	}
}

func skippedResult(platform, account, message string) Result {
	return Result{
		Platform: platform,
		Account:  account,
		Status:   StatusSkipped,
		Message:  message,
	}
}

// Summary aggregates one full run.
type Summary struct {
	RunId    string
	Started  time.Time
	Finished time.Time
	Results  []Result
	// Changed maps account names whose status differs from the
	// previous recorded run.
	Changed map[string]string
}

func (s Summary) count(status string) int {
	n := 0
	for _, r := range s.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

func (s Summary) Successes() int { return s.count(StatusSuccess) }
func (s Summary) Failures() int  { return s.count(StatusFailed) }
func (s Summary) Skipped() int   { return s.count(StatusSkipped) }

// ExitCode is 0 when at least one account succeeded, 1 otherwise.
func (s Summary) ExitCode() int {
	if s.Successes() > 0 {
		return 0
	}
	return 1
}
