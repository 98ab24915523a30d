package hubtel

import "strings"

// Outcome is what a gateway signal says about settlement.
type Outcome int

const (
	OutcomeFailure Outcome = iota
	OutcomePending
	OutcomeSuccess
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePending:
		return "pending"
	}
	return "failure"
}

func successStatus(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "successful", "paid", "completed":
		return true
	}
	return false
}

func pendingStatus(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "unpaid", "processing":
		return true
	}
	return false
}

// ClassifyCallback: success needs both the success code and a success status.
// An explicit in-progress signal is pending; anything else is a failure.
func ClassifyCallback(code, status string) Outcome {
	code = strings.TrimSpace(code)
	switch {
	case code == CodeSuccess && successStatus(status):
		return OutcomeSuccess
	case code == CodePending || pendingStatus(status):
		return OutcomePending
	}
	return OutcomeFailure
}

// ClassifyPoll works off the poll status field. A missing status carries no
// information and counts as pending.
func ClassifyPoll(code, status string) Outcome {
	code = strings.TrimSpace(code)
	switch {
	case successStatus(status) && (code == "" || code == CodeSuccess):
		return OutcomeSuccess
	case strings.TrimSpace(status) == "" || pendingStatus(status) || code == CodePending:
		return OutcomePending
	}
	return OutcomeFailure
}
