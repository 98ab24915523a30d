package ledger

import "momopay-service/internal/models"

// Source names the channel a transition was observed on. It decides which raw
// payload column is written.
type Source string

const (
	SourceInitiation Source = "initiation"
	SourceCallback   Source = "callback"
	SourcePoll       Source = "poll"
	SourceOTP        Source = "otp"
)

// allowed is the complete status state machine. cancelled has no automatic
// exits and no automatic entry.
var allowed = map[models.TransactionStatus][]models.TransactionStatus{
	models.StatusPending:    {models.StatusProcessing, models.StatusFailed},
	models.StatusProcessing: {models.StatusProcessing, models.StatusCompleted, models.StatusFailed},
	models.StatusCompleted:  {models.StatusCompleted},
	models.StatusFailed:     {models.StatusFailed},
}

// Allowed reports whether from -> to is a legal move.
func Allowed(from, to models.TransactionStatus) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
