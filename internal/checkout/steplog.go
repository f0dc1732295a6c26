package checkout

import "time"

const (
	StepIdempotency = "idempotency"
	StepValidate    = "validate"
	StepReserve     = "reserve"
	StepFraud       = "fraud_score"
	StepPrice       = "price"
	StepPersist     = "persist"
	StepHold        = "review_hold"
	StepCapture     = "capture_payment"
	StepConfirm     = "confirm"
	StepNotify      = "notify"
	StepSchedule    = "schedule_fulfillment"
	StepCompensate  = "compensate"
	StepReview      = "fraud_review"
	StepQueued      = "queued"
)

const (
	OutcomeConfirmed     = "confirmed"
	OutcomePendingReview = "pending_review"
	OutcomeCancelled     = "cancelled"
	OutcomeRejected      = "rejected"
	OutcomeFailed        = "failed"
	OutcomeDuplicate     = "duplicate"
	OutcomeQueued        = "queued"
)

type Step struct {
	Name       string        `json:"name"`
	OK         bool          `json:"ok"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Detail     string        `json:"detail,omitempty"`
	Error      string        `json:"error,omitempty"`
	ReasonCode string        `json:"reason_code,omitempty"`
}

// StepLog is the per-submission record of every pipeline step.
type StepLog struct {
	CorrelationID string     `json:"correlation_id"`
	SubmissionKey string     `json:"submission_key,omitempty"`
	OrderID       string     `json:"order_id,omitempty"`
	Steps         []Step     `json:"steps"`
	Outcome       string     `json:"outcome,omitempty"`
	ReasonCode    string     `json:"reason_code,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

func (l *StepLog) record(name string, start, end time.Time, detail string, err error) {
	s := Step{Name: name, OK: err == nil, StartedAt: start, Duration: end.Sub(start), Detail: detail}
	if err != nil {
		s.Error = err.Error()
		s.ReasonCode = ReasonCode(err)
	}
	l.Steps = append(l.Steps, s)
}

func (l *StepLog) finish(outcome string, err error, at time.Time) {
	l.Outcome = outcome
	l.ReasonCode = ReasonCode(err)
	l.FinishedAt = &at
}

// Step returns the last recorded step with the given name.
func (l StepLog) Step(name string) (Step, bool) {
	for i := len(l.Steps) - 1; i >= 0; i-- {
		if l.Steps[i].Name == name {
			return l.Steps[i], true
		}
	}
	return Step{}, false
}
