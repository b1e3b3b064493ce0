package enforcer

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusApplied     Status = "applied"
	StatusSkipped     Status = "skipped"
	StatusResolved    Status = "resolved"
	StatusWarned      Status = "warned"
	StatusDeactivated Status = "deactivated"
	StatusFailed      Status = "failed"
)

// Outcome is the result of one contract or grace period in one job.
type Outcome struct {
	Job           string       `json:"job"`
	ContractID    snowflake.ID `json:"contract_id,omitempty"`
	OrgID         snowflake.ID `json:"org_id,omitempty"`
	GracePeriodID snowflake.ID `json:"grace_period_id,omitempty"`
	Status        Status       `json:"status"`
	Deactivated   int          `json:"deactivated,omitempty"`
	Err           error        `json:"-"`
	Error         string       `json:"error,omitempty"`
}

type Report struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Trigger   string    `json:"trigger"`
	Outcomes  []Outcome `json:"outcomes"`
}

// Failed returns the outcomes that need attention.
func (r Report) Failed() []Outcome {
	var failed []Outcome
	for _, outcome := range r.Outcomes {
		if outcome.Status == StatusFailed {
			failed = append(failed, outcome)
		}
	}
	return failed
}

// Count returns how many outcomes of job ended with status.
func (r Report) Count(job string, status Status) int {
	n := 0
	for _, outcome := range r.Outcomes {
		if outcome.Job == job && outcome.Status == status {
			n++
		}
	}
	return n
}
