package engine

import (
	"time"

	"github.com/ibeckermayer/mentionbot/internal/types"
)

// PublishedReply describes the reply a cycle posted.
type PublishedReply struct {
	CastID  string            `json:"cast_id"`
	Anchor  string            `json:"anchor"`
	EventID string            `json:"event_id"`
	Backend types.BackendKind `json:"backend"`
	Text    string            `json:"text"`
}

// CycleReport summarizes one check cycle.
type CycleReport struct {
	ID             string          `json:"id"`
	Trigger        Trigger         `json:"trigger"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	Fetched        int             `json:"fetched"`
	SelfAuthored   int             `json:"self_authored"`
	Filtered       int             `json:"filtered"`
	LeaseBusy      int             `json:"lease_busy"`
	AlreadyReplied int             `json:"already_replied"`
	VerifyErrors   int             `json:"verify_errors"`
	PublishErrors  int             `json:"publish_errors"`
	Deferred       int             `json:"deferred"`
	Published      *PublishedReply `json:"published,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Duration returns how long the cycle ran.
func (r *CycleReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
