package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BiddingStatus is the task service view of a task. The engine never stores it.
type BiddingStatus struct {
	TaskId          string    `json:"taskId"`
	OpenForBidding  bool      `json:"openForBidding"`
	Status          string    `json:"status"`
	BiddingDeadline time.Time `json:"biddingDeadline"`
}

// DeadlinePassed reports whether the bidding deadline is set and lies before now.
func (s BiddingStatus) DeadlinePassed(now time.Time) bool {
	return !s.BiddingDeadline.IsZero() && now.After(s.BiddingDeadline)
}

const AssignmentStatusAssigned = "ASSIGNED"

// Assignment hands a resolved task to its winner in the task service.
type Assignment struct {
	TaskId             string          `json:"taskId"`
	AssignedUserId     string          `json:"assignedUserId"`
	AssignedUserEmail  string          `json:"assignedUserEmail"`
	AssignedAt         time.Time       `json:"assignedAt"`
	AssignmentReason   string          `json:"assignmentReason"`
	WinningBidAmount   decimal.Decimal `json:"winningBidAmount"`
	WinningBidProposal string          `json:"winningBidProposal,omitempty"`
	Status             string          `json:"status"`
}

type ResolutionTrigger string

const (
	TriggerDeadline ResolutionTrigger = "deadline"
	TriggerManual   ResolutionTrigger = "manual"
	TriggerAccept   ResolutionTrigger = "accept"
)

// Resolution is the outcome of settling one task. Winner is nil when there
// was nothing to resolve.
type Resolution struct {
	TaskId  string            `json:"taskId"`
	Trigger ResolutionTrigger `json:"trigger"`
	Winner  *Bid              `json:"winner,omitempty"`
	Losers  []Bid             `json:"losers,omitempty"`
}

func (r Resolution) Resolved() bool {
	return r.Winner != nil
}

// ResolutionEvent is published on the outcome stream after a task is settled.
type ResolutionEvent struct {
	TaskId         string    `msgpack:"taskId"`
	Trigger        string    `msgpack:"trigger"`
	WinnerBidId    string    `msgpack:"winnerBidId"`
	WinnerBidderId string    `msgpack:"winnerBidderId"`
	WinningAmount  string    `msgpack:"winningAmount"`
	RejectedBidIds []string  `msgpack:"rejectedBidIds"`
	Propagated     bool      `msgpack:"propagated"`
	ResolvedAt     time.Time `msgpack:"resolvedAt"`
}

// ResolutionConfig is the effective automatic resolution setup.
type ResolutionConfig struct {
	AutoResolutionEnabled bool            `json:"autoResolutionEnabled"`
	ScanInterval          string          `json:"scanInterval"`
	MinBidAmount          decimal.Decimal `json:"minBidAmount"`
	MaxBidAmount          decimal.Decimal `json:"maxBidAmount"`
	SelectionCriteria     string          `json:"selectionCriteria"`
}
