package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type BidStatus string

const (
	BidPending   BidStatus = "PENDING"
	BidAccepted  BidStatus = "ACCEPTED"
	BidRejected  BidStatus = "REJECTED"
	BidWithdrawn BidStatus = "WITHDRAWN"
)

func ValidBidStatus(s BidStatus) bool {
	switch s {
	case BidPending, BidAccepted, BidRejected, BidWithdrawn:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further status change is allowed.
func IsTerminal(s BidStatus) bool {
	return s != BidPending
}

// Transition validates a status change. The caller supplies the expected
// current status so that a concurrent change becomes visible as an error.
func Transition(cur, from, to BidStatus) error {
	if cur != from {
		return fmt.Errorf("%w: expected %s, got %s", ErrBidNotPending, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrBidNotPending, from, to)
	}
	return nil
}

func isAllowedTransition(from, to BidStatus) bool {
	switch from {
	case BidPending:
		return to == BidAccepted || to == BidRejected || to == BidWithdrawn
	default:
		return false
	}
}

// Bid is one offer on one task.
//
// IsWinning has two meanings. While the bid is PENDING it marks the current
// provisional leader of the task and is only a display hint. Once the bid is
// ACCEPTED it marks the resolved winner and is authoritative.
type Bid struct {
	Id              string          `json:"id"`
	TaskId          string          `json:"taskId"`
	BidderId        string          `json:"bidderId"`
	BidderEmail     string          `json:"bidderEmail"`
	Amount          decimal.Decimal `json:"amount"`
	Proposal        string          `json:"proposal,omitempty"`
	Status          BidStatus       `json:"status"`
	IsWinning       bool            `json:"isWinning"`
	IsAccepted      bool            `json:"isAccepted"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	AcceptedAt      *time.Time      `json:"acceptedAt,omitempty"`
	RejectedAt      *time.Time      `json:"rejectedAt,omitempty"`
	RejectionReason string          `json:"rejectionReason,omitempty"`
	PropagatedAt    *time.Time      `json:"propagatedAt,omitempty"`
}

func (b *Bid) Accept(now time.Time) error {
	if err := Transition(b.Status, BidPending, BidAccepted); err != nil {
		return err
	}
	b.Status = BidAccepted
	b.IsAccepted = true
	b.IsWinning = true
	b.AcceptedAt = &now
	b.UpdatedAt = now
	return nil
}

func (b *Bid) Reject(reason string, now time.Time) error {
	if err := Transition(b.Status, BidPending, BidRejected); err != nil {
		return err
	}
	b.Status = BidRejected
	b.IsWinning = false
	b.RejectedAt = &now
	b.RejectionReason = reason
	b.UpdatedAt = now
	return nil
}

func (b *Bid) Withdraw(now time.Time) error {
	if err := Transition(b.Status, BidPending, BidWithdrawn); err != nil {
		return err
	}
	b.Status = BidWithdrawn
	b.IsWinning = false
	b.UpdatedAt = now
	return nil
}

// IsFinalWinner reports whether the bid is the resolved winner of its task.
func (b Bid) IsFinalWinner() bool {
	return b.Status == BidAccepted && b.IsWinning
}

// NewBid is the placement input.
type NewBid struct {
	TaskId      string
	BidderId    string
	BidderEmail string
	Amount      decimal.Decimal
	Proposal    string
}

// BidFilter selects bids from the ledger. Empty fields do not filter.
type BidFilter struct {
	TaskId      string
	BidderId    string
	BidderEmail string
	Statuses    []BidStatus
	NewestFirst bool
}

type BidStatistics struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
	Withdrawn int `json:"withdrawn"`
	Winning   int `json:"winning"`
}
