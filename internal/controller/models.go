package controller

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"bidding/internal/models"
)

const maxBodySize = 1 << 20

// Place bid request

type PlaceBidReq struct {
	TaskId      string          `json:"taskId"`
	BidderId    string          `json:"bidderId"`
	BidderEmail string          `json:"bidderEmail"`
	Amount      decimal.Decimal `json:"amount"`
	Proposal    string          `json:"proposal"`
}

func ParsePlaceBidReq(data []byte) (*PlaceBidReq, error) {
	t := &PlaceBidReq{}

	err := json.Unmarshal(data, t)
	if err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}

	if err = checkLengthLimit(t.TaskId, "taskId", 100); err != nil {
		return nil, err
	}
	if err = checkLengthLimit(t.BidderId, "bidderId", 100); err != nil {
		return nil, err
	}
	if err = checkLengthLimit(t.BidderEmail, "bidderEmail", 255); err != nil {
		return nil, err
	}
	if err = checkLengthLimit(t.Proposal, "proposal", 5000); err != nil {
		return nil, err
	}
	if !t.Amount.IsPositive() {
		return nil, fmt.Errorf("field 'amount' must be a positive number")
	}
	if t.Amount.Exponent() < -2 {
		return nil, fmt.Errorf("field 'amount' supports at most 2 decimal places")
	}

	return t, nil
}

// Reject bid request

type RejectBidReq struct {
	Reason string `json:"reason"`
}

// ParseRejectBidReq accepts an empty body, which means the default reason.
func ParseRejectBidReq(data []byte) (*RejectBidReq, error) {
	t := &RejectBidReq{}
	if len(data) == 0 {
		return t, nil
	}

	err := json.Unmarshal(data, t)
	if err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}

	if err = checkLengthLimit(t.Reason, "reason", 500); err != nil {
		return nil, err
	}
	return t, nil
}

// Resolution response

type ResolutionResp struct {
	models.Resolution
	Resolved bool `json:"resolved"`
}

// Service

func checkLengthLimit(str, fieldName string, limit int) error {
	if len(str) > limit {
		return fmt.Errorf("field '%s' exceeds length limit: %d / %d", fieldName, len(str), limit)
	}
	return nil
}
