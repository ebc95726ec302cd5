package models

import (
	"errors"
	"fmt"
)

// Error kinds. Every BidError unwraps to exactly one of them.
var (
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict error")
	ErrNotFound   = errors.New("not found error")
	ErrState      = errors.New("state error")
	ErrDependency = errors.New("dependency error")
)

var (
	ErrMissingField      = &BidError{Kind: ErrValidation, Code: "missing-field", Reason: "required field is missing"}
	ErrInvalidInput      = &BidError{Kind: ErrValidation, Code: "invalid-input", Reason: "request is malformed"}
	ErrAmountOutOfRange  = &BidError{Kind: ErrValidation, Code: "amount-out-of-range", Reason: "bid amount is out of the allowed range"}
	ErrTaskUnavailable   = &BidError{Kind: ErrConflict, Code: "task-unavailable", Reason: "task does not exist or is not available"}
	ErrOwnerBid          = &BidError{Kind: ErrConflict, Code: "owner-bid", Reason: "Task owners cannot bid on their own tasks. This creates a conflict of interest and is not allowed."}
	ErrDeadlinePassed    = &BidError{Kind: ErrConflict, Code: "deadline-passed", Reason: "Bidding period has expired"}
	ErrBiddingClosed     = &BidError{Kind: ErrConflict, Code: "bidding-closed", Reason: "task is not open for bidding"}
	ErrDuplicateBid      = &BidError{Kind: ErrConflict, Code: "duplicate-bid", Reason: "You have already placed a bid on this task"}
	ErrTaskResolved      = &BidError{Kind: ErrConflict, Code: "task-resolved", Reason: "task already has an accepted bid"}
	ErrNotBidOwner       = &BidError{Kind: ErrConflict, Code: "not-bid-owner", Reason: "You can only withdraw your own bids"}
	ErrBidNotFound       = &BidError{Kind: ErrNotFound, Code: "bid-not-found", Reason: "requested bid does not exist"}
	ErrTaskNotFound      = &BidError{Kind: ErrNotFound, Code: "task-not-found", Reason: "requested task does not exist"}
	ErrNoWinningBid      = &BidError{Kind: ErrNotFound, Code: "no-winning-bid", Reason: "task has no winning bid"}
	ErrBidNotPending     = &BidError{Kind: ErrState, Code: "bid-not-pending", Reason: "Only pending bids can be changed"}
	ErrOracleUnavailable = &BidError{Kind: ErrDependency, Code: "oracle-unavailable", Reason: "task service is unavailable"}
)

// BidError is a business error with a reason meant for the caller.
type BidError struct {
	Kind   error
	Code   string
	Reason string
}

func (e *BidError) Error() string {
	return e.Code + ": " + e.Reason
}

func (e *BidError) Unwrap() error {
	return e.Kind
}

// Is matches any BidError with the same code.
func (e *BidError) Is(target error) bool {
	t, ok := target.(*BidError)
	return ok && t.Code == e.Code
}

// Withf returns a copy of e with a formatted reason.
func (e *BidError) Withf(format string, args ...any) *BidError {
	return &BidError{Kind: e.Kind, Code: e.Code, Reason: fmt.Sprintf(format, args...)}
}

// Reason extracts the caller facing reason from err, if it carries one.
func Reason(err error) (string, bool) {
	var be *BidError
	if errors.As(err, &be) {
		return be.Reason, true
	}
	return "", false
}
