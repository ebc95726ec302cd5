// Package selector picks the winning bid of a task.
//
// Bids are ranked by amount ascending, then by creation time ascending, so the
// lowest price wins and equal prices go to whoever bid first. The bid id breaks
// any remaining tie to keep the order total.
package selector

import (
	"slices"

	"bidding/internal/models"
)

// Compare orders two bids by (amount, createdAt, id).
func Compare(a, b models.Bid) int {
	if c := a.Amount.Cmp(b.Amount); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.Id < b.Id:
		return -1
	case a.Id > b.Id:
		return 1
	}
	return 0
}

// Sort returns the pending bids of the input in ranking order. The input is not modified.
func Sort(bids []models.Bid) []models.Bid {
	pending := make([]models.Bid, 0, len(bids))
	for _, bid := range bids {
		if bid.Status == models.BidPending {
			pending = append(pending, bid)
		}
	}
	slices.SortStableFunc(pending, Compare)
	return pending
}

// Select returns the winner and the ordered losers among the pending bids.
// ok is false when there is no pending bid.
func Select(bids []models.Bid) (winner models.Bid, losers []models.Bid, ok bool) {
	ranked := Sort(bids)
	if len(ranked) == 0 {
		return models.Bid{}, nil, false
	}
	return ranked[0], ranked[1:], true
}

// Leader returns the id of the current provisional leader, or "" if there is
// no pending bid.
func Leader(bids []models.Bid) string {
	winner, _, ok := Select(bids)
	if !ok {
		return ""
	}
	return winner.Id
}
