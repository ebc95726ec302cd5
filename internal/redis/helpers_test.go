package redis

import (
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"bidding/internal/models"
)

func setupTest(t *testing.T) (*redis.Client, redismock.ClientMock, func()) {
	db, mock := redismock.NewClientMock()
	return db, mock, func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
}

func testEvent() models.ResolutionEvent {
	return models.ResolutionEvent{
		TaskId:         "task-1",
		Trigger:        string(models.TriggerDeadline),
		WinnerBidId:    "bid-1",
		WinnerBidderId: "bidder-1",
		WinningAmount:  "42.5",
		RejectedBidIds: []string{"bid-2", "bid-3"},
		Propagated:     true,
		ResolvedAt:     time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC),
	}
}
