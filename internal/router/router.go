package router

import (
	"log/slog"
	"net/http"
	"time"

	"bidding/internal/controller"
)

func NewRouter(c *controller.Controller, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/ping", c.Ping)

	mux.HandleFunc("POST /api/bids", c.PlaceBid)
	mux.HandleFunc("GET /api/bids/statistics", c.Statistics)
	mux.HandleFunc("GET /api/bids/attention", c.BidsNeedingAttention)
	mux.HandleFunc("GET /api/bids/{bidId}", c.BidByID)
	mux.HandleFunc("POST /api/bids/{bidId}/accept", c.AcceptBid)
	mux.HandleFunc("POST /api/bids/{bidId}/reject", c.RejectBid)
	mux.HandleFunc("POST /api/bids/{bidId}/withdraw", c.WithdrawBid)
	mux.HandleFunc("GET /api/bids/task/{taskId}", c.TaskBids)
	mux.HandleFunc("GET /api/bids/task/{taskId}/winning", c.WinningBid)
	mux.HandleFunc("GET /api/bids/task/{taskId}/lowest", c.LowestBid)
	mux.HandleFunc("GET /api/bids/task/{taskId}/highest", c.HighestBid)
	mux.HandleFunc("GET /api/bids/bidder/{bidderId}", c.BidderBids)
	mux.HandleFunc("GET /api/bids/email/{email}", c.EmailBids)
	mux.HandleFunc("GET /api/bids/status/{status}", c.StatusBids)

	mux.HandleFunc("POST /api/tasks/{taskId}/resolve", c.ResolveTask)
	mux.HandleFunc("POST /api/tasks/{taskId}/propagate", c.RepropagateTask)
	mux.HandleFunc("GET /api/resolution/ready", c.ReadyTasks)
	mux.HandleFunc("GET /api/resolution/config", c.ResolutionConfig)
	mux.HandleFunc("POST /api/resolution/scan", c.RunScan)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("page not found"))
	})

	logger = logger.With(slog.String("caller", "Router"))

	cors := http.NewServeMux()
	cors.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+controller.UserHeader)
		w.Header().Set("Accept", "*/*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		mux.ServeHTTP(rec, r)
		logger.Debug("request served",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", time.Since(start)))
	})

	return cors
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
