package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"bidding/internal/models"
	"bidding/internal/scanner"
)

type Service interface {
	PlaceBid(ctx context.Context, req models.NewBid) (models.Bid, error)
	BidByID(ctx context.Context, bidId string) (models.Bid, error)
	AcceptBid(ctx context.Context, bidId string) (models.Bid, error)
	RejectBid(ctx context.Context, bidId, reason string) (models.Bid, error)
	WithdrawBid(ctx context.Context, bidId, bidderId string) (models.Bid, error)

	BidsByTask(ctx context.Context, taskId string) ([]models.Bid, error)
	WinningBid(ctx context.Context, taskId string) (models.Bid, error)
	LowestBid(ctx context.Context, taskId string) (models.Bid, error)
	HighestBid(ctx context.Context, taskId string) (models.Bid, error)
	BidsByBidder(ctx context.Context, bidderId string) ([]models.Bid, error)
	ActiveBidsByBidder(ctx context.Context, bidderId string) ([]models.Bid, error)
	CompletedBidsByBidder(ctx context.Context, bidderId string) ([]models.Bid, error)
	BidsByEmail(ctx context.Context, email string) ([]models.Bid, error)
	BidsByStatus(ctx context.Context, status models.BidStatus) ([]models.Bid, error)
	Statistics(ctx context.Context) (models.BidStatistics, error)
	BidsNeedingAttention(ctx context.Context) ([]models.Bid, error)

	ResolveTask(ctx context.Context, taskId string, trigger models.ResolutionTrigger) (models.Resolution, error)
	RepropagateTask(ctx context.Context, taskId string) (models.Bid, error)
	ReadyTasks(ctx context.Context) ([]string, error)
	AutoResolutionConfig() models.ResolutionConfig
}

// ScanRunner runs one deadline scan on demand.
type ScanRunner interface {
	RunOnce(ctx context.Context) (scanner.Report, error)
}

// UserHeader identifies the caller of bidder actions.
const UserHeader = "X-User-Id"

type Controller struct {
	service Service
	scanner ScanRunner
	logger  *slog.Logger
}

type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithScanRunner(s ScanRunner) Option {
	return func(c *Controller) {
		c.scanner = s
	}
}

func NewController(service Service, opts ...Option) *Controller {
	c := &Controller{
		service: service,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("caller", "Controller"))
	return c
}

// GET /api/ping
func (c *Controller) Ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

//// Bids

// POST /api/bids
func (c *Controller) PlaceBid(w http.ResponseWriter, r *http.Request) {
	data, err := c.readBody(r.Body)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "could not read request body")
		return
	}

	req, err := ParsePlaceBidReq(data)
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	bid, err := c.service.PlaceBid(r.Context(), models.NewBid{
		TaskId:      req.TaskId,
		BidderId:    req.BidderId,
		BidderEmail: req.BidderEmail,
		Amount:      req.Amount,
		Proposal:    req.Proposal,
	})
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, http.StatusCreated, bid)
}

// GET /api/bids/{bidId}
func (c *Controller) BidByID(w http.ResponseWriter, r *http.Request) {
	bidId, ok := c.pathValue(w, r, "bidId")
	if !ok {
		return
	}

	bid, err := c.service.BidByID(r.Context(), bidId)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, http.StatusOK, bid)
}

// POST /api/bids/{bidId}/accept
func (c *Controller) AcceptBid(w http.ResponseWriter, r *http.Request) {
	bidId, ok := c.pathValue(w, r, "bidId")
	if !ok {
		return
	}

	bid, err := c.service.AcceptBid(r.Context(), bidId)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, http.StatusOK, bid)
}

// POST /api/bids/{bidId}/reject
func (c *Controller) RejectBid(w http.ResponseWriter, r *http.Request) {
	bidId, ok := c.pathValue(w, r, "bidId")
	if !ok {
		return
	}

	data, err := c.readBody(r.Body)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "could not read request body")
		return
	}
	req, err := ParseRejectBidReq(data)
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	bid, err := c.service.RejectBid(r.Context(), bidId, req.Reason)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, http.StatusOK, bid)
}

// POST /api/bids/{bidId}/withdraw
func (c *Controller) WithdrawBid(w http.ResponseWriter, r *http.Request) {
	bidId, ok := c.pathValue(w, r, "bidId")
	if !ok {
		return
	}

	userId := strings.TrimSpace(r.Header.Get(UserHeader))
	if len(userId) == 0 {
		c.errorResponse(w, http.StatusBadRequest, "empty "+UserHeader+" header supplied")
		return
	}

	bid, err := c.service.WithdrawBid(r.Context(), bidId, userId)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, http.StatusOK, bid)
}

// GET /api/bids/task/{taskId}
func (c *Controller) TaskBids(w http.ResponseWriter, r *http.Request) {
	taskId, ok := c.pathValue(w, r, "taskId")
	if !ok {
		return
	}

	bids, err := c.service.BidsByTask(r.Context(), taskId)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, http.StatusOK, nonNil(bids))
}

// GET /api/bids/task/{taskId}/winning
func (c *Controller) WinningBid(w http.ResponseWriter, r *http.Request) {
	c.taskBid(w, r, c.service.WinningBid)
}

// GET /api/bids/task/{taskId}/lowest
func (c *Controller) LowestBid(w http.ResponseWriter, r *http.Request) {
	c.taskBid(w, r, c.service.LowestBid)
}

// GET /api/bids/task/{taskId}/highest
func (c *Controller) HighestBid(w http.ResponseWriter, r *http.Request) {
	c.taskBid(w, r, c.service.HighestBid)
}

func (c *Controller) taskBid(w http.ResponseWriter, r *http.Request, fetch func(context.Context, string) (models.Bid, error)) {
	taskId, ok := c.pathValue(w, r, "taskId")
	if !ok {
		return
	}

	bid, err := fetch(r.Context(), taskId)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, http.StatusOK, bid)
}

// GET /api/bids/bidder/{bidderId}?state=active|completed
func (c *Controller) BidderBids(w http.ResponseWriter, r *http.Request) {
	bidderId, ok := c.pathValue(w, r, "bidderId")
	if !ok {
		return
	}

	var fetch func(context.Context, string) ([]models.Bid, error)
	switch state := r.URL.Query().Get("state"); state {
	case "":
		fetch = c.service.BidsByBidder
	case "active":
		fetch = c.service.ActiveBidsByBidder
	case "completed":
		fetch = c.service.CompletedBidsByBidder
	default:
		c.errorResponse(w, http.StatusBadRequest, "invalid value of 'state' query parameter: "+state)
		return
	}

	bids, err := fetch(r.Context(), bidderId)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, http.StatusOK, nonNil(bids))
}

// GET /api/bids/email/{email}
func (c *Controller) EmailBids(w http.ResponseWriter, r *http.Request) {
	email, ok := c.pathValue(w, r, "email")
	if !ok {
		return
	}

	bids, err := c.service.BidsByEmail(r.Context(), email)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, http.StatusOK, nonNil(bids))
}

// GET /api/bids/status/{status}
func (c *Controller) StatusBids(w http.ResponseWriter, r *http.Request) {
	status, ok := c.pathValue(w, r, "status")
	if !ok {
		return
	}

	bids, err := c.service.BidsByStatus(r.Context(), models.BidStatus(strings.ToUpper(status)))
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, http.StatusOK, nonNil(bids))
}

// GET /api/bids/statistics
func (c *Controller) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := c.service.Statistics(r.Context())
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, http.StatusOK, stats)
}

// GET /api/bids/attention
func (c *Controller) BidsNeedingAttention(w http.ResponseWriter, r *http.Request) {
	bids, err := c.service.BidsNeedingAttention(r.Context())
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, http.StatusOK, nonNil(bids))
}

//// Resolution

// POST /api/tasks/{taskId}/resolve
func (c *Controller) ResolveTask(w http.ResponseWriter, r *http.Request) {
	taskId, ok := c.pathValue(w, r, "taskId")
	if !ok {
		return
	}

	res, err := c.service.ResolveTask(r.Context(), taskId, models.TriggerManual)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, http.StatusOK, ResolutionResp{Resolution: res, Resolved: res.Resolved()})
}

// POST /api/tasks/{taskId}/propagate
func (c *Controller) RepropagateTask(w http.ResponseWriter, r *http.Request) {
	taskId, ok := c.pathValue(w, r, "taskId")
	if !ok {
		return
	}

	bid, err := c.service.RepropagateTask(r.Context(), taskId)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, http.StatusOK, bid)
}

// GET /api/resolution/ready
func (c *Controller) ReadyTasks(w http.ResponseWriter, r *http.Request) {
	taskIds, err := c.service.ReadyTasks(r.Context())
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, http.StatusOK, nonNil(taskIds))
}

// GET /api/resolution/config
func (c *Controller) ResolutionConfig(w http.ResponseWriter, r *http.Request) {
	c.marshalResponse(w, http.StatusOK, c.service.AutoResolutionConfig())
}

// POST /api/resolution/scan
func (c *Controller) RunScan(w http.ResponseWriter, r *http.Request) {
	if c.scanner == nil {
		c.errorResponse(w, http.StatusServiceUnavailable, "automatic resolution is disabled")
		return
	}

	report, err := c.scanner.RunOnce(r.Context())
	if errors.Is(err, scanner.ErrScanInProgress) {
		c.errorResponse(w, http.StatusConflict, "a deadline scan is already running")
		return
	} else if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, http.StatusOK, report)
}

// Service

type ErrorResponse struct {
	Reason string `json:"reason"`
	Code   string `json:"code,omitempty"`
}

func (c *Controller) pathValue(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	val := strings.TrimSpace(r.PathValue(key))
	if len(val) == 0 {
		c.errorResponse(w, http.StatusBadRequest, "empty "+key+" supplied")
		return "", false
	}
	return val, true
}

func (c *Controller) errorResponse(w http.ResponseWriter, status int, text string) {
	c.writeError(w, status, ErrorResponse{Reason: text})
}

func (c *Controller) writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("could not marshal error response", slog.Any("error", err))
		return
	}

	_, err = w.Write(data)
	if err != nil {
		c.logger.Error("could not write error response", slog.Any("error", err))
		return
	}
}

func (c *Controller) serviceErrorResponse(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrState):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrDependency):
		status = http.StatusServiceUnavailable
	default:
		c.logger.Error("request failed", slog.Any("error", err))
		c.errorResponse(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ErrorResponse{Reason: err.Error()}
	var be *models.BidError
	if errors.As(err, &be) {
		resp = ErrorResponse{Reason: be.Reason, Code: be.Code}
	}
	c.writeError(w, status, resp)
}

func (c *Controller) marshalResponse(w http.ResponseWriter, status int, data any) {
	d, err := json.Marshal(data)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "could not marshal response data")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(d)
	if err != nil {
		c.logger.Error("could not write response data", slog.Any("error", err))
	}
}

func (c *Controller) readBody(src io.ReadCloser) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(src, maxBodySize))
	if err != nil {
		return nil, err
	}
	src.Close()
	return data, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
