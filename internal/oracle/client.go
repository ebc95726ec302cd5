// Package oracle talks to the task service, the owner of task existence,
// bidding deadlines and task ownership.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bidding/internal/models"
)

var (
	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrEmptyResponse    = errors.New("empty response body")
)

const maxResponseSize = 1 << 20

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient returns a task service client. timeout bounds every request on
// top of any deadline carried by the request context.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("oracle.NewClient: invalid task service url %q: %w", baseURL, err)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With(slog.String("caller", "TaskServiceClient"))
	return c, nil
}

type biddingStatusResponse struct {
	TaskId          string       `json:"taskId"`
	OpenForBidding  bool         `json:"openForBidding"`
	Status          string       `json:"status"`
	BiddingDeadline deadlineTime `json:"biddingDeadline"`
}

type ownershipResponse struct {
	TaskId  string `json:"taskId"`
	UserId  string `json:"userId"`
	IsOwner bool   `json:"isOwner"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GET /api/tasks/{taskId}/bidding-status
func (c *Client) BiddingStatus(ctx context.Context, taskId string) (models.BiddingStatus, error) {
	var resp biddingStatusResponse
	err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(taskId)+"/bidding-status", nil, &resp)
	if err != nil {
		return models.BiddingStatus{}, fmt.Errorf("oracle.Client.BiddingStatus: %w", err)
	}

	return models.BiddingStatus{
		TaskId:          taskId,
		OpenForBidding:  resp.OpenForBidding,
		Status:          resp.Status,
		BiddingDeadline: time.Time(resp.BiddingDeadline),
	}, nil
}

// GET /api/tasks/{taskId}/ownership?userId=
func (c *Client) IsOwner(ctx context.Context, taskId, userId string) (bool, error) {
	path := "/api/tasks/" + url.PathEscape(taskId) + "/ownership?" + url.Values{"userId": {userId}}.Encode()

	var resp ownershipResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		return false, fmt.Errorf("oracle.Client.IsOwner: %w", err)
	}
	if !resp.Success {
		return false, fmt.Errorf("oracle.Client.IsOwner: ownership check unsuccessful: %s", resp.Message)
	}
	return resp.IsOwner, nil
}

// PUT /api/tasks/{taskId}/assign
func (c *Client) Assign(ctx context.Context, assignment models.Assignment) error {
	body, err := json.Marshal(assignment)
	if err != nil {
		return fmt.Errorf("oracle.Client.Assign: %w", err)
	}

	err = c.do(ctx, http.MethodPut, "/api/tasks/"+url.PathEscape(assignment.TaskId)+"/assign", body, nil)
	if err != nil {
		return fmt.Errorf("oracle.Client.Assign: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, dst any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("could not read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return models.ErrTaskNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.logger.Debug("task service error response",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrUnexpectedStatus, method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if dst == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: %s %s", ErrEmptyResponse, method, path)
	}
	if err = json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("could not decode response: %w", err)
	}
	return nil
}

// deadlineTime accepts RFC 3339 timestamps and zone-less local date times,
// which are read as UTC.
type deadlineTime time.Time

var deadlineLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"}

func (d *deadlineTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = deadlineTime{}
		return nil
	}

	for _, layout := range deadlineLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			*d = deadlineTime(t.UTC())
			return nil
		}
	}
	return fmt.Errorf("unsupported deadline format: %q", s)
}
