package app

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"bidding/internal/config"
	"bidding/internal/models"
	"bidding/internal/scanner"
)

// URL of DB to perform tests on, taken from TEST_POSTGRES_CONN
var TestDBConn = os.Getenv("TEST_POSTGRES_CONN")

func TestAppStartup(t *testing.T) {
	app, _ := StartupApp(t)
	StopApp(app)
}

func TestPing(t *testing.T) {
	app, _ := StartupApp(t)
	defer StopApp(app)

	ReqTest(t, app, "GET", "/api/ping", "", "ping", http.StatusOK)
}

func TestBidLifecycle(t *testing.T) {
	app, tasks := StartupApp(t)
	defer StopApp(app)

	taskId := gofakeit.UUID()
	tasks.open(taskId, "owner-1", time.Now().Add(time.Hour))

	ReqTest(t, app, "POST", "/api/bids", placeBody(taskId, "owner-1", "50"), "owner bid", http.StatusConflict)
	ReqTest(t, app, "POST", "/api/bids", placeBody(taskId, "bidder-1", "0"), "zero amount", http.StatusBadRequest)
	ReqTest(t, app, "POST", "/api/bids", placeBody(taskId, "bidder-1", "20000"), "amount above max", http.StatusBadRequest)

	high := decodeBid(t, ReqTest(t, app, "POST", "/api/bids", placeBody(taskId, "bidder-1", "80"), "first bid", http.StatusCreated))
	if !high.IsWinning {
		t.Errorf("Only bid should be the provisional leader")
	}
	low := decodeBid(t, ReqTest(t, app, "POST", "/api/bids", placeBody(taskId, "bidder-2", "45.50"), "lower bid", http.StatusCreated))
	mid := decodeBid(t, ReqTest(t, app, "POST", "/api/bids", placeBody(taskId, "bidder-3", "60"), "middle bid", http.StatusCreated))
	ReqTest(t, app, "POST", "/api/bids", placeBody(taskId, "bidder-1", "10"), "duplicate bid", http.StatusConflict)

	leader := decodeBid(t, ReqTest(t, app, "GET", "/api/bids/task/"+taskId+"/winning", "", "provisional leader", http.StatusOK))
	if leader.Id != low.Id {
		t.Errorf("Expected lowest bid %s to lead, got %s", low.Id, leader.Id)
	}

	ReqTest(t, app, "POST", "/api/bids/"+mid.Id+"/withdraw", "", "withdraw without caller", http.StatusBadRequest)
	ReqTestHeader(t, app, "POST", "/api/bids/"+mid.Id+"/withdraw", "bidder-1", "withdraw foreign bid", http.StatusConflict)
	withdrawn := decodeBid(t, ReqTestHeader(t, app, "POST", "/api/bids/"+mid.Id+"/withdraw", "bidder-3", "withdraw own bid", http.StatusOK))
	if withdrawn.Status != models.BidWithdrawn {
		t.Errorf("Expected WITHDRAWN, got %s", withdrawn.Status)
	}

	// deadline passes, the scan settles the task
	tasks.expire(taskId)
	var report scanner.Report
	data := ReqTest(t, app, "POST", "/api/resolution/scan", "", "scan", http.StatusOK)
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatal(err)
	}
	if report.Resolved != 1 {
		t.Errorf("Expected one resolved task, got %+v", report)
	}

	winner := decodeBid(t, ReqTest(t, app, "GET", "/api/bids/task/"+taskId+"/winning", "", "winner", http.StatusOK))
	if winner.Id != low.Id || winner.Status != models.BidAccepted {
		t.Errorf("Expected accepted winner %s, got %s (%s)", low.Id, winner.Id, winner.Status)
	}

	loser := decodeBid(t, ReqTest(t, app, "GET", "/api/bids/"+high.Id, "", "loser", http.StatusOK))
	if loser.Status != models.BidRejected || loser.IsWinning {
		t.Errorf("Expected rejected loser, got %s winning=%v", loser.Status, loser.IsWinning)
	}

	assigned, ok := tasks.assignment(taskId)
	if !ok {
		t.Fatal("Winner was not propagated to the task service")
	}
	if assigned.AssignedUserId != "bidder-2" || !assigned.WinningBidAmount.Equal(low.Amount) {
		t.Errorf("Unexpected assignment %+v", assigned)
	}

	ReqTest(t, app, "POST", "/api/tasks/"+taskId+"/resolve", "", "resolve settled task", http.StatusOK)
	ReqTest(t, app, "POST", "/api/bids/"+high.Id+"/accept", "", "accept settled bid", http.StatusUnprocessableEntity)

	var stats models.BidStatistics
	data = ReqTest(t, app, "GET", "/api/bids/statistics", "", "statistics", http.StatusOK)
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatal(err)
	}
	want := models.BidStatistics{Total: 3, Accepted: 1, Rejected: 1, Withdrawn: 1, Winning: 1}
	if stats != want {
		t.Errorf("Expected %+v, got %+v", want, stats)
	}
}

func TestManualAccept(t *testing.T) {
	app, tasks := StartupApp(t)
	defer StopApp(app)

	taskId := gofakeit.UUID()
	tasks.open(taskId, "owner-1", time.Now().Add(time.Hour))

	first := decodeBid(t, ReqTest(t, app, "POST", "/api/bids", placeBody(taskId, "bidder-1", "30"), "first bid", http.StatusCreated))
	second := decodeBid(t, ReqTest(t, app, "POST", "/api/bids", placeBody(taskId, "bidder-2", "90"), "second bid", http.StatusCreated))

	accepted := decodeBid(t, ReqTest(t, app, "POST", "/api/bids/"+second.Id+"/accept", "", "accept", http.StatusOK))
	if accepted.Status != models.BidAccepted || !accepted.IsWinning {
		t.Errorf("Expected accepted winner, got %s winning=%v", accepted.Status, accepted.IsWinning)
	}

	other := decodeBid(t, ReqTest(t, app, "GET", "/api/bids/"+first.Id, "", "other bid", http.StatusOK))
	if other.Status != models.BidRejected {
		t.Errorf("Expected the other bid to be rejected, got %s", other.Status)
	}

	ReqTest(t, app, "POST", "/api/bids", placeBody(taskId, "bidder-3", "10"), "bid after acceptance", http.StatusConflict)

	data := ReqTest(t, app, "GET", "/api/bids/bidder/bidder-1?state=completed", "", "completed bids", http.StatusOK)
	var bids []models.Bid
	if err := json.Unmarshal(data, &bids); err != nil {
		t.Fatal(err)
	}
	if len(bids) != 1 || bids[0].Id != first.Id {
		t.Errorf("Expected bid %s in completed list, got %+v", first.Id, bids)
	}
}

//// Helpers

func StartupApp(t *testing.T) (*App, *taskServiceStub) {
	if TestDBConn == "" {
		t.Skip("TEST_POSTGRES_CONN is not set")
	}
	gofakeit.Seed(0)

	tasks := newTaskServiceStub()
	server := httptest.NewServer(tasks)
	t.Cleanup(server.Close)

	cfg, err := config.NewConfig()
	if err != nil {
		t.Fatal(err)
	}
	cfg.ServerAddress = "127.0.0.1:18080"
	cfg.AutoMigrateUp = "false"
	cfg.AutoMigrateDown = "true"
	cfg.Conn = TestDBConn
	cfg.MigrationsURL = "file://../repository/db/migrations"
	cfg.TaskServiceURL = server.URL
	cfg.ScanInterval = time.Hour
	cfg.RedisConfig = config.RedisConfig{}

	app, err := NewApp(WithConfig(cfg))
	if err != nil {
		t.Fatal(err)
	}

	app.repo.MigrateDown() // clear potential leftovers
	if err = app.repo.MigrateUp(); err != nil {
		t.Fatal(err)
	}

	go app.Run()
	time.Sleep(time.Second)
	return app, tasks
}

func StopApp(app *App) {
	app.stopSig <- os.Interrupt
	<-app.Done
}

func placeBody(taskId, bidderId, amount string) string {
	return fmt.Sprintf(`{"taskId":%q,"bidderId":%q,"bidderEmail":%q,"amount":%s,"proposal":%q}`,
		taskId, bidderId, gofakeit.Email(), amount, gofakeit.Blurb())
}

func decodeBid(t *testing.T, data []byte) models.Bid {
	var bid models.Bid
	if err := json.Unmarshal(data, &bid); err != nil {
		t.Fatal(err)
	}
	return bid
}

func ReqTest(t *testing.T, app *App, method, endpoint, body, testName string, expectedStatus int) []byte {
	return doReq(t, app, method, endpoint, body, "", testName, expectedStatus)
}

func ReqTestHeader(t *testing.T, app *App, method, endpoint, userId, testName string, expectedStatus int) []byte {
	return doReq(t, app, method, endpoint, "", userId, testName, expectedStatus)
}

func doReq(t *testing.T, app *App, method, endpoint, body, userId, testName string, expectedStatus int) []byte {
	var reader io.Reader
	if len(body) > 0 {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, fmt.Sprintf("http://%s%s", app.cfg.ServerAddress, endpoint), reader)
	if err != nil {
		t.Fatal(err)
	}
	if userId != "" {
		req.Header.Set("X-User-Id", userId)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}

	respBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != expectedStatus {
		t.Fatalf("%s %s '%s' test should return status code %d, got %d, body:\n%s", method, endpoint, testName, expectedStatus, resp.StatusCode, string(respBody))
	}
	return respBody
}

// taskServiceStub stands in for the task service.
type taskServiceStub struct {
	mu          sync.Mutex
	owners      map[string]string
	deadlines   map[string]time.Time
	assignments map[string]models.Assignment
	mux         *http.ServeMux
}

func newTaskServiceStub() *taskServiceStub {
	s := &taskServiceStub{
		owners:      make(map[string]string),
		deadlines:   make(map[string]time.Time),
		assignments: make(map[string]models.Assignment),
		mux:         http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /api/tasks/{taskId}/bidding-status", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		taskId := r.PathValue("taskId")
		deadline, ok := s.deadlines[taskId]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"taskId":          taskId,
			"openForBidding":  true,
			"status":          "OPEN",
			"biddingDeadline": deadline.UTC().Format(time.RFC3339Nano),
		})
	})

	s.mux.HandleFunc("GET /api/tasks/{taskId}/ownership", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		taskId := r.PathValue("taskId")
		json.NewEncoder(w).Encode(map[string]any{
			"taskId":  taskId,
			"userId":  r.URL.Query().Get("userId"),
			"isOwner": s.owners[taskId] == r.URL.Query().Get("userId"),
			"success": true,
		})
	})

	s.mux.HandleFunc("PUT /api/tasks/{taskId}/assign", func(w http.ResponseWriter, r *http.Request) {
		var assignment models.Assignment
		if err := json.NewDecoder(r.Body).Decode(&assignment); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.assignments[r.PathValue("taskId")] = assignment
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	return s
}

func (s *taskServiceStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *taskServiceStub) open(taskId, ownerId string, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[taskId] = ownerId
	s.deadlines[taskId] = deadline
}

func (s *taskServiceStub) expire(taskId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlines[taskId] = time.Now().Add(-time.Minute)
}

func (s *taskServiceStub) assignment(taskId string) (models.Assignment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[taskId]
	return a, ok
}
