package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"qms/queue-dashboard/internal/analytics"
	"qms/queue-dashboard/internal/engine"
	"qms/queue-dashboard/internal/models"
	"qms/queue-dashboard/internal/store"
	"qms/queue-dashboard/internal/store/memory"

	"github.com/google/uuid"
)

type testServer struct {
	handler http.Handler
	engine  *engine.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := memory.New()
	e := engine.New(st, nil, nil, engine.Options{Timeout: time.Second})
	a := analytics.NewAggregator(st, nil, analytics.Options{})
	return &testServer{handler: NewHandler(e, a).Routes(), engine: e}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Manager-ID", "manager-1")
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), target); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func (s *testServer) createQueue(t *testing.T) models.Queue {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/queues", map[string]string{"name": "Front desk"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create queue: %d %s", rec.Code, rec.Body.String())
	}
	var queue models.Queue
	decode(t, rec, &queue)
	return queue
}

func (s *testServer) addToken(t *testing.T, queueID, name string) models.Token {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/queues/"+queueID+"/tokens", map[string]interface{}{"person_name": name})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add token: %d %s", rec.Code, rec.Body.String())
	}
	var token models.Token
	decode(t, rec, &token)
	return token
}

func TestQueueLifecycle(t *testing.T) {
	s := newTestServer(t)
	queue := s.createQueue(t)
	if queue.ManagerID != "manager-1" {
		t.Fatalf("expected manager from header, got %q", queue.ManagerID)
	}

	rec := s.do(t, http.MethodGet, "/api/queues", nil)
	var queues []models.Queue
	decode(t, rec, &queues)
	if rec.Code != http.StatusOK || len(queues) != 1 {
		t.Fatalf("list queues: %d %+v", rec.Code, queues)
	}

	first := s.addToken(t, queue.ID, "Ana")
	second := s.addToken(t, queue.ID, "Budi")
	if first.Position != 1 || second.Position != 2 {
		t.Fatalf("unexpected positions %d %d", first.Position, second.Position)
	}

	rec = s.do(t, http.MethodPost, "/api/queues/"+queue.ID+"/tokens/reorder", map[string]interface{}{"token_ids": []string{second.ID, first.ID}})
	var waiting []models.Token
	decode(t, rec, &waiting)
	if rec.Code != http.StatusOK || waiting[0].ID != second.ID {
		t.Fatalf("reorder: %d %+v", rec.Code, waiting)
	}

	rec = s.do(t, http.MethodPost, "/api/queues/"+queue.ID+"/serve-next", nil)
	var served models.Token
	decode(t, rec, &served)
	if rec.Code != http.StatusOK || served.ID != second.ID || served.Status != models.StatusServed {
		t.Fatalf("serve next: %d %+v", rec.Code, served)
	}

	rec = s.do(t, http.MethodPost, "/api/tokens/"+first.ID+"/actions/no-show", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("no-show: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/queues/"+queue.ID+"/events?type=served,no_show", nil)
	var events []models.QueueEvent
	decode(t, rec, &events)
	if rec.Code != http.StatusOK || len(events) != 2 {
		t.Fatalf("events: %d %+v", rec.Code, events)
	}

	rec = s.do(t, http.MethodGet, "/api/queues/"+queue.ID+"/tokens?status=all", nil)
	var tokens []models.Token
	decode(t, rec, &tokens)
	if len(tokens) != 2 {
		t.Fatalf("expected both tokens, got %+v", tokens)
	}

	rec = s.do(t, http.MethodGet, "/api/queues/"+queue.ID+"/analytics?window=30", nil)
	var snapshot analytics.Snapshot
	decode(t, rec, &snapshot)
	if rec.Code != http.StatusOK || snapshot.TotalServed != 1 || snapshot.TotalNoShows != 1 || snapshot.NoShowRate != 50 {
		t.Fatalf("analytics: %d %+v", rec.Code, snapshot)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	queue := s.createQueue(t)
	token := s.addToken(t, queue.ID, "Ana")
	if rec := s.do(t, http.MethodPost, "/api/tokens/"+token.ID+"/actions/serve", nil); rec.Code != http.StatusOK {
		t.Fatalf("serve: %d", rec.Code)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"blank name", http.MethodPost, "/api/queues/" + queue.ID + "/tokens", map[string]string{"person_name": " "}, http.StatusBadRequest, "invalid_request"},
		{"unknown field", http.MethodPost, "/api/queues/" + queue.ID + "/tokens", map[string]string{"nickname": "x"}, http.StatusBadRequest, "invalid_json"},
		{"unknown queue", http.MethodGet, "/api/queues/" + uuid.NewString(), nil, http.StatusNotFound, "queue_not_found"},
		{"malformed token", http.MethodGet, "/api/tokens/abc", nil, http.StatusNotFound, "token_not_found"},
		{"serve twice", http.MethodPost, "/api/tokens/" + token.ID + "/actions/serve", nil, http.StatusNotFound, "invalid_state"},
		{"empty queue", http.MethodPost, "/api/queues/" + queue.ID + "/serve-next", nil, http.StatusNotFound, "queue_empty"},
		{"stale order", http.MethodPost, "/api/queues/" + queue.ID + "/tokens/reorder", map[string]interface{}{"token_ids": []string{uuid.NewString()}}, http.StatusConflict, "stale_order"},
		{"bad window", http.MethodGet, "/api/queues/" + queue.ID + "/analytics?window=900", nil, http.StatusBadRequest, "invalid_request"},
		{"bad status filter", http.MethodGet, "/api/queues/" + queue.ID + "/tokens?status=gone", nil, http.StatusBadRequest, "invalid_request"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, tc.method, tc.path, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			var resp errorResponse
			decode(t, rec, &resp)
			if resp.Error.Code != tc.code || resp.RequestID != "req-1" {
				t.Fatalf("unexpected error body %+v", resp)
			}
		})
	}
}

func TestPausedQueueConflict(t *testing.T) {
	s := newTestServer(t)
	queue := s.createQueue(t)

	rec := s.do(t, http.MethodPost, "/api/queues/"+queue.ID+"/pause", map[string]string{"reason": "break"})
	var settings models.QueueSettings
	decode(t, rec, &settings)
	if rec.Code != http.StatusOK || !settings.IsPaused {
		t.Fatalf("pause: %d %+v", rec.Code, settings)
	}

	rec = s.do(t, http.MethodPost, "/api/queues/"+queue.ID+"/tokens", map[string]string{"person_name": "Ana"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected conflict while paused, got %d", rec.Code)
	}

	if rec := s.do(t, http.MethodPost, "/api/queues/"+queue.ID+"/resume", nil); rec.Code != http.StatusOK {
		t.Fatalf("resume: %d", rec.Code)
	}
	s.addToken(t, queue.ID, "Ana")

	limit := 1
	rec = s.do(t, http.MethodPut, "/api/queues/"+queue.ID+"/settings", map[string]interface{}{"max_tokens_per_day": limit})
	if rec.Code != http.StatusOK {
		t.Fatalf("settings: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodPost, "/api/queues/"+queue.ID+"/tokens", map[string]string{"person_name": "Budi"})
	var resp errorResponse
	decode(t, rec, &resp)
	if rec.Code != http.StatusConflict || resp.Error.Code != "daily_limit_reached" {
		t.Fatalf("expected daily limit conflict, got %d %+v", rec.Code, resp)
	}
}

func TestServiceTypesAndLookup(t *testing.T) {
	s := newTestServer(t)
	queue := s.createQueue(t)

	rec := s.do(t, http.MethodPost, "/api/queues/"+queue.ID+"/service-types", map[string]interface{}{"name": "Payments", "estimated_duration_minutes": 5})
	var serviceType models.ServiceType
	decode(t, rec, &serviceType)
	if rec.Code != http.StatusCreated || !serviceType.IsActive {
		t.Fatalf("create service type: %d %+v", rec.Code, serviceType)
	}

	rec = s.do(t, http.MethodPost, "/api/queues/"+queue.ID+"/tokens", map[string]interface{}{"person_name": "Ana", "service_type_id": serviceType.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add token: %d %s", rec.Code, rec.Body.String())
	}
	target := s.addToken(t, queue.ID, "Budi")

	rec = s.do(t, http.MethodGet, "/api/tokens/"+target.ID, nil)
	var status engine.TokenStatus
	decode(t, rec, &status)
	if rec.Code != http.StatusOK || status.TokensAhead != 1 || status.EstimatedWaitMinutes != 5 {
		t.Fatalf("lookup: %d %+v", rec.Code, status)
	}

	rec = s.do(t, http.MethodPost, "/api/tokens/"+target.ID+"/actions/move", map[string]int{"position": 1})
	var moved models.Token
	decode(t, rec, &moved)
	if rec.Code != http.StatusOK || moved.Position != 1 {
		t.Fatalf("move: %d %+v", rec.Code, moved)
	}

	rec = s.do(t, http.MethodDelete, "/api/service-types/"+serviceType.ID, nil)
	decode(t, rec, &serviceType)
	if rec.Code != http.StatusOK || serviceType.IsActive {
		t.Fatalf("deactivate: %d %+v", rec.Code, serviceType)
	}
	rec = s.do(t, http.MethodGet, "/api/queues/"+queue.ID+"/service-types", nil)
	var active []models.ServiceType
	decode(t, rec, &active)
	if len(active) != 0 {
		t.Fatalf("expected no active service types, got %+v", active)
	}

	rec = s.do(t, http.MethodGet, "/api/queues/"+queue.ID+"/display", nil)
	var display engine.Display
	decode(t, rec, &display)
	if rec.Code != http.StatusOK || display.TotalWaiting != 2 || display.Upcoming[0].ID != target.ID {
		t.Fatalf("display: %d %+v", rec.Code, display)
	}
}

func TestMethodAndRouteChecks(t *testing.T) {
	s := newTestServer(t)
	queue := s.createQueue(t)
	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodPost, "/healthz", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/api/queues/" + queue.ID, http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/queues/" + queue.ID + "/unknown", http.StatusNotFound},
		{http.MethodPost, "/api/tokens/" + uuid.NewString() + "/actions/teleport", http.StatusNotFound},
		{http.MethodGet, "/api/service-types/" + uuid.NewString(), http.StatusMethodNotAllowed},
	}
	for _, tc := range tests {
		if rec := s.do(t, tc.method, tc.path, nil); rec.Code != tc.status {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.status, rec.Code)
		}
	}
}

func limitedRequest(handler http.Handler, method, path, ip, manager string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = ip + ":5000"
	if manager != "" {
		req.Header.Set("X-Manager-ID", manager)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 60, IPBurst: 2, ManagerPerMinute: 60, ManagerBurst: 5})
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	limiter.ipLimiter.now = func() time.Time { return now }
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = limitedRequest(handler, http.MethodGet, "/api/queues", "10.0.0.1", "")
		codes = append(codes, last.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}
	if got := last.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("expected Retry-After 1, got %q", got)
	}

	if rec := limitedRequest(handler, http.MethodGet, "/healthz", "10.0.0.1", ""); rec.Code != http.StatusOK {
		t.Fatalf("health checks must not be limited, got %d", rec.Code)
	}

	now = now.Add(time.Second)
	if rec := limitedRequest(handler, http.MethodGet, "/api/queues", "10.0.0.1", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected a refilled token after a second, got %d", rec.Code)
	}
}

func TestManagerLimitCountsWritesOnly(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 6000, IPBurst: 100, ManagerPerMinute: 1, ManagerBurst: 1})
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	limiter.managerLimiter.now = func() time.Time { return now }
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		if rec := limitedRequest(handler, http.MethodGet, "/api/queues", "10.0.0.2", "manager-1"); rec.Code != http.StatusOK {
			t.Fatalf("reads must not use the manager bucket, got %d", rec.Code)
		}
	}
	if rec := limitedRequest(handler, http.MethodPost, "/api/queues", "10.0.0.2", "manager-1"); rec.Code != http.StatusOK {
		t.Fatalf("first write should pass, got %d", rec.Code)
	}
	rec := limitedRequest(handler, http.MethodPost, "/api/queues", "10.0.0.3", "manager-1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second write should be limited across addresses, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After 60, got %q", got)
	}
}

func TestTokenLimiterSweepsIdleBuckets(t *testing.T) {
	limiter := newTokenLimiter(60, 2)
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.allow("10.0.0.1")
	limiter.allow("10.0.0.2")
	if limiter.size() != 2 {
		t.Fatalf("expected 2 buckets, got %d", limiter.size())
	}

	now = now.Add(limiter.idle)
	limiter.allow("10.0.0.3")
	if limiter.size() != 1 {
		t.Fatalf("expected idle buckets swept, got %d", limiter.size())
	}
}

func TestRouteLabel(t *testing.T) {
	id := uuid.NewString()
	if got := routeLabel("/api/queues/" + id + "/tokens"); got != "/api/queues/{id}/tokens" {
		t.Fatalf("unexpected label %q", got)
	}
}

func TestMapErrorTimeout(t *testing.T) {
	status, code, _ := mapError(store.Wrap("add_token", context.DeadlineExceeded))
	if status != http.StatusGatewayTimeout || code != "timeout" {
		t.Fatalf("expected 504 timeout, got %d %s", status, code)
	}
	status, code, _ = mapError(store.Wrap("auto_serve", store.ErrHeadChanged))
	if status != http.StatusConflict || code != "head_changed" {
		t.Fatalf("expected 409 head_changed, got %d %s", status, code)
	}
	status, _, _ = mapError(store.Wrap("add_token", context.Canceled))
	if status != http.StatusInternalServerError {
		t.Fatalf("expected backend errors to map to 500, got %d", status)
	}
}
