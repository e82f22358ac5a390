package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fitmirror/tryon-app/internal/cleanup"
	"github.com/fitmirror/tryon-app/internal/kv"
	"github.com/fitmirror/tryon-app/internal/ratelimit"
	"github.com/fitmirror/tryon-app/internal/session"
)

const testCronSecret = "cron-test-secret"

// testServer wraps the full router against a local Redis. Each call to
// ip() yields a fresh client address so the hourly creation limit never
// bleeds between tests or runs.
type testServer struct {
	handler http.Handler
	client  *redis.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	store := kv.NewRedisStoreFromClient(client)
	sessions := session.NewStore(store)
	manager := session.NewManager(sessions)
	limiter := ratelimit.NewLimiter(store)
	manager.SetDerivedCleaner(limiter)
	runner := cleanup.NewRunner(manager, limiter, store)

	handler := NewRouter(RouterConfig{
		Manager:      manager,
		Limiter:      limiter,
		Runner:       runner,
		Store:        store,
		CronSecret:   testCronSecret,
		StoreTimeout: 5 * time.Second,
	})

	return &testServer{handler: handler, client: client}
}

func (s *testServer) ip() string {
	return fmt.Sprintf("10.%d.%d.%d", rand.Intn(256), rand.Intn(256), rand.Intn(256))
}

// do sends a request with an optional JSON body and client IP.
func (s *testServer) do(t *testing.T, method, path, clientIP string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if clientIP != "" {
		req.Header.Set("X-Forwarded-For", clientIP)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

// envelope mirrors the wire envelope with raw data for per-test decoding.
type envelope struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data"`
	Error    *ErrorBody      `json:"error"`
	Metadata struct {
		RequestID string    `json:"requestId"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"metadata"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body: %s)", err, rr.Body.String())
	}
	return env
}

// createSession creates a session through the API and schedules its
// removal when the test ends.
func (s *testServer) createSession(t *testing.T, body any) string {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/session", s.ip(), body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create session: status %d, body %s", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	var data struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.SessionID == "" {
		t.Fatalf("create session: bad data %s (err %v)", env.Data, err)
	}
	t.Cleanup(func() {
		s.client.Del(context.Background(),
			session.KeyPrefix+data.SessionID,
			session.KeyPrefix+data.SessionID+":activity")
	})
	return data.SessionID
}

func TestCreateSessionEnvelope(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/session", s.ip(), map[string]any{
		"ttlMinutes": 45,
		"metadata":   map[string]any{"source": "mobile"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	env := decodeEnvelope(t, rr)
	if !env.Success || env.Error != nil {
		t.Errorf("expected success envelope, got %+v", env)
	}
	if env.Metadata.RequestID == "" || env.Metadata.Timestamp.IsZero() {
		t.Errorf("envelope metadata incomplete: %+v", env.Metadata)
	}

	var data struct {
		SessionID string `json:"sessionId"`
		ExpiresIn int64  `json:"expiresIn"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.SessionID == "" {
		t.Error("sessionId missing")
	}
	if data.ExpiresIn < 45*60-2 || data.ExpiresIn > 45*60 {
		t.Errorf("expiresIn = %d, want ~%d", data.ExpiresIn, 45*60)
	}
	s.client.Del(context.Background(), session.KeyPrefix+data.SessionID)

	if got := rr.Header().Get("X-RateLimit-Limit"); got != "10" {
		t.Errorf("X-RateLimit-Limit = %q, want 10", got)
	}
	if rr.Header().Get("X-RateLimit-Remaining") == "" || rr.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("rate limit headers missing")
	}
}

func TestCreateSessionRejectsBadTTL(t *testing.T) {
	s := newTestServer(t)

	// Explicit 0 is rejected; only an absent ttlMinutes selects the default.
	for _, ttl := range []int{-1, 0, 500} {
		rr := s.do(t, http.MethodPost, "/session", s.ip(), map[string]any{"ttlMinutes": ttl})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("ttl %d: status = %d, want 400", ttl, rr.Code)
			continue
		}
		env := decodeEnvelope(t, rr)
		if env.Success || env.Error == nil || env.Error.Code != CodeValidation {
			t.Errorf("ttl %d: envelope = %+v", ttl, env)
		}
	}
}

func TestGetMissingSession(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/session/no-such-session", s.ip(), nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if env.Success || env.Error == nil || env.Error.Code != CodeNotFound {
		t.Errorf("envelope = %+v", env)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t, map[string]any{"ttlMinutes": 30})

	rr := s.do(t, http.MethodGet, "/session/"+id, s.ip(), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: status = %d (body %s)", rr.Code, rr.Body.String())
	}
	var got struct {
		SessionID string `json:"sessionId"`
		Status    string `json:"status"`
		IsExpired bool   `json:"isExpired"`
	}
	json.Unmarshal(decodeEnvelope(t, rr).Data, &got)
	if got.SessionID != id || got.Status != "active" || got.IsExpired {
		t.Errorf("get data = %+v", got)
	}

	rr = s.do(t, http.MethodPatch, "/session/"+id, s.ip(), map[string]any{
		"metadata":      map[string]any{"step": "garment"},
		"garmentPhotos": []string{"https://cdn.example/g1.jpg"},
		"extendMinutes": 60,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("patch: status = %d (body %s)", rr.Code, rr.Body.String())
	}
	var updated struct {
		GarmentPhotos []string       `json:"garmentPhotos"`
		Metadata      map[string]any `json:"metadata"`
		ExpiresIn     int64          `json:"expiresIn"`
	}
	json.Unmarshal(decodeEnvelope(t, rr).Data, &updated)
	if len(updated.GarmentPhotos) != 1 || updated.Metadata["step"] != "garment" {
		t.Errorf("patch data = %+v", updated)
	}
	if updated.ExpiresIn < 60*60-5 || updated.ExpiresIn > 60*60 {
		t.Errorf("extended expiresIn = %d, want ~%d", updated.ExpiresIn, 60*60)
	}

	rr = s.do(t, http.MethodDelete, "/session/"+id, s.ip(), nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", rr.Code)
	}

	rr = s.do(t, http.MethodGet, "/session/"+id, s.ip(), nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", rr.Code)
	}
	rr = s.do(t, http.MethodDelete, "/session/"+id, s.ip(), nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("repeat delete: status = %d, want 404", rr.Code)
	}
}

func TestCreateRateLimit(t *testing.T) {
	s := newTestServer(t)
	ip := s.ip()

	var created []string
	for i := 0; i < 10; i++ {
		rr := s.do(t, http.MethodPost, "/session", ip, nil)
		if rr.Code != http.StatusCreated {
			t.Fatalf("request %d: status = %d, want 201", i+1, rr.Code)
		}
		var data struct {
			SessionID string `json:"sessionId"`
		}
		json.Unmarshal(decodeEnvelope(t, rr).Data, &data)
		created = append(created, data.SessionID)

		wantRemaining := strconv.Itoa(10 - (i + 1))
		if got := rr.Header().Get("X-RateLimit-Remaining"); got != wantRemaining {
			t.Errorf("request %d: X-RateLimit-Remaining = %q, want %q", i+1, got, wantRemaining)
		}
	}
	t.Cleanup(func() {
		for _, id := range created {
			s.client.Del(context.Background(), session.KeyPrefix+id)
		}
	})

	rr := s.do(t, http.MethodPost, "/session", ip, nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("11th request: status = %d, want 429", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if env.Success || env.Error == nil || env.Error.Code != CodeRateLimited {
		t.Errorf("429 envelope = %+v", env)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("429 X-RateLimit-Remaining = %q, want 0", got)
	}
	if retry := rr.Header().Get("Retry-After"); retry == "" {
		t.Error("Retry-After header missing on 429")
	} else if secs, err := strconv.Atoi(retry); err != nil || secs < 1 || secs > 3600 {
		t.Errorf("Retry-After = %q, want seconds within the hour window", retry)
	}

	// A different client is unaffected.
	other := s.do(t, http.MethodPost, "/session", s.ip(), nil)
	if other.Code != http.StatusCreated {
		t.Errorf("other client: status = %d, want 201", other.Code)
	}
	var data struct {
		SessionID string `json:"sessionId"`
	}
	json.Unmarshal(decodeEnvelope(t, other).Data, &data)
	s.client.Del(context.Background(), session.KeyPrefix+data.SessionID)
}

func TestTrackActivityAlwaysResponds200(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t, nil)

	cases := []struct {
		name    string
		target  string
		body    any
		tracked bool
		reason  string
	}{
		{"valid", id, map[string]any{"action": "upload"}, true, ""},
		{"missing action", id, map[string]any{}, false, "missing_action"},
		{"unknown session", "no-such-session", map[string]any{"action": "upload"}, false, "session_not_found"},
	}
	for _, tc := range cases {
		rr := s.do(t, http.MethodPost, "/session/"+tc.target+"/activity", s.ip(), tc.body)
		if rr.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", tc.name, rr.Code)
			continue
		}
		var result session.TrackResult
		json.Unmarshal(decodeEnvelope(t, rr).Data, &result)
		if result.Tracked != tc.tracked || result.Reason != tc.reason {
			t.Errorf("%s: result = %+v, want tracked=%v reason=%q", tc.name, result, tc.tracked, tc.reason)
		}
	}

	rr := s.do(t, http.MethodGet, "/session/"+id+"/activity", s.ip(), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("activity log: status = %d", rr.Code)
	}
	var log struct {
		Entries []session.ActivityEntry `json:"entries"`
		Stats   session.ActivityStats   `json:"stats"`
	}
	json.Unmarshal(decodeEnvelope(t, rr).Data, &log)
	if len(log.Entries) != 1 || log.Entries[0].Action != "upload" {
		t.Errorf("entries = %+v, want one upload", log.Entries)
	}
	if log.Stats.Count != 1 {
		t.Errorf("stats.Count = %d, want 1", log.Stats.Count)
	}
}

func TestCronEndpointsRequireBearerToken(t *testing.T) {
	s := newTestServer(t)

	for _, auth := range []string{"", "Bearer wrong-secret", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/cron/cleanup", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rr := httptest.NewRecorder()
		s.handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("auth %q: status = %d, want 401", auth, rr.Code)
			continue
		}
		env := decodeEnvelope(t, rr)
		if env.Success || env.Error == nil || env.Error.Code != CodeUnauthorized {
			t.Errorf("auth %q: envelope = %+v", auth, env)
		}
	}
}

func TestCronManualDryRun(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"dryRun": true})
	req := httptest.NewRequest(http.MethodPost, "/cron/cleanup", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testCronSecret)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rr.Code, rr.Body.String())
	}
	var report struct {
		DryRun bool `json:"dryRun"`
	}
	json.Unmarshal(decodeEnvelope(t, rr).Data, &report)
	if !report.DryRun {
		t.Error("report should carry dryRun=true")
	}
}

func TestCronHistory(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/cron/cleanup/history", nil)
	req.Header.Set("Authorization", "Bearer "+testCronSecret)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rr.Code, rr.Body.String())
	}
	var data struct {
		Runs  []cleanup.Report `json:"runs"`
		Stats cleanup.Stats    `json:"stats"`
	}
	if err := json.Unmarshal(decodeEnvelope(t, rr).Data, &data); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if data.Runs == nil {
		t.Error("runs should decode to an array, not null")
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	if !env.Success {
		t.Errorf("health envelope = %+v", env)
	}
}
