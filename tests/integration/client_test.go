package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/resulta/resulta-proxy/internal/server"
	"github.com/resulta/resulta-proxy/internal/testutil"
	"github.com/resulta/resulta-proxy/pkg/bgtask"
	"github.com/resulta/resulta-proxy/pkg/cache"
	"github.com/resulta/resulta-proxy/pkg/orchestrator"
	"github.com/resulta/resulta-proxy/pkg/result"
	"github.com/resulta/resulta-proxy/pkg/upstream"
)

const (
	regularHost = "multi-result-beu-regular.vercel.app"
	leHost      = "multi-result-beu-le.vercel.app"
	examsHost   = "beu-bih.ac.in"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// testTransport routes each production backend host to its mock.
type testTransport struct {
	mocks map[string]*testutil.MockBackend
}

func (t *testTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if mock, ok := t.mocks[req.URL.Host]; ok {
		target, _ := url.Parse(mock.URL())
		req = req.Clone(req.Context())
		req.URL.Scheme = target.Scheme
		req.URL.Host = target.Host
	}
	return http.DefaultTransport.RoundTrip(req)
}

type stack struct {
	redis   *redis.Client
	regular *testutil.MockBackend
	le      *testutil.MockBackend
	exams   *testutil.MockBackend
	tasks   *bgtask.Group
	handler http.Handler
}

func newStack(t *testing.T) *stack {
	t.Helper()

	redisClient, cleanup := setupRedis(t)
	t.Cleanup(cleanup)

	s := &stack{
		redis:   redisClient,
		regular: testutil.NewMockBackend(),
		le:      testutil.NewMockBackend(),
		exams:   testutil.NewMockBackend(),
		tasks:   bgtask.New(5 * time.Second),
	}
	t.Cleanup(func() {
		s.regular.Close()
		s.le.Close()
		s.exams.Close()
	})
	s.exams.SetFallback(testutil.NewJSONResponse(`[{"id":1,"name":"B.Tech Sem III 2024"}]`))

	cfg := upstream.DefaultConfig("resulta-integration/1.0")
	cfg.Timeout = 3 * time.Second
	cfg.Retry.InitialBackoff = time.Millisecond
	client, err := upstream.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create upstream client: %v", err)
	}
	client.SetHTTPClient(&http.Client{Transport: &testTransport{mocks: map[string]*testutil.MockBackend{
		regularHost: s.regular,
		leHost:      s.le,
		examsHost:   s.exams,
	}}})

	store := cache.NewRedisStore(redisClient)
	orch := orchestrator.New(store, client, s.tasks, 4*24*time.Hour)

	srv, err := server.New(server.Config{
		RegularBackendURL: "https://" + regularHost + "/api/regular/result",
		LEBackendURL:      "https://" + leHost + "/api/le/result",
		BatchStep:         5,
		FetchConcurrency:  1,
		ExamListURL:       "https://" + examsHost + "/backend/v1/result/sem-get",
		ExamListTTL:       time.Hour,
		PurgeSecret:       "purge-me",
	}, orch, store, client, s.tasks)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	s.handler = srv.Handler()
	return s
}

func (s *stack) get(t *testing.T, target string) (*httptest.ResponseRecorder, result.Batch) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	var batch result.Batch
	if rec.Code == http.StatusOK && rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '[' {
		if err := json.Unmarshal(rec.Body.Bytes(), &batch); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return rec, batch
}

func (s *stack) drain(t *testing.T) {
	t.Helper()
	if err := s.tasks.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
}

func (s *stack) cachedKeys(t *testing.T) []string {
	t.Helper()
	keys, err := s.redis.Keys(context.Background(), cache.KeyPrefix+"*").Result()
	if err != nil {
		t.Fatalf("Failed to list keys: %v", err)
	}
	return keys
}

func query(regNo string) string {
	return "reg_no=" + regNo + "&year=2024&semester=III&exam_held=May%2F2025"
}

// TestFullRangeFlow covers range worker → orchestrator → backend → Redis and
// the cached second pass.
func TestFullRangeFlow(t *testing.T) {
	s := newStack(t)

	rec, batch := s.get(t, "/le?"+query("22105123007"))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(batch) != 60 {
		t.Fatalf("Expected 60 records, got %d", len(batch))
	}
	if batch[0].RegNo != "23105123901" || batch[59].RegNo != "23105123960" {
		t.Errorf("Unexpected range %s..%s", batch[0].RegNo, batch[59].RegNo)
	}
	if s.le.RequestCount() != 12 {
		t.Errorf("Expected 12 LE backend requests, got %d", s.le.RequestCount())
	}

	s.drain(t)

	keys := s.cachedKeys(t)
	if len(keys) != 12 {
		t.Errorf("Expected 12 cached batches, got %d", len(keys))
	}
	ttl, err := s.redis.TTL(context.Background(), keys[0]).Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl < 95*time.Hour || ttl > 96*time.Hour {
		t.Errorf("Expected TTL near 96h, got %v", ttl)
	}

	s.le.Reset()
	rec2, _ := s.get(t, "/le?"+query("22105123007"))
	if s.le.RequestCount() != 0 {
		t.Errorf("Expected second pass to be served from cache, got %d requests", s.le.RequestCount())
	}
	if rec2.Body.String() != rec.Body.String() {
		t.Error("Cached response differs from the original")
	}
}

// TestBadBatchSelfHeals verifies a failed batch is not cached and is fetched
// again once the backend recovers.
func TestBadBatchSelfHeals(t *testing.T) {
	s := newStack(t)
	s.regular.SetResponse("22105123001", testutil.NewServerErrorResponse(http.StatusBadGateway))

	_, batch := s.get(t, "/user?"+query("22105123003"))
	s.drain(t)

	if len(batch) != 5 || batch[0].Reason != "Backend Error: HTTP 502" {
		t.Fatalf("Unexpected batch: %+v", batch)
	}
	if keys := s.cachedKeys(t); len(keys) != 0 {
		t.Fatalf("Bad batch was cached: %v", keys)
	}

	s.regular.SetResponse("22105123001", testutil.NewJSONResponse(testutil.SuccessBatch("22105123001", 5)))

	_, batch = s.get(t, "/user?"+query("22105123003"))
	s.drain(t)

	if batch.IsBad() {
		t.Errorf("Expected recovered batch, got %+v", batch)
	}
	if keys := s.cachedKeys(t); len(keys) != 1 {
		t.Errorf("Expected recovered batch to be cached, got %d keys", len(keys))
	}
	if s.regular.RequestCount() != 2 {
		t.Errorf("Expected 2 backend requests, got %d", s.regular.RequestCount())
	}
}

// TestConcurrentUsersShareFetch verifies concurrent users of one batch cause
// a single backend request.
func TestConcurrentUsersShareFetch(t *testing.T) {
	s := newStack(t)
	s.le.SetResponse("20105123901", testutil.NewSlowResponse("20105123901", 300*time.Millisecond))

	var wg sync.WaitGroup
	for _, regNo := range []string{"20105123901", "20105123902", "20105123903", "20105123904", "20105123905"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, batch := s.get(t, "/user?"+query(regNo))
			if rec.Code != http.StatusOK || len(batch) != 5 {
				t.Errorf("%s: status %d, %d records", regNo, rec.Code, len(batch))
			}
		}()
	}
	wg.Wait()
	s.drain(t)

	if s.le.RequestCount() != 1 {
		t.Errorf("Expected 1 backend request, got %d", s.le.RequestCount())
	}
}

// TestExamListPurgeFlow covers the exam list cache and its purge.
func TestExamListPurgeFlow(t *testing.T) {
	s := newStack(t)

	rec, _ := s.get(t, "/exams")
	if rec.Header().Get("X-Cache-Status") != "MISS" {
		t.Errorf("Expected MISS, got %q", rec.Header().Get("X-Cache-Status"))
	}
	s.drain(t)

	rec, _ = s.get(t, "/exams")
	if rec.Header().Get("X-Cache-Status") != "HIT" {
		t.Errorf("Expected HIT, got %q", rec.Header().Get("X-Cache-Status"))
	}

	req := httptest.NewRequest(server.MethodPurge, "/exams", nil)
	req.Header.Set(server.PurgeSecretHeader, "purge-me")
	purge := httptest.NewRecorder()
	s.handler.ServeHTTP(purge, req)
	if purge.Code != http.StatusOK {
		t.Fatalf("Expected purge 200, got %d", purge.Code)
	}

	rec, _ = s.get(t, "/exams")
	if rec.Header().Get("X-Cache-Status") != "MISS" {
		t.Errorf("Expected MISS after purge, got %q", rec.Header().Get("X-Cache-Status"))
	}
	if s.exams.RequestCount() != 2 {
		t.Errorf("Expected 2 exam list fetches, got %d", s.exams.RequestCount())
	}
}
