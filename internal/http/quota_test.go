package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	redis "github.com/redis/go-redis/v9"
	testingclock "k8s.io/utils/clock/testing"
)

func TestMemoryRateLimiterWindowFollowsClock(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1_700_000_000, 0))
	rl := NewMemoryRateLimiter(clk)
	defer rl.Close()
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		if d := rl.Allow(ctx, "submit:sub:a", 2, time.Minute); !d.allowed || d.count != i {
			t.Fatalf("hit %d: expected allowed with count %d, got %+v", i, i, d)
		}
	}
	d := rl.Allow(ctx, "submit:sub:a", 2, time.Minute)
	if d.allowed {
		t.Fatalf("expected third hit denied")
	}
	if want := clk.Now().Add(time.Minute); !d.windowEnd.Equal(want) {
		t.Fatalf("expected window end %s, got %s", want, d.windowEnd)
	}
	if d := rl.Allow(ctx, "submit:sub:b", 2, time.Minute); !d.allowed {
		t.Fatalf("expected another actor to have its own budget")
	}

	clk.Step(time.Minute)
	if d := rl.Allow(ctx, "submit:sub:a", 2, time.Minute); !d.allowed || d.count != 1 {
		t.Fatalf("expected a fresh window after it ended, got %+v", d)
	}
}

func TestMemoryRateLimiterSweepDropsEndedWindows(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1_700_000_000, 0))
	rl := NewMemoryRateLimiter(clk).(*memoryRateLimiter)
	defer rl.Close()
	rl.Allow(context.Background(), "rollback:batch:b1", 3, 10*time.Minute)
	rl.Allow(context.Background(), "read:sub:a", 3, time.Minute)

	rl.sweep(clk.Now().Add(5 * time.Minute))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.windows["read:sub:a"]; ok {
		t.Fatalf("expected ended read window swept")
	}
	if _, ok := rl.windows["rollback:batch:b1"]; !ok {
		t.Fatalf("expected open rollback window kept")
	}
}

func TestRollbackQuotaIsPerBatch(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1_700_000_000, 0))
	f := newRouterFixture(t, func(o *Options) { o.Limiter = NewMemoryRateLimiter(clk) })

	for i := 0; i < quotaRollback.limit; i++ {
		if rr := f.do(t, httptest.NewRequest(http.MethodPost, "/batches/b1/rollback", nil)); rr.Code != http.StatusOK {
			t.Fatalf("rollback %d: expected status 200, got %d", i+1, rr.Code)
		}
	}
	rr := f.do(t, httptest.NewRequest(http.MethodPost, "/batches/b1/rollback", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 once the batch budget is spent, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "rollback quota exceeded") {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
	if rr := f.do(t, httptest.NewRequest(http.MethodPost, "/batches/b2/rollback", nil)); rr.Code != http.StatusOK {
		t.Fatalf("expected another batch to roll back, got %d", rr.Code)
	}
	if f.orch.rollbacks != quotaRollback.limit+1 {
		t.Fatalf("expected %d rollbacks to reach the orchestrator, got %d", quotaRollback.limit+1, f.orch.rollbacks)
	}

	metrics := f.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil)).Body.String()
	for _, want := range []string{
		`axon_api_quota_rejections_total{quota="rollback",scope="batch"} 1`,
		`axon_api_batch_rollbacks_total{outcome="rolled_back"} 4`,
		`axon_api_batch_rollbacks_total{outcome="throttled"} 1`,
	} {
		if !strings.Contains(metrics, want) {
			t.Fatalf("expected %s in metrics output, got:\n%s", want, metrics)
		}
	}
}

func TestClusterQuotaIsPerPillar(t *testing.T) {
	f := newRouterFixture(t)
	f.limiter.allowFn = func(key string, limit int, window time.Duration) rateDecision {
		if strings.HasPrefix(key, "cluster:pillar:risk:") {
			return rateDecision{allowed: false, count: limit, windowEnd: time.Unix(1_950_000_000, 0)}
		}
		return rateDecision{allowed: true, count: 1}
	}

	if rr := f.do(t, httptest.NewRequest(http.MethodGet, "/services/risk/pricing/validation", nil)); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 for the spent pillar, got %d", rr.Code)
	}
	if rr := f.do(t, httptest.NewRequest(http.MethodGet, "/services/clearing/ledger/validation", nil)); rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for another pillar, got %d", rr.Code)
	}

	f.limiter.mu.Lock()
	defer f.limiter.mu.Unlock()
	keys := make([]string, 0, len(f.limiter.calls))
	for _, call := range f.limiter.calls {
		keys = append(keys, call.key)
	}
	want := []string{
		"read:ip:192.0.2.1", "cluster:pillar:risk:ip:192.0.2.1",
		"read:ip:192.0.2.1", "cluster:pillar:clearing:ip:192.0.2.1",
	}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Fatalf("quota keys mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmissionMetrics(t *testing.T) {
	f := newRouterFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/batches?mode=sequential", strings.NewReader(testManifest))
	if rr := f.do(t, req); rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := f.do(t, httptest.NewRequest(http.MethodPost, "/batches?mode=burst", strings.NewReader(testManifest))); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	metrics := f.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil)).Body.String()
	for _, want := range []string{
		`axon_api_batch_submissions_total{mode="sequential",outcome="accepted"} 1`,
		`axon_api_batch_submissions_total{mode="unknown",outcome="invalid"} 1`,
		`axon_api_batch_manifest_deployments_sum{mode="sequential"} 2`,
	} {
		if !strings.Contains(metrics, want) {
			t.Fatalf("expected %s in metrics output, got:\n%s", want, metrics)
		}
	}
}

type scripterStub struct {
	redis.Scripter
	keys   []string
	args   []interface{}
	result interface{}
	err    error
}

func (s *scripterStub) EvalSha(ctx context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd {
	s.keys, s.args = keys, args
	return redis.NewCmdResult(s.result, s.err)
}

func TestRedisRateLimiterReadsScriptResult(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(time.Unix(1_700_000_000, 0))
	stub := &scripterStub{result: []interface{}{int64(3), int64(4_000)}}
	rl := &redisRateLimiter{client: stub, clock: clk, prefix: "axon:quota:", timeout: time.Second}

	d := rl.Allow(context.Background(), "rollback:batch:b1", 3, 10*time.Minute)
	if !d.allowed || d.count != 3 {
		t.Fatalf("expected third hit allowed, got %+v", d)
	}
	if want := clk.Now().Add(4 * time.Second); !d.windowEnd.Equal(want) {
		t.Fatalf("expected window end %s, got %s", want, d.windowEnd)
	}
	if diff := cmp.Diff([]string{"axon:quota:rollback:batch:b1"}, stub.keys); diff != "" {
		t.Fatalf("script keys mismatch (-want +got):\n%s", diff)
	}
	if len(stub.args) != 1 || stub.args[0] != int64(600_000) {
		t.Fatalf("expected window of 600000ms, got %v", stub.args)
	}

	stub.result = []interface{}{int64(4), int64(3_000)}
	if d := rl.Allow(context.Background(), "rollback:batch:b1", 3, 10*time.Minute); d.allowed {
		t.Fatalf("expected fourth hit denied")
	}
}

func TestRedisRateLimiterFailsOpen(t *testing.T) {
	stub := &scripterStub{err: errors.New("connection refused")}
	rl := &redisRateLimiter{client: stub, clock: testingclock.NewFakePassiveClock(time.Now()), timeout: time.Second}
	if d := rl.Allow(context.Background(), "submit:sub:a", 1, time.Minute); !d.allowed {
		t.Fatalf("expected allowed when redis is unreachable")
	}
}
