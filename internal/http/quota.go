package httpx

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/AbhishekMashetty/axon/internal/domain"
)

// quota is the request budget for one class of API operation.
type quota struct {
	name   string
	limit  int
	window time.Duration
}

var (
	quotaRead = quota{name: "read", limit: 120, window: time.Minute}
	// quotaCluster is charged per pillar, so a noisy cluster does not starve lookups elsewhere.
	quotaCluster = quota{name: "cluster", limit: 60, window: time.Minute}
	quotaStream  = quota{name: "stream", limit: 30, window: 30 * time.Second}
	quotaSubmit  = quota{name: "submit", limit: 20, window: time.Minute}
	// quotaRollback is charged per batch across all callers.
	quotaRollback = quota{name: "rollback", limit: 3, window: 10 * time.Minute}
)

// RateLimiter counts hits per key over fixed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed   bool
	count     int
	windowEnd time.Time
}

const quotaSweepInterval = 5 * time.Minute

type memoryRateLimiter struct {
	clock   clock.WithTicker
	mu      sync.Mutex
	windows map[string]rateWindow
	stopCh  chan struct{}
	once    sync.Once
}

type rateWindow struct {
	count int
	end   time.Time
}

// NewMemoryRateLimiter returns a limiter local to this replica. Expired windows are swept on clk.
func NewMemoryRateLimiter(clk clock.WithTicker) RateLimiter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	rl := &memoryRateLimiter{
		clock:   clk,
		windows: make(map[string]rateWindow),
		stopCh:  make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

func (rl *memoryRateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	now := rl.clock.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || !now.Before(w.end) {
		w = rateWindow{end: now.Add(window)}
	}
	if w.count >= limit {
		return rateDecision{allowed: false, count: w.count, windowEnd: w.end}
	}
	w.count++
	rl.windows[key] = w
	return rateDecision{allowed: true, count: w.count, windowEnd: w.end}
}

func (rl *memoryRateLimiter) sweepLoop() {
	ticker := rl.clock.NewTicker(quotaSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C():
			rl.sweep(now)
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *memoryRateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, w := range rl.windows {
		if !now.Before(w.end) {
			delete(rl.windows, key)
		}
	}
}

func (rl *memoryRateLimiter) Close() {
	rl.once.Do(func() { close(rl.stopCh) })
}

// charge spends one hit of q on key and writes 429 when the budget is gone.
func (r *Router) charge(w http.ResponseWriter, req *http.Request, q quota, key string) bool {
	if q.limit <= 0 || r.limiter == nil {
		return true
	}
	decision := r.limiter.Allow(req.Context(), q.name+":"+key, q.limit, q.window)
	r.applyRateHeaders(w, q.limit, decision)
	if decision.allowed {
		return true
	}
	r.recordQuotaRejection(q.name, quotaScope(key))
	writeError(w, http.StatusTooManyRequests, q.name+" quota exceeded, retry after "+decision.windowEnd.UTC().Format(time.RFC3339))
	return false
}

// withQuota authenticates the caller and charges q against them before next runs.
func (r *Router) withQuota(q quota, next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(func(w http.ResponseWriter, req *http.Request) {
		if !r.charge(w, req, q, actorKey(req)) {
			return
		}
		next(w, req)
	})
}

// actorKey names the caller: the token subject, or the client address when auth is disabled.
func actorKey(req *http.Request) string {
	if info, ok := authInfoFromContext(req.Context()); ok && info.Subject != "" {
		return "sub:" + info.Subject
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}

func batchKey(batchID string) string {
	return "batch:" + batchID
}

func pillarKey(pillar domain.Pillar, req *http.Request) string {
	return "pillar:" + string(pillar) + ":" + actorKey(req)
}

// quotaScope reduces a key to its kind for metric labels.
func quotaScope(key string) string {
	if idx := strings.IndexByte(key, ':'); idx > 0 {
		return key[:idx]
	}
	return "unknown"
}
