package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const rateLimiterSweepInterval = 5 * time.Minute

// Tier names a rate limit class. Every routed endpoint is assigned one; only
// the health check, favicon and prometheus scrape bypass limiting.
type Tier string

const (
	TierAuth     Tier = "auth"
	TierWebhooks Tier = "webhooks"
	TierAPI      Tier = "api"
	TierGeneral  Tier = "general"
)

type tierPolicy struct {
	limit  int
	window time.Duration
}

var tierPolicies = map[Tier]tierPolicy{
	TierAuth:     {limit: 5, window: time.Minute},
	TierWebhooks: {limit: 100, window: time.Minute},
	TierAPI:      {limit: 1000, window: time.Hour},
	TierGeneral:  {limit: 500, window: 15 * time.Minute},
}

func policyFor(tier Tier) tierPolicy {
	if policy, ok := tierPolicies[tier]; ok {
		return policy
	}
	return tierPolicies[TierGeneral]
}

// Decision is the outcome of a rate limit check. RetryAfter is the time until
// the current window resets and is populated for allowed and denied requests
// alike.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter counts requests per tier and identifier within fixed windows.
type RateLimiter interface {
	Check(tier Tier, identifier string) Decision
	Close()
}

type rateState struct {
	count     int
	windowEnd time.Time
}

// memoryRateLimiter keeps counters in process memory. Each instance enforces
// limits independently, so it suits single-instance deployments only; use the
// Redis limiter when running more than one replica.
type memoryRateLimiter struct {
	mu      sync.Mutex
	entries map[string]rateState
	stopCh  chan struct{}
	once    sync.Once
	now     func() time.Time
}

func NewMemoryRateLimiter() RateLimiter {
	rl := &memoryRateLimiter{
		entries: make(map[string]rateState),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	go rl.sweepLoop()
	return rl
}

func (rl *memoryRateLimiter) Check(tier Tier, identifier string) Decision {
	policy := policyFor(tier)
	if policy.limit <= 0 {
		return Decision{Allowed: true}
	}
	key := string(tier) + ":" + identifier
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.entries[key]
	if !ok || now.After(state.windowEnd) {
		state = rateState{count: 1, windowEnd: now.Add(policy.window)}
		rl.entries[key] = state
		return decisionFor(policy, state, now)
	}
	if state.count >= policy.limit {
		return Decision{Allowed: false, RetryAfter: state.windowEnd.Sub(now)}
	}
	state.count++
	rl.entries[key] = state
	return decisionFor(policy, state, now)
}

func decisionFor(policy tierPolicy, state rateState, now time.Time) Decision {
	remaining := policy.limit - state.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:    true,
		Remaining:  remaining,
		RetryAfter: state.windowEnd.Sub(now),
	}
}

func (rl *memoryRateLimiter) sweepLoop() {
	ticker := time.NewTicker(rateLimiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup(rl.now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *memoryRateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, state := range rl.entries {
		if now.After(state.windowEnd) {
			delete(rl.entries, key)
		}
	}
}

func (rl *memoryRateLimiter) Close() {
	rl.once.Do(func() {
		close(rl.stopCh)
	})
}

func (r *Router) withRateLimit(tier Tier, keyFn func(*http.Request) string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.limiter == nil {
			next(w, req)
			return
		}
		identifier := keyFn(req)
		if identifier == "" {
			identifier = rateLimitKeyIP(req)
		}
		decision := r.limiter.Check(tier, identifier)
		r.applyRateHeaders(w, tier, decision)
		if !decision.Allowed {
			policy := policyFor(tier)
			r.logger.Warn("rate limit exceeded",
				"tier", string(tier),
				"identifier", identifier,
				"endpoint", req.URL.Path,
				"limit", policy.limit,
			)
			r.recordRateLimitHit(string(tier), req.URL.Path)
			writeRateLimited(w, decision.RetryAfter)
			return
		}
		next(w, req)
	}
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, tier Tier, decision Decision) {
	policy := policyFor(tier)
	if policy.limit <= 0 {
		return
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(policy.limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	if decision.RetryAfter > 0 {
		reset := time.Now().Add(decision.RetryAfter).Unix()
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
	}
}

// rateLimitKeyAuth combines client IP with the caller-supplied email so a
// shared NAT address does not exhaust the auth tier for everyone behind it.
func rateLimitKeyAuth(req *http.Request) string {
	key := rateLimitKeyIP(req)
	if email := strings.ToLower(strings.TrimSpace(req.URL.Query().Get("email"))); email != "" {
		key += ":" + email
	}
	return key
}

func rateLimitKeyIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}
