package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/config"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/logger"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/metrics"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
)

// FailOpenRemaining is reported as Remaining when the policy is unknown.
const FailOpenRemaining = 9999

// DefaultStoreTimeout bounds each ledger round-trip when no timeout is configured.
const DefaultStoreTimeout = 2 * time.Second

// RequestMeta carries the caller identity recorded with each attempt.
type RequestMeta struct {
	SourceIP  string            `json:"source_ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// RateLimitResult is the outcome of one check. ResetAt is now+window, an
// approximation of when the oldest counted attempt leaves the window.
type RateLimitResult struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	Limit     int       `json:"limit"`
	Policy    string    `json:"policy"`
	FailOpen  bool      `json:"fail_open,omitempty"`
}

// RateLimiter counts attempts per (policy, identifier) over a trailing window.
// Storage failures and unknown policies admit the request.
type RateLimiter struct {
	store    AttemptStore
	policies config.Policies
	timeout  time.Duration
	now      func() time.Time
}

// NewRateLimiter builds a limiter over store using the injected policy set.
func NewRateLimiter(store AttemptStore, policies config.Policies, timeout time.Duration) *RateLimiter {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &RateLimiter{
		store:    store,
		policies: policies,
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Policies returns the configured policy set.
func (r *RateLimiter) Policies() config.Policies {
	return r.policies
}

// Check decides whether identifier may proceed under policyName and records
// the attempt. It never returns an error; see RateLimitResult.FailOpen.
func (r *RateLimiter) Check(ctx context.Context, policyName, identifier string, meta RequestMeta) RateLimitResult {
	now := r.now()
	log := logger.Component("ratelimit").WithFields(logrus.Fields{
		"policy":     policyName,
		"identifier": identifier,
	})

	policy, ok := r.policies.Lookup(policyName)
	if !ok {
		log.Error("unknown rate limit policy, allowing request")
		metrics.IncRateLimitCheck(policyName, metrics.DecisionFailOpen)
		return RateLimitResult{
			Allowed:   true,
			Remaining: FailOpenRemaining,
			ResetAt:   now,
			Policy:    policyName,
			FailOpen:  true,
		}
	}
	if identifier == "" {
		log.Error("rate limit check without identifier, allowing request")
		return r.failOpen(policy, now)
	}

	key := models.AttemptKey{Policy: policy.Name, Identifier: identifier}
	count, err := r.countSince(ctx, key, now.Add(-policy.Window))
	if err != nil {
		log.WithError(err).Error("attempt ledger count failed, allowing request")
		// Keep fail-open traffic visible to the suspicion scorer.
		if err := r.append(ctx, newAttempt(key, now, true, meta)); err != nil {
			log.WithError(err).Warn("attempt ledger write failed after count failure")
		}
		return r.failOpen(policy, now)
	}

	// The current attempt is not in count: it is appended only after deciding.
	allowed := count < int64(policy.Limit)
	remaining := policy.Limit - int(count) - 1
	if remaining < 0 {
		remaining = 0
	}

	if err := r.append(ctx, newAttempt(key, now, allowed, meta)); err != nil {
		log.WithError(err).Error("attempt ledger write failed, allowing request")
		return r.failOpen(policy, now)
	}

	result := RateLimitResult{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   now.Add(policy.Window),
		Limit:     policy.Limit,
		Policy:    policy.Name,
	}
	if allowed {
		metrics.IncRateLimitCheck(policy.Name, metrics.DecisionAllowed)
	} else {
		metrics.IncRateLimitCheck(policy.Name, metrics.DecisionDenied)
		log.WithFields(logrus.Fields{
			"count":     count,
			"limit":     policy.Limit,
			"source_ip": meta.SourceIP,
		}).Info("rate limit exceeded")
	}
	return result
}

func newAttempt(key models.AttemptKey, at time.Time, allowed bool, meta RequestMeta) *models.AttemptRecord {
	return &models.AttemptRecord{
		PolicyName:  key.Policy,
		Identifier:  key.Identifier,
		AttemptedAt: at,
		Allowed:     allowed,
		SourceIP:    meta.SourceIP,
		UserAgent:   meta.UserAgent,
		Metadata:    meta.Extra,
	}
}

func (r *RateLimiter) failOpen(policy config.RateLimitPolicy, now time.Time) RateLimitResult {
	metrics.IncRateLimitCheck(policy.Name, metrics.DecisionFailOpen)
	return RateLimitResult{
		Allowed:   true,
		Remaining: policy.Limit,
		ResetAt:   now.Add(policy.Window),
		Limit:     policy.Limit,
		Policy:    policy.Name,
		FailOpen:  true,
	}
}

func (r *RateLimiter) countSince(ctx context.Context, key models.AttemptKey, since time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.store.CountSince(ctx, key, since)
}

func (r *RateLimiter) append(ctx context.Context, rec *models.AttemptRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.store.Append(ctx, rec)
}
