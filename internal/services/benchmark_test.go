package services

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/config"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
)

// tallyStore keeps only per-key counts so the benchmark measures the limiter.
type tallyStore struct {
	counts map[models.AttemptKey]int64
}

func (s *tallyStore) CountSince(_ context.Context, key models.AttemptKey, _ time.Time) (int64, error) {
	return s.counts[key], nil
}

func (s *tallyStore) Append(_ context.Context, rec *models.AttemptRecord) error {
	s.counts[rec.Key()]++
	return nil
}

func (s *tallyStore) IPStats(context.Context, string, time.Time) (int64, int64, error) {
	return 0, 0, nil
}

func (s *tallyStore) PruneBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func BenchmarkRateLimiterCheck(b *testing.B) {
	limiter := NewRateLimiter(&tallyStore{counts: map[models.AttemptKey]int64{}}, config.DefaultPolicies(), time.Second)
	ctx := context.Background()
	meta := RequestMeta{SourceIP: "203.0.113.7"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.Check(ctx, "api_general", "client-"+strconv.Itoa(i%64), meta)
	}
}

func BenchmarkPatternsForAction(b *testing.B) {
	patterns := config.DefaultPatterns()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		patterns.ForAction("deal_updated")
	}
}
