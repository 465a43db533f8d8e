// Package analytics records best-effort per-tenant delivery counters in
// Redis. Counter writes never affect run correctness.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/entersite/outreach/internal/domain"
)

// DefaultRetention is the TTL applied to counter buckets.
const DefaultRetention = 30 * 24 * time.Hour

type RedisSink struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client, retention: DefaultRetention}
}

func (s *RedisSink) WithRetention(d time.Duration) *RedisSink {
	if d > 0 {
		s.retention = d
	}
	return s
}

// RecordSend bumps the tenant's hourly send counter for the channel.
func (s *RedisSink) RecordSend(ctx context.Context, tenantID string, channel domain.Channel, at time.Time) {
	s.incr(ctx, buildKey(tenantID, "sends:"+string(channel), at))
}

// RecordSuppression bumps the tenant's hourly suppression counter.
func (s *RedisSink) RecordSuppression(ctx context.Context, tenantID string, at time.Time) {
	s.incr(ctx, buildKey(tenantID, "suppressed", at))
}

// RecordHotTransition bumps the tenant's hourly hot-transition counter.
func (s *RedisSink) RecordHotTransition(ctx context.Context, tenantID string, at time.Time) {
	s.incr(ctx, buildKey(tenantID, "hot", at))
}

func (s *RedisSink) incr(ctx context.Context, key string) {
	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: redis pipeline key=%s: %v", key, err)
	}
}

func buildKey(tenantID, metric string, t time.Time) string {
	return fmt.Sprintf("t:%s:%s:%s", tenantID, metric, t.UTC().Format("2006010215"))
}
