package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket 令牌桶速率限制器
type TokenBucket struct {
	capacity   int       // 桶容量
	tokens     int       // 当前令牌数
	refillRate int       // 每秒补充的令牌数
	lastRefill time.Time // 上次补充时间
	mu         sync.Mutex
}

// NewTokenBucket 创建新的令牌桶
func NewTokenBucket(capacity, refillRate int) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// refill 补充令牌
func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)

	tokensToAdd := int(elapsed.Seconds()) * tb.refillRate
	if tokensToAdd > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
		tb.lastRefill = now
	}
}

// Allow 检查是否允许请求
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// PerKeyLimiter keeps one bucket per key (e.g. per wallet address) and evicts
// buckets that have been idle long enough to be full again.
type PerKeyLimiter struct {
	capacity   int
	refillRate int

	mu      sync.Mutex
	buckets map[string]*TokenBucket
	touched map[string]time.Time
}

// NewPerKeyLimiter 创建按 key 维度的限流器
func NewPerKeyLimiter(capacity, refillRate int) *PerKeyLimiter {
	return &PerKeyLimiter{
		capacity:   capacity,
		refillRate: refillRate,
		buckets:    make(map[string]*TokenBucket),
		touched:    make(map[string]time.Time),
	}
}

// Allow 检查 key 对应的请求是否放行
func (l *PerKeyLimiter) Allow(key string) bool {
	l.mu.Lock()
	tb, ok := l.buckets[key]
	if !ok {
		tb = NewTokenBucket(l.capacity, l.refillRate)
		l.buckets[key] = tb
	}
	l.touched[key] = time.Now()
	l.maybeEvict()
	l.mu.Unlock()

	return tb.Allow()
}

// maybeEvict drops buckets untouched for longer than a full refill cycle.
// Caller must hold l.mu.
func (l *PerKeyLimiter) maybeEvict() {
	if len(l.buckets) < 4096 {
		return
	}
	idle := time.Duration(l.capacity/max(l.refillRate, 1)+1) * time.Second
	cutoff := time.Now().Add(-idle)
	for k, ts := range l.touched {
		if ts.Before(cutoff) {
			delete(l.buckets, k)
			delete(l.touched, k)
		}
	}
}
