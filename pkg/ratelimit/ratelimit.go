package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/betbot/acdm/pkg/cache"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	GetRemaining() int
	GetResetTime() time.Time
}

// TokenBucket 令牌桶速率限制器
type TokenBucket struct {
	capacity   float64 // 桶容量
	tokens     float64 // 当前令牌数
	refillRate float64 // 每秒补充的令牌数
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket 创建新的令牌桶（初始为满）
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// refill 按经过的时间补充令牌
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens = math.Min(tb.capacity, tb.tokens+elapsed*tb.refillRate)
	tb.lastRefill = now
}

// Allow 检查是否允许请求
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 等待直到允许请求
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}
		wait := time.Until(tb.GetResetTime())
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// GetRemaining 获取剩余令牌数
func (tb *TokenBucket) GetRemaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return int(tb.tokens)
}

// GetResetTime 下一个令牌可用的时间
func (tb *TokenBucket) GetResetTime() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	now := tb.now()
	if tb.tokens >= 1 || tb.refillRate <= 0 {
		return now
	}
	seconds := (1 - tb.tokens) / tb.refillRate
	return now.Add(time.Duration(seconds * float64(time.Second)))
}

// SlidingWindow 滑动窗口速率限制器
type SlidingWindow struct {
	limit      int           // 限制数量
	windowSize time.Duration // 窗口大小
	requests   []time.Time   // 请求时间戳
	now        func() time.Time
	mu         sync.Mutex
}

// NewSlidingWindow 创建新的滑动窗口速率限制器
func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:      limit,
		windowSize: windowSize,
		now:        time.Now,
	}
}

// prune 移除窗口外的请求；调用方持有锁
func (sw *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-sw.windowSize)
	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}
	sw.requests = sw.requests[i:]
}

// Allow 检查是否允许请求
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	sw.prune(now)
	if len(sw.requests) >= sw.limit {
		return false
	}
	sw.requests = append(sw.requests, now)
	return true
}

// Wait 等待直到允许请求
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}
		wait := time.Until(sw.GetResetTime())
		if wait <= 0 {
			wait = 100 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// GetRemaining 获取剩余请求数
func (sw *SlidingWindow) GetRemaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.prune(sw.now())
	return max(0, sw.limit-len(sw.requests))
}

// GetResetTime 最早一个请求移出窗口的时间
func (sw *SlidingWindow) GetResetTime() time.Time {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	now := sw.now()
	sw.prune(now)
	if len(sw.requests) < sw.limit || len(sw.requests) == 0 {
		return now
	}
	return sw.requests[0].Add(sw.windowSize)
}

// DefaultIdleTTL 限流器闲置多久后被回收
const DefaultIdleTTL = 10 * time.Minute

// Keyed 按 key（例如账户地址）各自独立限流；闲置的限流器会被回收
type Keyed struct {
	factory  func() RateLimiter
	limiters *cache.Cache[string, RateLimiter]
}

// NewKeyed factory 为每个新 key 创建限流器
func NewKeyed(factory func() RateLimiter) *Keyed {
	return NewKeyedWithTTL(factory, DefaultIdleTTL)
}

// NewKeyedWithTTL idle<=0 表示永不回收
func NewKeyedWithTTL(factory func() RateLimiter, idle time.Duration) *Keyed {
	return &Keyed{
		factory:  factory,
		limiters: cache.New[string, RateLimiter](idle),
	}
}

// GetLimiter 获取（必要时创建）key 对应的限流器
func (k *Keyed) GetLimiter(key string) RateLimiter {
	return k.limiters.GetOrCreate(key, k.factory)
}

// Allow 检查 key 是否允许请求
func (k *Keyed) Allow(key string) bool {
	return k.GetLimiter(key).Allow()
}

// Wait 等待直到 key 允许请求
func (k *Keyed) Wait(ctx context.Context, key string) error {
	return k.GetLimiter(key).Wait(ctx)
}

// GetRemaining key 的剩余请求数
func (k *Keyed) GetRemaining(key string) int {
	return k.GetLimiter(key).GetRemaining()
}

// Len 已跟踪的 key 数量
func (k *Keyed) Len() int {
	return k.limiters.Len()
}

// Close 停止回收
func (k *Keyed) Close() {
	k.limiters.Close()
}
