package net

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ThrottleProvider 定义“按店铺限流”的行为标准
type ThrottleProvider interface {
	// Wait 在发送前阻塞，直到该店铺的令牌可用
	Wait(ctx context.Context, storeID int64) error

	// ReportThrottled 上报该店铺被远端限流 (429)，retryAfter 为远端建议的等待时长
	ReportThrottled(ctx context.Context, storeID int64, retryAfter time.Duration)
}

// Dispatcher 网络调度器 (通用组件)
type Dispatcher interface {
	// Send 发送 HTTP 请求
	// storeID: 业务实体的唯一标识，用于限流隔离
	// req: 标准的 http.Request 对象 (body 需可重放，见 GetBody)
	Send(ctx context.Context, storeID int64, req *http.Request) (*http.Response, error)
}

// httpDispatcher 是 Dispatcher 接口的具体实现
type httpDispatcher struct {
	provider   ThrottleProvider
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
}

var _ Dispatcher = (*httpDispatcher)(nil)

// Option 调度器可选参数
type Option func(*httpDispatcher)

func WithClient(c *http.Client) Option {
	return func(d *httpDispatcher) { d.client = c }
}

func WithMaxRetries(n int) Option {
	return func(d *httpDispatcher) { d.maxRetries = n }
}

func WithBaseDelay(delay time.Duration) Option {
	return func(d *httpDispatcher) { d.baseDelay = delay }
}

func NewDispatcher(provider ThrottleProvider, opts ...Option) Dispatcher {
	d := &httpDispatcher{
		provider:   provider,
		client:     &http.Client{Timeout: 30 * time.Second},
		maxRetries: 2,
		baseDelay:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send 发送 HTTP 请求 (自动处理限流与重试)
// 重试条件: 网络错误、429、5xx；其余状态码直接交给调用方
func (d *httpDispatcher) Send(ctx context.Context, storeID int64, req *http.Request) (*http.Response, error) {
	var lastErr error

	for i := 0; i <= d.maxRetries; i++ {
		// 1. 限流
		if d.provider != nil {
			if err := d.provider.Wait(ctx, storeID); err != nil {
				return nil, fmt.Errorf("throttle wait: %w", err)
			}
		}

		// 2. 重放 body
		attempt, err := rewind(ctx, req, i)
		if err != nil {
			return nil, err
		}

		// 3. 发送请求
		resp, err := d.client.Do(attempt)
		wait := d.backoff(i)

		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode == http.StatusTooManyRequests:
			if ra := retryAfter(resp); ra > 0 {
				wait = ra
			}
			lastErr = fmt.Errorf("throttled: status %d", resp.StatusCode)
			if d.provider != nil {
				d.provider.ReportThrottled(ctx, storeID, wait)
			}
			drain(resp)
		case resp.StatusCode >= http.StatusInternalServerError:
			lastErr = fmt.Errorf("server error: status %d", resp.StatusCode)
			drain(resp)
		default:
			return resp, nil
		}

		if i == d.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil, fmt.Errorf("request failed after retries: %w", lastErr)
}

// backoff 指数退避 + 抖动
func (d *httpDispatcher) backoff(attempt int) time.Duration {
	delay := d.baseDelay << attempt
	if delay <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

func rewind(ctx context.Context, req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 0 || req.Body == nil || req.GetBody == nil {
		return req.WithContext(ctx), nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind body: %w", err)
	}
	clone := req.Clone(ctx)
	clone.Body = body
	return clone, nil
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// ==================== 令牌桶限流 ====================

// rateLimitProvider 每个店铺一个令牌桶
type rateLimitProvider struct {
	limiters sync.Map // storeID -> *storeLimiter
	rps      rate.Limit
	burst    int
}

type storeLimiter struct {
	limiter *rate.Limiter

	mu          sync.Mutex
	pausedUntil time.Time
}

// NewRateLimitProvider 创建按店铺隔离的限流器
func NewRateLimitProvider(rps float64, burst int) ThrottleProvider {
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitProvider{rps: rate.Limit(rps), burst: burst}
}

func (p *rateLimitProvider) get(storeID int64) *storeLimiter {
	if val, ok := p.limiters.Load(storeID); ok {
		return val.(*storeLimiter)
	}
	sl := &storeLimiter{limiter: rate.NewLimiter(p.rps, p.burst)}
	// LoadOrStore 防止并发重复创建
	actual, _ := p.limiters.LoadOrStore(storeID, sl)
	return actual.(*storeLimiter)
}

func (p *rateLimitProvider) Wait(ctx context.Context, storeID int64) error {
	sl := p.get(storeID)

	sl.mu.Lock()
	pause := time.Until(sl.pausedUntil)
	sl.mu.Unlock()

	if pause > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
	return sl.limiter.Wait(ctx)
}

func (p *rateLimitProvider) ReportThrottled(_ context.Context, storeID int64, retryAfter time.Duration) {
	sl := p.get(storeID)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if until := time.Now().Add(retryAfter); until.After(sl.pausedUntil) {
		sl.pausedUntil = until
	}
}
