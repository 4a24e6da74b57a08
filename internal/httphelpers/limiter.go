// Package httphelpers implements the sandboxed network-egress commands
// exposed to scripts: http_get/http_post/http_head (a rate-limited HTTP
// client) and stockquote (a rate-limited, cached stock quote lookup).
// Both are registered once per interpreter and told which eval they are
// serving via BeginEval, mirroring the original bot's
// set_context-then-check_and_record rate limiter shape.
package httphelpers

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces two tiers: a per-key-per-minute token bucket (the key
// is typically a channel or user) and a per-eval request cap that the
// owning command set resets via BeginEval before every evaluation.
type Limiter struct {
	mu                sync.Mutex
	buckets           map[string]*rate.Limiter
	requestsPerMinute int
	requestsPerEval   int
	evalUsed          int
}

// NewLimiter builds a Limiter allowing requestsPerEval calls within a
// single evaluation and requestsPerMinute calls per key per minute.
func NewLimiter(requestsPerEval, requestsPerMinute int) *Limiter {
	return &Limiter{
		buckets:           make(map[string]*rate.Limiter),
		requestsPerMinute: requestsPerMinute,
		requestsPerEval:   requestsPerEval,
	}
}

// BeginEval resets the per-eval counter. Call it once per evaluation,
// before the interpreter runs any script-supplied code.
func (l *Limiter) BeginEval() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evalUsed = 0
}

func (l *Limiter) bucketFor(key string) *rate.Limiter {
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.requestsPerMinute)), l.requestsPerMinute)
		l.buckets[key] = b
	}
	return b
}

// Allow charges one request against key's per-minute bucket and the
// shared per-eval cap, returning an error describing whichever limit was
// hit first.
func (l *Limiter) Allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.evalUsed >= l.requestsPerEval {
		return fmt.Errorf("too many requests in this eval (max %d)", l.requestsPerEval)
	}
	if !l.bucketFor(key).Allow() {
		return fmt.Errorf("too many requests (max %d per minute for %q)", l.requestsPerMinute, key)
	}
	l.evalUsed++
	return nil
}
