package main

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// rateLimiterManager enforces a global cap on outbound SMTP connections
// plus a per-domain cap, so one busy domain never starves the others and
// the worker never exceeds the operator-configured global ceiling.
type rateLimiterManager struct {
	global *rate.Limiter

	mu            sync.RWMutex
	perDomain     map[string]*rate.Limiter
	domainBurst   int
	defaultPerSec float64
}

func newRateLimiterManager(globalPerSecond float64, domainBurst int) *rateLimiterManager {
	global := rate.NewLimiter(rate.Limit(globalPerSecond), maxInt(1, int(globalPerSecond)))
	return &rateLimiterManager{
		global:        global,
		perDomain:     make(map[string]*rate.Limiter),
		domainBurst:   domainBurst,
		defaultPerSec: 5,
	}
}

// wait blocks until both the global limiter and domain's limiter admit
// one more request, or ctx is cancelled.
func (m *rateLimiterManager) wait(ctx context.Context, domain string) error {
	if err := m.global.Wait(ctx); err != nil {
		return err
	}
	return m.domainLimiter(domain).Wait(ctx)
}

func (m *rateLimiterManager) domainLimiter(domain string) *rate.Limiter {
	domain = strings.ToLower(domain)

	m.mu.RLock()
	limiter, ok := m.perDomain[domain]
	m.mu.RUnlock()
	if ok {
		return limiter
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if limiter, ok = m.perDomain[domain]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(m.defaultPerSec), maxInt(1, m.domainBurst))
	m.perDomain[domain] = limiter
	return limiter
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
