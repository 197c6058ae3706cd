package limiter

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/nodeforge/pkg/errs"
	"github.com/cuemby/nodeforge/pkg/types"
	"golang.org/x/time/rate"
)

// Config bounds the limiter's admission behavior.
type Config struct {
	GlobalConcurrency int
	TenantConcurrency int
	TenantMemoryBytes int64
	// NetworkRatePerSec and NetworkBurst bound the rolling network-quota
	// window tracked per tenant by Observe.
	NetworkRatePerSec float64
	NetworkBurst      int
}

// DefaultConfig returns sensible defaults for a single runner instance.
func DefaultConfig() Config {
	return Config{
		GlobalConcurrency: 256,
		TenantConcurrency: 16,
		TenantMemoryBytes: 2 << 30, // 2 GiB
		NetworkRatePerSec: 1000,
		NetworkBurst:      2000,
	}
}

type tenantState struct {
	concurrency   int
	reservedBytes int64
	netLimiter    *rate.Limiter
}

// AdmissionToken represents a tenant's reserved slot. Its Release must be
// called exactly once per successful Admit; Release is idempotent so a
// caller may invoke it on every exit path without double-releasing.
type AdmissionToken struct {
	tenantID string
	bytes    int64
	released atomic.Bool
}

// Limiter is the Resource Limiter. All mutation of shared counters goes
// through its mutex; Observe additionally touches a per-tenant rate.Limiter
// which is itself internally synchronized.
type Limiter struct {
	cfg Config

	mu             sync.Mutex
	globalActive   int
	tenants        map[string]*tenantState
}

// New constructs a Limiter from cfg.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg,
		tenants: make(map[string]*tenantState),
	}
}

func (l *Limiter) tenant(tenantID string) *tenantState {
	t, ok := l.tenants[tenantID]
	if !ok {
		t = &tenantState{
			netLimiter: rate.NewLimiter(rate.Limit(l.cfg.NetworkRatePerSec), l.cfg.NetworkBurst),
		}
		l.tenants[tenantID] = t
	}
	return t
}

// Admit atomically checks tenant concurrency, tenant memory budget, and
// global concurrency, reserving on success. On rejection it returns a
// QUOTA_EXCEEDED error; hard caps (tenant concurrency, tenant memory) are
// non-retryable, the global cap is treated as a transient window and is
// retryable.
func (l *Limiter) Admit(tenantID string, rc types.RuntimeConfig) (*AdmissionToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.tenant(tenantID)

	if t.concurrency >= l.cfg.TenantConcurrency {
		return nil, errs.NewQuotaExceeded("limiter", "tenant concurrency cap reached", true)
	}
	if l.cfg.TenantMemoryBytes > 0 && t.reservedBytes+rc.MaxMemoryBytes > l.cfg.TenantMemoryBytes {
		return nil, errs.NewQuotaExceeded("limiter", "tenant memory cap reached", true)
	}
	if l.globalActive >= l.cfg.GlobalConcurrency {
		return nil, errs.NewQuotaExceeded("limiter", "global concurrency cap reached", false)
	}

	t.concurrency++
	t.reservedBytes += rc.MaxMemoryBytes
	l.globalActive++

	return &AdmissionToken{tenantID: tenantID, bytes: rc.MaxMemoryBytes}, nil
}

// Release returns a token's reservation. Idempotent: releasing an
// already-released token is a no-op.
func (l *Limiter) Release(tok *AdmissionToken) {
	if tok == nil {
		return
	}
	if !tok.released.CompareAndSwap(false, true) {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.tenants[tok.tenantID]
	if !ok {
		return
	}
	t.concurrency--
	t.reservedBytes -= tok.bytes
	l.globalActive--
}

// Observe records realized network activity against the tenant's rolling
// quota window. It returns a retryable QUOTA_EXCEEDED error if the window is
// currently exhausted; callers typically use this to decide whether to
// throttle further outbound calls within one execution, not to fail the
// whole execution.
func (l *Limiter) Observe(tenantID string, m types.ExecutionMetrics) error {
	l.mu.Lock()
	t := l.tenant(tenantID)
	l.mu.Unlock()

	n := int(m.NetworkRequests)
	if n <= 0 {
		return nil
	}
	if !t.netLimiter.AllowN(time.Now(), n) {
		return errs.NewQuotaExceeded("limiter", "tenant network quota window exhausted", false)
	}
	return nil
}

// ActiveTenantConcurrency returns the current concurrency counter for a
// tenant; used by tests and diagnostics, never by the hot path.
func (l *Limiter) ActiveTenantConcurrency(tenantID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.tenants[tenantID]; ok {
		return t.concurrency
	}
	return 0
}
