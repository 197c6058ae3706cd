package hostapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cuemby/nodeforge/pkg/audit"
	"github.com/cuemby/nodeforge/pkg/errs"
	"github.com/cuemby/nodeforge/pkg/policy"
	"github.com/cuemby/nodeforge/pkg/registry"
)

var _ registry.HostAPI = (*PolicyHost)(nil)

// PolicyHost is the registry.HostAPI every network-capable node sees: Fetch
// is gated by a compiled policy before any request leaves the process, and
// every denial or exhausted cap is recorded with the auditor (allowed
// requests are not recorded).
type PolicyHost struct {
	ExecutionID string
	TenantID    string
	Policy      *policy.Policy
	Auditor     *audit.Auditor
	Client      *http.Client

	logs []string
}

// New builds a PolicyHost. client may be nil, in which case a client with a
// 30s timeout is used.
func New(executionID, tenantID string, pol *policy.Policy, auditor *audit.Auditor, client *http.Client) *PolicyHost {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &PolicyHost{ExecutionID: executionID, TenantID: tenantID, Policy: pol, Auditor: auditor, Client: client}
}

// Log appends one line to this host's buffer; pkg/engine does not read it
// directly — backends capture logs via their own handle, this exists so
// nodes that hold only a HostAPI reference (no backend-specific logger)
// still have somewhere to write.
func (h *PolicyHost) Log(level, text string) {
	h.logs = append(h.logs, fmt.Sprintf("[%s] %s", level, text))
}

// Logs returns the lines appended via Log.
func (h *PolicyHost) Logs() []string { return h.logs }

// Fetch resolves target, checks it against the compiled policy, and
// performs the request only if allowed. A policy denial returns a
// POLICY_DENY taxonomy error without ever dialing out; an exhausted
// bandwidth/connection cap returns a NETWORK_ERROR one after the request
// already completed.
func (h *PolicyHost) Fetch(ctx context.Context, method, target string, body []byte) ([]byte, int, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid url: %w", err)
	}

	desc := policy.RequestDescriptor{Domain: u.Hostname(), Port: portOf(u)}
	if ip := net.ParseIP(u.Hostname()); ip != nil {
		desc.IP = ip
	}

	if h.Policy != nil {
		decision := h.Policy.Decide(desc)
		if decision.Deny || !decision.Allow {
			h.recordViolation("egress_denied", audit.SeverityHigh, decision.Log, target)
			return nil, 0, errs.New(errs.PolicyDeny, "hostapi", fmt.Sprintf("network policy denied request to %s: %s", target, decision.Log), nil)
		}
	}

	connOpen := false
	if h.Policy != nil {
		h.Policy.OpenConn()
		connOpen = true
		defer func() {
			if connOpen {
				h.Policy.CloseConn()
			}
		}()
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if h.Policy != nil {
		// Release this request's own connection first so Account counts
		// only the other connections still open.
		h.Policy.CloseConn()
		connOpen = false
		if !h.Policy.Account(int64(len(body)), int64(len(respBody))) {
			h.recordViolation("rate_limited", audit.SeverityMedium, "bandwidth or connection cap exhausted", target)
			return nil, resp.StatusCode, errs.New(errs.NetworkError, "hostapi", fmt.Sprintf("network quota exhausted for %s", target), nil)
		}
	}

	return respBody, resp.StatusCode, nil
}

func (h *PolicyHost) recordViolation(kind string, severity audit.Severity, description, target string) {
	if h.Auditor == nil {
		return
	}
	h.Auditor.Record(audit.Violation{
		ExecutionID: h.ExecutionID,
		Type:        kind,
		Severity:    severity,
		Description: description,
		Details:     map[string]string{"tenant_id": h.TenantID, "target": target},
		Blocked:     true,
	})
}

func portOf(u *url.URL) int {
	if p := u.Port(); p != "" {
		var port int
		if _, err := fmt.Sscanf(p, "%d", &port); err == nil {
			return port
		}
	}
	if u.Scheme == "https" {
		return 443
	}
	return 80
}
