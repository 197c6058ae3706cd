package hostapi

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/nodeforge/pkg/audit"
	"github.com/cuemby/nodeforge/pkg/policy"
	"github.com/cuemby/nodeforge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchAllowsWhenNoPolicyConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	h := New("exec-1", "tenant-1", nil, nil, nil)
	body, status, err := h.Fetch(context.Background(), "GET", srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, "ok", string(body))
}

func TestFetchDeniedByPolicyNeverDials(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(200)
	}))
	defer srv.Close()

	pol := policy.Compile(types.NetworkPolicyDoc{DeniedDomains: []string{"127.0.0.1"}})
	auditor := audit.New(audit.DefaultConfig())
	h := New("exec-2", "tenant-1", pol, auditor, nil)

	_, _, err := h.Fetch(context.Background(), "GET", srv.URL, nil)
	assert.Error(t, err)
	assert.False(t, called, "denied request must never reach the server")

	violations := auditor.EventsForExecution("exec-2")
	require.Len(t, violations, 1)
	assert.Equal(t, "egress_denied", violations[0].Type)
}

func TestFetchAllowedByAllowListPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(201)
	}))
	defer srv.Close()

	host := srv.Listener.Addr().(*net.TCPAddr).IP.String()
	pol := policy.Compile(types.NetworkPolicyDoc{AllowedCIDRs: []string{host + "/32"}})
	h := New("exec-3", "tenant-1", pol, nil, nil)

	_, status, err := h.Fetch(context.Background(), "GET", srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, 201, status)
}

func TestFetchInvalidURLErrors(t *testing.T) {
	h := New("exec-4", "tenant-1", nil, nil, nil)
	_, _, err := h.Fetch(context.Background(), "GET", "://bad-url", nil)
	assert.Error(t, err)
}

func TestLogAppendsPrefixedLine(t *testing.T) {
	h := New("exec-5", "tenant-1", nil, nil, nil)
	h.Log("info", "hello")
	require.Len(t, h.Logs(), 1)
	assert.Contains(t, h.Logs()[0], "hello")
}
