package policy

import (
	"net"
	"testing"

	"github.com/cuemby/nodeforge/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestDecideDefaultAllow(t *testing.T) {
	p := Compile(types.NetworkPolicyDoc{})
	d := p.Decide(RequestDescriptor{Domain: "example.com"})
	assert.True(t, d.Allow)
	assert.False(t, d.Deny)
}

func TestDecideDenyListTakesPrecedence(t *testing.T) {
	p := Compile(types.NetworkPolicyDoc{
		DeniedDomains:  []string{"blocked.example"},
		AllowedDomains: []string{"blocked.example"},
	})
	d := p.Decide(RequestDescriptor{Domain: "blocked.example"})
	assert.True(t, d.Deny)
}

func TestDecideDomainSuffixMatch(t *testing.T) {
	tests := []struct {
		name   string
		domain string
		suffix string
		expect bool
	}{
		{"exact match", "api.example.com", "api.example.com", true},
		{"subdomain match", "sub.api.example.com", "api.example.com", true},
		{"no match", "evil.com", "api.example.com", false},
		{"suffix-but-not-dotted does not match", "evilapi.example.com", "api.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, domainMatches(tt.domain, tt.suffix))
		})
	}
}

func TestDecideAllowListRequiresMatch(t *testing.T) {
	p := Compile(types.NetworkPolicyDoc{
		AllowedDomains: []string{"good.example"},
	})

	allowed := p.Decide(RequestDescriptor{Domain: "good.example"})
	assert.True(t, allowed.Allow)

	denied := p.Decide(RequestDescriptor{Domain: "other.example"})
	assert.True(t, denied.Deny)
}

func TestMatchCIDR(t *testing.T) {
	tests := []struct {
		name   string
		ip     string
		cidr   string
		expect bool
	}{
		{"bare ip match", "10.0.0.5", "10.0.0.5", true},
		{"bare ip no match", "10.0.0.5", "10.0.0.6", false},
		{"cidr contains", "10.0.0.5", "10.0.0.0/24", true},
		{"cidr excludes", "10.0.1.5", "10.0.0.0/24", false},
		{"invalid cidr", "10.0.0.5", "not-a-cidr/24", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, cidrMatches(net.ParseIP(tt.ip), tt.cidr))
		})
	}
}

func TestDecideFirewallRulesPriorityOrder(t *testing.T) {
	p := Compile(types.NetworkPolicyDoc{
		Rules: []types.FirewallRule{
			{Priority: 10, DomainOrCIDR: "example.com", Effect: types.FirewallDeny},
			{Priority: 1, DomainOrCIDR: "example.com", Effect: types.FirewallAllow},
		},
	})

	d := p.Decide(RequestDescriptor{Domain: "example.com"})
	assert.True(t, d.Allow, "lower priority rule (1) must win over higher priority (10)")
}

func TestDecideFirewallRuleWithPort(t *testing.T) {
	p := Compile(types.NetworkPolicyDoc{
		Rules: []types.FirewallRule{
			{Priority: 1, DomainOrCIDR: "example.com", Port: 443, Effect: types.FirewallDeny},
		},
	})

	denied := p.Decide(RequestDescriptor{Domain: "example.com", Port: 443})
	assert.True(t, denied.Deny)

	allowed := p.Decide(RequestDescriptor{Domain: "example.com", Port: 8080})
	assert.True(t, allowed.Allow, "rule is port-scoped, other ports fall through to default allow")
}

func TestAccountMaxConcurrentConnections(t *testing.T) {
	p := Compile(types.NetworkPolicyDoc{MaxConcurrentConns: 1})
	p.OpenConn()
	assert.False(t, p.Account(0, 0), "second open connection exceeds the cap")
	p.CloseConn()
	assert.True(t, p.Account(0, 0))
}
