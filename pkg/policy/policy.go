package policy

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/nodeforge/pkg/types"
	"golang.org/x/time/rate"
)

// RequestDescriptor describes one outbound intent to be checked against a
// compiled policy: a network call, in practice, but shaped generically
// enough for other outbound-intent kinds the Security Auditor observes.
type RequestDescriptor struct {
	Domain string
	IP     net.IP
	Port   int
}

// Decision is the outcome of Decide.
type Decision struct {
	Allow bool
	Deny  bool
	Log   string
}

// Policy is the compiled, immutable-for-one-execution decision function
// derived from a types.NetworkPolicyDoc.
type Policy struct {
	doc   types.NetworkPolicyDoc
	rules []types.FirewallRule // sorted by Priority ascending

	mu           sync.Mutex
	connLimiter  *rate.Limiter // bandwidth cap, expressed as a token bucket over KB
	openConns    int
}

// Compile builds a Policy from doc. The rule list is copied and sorted once
// so Decide never re-sorts on the hot path.
func Compile(doc types.NetworkPolicyDoc) *Policy {
	rules := make([]types.FirewallRule, len(doc.Rules))
	copy(rules, doc.Rules)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	var limiter *rate.Limiter
	if doc.BandwidthCapKBps > 0 {
		limiter = rate.NewLimiter(rate.Limit(doc.BandwidthCapKBps), doc.BandwidthCapKBps*2)
	}

	return &Policy{doc: doc, rules: rules, connLimiter: limiter}
}

// Decide evaluates one outbound request descriptor. Ties are broken by
// priority ascending, then first match: the firewall rule list is
// evaluated first (it is the most specific and explicitly prioritized),
// falling back to deny-list-then-allow-list when no rule matches, and
// defaulting to allow when nothing is configured at all.
func (p *Policy) Decide(d RequestDescriptor) Decision {
	for _, rule := range p.rules {
		if ruleMatches(rule, d) {
			if rule.Effect == types.FirewallDeny {
				return Decision{Deny: true, Log: fmt.Sprintf("denied by rule priority=%d match=%s", rule.Priority, rule.DomainOrCIDR)}
			}
			return Decision{Allow: true, Log: fmt.Sprintf("allowed by rule priority=%d match=%s", rule.Priority, rule.DomainOrCIDR)}
		}
	}

	for _, denied := range p.doc.DeniedDomains {
		if domainMatches(d.Domain, denied) {
			return Decision{Deny: true, Log: "denied by domain deny-list: " + denied}
		}
	}
	for _, denied := range p.doc.DeniedCIDRs {
		if cidrMatches(d.IP, denied) {
			return Decision{Deny: true, Log: "denied by CIDR deny-list: " + denied}
		}
	}

	if len(p.doc.AllowedDomains) > 0 || len(p.doc.AllowedCIDRs) > 0 || len(p.doc.AllowedPorts) > 0 {
		allowed := false
		for _, a := range p.doc.AllowedDomains {
			if domainMatches(d.Domain, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			for _, a := range p.doc.AllowedCIDRs {
				if cidrMatches(d.IP, a) {
					allowed = true
					break
				}
			}
		}
		if !allowed && len(p.doc.AllowedPorts) > 0 {
			for _, port := range p.doc.AllowedPorts {
				if port == d.Port {
					allowed = true
					break
				}
			}
		}
		if !allowed {
			return Decision{Deny: true, Log: "denied: no allow-list match"}
		}
	}

	return Decision{Allow: true}
}

// Account charges bandwidth and connection-count accounting after a
// decision has already allowed the request. It returns false when the
// bandwidth cap or the max-concurrent-connections cap is currently
// exhausted.
func (p *Policy) Account(bytesSent, bytesReceived int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.doc.MaxConcurrentConns > 0 && p.openConns >= p.doc.MaxConcurrentConns {
		return false
	}
	if p.connLimiter != nil {
		totalKB := int((bytesSent + bytesReceived) / 1024)
		if totalKB > 0 && !p.connLimiter.AllowN(time.Now(), totalKB) {
			return false
		}
	}
	return true
}

// OpenConn/CloseConn bracket one outbound connection's lifetime for
// max-concurrent-connections accounting.
func (p *Policy) OpenConn() {
	p.mu.Lock()
	p.openConns++
	p.mu.Unlock()
}

func (p *Policy) CloseConn() {
	p.mu.Lock()
	if p.openConns > 0 {
		p.openConns--
	}
	p.mu.Unlock()
}

func ruleMatches(rule types.FirewallRule, d RequestDescriptor) bool {
	if rule.Port != 0 && rule.Port != d.Port {
		return false
	}
	if strings.Contains(rule.DomainOrCIDR, "/") || isBareIP(rule.DomainOrCIDR) {
		return cidrMatches(d.IP, rule.DomainOrCIDR)
	}
	return domainMatches(d.Domain, rule.DomainOrCIDR)
}

// domainMatches reports whether domain equals suffix or is a subdomain of
// it (suffix match).
func domainMatches(domain, suffix string) bool {
	if domain == "" || suffix == "" {
		return false
	}
	domain = strings.ToLower(domain)
	suffix = strings.ToLower(suffix)
	if domain == suffix {
		return true
	}
	return strings.HasSuffix(domain, "."+suffix)
}

// cidrMatches checks if an IP matches a CIDR range or a bare IP address.
func cidrMatches(ip net.IP, cidr string) bool {
	if ip == nil {
		return false
	}
	if !strings.Contains(cidr, "/") {
		parsed := net.ParseIP(cidr)
		if parsed == nil {
			return false
		}
		return ip.Equal(parsed)
	}
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}
	return ipNet.Contains(ip)
}

func isBareIP(s string) bool {
	return net.ParseIP(s) != nil
}
