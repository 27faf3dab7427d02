package tunnel

import (
	"strings"

	"stackctl/internal/config"
)

// Rule maps a public hostname to a local service. The fallback rule has no hostname.
type Rule struct {
	Hostname string `yaml:"hostname,omitempty"`
	Service  string `yaml:"service"`
}

// IsWildcard reports whether the hostname matches a whole subdomain level.
func (r Rule) IsWildcard() bool {
	return strings.HasPrefix(r.Hostname, "*")
}

// IsFallback reports whether the rule is the catch-all entry.
func (r Rule) IsFallback() bool {
	return r.Hostname == ""
}

// BuildRules orders routes for cloudflared: concrete hostnames in declared order,
// then wildcards in declared order, then the fallback.
func BuildRules(routes []config.RouteSpec, fallback string) []Rule {
	rules := make([]Rule, 0, len(routes)+1)
	var wildcards []Rule
	for _, r := range routes {
		rule := Rule{Hostname: r.Hostname, Service: r.Service}
		if rule.IsWildcard() {
			wildcards = append(wildcards, rule)
			continue
		}
		rules = append(rules, rule)
	}
	rules = append(rules, wildcards...)
	return append(rules, Rule{Service: fallback})
}

// Hostnames returns the concrete hostnames, in order.
func Hostnames(rules []Rule) []string {
	var out []string
	for _, r := range rules {
		if !r.IsFallback() && !r.IsWildcard() {
			out = append(out, r.Hostname)
		}
	}
	return out
}
