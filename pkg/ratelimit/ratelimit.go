// Package ratelimit detects rate-limit signatures in agent stderr lines,
// and tracks how often each fixed pattern fires so drift in the heuristic
// is observable.
package ratelimit

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// patterns is the fixed, best-effort list of rate-limit signatures.
// Matching is case-insensitive. The agent pool applies it to stderr lines
// only; `error` events on the agent's stdout stream are not matched.
var patterns = []string{
	"rate limit",
	"429",
	"too many requests",
	"overloaded",
	"usage limit",
}

// Detector matches text against the fixed pattern list and counts hits.
type Detector struct {
	matches *prometheus.CounterVec
}

// NewDetector builds a Detector registered against reg.
func NewDetector(reg prometheus.Registerer) *Detector {
	matches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_pattern_matches_total",
		Help: "Count of rate-limit heuristic matches, by which fixed pattern fired.",
	}, []string{"pattern"})
	reg.MustRegister(matches)
	return &Detector{matches: matches}
}

// Match reports whether text matches any rate-limit signature, and if so,
// increments the counter for the pattern that fired first.
func (d *Detector) Match(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			if d.matches != nil {
				d.matches.WithLabelValues(p).Inc()
			}
			return true
		}
	}
	return false
}
