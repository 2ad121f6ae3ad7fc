// Package router classifies intercepted request URLs into caching strategies.
package router

import (
	"fmt"
	"regexp"

	"github.com/mealsync/mealsync/pkg/config"
)

// Strategy names a caching algorithm applied to an intercepted request.
type Strategy string

const (
	CacheFirst           Strategy = "cache_first"
	StaleWhileRevalidate Strategy = "stale_while_revalidate"
	NetworkFirst         Strategy = "network_first"
	NetworkOnly          Strategy = "network_only"
)

type group struct {
	strategy Strategy
	patterns []*regexp.Regexp
}

// Rules is an ordered set of compiled pattern groups. Classification is pure
// and deterministic after construction.
type Rules struct {
	groups []group
}

// New compiles the configured pattern groups in their fixed evaluation order.
// A pattern that fails to compile is a construction-time error.
func New(cfg config.RouterConfig) (*Rules, error) {
	r := &Rules{}
	for _, g := range []struct {
		strategy Strategy
		patterns []string
	}{
		{CacheFirst, cfg.CacheFirst},
		{StaleWhileRevalidate, cfg.StaleWhileRevalidate},
		{NetworkFirst, cfg.NetworkFirst},
	} {
		compiled := make([]*regexp.Regexp, 0, len(g.patterns))
		for _, p := range g.patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("compile pattern %q for %s: %w", p, g.strategy, err)
			}
			compiled = append(compiled, re)
		}
		r.groups = append(r.groups, group{strategy: g.strategy, patterns: compiled})
	}
	return r, nil
}

// Classify returns the strategy of the first group containing a pattern that
// matches url. No match falls through to NetworkOnly.
func (r *Rules) Classify(url string) Strategy {
	for _, g := range r.groups {
		for _, re := range g.patterns {
			if re.MatchString(url) {
				return g.strategy
			}
		}
	}
	return NetworkOnly
}
