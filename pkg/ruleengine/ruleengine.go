// Package ruleengine compiles Casparian Flow's routing rules (glob pattern
// -> tag) into a matcher the scout consults for every observed file. The
// compiled matcher is swapped in atomically on reload, so walker
// goroutines never block behind a rebuild and never observe a half
// -updated rule set: a classic read-copy-update.
package ruleengine

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/casparian/flow/pkg/types"
)

type compiledRule struct {
	pattern  string
	tag      string
	priority int
	id       string
}

// compiledSet is the immutable snapshot an Engine points at. Rules are
// pre-sorted priority-descending, id-ascending so Match never has to sort
// per call.
type compiledSet struct {
	rules []compiledRule
}

// Engine matches relative file paths against the active routing rule set.
// Reload replaces the rule set behind an atomic pointer; Match reads it
// without taking a lock.
type Engine struct {
	current atomic.Pointer[compiledSet]
}

// New builds an Engine from the given rules. Disabled rules are dropped
// at compile time, not filtered per match.
func New(rules []*types.RoutingRule) (*Engine, error) {
	e := &Engine{}
	if err := e.Reload(rules); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload compiles a new rule set and swaps it in atomically. An invalid
// glob pattern fails the whole reload; the engine keeps serving the
// previous (valid) rule set until a corrected Reload succeeds.
func (e *Engine) Reload(rules []*types.RoutingRule) error {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if !doublestar.ValidatePattern(r.Pattern) {
			return fmt.Errorf("ruleengine: invalid pattern %q in rule %s", r.Pattern, r.ID)
		}
		compiled = append(compiled, compiledRule{
			pattern:  r.Pattern,
			tag:      r.Tag,
			priority: r.Priority,
			id:       r.ID,
		})
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		if compiled[i].priority != compiled[j].priority {
			return compiled[i].priority > compiled[j].priority
		}
		return compiled[i].id < compiled[j].id
	})

	e.current.Store(&compiledSet{rules: compiled})
	return nil
}

// Match returns every tag whose pattern matches relPath, in
// priority-descending, id-ascending order — the order tags are recorded
// in FileVersion.AppliedTags.
func (e *Engine) Match(relPath string) ([]string, error) {
	set := e.current.Load()
	if set == nil {
		return nil, nil
	}
	var tags []string
	for _, r := range set.rules {
		ok, err := doublestar.Match(r.pattern, relPath)
		if err != nil {
			return nil, fmt.Errorf("ruleengine: match %q against %q: %w", r.pattern, relPath, err)
		}
		if ok {
			tags = append(tags, r.tag)
		}
	}
	return tags, nil
}
