package policy

import (
	"fmt"
	"sort"
)

// SupersedeAll is the wildcard key value meaning "every other rule".
const SupersedeAll = "*"

// Supersession maps a rule name to the rules whose findings it suppresses
// when it reports an error for the same input.
type Supersession map[string][]string

// DefaultSupersession returns the built-in supersession policy:
//   - a dev snapshot makes every other finding meaningless
//   - a major version mismatch already explains why the target is neither
//     installable nor within the allowed minor range
func DefaultSupersession() Supersession {
	return Supersession{
		RuleInvalidVersion:    {SupersedeAll},
		RuleForbidDevSnapshot: {SupersedeAll},
		RuleMajorVersionMatch: {RuleTargetVersionInstallable, RuleForbidMinorUpdates},
	}
}

// DefaultRules returns the canonical rule chain in evaluation order.
// Order decides which messages are shown first.
func DefaultRules() []Rule {
	return []Rule{
		ForbidDevSnapshot{},
		StableReleaseRequired{},
		MajorVersionMatch{},
		ForbidMinorUpdates{},
		ForbidDowngrade{},
		TargetVersionInstallable{},
		TargetSecurityRelease{},
		SupportedBranchInstalled{},
	}
}

// Engine runs an ordered, statically registered rule chain.
type Engine struct {
	rules        []Rule
	supersession Supersession
}

// NewEngine creates an engine. A nil supersession disables suppression.
func NewEngine(rules []Rule, supersession Supersession) *Engine {
	return &Engine{rules: rules, supersession: supersession}
}

// NewDefaultEngine creates an engine with the canonical rules and policy.
func NewDefaultEngine() *Engine {
	return NewEngine(DefaultRules(), DefaultSupersession())
}

// Rules returns the names of the registered rules, in order.
func (e *Engine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name()
	}
	return names
}

// Evaluate runs every rule and returns the non-OK findings that survive
// supersession, in rule order. The same input always yields the same output.
func (e *Engine) Evaluate(in Input) []Result {
	if res, ok := validateInput(in); !ok {
		return []Result{res}
	}

	var results []Result
	for _, rule := range e.rules {
		res := rule.Evaluate(in)
		if res.IsOK() {
			continue
		}
		if res.Rule == "" {
			res.Rule = rule.Name()
		}
		results = append(results, res)
	}
	return e.applySupersession(results)
}

// Aggregate evaluates and returns the dominant severity alongside results.
func (e *Engine) Aggregate(in Input) (Severity, []Result) {
	results := e.Evaluate(in)
	return MaxSeverity(results), results
}

func (e *Engine) applySupersession(results []Result) []Result {
	if len(e.supersession) == 0 || len(results) < 2 {
		return results
	}

	suppressed := make(map[string]bool)
	keepOnly := make(map[string]bool)
	for _, r := range results {
		if r.Severity != SeverityError {
			continue
		}
		for _, target := range e.supersession[r.Rule] {
			if target == SupersedeAll {
				keepOnly[r.Rule] = true
				continue
			}
			if target != r.Rule {
				suppressed[target] = true
			}
		}
	}

	var out []Result
	for _, r := range results {
		if len(keepOnly) > 0 {
			if keepOnly[r.Rule] {
				out = append(out, r)
			}
			continue
		}
		if !suppressed[r.Rule] {
			out = append(out, r)
		}
	}
	return out
}

// validateInput reports unparseable versions once instead of letting each
// rule silently skip them.
func validateInput(in Input) (Result, bool) {
	var messages []string
	if _, err := ParseVersion(in.Installed); err != nil {
		messages = append(messages, fmt.Sprintf("The installed version %q could not be parsed.", in.Installed))
	}
	if in.Target != "" {
		if _, err := ParseVersion(in.Target); err != nil {
			messages = append(messages, fmt.Sprintf("The target version %q could not be parsed.", in.Target))
		}
	}
	if len(messages) == 0 {
		return OK(), true
	}
	return NewError(RuleInvalidVersion, "", messages...), false
}

// KnownRules returns the sorted names of all built-in rules. Used to
// validate supersession configuration.
func KnownRules() []string {
	names := []string{RuleInvalidVersion}
	for _, r := range DefaultRules() {
		names = append(names, r.Name())
	}
	sort.Strings(names)
	return names
}
