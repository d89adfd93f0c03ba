package merge

import (
	"fmt"
	"strings"

	"github.com/steveyegge/issuesync/internal/fingerprint"
	"github.com/steveyegge/issuesync/internal/types"
)

// Strategy selects how findings are grouped into consolidated findings.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategySameFile
	StrategySameRule
	StrategySameTool
	StrategySameLinter

	numStrategies
)

var strategyNames = [...]string{
	StrategyNone:       "none",
	StrategySameFile:   "same-file",
	StrategySameRule:   "same-rule",
	StrategySameTool:   "same-tool",
	StrategySameLinter: "same-linter",
}

func (s Strategy) String() string {
	if s < 0 || s >= numStrategies {
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
	return strategyNames[s]
}

// IsValid checks if the strategy is one of the known values
func (s Strategy) IsValid() bool {
	return s >= 0 && s < numStrategies
}

// ParseStrategy parses a strategy name.
func ParseStrategy(name string) (Strategy, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return StrategyNone, nil
	}
	for i, candidate := range strategyNames {
		if candidate == n {
			return Strategy(i), nil
		}
	}
	return StrategyNone, fmt.Errorf("unknown merge strategy %q (want one of %s)", name, strings.Join(strategyNames[:], ", "))
}

// Strategies lists the strategy names in declaration order.
func Strategies() []string {
	return append([]string(nil), strategyNames[:]...)
}

// groupKey identifies one merge group. Its parts are hashed into the
// consolidated finding's identity token.
type groupKey struct {
	scope string
	tool  string
	rule  string
	path  string
	sub   string
}

func (k groupKey) token() string {
	return fingerprint.HashParts("merge", k.scope, k.tool, k.rule, k.path, k.sub)
}

func (k groupKey) String() string {
	return strings.Join([]string{k.scope, k.tool, k.rule, k.path, k.sub}, "|")
}

// keyFunc returns the group key of a finding, or false when the finding
// stays on its own.
type keyFunc func(e *Engine, f *types.Finding) (groupKey, bool)

var keyFuncs = [...]keyFunc{
	StrategyNone: func(*Engine, *types.Finding) (groupKey, bool) {
		return groupKey{}, false
	},
	StrategySameFile: func(_ *Engine, f *types.Finding) (groupKey, bool) {
		path := fingerprint.NoLocationPath
		if loc, ok := f.PrimaryLocation(); ok {
			path = fingerprint.NormalizePath(loc.Path)
		}
		return groupKey{
			scope: StrategySameFile.String(),
			tool:  fingerprint.NormalizeTool(f.Tool),
			rule:  fingerprint.NormalizeRule(f.RuleID),
			path:  path,
		}, true
	},
	StrategySameRule: func(_ *Engine, f *types.Finding) (groupKey, bool) {
		return groupKey{
			scope: StrategySameRule.String(),
			tool:  fingerprint.NormalizeTool(f.Tool),
			rule:  fingerprint.NormalizeRule(f.RuleID),
		}, true
	},
	StrategySameTool: func(_ *Engine, f *types.Finding) (groupKey, bool) {
		return groupKey{
			scope: StrategySameTool.String(),
			tool:  fingerprint.NormalizeTool(f.Tool),
		}, true
	},
	StrategySameLinter: func(e *Engine, f *types.Finding) (groupKey, bool) {
		key := groupKey{
			scope: StrategySameLinter.String(),
			tool:  fingerprint.NormalizeTool(f.Tool),
		}
		if e.IsWrapper(f.Tool) {
			key.sub = SubAnalyzer(f)
		} else {
			key.rule = fingerprint.NormalizeRule(f.RuleID)
		}
		return key, true
	},
}

// Fails to compile when a strategy is added without a key function.
var _ = [1]struct{}{}[len(keyFuncs)-int(numStrategies)]

// SubAnalyzer extracts the name of the analyzer a wrapper tool delegated to.
// It is the rule id prefix before the first '/' or ':', else the title prefix
// before ':' when that prefix is a single word other than the tool, else the
// rule id itself.
func SubAnalyzer(f *types.Finding) string {
	rule := strings.TrimSpace(f.RuleID)
	if i := strings.IndexAny(rule, "/:"); i > 0 {
		return strings.ToLower(rule[:i])
	}
	if i := strings.Index(f.Title, ":"); i > 0 {
		head := strings.TrimSpace(f.Title[:i])
		if head != "" && !strings.ContainsAny(head, " \t") && !strings.EqualFold(head, f.Tool) {
			return strings.ToLower(head)
		}
	}
	return fingerprint.NormalizeRule(rule)
}
