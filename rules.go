package txprop

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// FailureKind is a dotted tag that classifies a failure, e.g. "business.payment.insufficient_funds".
// The first segment selects the default outcome: kinds rooted at "business" are expected outcomes
// and commit, everything else is a fault and rolls back.
type FailureKind string

const (
	KindFault    FailureKind = "fault"
	KindBusiness FailureKind = "business"
)

var kindSegment = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Fault returns a fault kind below "fault".
func Fault(path string) FailureKind {
	return KindFault.Child(path)
}

// Business returns an expected-outcome kind below "business".
func Business(path string) FailureKind {
	return KindBusiness.Child(path)
}

// Child appends path to k.
func (k FailureKind) Child(path string) FailureKind {
	if path == "" {
		return k
	}
	return k + "." + FailureKind(path)
}

func (k FailureKind) String() string {
	return string(k)
}

func (k FailureKind) segments() []string {
	return strings.Split(string(k), ".")
}

// Validate reports whether k is a well-formed tag.
func (k FailureKind) Validate() error {
	if k == "" {
		return invalidDefinition("empty failure kind")
	}
	for _, seg := range k.segments() {
		if !kindSegment.MatchString(seg) {
			return invalidDefinition("malformed failure kind %q", string(k))
		}
	}
	return nil
}

// Expected reports whether failures of this kind are expected business outcomes.
func (k FailureKind) Expected() bool {
	return k.segments()[0] == string(KindBusiness)
}

// matchDepth returns the number of segments of pattern k that prefix kind, or -1 when k does
// not match.
func (k FailureKind) matchDepth(kind FailureKind) int {
	pat, segs := k.segments(), kind.segments()
	if len(pat) > len(segs) {
		return -1
	}
	for i := range pat {
		if pat[i] != segs[i] {
			return -1
		}
	}
	return len(pat)
}

// Classified is implemented by errors that carry their own FailureKind.
type Classified interface {
	FailureKind() FailureKind
}

// Failure attaches a FailureKind to an error.
type Failure struct {
	Kind FailureKind
	Err  error
}

// NewFailure returns a Failure of the given kind with a plain message.
func NewFailure(kind FailureKind, msg string) error {
	return &Failure{Kind: kind, Err: errors.New(msg)}
}

// Wrap tags err with kind. A nil err stays nil.
func Wrap(kind FailureKind, err error) error {
	if err == nil {
		return nil
	}
	return &Failure{Kind: kind, Err: err}
}

func (f *Failure) Error() string {
	return f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func (f *Failure) FailureKind() FailureKind {
	return f.Kind
}

// KindOf returns the kind carried by err, or KindFault when nothing in its chain is classified.
func KindOf(err error) FailureKind {
	var c Classified
	if errors.As(err, &c) && c.FailureKind() != "" {
		return c.FailureKind()
	}
	return KindFault
}

// RollbackRule maps a failure kind pattern to an outcome. A pattern matches its own kind and
// every kind below it.
type RollbackRule struct {
	Kind     FailureKind
	Rollback bool
}

// RollbackOn returns a rule that rolls back on kind.
func RollbackOn(kind FailureKind) RollbackRule {
	return RollbackRule{Kind: kind, Rollback: true}
}

// CommitOn returns a rule that commits on kind.
func CommitOn(kind FailureKind) RollbackRule {
	return RollbackRule{Kind: kind, Rollback: false}
}

func (r RollbackRule) String() string {
	if r.Rollback {
		return "-" + string(r.Kind)
	}
	return "+" + string(r.Kind)
}

// RuleSet is an ordered set of rollback rules.
type RuleSet struct {
	rules []RollbackRule
}

// NewRuleSet validates rules and returns them as a set. Duplicate patterns are rejected since
// the outcome would depend on declaration order alone.
func NewRuleSet(rules ...RollbackRule) (RuleSet, error) {
	seen := make(map[FailureKind]struct{}, len(rules))
	for _, r := range rules {
		if err := r.Kind.Validate(); err != nil {
			return RuleSet{}, err
		}
		if _, ok := seen[r.Kind]; ok {
			return RuleSet{}, invalidDefinition("duplicate rollback rule for %q", string(r.Kind))
		}
		seen[r.Kind] = struct{}{}
	}
	return RuleSet{rules: append([]RollbackRule(nil), rules...)}, nil
}

// Rules returns a copy of the rules in declaration order.
func (rs RuleSet) Rules() []RollbackRule {
	return append([]RollbackRule(nil), rs.rules...)
}

func (rs RuleSet) Len() int {
	return len(rs.rules)
}

// Decision is the outcome of classifying a failure.
type Decision struct {
	Kind     FailureKind
	Rollback bool
	// Rule is the matching rule, nil when the default was applied.
	Rule *RollbackRule
}

// Classify decides whether err must roll the transaction back. The most specific matching
// rule wins; ties go to the rule declared first. Without a match, expected kinds commit and
// faults roll back.
func (rs RuleSet) Classify(err error) Decision {
	kind := KindOf(err)
	best, bestDepth := -1, -1
	for i, r := range rs.rules {
		if d := r.Kind.matchDepth(kind); d > bestDepth {
			best, bestDepth = i, d
		}
	}
	if best < 0 {
		return Decision{Kind: kind, Rollback: !kind.Expected()}
	}
	rule := rs.rules[best]
	return Decision{Kind: kind, Rollback: rule.Rollback, Rule: &rule}
}

func (d Decision) String() string {
	outcome := "commit"
	if d.Rollback {
		outcome = "rollback"
	}
	if d.Rule == nil {
		return fmt.Sprintf("%s (default for %s)", outcome, d.Kind)
	}
	return fmt.Sprintf("%s (rule %s for %s)", outcome, d.Rule, d.Kind)
}
