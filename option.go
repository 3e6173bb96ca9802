package txprop

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Propagation is an alias of uint8
type Propagation uint8

// constants that defines transaction propagation patterns
const (
	// PropagationRequired runs in the existing transaction. If there's no existing tx,
	// the manager creates a new one.
	PropagationRequired Propagation = iota

	// PropagationRequiresNew always runs in a separate new physical transaction, suspending
	// the existing one if any.
	PropagationRequiresNew

	// PropagationSupports joins an existing transaction and runs non-transactionally otherwise.
	PropagationSupports

	// PropagationMandatory joins an existing transaction and fails if there is none.
	PropagationMandatory

	// PropagationNever runs non-transactionally and fails if a transaction exists.
	PropagationNever

	// PropagationNotSupported suspends the existing transaction and runs non-transactionally.
	PropagationNotSupported

	// PropagationNested runs inside a savepoint of the existing transaction, or behaves like
	// PropagationRequired when there is none.
	PropagationNested

	// PropagationNew is kept as a short name for PropagationRequiresNew.
	PropagationNew = PropagationRequiresNew
)

var propagationNames = [...]string{
	PropagationRequired:     "required",
	PropagationRequiresNew:  "requires_new",
	PropagationSupports:     "supports",
	PropagationMandatory:    "mandatory",
	PropagationNever:        "never",
	PropagationNotSupported: "not_supported",
	PropagationNested:       "nested",
}

func (p Propagation) valid() bool {
	return int(p) < len(propagationNames)
}

func (p Propagation) String() string {
	if !p.valid() {
		return fmt.Sprintf("propagation(%d)", uint8(p))
	}
	return propagationNames[p]
}

// ParsePropagation accepts the names printed by String, case-insensitively and with '-' or
// ' ' in place of '_'.
func ParsePropagation(s string) (Propagation, error) {
	name := normalizeName(s)
	for p, n := range propagationNames {
		if n == name {
			return Propagation(p), nil
		}
	}
	return 0, invalidDefinition("unknown propagation %q", s)
}

func (p Propagation) MarshalText() ([]byte, error) {
	if !p.valid() {
		return nil, invalidDefinition("unknown propagation %d", uint8(p))
	}
	return []byte(p.String()), nil
}

func (p *Propagation) UnmarshalText(text []byte) error {
	v, err := ParsePropagation(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParseIsolation maps a name such as "read committed" or "REPEATABLE_READ" to a
// sql.IsolationLevel. An empty string is sql.LevelDefault.
func ParseIsolation(s string) (sql.IsolationLevel, error) {
	name := normalizeName(s)
	if name == "" {
		return sql.LevelDefault, nil
	}
	for lvl := sql.LevelDefault; lvl <= sql.LevelLinearizable; lvl++ {
		if normalizeName(lvl.String()) == name {
			return lvl, nil
		}
	}
	return 0, invalidDefinition("unknown isolation level %q", s)
}

func normalizeName(s string) string {
	return strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToLower(strings.TrimSpace(s)))
}

// Definition declares how a transaction is started: propagation, isolation, read-only hint,
// advisory timeout and the rules used to classify failures. Definitions are immutable values.
type Definition struct {
	name        string
	propagation Propagation
	isolation   sql.IsolationLevel
	readOnly    bool
	timeout     time.Duration
	rules       RuleSet
}

// Option configures a Definition.
type Option func(*definitionBuilder)

type definitionBuilder struct {
	def   Definition
	rules []RollbackRule
}

func WithName(name string) Option {
	return func(b *definitionBuilder) { b.def.name = name }
}

func WithPropagation(p Propagation) Option {
	return func(b *definitionBuilder) { b.def.propagation = p }
}

func WithIsolation(level sql.IsolationLevel) Option {
	return func(b *definitionBuilder) { b.def.isolation = level }
}

func WithReadOnly(readOnly bool) Option {
	return func(b *definitionBuilder) { b.def.readOnly = readOnly }
}

// WithTimeout sets the advisory timeout. The deadline is applied to the context handed to the
// resource pool when a physical transaction begins; zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(b *definitionBuilder) { b.def.timeout = d }
}

// WithRollbackRules appends rules in order.
func WithRollbackRules(rules ...RollbackRule) Option {
	return func(b *definitionBuilder) { b.rules = append(b.rules, rules...) }
}

// RollbackFor appends rollback rules for kinds.
func RollbackFor(kinds ...FailureKind) Option {
	return func(b *definitionBuilder) {
		for _, k := range kinds {
			b.rules = append(b.rules, RollbackOn(k))
		}
	}
}

// NoRollbackFor appends commit rules for kinds.
func NoRollbackFor(kinds ...FailureKind) Option {
	return func(b *definitionBuilder) {
		for _, k := range kinds {
			b.rules = append(b.rules, CommitOn(k))
		}
	}
}

func defaultDefinition() Definition {
	return Definition{
		propagation: PropagationRequired,
		isolation:   sql.LevelDefault,
	}
}

// DefaultDefinition returns a required, read-write definition with default isolation and
// no rollback rules.
func DefaultDefinition() Definition {
	return defaultDefinition()
}

// NewDefinition builds a definition from the defaults and opts.
func NewDefinition(opts ...Option) (Definition, error) {
	return defaultDefinition().With(opts...)
}

// MustDefinition is like NewDefinition but panics on a malformed definition.
func MustDefinition(opts ...Option) Definition {
	def, err := NewDefinition(opts...)
	if err != nil {
		panic(err)
	}
	return def
}

// With derives a new definition from d. Rules from opts are appended after d's rules; a rule
// for a kind d already has a rule for replaces the inherited one.
func (d Definition) With(opts ...Option) (Definition, error) {
	b := &definitionBuilder{def: d}
	for _, opt := range opts {
		opt(b)
	}
	overridden := make(map[FailureKind]bool, len(b.rules))
	for _, r := range b.rules {
		overridden[r.Kind] = true
	}
	merged := make([]RollbackRule, 0, d.rules.Len()+len(b.rules))
	for _, r := range d.rules.rules {
		if !overridden[r.Kind] {
			merged = append(merged, r)
		}
	}
	rules, err := NewRuleSet(append(merged, b.rules...)...)
	if err != nil {
		return Definition{}, err
	}
	b.def.rules = rules
	if err := b.def.Validate(); err != nil {
		return Definition{}, err
	}
	return b.def, nil
}

// Validate checks propagation, isolation and timeout. Rules are validated on construction.
func (d Definition) Validate() error {
	if !d.propagation.valid() {
		return invalidDefinition("unknown propagation %d", uint8(d.propagation))
	}
	if d.isolation < sql.LevelDefault || d.isolation > sql.LevelLinearizable {
		return invalidDefinition("unknown isolation level %d", int(d.isolation))
	}
	if d.timeout < 0 {
		return invalidDefinition("negative timeout %s", d.timeout)
	}
	return nil
}

func (d Definition) Name() string                  { return d.name }
func (d Definition) Propagation() Propagation      { return d.propagation }
func (d Definition) Isolation() sql.IsolationLevel { return d.isolation }
func (d Definition) ReadOnly() bool                { return d.readOnly }
func (d Definition) Timeout() time.Duration        { return d.timeout }
func (d Definition) Rules() RuleSet                { return d.rules }

// Classify applies the definition's rollback rules to err.
func (d Definition) Classify(err error) Decision {
	return d.rules.Classify(err)
}

func (d Definition) String() string {
	var sb strings.Builder
	sb.WriteString("PROPAGATION_" + strings.ToUpper(d.propagation.String()))
	sb.WriteString(",ISOLATION_" + strings.ToUpper(normalizeName(d.isolation.String())))
	if d.readOnly {
		sb.WriteString(",readOnly")
	}
	if d.timeout > 0 {
		sb.WriteString(",timeout_" + d.timeout.String())
	}
	for _, r := range d.rules.rules {
		sb.WriteString("," + r.String())
	}
	return sb.String()
}
