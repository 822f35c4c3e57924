package rulebook

import "context"

// Tx is the set of operations available inside one unit of work. All
// reads and writes through a single Tx observe one consistent snapshot
// of the store.
//
// Operations return tagged *Error values for business failures
// (not-found, conflict) and plain errors for internal faults; the
// transaction machinery itself never adds error kinds of its own.
type Tx interface {
	// CreateRule inserts a rule. Fails with a conflict if the id is
	// already taken.
	CreateRule(ctx context.Context, rule *Rule) error

	// Rule retrieves a rule by id.
	Rule(ctx context.Context, id string) (*Rule, error)

	// Rules lists all rules in creation order.
	Rules(ctx context.Context) ([]*Rule, error)

	// UpdateRule replaces the mutable fields of an existing rule. The
	// id is immutable and the creation timestamp is preserved.
	UpdateRule(ctx context.Context, id string, req *RuleRequest) error

	// DeleteRule removes a rule. Fails with a conflict while the rule
	// is still referenced by any rulebook.
	DeleteRule(ctx context.Context, id string) error

	// CreateRulebook inserts a rulebook. Every referenced rule must
	// exist and may be listed only once; membership order is preserved.
	CreateRulebook(ctx context.Context, rb *Rulebook) error

	// Rulebook retrieves a rulebook by id, membership in order.
	Rulebook(ctx context.Context, id string) (*Rulebook, error)

	// Rulebooks lists all rulebooks in creation order.
	Rulebooks(ctx context.Context) ([]*Rulebook, error)

	// UpdateRulebook replaces the fields and membership of an existing
	// rulebook.
	UpdateRulebook(ctx context.Context, id string, req *RulebookRequest) error

	// DeleteRulebook removes a rulebook and its membership rows.
	DeleteRulebook(ctx context.Context, id string) error

	// RulebookRules returns the member rules of a rulebook, in
	// membership order.
	RulebookRules(ctx context.Context, id string) ([]*Rule, error)

	// AddRuleToRulebook appends a membership. Re-adding an existing
	// membership is a no-op.
	AddRuleToRulebook(ctx context.Context, rulebookID, ruleID string) error

	// RemoveRuleFromRulebook removes a membership. Removing a
	// membership that does not exist is a no-op as long as both
	// entities do.
	RemoveRuleFromRulebook(ctx context.Context, rulebookID, ruleID string) error
}

// Store runs units of work. The function passed to InTx either fully
// commits (nil return) or has none of its effects become visible.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error
}

// checkMembershipIDs rejects a member list that names the same rule
// more than once, so every Store implementation stores an unambiguous
// sequence.
func checkMembershipIDs(ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return Invalid("rule '%s' is listed more than once", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
