package rulebook

import (
	"context"
	"errors"
	"testing"
)

func inTx(t *testing.T, s Store, fn func(Tx) error) error {
	t.Helper()
	return s.InTx(context.Background(), fn)
}

func mustCreateRule(t *testing.T, s Store, id string) {
	t.Helper()
	err := inTx(t, s, func(tx Tx) error {
		return tx.CreateRule(context.Background(), &Rule{ID: id, When: "x > 5", Then: "flag"})
	})
	if err != nil {
		t.Fatalf("CreateRule(%s) failed: %v", id, err)
	}
}

func mustCreateRulebook(t *testing.T, s Store, id string, rules ...string) {
	t.Helper()
	err := inTx(t, s, func(tx Tx) error {
		return tx.CreateRulebook(context.Background(), &Rulebook{ID: id, Version: 1, Rules: rules})
	})
	if err != nil {
		t.Fatalf("CreateRulebook(%s) failed: %v", id, err)
	}
}

func TestCreateAndGetRule(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	err := inTx(t, s, func(tx Tx) error {
		return tx.CreateRule(ctx, &Rule{
			ID:          "r1",
			Description: "flag large values",
			When:        "x > 5",
			Then:        "flag",
		})
	})
	if err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}

	var got *Rule
	err = inTx(t, s, func(tx Tx) (txErr error) {
		got, txErr = tx.Rule(ctx, "r1")
		return txErr
	})
	if err != nil {
		t.Fatalf("Rule failed after create: %v", err)
	}
	if got.ID != "r1" || got.When != "x > 5" || got.Then != "flag" || got.Description != "flag large values" {
		t.Errorf("retrieved rule = %+v, does not match what was created", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps were not set on create")
	}
}

func TestCreateRuleDuplicate(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	mustCreateRule(t, s, "r1")

	err := inTx(t, s, func(tx Tx) error {
		return tx.CreateRule(ctx, &Rule{ID: "r1", When: "y < 2", Then: "drop"})
	})
	if !IsConflict(err) {
		t.Fatalf("duplicate create: got %v, want conflict", err)
	}

	// The existing rule must not have been mutated.
	var got *Rule
	inTx(t, s, func(tx Tx) (txErr error) {
		got, txErr = tx.Rule(ctx, "r1")
		return txErr
	})
	if got.When != "x > 5" {
		t.Errorf("existing rule mutated by failed create: when = %q", got.When)
	}

	var rules []*Rule
	inTx(t, s, func(tx Tx) (txErr error) {
		rules, txErr = tx.Rules(ctx)
		return txErr
	})
	if len(rules) != 1 {
		t.Errorf("expected exactly 1 rule after duplicate create, got %d", len(rules))
	}
}

func TestDeleteRuleMissing(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	mustCreateRule(t, s, "r1")

	err := inTx(t, s, func(tx Tx) error {
		return tx.DeleteRule(ctx, "nope")
	})
	if !IsNotFound(err) {
		t.Fatalf("delete of missing rule: got %v, want not found", err)
	}

	var rules []*Rule
	inTx(t, s, func(tx Tx) (txErr error) {
		rules, txErr = tx.Rules(ctx)
		return txErr
	})
	if len(rules) != 1 {
		t.Errorf("store changed by failed delete: %d rules", len(rules))
	}
}

func TestDeleteRuleStillReferenced(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	mustCreateRule(t, s, "r1")
	mustCreateRulebook(t, s, "rb1", "r1")

	err := inTx(t, s, func(tx Tx) error {
		return tx.DeleteRule(ctx, "r1")
	})
	if !IsConflict(err) {
		t.Fatalf("delete of referenced rule: got %v, want conflict", err)
	}

	// Removing the membership unblocks the delete.
	err = inTx(t, s, func(tx Tx) error {
		if err := tx.RemoveRuleFromRulebook(ctx, "rb1", "r1"); err != nil {
			return err
		}
		return tx.DeleteRule(ctx, "r1")
	})
	if err != nil {
		t.Fatalf("delete after membership removal failed: %v", err)
	}
}

func TestRulebookMembershipOrder(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	for _, id := range []string{"r1", "r2", "r3"} {
		mustCreateRule(t, s, id)
	}
	mustCreateRulebook(t, s, "rb1", "r3", "r1", "r2")

	var rules []*Rule
	err := inTx(t, s, func(tx Tx) (txErr error) {
		rules, txErr = tx.RulebookRules(ctx, "rb1")
		return txErr
	})
	if err != nil {
		t.Fatalf("RulebookRules failed: %v", err)
	}
	want := []string{"r3", "r1", "r2"}
	for i, r := range rules {
		if r.ID != want[i] {
			t.Fatalf("membership order = %v at %d, want %v", r.ID, i, want[i])
		}
	}

	// Order survives an update that reorders membership.
	err = inTx(t, s, func(tx Tx) error {
		return tx.UpdateRulebook(ctx, "rb1", &RulebookRequest{Version: 2, Rules: []string{"r2", "r3"}})
	})
	if err != nil {
		t.Fatalf("UpdateRulebook failed: %v", err)
	}

	var rb *Rulebook
	inTx(t, s, func(tx Tx) (txErr error) {
		rb, txErr = tx.Rulebook(ctx, "rb1")
		return txErr
	})
	if len(rb.Rules) != 2 || rb.Rules[0] != "r2" || rb.Rules[1] != "r3" {
		t.Errorf("membership after update = %v, want [r2 r3]", rb.Rules)
	}
	if rb.Version != 2 {
		t.Errorf("version after update = %d, want 2", rb.Version)
	}
}

func TestCreateRulebookMissingRule(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	err := inTx(t, s, func(tx Tx) error {
		return tx.CreateRulebook(ctx, &Rulebook{ID: "rb1", Rules: []string{"ghost"}})
	})
	if !IsNotFound(err) {
		t.Fatalf("create with missing member: got %v, want not found", err)
	}

	var rbs []*Rulebook
	inTx(t, s, func(tx Tx) (txErr error) {
		rbs, txErr = tx.Rulebooks(ctx)
		return txErr
	})
	if len(rbs) != 0 {
		t.Errorf("rulebook created despite missing member: %d rulebooks", len(rbs))
	}
}

// A member list that repeats a rule id is rejected outright, so the
// stored sequence is never ambiguous.
func TestRulebookDuplicateMemberIDs(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	mustCreateRule(t, s, "r1")
	mustCreateRule(t, s, "r2")

	err := inTx(t, s, func(tx Tx) error {
		return tx.CreateRulebook(ctx, &Rulebook{ID: "rb1", Version: 1, Rules: []string{"r1", "r1"}})
	})
	if !IsValidation(err) {
		t.Fatalf("create with duplicate member: got %v, want validation error", err)
	}

	var rbs []*Rulebook
	inTx(t, s, func(tx Tx) (txErr error) {
		rbs, txErr = tx.Rulebooks(ctx)
		return txErr
	})
	if len(rbs) != 0 {
		t.Errorf("rulebook created despite duplicate member: %d rulebooks", len(rbs))
	}

	mustCreateRulebook(t, s, "rb1", "r1")
	err = inTx(t, s, func(tx Tx) error {
		return tx.UpdateRulebook(ctx, "rb1", &RulebookRequest{Version: 2, Rules: []string{"r2", "r2"}})
	})
	if !IsValidation(err) {
		t.Fatalf("update with duplicate member: got %v, want validation error", err)
	}

	var rb *Rulebook
	inTx(t, s, func(tx Tx) (txErr error) {
		rb, txErr = tx.Rulebook(ctx, "rb1")
		return txErr
	})
	if len(rb.Rules) != 1 || rb.Rules[0] != "r1" {
		t.Errorf("membership changed by rejected update: %v", rb.Rules)
	}
}

func TestAddRemoveMembershipIdempotent(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	mustCreateRule(t, s, "r1")
	mustCreateRule(t, s, "r2")
	mustCreateRulebook(t, s, "rb1", "r1")

	membership := func() []string {
		var rb *Rulebook
		inTx(t, s, func(tx Tx) (txErr error) {
			rb, txErr = tx.Rulebook(ctx, "rb1")
			return txErr
		})
		return rb.Rules
	}

	before := membership()

	err := inTx(t, s, func(tx Tx) error {
		return tx.AddRuleToRulebook(ctx, "rb1", "r2")
	})
	if err != nil {
		t.Fatalf("AddRuleToRulebook failed: %v", err)
	}

	// Re-adding is a no-op.
	if err := inTx(t, s, func(tx Tx) error {
		return tx.AddRuleToRulebook(ctx, "rb1", "r2")
	}); err != nil {
		t.Fatalf("re-add failed: %v", err)
	}
	if got := membership(); len(got) != 2 {
		t.Fatalf("membership after double add = %v, want 2 entries", got)
	}

	err = inTx(t, s, func(tx Tx) error {
		return tx.RemoveRuleFromRulebook(ctx, "rb1", "r2")
	})
	if err != nil {
		t.Fatalf("RemoveRuleFromRulebook failed: %v", err)
	}

	after := membership()
	if len(after) != len(before) || after[0] != before[0] {
		t.Errorf("membership after add+remove = %v, want %v", after, before)
	}
}

func TestMembershipMissingEntities(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	mustCreateRule(t, s, "r1")
	mustCreateRulebook(t, s, "rb1", "r1")

	if err := inTx(t, s, func(tx Tx) error {
		return tx.AddRuleToRulebook(ctx, "ghost", "r1")
	}); !IsNotFound(err) {
		t.Errorf("add to missing rulebook: got %v, want not found", err)
	}
	if err := inTx(t, s, func(tx Tx) error {
		return tx.AddRuleToRulebook(ctx, "rb1", "ghost")
	}); !IsNotFound(err) {
		t.Errorf("add of missing rule: got %v, want not found", err)
	}
	if err := inTx(t, s, func(tx Tx) error {
		return tx.RemoveRuleFromRulebook(ctx, "rb1", "ghost")
	}); !IsNotFound(err) {
		t.Errorf("remove of missing rule: got %v, want not found", err)
	}
}

func TestUpdateRulePreservesCreation(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	mustCreateRule(t, s, "r1")

	var created *Rule
	inTx(t, s, func(tx Tx) (txErr error) {
		created, txErr = tx.Rule(ctx, "r1")
		return txErr
	})

	err := inTx(t, s, func(tx Tx) error {
		return tx.UpdateRule(ctx, "r1", &RuleRequest{Description: "updated", When: "y == 1", Then: "pass"})
	})
	if err != nil {
		t.Fatalf("UpdateRule failed: %v", err)
	}

	var got *Rule
	inTx(t, s, func(tx Tx) (txErr error) {
		got, txErr = tx.Rule(ctx, "r1")
		return txErr
	})
	if got.When != "y == 1" || got.Description != "updated" {
		t.Errorf("update did not replace fields: %+v", got)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("update changed CreatedAt: %v != %v", got.CreatedAt, created.CreatedAt)
	}
}

func TestRollbackDiscardsEffects(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	boom := errors.New("boom")
	err := inTx(t, s, func(tx Tx) error {
		if err := tx.CreateRule(ctx, &Rule{ID: "r1", When: "x > 5", Then: "flag"}); err != nil {
			return err
		}
		if err := tx.CreateRulebook(ctx, &Rulebook{ID: "rb1", Rules: []string{"r1"}}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx returned %v, want the handler's error unchanged", err)
	}

	var rules []*Rule
	var rbs []*Rulebook
	inTx(t, s, func(tx Tx) error {
		rules, _ = tx.Rules(ctx)
		rbs, _ = tx.Rulebooks(ctx)
		return nil
	})
	if len(rules) != 0 || len(rbs) != 0 {
		t.Errorf("rollback left effects visible: %d rules, %d rulebooks", len(rules), len(rbs))
	}
}
