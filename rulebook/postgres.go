package rulebook

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Postgres error codes surfaced as tagged business failures.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed Store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InTx runs fn inside one transaction at repeatable-read isolation, so
// every operation of the unit of work observes one snapshot. Commit on
// nil return, rollback otherwise. Errors from fn pass through
// unchanged.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) CreateRule(ctx context.Context, rule *Rule) error {
	now := time.Now()
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO rules (id, description, when_clause, then_action, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rule.ID, rule.Description, rule.When, rule.Then, now, now)

	if isPgError(err, pgUniqueViolation) {
		return AlreadyExists("rule", rule.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

func (t *pgTx) Rule(ctx context.Context, id string) (*Rule, error) {
	var r Rule
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, description, when_clause, then_action, created_at, updated_at
		FROM rules
		WHERE id = $1
	`, id).Scan(&r.ID, &r.Description, &r.When, &r.Then, &r.CreatedAt, &r.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, NotFound("rule", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &r, nil
}

func (t *pgTx) Rules(ctx context.Context) ([]*Rule, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, description, when_clause, then_action, created_at, updated_at
		FROM rules
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.ID, &r.Description, &r.When, &r.Then, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return out, nil
}

func (t *pgTx) UpdateRule(ctx context.Context, id string, req *RuleRequest) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE rules
		SET description = $1, when_clause = $2, then_action = $3, updated_at = $4
		WHERE id = $5
	`, req.Description, req.When, req.Then, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return NotFound("rule", id)
	}
	return nil
}

func (t *pgTx) DeleteRule(ctx context.Context, id string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if isPgError(err, pgForeignKeyViolation) {
		return StillReferenced(id)
	}
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return NotFound("rule", id)
	}
	return nil
}

func (t *pgTx) CreateRulebook(ctx context.Context, rb *Rulebook) error {
	if err := checkMembershipIDs(rb.Rules); err != nil {
		return err
	}
	for _, rid := range rb.Rules {
		if err := t.requireRule(ctx, rid); err != nil {
			return err
		}
	}

	now := time.Now()
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO rulebooks (id, description, source_user, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rb.ID, rb.Description, rb.User, rb.Version, now, now)

	if isPgError(err, pgUniqueViolation) {
		return AlreadyExists("rulebook", rb.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert rulebook: %w", err)
	}

	if err := t.insertMembership(ctx, rb.ID, rb.Rules); err != nil {
		return err
	}
	rb.CreatedAt = now
	rb.UpdatedAt = now
	return nil
}

func (t *pgTx) Rulebook(ctx context.Context, id string) (*Rulebook, error) {
	var rb Rulebook
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, description, source_user, version, created_at, updated_at
		FROM rulebooks
		WHERE id = $1
	`, id).Scan(&rb.ID, &rb.Description, &rb.User, &rb.Version, &rb.CreatedAt, &rb.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, NotFound("rulebook", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rulebook: %w", err)
	}

	rb.Rules, err = t.membership(ctx, id)
	if err != nil {
		return nil, err
	}
	return &rb, nil
}

func (t *pgTx) Rulebooks(ctx context.Context) ([]*Rulebook, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, description, source_user, version, created_at, updated_at
		FROM rulebooks
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rulebooks: %w", err)
	}
	defer rows.Close()

	var out []*Rulebook
	for rows.Next() {
		var rb Rulebook
		if err := rows.Scan(&rb.ID, &rb.Description, &rb.User, &rb.Version, &rb.CreatedAt, &rb.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rulebook: %w", err)
		}
		out = append(out, &rb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rulebooks: %w", err)
	}

	for _, rb := range out {
		rb.Rules, err = t.membership(ctx, rb.ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *pgTx) UpdateRulebook(ctx context.Context, id string, req *RulebookRequest) error {
	if err := checkMembershipIDs(req.Rules); err != nil {
		return err
	}
	for _, rid := range req.Rules {
		if err := t.requireRule(ctx, rid); err != nil {
			return err
		}
	}

	result, err := t.tx.ExecContext(ctx, `
		UPDATE rulebooks
		SET description = $1, source_user = $2, version = $3, updated_at = $4
		WHERE id = $5
	`, req.Description, req.User, req.Version, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update rulebook: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return NotFound("rulebook", id)
	}

	// Replace membership wholesale to preserve the requested order.
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM rulebook_rules WHERE rulebook_id = $1`, id); err != nil {
		return fmt.Errorf("failed to clear rulebook membership: %w", err)
	}
	return t.insertMembership(ctx, id, req.Rules)
}

func (t *pgTx) DeleteRulebook(ctx context.Context, id string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM rulebooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rulebook: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return NotFound("rulebook", id)
	}
	return nil
}

func (t *pgTx) RulebookRules(ctx context.Context, id string) ([]*Rule, error) {
	rb, err := t.Rulebook(ctx, id)
	if err != nil {
		return nil, err
	}

	out := make([]*Rule, 0, len(rb.Rules))
	for _, rid := range rb.Rules {
		r, err := t.Rule(ctx, rid)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (t *pgTx) AddRuleToRulebook(ctx context.Context, rulebookID, ruleID string) error {
	if err := t.requireRulebook(ctx, rulebookID); err != nil {
		return err
	}
	if err := t.requireRule(ctx, ruleID); err != nil {
		return err
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO rulebook_rules (rulebook_id, rule_id, position)
		SELECT $1, $2, COALESCE(MAX(position), 0) + 1
		FROM rulebook_rules
		WHERE rulebook_id = $1
		ON CONFLICT (rulebook_id, rule_id) DO NOTHING
	`, rulebookID, ruleID)
	if err != nil {
		return fmt.Errorf("failed to add rule to rulebook: %w", err)
	}
	return nil
}

func (t *pgTx) RemoveRuleFromRulebook(ctx context.Context, rulebookID, ruleID string) error {
	if err := t.requireRulebook(ctx, rulebookID); err != nil {
		return err
	}
	if err := t.requireRule(ctx, ruleID); err != nil {
		return err
	}

	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM rulebook_rules
		WHERE rulebook_id = $1 AND rule_id = $2
	`, rulebookID, ruleID)
	if err != nil {
		return fmt.Errorf("failed to remove rule from rulebook: %w", err)
	}
	return nil
}

func (t *pgTx) membership(ctx context.Context, rulebookID string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT rule_id
		FROM rulebook_rules
		WHERE rulebook_id = $1
		ORDER BY position ASC
	`, rulebookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rulebook membership: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating membership: %w", err)
	}
	return ids, nil
}

func (t *pgTx) insertMembership(ctx context.Context, rulebookID string, ruleIDs []string) error {
	for i, rid := range ruleIDs {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO rulebook_rules (rulebook_id, rule_id, position)
			VALUES ($1, $2, $3)
			ON CONFLICT (rulebook_id, rule_id) DO NOTHING
		`, rulebookID, rid, i+1)
		if err != nil {
			return fmt.Errorf("failed to insert rulebook membership: %w", err)
		}
	}
	return nil
}

func (t *pgTx) requireRule(ctx context.Context, id string) error {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM rules WHERE id = $1)
	`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if !exists {
		return NotFound("rule", id)
	}
	return nil
}

func (t *pgTx) requireRulebook(ctx context.Context, id string) error {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM rulebooks WHERE id = $1)
	`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rulebook existence: %w", err)
	}
	if !exists {
		return NotFound("rulebook", id)
	}
	return nil
}

func isPgError(err error, code string) bool {
	if err == nil {
		return false
	}
	pqErr, ok := err.(*pq.Error)
	return ok && string(pqErr.Code) == code
}
