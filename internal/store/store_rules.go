package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nelssec/assetsync/internal/models"
)

func (s *Store) CreateRule(ctx context.Context, rule *models.ClassificationRule) error {
	query := `
		INSERT INTO classification_rules (
			id, name, description, enabled, priority, rule_type, condition, action,
			applied_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10)
	`
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = rule.CreatedAt

	_, err := s.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Description, rule.Enabled, rule.Priority,
		rule.RuleType, rule.Condition, rule.Action, rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

func (s *Store) GetRule(ctx context.Context, id uuid.UUID) (*models.ClassificationRule, error) {
	var rule models.ClassificationRule
	query := `SELECT * FROM classification_rules WHERE id = $1`
	err := s.db.GetContext(ctx, &rule, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &rule, err
}

// ListRules returns rules in evaluation order: ascending priority, ties
// broken by insertion order.
func (s *Store) ListRules(ctx context.Context, enabledOnly bool) ([]models.ClassificationRule, error) {
	query := `SELECT * FROM classification_rules`
	if enabledOnly {
		query += ` WHERE enabled = true`
	}
	query += ` ORDER BY priority ASC, created_at ASC`

	var rules []models.ClassificationRule
	err := s.db.SelectContext(ctx, &rules, query)
	return rules, err
}

func (s *Store) UpdateRule(ctx context.Context, rule *models.ClassificationRule) error {
	query := `
		UPDATE classification_rules
		SET name = $1, description = $2, enabled = $3, priority = $4,
			rule_type = $5, condition = $6, action = $7, updated_at = $8
		WHERE id = $9
	`
	rule.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, query,
		rule.Name, rule.Description, rule.Enabled, rule.Priority,
		rule.RuleType, rule.Condition, rule.Action, rule.UpdatedAt, rule.ID,
	)
	return err
}

func (s *Store) DeleteRule(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM classification_rules WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// IncrementRulesApplied bumps the audit counters for every rule that matched
// at least one asset in a bulk run. Preview runs never call this.
func (s *Store) IncrementRulesApplied(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	query := `
		UPDATE classification_rules
		SET applied_count = applied_count + 1, last_applied_at = $1
		WHERE id = ANY($2::uuid[])
	`
	_, err := s.db.ExecContext(ctx, query, time.Now(), pq.Array(raw))
	return err
}

func (s *Store) CountRules(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM classification_rules`)
	return count, err
}
