// Package classify applies rule-driven classification to discovered assets.
// Rules evaluate in ascending priority order and accumulate: a later matching
// rule overwrites fields set by an earlier one. Manually overridden fields
// are never written by rules.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/nelssec/assetsync/internal/models"
)

// Store is the persistence surface the engine needs.
type Store interface {
	ListRules(ctx context.Context, enabledOnly bool) ([]models.ClassificationRule, error)
	ListAssetsByIntegration(ctx context.Context, integrationID uuid.UUID) ([]models.Asset, error)
	UpdateAssetClassification(ctx context.Context, assetID uuid.UUID,
		env models.Environment, owner, department, dataClassification string, criticality models.Criticality) error
	IncrementRulesApplied(ctx context.Context, ids []uuid.UUID) error
}

type Engine struct {
	store  Store
	logger *slog.Logger
}

func NewEngine(st Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, logger: logger}
}

// Outcome is the classification state computed for one asset, with the rules
// that contributed to it.
type Outcome struct {
	Environment        models.Environment
	Owner              string
	Department         string
	DataClassification string
	Criticality        models.Criticality
	MatchedRules       []uuid.UUID
	Changed            bool
}

// Evaluate runs every rule against one asset and returns the accumulated
// outcome. It does not persist anything.
func Evaluate(asset *models.Asset, rules []models.ClassificationRule) Outcome {
	out := Outcome{
		Environment:        asset.Environment,
		Owner:              asset.Owner,
		Department:         asset.Department,
		DataClassification: asset.DataClassification,
		Criticality:        asset.Criticality,
	}

	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled || !Matches(asset, rule) {
			continue
		}
		out.MatchedRules = append(out.MatchedRules, rule.ID)
		applyAction(asset, rule.Action, &out)
	}

	out.Changed = out.Environment != asset.Environment ||
		out.Owner != asset.Owner ||
		out.Department != asset.Department ||
		out.DataClassification != asset.DataClassification ||
		out.Criticality != asset.Criticality
	return out
}

// applyAction copies the action's non-empty fields onto the outcome, skipping
// any field the asset carries a manual override for.
func applyAction(asset *models.Asset, action models.RuleAction, out *Outcome) {
	if action.Environment != "" && !asset.Overridden("environment") {
		out.Environment = action.Environment
	}
	if action.Owner != "" && !asset.Overridden("owner") {
		out.Owner = action.Owner
	}
	if action.Department != "" && !asset.Overridden("department") {
		out.Department = action.Department
	}
	if action.DataClassification != "" && !asset.Overridden("dataClassification") {
		out.DataClassification = action.DataClassification
	}
	if action.Criticality != "" && !asset.Overridden("criticality") {
		out.Criticality = action.Criticality
	}
}

// Matches reports whether a rule's condition holds for an asset.
func Matches(asset *models.Asset, rule *models.ClassificationRule) bool {
	switch rule.RuleType {
	case models.RuleTagMatch:
		return matchTag(asset, rule.Condition)
	case models.RuleServiceMatch:
		return matchService(asset, rule.Condition)
	case models.RuleExposureCheck:
		return asset.InternetExposed
	case models.RuleNamingPattern:
		return matchPattern(asset, rule.Condition)
	case models.RuleComposite:
		return matchComposite(asset, rule.Condition)
	default:
		return false
	}
}

func matchTag(asset *models.Asset, cond models.RuleCondition) bool {
	if cond.TagKey == "" {
		return false
	}
	raw, ok := asset.Tags[cond.TagKey]
	if !ok {
		return false
	}
	if cond.TagExists || cond.TagValue == "" {
		return true
	}
	value, _ := raw.(string)
	return strings.Contains(strings.ToLower(value), strings.ToLower(cond.TagValue))
}

// matchService checks the service/resourceType equality and, when the
// condition carries sub-conditions, combines that check with them under the
// condition's operator.
func matchService(asset *models.Asset, cond models.RuleCondition) bool {
	base := matchServiceFields(asset, cond)
	if len(cond.Conditions) == 0 {
		return base
	}
	sub := matchComposite(asset, cond)
	if strings.EqualFold(cond.Operator, "OR") {
		return base || sub
	}
	return base && sub
}

func matchServiceFields(asset *models.Asset, cond models.RuleCondition) bool {
	if cond.Service == "" && cond.ResourceType == "" {
		return false
	}
	if cond.Service != "" && !strings.EqualFold(asset.Service, cond.Service) {
		return false
	}
	if cond.ResourceType != "" && asset.ResourceType != cond.ResourceType {
		return false
	}
	return true
}

// matchPattern treats an invalid regular expression as a non-match rather
// than an error, so one bad rule cannot wedge a bulk run.
func matchPattern(asset *models.Asset, cond models.RuleCondition) bool {
	if cond.Pattern == "" {
		return false
	}
	re, err := regexp.Compile("(?i)" + cond.Pattern)
	if err != nil {
		return false
	}
	return re.MatchString(asset.Name)
}

func matchComposite(asset *models.Asset, cond models.RuleCondition) bool {
	if len(cond.Conditions) == 0 {
		return false
	}
	or := strings.EqualFold(cond.Operator, "OR")
	for _, sub := range cond.Conditions {
		matched := matchCondition(asset, sub)
		if or && matched {
			return true
		}
		if !or && !matched {
			return false
		}
	}
	return !or
}

// matchCondition dispatches a bare condition by its populated fields, which
// lets composite rules nest any condition form.
func matchCondition(asset *models.Asset, cond models.RuleCondition) bool {
	switch {
	case len(cond.Conditions) > 0:
		return matchComposite(asset, cond)
	case cond.TagKey != "":
		return matchTag(asset, cond)
	case cond.Pattern != "":
		return matchPattern(asset, cond)
	case cond.Service != "" || cond.ResourceType != "":
		return matchService(asset, cond)
	default:
		return false
	}
}

// ClassifyIntegration runs every enabled rule over an integration's assets
// and persists the results. It returns the number of assets whose
// classification changed.
func (e *Engine) ClassifyIntegration(ctx context.Context, integrationID uuid.UUID) (int, error) {
	rules, err := e.store.ListRules(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("listing rules: %w", err)
	}
	if len(rules) == 0 {
		return 0, nil
	}

	assets, err := e.store.ListAssetsByIntegration(ctx, integrationID)
	if err != nil {
		return 0, fmt.Errorf("listing assets: %w", err)
	}

	changed := 0
	for i := range assets {
		asset := &assets[i]
		out := Evaluate(asset, rules)
		if !out.Changed {
			continue
		}
		if err := e.store.UpdateAssetClassification(ctx, asset.ID,
			out.Environment, out.Owner, out.Department, out.DataClassification, out.Criticality); err != nil {
			e.logger.Warn("updating asset classification", "asset_id", asset.ID, "error", err)
			continue
		}
		changed++
		if err := e.store.IncrementRulesApplied(ctx, out.MatchedRules); err != nil {
			e.logger.Warn("incrementing rule counters", "error", err)
		}
	}
	return changed, nil
}

// PreviewMatch is one asset a previewed rule would touch.
type PreviewMatch struct {
	AssetID      uuid.UUID         `json:"asset_id"`
	ResourceID   string            `json:"resource_id"`
	Name         string            `json:"name"`
	Before       models.RuleAction `json:"before"`
	After        models.RuleAction `json:"after"`
	WouldChange  bool              `json:"would_change"`
}

// Preview evaluates one rule against an integration's assets without
// persisting anything and without touching the rule's applied counters.
func (e *Engine) Preview(ctx context.Context, integrationID uuid.UUID, rule *models.ClassificationRule) ([]PreviewMatch, error) {
	assets, err := e.store.ListAssetsByIntegration(ctx, integrationID)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}

	var matches []PreviewMatch
	for i := range assets {
		asset := &assets[i]
		if !Matches(asset, rule) {
			continue
		}
		out := Outcome{
			Environment:        asset.Environment,
			Owner:              asset.Owner,
			Department:         asset.Department,
			DataClassification: asset.DataClassification,
			Criticality:        asset.Criticality,
		}
		applyAction(asset, rule.Action, &out)
		matches = append(matches, PreviewMatch{
			AssetID:    asset.ID,
			ResourceID: asset.ResourceID,
			Name:       asset.Name,
			Before: models.RuleAction{
				Environment:        asset.Environment,
				Owner:              asset.Owner,
				Department:         asset.Department,
				DataClassification: asset.DataClassification,
				Criticality:        asset.Criticality,
			},
			After: models.RuleAction{
				Environment:        out.Environment,
				Owner:              out.Owner,
				Department:         out.Department,
				DataClassification: out.DataClassification,
				Criticality:        out.Criticality,
			},
			WouldChange: out.Environment != asset.Environment ||
				out.Owner != asset.Owner ||
				out.Department != asset.Department ||
				out.DataClassification != asset.DataClassification ||
				out.Criticality != asset.Criticality,
		})
	}
	return matches, nil
}

// DefaultRules is the seed set installed on first boot when the rules table
// is empty.
func DefaultRules() []models.ClassificationRule {
	return []models.ClassificationRule{
		{
			Name:        "Production by tag",
			Description: "Tag Environment=production marks the asset as production",
			Enabled:     true,
			Priority:    10,
			RuleType:    models.RuleTagMatch,
			Condition:   models.RuleCondition{TagKey: "Environment", TagValue: "production"},
			Action:      models.RuleAction{Environment: models.EnvProduction},
		},
		{
			Name:        "Databases are high criticality",
			Description: "Managed database instances default to high criticality",
			Enabled:     true,
			Priority:    20,
			RuleType:    models.RuleServiceMatch,
			Condition:   models.RuleCondition{Service: "RDS"},
			Action:      models.RuleAction{Criticality: models.CriticalityHigh, DataClassification: "confidential"},
		},
		{
			Name:        "Exposed production is critical",
			Description: "Internet-exposed assets escalate to critical",
			Enabled:     true,
			Priority:    30,
			RuleType:    models.RuleExposureCheck,
			Condition:   models.RuleCondition{},
			Action:      models.RuleAction{Criticality: models.CriticalityCritical},
		},
		{
			Name:        "Staging by name",
			Description: "Resource names containing staging markers",
			Enabled:     true,
			Priority:    40,
			RuleType:    models.RuleNamingPattern,
			Condition:   models.RuleCondition{Pattern: `(?i)(^|[-_])(stg|staging)([-_]|$)`},
			Action:      models.RuleAction{Environment: models.EnvStaging},
		},
	}
}
