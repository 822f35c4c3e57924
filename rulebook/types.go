package rulebook

import "time"

// Rule is a named condition/action pair. The condition ("when" clause)
// is evaluated by an external expression engine; this service only
// stores it and checks that it parses.
type Rule struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	When        string    `json:"when"`
	Then        string    `json:"then"`
	CreatedAt   time.Time `json:"created"`
	UpdatedAt   time.Time `json:"updated"`
}

// Rulebook is a named, ordered collection of rule references.
// Rules apply in the order they appear in Rules.
type Rulebook struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	User        string    `json:"user"`
	Version     int64     `json:"version"`
	Rules       []string  `json:"rules"`
	CreatedAt   time.Time `json:"created"`
	UpdatedAt   time.Time `json:"updated"`
}

// RuleRequest is the decoded body of a rule create or update call.
type RuleRequest struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	When        string `json:"when"`
	Then        string `json:"then"`
}

// RulebookRequest is the decoded body of a rulebook create or update
// call in its structured JSON form. The DSL text form is handled by the
// dsl package instead.
type RulebookRequest struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	User        string   `json:"user"`
	Version     int64    `json:"version"`
	Rules       []string `json:"rules"`
}

// Rule builds the entity a RuleRequest describes.
func (r *RuleRequest) Rule() *Rule {
	return &Rule{
		ID:          r.ID,
		Description: r.Description,
		When:        r.When,
		Then:        r.Then,
	}
}

// Rulebook builds the entity a RulebookRequest describes.
func (r *RulebookRequest) Rulebook() *Rulebook {
	return &Rulebook{
		ID:          r.ID,
		Description: r.Description,
		User:        r.User,
		Version:     r.Version,
		Rules:       append([]string(nil), r.Rules...),
	}
}
