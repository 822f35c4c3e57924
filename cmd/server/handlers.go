package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/thaingo/dre/rulebook"
	"github.com/thaingo/dre/rulebook/dsl"
)

// Content types accepted on rulebook creation.
const (
	contentTypeJSON = "application/json"
	contentTypeDSL  = "application/rules-engine"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleValidateWhen checks a single when clause for syntactic
// validity. Pure validation, no store access.
func (s *Server) handleValidateWhen(w http.ResponseWriter, r *http.Request) {
	extractor, err := newRequestExtractor(r)
	if err != nil {
		respondFailure(w, err, "Unexpected error while validating when clause.")
		return
	}
	content, err := extractor.Content("utf-8")
	if err != nil {
		respondFailure(w, err, "Unexpected error while validating when clause.")
		return
	}

	if err := rulebook.ValidateWhen(content); err != nil {
		respondFailure(w, err, "Unexpected error while validating when clause.")
		return
	}
	respondSuccess(w, "Valid when clause.", nil)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	const prefix = "Unexpected error while creating rule. Please check your request."

	req, err := decodeRuleRequest(r)
	if err != nil {
		respondFailure(w, err, prefix)
		return
	}
	if req.ID == "" {
		respondFailure(w, rulebook.Invalid("rule id is required"), prefix)
		return
	}

	err = s.store.InTx(r.Context(), func(tx rulebook.Tx) error {
		return tx.CreateRule(r.Context(), req.Rule())
	})
	if err != nil {
		respondFailure(w, err, prefix)
		return
	}
	respondSuccess(w, fmt.Sprintf("Successfully created rule '%s'.", req.ID), []any{req.ID})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	var rules []*rulebook.Rule
	err := s.store.InTx(r.Context(), func(tx rulebook.Tx) (txErr error) {
		rules, txErr = tx.Rules(r.Context())
		return txErr
	})
	if err != nil {
		respondFailure(w, err, "Unexpected error while listing rules. Please check your request.")
		return
	}
	respondSuccess(w, "Successfully listed rules.", toValues(rules))
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	const prefix = "Unexpected error while updating rule. Please check your request."
	id := chi.URLParam(r, "rule-id")

	req, err := decodeRuleRequest(r)
	if err != nil {
		respondFailure(w, err, prefix)
		return
	}

	err = s.store.InTx(r.Context(), func(tx rulebook.Tx) error {
		return tx.UpdateRule(r.Context(), id, req)
	})
	if err != nil {
		respondFailure(w, err, prefix)
		return
	}
	respondSuccess(w, fmt.Sprintf("Successfully updated rule '%s'.", id), []any{id})
}

// handleRetrieveRule returns the rule itself as the values object, or,
// for any format value other than "json", a single-element values
// array holding the rule's textual rendering.
func (s *Server) handleRetrieveRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "rule-id")
	format := r.URL.Query().Get("format")

	var rule *rulebook.Rule
	err := s.store.InTx(r.Context(), func(tx rulebook.Tx) (txErr error) {
		rule, txErr = tx.Rule(r.Context(), id)
		return txErr
	})
	if err != nil {
		respondFailure(w, err, "Unexpected error while retrieving rule. Please check your request.")
		return
	}

	message := fmt.Sprintf("Successfully retrieved rule '%s'.", id)
	if format == "" || strings.EqualFold(format, "json") {
		respondObject(w, message, rule)
		return
	}
	respondSuccess(w, message, []any{dsl.RenderRule(rule)})
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "rule-id")

	err := s.store.InTx(r.Context(), func(tx rulebook.Tx) error {
		return tx.DeleteRule(r.Context(), id)
	})
	if err != nil {
		respondFailure(w, err, "Unexpected error while deleting the rule. Please check your request.")
		return
	}
	respondSuccess(w, fmt.Sprintf("Successfully deleted rule '%s'.", id), nil)
}

// handleCreateRulebook ingests a rulebook in either of its two forms.
// The content-type branch is decided before any transaction is opened;
// an unsupported type never touches the store.
func (s *Server) handleCreateRulebook(w http.ResponseWriter, r *http.Request) {
	const prefix = "Unexpected error while creating rulebook. Please check your request."

	extractor, err := newRequestExtractor(r)
	if err != nil {
		respondFailure(w, err, prefix)
		return
	}
	content, err := extractor.Content("utf-8")
	if err != nil {
		respondFailure(w, err, prefix)
		return
	}

	var id string
	switch {
	case extractor.IsContentType(contentTypeJSON):
		var req rulebook.RulebookRequest
		if err := json.Unmarshal([]byte(content), &req); err != nil {
			respondFailure(w, rulebook.Invalid("invalid rulebook payload: %v", err), prefix)
			return
		}
		if req.ID == "" {
			respondFailure(w, rulebook.Invalid("rulebook id is required"), prefix)
			return
		}
		id = req.ID
		err = s.store.InTx(r.Context(), func(tx rulebook.Tx) error {
			return tx.CreateRulebook(r.Context(), req.Rulebook())
		})

	case extractor.IsContentType(contentTypeDSL):
		rb, rules, compileErr := dsl.Compile(content)
		if compileErr != nil {
			respondFailure(w, compileErr, prefix)
			return
		}
		id = rb.ID
		err = s.store.InTx(r.Context(), func(tx rulebook.Tx) error {
			for _, rule := range rules {
				if err := tx.CreateRule(r.Context(), rule); err != nil {
					return err
				}
			}
			return tx.CreateRulebook(r.Context(), rb)
		})

	default:
		header := extractor.Header(headerContentType, "")
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported content type %s.", header))
		return
	}

	if err != nil {
		respondFailure(w, err, prefix)
		return
	}
	respondSuccess(w, fmt.Sprintf("Successfully created rulebook '%s'.", id), []any{id})
}

func (s *Server) handleListRulebooks(w http.ResponseWriter, r *http.Request) {
	var rulebooks []*rulebook.Rulebook
	err := s.store.InTx(r.Context(), func(tx rulebook.Tx) (txErr error) {
		rulebooks, txErr = tx.Rulebooks(r.Context())
		return txErr
	})
	if err != nil {
		respondFailure(w, err, "Unable to list all rulebooks.")
		return
	}
	respondSuccess(w, "Successfully listed rulebooks.", toValues(rulebooks))
}

func (s *Server) handleUpdateRulebook(w http.ResponseWriter, r *http.Request) {
	const prefix = "Unable to update rulebook."
	id := chi.URLParam(r, "rulebook-id")

	extractor, err := newRequestExtractor(r)
	if err != nil {
		respondFailure(w, err, prefix)
		return
	}
	content, err := extractor.Content("utf-8")
	if err != nil {
		respondFailure(w, err, prefix)
		return
	}

	var req rulebook.RulebookRequest
	if err := json.Unmarshal([]byte(content), &req); err != nil {
		respondFailure(w, rulebook.Invalid("invalid rulebook payload: %v", err), prefix)
		return
	}

	err = s.store.InTx(r.Context(), func(tx rulebook.Tx) error {
		return tx.UpdateRulebook(r.Context(), id, &req)
	})
	if err != nil {
		respondFailure(w, err, prefix)
		return
	}
	respondSuccess(w, fmt.Sprintf("Successfully updated rulebook '%s'.", id), []any{id})
}

// handleRetrieveRulebook renders the rulebook and its member rules as
// DSL text. Retrieval of the rulebook and of every member rule happens
// inside one unit of work, so the rendering is of one consistent
// snapshot.
func (s *Server) handleRetrieveRulebook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "rulebook-id")

	var text string
	err := s.store.InTx(r.Context(), func(tx rulebook.Tx) error {
		rb, err := tx.Rulebook(r.Context(), id)
		if err != nil {
			return err
		}
		rules, err := tx.RulebookRules(r.Context(), id)
		if err != nil {
			return err
		}
		text = dsl.Render(rb, rules)
		return nil
	})
	if err != nil {
		respondFailure(w, err, "Unable to retrieve rulebook.")
		return
	}
	respondSuccess(w, fmt.Sprintf("Successfully generated rulebook '%s'.", id), []any{text})
}

func (s *Server) handleRulebookRules(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "rulebook-id")

	var rules []*rulebook.Rule
	err := s.store.InTx(r.Context(), func(tx rulebook.Tx) (txErr error) {
		rules, txErr = tx.RulebookRules(r.Context(), id)
		return txErr
	})
	if err != nil {
		respondFailure(w, err, "Unable to retrieve rules for rulebook.")
		return
	}
	respondSuccess(w, fmt.Sprintf("Successfully listed rules for the rulebook '%s'.", id), toValues(rules))
}

func (s *Server) handleDeleteRulebook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "rulebook-id")

	err := s.store.InTx(r.Context(), func(tx rulebook.Tx) error {
		return tx.DeleteRulebook(r.Context(), id)
	})
	if err != nil {
		respondFailure(w, err, "Unable to delete rulebook.")
		return
	}
	respondSuccess(w, fmt.Sprintf("Successfully deleted rulebook '%s'.", id), nil)
}

func (s *Server) handleAddRuleToRulebook(w http.ResponseWriter, r *http.Request) {
	rbID := chi.URLParam(r, "rulebook-id")
	ruleID := chi.URLParam(r, "rule-id")

	err := s.store.InTx(r.Context(), func(tx rulebook.Tx) error {
		return tx.AddRuleToRulebook(r.Context(), rbID, ruleID)
	})
	if err != nil {
		respondFailure(w, err, "Unable to add rule to rulebook.")
		return
	}
	respondSuccess(w, fmt.Sprintf("Successfully added rule '%s' to rulebook '%s'.", ruleID, rbID), nil)
}

func (s *Server) handleRemoveRuleFromRulebook(w http.ResponseWriter, r *http.Request) {
	rbID := chi.URLParam(r, "rulebook-id")
	ruleID := chi.URLParam(r, "rule-id")

	err := s.store.InTx(r.Context(), func(tx rulebook.Tx) error {
		return tx.RemoveRuleFromRulebook(r.Context(), rbID, ruleID)
	})
	if err != nil {
		respondFailure(w, err, "Unable to remove rule from rulebook.")
		return
	}
	respondSuccess(w, fmt.Sprintf("Successfully removed rule '%s' from rulebook '%s'.", ruleID, rbID), nil)
}

// decodeRuleRequest reads and validates a rule create/update payload.
// The id must be present and the when clause must parse; both checks
// need no store access, so they run before any transaction opens.
func decodeRuleRequest(r *http.Request) (*rulebook.RuleRequest, error) {
	extractor, err := newRequestExtractor(r)
	if err != nil {
		return nil, err
	}
	content, err := extractor.Content("utf-8")
	if err != nil {
		return nil, err
	}

	var req rulebook.RuleRequest
	if err := json.Unmarshal([]byte(content), &req); err != nil {
		return nil, rulebook.Invalid("invalid rule payload: %v", err)
	}
	if err := rulebook.ValidateWhen(req.When); err != nil {
		return nil, err
	}
	return &req, nil
}

func toValues[T any](items []T) []any {
	values := make([]any, len(items))
	for i, item := range items {
		values[i] = item
	}
	return values
}
