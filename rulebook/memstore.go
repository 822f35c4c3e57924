package rulebook

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store. Units of work mutate a deep copy of
// the state under a mutex; the copy replaces the live state on commit
// and is discarded on error, which gives the same
// commit-on-success/rollback-on-failure semantics as the Postgres
// store. Used by handler unit tests and for running without a
// database.
type MemStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	rules     map[string]*Rule
	rulebooks map[string]*Rulebook
	seq       map[string]int64 // "rule/<id>" or "rulebook/<id>" -> insertion order
	nextSeq   int64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{state: &memState{
		rules:     make(map[string]*Rule),
		rulebooks: make(map[string]*Rulebook),
		seq:       make(map[string]int64),
	}}
}

// InTx runs fn against a copy of the state and commits the copy if fn
// returns nil. The mutex serializes units of work, so each one sees a
// consistent snapshot.
func (s *MemStore) InTx(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (st *memState) clone() *memState {
	c := &memState{
		rules:     make(map[string]*Rule, len(st.rules)),
		rulebooks: make(map[string]*Rulebook, len(st.rulebooks)),
		seq:       make(map[string]int64, len(st.seq)),
		nextSeq:   st.nextSeq,
	}
	for id, r := range st.rules {
		cr := *r
		c.rules[id] = &cr
	}
	for id, rb := range st.rulebooks {
		crb := *rb
		crb.Rules = append([]string(nil), rb.Rules...)
		c.rulebooks[id] = &crb
	}
	for k, v := range st.seq {
		c.seq[k] = v
	}
	return c
}

type memTx struct {
	state *memState
}

func (t *memTx) track(kind, id string) {
	t.state.nextSeq++
	t.state.seq[kind+"/"+id] = t.state.nextSeq
}

func (t *memTx) CreateRule(ctx context.Context, rule *Rule) error {
	if _, ok := t.state.rules[rule.ID]; ok {
		return AlreadyExists("rule", rule.ID)
	}
	now := time.Now()
	r := *rule
	r.CreatedAt = now
	r.UpdatedAt = now
	t.state.rules[r.ID] = &r
	t.track("rule", r.ID)
	return nil
}

func (t *memTx) Rule(ctx context.Context, id string) (*Rule, error) {
	r, ok := t.state.rules[id]
	if !ok {
		return nil, NotFound("rule", id)
	}
	cr := *r
	return &cr, nil
}

func (t *memTx) Rules(ctx context.Context) ([]*Rule, error) {
	out := make([]*Rule, 0, len(t.state.rules))
	for _, r := range t.state.rules {
		cr := *r
		out = append(out, &cr)
	}
	sort.Slice(out, func(i, j int) bool {
		return t.state.seq["rule/"+out[i].ID] < t.state.seq["rule/"+out[j].ID]
	})
	return out, nil
}

func (t *memTx) UpdateRule(ctx context.Context, id string, req *RuleRequest) error {
	r, ok := t.state.rules[id]
	if !ok {
		return NotFound("rule", id)
	}
	r.Description = req.Description
	r.When = req.When
	r.Then = req.Then
	r.UpdatedAt = time.Now()
	return nil
}

func (t *memTx) DeleteRule(ctx context.Context, id string) error {
	if _, ok := t.state.rules[id]; !ok {
		return NotFound("rule", id)
	}
	for _, rb := range t.state.rulebooks {
		for _, rid := range rb.Rules {
			if rid == id {
				return StillReferenced(id)
			}
		}
	}
	delete(t.state.rules, id)
	delete(t.state.seq, "rule/"+id)
	return nil
}

func (t *memTx) CreateRulebook(ctx context.Context, rb *Rulebook) error {
	if _, ok := t.state.rulebooks[rb.ID]; ok {
		return AlreadyExists("rulebook", rb.ID)
	}
	if err := checkMembershipIDs(rb.Rules); err != nil {
		return err
	}
	for _, rid := range rb.Rules {
		if _, ok := t.state.rules[rid]; !ok {
			return NotFound("rule", rid)
		}
	}
	now := time.Now()
	crb := *rb
	crb.Rules = append([]string(nil), rb.Rules...)
	crb.CreatedAt = now
	crb.UpdatedAt = now
	t.state.rulebooks[crb.ID] = &crb
	t.track("rulebook", crb.ID)
	return nil
}

func (t *memTx) Rulebook(ctx context.Context, id string) (*Rulebook, error) {
	rb, ok := t.state.rulebooks[id]
	if !ok {
		return nil, NotFound("rulebook", id)
	}
	crb := *rb
	crb.Rules = append([]string(nil), rb.Rules...)
	return &crb, nil
}

func (t *memTx) Rulebooks(ctx context.Context) ([]*Rulebook, error) {
	out := make([]*Rulebook, 0, len(t.state.rulebooks))
	for _, rb := range t.state.rulebooks {
		crb := *rb
		crb.Rules = append([]string(nil), rb.Rules...)
		out = append(out, &crb)
	}
	sort.Slice(out, func(i, j int) bool {
		return t.state.seq["rulebook/"+out[i].ID] < t.state.seq["rulebook/"+out[j].ID]
	})
	return out, nil
}

func (t *memTx) UpdateRulebook(ctx context.Context, id string, req *RulebookRequest) error {
	rb, ok := t.state.rulebooks[id]
	if !ok {
		return NotFound("rulebook", id)
	}
	if err := checkMembershipIDs(req.Rules); err != nil {
		return err
	}
	for _, rid := range req.Rules {
		if _, ok := t.state.rules[rid]; !ok {
			return NotFound("rule", rid)
		}
	}
	rb.Description = req.Description
	rb.User = req.User
	rb.Version = req.Version
	rb.Rules = append([]string(nil), req.Rules...)
	rb.UpdatedAt = time.Now()
	return nil
}

func (t *memTx) DeleteRulebook(ctx context.Context, id string) error {
	if _, ok := t.state.rulebooks[id]; !ok {
		return NotFound("rulebook", id)
	}
	delete(t.state.rulebooks, id)
	delete(t.state.seq, "rulebook/"+id)
	return nil
}

func (t *memTx) RulebookRules(ctx context.Context, id string) ([]*Rule, error) {
	rb, ok := t.state.rulebooks[id]
	if !ok {
		return nil, NotFound("rulebook", id)
	}
	out := make([]*Rule, 0, len(rb.Rules))
	for _, rid := range rb.Rules {
		r, ok := t.state.rules[rid]
		if !ok {
			return nil, NotFound("rule", rid)
		}
		cr := *r
		out = append(out, &cr)
	}
	return out, nil
}

func (t *memTx) AddRuleToRulebook(ctx context.Context, rulebookID, ruleID string) error {
	rb, ok := t.state.rulebooks[rulebookID]
	if !ok {
		return NotFound("rulebook", rulebookID)
	}
	if _, ok := t.state.rules[ruleID]; !ok {
		return NotFound("rule", ruleID)
	}
	for _, rid := range rb.Rules {
		if rid == ruleID {
			return nil
		}
	}
	rb.Rules = append(rb.Rules, ruleID)
	rb.UpdatedAt = time.Now()
	return nil
}

func (t *memTx) RemoveRuleFromRulebook(ctx context.Context, rulebookID, ruleID string) error {
	rb, ok := t.state.rulebooks[rulebookID]
	if !ok {
		return NotFound("rulebook", rulebookID)
	}
	if _, ok := t.state.rules[ruleID]; !ok {
		return NotFound("rule", ruleID)
	}
	for i, rid := range rb.Rules {
		if rid == ruleID {
			rb.Rules = append(rb.Rules[:i], rb.Rules[i+1:]...)
			rb.UpdatedAt = time.Now()
			return nil
		}
	}
	return nil
}
