// Package memstore provides an in-memory implementation of definitions.Store.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/linnemanlabs/beacon/internal/definitions"
)

var (
	_ definitions.Store = (*Store)(nil)
	_ definitions.Tx    = (*tx)(nil)
)

type key struct {
	tenant string
	id     string
}

// state is one consistent snapshot of every definition.
type state struct {
	triggers   map[key]*definitions.Trigger
	dampenings map[key]*definitions.Dampening // key id is the dampening id
	conditions map[key]*definitions.Condition // key id is the condition id
}

func newState() *state {
	return &state{
		triggers:   make(map[key]*definitions.Trigger),
		dampenings: make(map[key]*definitions.Dampening),
		conditions: make(map[key]*definitions.Condition),
	}
}

// clone copies the maps. Stored values are never mutated in place, so the
// pointers can be shared between snapshots.
func (st *state) clone() *state {
	return &state{
		triggers:   maps.Clone(st.triggers),
		dampenings: maps.Clone(st.dampenings),
		conditions: maps.Clone(st.conditions),
	}
}

// Store holds trigger definitions in memory. Suitable for dev/testing.
// Transactions are fully serialized, which also serializes every group.
type Store struct {
	mu sync.RWMutex
	st *state
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) read() (*state, func()) {
	s.mu.RLock()
	return s.st, s.mu.RUnlock
}

// GetTrigger retrieves a trigger by id. Returns a copy.
func (s *Store) GetTrigger(_ context.Context, tenantID, triggerID string) (*definitions.Trigger, bool, error) {
	st, done := s.read()
	defer done()
	t, ok := st.getTrigger(tenantID, triggerID)
	return t, ok, nil
}

// GetTriggers lists the tenant's triggers matching criteria.
func (s *Store) GetTriggers(_ context.Context, tenantID string, criteria definitions.TriggerCriteria) ([]*definitions.Trigger, error) {
	st, done := s.read()
	defer done()
	return st.getTriggers(tenantID, criteria), nil
}

// GetMemberTriggers lists the members of a group.
func (s *Store) GetMemberTriggers(_ context.Context, tenantID, groupID string, includeOrphans bool) ([]*definitions.Trigger, error) {
	st, done := s.read()
	defer done()
	return st.getMembers(tenantID, groupID, includeOrphans), nil
}

// GetDampening retrieves a dampening by id. Returns a copy.
func (s *Store) GetDampening(_ context.Context, tenantID, dampeningID string) (*definitions.Dampening, bool, error) {
	st, done := s.read()
	defer done()
	d, ok := st.dampenings[key{tenantID, dampeningID}]
	return d.Clone(), ok, nil
}

// GetTriggerDampenings lists a trigger's dampenings.
func (s *Store) GetTriggerDampenings(_ context.Context, tenantID, triggerID string, mode definitions.Mode) ([]*definitions.Dampening, error) {
	st, done := s.read()
	defer done()
	return st.getTriggerDampenings(tenantID, triggerID, mode), nil
}

// GetCondition retrieves a condition by id. Returns a copy.
func (s *Store) GetCondition(_ context.Context, tenantID, conditionID string) (*definitions.Condition, bool, error) {
	st, done := s.read()
	defer done()
	c, ok := st.conditions[key{tenantID, conditionID}]
	return c.Clone(), ok, nil
}

// GetTriggerConditions lists a trigger's conditions.
func (s *Store) GetTriggerConditions(_ context.Context, tenantID, triggerID string, mode definitions.Mode) ([]*definitions.Condition, error) {
	st, done := s.read()
	defer done()
	return st.getTriggerConditions(tenantID, triggerID, mode), nil
}

// GetConditions lists every condition of the tenant.
func (s *Store) GetConditions(_ context.Context, tenantID string) ([]*definitions.Condition, error) {
	st, done := s.read()
	defer done()
	return st.filterConditions(func(c *definitions.Condition) bool { return c.TenantID == tenantID }), nil
}

// WithinTx runs fn against a private snapshot and publishes it only if fn
// returns nil and ctx is still live.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx definitions.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	view := &tx{st: s.st.clone()}
	if err := fn(ctx, view); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = view.st
	return nil
}

func (st *state) getTrigger(tenantID, triggerID string) (*definitions.Trigger, bool) {
	t, ok := st.triggers[key{tenantID, triggerID}]
	return t.Clone(), ok
}

func (st *state) filterTriggers(keep func(*definitions.Trigger) bool) []*definitions.Trigger {
	var out []*definitions.Trigger
	for _, t := range st.triggers {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *definitions.Trigger) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (st *state) getTriggers(tenantID string, criteria definitions.TriggerCriteria) []*definitions.Trigger {
	return st.filterTriggers(func(t *definitions.Trigger) bool {
		return t.TenantID == tenantID && criteria.Matches(t)
	})
}

func (st *state) getMembers(tenantID, groupID string, includeOrphans bool) []*definitions.Trigger {
	return st.filterTriggers(func(t *definitions.Trigger) bool {
		return t.TenantID == tenantID && t.GroupID == groupID && (includeOrphans || !t.Orphan)
	})
}

func modeOrder(m definitions.Mode) int {
	if m == definitions.ModeFiring {
		return 0
	}
	return 1
}

func (st *state) getTriggerDampenings(tenantID, triggerID string, mode definitions.Mode) []*definitions.Dampening {
	var out []*definitions.Dampening
	for _, d := range st.dampenings {
		if d.TenantID == tenantID && d.TriggerID == triggerID && (mode == "" || d.TriggerMode == mode) {
			out = append(out, d.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *definitions.Dampening) int {
		return cmp.Compare(modeOrder(a.TriggerMode), modeOrder(b.TriggerMode))
	})
	return out
}

func (st *state) filterConditions(keep func(*definitions.Condition) bool) []*definitions.Condition {
	var out []*definitions.Condition
	for _, c := range st.conditions {
		if keep(c) {
			out = append(out, c.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *definitions.Condition) int {
		return cmp.Or(
			cmp.Compare(a.TriggerID, b.TriggerID),
			cmp.Compare(modeOrder(a.TriggerMode), modeOrder(b.TriggerMode)),
			cmp.Compare(a.ConditionSetIndex, b.ConditionSetIndex),
		)
	})
	return out
}

func (st *state) getTriggerConditions(tenantID, triggerID string, mode definitions.Mode) []*definitions.Condition {
	return st.filterConditions(func(c *definitions.Condition) bool {
		return c.TenantID == tenantID && c.TriggerID == triggerID && (mode == "" || c.TriggerMode == mode)
	})
}

// tx is the view handed to WithinTx callbacks. It is only used while the
// store's write lock is held.
type tx struct {
	st *state
}

func (t *tx) GetTrigger(_ context.Context, tenantID, triggerID string) (*definitions.Trigger, bool, error) {
	tr, ok := t.st.getTrigger(tenantID, triggerID)
	return tr, ok, nil
}

func (t *tx) GetTriggers(_ context.Context, tenantID string, criteria definitions.TriggerCriteria) ([]*definitions.Trigger, error) {
	return t.st.getTriggers(tenantID, criteria), nil
}

func (t *tx) GetMemberTriggers(_ context.Context, tenantID, groupID string, includeOrphans bool) ([]*definitions.Trigger, error) {
	return t.st.getMembers(tenantID, groupID, includeOrphans), nil
}

func (t *tx) GetDampening(_ context.Context, tenantID, dampeningID string) (*definitions.Dampening, bool, error) {
	d, ok := t.st.dampenings[key{tenantID, dampeningID}]
	return d.Clone(), ok, nil
}

func (t *tx) GetTriggerDampenings(_ context.Context, tenantID, triggerID string, mode definitions.Mode) ([]*definitions.Dampening, error) {
	return t.st.getTriggerDampenings(tenantID, triggerID, mode), nil
}

func (t *tx) GetCondition(_ context.Context, tenantID, conditionID string) (*definitions.Condition, bool, error) {
	c, ok := t.st.conditions[key{tenantID, conditionID}]
	return c.Clone(), ok, nil
}

func (t *tx) GetTriggerConditions(_ context.Context, tenantID, triggerID string, mode definitions.Mode) ([]*definitions.Condition, error) {
	return t.st.getTriggerConditions(tenantID, triggerID, mode), nil
}

func (t *tx) GetConditions(_ context.Context, tenantID string) ([]*definitions.Condition, error) {
	return t.st.filterConditions(func(c *definitions.Condition) bool { return c.TenantID == tenantID }), nil
}

// LockGroup is a no-op: the whole transaction already runs under the
// store's write lock.
func (t *tx) LockGroup(ctx context.Context, _, _ string) error {
	return ctx.Err()
}

func (t *tx) InsertTrigger(ctx context.Context, tr *definitions.Trigger) error {
	if _, ok := t.st.triggers[key{tr.TenantID, tr.ID}]; ok {
		return fmt.Errorf("trigger %q: %w", tr.ID, definitions.ErrConflict)
	}
	return t.PutTrigger(ctx, tr)
}

func (t *tx) PutTrigger(_ context.Context, tr *definitions.Trigger) error {
	t.st.triggers[key{tr.TenantID, tr.ID}] = tr.Clone()
	return nil
}

func (t *tx) DeleteTrigger(_ context.Context, tenantID, triggerID string) error {
	delete(t.st.triggers, key{tenantID, triggerID})
	maps.DeleteFunc(t.st.dampenings, func(k key, d *definitions.Dampening) bool {
		return k.tenant == tenantID && d.TriggerID == triggerID
	})
	maps.DeleteFunc(t.st.conditions, func(k key, c *definitions.Condition) bool {
		return k.tenant == tenantID && c.TriggerID == triggerID
	})
	return nil
}

func (t *tx) InsertDampening(ctx context.Context, d *definitions.Dampening) error {
	if _, ok := t.st.dampenings[key{d.TenantID, d.ID()}]; ok {
		return fmt.Errorf("dampening %q: %w", d.ID(), definitions.ErrConflict)
	}
	return t.PutDampening(ctx, d)
}

func (t *tx) PutDampening(_ context.Context, d *definitions.Dampening) error {
	t.st.dampenings[key{d.TenantID, d.ID()}] = d.Clone()
	return nil
}

func (t *tx) DeleteDampening(_ context.Context, tenantID, dampeningID string) error {
	delete(t.st.dampenings, key{tenantID, dampeningID})
	return nil
}

func (t *tx) ReplaceConditions(_ context.Context, tenantID, triggerID string, mode definitions.Mode, conds []*definitions.Condition) error {
	maps.DeleteFunc(t.st.conditions, func(k key, c *definitions.Condition) bool {
		return k.tenant == tenantID && c.TriggerID == triggerID && c.TriggerMode == mode
	})
	for _, c := range conds {
		t.st.conditions[key{tenantID, c.ConditionID}] = c.Clone()
	}
	return nil
}
