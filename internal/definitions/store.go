package definitions

import "context"

// Reader is the read side of the definitions repository. Every call is
// tenant-scoped. Results are copies the caller may modify.
//
// Triggers come back ordered by id, dampenings by mode and conditions by mode
// then set index.
type Reader interface {
	GetTrigger(ctx context.Context, tenantID, triggerID string) (*Trigger, bool, error)
	GetTriggers(ctx context.Context, tenantID string, criteria TriggerCriteria) ([]*Trigger, error)
	GetMemberTriggers(ctx context.Context, tenantID, groupID string, includeOrphans bool) ([]*Trigger, error)

	GetDampening(ctx context.Context, tenantID, dampeningID string) (*Dampening, bool, error)
	// GetTriggerDampenings returns the trigger's dampenings; an empty mode
	// means both modes.
	GetTriggerDampenings(ctx context.Context, tenantID, triggerID string, mode Mode) ([]*Dampening, error)

	GetCondition(ctx context.Context, tenantID, conditionID string) (*Condition, bool, error)
	// GetTriggerConditions returns the trigger's conditions; an empty mode
	// means both modes.
	GetTriggerConditions(ctx context.Context, tenantID, triggerID string, mode Mode) ([]*Condition, error)
	GetConditions(ctx context.Context, tenantID string) ([]*Condition, error)
}

// Tx is a unit of work against the repository. Writes made through a Tx
// become visible to others only if the function passed to WithinTx returns
// nil.
type Tx interface {
	Reader

	// LockGroup serializes the caller with every other transaction that
	// locks the same (tenant, group) until the transaction ends.
	LockGroup(ctx context.Context, tenantID, groupID string) error

	// InsertTrigger writes a new trigger and fails with ErrConflict if the id
	// is taken. PutTrigger overwrites.
	InsertTrigger(ctx context.Context, t *Trigger) error
	PutTrigger(ctx context.Context, t *Trigger) error
	// DeleteTrigger removes the trigger with its dampenings and conditions.
	DeleteTrigger(ctx context.Context, tenantID, triggerID string) error

	// InsertDampening is InsertTrigger for dampenings.
	InsertDampening(ctx context.Context, d *Dampening) error
	PutDampening(ctx context.Context, d *Dampening) error
	DeleteDampening(ctx context.Context, tenantID, dampeningID string) error

	// ReplaceConditions swaps the whole condition set of (trigger, mode).
	ReplaceConditions(ctx context.Context, tenantID, triggerID string, mode Mode, conds []*Condition) error
}

// Store is the persistence interface for trigger definitions.
type Store interface {
	Reader
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
