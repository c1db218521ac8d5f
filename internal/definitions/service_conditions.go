package definitions

import (
	"context"
	"maps"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// GetTriggerConditions returns a trigger's conditions. An empty mode returns
// both modes.
func (s *Service) GetTriggerConditions(ctx context.Context, tenantID, triggerID string, mode Mode) (cs []*Condition, err error) {
	ctx, op := s.begin(ctx, "GetTriggerConditions", tenantID, attribute.String("beacon.trigger.id", triggerID))
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if mode != "" && !mode.Valid() {
		return nil, invalidf("trigger mode %q", mode)
	}
	if _, err := loadTrigger(ctx, s.store, tenantID, triggerID); err != nil {
		return nil, err
	}
	return s.store.GetTriggerConditions(ctx, tenantID, triggerID, mode)
}

// GetCondition returns one condition of a trigger.
func (s *Service) GetCondition(ctx context.Context, tenantID, triggerID, conditionID string) (c *Condition, err error) {
	ctx, op := s.begin(ctx, "GetCondition", tenantID,
		attribute.String("beacon.trigger.id", triggerID),
		attribute.String("beacon.condition.id", conditionID),
	)
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	return triggerCondition(ctx, s.store, tenantID, triggerID, conditionID)
}

func triggerCondition(ctx context.Context, r Reader, tenantID, triggerID, conditionID string) (*Condition, error) {
	c, ok, err := r.GetCondition(ctx, tenantID, conditionID)
	if err != nil {
		return nil, err
	}
	if !ok || c.TriggerID != triggerID {
		return nil, notFoundf("condition %q on trigger %q", conditionID, triggerID)
	}
	return c, nil
}

// ListConditions returns every condition of the tenant, optionally only those
// of one kind.
func (s *Service) ListConditions(ctx context.Context, tenantID string, kind ConditionKind) (cs []*Condition, err error) {
	ctx, op := s.begin(ctx, "ListConditions", tenantID, attribute.String("beacon.condition.kind", string(kind)))
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	kind = ConditionKind(strings.ToUpper(string(kind)))
	if kind != "" {
		if _, ok := newExpr(kind); !ok {
			return nil, invalidf("condition type %q", kind)
		}
	}
	all, err := s.store.GetConditions(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		return all, nil
	}
	return slices.DeleteFunc(all, func(c *Condition) bool { return c.Kind() != kind }), nil
}

// replaceDirect validates and writes the full condition set of one mode of
// t, which the caller obtained through loadDirect.
func replaceDirect(ctx context.Context, tx Tx, t *Trigger, mode Mode, conds []*Condition) ([]*Condition, error) {
	set, err := prepareConditionSet(t.TenantID, t.ID, mode, conds)
	if err != nil {
		return nil, err
	}
	if err := tx.ReplaceConditions(ctx, t.TenantID, t.ID, mode, set); err != nil {
		return nil, err
	}
	return set, nil
}

// SetConditions atomically replaces the conditions of one mode of a
// standalone trigger or an orphan member.
func (s *Service) SetConditions(ctx context.Context, tenantID, triggerID string, mode Mode, conds []*Condition) (out []*Condition, err error) {
	ctx, op := s.begin(ctx, "SetConditions", tenantID,
		attribute.String("beacon.trigger.id", triggerID),
		attribute.String("beacon.trigger.mode", string(mode)),
	)
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if !mode.Valid() {
		return nil, invalidf("trigger mode %q", mode)
	}
	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := loadDirect(ctx, tx, tenantID, triggerID)
		if err != nil {
			return err
		}
		out, err = replaceDirect(ctx, tx, t, mode, conds)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetAllConditions replaces both condition sets of a trigger from one mixed
// list, each condition going to the mode it carries.
func (s *Service) SetAllConditions(ctx context.Context, tenantID, triggerID string, conds []*Condition) (out []*Condition, err error) {
	ctx, op := s.begin(ctx, "SetAllConditions", tenantID, attribute.String("beacon.trigger.id", triggerID))
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	firing, autoResolve, err := PartitionConditions(triggerID, conds)
	if err != nil {
		return nil, err
	}
	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := loadDirect(ctx, tx, tenantID, triggerID)
		if err != nil {
			return err
		}
		f, err := replaceDirect(ctx, tx, t, ModeFiring, firing)
		if err != nil {
			return err
		}
		a, err := replaceDirect(ctx, tx, t, ModeAutoResolve, autoResolve)
		if err != nil {
			return err
		}
		out = append(f, a...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// setGroupConditions writes the group's new set for mode and the mapped copy
// on every active member. It returns the group set and the number of members
// rewritten.
func setGroupConditions(ctx context.Context, tx Tx, tenantID, groupID string, mode Mode, conds []*Condition, dataIDMemberMap DataIDMemberMap) ([]*Condition, int, error) {
	set, err := prepareConditionSet(tenantID, groupID, mode, conds)
	if err != nil {
		return nil, 0, err
	}
	members, err := tx.GetMemberTriggers(ctx, tenantID, groupID, false)
	if err != nil {
		return nil, 0, err
	}
	plans, err := ApplyGroupConditions(groupID, mode, set, members, dataIDMemberMap)
	if err != nil {
		return nil, 0, err
	}

	if err := tx.ReplaceConditions(ctx, tenantID, groupID, mode, set); err != nil {
		return nil, 0, err
	}
	for _, p := range plans {
		if !maps.Equal(p.Member.DataIDMap, p.DataIDMap) {
			m := p.Member.Clone()
			m.DataIDMap = maps.Clone(p.DataIDMap)
			if err := tx.PutTrigger(ctx, m); err != nil {
				return nil, 0, err
			}
		}
		if err := tx.ReplaceConditions(ctx, tenantID, p.Member.ID, mode, p.Conditions); err != nil {
			return nil, 0, err
		}
	}
	return set, len(plans), nil
}

// SetGroupConditions replaces the group's condition set for mode and
// propagates it to every active member, resolving data ids per member. Either
// every member is rewritten or nothing changes.
func (s *Service) SetGroupConditions(ctx context.Context, tenantID, groupID string, mode Mode, conds []*Condition, dataIDMemberMap DataIDMemberMap) (out []*Condition, err error) {
	ctx, op := s.begin(ctx, "SetGroupConditions", tenantID,
		attribute.String("beacon.group.id", groupID),
		attribute.String("beacon.trigger.mode", string(mode)),
	)
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if !mode.Valid() {
		return nil, invalidf("trigger mode %q", mode)
	}
	var touched int
	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockGroup(ctx, tenantID, groupID); err != nil {
			return err
		}
		if _, err := loadGroup(ctx, tx, tenantID, groupID); err != nil {
			return err
		}
		out, touched, err = setGroupConditions(ctx, tx, tenantID, groupID, mode, conds, dataIDMemberMap)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.propagated("SetGroupConditions", touched)
	s.logger.Info(ctx, "group conditions set",
		"tenant", tenantID,
		"group_id", groupID,
		"mode", mode,
		"conditions", len(out),
		"members", touched,
	)
	return out, nil
}

// SetAllGroupConditions is SetGroupConditions for both modes at once, from
// one mixed list.
func (s *Service) SetAllGroupConditions(ctx context.Context, tenantID, groupID string, conds []*Condition, dataIDMemberMap DataIDMemberMap) (out []*Condition, err error) {
	ctx, op := s.begin(ctx, "SetAllGroupConditions", tenantID, attribute.String("beacon.group.id", groupID))
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	firing, autoResolve, err := PartitionConditions(groupID, conds)
	if err != nil {
		return nil, err
	}
	var touched int
	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockGroup(ctx, tenantID, groupID); err != nil {
			return err
		}
		if _, err := loadGroup(ctx, tx, tenantID, groupID); err != nil {
			return err
		}
		sets := map[Mode][]*Condition{ModeFiring: firing, ModeAutoResolve: autoResolve}
		for _, mode := range Modes {
			written, n, err := setGroupConditions(ctx, tx, tenantID, groupID, mode, sets[mode], dataIDMemberMap)
			if err != nil {
				return err
			}
			out = append(out, written...)
			touched = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.propagated("SetAllGroupConditions", touched)
	return out, nil
}

// AddCondition appends c to the set of its mode on a standalone trigger or
// an orphan member and renumbers the set.
//
// Deprecated: use SetConditions.
func (s *Service) AddCondition(ctx context.Context, tenantID, triggerID string, c *Condition) (out []*Condition, err error) {
	ctx, op := s.begin(ctx, "AddCondition", tenantID, attribute.String("beacon.trigger.id", triggerID))
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, invalidf("condition is required")
	}
	if !c.TriggerMode.Valid() {
		return nil, invalidf("trigger mode %q", c.TriggerMode)
	}
	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := loadDirect(ctx, tx, tenantID, triggerID)
		if err != nil {
			return err
		}
		current, err := tx.GetTriggerConditions(ctx, tenantID, triggerID, c.TriggerMode)
		if err != nil {
			return err
		}
		out, err = replaceDirect(ctx, tx, t, c.TriggerMode, append(current, c))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateCondition replaces one condition in place and renumbers its set.
//
// Deprecated: use SetConditions.
func (s *Service) UpdateCondition(ctx context.Context, tenantID, triggerID, conditionID string, c *Condition) (out []*Condition, err error) {
	ctx, op := s.begin(ctx, "UpdateCondition", tenantID,
		attribute.String("beacon.trigger.id", triggerID),
		attribute.String("beacon.condition.id", conditionID),
	)
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, invalidf("condition is required")
	}
	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := loadDirect(ctx, tx, tenantID, triggerID)
		if err != nil {
			return err
		}
		existing, err := triggerCondition(ctx, tx, tenantID, triggerID, conditionID)
		if err != nil {
			return err
		}
		mode := existing.TriggerMode
		if c.TriggerMode != "" && c.TriggerMode != mode {
			return invalidf("condition %q: trigger mode cannot change to %q", conditionID, c.TriggerMode)
		}
		current, err := tx.GetTriggerConditions(ctx, tenantID, triggerID, mode)
		if err != nil {
			return err
		}
		for i, cur := range current {
			if cur.ConditionID == conditionID {
				upd := c.Clone()
				upd.TriggerMode = mode
				current[i] = upd
			}
		}
		out, err = replaceDirect(ctx, tx, t, mode, current)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveCondition deletes one condition and renumbers its set.
//
// Deprecated: use SetConditions.
func (s *Service) RemoveCondition(ctx context.Context, tenantID, triggerID, conditionID string) (out []*Condition, err error) {
	ctx, op := s.begin(ctx, "RemoveCondition", tenantID,
		attribute.String("beacon.trigger.id", triggerID),
		attribute.String("beacon.condition.id", conditionID),
	)
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := loadDirect(ctx, tx, tenantID, triggerID)
		if err != nil {
			return err
		}
		existing, err := triggerCondition(ctx, tx, tenantID, triggerID, conditionID)
		if err != nil {
			return err
		}
		current, err := tx.GetTriggerConditions(ctx, tenantID, triggerID, existing.TriggerMode)
		if err != nil {
			return err
		}
		current = slices.DeleteFunc(current, func(c *Condition) bool { return c.ConditionID == conditionID })
		out, err = replaceDirect(ctx, tx, t, existing.TriggerMode, current)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
