package definitions

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// GetTrigger returns one trigger.
func (s *Service) GetTrigger(ctx context.Context, tenantID, triggerID string) (t *Trigger, err error) {
	ctx, op := s.begin(ctx, "GetTrigger", tenantID, attribute.String("beacon.trigger.id", triggerID))
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	return loadTrigger(ctx, s.store, tenantID, triggerID)
}

// FindTriggers returns the tenant's triggers matching criteria.
func (s *Service) FindTriggers(ctx context.Context, tenantID string, criteria TriggerCriteria) (ts []*Trigger, err error) {
	ctx, op := s.begin(ctx, "FindTriggers", tenantID)
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	return s.store.GetTriggers(ctx, tenantID, criteria)
}

// GetFullTrigger returns a trigger with all of its dampenings and conditions.
func (s *Service) GetFullTrigger(ctx context.Context, tenantID, triggerID string) (ft *FullTrigger, err error) {
	ctx, op := s.begin(ctx, "GetFullTrigger", tenantID, attribute.String("beacon.trigger.id", triggerID))
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	t, err := loadTrigger(ctx, s.store, tenantID, triggerID)
	if err != nil {
		return nil, err
	}
	damps, err := s.store.GetTriggerDampenings(ctx, tenantID, triggerID, "")
	if err != nil {
		return nil, err
	}
	conds, err := s.store.GetTriggerConditions(ctx, tenantID, triggerID, "")
	if err != nil {
		return nil, err
	}
	return &FullTrigger{Trigger: t, Dampenings: damps, Conditions: conds}, nil
}

// newTrigger prepares a caller-supplied trigger for creation as a standalone
// trigger or, if group is set, a group root.
func (s *Service) newTrigger(tenantID string, in *Trigger, group bool) (*Trigger, error) {
	if in == nil {
		return nil, invalidf("trigger is required")
	}
	t := in.Clone()
	t.TenantID = tenantID
	if t.ID == "" {
		t.ID = s.newID()
	}
	t.Group = group
	t.GroupID = ""
	t.MemberName = ""
	t.DataIDMap = nil
	t.Orphan = false
	t.applyDefaults()
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// CreateTrigger creates a standalone trigger. A blank id is generated.
func (s *Service) CreateTrigger(ctx context.Context, tenantID string, in *Trigger) (out *Trigger, err error) {
	ctx, op := s.begin(ctx, "CreateTrigger", tenantID)
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	t, err := s.newTrigger(tenantID, in, false)
	if err != nil {
		return nil, err
	}
	op.span.SetAttributes(attribute.String("beacon.trigger.id", t.ID))

	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertTrigger(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "trigger created", "tenant", tenantID, "trigger_id", t.ID)
	return t.Clone(), nil
}

// CreateFullTrigger creates a trigger together with its dampenings and
// conditions in one unit. If ft.Trigger.Group is set the trigger becomes a
// group root and the definitions form its template.
func (s *Service) CreateFullTrigger(ctx context.Context, tenantID string, ft *FullTrigger) (out *FullTrigger, err error) {
	ctx, op := s.begin(ctx, "CreateFullTrigger", tenantID)
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if ft == nil || ft.Trigger == nil {
		return nil, invalidf("trigger is required")
	}
	t, err := s.newTrigger(tenantID, ft.Trigger, ft.Trigger.Group)
	if err != nil {
		return nil, err
	}
	op.span.SetAttributes(attribute.String("beacon.trigger.id", t.ID))

	damps, err := prepareDampenings(tenantID, t.ID, ft.Dampenings)
	if err != nil {
		return nil, err
	}
	firing, autoResolve, err := PartitionConditions(t.ID, ft.Conditions)
	if err != nil {
		return nil, err
	}
	sets := map[Mode][]*Condition{}
	for mode, conds := range map[Mode][]*Condition{ModeFiring: firing, ModeAutoResolve: autoResolve} {
		set, err := prepareConditionSet(tenantID, t.ID, mode, conds)
		if err != nil {
			return nil, err
		}
		sets[mode] = set
	}

	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertTrigger(ctx, t); err != nil {
			return err
		}
		for _, d := range damps {
			if err := tx.InsertDampening(ctx, d); err != nil {
				return err
			}
		}
		for _, mode := range Modes {
			if err := tx.ReplaceConditions(ctx, tenantID, t.ID, mode, sets[mode]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "full trigger created",
		"tenant", tenantID,
		"trigger_id", t.ID,
		"group", t.Group,
		"dampenings", len(damps),
		"conditions", len(sets[ModeFiring])+len(sets[ModeAutoResolve]),
	)
	return &FullTrigger{
		Trigger:    t.Clone(),
		Dampenings: damps,
		Conditions: append(sets[ModeFiring], sets[ModeAutoResolve]...),
	}, nil
}

// UpdateTrigger replaces the mutable fields of a standalone trigger or an
// orphan member. Group membership fields are never changed here.
func (s *Service) UpdateTrigger(ctx context.Context, tenantID string, in *Trigger) (out *Trigger, err error) {
	ctx, op := s.begin(ctx, "UpdateTrigger", tenantID)
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if in == nil {
		return nil, invalidf("trigger is required")
	}
	if err := requireID("trigger id", in.ID); err != nil {
		return nil, err
	}
	op.span.SetAttributes(attribute.String("beacon.trigger.id", in.ID))

	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		existing, err := loadDirect(ctx, tx, tenantID, in.ID)
		if err != nil {
			return err
		}
		t := in.Clone()
		t.TenantID = tenantID
		t.Group = existing.Group
		t.GroupID = existing.GroupID
		t.MemberName = existing.MemberName
		t.DataIDMap = existing.DataIDMap
		t.Orphan = existing.Orphan
		t.applyDefaults()
		if err := t.validate(); err != nil {
			return err
		}
		out = t
		return tx.PutTrigger(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

// RemoveTrigger deletes a trigger with its dampenings and conditions. Group
// roots must be removed with RemoveGroupTrigger.
func (s *Service) RemoveTrigger(ctx context.Context, tenantID, triggerID string) (err error) {
	ctx, op := s.begin(ctx, "RemoveTrigger", tenantID, attribute.String("beacon.trigger.id", triggerID))
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return err
	}
	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := loadTrigger(ctx, tx, tenantID, triggerID)
		if err != nil {
			return err
		}
		if t.Group {
			return invalidf("trigger %q is a group trigger, use the group operation", triggerID)
		}
		if t.GroupID != "" {
			if err := tx.LockGroup(ctx, tenantID, t.GroupID); err != nil {
				return err
			}
		}
		return tx.DeleteTrigger(ctx, tenantID, triggerID)
	})
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "trigger removed", "tenant", tenantID, "trigger_id", triggerID)
	return nil
}
