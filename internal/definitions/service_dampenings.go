package definitions

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// prepareDampening re-normalizes d and binds it to (tenantID, triggerID).
func prepareDampening(tenantID, triggerID string, d *Dampening) (*Dampening, error) {
	if d == nil || d.Policy == nil {
		return nil, invalidf("dampening type is required")
	}
	spec := d.Spec()
	spec.TenantID = tenantID
	spec.TriggerID = triggerID
	nd, err := NormalizeDampening(spec)
	if err != nil {
		return nil, err
	}
	return &nd, nil
}

// prepareDampenings prepares a trigger's dampening set. At most one
// dampening per mode is allowed.
func prepareDampenings(tenantID, triggerID string, in []*Dampening) ([]*Dampening, error) {
	seen := make(map[Mode]bool, len(Modes))
	out := make([]*Dampening, 0, len(in))
	for _, d := range in {
		nd, err := prepareDampening(tenantID, triggerID, d)
		if err != nil {
			return nil, err
		}
		if seen[nd.TriggerMode] {
			return nil, conflictf("dampening %q", nd.ID())
		}
		seen[nd.TriggerMode] = true
		out = append(out, nd)
	}
	return out, nil
}

// triggerDampening loads dampeningID and checks it belongs to triggerID.
func triggerDampening(ctx context.Context, r Reader, tenantID, triggerID, dampeningID string) (*Dampening, error) {
	d, ok, err := r.GetDampening(ctx, tenantID, dampeningID)
	if err != nil {
		return nil, err
	}
	if !ok || d.TriggerID != triggerID {
		return nil, notFoundf("dampening %q on trigger %q", dampeningID, triggerID)
	}
	return d, nil
}

// updatedDampening builds the replacement for existing from an update body.
// A blank mode keeps the existing one; the mode of a dampening is part of its
// identity and cannot change.
func updatedDampening(existing *Dampening, in DampeningSpec) (*Dampening, error) {
	if in.TriggerMode == "" {
		in.TriggerMode = existing.TriggerMode
	}
	if in.TriggerMode != existing.TriggerMode {
		return nil, invalidf("dampening %q: trigger mode cannot change to %q", existing.ID(), in.TriggerMode)
	}
	in.TenantID = existing.TenantID
	in.TriggerID = existing.TriggerID
	d, err := NormalizeDampening(in)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDampening returns one dampening by id.
func (s *Service) GetDampening(ctx context.Context, tenantID, dampeningID string) (d *Dampening, err error) {
	ctx, op := s.begin(ctx, "GetDampening", tenantID, attribute.String("beacon.dampening.id", dampeningID))
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	d, ok, err := s.store.GetDampening(ctx, tenantID, dampeningID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFoundf("dampening %q", dampeningID)
	}
	return d, nil
}

// GetTriggerDampenings returns a trigger's dampenings. An empty mode returns
// both modes.
func (s *Service) GetTriggerDampenings(ctx context.Context, tenantID, triggerID string, mode Mode) (ds []*Dampening, err error) {
	ctx, op := s.begin(ctx, "GetTriggerDampenings", tenantID, attribute.String("beacon.trigger.id", triggerID))
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
	return s.store.GetTriggerDampenings(ctx, tenantID, triggerID, mode)
}

// CreateDampening adds the dampening for one mode of a standalone trigger or
// an orphan member.
func (s *Service) CreateDampening(ctx context.Context, tenantID, triggerID string, in *Dampening) (out *Dampening, err error) {
	ctx, op := s.begin(ctx, "CreateDampening", tenantID, attribute.String("beacon.trigger.id", triggerID))
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	d, err := prepareDampening(tenantID, triggerID, in)
	if err != nil {
		return nil, err
	}
	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := loadDirect(ctx, tx, tenantID, triggerID); err != nil {
			return err
		}
		return tx.InsertDampening(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

// UpdateDampening replaces an existing dampening of a standalone trigger or
// an orphan member. in may leave the mode blank.
func (s *Service) UpdateDampening(ctx context.Context, tenantID, triggerID, dampeningID string, in DampeningSpec) (out *Dampening, err error) {
	ctx, op := s.begin(ctx, "UpdateDampening", tenantID,
		attribute.String("beacon.trigger.id", triggerID),
		attribute.String("beacon.dampening.id", dampeningID),
	)
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := loadDirect(ctx, tx, tenantID, triggerID); err != nil {
			return err
		}
		existing, err := triggerDampening(ctx, tx, tenantID, triggerID, dampeningID)
		if err != nil {
			return err
		}
		d, err := updatedDampening(existing, in)
		if err != nil {
			return err
		}
		out = d
		return tx.PutDampening(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

// RemoveDampening deletes a dampening of a standalone trigger or an orphan
// member.
func (s *Service) RemoveDampening(ctx context.Context, tenantID, triggerID, dampeningID string) (err error) {
	ctx, op := s.begin(ctx, "RemoveDampening", tenantID,
		attribute.String("beacon.trigger.id", triggerID),
		attribute.String("beacon.dampening.id", dampeningID),
	)
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return err
	}
	return s.tx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := loadDirect(ctx, tx, tenantID, triggerID); err != nil {
			return err
		}
		if _, err := triggerDampening(ctx, tx, tenantID, triggerID, dampeningID); err != nil {
			return err
		}
		return tx.DeleteDampening(ctx, tenantID, dampeningID)
	})
}

// putGroupDampening writes d on the group and a copy on every active member,
// overwriting any dampening the member has for that mode.
func putGroupDampening(ctx context.Context, tx Tx, group *Trigger, d *Dampening) (int, error) {
	if err := tx.PutDampening(ctx, d); err != nil {
		return 0, err
	}
	return propagateDampening(ctx, tx, group, d)
}

// propagateDampening writes a copy of the group dampening d on every active
// member.
func propagateDampening(ctx context.Context, tx Tx, group *Trigger, d *Dampening) (int, error) {
	members, err := tx.GetMemberTriggers(ctx, group.TenantID, group.ID, false)
	if err != nil {
		return 0, err
	}
	for _, m := range members {
		if err := tx.PutDampening(ctx, d.forTrigger(m.ID)); err != nil {
			return 0, err
		}
	}
	return len(members), nil
}

// CreateGroupDampening adds a dampening to a group template and every active
// member.
func (s *Service) CreateGroupDampening(ctx context.Context, tenantID, groupID string, in *Dampening) (out *Dampening, err error) {
	ctx, op := s.begin(ctx, "CreateGroupDampening", tenantID, attribute.String("beacon.group.id", groupID))
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	d, err := prepareDampening(tenantID, groupID, in)
	if err != nil {
		return nil, err
	}
	var touched int
	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockGroup(ctx, tenantID, groupID); err != nil {
			return err
		}
		group, err := loadGroup(ctx, tx, tenantID, groupID)
		if err != nil {
			return err
		}
		if err := tx.InsertDampening(ctx, d); err != nil {
			return err
		}
		touched, err = propagateDampening(ctx, tx, group, d)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.propagated("CreateGroupDampening", touched)
	s.logger.Info(ctx, "group dampening created", "tenant", tenantID, "group_id", groupID, "dampening_id", d.ID(), "members", touched)
	return d.Clone(), nil
}

// UpdateGroupDampening replaces a group template dampening and pushes it to
// every active member. in may leave the mode blank.
func (s *Service) UpdateGroupDampening(ctx context.Context, tenantID, groupID, dampeningID string, in DampeningSpec) (out *Dampening, err error) {
	ctx, op := s.begin(ctx, "UpdateGroupDampening", tenantID,
		attribute.String("beacon.group.id", groupID),
		attribute.String("beacon.dampening.id", dampeningID),
	)
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	var touched int
	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockGroup(ctx, tenantID, groupID); err != nil {
			return err
		}
		group, err := loadGroup(ctx, tx, tenantID, groupID)
		if err != nil {
			return err
		}
		existing, err := triggerDampening(ctx, tx, tenantID, groupID, dampeningID)
		if err != nil {
			return err
		}
		d, err := updatedDampening(existing, in)
		if err != nil {
			return err
		}
		touched, err = putGroupDampening(ctx, tx, group, d)
		out = d
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.propagated("UpdateGroupDampening", touched)
	return out.Clone(), nil
}

// RemoveGroupDampening deletes a group template dampening and the matching
// dampening of every active member.
func (s *Service) RemoveGroupDampening(ctx context.Context, tenantID, groupID, dampeningID string) (err error) {
	ctx, op := s.begin(ctx, "RemoveGroupDampening", tenantID,
		attribute.String("beacon.group.id", groupID),
		attribute.String("beacon.dampening.id", dampeningID),
	)
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return err
	}
	var touched int
	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockGroup(ctx, tenantID, groupID); err != nil {
			return err
		}
		if _, err := loadGroup(ctx, tx, tenantID, groupID); err != nil {
			return err
		}
		existing, err := triggerDampening(ctx, tx, tenantID, groupID, dampeningID)
		if err != nil {
			return err
		}
		if err := tx.DeleteDampening(ctx, tenantID, dampeningID); err != nil {
			return err
		}
		members, err := tx.GetMemberTriggers(ctx, tenantID, groupID, false)
		if err != nil {
			return err
		}
		for _, m := range members {
			if err := tx.DeleteDampening(ctx, tenantID, DampeningID(m.ID, existing.TriggerMode)); err != nil {
				return err
			}
		}
		touched = len(members)
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.propagated("RemoveGroupDampening", touched)
	return nil
}
