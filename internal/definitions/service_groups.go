package definitions

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// CreateGroupTrigger creates a group root. Its dampenings and conditions are
// the template cloned onto every member.
func (s *Service) CreateGroupTrigger(ctx context.Context, tenantID string, in *Trigger) (out *Trigger, err error) {
	ctx, op := s.begin(ctx, "CreateGroupTrigger", tenantID)
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	t, err := s.newTrigger(tenantID, in, true)
	if err != nil {
		return nil, err
	}
	op.span.SetAttributes(attribute.String("beacon.group.id", t.ID))

	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertTrigger(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "group trigger created", "tenant", tenantID, "group_id", t.ID)
	return t.Clone(), nil
}

// FindGroupMembers lists a group's members, optionally with orphans.
func (s *Service) FindGroupMembers(ctx context.Context, tenantID, groupID string, includeOrphans bool) (ms []*Trigger, err error) {
	ctx, op := s.begin(ctx, "FindGroupMembers", tenantID, attribute.String("beacon.group.id", groupID))
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if _, err := loadGroup(ctx, s.store, tenantID, groupID); err != nil {
		return nil, err
	}
	return s.store.GetMemberTriggers(ctx, tenantID, groupID, includeOrphans)
}

// syncMember overwrites member's conditions for both modes and its
// dampenings with the group's current template, resolving data ids through
// member.DataIDMap.
func syncMember(ctx context.Context, tx Tx, group, member *Trigger) error {
	for _, mode := range Modes {
		groupConds, err := tx.GetTriggerConditions(ctx, group.TenantID, group.ID, mode)
		if err != nil {
			return err
		}
		conds, err := memberConditions(member, groupConds, member.DataIDMap)
		if err != nil {
			return err
		}
		if err := tx.ReplaceConditions(ctx, member.TenantID, member.ID, mode, conds); err != nil {
			return err
		}
	}

	current, err := tx.GetTriggerDampenings(ctx, member.TenantID, member.ID, "")
	if err != nil {
		return err
	}
	for _, d := range current {
		if err := tx.DeleteDampening(ctx, member.TenantID, d.ID()); err != nil {
			return err
		}
	}
	groupDamps, err := tx.GetTriggerDampenings(ctx, group.TenantID, group.ID, "")
	if err != nil {
		return err
	}
	for _, d := range groupDamps {
		if err := tx.PutDampening(ctx, d.forTrigger(member.ID)); err != nil {
			return err
		}
	}
	return nil
}

// AddMemberTrigger creates an active member of a group, cloning the group's
// current conditions and dampenings. Every data id the group's conditions
// reference must be covered by spec.DataIDMap.
func (s *Service) AddMemberTrigger(ctx context.Context, tenantID string, spec MemberSpec) (out *Trigger, err error) {
	ctx, op := s.begin(ctx, "AddMemberTrigger", tenantID, attribute.String("beacon.group.id", spec.GroupID))
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if err := requireID("group id", spec.GroupID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec.MemberName) == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMemberName, ErrInvalidArgument)
	}
	id := spec.MemberID
	if id == "" {
		id = memberID(tenantID, spec.GroupID, spec.MemberName)
	}
	op.span.SetAttributes(attribute.String("beacon.trigger.id", id))

	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockGroup(ctx, tenantID, spec.GroupID); err != nil {
			return err
		}
		group, err := loadGroup(ctx, tx, tenantID, spec.GroupID)
		if err != nil {
			return err
		}
		m := &Trigger{
			TenantID:   tenantID,
			ID:         id,
			Name:       spec.MemberName,
			GroupID:    group.ID,
			MemberName: spec.MemberName,
			Context:    mergeContext(group.Context, spec.Context),
			DataIDMap:  maps.Clone(spec.DataIDMap),
		}
		m.inheritFrom(group)
		if spec.Description != "" {
			m.Description = spec.Description
		}
		if err := tx.InsertTrigger(ctx, m); err != nil {
			return err
		}
		if err := syncMember(ctx, tx, group, m); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "member trigger added", "tenant", tenantID, "group_id", spec.GroupID, "trigger_id", id)
	return out.Clone(), nil
}

// UpdateGroupTrigger updates a group root and pushes its template fields to
// every active member. Member names, context and mappings are kept.
func (s *Service) UpdateGroupTrigger(ctx context.Context, tenantID string, in *Trigger) (out *Trigger, err error) {
	ctx, op := s.begin(ctx, "UpdateGroupTrigger", tenantID)
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if in == nil {
		return nil, invalidf("trigger is required")
	}
	if err := requireID("group id", in.ID); err != nil {
		return nil, err
	}
	op.span.SetAttributes(attribute.String("beacon.group.id", in.ID))

	var touched int
	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockGroup(ctx, tenantID, in.ID); err != nil {
			return err
		}
		group, err := loadGroup(ctx, tx, tenantID, in.ID)
		if err != nil {
			return err
		}
		g := group.Clone()
		g.Name = in.Name
		g.Description = in.Description
		g.Enabled = in.Enabled
		g.Severity = in.Severity
		g.FiringMatch = in.FiringMatch
		g.AutoResolveMatch = in.AutoResolveMatch
		g.AutoResolve = in.AutoResolve
		g.AutoDisable = in.AutoDisable
		g.Context = maps.Clone(in.Context)
		g.Tags = maps.Clone(in.Tags)
		g.applyDefaults()
		if err := g.validate(); err != nil {
			return err
		}
		if err := tx.PutTrigger(ctx, g); err != nil {
			return err
		}

		members, err := tx.GetMemberTriggers(ctx, tenantID, g.ID, false)
		if err != nil {
			return err
		}
		for _, m := range members {
			m.inheritFrom(g)
			if err := tx.PutTrigger(ctx, m); err != nil {
				return err
			}
		}
		touched = len(members)
		out = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.propagated("UpdateGroupTrigger", touched)
	s.logger.Info(ctx, "group trigger updated", "tenant", tenantID, "group_id", in.ID, "members", touched)
	return out.Clone(), nil
}

// lockMember loads memberID, takes its group lock and reloads it so the
// returned state is current under the lock.
func lockMember(ctx context.Context, tx Tx, tenantID, memberID string) (*Trigger, error) {
	m, err := loadTrigger(ctx, tx, tenantID, memberID)
	if err != nil {
		return nil, err
	}
	if m.GroupID == "" {
		return nil, notFoundf("member trigger %q", memberID)
	}
	if err := tx.LockGroup(ctx, tenantID, m.GroupID); err != nil {
		return nil, err
	}
	return loadTrigger(ctx, tx, tenantID, memberID)
}

// OrphanMemberTrigger freezes an active member: later group changes no longer
// reach it until it is unorphaned.
func (s *Service) OrphanMemberTrigger(ctx context.Context, tenantID, memberID string) (out *Trigger, err error) {
	ctx, op := s.begin(ctx, "OrphanMemberTrigger", tenantID, attribute.String("beacon.trigger.id", memberID))
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		m, err := lockMember(ctx, tx, tenantID, memberID)
		if err != nil {
			return err
		}
		if m.State() != StateMemberActive {
			return notFoundf("active member trigger %q", memberID)
		}
		m.Orphan = true
		out = m
		return tx.PutTrigger(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "member trigger orphaned", "tenant", tenantID, "trigger_id", memberID, "group_id", out.GroupID)
	return out.Clone(), nil
}

// UnorphanMemberTrigger re-attaches an orphan member and re-synchronizes its
// conditions and dampenings with the group's current template using the new
// mapping. A nil spec.DataIDMap keeps the member's stored mapping.
func (s *Service) UnorphanMemberTrigger(ctx context.Context, tenantID, memberID string, spec UnorphanSpec) (out *Trigger, err error) {
	ctx, op := s.begin(ctx, "UnorphanMemberTrigger", tenantID, attribute.String("beacon.trigger.id", memberID))
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		m, err := lockMember(ctx, tx, tenantID, memberID)
		if err != nil {
			return err
		}
		if m.State() != StateMemberOrphan {
			return notFoundf("orphan member trigger %q", memberID)
		}
		group, err := loadGroup(ctx, tx, tenantID, m.GroupID)
		if err != nil {
			return err
		}
		m.Orphan = false
		m.Context = mergeContext(group.Context, spec.Context)
		if spec.DataIDMap != nil {
			m.DataIDMap = maps.Clone(spec.DataIDMap)
		}
		m.inheritFrom(group)
		if err := tx.PutTrigger(ctx, m); err != nil {
			return err
		}
		if err := syncMember(ctx, tx, group, m); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "member trigger unorphaned", "tenant", tenantID, "trigger_id", memberID, "group_id", out.GroupID)
	return out.Clone(), nil
}

// RemoveGroupTrigger deletes a group root. Active members are detached as
// standalone triggers if keepNonOrphans is set and deleted otherwise; orphan
// members likewise follow keepOrphans.
func (s *Service) RemoveGroupTrigger(ctx context.Context, tenantID, groupID string, keepNonOrphans, keepOrphans bool) (err error) {
	ctx, op := s.begin(ctx, "RemoveGroupTrigger", tenantID,
		attribute.String("beacon.group.id", groupID),
		attribute.Bool("beacon.keep_non_orphans", keepNonOrphans),
		attribute.Bool("beacon.keep_orphans", keepOrphans),
	)
	defer op.end(&err)

	if err := requireTenant(tenantID); err != nil {
		return err
	}
	var kept, removed int
	err = s.tx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockGroup(ctx, tenantID, groupID); err != nil {
			return err
		}
		if _, err := loadGroup(ctx, tx, tenantID, groupID); err != nil {
			return err
		}
		members, err := tx.GetMemberTriggers(ctx, tenantID, groupID, true)
		if err != nil {
			return err
		}
		for _, m := range members {
			keep := keepNonOrphans
			if m.Orphan {
				keep = keepOrphans
			}
			if !keep {
				if err := tx.DeleteTrigger(ctx, tenantID, m.ID); err != nil {
					return err
				}
				removed++
				continue
			}
			m.GroupID = ""
			m.MemberName = ""
			m.DataIDMap = nil
			m.Orphan = false
			if err := tx.PutTrigger(ctx, m); err != nil {
				return err
			}
			kept++
		}
		return tx.DeleteTrigger(ctx, tenantID, groupID)
	})
	if err != nil {
		return err
	}
	s.metrics.propagated("RemoveGroupTrigger", kept+removed)
	s.logger.Info(ctx, "group trigger removed",
		"tenant", tenantID,
		"group_id", groupID,
		"members_kept", kept,
		"members_removed", removed,
	)
	return nil
}
