package definitions

// PartitionConditions stamps every condition with triggerID and splits the
// set by the mode each condition already carries. Order within each output
// follows the input. The inputs are not modified.
func PartitionConditions(triggerID string, conds []*Condition) (firing, autoResolve []*Condition, err error) {
	for i, c := range conds {
		if c == nil {
			return nil, nil, invalidf("condition %d is null", i)
		}
		cp := c.Clone()
		cp.TriggerID = triggerID
		switch cp.TriggerMode {
		case ModeFiring:
			firing = append(firing, cp)
		case ModeAutoResolve:
			autoResolve = append(autoResolve, cp)
		default:
			return nil, nil, invalidf("condition %d: trigger mode %q", i, cp.TriggerMode)
		}
	}
	return firing, autoResolve, nil
}

// prepareConditionSet validates conds as the complete set for
// (triggerID, mode) and returns numbered copies ready to persist.
func prepareConditionSet(tenantID, triggerID string, mode Mode, conds []*Condition) ([]*Condition, error) {
	out := make([]*Condition, 0, len(conds))
	for i, c := range conds {
		if c == nil {
			return nil, invalidf("condition %d is null", i)
		}
		if c.TriggerMode != "" && c.TriggerMode != mode {
			return nil, invalidf("condition %d: trigger mode %q in a %s set", i, c.TriggerMode, mode)
		}
		if err := c.validate(); err != nil {
			return nil, err
		}
		cp := c.Clone()
		cp.TenantID = tenantID
		cp.TriggerID = triggerID
		cp.TriggerMode = mode
		out = append(out, cp)
	}
	renumber(out)
	return out, nil
}

// renumber assigns set size, 1-based index and derived id to every
// condition of one (trigger, mode) set.
func renumber(set []*Condition) {
	for i, c := range set {
		c.ConditionSetSize = len(set)
		c.ConditionSetIndex = i + 1
		c.ConditionID = ConditionID(c.TriggerID, c.TriggerMode, len(set), i+1)
	}
}

// memberConditions copies a group's condition set onto member, resolving
// every data id through mapping. It fails on the first data id with no entry.
func memberConditions(member *Trigger, groupConds []*Condition, mapping map[string]string) ([]*Condition, error) {
	resolve := func(dataID string) (string, error) {
		id, ok := mapping[dataID]
		if !ok {
			return "", missingMapping(member.ID, dataID)
		}
		return id, nil
	}
	out := make([]*Condition, 0, len(groupConds))
	for _, gc := range groupConds {
		expr, err := gc.Expr.remap(resolve)
		if err != nil {
			return nil, err
		}
		mc := gc.Clone()
		mc.TenantID = member.TenantID
		mc.TriggerID = member.ID
		mc.Expr = expr
		out = append(out, mc)
	}
	renumber(out)
	return out, nil
}

// MemberPlan is the computed condition set for one member of a group.
type MemberPlan struct {
	Member     *Trigger
	DataIDMap  map[string]string
	Conditions []*Condition
}

// ApplyGroupConditions computes the member-scoped copy of a group's new
// condition set for every non-orphan member. A member listed in
// dataIDMemberMap has that entry laid over its stored DataIDMap, so keys the
// entry does not name keep their stored values and the result becomes the
// member's stored mapping. The whole plan fails
// with ErrMissingDataIDMapping if any member lacks an entry for a data id the
// set references. Orphan members are left out of the plan.
func ApplyGroupConditions(groupID string, mode Mode, conds []*Condition, members []*Trigger, dataIDMemberMap DataIDMemberMap) ([]MemberPlan, error) {
	if !mode.Valid() {
		return nil, invalidf("trigger mode %q", mode)
	}
	var tenantID string
	if len(members) > 0 {
		tenantID = members[0].TenantID
	}
	groupSet, err := prepareConditionSet(tenantID, groupID, mode, conds)
	if err != nil {
		return nil, err
	}

	plans := make([]MemberPlan, 0, len(members))
	for _, m := range members {
		if m.GroupID != groupID || m.Orphan {
			continue
		}
		mapping := m.DataIDMap
		if entry, ok := dataIDMemberMap[m.ID]; ok {
			mapping = mergeContext(m.DataIDMap, entry)
		}
		mc, err := memberConditions(m, groupSet, mapping)
		if err != nil {
			return nil, err
		}
		plans = append(plans, MemberPlan{Member: m, DataIDMap: mapping, Conditions: mc})
	}
	return plans, nil
}
