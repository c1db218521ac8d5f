package definitions

import (
	"maps"
	"strings"
)

// Mode selects which of a trigger's two independent evaluation paths a
// condition or dampening belongs to.
type Mode string

const (
	// ModeFiring is the alert activation path.
	ModeFiring Mode = "FIRING"

	// ModeAutoResolve is the alert clearing path.
	ModeAutoResolve Mode = "AUTORESOLVE"
)

// Modes lists every trigger mode in evaluation order.
var Modes = []Mode{ModeFiring, ModeAutoResolve}

// ParseMode parses a trigger mode token, case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", invalidf("trigger mode %q", s)
	}
	return m, nil
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeFiring || m == ModeAutoResolve
}

// Severity of the alerts a trigger raises.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Match controls whether ALL or ANY conditions of a mode must hold.
type Match string

const (
	MatchAll Match = "ALL"
	MatchAny Match = "ANY"
)

// State is a trigger's position in the group hierarchy.
type State string

const (
	StateStandalone   State = "STANDALONE"
	StateGroupRoot    State = "GROUP_ROOT"
	StateMemberActive State = "MEMBER_ACTIVE"
	StateMemberOrphan State = "MEMBER_ORPHAN"
)

// Trigger is a trigger definition. A trigger with a GroupID is a member of
// that group; a trigger with Group set is a group root acting as template.
type Trigger struct {
	TenantID         string            `json:"tenantId"`
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	Enabled          bool              `json:"enabled"`
	Severity         Severity          `json:"severity,omitempty"`
	FiringMatch      Match             `json:"firingMatch,omitempty"`
	AutoResolveMatch Match             `json:"autoResolveMatch,omitempty"`
	AutoResolve      bool              `json:"autoResolve"`
	AutoDisable      bool              `json:"autoDisable"`
	Context          map[string]string `json:"context,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
	Group            bool              `json:"group,omitempty"`
	GroupID          string            `json:"groupId,omitempty"`
	MemberName       string            `json:"memberName,omitempty"`
	DataIDMap        map[string]string `json:"dataIdMap,omitempty"`
	Orphan           bool              `json:"orphan,omitempty"`
}

// State derives the hierarchy state from the group fields.
func (t *Trigger) State() State {
	switch {
	case t.GroupID != "" && t.Orphan:
		return StateMemberOrphan
	case t.GroupID != "":
		return StateMemberActive
	case t.Group:
		return StateGroupRoot
	default:
		return StateStandalone
	}
}

// Clone returns a deep copy of t.
func (t *Trigger) Clone() *Trigger {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Context = maps.Clone(t.Context)
	cp.Tags = maps.Clone(t.Tags)
	cp.DataIDMap = maps.Clone(t.DataIDMap)
	return &cp
}

// applyDefaults fills enum fields left empty by the caller.
func (t *Trigger) applyDefaults() {
	if t.Severity == "" {
		t.Severity = SeverityMedium
	}
	if t.FiringMatch == "" {
		t.FiringMatch = MatchAll
	}
	if t.AutoResolveMatch == "" {
		t.AutoResolveMatch = MatchAll
	}
}

func (t *Trigger) validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return invalidf("trigger %q: name is required", t.ID)
	}
	switch t.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return invalidf("trigger %q: severity %q", t.ID, t.Severity)
	}
	for _, m := range []Match{t.FiringMatch, t.AutoResolveMatch} {
		if m != MatchAll && m != MatchAny {
			return invalidf("trigger %q: match %q", t.ID, m)
		}
	}
	return nil
}

// inheritFrom copies the group-owned template fields from group onto t.
// Identity, name, context and the member mapping stay with t.
func (t *Trigger) inheritFrom(group *Trigger) {
	t.Description = group.Description
	t.Enabled = group.Enabled
	t.Severity = group.Severity
	t.FiringMatch = group.FiringMatch
	t.AutoResolveMatch = group.AutoResolveMatch
	t.AutoResolve = group.AutoResolve
	t.AutoDisable = group.AutoDisable
	t.Tags = maps.Clone(group.Tags)
}

// FullTrigger bundles a trigger with its dampenings and conditions.
type FullTrigger struct {
	Trigger    *Trigger     `json:"trigger"`
	Dampenings []*Dampening `json:"dampenings"`
	Conditions []*Condition `json:"conditions"`
}

// TriggerCriteria filters FindTriggers. Empty criteria match every trigger.
// A tag value of "*" matches any value for that tag name.
type TriggerCriteria struct {
	TriggerIDs []string
	Tags       map[string]string
}

// Matches reports whether t satisfies the criteria. IDs and tags are each
// an any-of filter; both must match when both are set.
func (c TriggerCriteria) Matches(t *Trigger) bool {
	if len(c.TriggerIDs) > 0 {
		found := false
		for _, id := range c.TriggerIDs {
			if id == t.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(c.Tags) > 0 {
		for name, value := range c.Tags {
			got, ok := t.Tags[name]
			if ok && (value == "*" || value == got) {
				return true
			}
		}
		return false
	}
	return true
}

// MemberSpec describes a member trigger to add to a group.
type MemberSpec struct {
	GroupID     string            `json:"groupId"`
	MemberID    string            `json:"memberId,omitempty"`
	MemberName  string            `json:"memberName"`
	Description string            `json:"memberDescription,omitempty"`
	Context     map[string]string `json:"memberContext,omitempty"`
	DataIDMap   map[string]string `json:"dataIdMap,omitempty"`
}

// UnorphanSpec carries the fresh context and mapping used to re-attach an
// orphan member to its group.
type UnorphanSpec struct {
	Context   map[string]string `json:"memberContext,omitempty"`
	DataIDMap map[string]string `json:"dataIdMap,omitempty"`
}

// DataIDMemberMap maps member trigger id -> group data id -> member data id.
type DataIDMemberMap map[string]map[string]string

func mergeContext(base, overlay map[string]string) map[string]string {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(overlay))
	maps.Copy(out, base)
	maps.Copy(out, overlay)
	return out
}
