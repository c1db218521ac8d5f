package definitions

import (
	"encoding/json"
	"fmt"
	"strings"
)

// conditionEnvelope holds the fields shared by every condition kind. The
// kind-specific fields sit next to them in the same flat JSON object.
type conditionEnvelope struct {
	TenantID          string            `json:"tenantId,omitempty"`
	TriggerID         string            `json:"triggerId,omitempty"`
	TriggerMode       Mode              `json:"triggerMode,omitempty"`
	Type              ConditionKind     `json:"type"`
	ConditionID       string            `json:"conditionId,omitempty"`
	ConditionSetSize  int               `json:"conditionSetSize,omitempty"`
	ConditionSetIndex int               `json:"conditionSetIndex,omitempty"`
	Context           map[string]string `json:"context,omitempty"`
}

func newExpr(kind ConditionKind) (Expr, bool) {
	switch kind {
	case KindThreshold:
		return &Threshold{}, true
	case KindRange:
		return &Range{}, true
	case KindCompare:
		return &Compare{}, true
	case KindString:
		return &String{}, true
	case KindAvailability:
		return &Availability{}, true
	case KindEvent:
		return &Event{}, true
	case KindRate:
		return &Rate{}, true
	case KindMissing:
		return &Missing{}, true
	default:
		return nil, false
	}
}

// deref turns the pointer produced by newExpr back into its value variant.
func deref(e Expr) Expr {
	switch v := e.(type) {
	case *Threshold:
		return *v
	case *Range:
		return *v
	case *Compare:
		return *v
	case *String:
		return *v
	case *Availability:
		return *v
	case *Event:
		return *v
	case *Rate:
		return *v
	case *Missing:
		return *v
	default:
		return e
	}
}

// MarshalJSON renders the condition as one flat object with a "type"
// discriminant.
func (c *Condition) MarshalJSON() ([]byte, error) {
	if c.Expr == nil {
		return nil, fmt.Errorf("condition %q has no expression", c.ConditionID)
	}
	exprJSON, err := json.Marshal(c.Expr)
	if err != nil {
		return nil, err
	}
	out := map[string]json.RawMessage{}
	if err := json.Unmarshal(exprJSON, &out); err != nil {
		return nil, err
	}
	envJSON, err := json.Marshal(conditionEnvelope{
		TenantID:          c.TenantID,
		TriggerID:         c.TriggerID,
		TriggerMode:       c.TriggerMode,
		Type:              c.Expr.Kind(),
		ConditionID:       c.ConditionID,
		ConditionSetSize:  c.ConditionSetSize,
		ConditionSetIndex: c.ConditionSetIndex,
		Context:           c.Context,
	})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(envJSON, &out); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses a flat condition object. A missing or unknown "type"
// is an invalid argument.
func (c *Condition) UnmarshalJSON(b []byte) error {
	var env conditionEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return invalidf("condition json: %v", err)
	}
	kind := ConditionKind(strings.ToUpper(strings.TrimSpace(string(env.Type))))
	if kind == "" {
		return invalidf("condition json: missing type")
	}
	expr, ok := newExpr(kind)
	if !ok {
		return invalidf("condition json: unknown type %q", env.Type)
	}
	if err := json.Unmarshal(b, expr); err != nil {
		return invalidf("condition json: %s: %v", kind, err)
	}
	*c = Condition{
		TenantID:          env.TenantID,
		TriggerID:         env.TriggerID,
		TriggerMode:       env.TriggerMode,
		ConditionID:       env.ConditionID,
		ConditionSetSize:  env.ConditionSetSize,
		ConditionSetIndex: env.ConditionSetIndex,
		Context:           env.Context,
		Expr:              deref(expr),
	}
	return nil
}
