package definitions

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// DampeningType names one of the five dampening policy shapes.
type DampeningType string

const (
	// DampeningStrict requires N consecutive true evaluations.
	DampeningStrict DampeningType = "STRICT"

	// DampeningStrictTime requires only true evaluations for a period of time.
	DampeningStrictTime DampeningType = "STRICT_TIME"

	// DampeningStrictTimeout requires only true evaluations until a timeout fires.
	DampeningStrictTimeout DampeningType = "STRICT_TIMEOUT"

	// DampeningRelaxedCount requires N true evaluations out of M total.
	DampeningRelaxedCount DampeningType = "RELAXED_COUNT"

	// DampeningRelaxedTime requires N true evaluations within a period of time.
	DampeningRelaxedTime DampeningType = "RELAXED_TIME"
)

// Policy is the closed set of dampening policy variants. Each variant holds
// exactly the settings meaningful to it.
type Policy interface {
	Type() DampeningType
	settings() (evalTrue, evalTotal int, evalTime time.Duration)
}

// Strict fires after EvalTrue consecutive true evaluations.
type Strict struct {
	EvalTrue int
}

// StrictTime fires once evaluations have been true for EvalTime.
type StrictTime struct {
	EvalTime time.Duration
}

// StrictTimeout fires when EvalTime elapses with only true evaluations.
type StrictTimeout struct {
	EvalTime time.Duration
}

// RelaxedCount fires after EvalTrue true evaluations out of EvalTotal.
type RelaxedCount struct {
	EvalTrue  int
	EvalTotal int
}

// RelaxedTime fires after EvalTrue true evaluations within EvalTime.
type RelaxedTime struct {
	EvalTrue int
	EvalTime time.Duration
}

func (Strict) Type() DampeningType        { return DampeningStrict }
func (StrictTime) Type() DampeningType    { return DampeningStrictTime }
func (StrictTimeout) Type() DampeningType { return DampeningStrictTimeout }
func (RelaxedCount) Type() DampeningType  { return DampeningRelaxedCount }
func (RelaxedTime) Type() DampeningType   { return DampeningRelaxedTime }

func (p Strict) settings() (int, int, time.Duration)        { return p.EvalTrue, 0, 0 }
func (p StrictTime) settings() (int, int, time.Duration)    { return 0, 0, p.EvalTime }
func (p StrictTimeout) settings() (int, int, time.Duration) { return 0, 0, p.EvalTime }
func (p RelaxedCount) settings() (int, int, time.Duration)  { return p.EvalTrue, p.EvalTotal, 0 }
func (p RelaxedTime) settings() (int, int, time.Duration)   { return p.EvalTrue, 0, p.EvalTime }

// DampeningSpec is the loosely populated, flat form of a dampening as it
// arrives from callers and is persisted. It may carry stale settings from a
// previous type; NormalizeDampening discards them.
type DampeningSpec struct {
	TenantID         string        `json:"tenantId,omitempty"`
	TriggerID        string        `json:"triggerId,omitempty"`
	TriggerMode      Mode          `json:"triggerMode"`
	Type             DampeningType `json:"type"`
	EvalTrueSetting  int           `json:"evalTrueSetting,omitempty"`
	EvalTotalSetting int           `json:"evalTotalSetting,omitempty"`
	EvalTimeSetting  int64         `json:"evalTimeSetting,omitempty"` // milliseconds
}

// Dampening is a normalized dampening bound to one (trigger, mode).
type Dampening struct {
	TenantID    string
	TriggerID   string
	TriggerMode Mode
	Policy      Policy
}

// DampeningID derives the identity of the dampening for (triggerID, mode).
func DampeningID(triggerID string, mode Mode) string {
	return triggerID + "-" + string(mode)
}

// ID returns the dampening's derived identity.
func (d *Dampening) ID() string {
	return DampeningID(d.TriggerID, d.TriggerMode)
}

// Spec flattens d back to its wire/persisted shape.
func (d *Dampening) Spec() DampeningSpec {
	evalTrue, evalTotal, evalTime := d.Policy.settings()
	return DampeningSpec{
		TenantID:         d.TenantID,
		TriggerID:        d.TriggerID,
		TriggerMode:      d.TriggerMode,
		Type:             d.Policy.Type(),
		EvalTrueSetting:  evalTrue,
		EvalTotalSetting: evalTotal,
		EvalTimeSetting:  evalTime.Milliseconds(),
	}
}

// Clone returns a copy of d. Policies are immutable values.
func (d *Dampening) Clone() *Dampening {
	if d == nil {
		return nil
	}
	cp := *d
	return &cp
}

// forTrigger returns a copy of d re-bound to another trigger.
func (d *Dampening) forTrigger(triggerID string) *Dampening {
	cp := d.Clone()
	cp.TriggerID = triggerID
	return cp
}

type dampeningJSON struct {
	DampeningID string `json:"dampeningId"`
	DampeningSpec
}

// MarshalJSON renders the flat shape, including the derived dampeningId.
func (d *Dampening) MarshalJSON() ([]byte, error) {
	return json.Marshal(dampeningJSON{DampeningID: d.ID(), DampeningSpec: d.Spec()})
}

// UnmarshalJSON parses the flat shape and normalizes it.
func (d *Dampening) UnmarshalJSON(b []byte) error {
	var spec DampeningSpec
	if err := json.Unmarshal(b, &spec); err != nil {
		return err
	}
	nd, err := NormalizeDampening(spec)
	if err != nil {
		return err
	}
	*d = nd
	return nil
}

// maxEvalTimeMillis is the largest evalTimeSetting a time.Duration can hold.
const maxEvalTimeMillis = math.MaxInt64 / int64(time.Millisecond)

// NormalizeDampening rebuilds spec into its canonical policy variant, keeping
// only the settings required by spec.Type. Tenant, trigger and mode are
// copied through unchanged.
func NormalizeDampening(spec DampeningSpec) (Dampening, error) {
	d := Dampening{
		TenantID:    spec.TenantID,
		TriggerID:   spec.TriggerID,
		TriggerMode: spec.TriggerMode,
	}
	if !spec.TriggerMode.Valid() {
		return Dampening{}, invalidf("dampening trigger mode %q", spec.TriggerMode)
	}

	switch spec.Type {
	case DampeningStrictTime, DampeningStrictTimeout, DampeningRelaxedTime:
		if spec.EvalTimeSetting > maxEvalTimeMillis {
			return Dampening{}, invalidf("%s dampening: evalTimeSetting must be <= %d", spec.Type, maxEvalTimeMillis)
		}
	}
	evalTime := time.Duration(spec.EvalTimeSetting) * time.Millisecond

	switch spec.Type {
	case DampeningStrict:
		if spec.EvalTrueSetting < 1 {
			return Dampening{}, invalidf("%s dampening: evalTrueSetting must be >= 1", spec.Type)
		}
		d.Policy = Strict{EvalTrue: spec.EvalTrueSetting}
	case DampeningStrictTime:
		if spec.EvalTimeSetting < 1 {
			return Dampening{}, invalidf("%s dampening: evalTimeSetting must be >= 1", spec.Type)
		}
		d.Policy = StrictTime{EvalTime: evalTime}
	case DampeningStrictTimeout:
		if spec.EvalTimeSetting < 1 {
			return Dampening{}, invalidf("%s dampening: evalTimeSetting must be >= 1", spec.Type)
		}
		d.Policy = StrictTimeout{EvalTime: evalTime}
	case DampeningRelaxedCount:
		if spec.EvalTrueSetting < 1 {
			return Dampening{}, invalidf("%s dampening: evalTrueSetting must be >= 1", spec.Type)
		}
		if spec.EvalTotalSetting < spec.EvalTrueSetting {
			return Dampening{}, invalidf("%s dampening: evalTotalSetting must be >= evalTrueSetting", spec.Type)
		}
		d.Policy = RelaxedCount{EvalTrue: spec.EvalTrueSetting, EvalTotal: spec.EvalTotalSetting}
	case DampeningRelaxedTime:
		if spec.EvalTrueSetting < 1 {
			return Dampening{}, invalidf("%s dampening: evalTrueSetting must be >= 1", spec.Type)
		}
		if spec.EvalTimeSetting < 1 {
			return Dampening{}, invalidf("%s dampening: evalTimeSetting must be >= 1", spec.Type)
		}
		d.Policy = RelaxedTime{EvalTrue: spec.EvalTrueSetting, EvalTime: evalTime}
	default:
		return Dampening{}, fmt.Errorf("%w %q: %w", ErrUnsupportedDampeningType, spec.Type, ErrInvalidArgument)
	}
	return d, nil
}
