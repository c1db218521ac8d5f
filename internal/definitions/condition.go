package definitions

import (
	"fmt"
	"maps"
	"math"
	"strings"
)

// ConditionKind is the discriminant of a condition's comparison.
type ConditionKind string

const (
	KindThreshold    ConditionKind = "THRESHOLD"
	KindRange        ConditionKind = "RANGE"
	KindCompare      ConditionKind = "COMPARE"
	KindString       ConditionKind = "STRING"
	KindAvailability ConditionKind = "AVAILABILITY"
	KindEvent        ConditionKind = "EVENT"
	KindRate         ConditionKind = "RATE"
	KindMissing      ConditionKind = "MISSING"
)

// Condition is one evaluation condition owned by a (trigger, mode) pair.
type Condition struct {
	TenantID          string
	TriggerID         string
	TriggerMode       Mode
	ConditionID       string
	ConditionSetSize  int
	ConditionSetIndex int
	Context           map[string]string
	Expr              Expr
}

// Expr is the closed set of condition comparisons. Each variant carries the
// data identifiers it reads; those are the identifiers rewritten when a group
// condition is copied onto a member.
type Expr interface {
	Kind() ConditionKind
	DataIDs() []string
	validate() error
	// remap returns a copy with every data id passed through resolve.
	remap(resolve func(dataID string) (string, error)) (Expr, error)
}

// ThresholdOp compares a value against a single threshold.
type ThresholdOp string

const (
	OpLT  ThresholdOp = "LT"
	OpGT  ThresholdOp = "GT"
	OpLTE ThresholdOp = "LTE"
	OpGTE ThresholdOp = "GTE"
)

func (o ThresholdOp) valid() bool {
	return o == OpLT || o == OpGT || o == OpLTE || o == OpGTE
}

// Threshold holds when DataID's value compares true against Threshold.
type Threshold struct {
	DataID    string      `json:"dataId"`
	Operator  ThresholdOp `json:"operator"`
	Threshold float64     `json:"threshold"`
}

// RangeOp sets whether a range bound is inclusive.
type RangeOp string

const (
	RangeInclusive RangeOp = "INCLUSIVE"
	RangeExclusive RangeOp = "EXCLUSIVE"
)

// Range holds when DataID's value is inside (or outside, if !InRange) the range.
type Range struct {
	DataID        string  `json:"dataId"`
	OperatorLow   RangeOp `json:"operatorLow"`
	OperatorHigh  RangeOp `json:"operatorHigh"`
	ThresholdLow  float64 `json:"thresholdLow"`
	ThresholdHigh float64 `json:"thresholdHigh"`
	InRange       bool    `json:"inRange"`
}

// Compare holds when DataID compares true against Data2ID * Data2Multiplier.
type Compare struct {
	DataID          string      `json:"dataId"`
	Operator        ThresholdOp `json:"operator"`
	Data2ID         string      `json:"data2Id"`
	Data2Multiplier float64     `json:"data2Multiplier"`
}

// StringOp is a string comparison.
type StringOp string

const (
	StringEqual      StringOp = "EQUAL"
	StringNotEqual   StringOp = "NOT_EQUAL"
	StringStartsWith StringOp = "STARTS_WITH"
	StringEndsWith   StringOp = "ENDS_WITH"
	StringContains   StringOp = "CONTAINS"
	StringMatch      StringOp = "MATCH"
)

// String holds when DataID's string value matches Pattern under Operator.
type String struct {
	DataID     string   `json:"dataId"`
	Operator   StringOp `json:"operator"`
	Pattern    string   `json:"pattern"`
	IgnoreCase bool     `json:"ignoreCase"`
}

// AvailabilityOp is an availability state test.
type AvailabilityOp string

const (
	AvailabilityDown  AvailabilityOp = "DOWN"
	AvailabilityNotUp AvailabilityOp = "NOT_UP"
	AvailabilityUp    AvailabilityOp = "UP"
)

// Availability holds when DataID's availability matches Operator.
type Availability struct {
	DataID   string         `json:"dataId"`
	Operator AvailabilityOp `json:"operator"`
}

// Event holds when an event on DataID satisfies Expression.
type Event struct {
	DataID     string `json:"dataId"`
	Expression string `json:"expression,omitempty"`
}

// RateDirection is the direction of change a Rate condition watches.
type RateDirection string

const (
	RateIncreasing RateDirection = "INCREASING"
	RateDecreasing RateDirection = "DECREASING"
	RateNA         RateDirection = "NA"
)

// RatePeriod is the time unit a Rate threshold is expressed in.
type RatePeriod string

const (
	PeriodSecond RatePeriod = "SECOND"
	PeriodMinute RatePeriod = "MINUTE"
	PeriodHour   RatePeriod = "HOUR"
	PeriodDay    RatePeriod = "DAY"
	PeriodWeek   RatePeriod = "WEEK"
)

// Rate holds when DataID's rate of change per Period compares true against Threshold.
type Rate struct {
	DataID    string        `json:"dataId"`
	Direction RateDirection `json:"direction"`
	Period    RatePeriod    `json:"period"`
	Operator  ThresholdOp   `json:"operator"`
	Threshold float64       `json:"threshold"`
}

// Missing holds when no data arrives on DataID for Interval milliseconds.
type Missing struct {
	DataID   string `json:"dataId"`
	Interval int64  `json:"interval"`
}

func (Threshold) Kind() ConditionKind    { return KindThreshold }
func (Range) Kind() ConditionKind        { return KindRange }
func (Compare) Kind() ConditionKind      { return KindCompare }
func (String) Kind() ConditionKind       { return KindString }
func (Availability) Kind() ConditionKind { return KindAvailability }
func (Event) Kind() ConditionKind        { return KindEvent }
func (Rate) Kind() ConditionKind         { return KindRate }
func (Missing) Kind() ConditionKind      { return KindMissing }

func (e Threshold) DataIDs() []string    { return []string{e.DataID} }
func (e Range) DataIDs() []string        { return []string{e.DataID} }
func (e Compare) DataIDs() []string      { return []string{e.DataID, e.Data2ID} }
func (e String) DataIDs() []string       { return []string{e.DataID} }
func (e Availability) DataIDs() []string { return []string{e.DataID} }
func (e Event) DataIDs() []string        { return []string{e.DataID} }
func (e Rate) DataIDs() []string         { return []string{e.DataID} }
func (e Missing) DataIDs() []string      { return []string{e.DataID} }

func requireDataID(kind ConditionKind, dataID string) error {
	if strings.TrimSpace(dataID) == "" {
		return invalidf("%s condition: dataId is required", kind)
	}
	return nil
}

func requireFinite(kind ConditionKind, field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return invalidf("%s condition: %s must be finite", kind, field)
	}
	return nil
}

func (e Threshold) validate() error {
	if err := requireDataID(e.Kind(), e.DataID); err != nil {
		return err
	}
	if !e.Operator.valid() {
		return invalidf("%s condition: operator %q", e.Kind(), e.Operator)
	}
	return requireFinite(e.Kind(), "threshold", e.Threshold)
}

func (e Range) validate() error {
	if err := requireDataID(e.Kind(), e.DataID); err != nil {
		return err
	}
	for _, op := range []RangeOp{e.OperatorLow, e.OperatorHigh} {
		if op != RangeInclusive && op != RangeExclusive {
			return invalidf("%s condition: operator %q", e.Kind(), op)
		}
	}
	if err := requireFinite(e.Kind(), "thresholdLow", e.ThresholdLow); err != nil {
		return err
	}
	if err := requireFinite(e.Kind(), "thresholdHigh", e.ThresholdHigh); err != nil {
		return err
	}
	if e.ThresholdLow > e.ThresholdHigh {
		return invalidf("%s condition: thresholdLow %v > thresholdHigh %v", e.Kind(), e.ThresholdLow, e.ThresholdHigh)
	}
	return nil
}

func (e Compare) validate() error {
	if err := requireDataID(e.Kind(), e.DataID); err != nil {
		return err
	}
	if strings.TrimSpace(e.Data2ID) == "" {
		return invalidf("%s condition: data2Id is required", e.Kind())
	}
	if !e.Operator.valid() {
		return invalidf("%s condition: operator %q", e.Kind(), e.Operator)
	}
	return requireFinite(e.Kind(), "data2Multiplier", e.Data2Multiplier)
}

func (e String) validate() error {
	if err := requireDataID(e.Kind(), e.DataID); err != nil {
		return err
	}
	switch e.Operator {
	case StringEqual, StringNotEqual, StringStartsWith, StringEndsWith, StringContains, StringMatch:
		return nil
	default:
		return invalidf("%s condition: operator %q", e.Kind(), e.Operator)
	}
}

func (e Availability) validate() error {
	if err := requireDataID(e.Kind(), e.DataID); err != nil {
		return err
	}
	switch e.Operator {
	case AvailabilityDown, AvailabilityNotUp, AvailabilityUp:
		return nil
	default:
		return invalidf("%s condition: operator %q", e.Kind(), e.Operator)
	}
}

func (e Event) validate() error {
	return requireDataID(e.Kind(), e.DataID)
}

func (e Rate) validate() error {
	if err := requireDataID(e.Kind(), e.DataID); err != nil {
		return err
	}
	switch e.Direction {
	case RateIncreasing, RateDecreasing, RateNA:
	default:
		return invalidf("%s condition: direction %q", e.Kind(), e.Direction)
	}
	switch e.Period {
	case PeriodSecond, PeriodMinute, PeriodHour, PeriodDay, PeriodWeek:
	default:
		return invalidf("%s condition: period %q", e.Kind(), e.Period)
	}
	if !e.Operator.valid() {
		return invalidf("%s condition: operator %q", e.Kind(), e.Operator)
	}
	return requireFinite(e.Kind(), "threshold", e.Threshold)
}

func (e Missing) validate() error {
	if err := requireDataID(e.Kind(), e.DataID); err != nil {
		return err
	}
	if e.Interval <= 0 {
		return invalidf("%s condition: interval must be > 0", e.Kind())
	}
	return nil
}

func resolveInto(dataID *string, resolve func(string) (string, error)) error {
	id, err := resolve(*dataID)
	if err != nil {
		return err
	}
	*dataID = id
	return nil
}

// Variants are value types, so each remap works on its own receiver copy.
func (e Threshold) remap(r func(string) (string, error)) (Expr, error) {
	if err := resolveInto(&e.DataID, r); err != nil {
		return nil, err
	}
	return e, nil
}

func (e Range) remap(r func(string) (string, error)) (Expr, error) {
	if err := resolveInto(&e.DataID, r); err != nil {
		return nil, err
	}
	return e, nil
}

func (e Compare) remap(r func(string) (string, error)) (Expr, error) {
	if err := resolveInto(&e.DataID, r); err != nil {
		return nil, err
	}
	if err := resolveInto(&e.Data2ID, r); err != nil {
		return nil, err
	}
	return e, nil
}

func (e String) remap(r func(string) (string, error)) (Expr, error) {
	if err := resolveInto(&e.DataID, r); err != nil {
		return nil, err
	}
	return e, nil
}

func (e Availability) remap(r func(string) (string, error)) (Expr, error) {
	if err := resolveInto(&e.DataID, r); err != nil {
		return nil, err
	}
	return e, nil
}

func (e Event) remap(r func(string) (string, error)) (Expr, error) {
	if err := resolveInto(&e.DataID, r); err != nil {
		return nil, err
	}
	return e, nil
}

func (e Rate) remap(r func(string) (string, error)) (Expr, error) {
	if err := resolveInto(&e.DataID, r); err != nil {
		return nil, err
	}
	return e, nil
}

func (e Missing) remap(r func(string) (string, error)) (Expr, error) {
	if err := resolveInto(&e.DataID, r); err != nil {
		return nil, err
	}
	return e, nil
}

// Kind returns the kind of the condition's comparison.
func (c *Condition) Kind() ConditionKind {
	if c.Expr == nil {
		return ""
	}
	return c.Expr.Kind()
}

// Clone returns a deep copy of c.
func (c *Condition) Clone() *Condition {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Context = maps.Clone(c.Context)
	return &cp
}

func (c *Condition) validate() error {
	if c.Expr == nil {
		return invalidf("condition %q: type is required", c.ConditionID)
	}
	return c.Expr.validate()
}

// ConditionID derives the identity of the index-th (1-based) condition of a
// set of size conditions for (triggerID, mode).
func ConditionID(triggerID string, mode Mode, size, index int) string {
	return fmt.Sprintf("%s-%s-%d-%d", triggerID, mode, size, index)
}
