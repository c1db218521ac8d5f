package definitions

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func cond(mode Mode, dataID string) *Condition {
	return &Condition{TriggerMode: mode, Expr: Threshold{DataID: dataID, Operator: OpGT, Threshold: 10}}
}

func TestPartitionConditions_StableAndModeRespecting(t *testing.T) {
	t.Parallel()

	in := []*Condition{
		cond(ModeFiring, "a"),
		cond(ModeAutoResolve, "b"),
		cond(ModeFiring, "c"),
		cond(ModeAutoResolve, "d"),
		cond(ModeFiring, "e"),
	}
	firing, autoResolve, err := PartitionConditions("trg", in)
	if err != nil {
		t.Fatalf("PartitionConditions: %v", err)
	}

	dataIDs := func(cs []*Condition) []string {
		var out []string
		for _, c := range cs {
			out = append(out, c.Expr.DataIDs()[0])
		}
		return out
	}
	if diff := cmp.Diff([]string{"a", "c", "e"}, dataIDs(firing)); diff != "" {
		t.Errorf("firing (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b", "d"}, dataIDs(autoResolve)); diff != "" {
		t.Errorf("autoResolve (-want +got):\n%s", diff)
	}
	for _, c := range append(firing, autoResolve...) {
		if c.TriggerID != "trg" {
			t.Errorf("TriggerID = %q, want trg", c.TriggerID)
		}
	}
	if in[0].TriggerID != "" {
		t.Error("input was modified")
	}
}

func TestPartitionConditions_RandomPermutation(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(1, 2))
	for round := range 50 {
		n := r.IntN(20)
		in := make([]*Condition, n)
		for i := range in {
			mode := ModeFiring
			if r.IntN(2) == 0 {
				mode = ModeAutoResolve
			}
			in[i] = cond(mode, fmt.Sprintf("d%d", i))
		}

		firing, autoResolve, err := PartitionConditions("trg", in)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if len(firing)+len(autoResolve) != n {
			t.Fatalf("round %d: lost conditions: %d+%d != %d", round, len(firing), len(autoResolve), n)
		}
		seen := map[string]bool{}
		for _, c := range firing {
			if c.TriggerMode != ModeFiring {
				t.Fatalf("round %d: %s in firing partition", round, c.TriggerMode)
			}
			seen[c.Expr.DataIDs()[0]] = true
		}
		for _, c := range autoResolve {
			if c.TriggerMode != ModeAutoResolve {
				t.Fatalf("round %d: %s in autoresolve partition", round, c.TriggerMode)
			}
			seen[c.Expr.DataIDs()[0]] = true
		}
		if len(seen) != n {
			t.Fatalf("round %d: output is not a permutation of the input", round)
		}
	}
}

func TestPartitionConditions_RejectsMissingMode(t *testing.T) {
	t.Parallel()

	_, _, err := PartitionConditions("trg", []*Condition{cond("", "a")})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestApplyGroupConditions(t *testing.T) {
	t.Parallel()

	members := []*Trigger{
		{TenantID: "acme", ID: "m1", GroupID: "g1", DataIDMap: map[string]string{"logicalA": "stored1"}},
		{TenantID: "acme", ID: "m2", GroupID: "g1", DataIDMap: map[string]string{"logicalA": "conc2"}},
		{TenantID: "acme", ID: "m3", GroupID: "g1", Orphan: true},
	}
	conds := []*Condition{
		{TriggerMode: ModeFiring, Expr: Compare{DataID: "logicalA", Operator: OpGT, Data2ID: "logicalA", Data2Multiplier: 2}},
	}
	override := DataIDMemberMap{"m1": {"logicalA": "conc1"}}

	plans, err := ApplyGroupConditions("g1", ModeFiring, conds, members, override)
	if err != nil {
		t.Fatalf("ApplyGroupConditions: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("plans = %d, want 2 (orphan excluded)", len(plans))
	}

	want := map[string]string{"m1": "conc1", "m2": "conc2"}
	for _, p := range plans {
		if len(p.Conditions) != 1 {
			t.Fatalf("%s: conditions = %d, want 1", p.Member.ID, len(p.Conditions))
		}
		c := p.Conditions[0]
		expr := c.Expr.(Compare)
		if expr.DataID != want[p.Member.ID] || expr.Data2ID != want[p.Member.ID] {
			t.Errorf("%s: data ids = %q/%q, want %q", p.Member.ID, expr.DataID, expr.Data2ID, want[p.Member.ID])
		}
		if c.TriggerID != p.Member.ID || c.TriggerMode != ModeFiring {
			t.Errorf("%s: owner = %s/%s", p.Member.ID, c.TriggerID, c.TriggerMode)
		}
		if wantID := ConditionID(p.Member.ID, ModeFiring, 1, 1); c.ConditionID != wantID {
			t.Errorf("%s: ConditionID = %q, want %q", p.Member.ID, c.ConditionID, wantID)
		}
	}
	if conds[0].Expr.(Compare).DataID != "logicalA" {
		t.Error("group template was modified")
	}
}

func TestApplyGroupConditions_MissingMapping(t *testing.T) {
	t.Parallel()

	members := []*Trigger{
		{TenantID: "acme", ID: "m1", GroupID: "g1", DataIDMap: map[string]string{"logicalA": "conc1"}},
		{TenantID: "acme", ID: "m2", GroupID: "g1", DataIDMap: map[string]string{"other": "x"}},
	}
	_, err := ApplyGroupConditions("g1", ModeFiring, []*Condition{cond(ModeFiring, "logicalA")}, members, nil)
	if !errors.Is(err, ErrMissingDataIDMapping) {
		t.Fatalf("err = %v, want ErrMissingDataIDMapping", err)
	}
	if KindOf(err) != KindMissingDataIDMapping {
		t.Errorf("KindOf = %q", KindOf(err))
	}
}

func TestConditionJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want Expr
	}{
		{"threshold", `{"type":"THRESHOLD","triggerMode":"FIRING","dataId":"cpu","operator":"GT","threshold":90}`, Threshold{DataID: "cpu", Operator: OpGT, Threshold: 90}},
		{"lowercase type", `{"type":"string","triggerMode":"FIRING","dataId":"log","operator":"CONTAINS","pattern":"ERROR","ignoreCase":true}`, String{DataID: "log", Operator: StringContains, Pattern: "ERROR", IgnoreCase: true}},
		{"availability", `{"type":"AVAILABILITY","triggerMode":"FIRING","dataId":"up","operator":"DOWN"}`, Availability{DataID: "up", Operator: AvailabilityDown}},
		{"missing", `{"type":"MISSING","triggerMode":"AUTORESOLVE","dataId":"hb","interval":30000}`, Missing{DataID: "hb", Interval: 30000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var c Condition
			if err := json.Unmarshal([]byte(tt.in), &c); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if diff := cmp.Diff(tt.want, c.Expr); diff != "" {
				t.Errorf("expr (-want +got):\n%s", diff)
			}

			out, err := json.Marshal(&c)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			var m map[string]any
			if err := json.Unmarshal(out, &m); err != nil {
				t.Fatalf("Unmarshal map: %v", err)
			}
			if m["type"] != string(tt.want.Kind()) {
				t.Errorf("type = %v, want %s", m["type"], tt.want.Kind())
			}
			if m["dataId"] == nil {
				t.Error("dataId missing from flat output")
			}
		})
	}
}

func TestConditionJSON_BadDiscriminant(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		`{"triggerMode":"FIRING","dataId":"cpu"}`,
		`{"type":"","dataId":"cpu"}`,
		`{"type":"TELEPATHY","dataId":"cpu"}`,
	} {
		var c Condition
		err := json.Unmarshal([]byte(in), &c)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%s: err = %v, want ErrInvalidArgument", in, err)
		}
	}
}

func TestConditionValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		expr Expr
		ok   bool
	}{
		{"threshold ok", Threshold{DataID: "x", Operator: OpLTE}, true},
		{"threshold no data id", Threshold{Operator: OpLTE}, false},
		{"range inverted", Range{DataID: "x", OperatorLow: RangeInclusive, OperatorHigh: RangeInclusive, ThresholdLow: 5, ThresholdHigh: 1}, false},
		{"compare no data2", Compare{DataID: "x", Operator: OpGT}, false},
		{"rate bad period", Rate{DataID: "x", Direction: RateIncreasing, Period: "YEAR", Operator: OpGT}, false},
		{"rate ok", Rate{DataID: "x", Direction: RateIncreasing, Period: PeriodMinute, Operator: OpGT, Threshold: 3}, true},
		{"missing zero interval", Missing{DataID: "x"}, false},
		{"event ok", Event{DataID: "x", Expression: "category == 'DEPLOY'"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := (&Condition{Expr: tt.expr}).validate()
			if tt.ok && err != nil {
				t.Fatalf("validate: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("err = %v, want ErrInvalidArgument", err)
			}
		})
	}
}
