package definitions

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNormalizeDampening(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec DampeningSpec
		want Policy
	}{
		{
			name: "strict drops time and total",
			spec: DampeningSpec{TriggerMode: ModeFiring, Type: DampeningStrict, EvalTrueSetting: 3, EvalTotalSetting: 9, EvalTimeSetting: 5000},
			want: Strict{EvalTrue: 3},
		},
		{
			name: "strict time drops counts",
			spec: DampeningSpec{TriggerMode: ModeFiring, Type: DampeningStrictTime, EvalTrueSetting: 3, EvalTotalSetting: 9, EvalTimeSetting: 5000},
			want: StrictTime{EvalTime: 5 * time.Second},
		},
		{
			name: "strict timeout drops counts",
			spec: DampeningSpec{TriggerMode: ModeAutoResolve, Type: DampeningStrictTimeout, EvalTrueSetting: 1, EvalTimeSetting: 60000},
			want: StrictTimeout{EvalTime: time.Minute},
		},
		{
			name: "relaxed count drops time",
			spec: DampeningSpec{TriggerMode: ModeFiring, Type: DampeningRelaxedCount, EvalTrueSetting: 2, EvalTotalSetting: 5, EvalTimeSetting: 1000},
			want: RelaxedCount{EvalTrue: 2, EvalTotal: 5},
		},
		{
			name: "relaxed time drops total",
			spec: DampeningSpec{TriggerMode: ModeFiring, Type: DampeningRelaxedTime, EvalTrueSetting: 2, EvalTotalSetting: 5, EvalTimeSetting: 1000},
			want: RelaxedTime{EvalTrue: 2, EvalTime: time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			spec := tt.spec
			spec.TenantID = "acme"
			spec.TriggerID = "trg"

			d, err := NormalizeDampening(spec)
			if err != nil {
				t.Fatalf("NormalizeDampening: %v", err)
			}
			if diff := cmp.Diff(tt.want, d.Policy); diff != "" {
				t.Errorf("policy mismatch (-want +got):\n%s", diff)
			}
			if d.TenantID != "acme" || d.TriggerID != "trg" || d.TriggerMode != spec.TriggerMode {
				t.Errorf("identity not copied through: %+v", d)
			}

			// idempotent
			again, err := NormalizeDampening(d.Spec())
			if err != nil {
				t.Fatalf("second NormalizeDampening: %v", err)
			}
			if diff := cmp.Diff(d, again); diff != "" {
				t.Errorf("not idempotent (-first +second):\n%s", diff)
			}
		})
	}
}

func TestNormalizeDampening_OnlyTypeFieldsSet(t *testing.T) {
	t.Parallel()

	spec := DampeningSpec{TriggerMode: ModeFiring, EvalTrueSetting: 4, EvalTotalSetting: 8, EvalTimeSetting: 2000}
	want := map[DampeningType]DampeningSpec{
		DampeningStrict:        {EvalTrueSetting: 4},
		DampeningStrictTime:    {EvalTimeSetting: 2000},
		DampeningStrictTimeout: {EvalTimeSetting: 2000},
		DampeningRelaxedCount:  {EvalTrueSetting: 4, EvalTotalSetting: 8},
		DampeningRelaxedTime:   {EvalTrueSetting: 4, EvalTimeSetting: 2000},
	}
	for typ, w := range want {
		spec.Type = typ
		d, err := NormalizeDampening(spec)
		if err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
		got := d.Spec()
		w.Type = typ
		w.TriggerMode = ModeFiring
		if diff := cmp.Diff(w, got); diff != "" {
			t.Errorf("%s settings (-want +got):\n%s", typ, diff)
		}
	}
}

func TestNormalizeDampening_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		spec    DampeningSpec
		wantErr error
	}{
		{"unknown type", DampeningSpec{TriggerMode: ModeFiring, Type: "SOMETIMES"}, ErrUnsupportedDampeningType},
		{"empty type", DampeningSpec{TriggerMode: ModeFiring}, ErrUnsupportedDampeningType},
		{"bad mode", DampeningSpec{TriggerMode: "BOTH", Type: DampeningStrict, EvalTrueSetting: 1}, ErrInvalidArgument},
		{"strict zero", DampeningSpec{TriggerMode: ModeFiring, Type: DampeningStrict}, ErrInvalidArgument},
		{"strict time zero", DampeningSpec{TriggerMode: ModeFiring, Type: DampeningStrictTime}, ErrInvalidArgument},
		{"relaxed count total below true", DampeningSpec{TriggerMode: ModeFiring, Type: DampeningRelaxedCount, EvalTrueSetting: 3, EvalTotalSetting: 2}, ErrInvalidArgument},
		{"relaxed time no time", DampeningSpec{TriggerMode: ModeFiring, Type: DampeningRelaxedTime, EvalTrueSetting: 3}, ErrInvalidArgument},
		{"strict time overflows duration", DampeningSpec{TriggerMode: ModeFiring, Type: DampeningStrictTime, EvalTimeSetting: 18446744073708}, ErrInvalidArgument},
		{"strict timeout overflows duration", DampeningSpec{TriggerMode: ModeFiring, Type: DampeningStrictTimeout, EvalTimeSetting: math.MaxInt64}, ErrInvalidArgument},
		{"relaxed time overflows duration", DampeningSpec{TriggerMode: ModeFiring, Type: DampeningRelaxedTime, EvalTrueSetting: 1, EvalTimeSetting: maxEvalTimeMillis + 1}, ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NormalizeDampening(tt.spec)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if KindOf(err) != KindInvalidArgument {
				t.Errorf("KindOf = %q, want %q", KindOf(err), KindInvalidArgument)
			}
		})
	}
}

func TestNormalizeDampening_LargestEvalTimeIsStable(t *testing.T) {
	t.Parallel()

	spec := DampeningSpec{TriggerMode: ModeFiring, Type: DampeningStrictTime, EvalTimeSetting: maxEvalTimeMillis}
	once, err := NormalizeDampening(spec)
	if err != nil {
		t.Fatalf("NormalizeDampening: %v", err)
	}
	if got := once.Spec().EvalTimeSetting; got != maxEvalTimeMillis {
		t.Fatalf("EvalTimeSetting = %d, want %d", got, maxEvalTimeMillis)
	}
	twice, err := NormalizeDampening(once.Spec())
	if err != nil {
		t.Fatalf("second NormalizeDampening: %v", err)
	}
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("normalize is not idempotent (-once +twice):\n%s", diff)
	}
}

func TestDampening_JSON(t *testing.T) {
	t.Parallel()

	in := `{"triggerId":"trg","triggerMode":"FIRING","type":"STRICT","evalTrueSetting":2,"evalTimeSetting":9000}`
	var d Dampening
	if err := json.Unmarshal([]byte(in), &d); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(Policy(Strict{EvalTrue: 2}), d.Policy); diff != "" {
		t.Errorf("policy (-want +got):\n%s", diff)
	}

	out, err := json.Marshal(&d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("Unmarshal map: %v", err)
	}
	if m["dampeningId"] != "trg-FIRING" {
		t.Errorf("dampeningId = %v, want trg-FIRING", m["dampeningId"])
	}
	if _, ok := m["evalTimeSetting"]; ok {
		t.Error("stale evalTimeSetting survived normalization")
	}
}
