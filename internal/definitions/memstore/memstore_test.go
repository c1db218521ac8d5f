package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/linnemanlabs/beacon/internal/definitions"
)

const tenant = "acme"

func putTrigger(t *testing.T, s *Store, tr *definitions.Trigger) {
	t.Helper()
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx definitions.Tx) error {
		return tx.PutTrigger(ctx, tr)
	})
	if err != nil {
		t.Fatalf("PutTrigger: %v", err)
	}
}

func threshold(triggerID string, mode definitions.Mode, idx int, dataID string) *definitions.Condition {
	return &definitions.Condition{
		TenantID:          tenant,
		TriggerID:         triggerID,
		TriggerMode:       mode,
		ConditionID:       definitions.ConditionID(triggerID, mode, 2, idx),
		ConditionSetSize:  2,
		ConditionSetIndex: idx,
		Expr:              definitions.Threshold{DataID: dataID, Operator: definitions.OpGT, Threshold: 1},
	}
}

func TestStore_PutAndGetTrigger(t *testing.T) {
	t.Parallel()

	s := New()
	putTrigger(t, s, &definitions.Trigger{TenantID: tenant, ID: "t-1", Name: "cpu", Tags: map[string]string{"a": "b"}})

	got, ok, err := s.GetTrigger(context.Background(), tenant, "t-1")
	if err != nil {
		t.Fatalf("GetTrigger: %v", err)
	}
	if !ok {
		t.Fatal("expected trigger to be found")
	}
	if got.Name != "cpu" {
		t.Errorf("Name = %q, want %q", got.Name, "cpu")
	}

	// returned value is a copy
	got.Tags["a"] = "mutated"
	again, _, _ := s.GetTrigger(context.Background(), tenant, "t-1")
	if again.Tags["a"] != "b" {
		t.Errorf("stored tag = %q, want %q", again.Tags["a"], "b")
	}
}

func TestStore_InsertRejectsExisting(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	d := &definitions.Dampening{TenantID: tenant, TriggerID: "t-1", TriggerMode: definitions.ModeFiring, Policy: definitions.Strict{EvalTrue: 1}}
	err := s.WithinTx(ctx, func(ctx context.Context, tx definitions.Tx) error {
		if err := tx.InsertTrigger(ctx, &definitions.Trigger{TenantID: tenant, ID: "t-1", Name: "cpu"}); err != nil {
			return err
		}
		return tx.InsertDampening(ctx, d)
	})
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx definitions.Tx) error {
		return tx.InsertTrigger(ctx, &definitions.Trigger{TenantID: tenant, ID: "t-1", Name: "other"})
	})
	if !errors.Is(err, definitions.ErrConflict) {
		t.Errorf("InsertTrigger: err = %v, want ErrConflict", err)
	}
	err = s.WithinTx(ctx, func(ctx context.Context, tx definitions.Tx) error {
		return tx.InsertDampening(ctx, &definitions.Dampening{TenantID: tenant, TriggerID: "t-1", TriggerMode: definitions.ModeFiring, Policy: definitions.Strict{EvalTrue: 5}})
	})
	if !errors.Is(err, definitions.ErrConflict) {
		t.Errorf("InsertDampening: err = %v, want ErrConflict", err)
	}

	got, _, _ := s.GetTrigger(ctx, tenant, "t-1")
	if got.Name != "cpu" {
		t.Errorf("Name = %q, the conflicting insert overwrote the row", got.Name)
	}
	gotD, _, _ := s.GetDampening(ctx, tenant, d.ID())
	if gotD.Policy != (definitions.Strict{EvalTrue: 1}) {
		t.Errorf("Policy = %+v, the conflicting insert overwrote the row", gotD.Policy)
	}

	// the same id in another tenant is a different row
	err = s.WithinTx(ctx, func(ctx context.Context, tx definitions.Tx) error {
		return tx.InsertTrigger(ctx, &definitions.Trigger{TenantID: "other", ID: "t-1", Name: "cpu"})
	})
	if err != nil {
		t.Errorf("InsertTrigger other tenant: %v", err)
	}
}

func TestStore_TenantIsolation(t *testing.T) {
	t.Parallel()

	s := New()
	putTrigger(t, s, &definitions.Trigger{TenantID: tenant, ID: "t-1", Name: "cpu"})

	_, ok, err := s.GetTrigger(context.Background(), "other", "t-1")
	if err != nil {
		t.Fatalf("GetTrigger: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for another tenant")
	}
}

func TestStore_GetTriggersOrderedAndFiltered(t *testing.T) {
	t.Parallel()

	s := New()
	putTrigger(t, s, &definitions.Trigger{TenantID: tenant, ID: "b", Name: "b", Tags: map[string]string{"env": "prod"}})
	putTrigger(t, s, &definitions.Trigger{TenantID: tenant, ID: "a", Name: "a", Tags: map[string]string{"env": "dev"}})
	putTrigger(t, s, &definitions.Trigger{TenantID: tenant, ID: "c", Name: "c"})

	all, err := s.GetTriggers(context.Background(), tenant, definitions.TriggerCriteria{})
	if err != nil {
		t.Fatalf("GetTriggers: %v", err)
	}
	if len(all) != 3 || all[0].ID != "a" || all[2].ID != "c" {
		t.Fatalf("unexpected order: %v", ids(all))
	}

	tagged, _ := s.GetTriggers(context.Background(), tenant, definitions.TriggerCriteria{Tags: map[string]string{"env": "*"}})
	if len(tagged) != 2 {
		t.Errorf("tagged = %v, want a and b", ids(tagged))
	}
}

func ids(ts []*definitions.Trigger) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.ID)
	}
	return out
}

func TestStore_GetMemberTriggers(t *testing.T) {
	t.Parallel()

	s := New()
	putTrigger(t, s, &definitions.Trigger{TenantID: tenant, ID: "g", Name: "g", Group: true})
	putTrigger(t, s, &definitions.Trigger{TenantID: tenant, ID: "m1", Name: "m1", GroupID: "g"})
	putTrigger(t, s, &definitions.Trigger{TenantID: tenant, ID: "m2", Name: "m2", GroupID: "g", Orphan: true})

	active, _ := s.GetMemberTriggers(context.Background(), tenant, "g", false)
	if len(active) != 1 || active[0].ID != "m1" {
		t.Errorf("active = %v, want [m1]", ids(active))
	}
	all, _ := s.GetMemberTriggers(context.Background(), tenant, "g", true)
	if len(all) != 2 {
		t.Errorf("all = %v, want [m1 m2]", ids(all))
	}
}

func TestStore_ReplaceConditions(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	putTrigger(t, s, &definitions.Trigger{TenantID: tenant, ID: "t-1", Name: "cpu"})

	err := s.WithinTx(ctx, func(ctx context.Context, tx definitions.Tx) error {
		if err := tx.ReplaceConditions(ctx, tenant, "t-1", definitions.ModeFiring, []*definitions.Condition{
			threshold("t-1", definitions.ModeFiring, 2, "y"),
			threshold("t-1", definitions.ModeFiring, 1, "x"),
		}); err != nil {
			return err
		}
		return tx.ReplaceConditions(ctx, tenant, "t-1", definitions.ModeAutoResolve, []*definitions.Condition{
			threshold("t-1", definitions.ModeAutoResolve, 1, "z"),
		})
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}

	conds, _ := s.GetTriggerConditions(ctx, tenant, "t-1", "")
	if len(conds) != 3 {
		t.Fatalf("conditions = %d, want 3", len(conds))
	}
	if conds[0].ConditionSetIndex != 1 || conds[1].ConditionSetIndex != 2 || conds[2].TriggerMode != definitions.ModeAutoResolve {
		t.Errorf("unexpected order: %+v", conds)
	}

	// replacing one mode leaves the other untouched
	err = s.WithinTx(ctx, func(ctx context.Context, tx definitions.Tx) error {
		return tx.ReplaceConditions(ctx, tenant, "t-1", definitions.ModeFiring, nil)
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	conds, _ = s.GetTriggerConditions(ctx, tenant, "t-1", "")
	if len(conds) != 1 || conds[0].TriggerMode != definitions.ModeAutoResolve {
		t.Errorf("conditions after replace = %+v", conds)
	}
}

func TestStore_DeleteTriggerCascades(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	putTrigger(t, s, &definitions.Trigger{TenantID: tenant, ID: "t-1", Name: "cpu"})

	d := &definitions.Dampening{TenantID: tenant, TriggerID: "t-1", TriggerMode: definitions.ModeFiring, Policy: definitions.Strict{EvalTrue: 2}}
	err := s.WithinTx(ctx, func(ctx context.Context, tx definitions.Tx) error {
		if err := tx.PutDampening(ctx, d); err != nil {
			return err
		}
		return tx.ReplaceConditions(ctx, tenant, "t-1", definitions.ModeFiring, []*definitions.Condition{threshold("t-1", definitions.ModeFiring, 1, "x")})
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx definitions.Tx) error {
		return tx.DeleteTrigger(ctx, tenant, "t-1")
	})
	if err != nil {
		t.Fatalf("DeleteTrigger: %v", err)
	}

	if _, ok, _ := s.GetDampening(ctx, tenant, d.ID()); ok {
		t.Error("dampening survived trigger deletion")
	}
	if conds, _ := s.GetConditions(ctx, tenant); len(conds) != 0 {
		t.Errorf("conditions survived trigger deletion: %d", len(conds))
	}
}

func TestStore_WithinTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context, tx definitions.Tx) error {
		if err := tx.PutTrigger(ctx, &definitions.Trigger{TenantID: tenant, ID: "t-1", Name: "cpu"}); err != nil {
			return err
		}
		if _, ok, _ := tx.GetTrigger(ctx, tenant, "t-1"); !ok {
			t.Error("write not visible inside the transaction")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, ok, _ := s.GetTrigger(ctx, tenant, "t-1"); ok {
		t.Fatal("write visible after rollback")
	}
}

func TestStore_WithinTxCancelled(t *testing.T) {
	t.Parallel()

	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithinTx(ctx, func(context.Context, definitions.Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if called {
		t.Error("fn ran on a cancelled context")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n * 2)

	for i := range n {
		id := fmt.Sprintf("id-%d", i)

		go func() {
			defer wg.Done()
			_ = s.WithinTx(ctx, func(ctx context.Context, tx definitions.Tx) error {
				return tx.PutTrigger(ctx, &definitions.Trigger{TenantID: tenant, ID: id, Name: id})
			})
		}()

		go func() {
			defer wg.Done()
			_, _, _ = s.GetTrigger(ctx, tenant, id)
			_, _ = s.GetTriggers(ctx, tenant, definitions.TriggerCriteria{})
		}()
	}

	wg.Wait()

	all, _ := s.GetTriggers(ctx, tenant, definitions.TriggerCriteria{})
	if len(all) != n {
		t.Errorf("triggers = %d, want %d", len(all), n)
	}
}
