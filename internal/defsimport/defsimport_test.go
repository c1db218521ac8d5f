package defsimport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linnemanlabs/beacon/internal/definitions"
	"github.com/linnemanlabs/beacon/internal/definitions/memstore"
)

const sample = `
version: 1
triggers:
  - trigger:
      id: disk
      name: disk full
      severity: HIGH
      tags: {team: storage}
    dampenings:
      - {triggerMode: FIRING, type: STRICT, evalTrueSetting: 2, evalTimeSetting: 1000}
    conditions:
      - {triggerMode: FIRING, type: THRESHOLD, dataId: disk.used, operator: GT, threshold: 90}
groups:
  - trigger:
      id: cpu
      name: cpu high
    conditions:
      - {triggerMode: FIRING, type: THRESHOLD, dataId: cpu, operator: GT, threshold: 80}
    members:
      - {memberName: web-1, dataIdMap: {cpu: web-1.cpu}}
      - {memberName: web-2, dataIdMap: {cpu: web-2.cpu}}
`

const tenant = "acme"

func TestParse(t *testing.T) {
	t.Parallel()

	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, f.Triggers, 1)
	require.Len(t, f.Groups, 1)

	ft := f.Triggers[0]
	assert.Equal(t, "disk", ft.Trigger.ID)
	assert.Equal(t, definitions.SeverityHigh, ft.Trigger.Severity)
	assert.Equal(t, "storage", ft.Trigger.Tags["team"])
	require.Len(t, ft.Dampenings, 1)
	assert.Equal(t, definitions.Strict{EvalTrue: 2}, ft.Dampenings[0].Policy)
	require.Len(t, ft.Conditions, 1)
	assert.Equal(t, definitions.KindThreshold, ft.Conditions[0].Kind())

	g := f.Groups[0]
	assert.True(t, g.Definition.Trigger.Group)
	require.Len(t, g.Members, 2)
	assert.Equal(t, "cpu", g.Members[0].GroupID)
	assert.Equal(t, "web-1.cpu", g.Members[0].DataIDMap["cpu"])
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
	}{
		{"bad yaml", "version: [1"},
		{"missing version", "triggers: []"},
		{"future version", "version: 2"},
		{"trigger without body", "version: 1\ntriggers:\n  - dampenings: []"},
		{"unsupported dampening", "version: 1\ntriggers:\n  - trigger: {id: a, name: a}\n    dampenings: [{triggerMode: FIRING, type: SOMETIMES}]"},
		{"unknown condition type", "version: 1\ntriggers:\n  - trigger: {id: a, name: a}\n    conditions: [{triggerMode: FIRING, type: MAGIC, dataId: x}]"},
		{"group without body", "version: 1\ngroups:\n  - members: []"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.in))
			require.Error(t, err)
		})
	}
}

func TestApply(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := definitions.NewService(memstore.New(), nil, nil)
	f, err := Parse([]byte(sample))
	require.NoError(t, err)

	res, err := New(svc, nil).Apply(ctx, tenant, f)
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 4}, res)

	full, err := svc.GetFullTrigger(ctx, tenant, "disk")
	require.NoError(t, err)
	assert.Len(t, full.Dampenings, 1)
	assert.Len(t, full.Conditions, 1)

	members, err := svc.FindGroupMembers(ctx, tenant, "cpu", false)
	require.NoError(t, err)
	require.Len(t, members, 2)

	conds, err := svc.GetTriggerConditions(ctx, tenant, members[0].ID, "")
	require.NoError(t, err)
	require.Len(t, conds, 1)
	assert.Contains(t, []string{"web-1.cpu", "web-2.cpu"}, conds[0].Expr.DataIDs()[0])

	// a second run finds everything in place
	res, err = New(svc, nil).Apply(ctx, tenant, f)
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 4}, res)
}

type failingService struct{ err error }

func (f failingService) CreateFullTrigger(context.Context, string, *definitions.FullTrigger) (*definitions.FullTrigger, error) {
	return nil, f.err
}

func (f failingService) AddMemberTrigger(context.Context, string, definitions.MemberSpec) (*definitions.Trigger, error) {
	return nil, f.err
}

func TestApply_StopsOnError(t *testing.T) {
	t.Parallel()

	f, err := Parse([]byte(sample))
	require.NoError(t, err)

	boom := errors.New("store unavailable")
	res, err := New(failingService{err: boom}, nil).Apply(context.Background(), tenant, f)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, Result{}, res)
}

func TestImportFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "definitions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	svc := definitions.NewService(memstore.New(), nil, nil)
	res, err := ImportFile(context.Background(), svc, nil, path, tenant)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Created)

	_, err = ImportFile(context.Background(), svc, nil, filepath.Join(t.TempDir(), "missing.yaml"), tenant)
	require.Error(t, err)
}
