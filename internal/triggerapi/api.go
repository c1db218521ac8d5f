// Package triggerapi exposes the trigger definitions service over HTTP/JSON.
package triggerapi

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/beacon/internal/definitions"
)

// DefinitionsService defines the business operations triggerapi needs.
type DefinitionsService interface {
	GetTrigger(ctx context.Context, tenantID, triggerID string) (*definitions.Trigger, error)
	FindTriggers(ctx context.Context, tenantID string, criteria definitions.TriggerCriteria) ([]*definitions.Trigger, error)
	GetFullTrigger(ctx context.Context, tenantID, triggerID string) (*definitions.FullTrigger, error)
	CreateTrigger(ctx context.Context, tenantID string, in *definitions.Trigger) (*definitions.Trigger, error)
	CreateFullTrigger(ctx context.Context, tenantID string, ft *definitions.FullTrigger) (*definitions.FullTrigger, error)
	UpdateTrigger(ctx context.Context, tenantID string, in *definitions.Trigger) (*definitions.Trigger, error)
	RemoveTrigger(ctx context.Context, tenantID, triggerID string) error

	CreateGroupTrigger(ctx context.Context, tenantID string, in *definitions.Trigger) (*definitions.Trigger, error)
	FindGroupMembers(ctx context.Context, tenantID, groupID string, includeOrphans bool) ([]*definitions.Trigger, error)
	AddMemberTrigger(ctx context.Context, tenantID string, spec definitions.MemberSpec) (*definitions.Trigger, error)
	UpdateGroupTrigger(ctx context.Context, tenantID string, in *definitions.Trigger) (*definitions.Trigger, error)
	OrphanMemberTrigger(ctx context.Context, tenantID, memberID string) (*definitions.Trigger, error)
	UnorphanMemberTrigger(ctx context.Context, tenantID, memberID string, spec definitions.UnorphanSpec) (*definitions.Trigger, error)
	RemoveGroupTrigger(ctx context.Context, tenantID, groupID string, keepNonOrphans, keepOrphans bool) error

	GetDampening(ctx context.Context, tenantID, dampeningID string) (*definitions.Dampening, error)
	GetTriggerDampenings(ctx context.Context, tenantID, triggerID string, mode definitions.Mode) ([]*definitions.Dampening, error)
	CreateDampening(ctx context.Context, tenantID, triggerID string, in *definitions.Dampening) (*definitions.Dampening, error)
	UpdateDampening(ctx context.Context, tenantID, triggerID, dampeningID string, in definitions.DampeningSpec) (*definitions.Dampening, error)
	RemoveDampening(ctx context.Context, tenantID, triggerID, dampeningID string) error
	CreateGroupDampening(ctx context.Context, tenantID, groupID string, in *definitions.Dampening) (*definitions.Dampening, error)
	UpdateGroupDampening(ctx context.Context, tenantID, groupID, dampeningID string, in definitions.DampeningSpec) (*definitions.Dampening, error)
	RemoveGroupDampening(ctx context.Context, tenantID, groupID, dampeningID string) error

	GetTriggerConditions(ctx context.Context, tenantID, triggerID string, mode definitions.Mode) ([]*definitions.Condition, error)
	GetCondition(ctx context.Context, tenantID, triggerID, conditionID string) (*definitions.Condition, error)
	ListConditions(ctx context.Context, tenantID string, kind definitions.ConditionKind) ([]*definitions.Condition, error)
	SetConditions(ctx context.Context, tenantID, triggerID string, mode definitions.Mode, conds []*definitions.Condition) ([]*definitions.Condition, error)
	SetAllConditions(ctx context.Context, tenantID, triggerID string, conds []*definitions.Condition) ([]*definitions.Condition, error)
	SetGroupConditions(ctx context.Context, tenantID, groupID string, mode definitions.Mode, conds []*definitions.Condition, dataIDMemberMap definitions.DataIDMemberMap) ([]*definitions.Condition, error)
	SetAllGroupConditions(ctx context.Context, tenantID, groupID string, conds []*definitions.Condition, dataIDMemberMap definitions.DataIDMemberMap) ([]*definitions.Condition, error)
	AddCondition(ctx context.Context, tenantID, triggerID string, c *definitions.Condition) ([]*definitions.Condition, error)
	UpdateCondition(ctx context.Context, tenantID, triggerID, conditionID string, c *definitions.Condition) ([]*definitions.Condition, error)
	RemoveCondition(ctx context.Context, tenantID, triggerID, conditionID string) ([]*definitions.Condition, error)
}

var _ DefinitionsService = (*definitions.Service)(nil)

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    DefinitionsService
}

// New creates a new API handler.
func New(logger log.Logger, svc DefinitionsService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("definitions service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router. The router is expected
// to run authmw.Tenant ahead of these handlers.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/triggers", func(r chi.Router) {
			r.Get("/", a.handleFindTriggers)
			r.Post("/", a.handleCreateTrigger)
			r.Post("/trigger", a.handleCreateFullTrigger)
			r.Get("/trigger/{triggerId}", a.handleGetFullTrigger)

			r.Route("/groups", func(r chi.Router) {
				r.Post("/", a.handleCreateGroupTrigger)
				r.Post("/members", a.handleAddMember)
				r.Post("/members/{memberId}/orphan", a.handleOrphanMember)
				r.Post("/members/{memberId}/unorphan", a.handleUnorphanMember)
				r.Put("/{groupId}", a.handleUpdateGroupTrigger)
				r.Delete("/{groupId}", a.handleRemoveGroupTrigger)
				r.Get("/{groupId}/members", a.handleFindGroupMembers)
				r.Post("/{groupId}/dampenings", a.handleCreateGroupDampening)
				r.Put("/{groupId}/dampenings/{dampeningId}", a.handleUpdateGroupDampening)
				r.Delete("/{groupId}/dampenings/{dampeningId}", a.handleRemoveGroupDampening)
				r.Put("/{groupId}/conditions", a.handleSetAllGroupConditions)
				r.Put("/{groupId}/conditions/{triggerMode}", a.handleSetGroupConditions)
			})

			r.Get("/{triggerId}", a.handleGetTrigger)
			r.Put("/{triggerId}", a.handleUpdateTrigger)
			r.Delete("/{triggerId}", a.handleRemoveTrigger)

			r.Get("/{triggerId}/dampenings", a.handleGetTriggerDampenings)
			r.Get("/{triggerId}/dampenings/mode/{triggerMode}", a.handleGetTriggerDampeningsByMode)
			r.Get("/{triggerId}/dampenings/{dampeningId}", a.handleGetDampening)
			r.Post("/{triggerId}/dampenings", a.handleCreateDampening)
			r.Put("/{triggerId}/dampenings/{dampeningId}", a.handleUpdateDampening)
			r.Delete("/{triggerId}/dampenings/{dampeningId}", a.handleRemoveDampening)

			r.Get("/{triggerId}/conditions", a.handleGetTriggerConditions)
			r.Put("/{triggerId}/conditions", a.handleSetAllConditions)
			r.Post("/{triggerId}/conditions", a.handleAddCondition)
			// {id} is a trigger mode for set-by-mode, otherwise a condition id
			r.Get("/{triggerId}/conditions/{id}", a.handleGetCondition)
			r.Put("/{triggerId}/conditions/{id}", a.handlePutConditions)
			r.Delete("/{triggerId}/conditions/{id}", a.handleRemoveCondition)
		})

		r.Get("/conditions", a.handleListConditions)
	})
}
