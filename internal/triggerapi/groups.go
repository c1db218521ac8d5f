package triggerapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/beacon/internal/definitions"
)

func (a *API) handleCreateGroupTrigger(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var in definitions.Trigger
	if err := decode(r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	g, err := a.svc.CreateGroupTrigger(r.Context(), tenantID, &in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.group.id", g.ID))
	writeJSON(w, http.StatusOK, g)
}

func (a *API) handleUpdateGroupTrigger(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.group.id", groupID))

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var in definitions.Trigger
	if err := decode(r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	in.ID = groupID
	g, err := a.svc.UpdateGroupTrigger(r.Context(), tenantID, &in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (a *API) handleRemoveGroupTrigger(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.group.id", groupID))

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	keepNonOrphans, err := queryBool(r, "keepNonOrphans")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	keepOrphans, err := queryBool(r, "keepOrphans")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.svc.RemoveGroupTrigger(r.Context(), tenantID, groupID, keepNonOrphans, keepOrphans); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleFindGroupMembers(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.group.id", groupID))

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	includeOrphans, err := queryBool(r, "includeOrphans")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	ms, err := a.svc.FindGroupMembers(r.Context(), tenantID, groupID, includeOrphans)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if ms == nil {
		ms = []*definitions.Trigger{}
	}
	writeJSON(w, http.StatusOK, ms)
}

func (a *API) handleAddMember(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var spec definitions.MemberSpec
	if err := decode(r, &spec); err != nil {
		a.writeError(w, r, err)
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.group.id", spec.GroupID))

	m, err := a.svc.AddMemberTrigger(r.Context(), tenantID, spec)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleOrphanMember(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "memberId")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.trigger.id", memberID))

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	m, err := a.svc.OrphanMemberTrigger(r.Context(), tenantID, memberID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleUnorphanMember(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "memberId")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.trigger.id", memberID))

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var spec definitions.UnorphanSpec
	if r.ContentLength != 0 {
		if err := decode(r, &spec); err != nil {
			a.writeError(w, r, err)
			return
		}
	}
	m, err := a.svc.UnorphanMemberTrigger(r.Context(), tenantID, memberID, spec)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleCreateGroupDampening(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.group.id", groupID))

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var in definitions.Dampening
	if err := decode(r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	d, err := a.svc.CreateGroupDampening(r.Context(), tenantID, groupID, &in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) handleUpdateGroupDampening(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	dampeningID := chi.URLParam(r, "dampeningId")
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("beacon.group.id", groupID),
		attribute.String("beacon.dampening.id", dampeningID),
	)

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	// the flat form lets an update leave triggerMode out
	var in definitions.DampeningSpec
	if err := decode(r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	d, err := a.svc.UpdateGroupDampening(r.Context(), tenantID, groupID, dampeningID, in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) handleRemoveGroupDampening(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	dampeningID := chi.URLParam(r, "dampeningId")
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("beacon.group.id", groupID),
		attribute.String("beacon.dampening.id", dampeningID),
	)

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.svc.RemoveGroupDampening(r.Context(), tenantID, groupID, dampeningID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// groupConditionsRequest is the body of the group condition routes.
type groupConditionsRequest struct {
	Conditions      []*definitions.Condition    `json:"conditions"`
	DataIDMemberMap definitions.DataIDMemberMap `json:"dataIdMemberMap,omitempty"`
}

func (a *API) handleSetGroupConditions(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.group.id", groupID))

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	mode, err := definitions.ParseMode(chi.URLParam(r, "triggerMode"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req groupConditionsRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	// the path decides the mode
	for _, c := range req.Conditions {
		if c != nil {
			c.TriggerMode = mode
		}
	}
	out, err := a.svc.SetGroupConditions(r.Context(), tenantID, groupID, mode, req.Conditions, req.DataIDMemberMap)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilConditions(out))
}

func (a *API) handleSetAllGroupConditions(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.group.id", groupID))

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req groupConditionsRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	out, err := a.svc.SetAllGroupConditions(r.Context(), tenantID, groupID, req.Conditions, req.DataIDMemberMap)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilConditions(out))
}
