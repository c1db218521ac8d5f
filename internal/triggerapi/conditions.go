package triggerapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/beacon/internal/definitions"
)

func nonNilConditions(cs []*definitions.Condition) []*definitions.Condition {
	if cs == nil {
		return []*definitions.Condition{}
	}
	return cs
}

func (a *API) handleGetTriggerConditions(w http.ResponseWriter, r *http.Request) {
	triggerID := chi.URLParam(r, "triggerId")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.trigger.id", triggerID))

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var mode definitions.Mode
	if raw := r.URL.Query().Get("triggerMode"); raw != "" {
		if mode, err = definitions.ParseMode(raw); err != nil {
			a.writeError(w, r, err)
			return
		}
	}
	cs, err := a.svc.GetTriggerConditions(r.Context(), tenantID, triggerID, mode)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilConditions(cs))
}

func (a *API) handleGetCondition(w http.ResponseWriter, r *http.Request) {
	triggerID := chi.URLParam(r, "triggerId")
	conditionID := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("beacon.trigger.id", triggerID),
		attribute.String("beacon.condition.id", conditionID),
	)

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	c, err := a.svc.GetCondition(r.Context(), tenantID, triggerID, conditionID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleListConditions(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	kind := definitions.ConditionKind(r.URL.Query().Get("type"))
	cs, err := a.svc.ListConditions(r.Context(), tenantID, kind)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilConditions(cs))
}

func (a *API) handleSetAllConditions(w http.ResponseWriter, r *http.Request) {
	triggerID := chi.URLParam(r, "triggerId")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.trigger.id", triggerID))

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var conds []*definitions.Condition
	if err := decode(r, &conds); err != nil {
		a.writeError(w, r, err)
		return
	}
	out, err := a.svc.SetAllConditions(r.Context(), tenantID, triggerID, conds)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilConditions(out))
}

// handlePutConditions replaces one mode's condition set when {id} is a
// trigger mode and otherwise updates the single condition {id}.
func (a *API) handlePutConditions(w http.ResponseWriter, r *http.Request) {
	triggerID := chi.URLParam(r, "triggerId")
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.trigger.id", triggerID))

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	mode, modeErr := definitions.ParseMode(id)
	if modeErr != nil {
		trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.condition.id", id))
		var c definitions.Condition
		if err := decode(r, &c); err != nil {
			a.writeError(w, r, err)
			return
		}
		out, err := a.svc.UpdateCondition(r.Context(), tenantID, triggerID, id, &c)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNilConditions(out))
		return
	}

	var conds []*definitions.Condition
	if r.ContentLength != 0 {
		if err := decode(r, &conds); err != nil {
			a.writeError(w, r, err)
			return
		}
	}
	// the path decides the mode
	for _, c := range conds {
		if c != nil {
			c.TriggerMode = mode
		}
	}
	out, err := a.svc.SetConditions(r.Context(), tenantID, triggerID, mode, conds)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilConditions(out))
}

func (a *API) handleAddCondition(w http.ResponseWriter, r *http.Request) {
	triggerID := chi.URLParam(r, "triggerId")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.trigger.id", triggerID))

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var c definitions.Condition
	if err := decode(r, &c); err != nil {
		a.writeError(w, r, err)
		return
	}
	out, err := a.svc.AddCondition(r.Context(), tenantID, triggerID, &c)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilConditions(out))
}

func (a *API) handleRemoveCondition(w http.ResponseWriter, r *http.Request) {
	triggerID := chi.URLParam(r, "triggerId")
	conditionID := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("beacon.trigger.id", triggerID),
		attribute.String("beacon.condition.id", conditionID),
	)

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out, err := a.svc.RemoveCondition(r.Context(), tenantID, triggerID, conditionID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilConditions(out))
}
