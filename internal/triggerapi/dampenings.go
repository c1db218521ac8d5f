package triggerapi

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/beacon/internal/definitions"
)

func (a *API) listDampenings(w http.ResponseWriter, r *http.Request, mode definitions.Mode) {
	triggerID := chi.URLParam(r, "triggerId")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.trigger.id", triggerID))

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	ds, err := a.svc.GetTriggerDampenings(r.Context(), tenantID, triggerID, mode)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if ds == nil {
		ds = []*definitions.Dampening{}
	}
	writeJSON(w, http.StatusOK, ds)
}

func (a *API) handleGetTriggerDampenings(w http.ResponseWriter, r *http.Request) {
	a.listDampenings(w, r, "")
}

func (a *API) handleGetTriggerDampeningsByMode(w http.ResponseWriter, r *http.Request) {
	mode, err := definitions.ParseMode(chi.URLParam(r, "triggerMode"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.listDampenings(w, r, mode)
}

func (a *API) handleGetDampening(w http.ResponseWriter, r *http.Request) {
	triggerID := chi.URLParam(r, "triggerId")
	dampeningID := chi.URLParam(r, "dampeningId")
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("beacon.trigger.id", triggerID),
		attribute.String("beacon.dampening.id", dampeningID),
	)

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	d, err := a.svc.GetDampening(r.Context(), tenantID, dampeningID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if d.TriggerID != triggerID {
		a.writeError(w, r, fmt.Errorf("dampening %q on trigger %q: %w", dampeningID, triggerID, definitions.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) handleCreateDampening(w http.ResponseWriter, r *http.Request) {
	triggerID := chi.URLParam(r, "triggerId")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.trigger.id", triggerID))

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
	d, err := a.svc.CreateDampening(r.Context(), tenantID, triggerID, &in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) handleUpdateDampening(w http.ResponseWriter, r *http.Request) {
	triggerID := chi.URLParam(r, "triggerId")
	dampeningID := chi.URLParam(r, "dampeningId")
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("beacon.trigger.id", triggerID),
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
	d, err := a.svc.UpdateDampening(r.Context(), tenantID, triggerID, dampeningID, in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) handleRemoveDampening(w http.ResponseWriter, r *http.Request) {
	triggerID := chi.URLParam(r, "triggerId")
	dampeningID := chi.URLParam(r, "dampeningId")
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("beacon.trigger.id", triggerID),
		attribute.String("beacon.dampening.id", dampeningID),
	)

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.svc.RemoveDampening(r.Context(), tenantID, triggerID, dampeningID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
