package triggerapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/beacon/internal/definitions"
)

func (a *API) handleFindTriggers(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	criteria, err := parseCriteria(q.Get("triggerIds"), q.Get("tags"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	ts, err := a.svc.FindTriggers(r.Context(), tenantID, criteria)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if ts == nil {
		ts = []*definitions.Trigger{}
	}
	writeJSON(w, http.StatusOK, ts)
}

func (a *API) handleGetTrigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "triggerId")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.trigger.id", id))

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	t, err := a.svc.GetTrigger(r.Context(), tenantID, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleGetFullTrigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "triggerId")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.trigger.id", id))

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	ft, err := a.svc.GetFullTrigger(r.Context(), tenantID, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ft)
}

func (a *API) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
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
	t, err := a.svc.CreateTrigger(r.Context(), tenantID, &in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.trigger.id", t.ID))
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleCreateFullTrigger(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var in definitions.FullTrigger
	if err := decode(r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	ft, err := a.svc.CreateFullTrigger(r.Context(), tenantID, &in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ft)
}

func (a *API) handleUpdateTrigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "triggerId")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.trigger.id", id))

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
	in.ID = id
	t, err := a.svc.UpdateTrigger(r.Context(), tenantID, &in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleRemoveTrigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "triggerId")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("beacon.trigger.id", id))

	tenantID, err := tenant(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.svc.RemoveTrigger(r.Context(), tenantID, id); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
