package triggerapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/beacon/internal/authmw"
	"github.com/linnemanlabs/beacon/internal/definitions"
)

var errMissingTenant = fmt.Errorf("missing tenant: %w", definitions.ErrInvalidArgument)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a definitions error kind to an HTTP status.
func statusFor(kind definitions.Kind) int {
	switch kind {
	case definitions.KindNotFound:
		return http.StatusNotFound
	case definitions.KindConflict:
		return http.StatusConflict
	case definitions.KindInvalidArgument, definitions.KindMissingDataIDMapping:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Internal failures are logged and replaced by an
// opaque message.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := definitions.KindOf(err)
	status := statusFor(kind)

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("beacon.error.kind", string(kind)))

	if status == http.StatusInternalServerError {
		a.logger.Error(r.Context(), err, "definitions request failed", "method", r.Method, "path", r.URL.Path)
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// tenant returns the tenant established by authmw.Tenant.
func tenant(r *http.Request) (string, error) {
	t, ok := authmw.TenantFromContext(r.Context())
	if !ok {
		return "", errMissingTenant
	}
	return t, nil
}

// decode reads a JSON body into v. Any failure is an invalid argument.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty request body: %w", definitions.ErrInvalidArgument)
		}
		if definitions.KindOf(err) != definitions.KindInternal {
			return err
		}
		return fmt.Errorf("invalid payload: %v: %w", err, definitions.ErrInvalidArgument)
	}
	return nil
}

// queryBool parses an optional boolean query parameter.
func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("query parameter %s=%q: %w", name, raw, definitions.ErrInvalidArgument)
	}
	return b, nil
}

// parseCriteria builds trigger criteria from the comma separated triggerIds
// and tags parameters. Each tag is "name|value"; a value of "*" matches any.
func parseCriteria(triggerIDs, tags string) (definitions.TriggerCriteria, error) {
	var c definitions.TriggerCriteria
	if triggerIDs != "" {
		for id := range strings.SplitSeq(triggerIDs, ",") {
			if id = strings.TrimSpace(id); id != "" {
				c.TriggerIDs = append(c.TriggerIDs, id)
			}
		}
	}
	if tags != "" {
		c.Tags = make(map[string]string)
		for tok := range strings.SplitSeq(tags, ",") {
			fields := strings.Split(tok, "|")
			if len(fields) != 2 || fields[0] == "" || fields[1] == "" {
				return definitions.TriggerCriteria{}, fmt.Errorf("invalid tag criteria %q: %w", tok, definitions.ErrInvalidArgument)
			}
			c.Tags[fields[0]] = fields[1]
		}
	}
	return c, nil
}
