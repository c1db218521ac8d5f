package authmw

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

type tenantKey struct{}

// DefaultTenantHeader is the header read when none is configured.
const DefaultTenantHeader = "Hawkular-Tenant"

// Tenant returns middleware that requires a non-blank tenant id in header
// and stores it in the request context. The tenant is also attached to the
// request logger and the active span.
func Tenant(header string) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultTenantHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant := strings.TrimSpace(r.Header.Get(header))
			if tenant == "" {
				writeError(w, http.StatusBadRequest, "missing tenant header "+header)
				return
			}

			ctx := WithTenant(r.Context(), tenant)
			ctx = log.WithContext(ctx, log.FromContext(ctx).With("tenant", tenant))
			trace.SpanFromContext(ctx).SetAttributes(attribute.String("beacon.tenant.id", tenant))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithTenant returns a copy of ctx carrying tenant.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// TenantFromContext returns the tenant stored by Tenant, if any.
func TenantFromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tenantKey{}).(string)
	return t, ok && t != ""
}
