package definitions

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"
	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

var tracer = otel.Tracer("github.com/linnemanlabs/beacon/internal/definitions")

// memberNamespace seeds deterministic member ids.
var memberNamespace = uuid.MustParse("6f1c2f4e-2a4b-5d0e-9b7a-3c1f0d8e4b21")

// Service is the business boundary for trigger definitions. It holds no
// state between calls; all durable state lives in the Store.
type Service struct {
	store   Store
	logger  log.Logger
	metrics *Metrics
	newID   func() string
}

// NewService creates a new definitions service. A nil logger discards logs
// and nil metrics are not recorded.
func NewService(store Store, logger log.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:   store,
		logger:  logger,
		metrics: metrics,
		newID:   func() string { return ulid.Make().String() },
	}
}

// memberID derives the default id of a member trigger.
func memberID(tenantID, groupID, memberName string) string {
	return uuid.NewSHA1(memberNamespace, []byte(tenantID+":"+groupID+":"+memberName)).String()
}

type opScope struct {
	s     *Service
	ctx   context.Context
	span  trace.Span
	name  string
	start time.Time
}

// begin opens the span and metrics scope of one Service operation.
func (s *Service) begin(ctx context.Context, name, tenantID string, attrs ...attribute.KeyValue) (context.Context, *opScope) {
	attrs = append(attrs, attribute.String("beacon.tenant.id", tenantID))
	ctx, span := tracer.Start(ctx, "definitions."+name, trace.WithAttributes(attrs...))
	return ctx, &opScope{s: s, ctx: ctx, span: span, name: name, start: time.Now()}
}

// end closes the scope. Internal failures are logged in full here; callers
// only see the error value.
func (o *opScope) end(errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	kind := KindOf(err)
	o.span.SetAttributes(attribute.String("beacon.outcome", string(kind)))
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
	}
	if kind == KindInternal {
		o.s.logger.Error(o.ctx, err, "definitions operation failed", "op", o.name)
	}
	o.s.metrics.observe(o.name, o.start, err)
	o.span.End()
}

func (s *Service) tx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.store.WithinTx(ctx, fn)
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return invalidf("tenant is required")
	}
	return nil
}

func requireID(what, id string) error {
	if id == "" {
		return invalidf("%s is required", what)
	}
	return nil
}

// loadTrigger returns the trigger or a NotFound error.
func loadTrigger(ctx context.Context, r Reader, tenantID, triggerID string) (*Trigger, error) {
	t, ok, err := r.GetTrigger(ctx, tenantID, triggerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFoundf("trigger %q", triggerID)
	}
	return t, nil
}

// loadGroup returns the group root or a GroupNotFound / InvalidArgument error.
func loadGroup(ctx context.Context, r Reader, tenantID, groupID string) (*Trigger, error) {
	g, ok, err := r.GetTrigger(ctx, tenantID, groupID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, groupNotFound(groupID)
	}
	if !g.Group {
		return nil, invalidf("trigger %q is not a group trigger", groupID)
	}
	return g, nil
}

// requireDirect rejects definition writes on triggers whose definitions are
// owned by a group template.
func requireDirect(t *Trigger) error {
	switch t.State() {
	case StateGroupRoot:
		return invalidf("trigger %q is a group trigger, use the group operation", t.ID)
	case StateMemberActive:
		return invalidf("trigger %q is an active group member, orphan it first", t.ID)
	}
	return nil
}

// loadDirect loads a trigger for a direct definition write. A member's group
// is locked before the state check so the write cannot interleave with an
// orphan or unorphan of the same member.
func loadDirect(ctx context.Context, tx Tx, tenantID, triggerID string) (*Trigger, error) {
	t, err := loadTrigger(ctx, tx, tenantID, triggerID)
	if err != nil {
		return nil, err
	}
	if t.GroupID != "" {
		if err := tx.LockGroup(ctx, tenantID, t.GroupID); err != nil {
			return nil, err
		}
		if t, err = loadTrigger(ctx, tx, tenantID, triggerID); err != nil {
			return nil, err
		}
	}
	if err := requireDirect(t); err != nil {
		return nil, err
	}
	return t, nil
}
