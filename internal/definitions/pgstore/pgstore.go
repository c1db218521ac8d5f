// Package pgstore provides a PostgreSQL implementation of definitions.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/beacon/internal/definitions"
)

var tracer = otel.Tracer("github.com/linnemanlabs/beacon/internal/definitions/pgstore")

//go:embed schema.sql
var schema string

var (
	_ definitions.Store = (*Store)(nil)
	_ definitions.Tx    = (*tx)(nil)
)

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// reader implements definitions.Reader over any querier.
type reader struct {
	q querier
}

// Store persists trigger definitions in PostgreSQL.
type Store struct {
	reader
	pool *pgxpool.Pool
}

// tx is the definitions.Tx handed to WithinTx callbacks.
type tx struct {
	reader
	tx pgx.Tx
}

// New verifies the pool, applies the schema, and returns a ready Store.
// The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{reader: reader{q: pool}, pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "pgstore."+name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// WithinTx runs fn inside a single database transaction. The transaction is
// committed only when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx definitions.Tx) error) error {
	ctx, span := startSpan(ctx, "WithinTx", "TRANSACTION")
	defer span.End()

	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer pgTx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := fn(ctx, &tx{reader: reader{q: pgTx}, tx: pgTx}); err != nil {
		return fail(span, err)
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

const triggerColumns = `tenant_id, id, name, description, enabled, severity, firing_match,
	autoresolve_match, auto_resolve, auto_disable, context, tags, is_group, group_id,
	member_name, data_id_map, orphan`

const dampeningColumns = `tenant_id, trigger_id, trigger_mode, type, eval_true, eval_total, eval_time_ms`

const conditionColumns = `tenant_id, trigger_id, trigger_mode, condition_id, set_size, set_index, body`

const modeOrder = `CASE trigger_mode WHEN 'FIRING' THEN 0 ELSE 1 END`

// GetTrigger retrieves a trigger by id.
func (r reader) GetTrigger(ctx context.Context, tenantID, triggerID string) (*definitions.Trigger, bool, error) {
	ctx, span := startSpan(ctx, "GetTrigger", "SELECT")
	defer span.End()

	query := `SELECT ` + triggerColumns + ` FROM triggers WHERE tenant_id = $1 AND id = $2`
	t, err := scanTrigger(r.q.QueryRow(ctx, query, tenantID, triggerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, err)
	}
	return t, true, nil
}

// GetTriggers lists the tenant's triggers matching criteria, ordered by id.
// Ids are filtered in SQL, tags in Go.
func (r reader) GetTriggers(ctx context.Context, tenantID string, criteria definitions.TriggerCriteria) ([]*definitions.Trigger, error) {
	ctx, span := startSpan(ctx, "GetTriggers", "SELECT")
	defer span.End()

	var ids []string
	if len(criteria.TriggerIDs) > 0 {
		ids = criteria.TriggerIDs
	}
	query := `SELECT ` + triggerColumns + ` FROM triggers
		WHERE tenant_id = $1 AND ($2::text[] IS NULL OR id = ANY($2))
		ORDER BY id`
	all, err := r.queryTriggers(ctx, query, tenantID, ids)
	if err != nil {
		return nil, fail(span, err)
	}

	out := all[:0]
	for _, t := range all {
		if criteria.Matches(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetMemberTriggers lists the members of a group, ordered by id.
func (r reader) GetMemberTriggers(ctx context.Context, tenantID, groupID string, includeOrphans bool) ([]*definitions.Trigger, error) {
	ctx, span := startSpan(ctx, "GetMemberTriggers", "SELECT")
	defer span.End()

	query := `SELECT ` + triggerColumns + ` FROM triggers
		WHERE tenant_id = $1 AND group_id = $2 AND ($3 OR NOT orphan)
		ORDER BY id`
	out, err := r.queryTriggers(ctx, query, tenantID, groupID, includeOrphans)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

func (r reader) queryTriggers(ctx context.Context, query string, args ...any) ([]*definitions.Trigger, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()

	var out []*definitions.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate triggers: %w", err)
	}
	return out, nil
}

// GetDampening retrieves a dampening by id.
func (r reader) GetDampening(ctx context.Context, tenantID, dampeningID string) (*definitions.Dampening, bool, error) {
	ctx, span := startSpan(ctx, "GetDampening", "SELECT")
	defer span.End()

	query := `SELECT ` + dampeningColumns + ` FROM dampenings WHERE tenant_id = $1 AND dampening_id = $2`
	d, err := scanDampening(r.q.QueryRow(ctx, query, tenantID, dampeningID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, err)
	}
	return d, true, nil
}

// GetTriggerDampenings lists a trigger's dampenings, FIRING first. An empty
// mode lists both.
func (r reader) GetTriggerDampenings(ctx context.Context, tenantID, triggerID string, mode definitions.Mode) ([]*definitions.Dampening, error) {
	ctx, span := startSpan(ctx, "GetTriggerDampenings", "SELECT")
	defer span.End()

	query := `SELECT ` + dampeningColumns + ` FROM dampenings
		WHERE tenant_id = $1 AND trigger_id = $2 AND ($3::text = '' OR trigger_mode = $3::text)
		ORDER BY ` + modeOrder
	rows, err := r.q.Query(ctx, query, tenantID, triggerID, string(mode))
	if err != nil {
		return nil, fail(span, fmt.Errorf("query dampenings: %w", err))
	}
	defer rows.Close()

	var out []*definitions.Dampening
	for rows.Next() {
		d, err := scanDampening(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate dampenings: %w", err))
	}
	return out, nil
}

// GetCondition retrieves a condition by id.
func (r reader) GetCondition(ctx context.Context, tenantID, conditionID string) (*definitions.Condition, bool, error) {
	ctx, span := startSpan(ctx, "GetCondition", "SELECT")
	defer span.End()

	query := `SELECT ` + conditionColumns + ` FROM conditions WHERE tenant_id = $1 AND condition_id = $2`
	c, err := scanCondition(r.q.QueryRow(ctx, query, tenantID, conditionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, err)
	}
	return c, true, nil
}

// GetTriggerConditions lists a trigger's conditions by mode then set index.
func (r reader) GetTriggerConditions(ctx context.Context, tenantID, triggerID string, mode definitions.Mode) ([]*definitions.Condition, error) {
	ctx, span := startSpan(ctx, "GetTriggerConditions", "SELECT")
	defer span.End()

	query := `SELECT ` + conditionColumns + ` FROM conditions
		WHERE tenant_id = $1 AND trigger_id = $2 AND ($3::text = '' OR trigger_mode = $3::text)
		ORDER BY ` + modeOrder + `, set_index`
	out, err := r.queryConditions(ctx, query, tenantID, triggerID, string(mode))
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// GetConditions lists every condition of the tenant.
func (r reader) GetConditions(ctx context.Context, tenantID string) ([]*definitions.Condition, error) {
	ctx, span := startSpan(ctx, "GetConditions", "SELECT")
	defer span.End()

	query := `SELECT ` + conditionColumns + ` FROM conditions
		WHERE tenant_id = $1
		ORDER BY trigger_id, ` + modeOrder + `, set_index`
	out, err := r.queryConditions(ctx, query, tenantID)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

func (r reader) queryConditions(ctx context.Context, query string, args ...any) ([]*definitions.Condition, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conditions: %w", err)
	}
	defer rows.Close()

	var out []*definitions.Condition
	for rows.Next() {
		c, err := scanCondition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conditions: %w", err)
	}
	return out, nil
}

// LockGroup takes a transaction-scoped advisory lock on the group. Every
// writer touching the group or one of its members goes through it, so group
// operations on the same group are serialized.
func (t *tx) LockGroup(ctx context.Context, tenantID, groupID string) error {
	ctx, span := startSpan(ctx, "LockGroup", "SELECT")
	defer span.End()

	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`, tenantID, groupID); err != nil {
		return fail(span, fmt.Errorf("lock group %s: %w", groupID, err))
	}
	return nil
}

const insertTriggerSQL = `INSERT INTO triggers (` + triggerColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`

func triggerArgs(tr *definitions.Trigger) ([]any, error) {
	ctxJSON, err := marshalMap(tr.Context)
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}
	tagsJSON, err := marshalMap(tr.Tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	mapJSON, err := marshalMap(tr.DataIDMap)
	if err != nil {
		return nil, fmt.Errorf("marshal data id map: %w", err)
	}
	return []any{
		tr.TenantID, tr.ID, tr.Name, tr.Description, tr.Enabled, string(tr.Severity), string(tr.FiringMatch),
		string(tr.AutoResolveMatch), tr.AutoResolve, tr.AutoDisable, ctxJSON, tagsJSON, tr.Group, tr.GroupID,
		tr.MemberName, mapJSON, tr.Orphan,
	}, nil
}

// InsertTrigger inserts a new trigger. An existing row with the same id is
// left alone and reported as a conflict.
func (t *tx) InsertTrigger(ctx context.Context, tr *definitions.Trigger) error {
	ctx, span := startSpan(ctx, "InsertTrigger", "INSERT")
	defer span.End()

	args, err := triggerArgs(tr)
	if err != nil {
		return fail(span, err)
	}
	tag, err := t.tx.Exec(ctx, insertTriggerSQL+` ON CONFLICT (tenant_id, id) DO NOTHING`, args...)
	if err != nil {
		return fail(span, fmt.Errorf("insert trigger %s: %w", tr.ID, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trigger %q: %w", tr.ID, definitions.ErrConflict)
	}
	return nil
}

// PutTrigger inserts or replaces a trigger.
func (t *tx) PutTrigger(ctx context.Context, tr *definitions.Trigger) error {
	ctx, span := startSpan(ctx, "PutTrigger", "UPSERT")
	defer span.End()

	args, err := triggerArgs(tr)
	if err != nil {
		return fail(span, err)
	}
	query := insertTriggerSQL + `
	ON CONFLICT (tenant_id, id) DO UPDATE SET
		name              = EXCLUDED.name,
		description       = EXCLUDED.description,
		enabled           = EXCLUDED.enabled,
		severity          = EXCLUDED.severity,
		firing_match      = EXCLUDED.firing_match,
		autoresolve_match = EXCLUDED.autoresolve_match,
		auto_resolve      = EXCLUDED.auto_resolve,
		auto_disable      = EXCLUDED.auto_disable,
		context           = EXCLUDED.context,
		tags              = EXCLUDED.tags,
		is_group          = EXCLUDED.is_group,
		group_id          = EXCLUDED.group_id,
		member_name       = EXCLUDED.member_name,
		data_id_map       = EXCLUDED.data_id_map,
		orphan            = EXCLUDED.orphan,
		updated_at        = now()`

	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return fail(span, fmt.Errorf("upsert trigger %s: %w", tr.ID, err))
	}
	return nil
}

// DeleteTrigger removes a trigger. Its dampenings and conditions go with it
// through the foreign key cascade.
func (t *tx) DeleteTrigger(ctx context.Context, tenantID, triggerID string) error {
	ctx, span := startSpan(ctx, "DeleteTrigger", "DELETE")
	defer span.End()

	if _, err := t.tx.Exec(ctx, `DELETE FROM triggers WHERE tenant_id = $1 AND id = $2`, tenantID, triggerID); err != nil {
		return fail(span, fmt.Errorf("delete trigger %s: %w", triggerID, err))
	}
	return nil
}

const insertDampeningSQL = `INSERT INTO dampenings (tenant_id, dampening_id, trigger_id, trigger_mode, type, eval_true, eval_total, eval_time_ms)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

func dampeningArgs(d *definitions.Dampening) []any {
	spec := d.Spec()
	return []any{
		d.TenantID, d.ID(), d.TriggerID, string(d.TriggerMode), string(spec.Type),
		spec.EvalTrueSetting, spec.EvalTotalSetting, spec.EvalTimeSetting,
	}
}

// InsertDampening inserts a new dampening, reporting a conflict if the
// trigger already has one for that mode.
func (t *tx) InsertDampening(ctx context.Context, d *definitions.Dampening) error {
	ctx, span := startSpan(ctx, "InsertDampening", "INSERT")
	defer span.End()

	tag, err := t.tx.Exec(ctx, insertDampeningSQL+` ON CONFLICT (tenant_id, dampening_id) DO NOTHING`, dampeningArgs(d)...)
	if err != nil {
		return fail(span, fmt.Errorf("insert dampening %s: %w", d.ID(), err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dampening %q: %w", d.ID(), definitions.ErrConflict)
	}
	return nil
}

// PutDampening inserts or replaces a dampening.
func (t *tx) PutDampening(ctx context.Context, d *definitions.Dampening) error {
	ctx, span := startSpan(ctx, "PutDampening", "UPSERT")
	defer span.End()

	query := insertDampeningSQL + `
	ON CONFLICT (tenant_id, dampening_id) DO UPDATE SET
		type         = EXCLUDED.type,
		eval_true    = EXCLUDED.eval_true,
		eval_total   = EXCLUDED.eval_total,
		eval_time_ms = EXCLUDED.eval_time_ms`

	if _, err := t.tx.Exec(ctx, query, dampeningArgs(d)...); err != nil {
		return fail(span, fmt.Errorf("upsert dampening %s: %w", d.ID(), err))
	}
	return nil
}

// DeleteDampening removes a dampening. A missing id is not an error.
func (t *tx) DeleteDampening(ctx context.Context, tenantID, dampeningID string) error {
	ctx, span := startSpan(ctx, "DeleteDampening", "DELETE")
	defer span.End()

	if _, err := t.tx.Exec(ctx, `DELETE FROM dampenings WHERE tenant_id = $1 AND dampening_id = $2`, tenantID, dampeningID); err != nil {
		return fail(span, fmt.Errorf("delete dampening %s: %w", dampeningID, err))
	}
	return nil
}

// ReplaceConditions swaps the trigger's condition set for one mode.
func (t *tx) ReplaceConditions(ctx context.Context, tenantID, triggerID string, mode definitions.Mode, conds []*definitions.Condition) error {
	ctx, span := startSpan(ctx, "ReplaceConditions", "DELETE")
	defer span.End()

	_, err := t.tx.Exec(ctx,
		`DELETE FROM conditions WHERE tenant_id = $1 AND trigger_id = $2 AND trigger_mode = $3`,
		tenantID, triggerID, string(mode),
	)
	if err != nil {
		return fail(span, fmt.Errorf("delete conditions %s/%s: %w", triggerID, mode, err))
	}

	for _, c := range conds {
		body, err := json.Marshal(c)
		if err != nil {
			return fail(span, fmt.Errorf("marshal condition %s: %w", c.ConditionID, err))
		}
		_, err = t.tx.Exec(ctx,
			`INSERT INTO conditions (tenant_id, condition_id, trigger_id, trigger_mode, set_size, set_index, kind, body)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			tenantID, c.ConditionID, triggerID, string(mode), c.ConditionSetSize, c.ConditionSetIndex,
			string(c.Expr.Kind()), body,
		)
		if err != nil {
			return fail(span, fmt.Errorf("insert condition %s: %w", c.ConditionID, err))
		}
	}
	return nil
}

// marshalMap encodes m for a nullable JSONB column. Empty maps are stored
// as NULL.
func marshalMap(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalMap(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// scanTrigger scans one triggers row. pgx.ErrNoRows is returned unwrapped.
func scanTrigger(row pgx.Row) (*definitions.Trigger, error) {
	var (
		t                              definitions.Trigger
		severity, firing, autoResolve  string
		ctxJSON, tagsJSON, dataMapJSON []byte
	)
	err := row.Scan(
		&t.TenantID, &t.ID, &t.Name, &t.Description, &t.Enabled, &severity, &firing,
		&autoResolve, &t.AutoResolve, &t.AutoDisable, &ctxJSON, &tagsJSON, &t.Group, &t.GroupID,
		&t.MemberName, &dataMapJSON, &t.Orphan,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan trigger: %w", err)
	}
	t.Severity = definitions.Severity(severity)
	t.FiringMatch = definitions.Match(firing)
	t.AutoResolveMatch = definitions.Match(autoResolve)

	if t.Context, err = unmarshalMap(ctxJSON); err != nil {
		return nil, fmt.Errorf("unmarshal context %s: %w", t.ID, err)
	}
	if t.Tags, err = unmarshalMap(tagsJSON); err != nil {
		return nil, fmt.Errorf("unmarshal tags %s: %w", t.ID, err)
	}
	if t.DataIDMap, err = unmarshalMap(dataMapJSON); err != nil {
		return nil, fmt.Errorf("unmarshal data id map %s: %w", t.ID, err)
	}
	return &t, nil
}

// scanDampening scans one dampenings row and re-normalizes it.
func scanDampening(row pgx.Row) (*definitions.Dampening, error) {
	var (
		spec      definitions.DampeningSpec
		mode, typ string
	)
	err := row.Scan(&spec.TenantID, &spec.TriggerID, &mode, &typ,
		&spec.EvalTrueSetting, &spec.EvalTotalSetting, &spec.EvalTimeSetting)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan dampening: %w", err)
	}
	spec.TriggerMode = definitions.Mode(mode)
	spec.Type = definitions.DampeningType(typ)

	d, err := definitions.NormalizeDampening(spec)
	if err != nil {
		return nil, fmt.Errorf("stored dampening %s: %w", definitions.DampeningID(spec.TriggerID, spec.TriggerMode), err)
	}
	return &d, nil
}

// scanCondition scans one conditions row. Identity columns win over the
// copies inside the JSON body.
func scanCondition(row pgx.Row) (*definitions.Condition, error) {
	var (
		c                   definitions.Condition
		tenantID, triggerID string
		mode, conditionID   string
		size, index         int
		body                []byte
	)
	if err := row.Scan(&tenantID, &triggerID, &mode, &conditionID, &size, &index, &body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan condition: %w", err)
	}
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, fmt.Errorf("unmarshal condition %s: %w", conditionID, err)
	}
	c.TenantID = tenantID
	c.TriggerID = triggerID
	c.TriggerMode = definitions.Mode(mode)
	c.ConditionID = conditionID
	c.ConditionSetSize = size
	c.ConditionSetIndex = index
	return &c, nil
}
