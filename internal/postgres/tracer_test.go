package postgres

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/beacon/internal/definitions/pgstore.reader.GetTrigger", "reader.GetTrigger"},
		{"already short", "reader.GetTrigger", "GetTrigger"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"no slashes", "pgstore.(*tx).PutTrigger", "(*tx).PutTrigger"},
		{"service method", "github.com/linnemanlabs/beacon/internal/definitions.(*Service).CreateTrigger.func1", "(*Service).CreateTrigger.func1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := shortenFuncName(tt.in)
			if got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOperationOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tag  pgconn.CommandTag
		sql  string
		want string
	}{
		{"from tag", pgconn.NewCommandTag("INSERT 0 1"), "insert into triggers ...", "INSERT"},
		{"from sql", pgconn.CommandTag{}, "  select id from conditions", "SELECT"},
		{"nothing", pgconn.CommandTag{}, "", "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := operationOf(tt.tag, tt.sql); got != tt.want {
				t.Errorf("operationOf = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReqDBStats_AddQuery(t *testing.T) {
	t.Parallel()

	s := &ReqDBStats{}
	s.AddQuery(10*time.Millisecond, nil)
	s.AddQuery(20*time.Millisecond, errors.New("timeout"))
	s.AddQuery(5*time.Millisecond, nil)

	count, errs, total := s.Snapshot()
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
	if total != 35*time.Millisecond {
		t.Errorf("total = %v, want 35ms", total)
	}
	if errs != 1 {
		t.Errorf("errs = %d, want 1", errs)
	}
}

func TestReqDBStatsFromContext_Missing(t *testing.T) {
	t.Parallel()

	if _, ok := ReqDBStatsFromContext(context.Background()); ok {
		t.Error("expected ok=false for plain context")
	}
}

func TestWithHTTPMethod(t *testing.T) {
	t.Parallel()

	if got := httpMethodFromContext(WithHTTPMethod(context.Background(), "PUT")); got != "PUT" {
		t.Errorf("httpMethodFromContext = %q, want PUT", got)
	}
	if got := httpMethodFromContext(WithHTTPMethod(context.Background(), "")); got != "" {
		t.Errorf("httpMethodFromContext = %q, want empty", got)
	}
}

func TestRequestStats(t *testing.T) {
	t.Parallel()

	var sawStats bool
	var method string
	h := RequestStats(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		s, ok := ReqDBStatsFromContext(r.Context())
		sawStats = ok
		if ok {
			s.AddQuery(time.Millisecond, nil)
		}
		method = httpMethodFromContext(r.Context())
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/v1/triggers/t1", nil))

	if !sawStats {
		t.Error("handler context has no ReqDBStats")
	}
	if method != http.MethodDelete {
		t.Errorf("method = %q, want DELETE", method)
	}
}

// Tests below swap the global observer and must not run in parallel.

func TestSetQueryObserver(t *testing.T) {
	defer SetQueryObserver(nil)

	var got QueryInfo
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, q QueryInfo) { got = q }))

	obs := getQueryObserver()
	if obs == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	obs.ObserveQuery(context.Background(), QueryInfo{Method: "GET", Operation: "SELECT"})
	if got.Method != "GET" || got.Operation != "SELECT" {
		t.Errorf("observer got %+v", got)
	}

	SetQueryObserver(nil)
	if obs := getQueryObserver(); obs != nil {
		t.Errorf("expected nil observer after Set(nil), got %v", obs)
	}
}

func TestLoggingTracer_ObservesQuery(t *testing.T) {
	defer SetQueryObserver(nil)

	var got []QueryInfo
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, q QueryInfo) { got = append(got, q) }))

	tr := wrapQueryTracer(nil)
	ctx := NewReqDBStatsContext(WithHTTPMethod(context.Background(), http.MethodPost))

	qctx := tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "INSERT INTO triggers VALUES ($1)", Args: []any{"x"}})
	tr.TraceQueryEnd(qctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("INSERT 0 1")})

	qctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "DELETE FROM conditions"})
	tr.TraceQueryEnd(qctx, nil, pgx.TraceQueryEndData{Err: errors.New("conn closed")})

	if len(got) != 2 {
		t.Fatalf("observed %d queries, want 2", len(got))
	}
	if got[0].Method != http.MethodPost || got[0].Route != "unknown" || got[0].Operation != "INSERT" || got[0].Outcome != "ok" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Operation != "DELETE" || got[1].Outcome != "error" {
		t.Errorf("second = %+v", got[1])
	}

	stats, _ := ReqDBStatsFromContext(ctx)
	if count, errs, _ := stats.Snapshot(); count != 2 || errs != 1 {
		t.Errorf("stats = %d queries %d errors, want 2 and 1", count, errs)
	}
}

func TestLoggingTracer_EndWithoutStart(t *testing.T) {
	t.Parallel()

	// must not panic when the start state is missing
	wrapQueryTracer(nil).TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{})
}

func TestWrapQueryTracer_NilInner(t *testing.T) {
	t.Parallel()

	tr, ok := wrapQueryTracer(nil).(loggingTracer)
	if !ok {
		t.Fatal("wrapQueryTracer(nil) did not return a loggingTracer")
	}
	if tr.inner != nil {
		t.Error("expected nil inner tracer")
	}
}
