package tagger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"fleettag/pkg/engine"
	"fleettag/pkg/fanout"
	"fleettag/pkg/query"
	"fleettag/services/tagger/internal/config"
)

// testEngine is an httptest TLS server answering like an engine's query endpoint.
type testEngine struct {
	srv       *httptest.Server
	ids       []string
	clearCode int
	// onSelect, when set, runs on an id lookup which then hangs until the
	// client goes away.
	onSelect func()

	mu      sync.Mutex
	clears  int
	selects int
	updates []string
}

func newTestEngine(t *testing.T, ids ...string) *testEngine {
	t.Helper()
	e := &testEngine{ids: ids, clearCode: http.StatusOK}
	e.srv = httptest.NewTLSServer(http.HandlerFunc(e.serve))
	t.Cleanup(e.srv.Close)
	return e
}

func (e *testEngine) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/2/query" || r.Header.Get("Authorization") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	q := r.URL.Query().Get("query")

	if e.onSelect != nil && strings.HasPrefix(q, "(select") {
		e.onSelect()
		<-r.Context().Done()
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case strings.HasPrefix(q, "(select"):
		e.selects++
		objs := make([]map[string]string, 0, len(e.ids))
		for _, id := range e.ids {
			objs = append(objs, map[string]string{"id": id})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(objs)
	case strings.Contains(q, " nil)"):
		e.clears++
		w.WriteHeader(e.clearCode)
	default:
		e.updates = append(e.updates, q)
		w.WriteHeader(http.StatusOK)
	}
}

func (e *testEngine) addr() string { return e.srv.Listener.Addr().String() }

func (e *testEngine) counts() (clears, selects, updates int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clears, e.selects, len(e.updates)
}

// deadAddr returns an address nothing listens on.
func deadAddr(t *testing.T) string {
	t.Helper()
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()
	srv.Close()
	return addr
}

func newTestExecutor(t *testing.T) *fanout.Executor {
	t.Helper()
	creds, err := engine.FromUserPassword("admin", "s3cret")
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	client, err := engine.NewClient(creds, engine.Options{InsecureSkipVerify: true, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("engine.NewClient() error = %v", err)
	}
	exec, err := fanout.NewExecutor(client, fanout.WithWorkers(4))
	if err != nil {
		t.Fatalf("fanout.NewExecutor() error = %v", err)
	}
	return exec
}

func deviceTemplates() *config.Config {
	return &config.Config{Queries: []config.QueryTemplate{
		{ObjectType: "device", Category: "Site", IDColumn: "id", Query: "(select (id) (from device))"},
	}}
}

func deviceRows(ids ...string) []fanout.TagRow {
	rows := make([]fanout.TagRow, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, fanout.TagRow{ObjectID: id, ObjectType: "device", Category: "Site", Keyword: "prod"})
	}
	return rows
}

// stubFanout replaces the executor where a test needs control over phase timing.
type stubFanout struct {
	onClear  func(ctx context.Context)
	tagCalls int
}

func (s *stubFanout) RunClear(ctx context.Context, engines []string, _ query.Statement) ([]fanout.ClearResult, error) {
	if s.onClear != nil {
		s.onClear(ctx)
	}
	out := make([]fanout.ClearResult, len(engines))
	for i, e := range engines {
		out[i] = fanout.ClearResult{Engine: e, Status: http.StatusOK}
	}
	return out, nil
}

func (s *stubFanout) RunTagPass(_ context.Context, engines []string, _ query.Statement, _ string, rows []fanout.TagRow) ([]fanout.EngineOutcome, error) {
	s.tagCalls++
	out := make([]fanout.EngineOutcome, len(engines))
	for i, e := range engines {
		out[i] = fanout.EngineOutcome{Engine: e}
	}
	return out, nil
}

// replayFanout clears everywhere and returns recorded tag pass outcomes.
type replayFanout struct {
	stubFanout
	outcomes []fanout.EngineOutcome
}

func (r *replayFanout) RunTagPass(context.Context, []string, query.Statement, string, []fanout.TagRow) ([]fanout.EngineOutcome, error) {
	return r.outcomes, nil
}

func mustSelect(t *testing.T) query.Statement {
	t.Helper()
	stmt, err := query.BuildIdentifierSelectStatement("(select (id) (from device))")
	if err != nil {
		t.Fatalf("select statement: %v", err)
	}
	return stmt
}
