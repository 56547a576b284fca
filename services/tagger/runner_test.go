package tagger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"fleettag/pkg/bus"
	"fleettag/pkg/metrics"
)

type staticDiscoverer struct {
	engines []string
	err     error
}

func (d staticDiscoverer) ConnectedEngines(context.Context) ([]string, error) {
	return d.engines, d.err
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	ids      []string
	events   []any
}

func (p *recordingPublisher) PublishWithID(_ context.Context, subj, msgID string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subj)
	p.ids = append(p.ids, msgID)
	p.events = append(p.events, v)
	return nil
}

func writeTagFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRunnerProcessesDirectory(t *testing.T) {
	a := newTestEngine(t, "X", "Y")
	b := newTestEngine(t, "Y")

	dir := t.TempDir()
	sites := writeTagFile(t, dir, "a-sites.csv", "Object Type,Category,Keyword,Object ID\ndevice,Site,prod,X\ndevice,Site,prod,Y\ndevice,Site,prod,Z\n")
	owners := writeTagFile(t, dir, "b-owners.csv", "Object Type,Category,Keyword,Object ID\ndevice,Owner,ops,X\n")
	empty := writeTagFile(t, dir, "c-empty.csv", "Object Type,Category,Keyword,Object ID\n")
	writeTagFile(t, dir, "notes.txt", "ignored")

	orch, err := NewOrchestrator(newTestExecutor(t), deviceTemplates())
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	pub := &recordingPublisher{}
	m := metrics.New()
	up := &memUploader{}
	archiver, _ := NewArchiver(up, "tags", "")
	runID := uuid.New()

	r, err := NewRunner(RunnerConfig{
		Discoverer:   staticDiscoverer{engines: []string{a.addr(), b.addr()}},
		Orchestrator: orch,
		Publisher:    pub,
		Archiver:     archiver,
		Metrics:      m,
		TagsDir:      dir,
		Stamp:        "20240102-030405",
		RunID:        runID,
	})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(summary.Files) != 3 || summary.Succeeded() != 1 || summary.Failed() != 2 {
		t.Fatalf("summary files = %d, succeeded = %d, failed = %d", len(summary.Files), summary.Succeeded(), summary.Failed())
	}

	for _, tc := range []struct {
		path    string
		outcome string
	}{
		{sites, ".20240102-030405.success"},
		{owners, ".20240102-030405.failed"},
		{empty, ".20240102-030405.failed"},
	} {
		if _, err := os.Stat(tc.path + tc.outcome); err != nil {
			t.Fatalf("expected %s: %v", filepath.Base(tc.path+tc.outcome), err)
		}
	}

	data, err := os.ReadFile(MissingPath(sites, "20240102-030405"))
	if err != nil {
		t.Fatalf("read missing file: %v", err)
	}
	if string(data) != "Z\r\n" {
		t.Fatalf("missing file = %q, want Z", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Fatalf("non-csv file touched: %v", err)
	}

	wantSubjects := []string{
		bus.RunStartedSubject,
		bus.FileFinishedSubject,
		bus.FileFinishedSubject,
		bus.FileFinishedSubject,
		bus.RunFinishedSubject,
	}
	if !reflect.DeepEqual(pub.subjects, wantSubjects) {
		t.Fatalf("published subjects = %v, want %v", pub.subjects, wantSubjects)
	}
	first, ok := pub.events[1].(bus.FileFinished)
	if !ok {
		t.Fatalf("event[1] = %T, want bus.FileFinished", pub.events[1])
	}
	if first.RunID != runID || !first.Success || first.TotalUpdates != 3 || !reflect.DeepEqual(first.MissingIDs, []string{"Z"}) {
		t.Fatalf("file event = %+v", first)
	}
	if len(first.Engines) != 2 {
		t.Fatalf("file event engines = %+v", first.Engines)
	}
	if pub.ids[0] != runID.String()+".started" || pub.ids[1] != first.FileID.String() || pub.ids[4] != runID.String()+".finished" {
		t.Fatalf("message ids = %v", pub.ids)
	}
	if len(first.ArchiveKeys) != 2 {
		t.Fatalf("file event archive keys = %v, want renamed and missing files", first.ArchiveKeys)
	}
	finished := pub.events[4].(bus.RunFinished)
	if finished.Files != 3 || finished.Failed != 2 {
		t.Fatalf("run finished event = %+v", finished)
	}

	const wantFiles = `
# HELP fleettag_files_processed_total Tag files processed by final status.
# TYPE fleettag_files_processed_total counter
fleettag_files_processed_total{status="failed"} 2
fleettag_files_processed_total{status="success"} 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(wantFiles), "fleettag_files_processed_total"); err != nil {
		t.Fatalf("files metric: %v", err)
	}

	if len(summary.Files[0].ArchiveKeys) != 2 {
		t.Fatalf("archive keys = %v, want renamed and missing file", summary.Files[0].ArchiveKeys)
	}
	if len(up.objects) != 4 {
		t.Fatalf("uploaded objects = %d, want 4", len(up.objects))
	}
}

func TestRunnerStartupErrors(t *testing.T) {
	orch, _ := NewOrchestrator(&stubFanout{}, deviceTemplates())

	t.Run("discovery", func(t *testing.T) {
		boom := errors.New("portal down")
		r, _ := NewRunner(RunnerConfig{Discoverer: staticDiscoverer{err: boom}, Orchestrator: orch, TagsDir: t.TempDir()})
		if _, err := r.Run(context.Background()); !errors.Is(err, boom) {
			t.Fatalf("Run() error = %v, want %v", err, boom)
		}
	})

	t.Run("no tag files", func(t *testing.T) {
		r, _ := NewRunner(RunnerConfig{Discoverer: staticDiscoverer{engines: []string{"e"}}, Orchestrator: orch, TagsDir: t.TempDir()})
		if _, err := r.Run(context.Background()); !errors.Is(err, ErrNoTagFiles) {
			t.Fatalf("Run() error = %v, want ErrNoTagFiles", err)
		}
	})

	t.Run("config", func(t *testing.T) {
		if _, err := NewRunner(RunnerConfig{Orchestrator: orch, TagsDir: "x"}); err == nil {
			t.Fatalf("NewRunner() without discoverer error = nil")
		}
		if _, err := NewRunner(RunnerConfig{Discoverer: staticDiscoverer{}, TagsDir: "x"}); err == nil {
			t.Fatalf("NewRunner() without orchestrator error = nil")
		}
		if _, err := NewRunner(RunnerConfig{Discoverer: staticDiscoverer{}, Orchestrator: orch}); err == nil {
			t.Fatalf("NewRunner() without tags dir error = nil")
		}
	})
}

func TestRunnerStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	first := writeTagFile(t, dir, "a.csv", "Object Type,Category,Keyword,Object ID\ndevice,Site,prod,X\n")
	second := writeTagFile(t, dir, "b.csv", "Object Type,Category,Keyword,Object ID\ndevice,Site,prod,X\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch, _ := NewOrchestrator(&stubFanout{onClear: func(context.Context) { cancel() }}, deviceTemplates())

	r, _ := NewRunner(RunnerConfig{
		Discoverer:   staticDiscoverer{engines: []string{"e"}},
		Orchestrator: orch,
		TagsDir:      dir,
		Stamp:        "s",
	})
	summary, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(summary.Files) != 1 {
		t.Fatalf("processed %d files, want 1", len(summary.Files))
	}
	if _, err := os.Stat(first + ".s.failed"); err != nil {
		t.Fatalf("first file not marked failed: %v", err)
	}
	if _, err := os.Stat(second); err != nil {
		t.Fatalf("second file should be untouched: %v", err)
	}
}
