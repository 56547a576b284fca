package render

import (
	"errors"
	"strings"
	"testing"
)

type fleet struct {
	TotalUpdates  int
	TotalFailures int
	Unreachable   []string
}

type report struct {
	Path       string
	ObjectType string
	Category   string
	Rows       int
	Success    bool
	Err        error
	Fleet      fleet
	MissingIDs []string
}

type disposition struct {
	RenamedPath string
	MissingPath string
}

type file struct {
	Report      report
	Disposition disposition
}

type run struct {
	RunID   string
	Stamp   string
	Engines []string
	Files   []file
}

func (r run) Succeeded() int { return 1 }
func (r run) Failed() int    { return 1 }

func TestRenderSummary(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	out, err := e.Render(Summary, run{
		RunID:   "7d0c",
		Stamp:   "20240102-030405",
		Engines: []string{"a", "b"},
		Files: []file{
			{
				Report: report{
					Path: "/tags/sites.csv", ObjectType: "device", Category: "Site", Rows: 3, Success: true,
					Fleet:      fleet{TotalUpdates: 2},
					MissingIDs: []string{"Z"},
				},
				Disposition: disposition{RenamedPath: "/tags/sites.csv.20240102-030405.success", MissingPath: "/tags/sites.csv.20240102-030405.missing"},
			},
			{
				Report: report{
					Path: "/tags/owners.csv", ObjectType: "user", Category: "Owner", Rows: 1,
					Err:   errors.New("clear failed on 1 of 2 engines: [b]"),
					Fleet: fleet{Unreachable: []string{"b"}},
				},
				Disposition: disposition{RenamedPath: "/tags/owners.csv.20240102-030405.failed"},
			},
		},
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	for _, want := range []string{
		"Run 7d0c (20240102-030405) against 2 engine(s)\n",
		"OK    sites.csv  device/Site  rows=3 updates=2 failures=0 missing=1\n",
		"      -> /tags/sites.csv.20240102-030405.missing\n",
		"FAIL  owners.csv  user/Owner",
		"      error: clear failed on 1 of 2 engines: [b]\n",
		"      unreachable: b\n",
		"1 succeeded, 1 failed\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("Render() output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := e.Render("absent.tmpl", nil); err == nil {
		t.Fatalf("Render() error = nil, want error")
	}

	var nilEngine *Engine
	if _, err := nilEngine.Render(Summary, nil); err == nil {
		t.Fatalf("nil Render() error = nil")
	}
}
