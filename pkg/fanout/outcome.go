package fanout

import (
	"sort"
	"strings"
)

// TagRow is one desired (object, category, keyword) assignment.
type TagRow struct {
	ObjectID   string
	ObjectType string
	Category   string
	Keyword    string
}

// ClearResult is the answer of one engine to the clear statement. Status is zero
// when the request never produced an HTTP response.
type ClearResult struct {
	Engine string
	Status int
	Err    error
}

// HasStatus reports whether the engine answered at all.
func (r ClearResult) HasStatus() bool { return r.Status != 0 }

// OK reports a 2xx answer.
func (r ClearResult) OK() bool {
	return r.Err == nil && r.Status >= 200 && r.Status < 300
}

// EngineOutcome is the result of one engine's tag pass. Err is set when the
// branch was aborted before any update could run.
type EngineOutcome struct {
	Engine       string
	SuccessCount int
	FailureCount int
	UpdatedIDs   []string
	Err          error
}

// Aborted reports whether the engine's id lookup failed.
func (o EngineOutcome) Aborted() bool { return o.Err != nil }

// IDSet is a set of object identifiers, compared exactly.
type IDSet map[string]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in ascending order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func normalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
