package fanout

import "sort"

// FleetResult is the fleet-wide view of one tag pass.
type FleetResult struct {
	TotalUpdates  int
	TotalFailures int
	UpdatedIDs    IDSet
	// Unreachable lists engines whose branch was aborted, sorted.
	Unreachable []string
}

// Aggregate folds per-engine outcomes. The result does not depend on the order of
// outcomes.
func Aggregate(outcomes []EngineOutcome) FleetResult {
	res := FleetResult{UpdatedIDs: IDSet{}}
	for _, o := range outcomes {
		res.TotalUpdates += o.SuccessCount
		res.TotalFailures += o.FailureCount
		for _, id := range o.UpdatedIDs {
			res.UpdatedIDs[id] = struct{}{}
		}
		if o.Aborted() {
			res.Unreachable = append(res.Unreachable, o.Engine)
		}
	}
	sort.Strings(res.Unreachable)
	return res
}

// MissingIDs returns the row ids that are absent from updated, compared
// case-insensitively. The result is sorted and holds each id once, spelled as in
// its first row.
func MissingIDs(rows []TagRow, updated IDSet) []string {
	tagged := make(map[string]struct{}, len(updated))
	for id := range updated {
		tagged[normalizeID(id)] = struct{}{}
	}

	seen := make(map[string]struct{}, len(rows))
	missing := make([]string, 0)
	for _, row := range rows {
		key := normalizeID(row.ObjectID)
		if _, ok := tagged[key]; ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		missing = append(missing, row.ObjectID)
	}
	sort.Strings(missing)
	return missing
}
