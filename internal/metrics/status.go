package metrics

import "sort"

// OutcomeBucket is the count of one non-success outcome for one operation.
type OutcomeBucket struct {
	Operation string
	Outcome   string
	Count     int64
}

// FailureBuckets flattens the per-operation outcome counts of s into rows,
// leaving out successes and cancellations. Rows are sorted by descending count, then by
// operation/outcome for stability.
func FailureBuckets(s Stats) []OutcomeBucket {
	var rows []OutcomeBucket
	for op, st := range s.Operations {
		for outcome, count := range st.Outcomes {
			if outcome == OutcomeSuccess || outcome == OutcomeCancelled || count == 0 {
				continue
			}
			rows = append(rows, OutcomeBucket{Operation: op, Outcome: outcome, Count: count})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			if rows[i].Operation == rows[j].Operation {
				return rows[i].Outcome < rows[j].Outcome
			}
			return rows[i].Operation < rows[j].Operation
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
