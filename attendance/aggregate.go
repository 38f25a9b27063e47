/*
aggregate.go - Summary statistics over a set of visits

PURPOSE:
  Computes the attendance summary (total visits, unique members, average
  duration, anomaly count) from raw visit records. This is the fallback
  half of the dual-path contract: when an upstream precomputed summary is
  available it is preferred, but this computation over the same record set
  MUST produce an identical result. The store-side SQL summary and this
  function are tested for equivalence.

ROUNDING:
  Average duration uses decimal arithmetic and rounds half-up to a whole
  minute. Integer division or float accumulation would drift from the
  SQL-side ROUND() and break the equivalence property.

OPEN VISITS:
  A visit without a punch-out has no duration. It counts toward TotalVisits
  and UniqueMembers but is excluded from both the average denominator and
  the anomaly count - an open visit is neither short nor extended yet.
*/
package attendance

import "github.com/shopspring/decimal"

// Summarize computes aggregate statistics over the given visits under the
// given policy. Pure; never fails on well-formed input, and never divides
// by zero (no closed visits means a zero average).
func Summarize(records []VisitRecord, policy Policy) Summary {
	return SummarizeWith(records, func(BranchID) Policy { return policy })
}

// SummarizeWith computes the summary for records that may span branches
// with different thresholds: each record classifies under the policy the
// lookup returns for its branch.
func SummarizeWith(records []VisitRecord, policyFor func(BranchID) Policy) Summary {
	members := make(map[MemberID]struct{}, len(records))

	var closed int64
	sum := decimal.Zero
	anomalies := 0

	for _, v := range records {
		members[v.MemberID] = struct{}{}

		if v.DurationMinutes == nil {
			continue
		}
		closed++
		sum = sum.Add(decimal.NewFromInt(int64(*v.DurationMinutes)))

		if Classify(*v.DurationMinutes, policyFor(v.BranchID)) != ClassNormal {
			anomalies++
		}
	}

	avg := 0
	if closed > 0 {
		avg = int(sum.Div(decimal.NewFromInt(closed)).Round(0).IntPart())
	}

	return Summary{
		TotalVisits:        len(records),
		UniqueMembers:      len(members),
		AvgDurationMinutes: avg,
		AnomalyCount:       anomalies,
	}
}

// FilterAnomalies returns the closed visits classified outside the normal
// band. This backs the "anomalies only" reporting view.
func FilterAnomalies(records []VisitRecord, policy Policy) []VisitRecord {
	return FilterAnomaliesWith(records, func(BranchID) Policy { return policy })
}

// FilterAnomaliesWith is FilterAnomalies over records spanning branches
// with different thresholds.
func FilterAnomaliesWith(records []VisitRecord, policyFor func(BranchID) Policy) []VisitRecord {
	var out []VisitRecord
	for _, v := range records {
		if IsAnomaly(v, policyFor(v.BranchID)) {
			out = append(out, v)
		}
	}
	return out
}
