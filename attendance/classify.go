/*
classify.go - Duration and anomaly classification

PURPOSE:
  Pure, side-effect-free classification of a visit duration against the
  branch policy thresholds. No I/O, no clock reads; the same inputs always
  produce the same band.

BOUNDARY POLICY:
  Comparisons are strict (< and >). A visit exactly at MinVisitMinutes or
  exactly at MaxVisitHours*60 is normal. This boundary is part of the
  contract and covered by tests; do not "improve" it.

SEE ALSO:
  - aggregate.go: Uses Classify for anomaly counting
  - types.go: Classification constants
*/
package attendance

// Classify places a closed-visit duration into a band relative to the
// policy thresholds.
//
//	duration < MinVisitMinutes      -> short
//	duration > MaxVisitHours * 60   -> extended
//	otherwise                       -> normal
func Classify(durationMinutes int, policy Policy) Classification {
	if durationMinutes < policy.MinVisitMinutes {
		return ClassShort
	}
	if durationMinutes > policy.MaxVisitMinutes() {
		return ClassExtended
	}
	return ClassNormal
}

// ClassifyVisit classifies a visit record. Open visits have no duration
// yet and are reported as normal; they are excluded from anomaly counting
// until closed.
func ClassifyVisit(v VisitRecord, policy Policy) Classification {
	if v.DurationMinutes == nil {
		return ClassNormal
	}
	return Classify(*v.DurationMinutes, policy)
}

// IsAnomaly reports whether a closed visit falls outside the normal band.
// Always false for open visits.
func IsAnomaly(v VisitRecord, policy Policy) bool {
	if v.DurationMinutes == nil {
		return false
	}
	return Classify(*v.DurationMinutes, policy) != ClassNormal
}
