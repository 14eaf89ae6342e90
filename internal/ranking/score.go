package ranking

// Composite ranking key: a single float64 per participant so one sorted-set
// holds the full tie-break order. Solved count dominates, then lower combined
// time+penalty wins. Inverting the combined seconds makes "less time is
// better" fall out of a plain descending sort.

const (
	// solvedWeight guarantees one extra solved problem outranks any
	// time/penalty difference. Combined seconds are clamped below it.
	solvedWeight = 100_000_000

	// maxCombinedSeconds clamps totalSeconds+penaltySeconds so the time
	// component never crosses into the next solved-count band.
	maxCombinedSeconds = solvedWeight - 1
)

// Stats is the participant aggregate fed into the composite key.
type Stats struct {
	ProblemsSolved   int
	TotalTimeSeconds int64
	PenaltyMinutes   int64
}

// CompositeScore encodes the aggregate into the ranking key.
func CompositeScore(stats Stats) float64 {
	combined := stats.TotalTimeSeconds + stats.PenaltyMinutes*60
	if combined < 0 {
		combined = 0
	}
	if combined > maxCombinedSeconds {
		combined = maxCombinedSeconds
	}
	solved := stats.ProblemsSolved
	if solved < 0 {
		solved = 0
	}
	return float64(int64(solved)*solvedWeight + (solvedWeight - combined))
}

// SolvedFromScore decodes the solved-problem count from a composite key.
func SolvedFromScore(score float64) int {
	if score <= 0 {
		return 0
	}
	encoded := int64(score)
	solved := encoded / solvedWeight
	if encoded%solvedWeight == 0 {
		// combined seconds hit zero exactly at the band boundary
		solved--
	}
	if solved < 0 {
		return 0
	}
	return int(solved)
}

// CombinedSecondsFromScore decodes the clamped time+penalty seconds
// from a composite key.
func CombinedSecondsFromScore(score float64) int64 {
	if score <= 0 {
		return 0
	}
	encoded := int64(score)
	remainder := encoded % solvedWeight
	if remainder == 0 {
		return 0
	}
	return solvedWeight - remainder
}
