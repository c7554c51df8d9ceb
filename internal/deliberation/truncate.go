package deliberation

import "github.com/counselhq/counsel/internal/model"

// DefaultMaxRoundsInResponse caps how many rounds of debate a transport
// response carries. The transcript artifact always holds the full history.
const DefaultMaxRoundsInResponse = 3

// TruncateForTransport trims full_debate to the last maxRounds rounds,
// setting full_debate_truncated and total_rounds when anything was dropped.
// The result is mutated in place; maxRounds <= 0 applies the default.
func TruncateForTransport(result *model.DeliberationResult, maxRounds int) {
	if result == nil {
		return
	}
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRoundsInResponse
	}

	total := 0
	for _, r := range result.FullDebate {
		if r.Round > total {
			total = r.Round
		}
	}
	if total <= maxRounds {
		return
	}

	cutoff := total - maxRounds
	kept := make([]model.RoundResponse, 0, len(result.FullDebate))
	for _, r := range result.FullDebate {
		if r.Round > cutoff {
			kept = append(kept, r)
		}
	}
	result.FullDebate = kept
	result.FullDebateTruncated = true
	result.TotalRounds = total
}
