// Package vote tallies structured votes across deliberation rounds and
// decides the consensus class. Near-duplicate options ("Self-documenting
// code" vs "Prioritize self-documenting code") are grouped semantically
// before counting so phrasing differences don't split a majority.
package vote

import (
	"context"
	"log/slog"
	"sort"

	"github.com/counselhq/counsel/internal/model"
	"github.com/counselhq/counsel/internal/similarity"
)

// GroupingThreshold is the minimum similarity for two option strings to
// share a bucket.
const GroupingThreshold = 0.70

// Aggregator builds VotingResults from collected round votes.
type Aggregator struct {
	backend   similarity.Backend
	logger    *slog.Logger
	threshold float64
}

// New creates a vote aggregator using the given similarity backend for
// option grouping.
func New(backend similarity.Backend, logger *slog.Logger) *Aggregator {
	return &Aggregator{backend: backend, logger: logger, threshold: GroupingThreshold}
}

// Aggregate tallies all votes and classifies consensus. lastRound is the
// number of the final completed round; only participants who voted in it
// count toward the unanimity and majority denominators. If a participant
// cast multiple votes within one round, the last wins.
func (a *Aggregator) Aggregate(ctx context.Context, votes []model.RoundVote, lastRound int) *model.VotingResult {
	result := &model.VotingResult{
		VotesByRound:   sortedVotes(votes),
		ConsensusLevel: model.ConsensusNoVotes,
	}
	if len(votes) == 0 {
		return result
	}

	deduped := dedupVotes(result.VotesByRound)

	// Group distinct option strings, then count votes per group.
	repOf, repsInOrder := a.groupOptions(ctx, deduped)
	counts := make(map[string]int, len(repsInOrder))
	for _, rv := range deduped {
		counts[repOf[rv.Vote.Option]]++
	}

	// Tally order: count desc, then first-seen order of the representative.
	firstSeen := make(map[string]int, len(repsInOrder))
	for i, rep := range repsInOrder {
		firstSeen[rep] = i
	}
	tally := make([]model.TallyEntry, 0, len(repsInOrder))
	for _, rep := range repsInOrder {
		tally = append(tally, model.TallyEntry{Option: rep, Count: counts[rep]})
	}
	sort.SliceStable(tally, func(i, j int) bool {
		if tally[i].Count != tally[j].Count {
			return tally[i].Count > tally[j].Count
		}
		return firstSeen[tally[i].Option] < firstSeen[tally[j].Option]
	})
	result.FinalTally = tally

	result.ConsensusLevel, result.WinningOption = classify(deduped, lastRound, tally, repOf)
	result.ConsensusReached = result.ConsensusLevel == model.ConsensusUnanimous || result.ConsensusLevel == model.ConsensusMajority
	if !result.ConsensusReached {
		result.WinningOption = ""
	}
	return result
}

// groupOptions assigns each distinct option string to a group by greedy
// matching in first-seen order: an option joins the first earlier group
// whose representative scores >= threshold against it, otherwise it starts
// a new group with itself as representative. Grouping is idempotent: a set
// of already-canonical names below the threshold will not merge further.
func (a *Aggregator) groupOptions(ctx context.Context, votes []model.RoundVote) (map[string]string, []string) {
	repOf := make(map[string]string)
	var reps []string
	for _, rv := range votes {
		opt := rv.Vote.Option
		if _, done := repOf[opt]; done {
			continue
		}
		assigned := false
		for _, rep := range reps {
			score, err := a.backend.Score(ctx, opt, rep)
			if err != nil {
				a.logger.Warn("vote: option similarity failed, treating as distinct", "error", err)
				continue
			}
			if model.ClampScore(score) >= a.threshold {
				repOf[opt] = rep
				assigned = true
				break
			}
		}
		if !assigned {
			repOf[opt] = opt
			reps = append(reps, opt)
		}
	}
	return repOf, reps
}

// classify decides the consensus class per the unified rules: unanimity and
// majority are judged against participants who voted in the last round,
// with counts taken from the grouped final tally.
func classify(deduped []model.RoundVote, lastRound int, tally []model.TallyEntry, repOf map[string]string) (model.ConsensusLevel, string) {
	lastVoters := 0
	lastReps := make(map[string]bool)
	for _, rv := range deduped {
		if rv.Round == lastRound {
			lastVoters++
			lastReps[repOf[rv.Vote.Option]] = true
		}
	}

	if lastVoters > 0 && len(lastReps) == 1 {
		for rep := range lastReps {
			return model.ConsensusUnanimous, rep
		}
	}

	top := tally[0]
	strictTop := true
	for _, entry := range tally[1:] {
		if entry.Count >= top.Count {
			strictTop = false
			break
		}
	}
	if strictTop && float64(top.Count) > float64(lastVoters)/2 {
		return model.ConsensusMajority, top.Option
	}
	return model.ConsensusTie, ""
}

// sortedVotes returns votes ordered by (round, participant, original order).
func sortedVotes(votes []model.RoundVote) []model.RoundVote {
	out := make([]model.RoundVote, len(votes))
	copy(out, votes)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		return out[i].Participant < out[j].Participant
	})
	return out
}

// dedupVotes keeps one vote per (round, participant): the last cast wins.
func dedupVotes(votes []model.RoundVote) []model.RoundVote {
	type key struct {
		round       int
		participant string
	}
	last := make(map[key]int, len(votes))
	for i, rv := range votes {
		last[key{rv.Round, rv.Participant}] = i
	}
	out := make([]model.RoundVote, 0, len(last))
	for i, rv := range votes {
		if last[key{rv.Round, rv.Participant}] == i {
			out = append(out, rv)
		}
	}
	return out
}
