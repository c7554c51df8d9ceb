package vote

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselhq/counsel/internal/model"
	"github.com/counselhq/counsel/internal/similarity"
)

// stubBackend returns a fixed score for every pair, letting tests pin
// grouping boundaries exactly.
type stubBackend struct{ score float64 }

func (s stubBackend) Score(context.Context, string, string) (float64, error) { return s.score, nil }
func (s stubBackend) Name() string                                          { return "stub" }

func newAggregator(t *testing.T) *Aggregator {
	t.Helper()
	return New(similarity.NewTokenSet(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func rv(round int, participant, option string, conf float64) model.RoundVote {
	return model.RoundVote{
		Round:       round,
		Participant: participant,
		Vote:        model.Vote{Option: option, Confidence: conf, ContinueDebate: true},
		Timestamp:   time.Now(),
	}
}

func TestAggregateNoVotes(t *testing.T) {
	result := newAggregator(t).Aggregate(context.Background(), nil, 2)
	assert.Equal(t, model.ConsensusNoVotes, result.ConsensusLevel)
	assert.False(t, result.ConsensusReached)
	assert.Empty(t, result.WinningOption)
	assert.Empty(t, result.FinalTally)
}

func TestAggregateUnanimous(t *testing.T) {
	votes := []model.RoundVote{
		rv(1, "a@x", "Option A", 0.9),
		rv(1, "b@x", "Option A", 0.8),
		rv(1, "c@y", "Option A", 0.95),
	}
	result := newAggregator(t).Aggregate(context.Background(), votes, 1)
	assert.Equal(t, model.ConsensusUnanimous, result.ConsensusLevel)
	assert.True(t, result.ConsensusReached)
	assert.Equal(t, "Option A", result.WinningOption)
	require.Len(t, result.FinalTally, 1)
	assert.Equal(t, 3, result.FinalTally[0].Count)
}

func TestAggregateMajority(t *testing.T) {
	votes := []model.RoundVote{
		rv(2, "a@x", "Option X", 0.9),
		rv(2, "b@x", "Option X", 0.8),
		rv(2, "c@y", "Option Y", 0.7),
	}
	result := newAggregator(t).Aggregate(context.Background(), votes, 2)
	assert.Equal(t, model.ConsensusMajority, result.ConsensusLevel)
	assert.True(t, result.ConsensusReached)
	assert.Equal(t, "Option X", result.WinningOption)
}

func TestAggregateTie(t *testing.T) {
	votes := []model.RoundVote{
		rv(1, "a@x", "Alpha", 0.9),
		rv(1, "b@x", "Omega", 0.8),
	}
	result := newAggregator(t).Aggregate(context.Background(), votes, 1)
	assert.Equal(t, model.ConsensusTie, result.ConsensusLevel)
	assert.False(t, result.ConsensusReached)
	assert.Empty(t, result.WinningOption)
	// First-seen order breaks the count tie in reporting.
	require.Len(t, result.FinalTally, 2)
	assert.Equal(t, "Alpha", result.FinalTally[0].Option)
}

func TestAggregateGroupsSimilarOptions(t *testing.T) {
	votes := []model.RoundVote{
		rv(1, "a@x", "Self-documenting code", 0.9),
		rv(1, "b@x", "Prioritize self-documenting code", 0.8),
		rv(1, "c@y", "Unit tests", 0.7),
	}
	result := newAggregator(t).Aggregate(context.Background(), votes, 1)
	require.Len(t, result.FinalTally, 2)
	assert.Equal(t, model.TallyEntry{Option: "Self-documenting code", Count: 2}, result.FinalTally[0])
	assert.Equal(t, model.TallyEntry{Option: "Unit tests", Count: 1}, result.FinalTally[1])
	assert.Equal(t, model.ConsensusMajority, result.ConsensusLevel)
	assert.Equal(t, "Self-documenting code", result.WinningOption)
}

func TestGroupingThresholdBoundary(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	votes := []model.RoundVote{
		rv(1, "a@x", "first option", 0.9),
		rv(1, "b@x", "second option", 0.8),
	}

	// Exactly at the threshold merges.
	result := New(stubBackend{score: 0.70}, logger).Aggregate(context.Background(), votes, 1)
	require.Len(t, result.FinalTally, 1)
	assert.Equal(t, "first option", result.FinalTally[0].Option)
	assert.Equal(t, 2, result.FinalTally[0].Count)

	// Just below stays distinct.
	result = New(stubBackend{score: 0.69999}, logger).Aggregate(context.Background(), votes, 1)
	assert.Len(t, result.FinalTally, 2)
}

func TestMultipleVotesInRoundLastWins(t *testing.T) {
	votes := []model.RoundVote{
		rv(1, "a@x", "Early pick", 0.5),
		rv(1, "a@x", "Final pick", 0.9),
		rv(1, "b@x", "Final pick", 0.9),
	}
	result := newAggregator(t).Aggregate(context.Background(), votes, 1)
	assert.Equal(t, model.ConsensusUnanimous, result.ConsensusLevel)
	assert.Equal(t, "Final pick", result.WinningOption)
	// Tally counts the deduped votes only.
	total := 0
	for _, e := range result.FinalTally {
		total += e.Count
	}
	assert.Equal(t, 2, total)
}

func TestMissingLastRoundVoterNotCountedAgainst(t *testing.T) {
	// Participant c voted in round 1 only; a and b agree in round 2.
	votes := []model.RoundVote{
		rv(1, "c@y", "Option Z", 0.6),
		rv(2, "a@x", "Option A", 0.9),
		rv(2, "b@x", "Option A", 0.9),
	}
	result := newAggregator(t).Aggregate(context.Background(), votes, 2)
	assert.Equal(t, model.ConsensusUnanimous, result.ConsensusLevel)
	assert.Equal(t, "Option A", result.WinningOption)
}

func TestGroupingIdempotent(t *testing.T) {
	agg := newAggregator(t)
	votes := []model.RoundVote{
		rv(1, "a@x", "Self-documenting code", 0.9),
		rv(1, "b@x", "Unit tests", 0.8),
	}
	first := agg.Aggregate(context.Background(), votes, 1)
	// Re-aggregate votes rewritten to the canonical names.
	again := []model.RoundVote{
		rv(1, "a@x", first.FinalTally[0].Option, 0.9),
		rv(1, "b@x", first.FinalTally[1].Option, 0.8),
	}
	second := agg.Aggregate(context.Background(), again, 1)
	assert.Len(t, second.FinalTally, 2)
}

func TestVotesByRoundOrdering(t *testing.T) {
	votes := []model.RoundVote{
		rv(2, "b@x", "A", 0.9),
		rv(1, "b@x", "A", 0.9),
		rv(2, "a@x", "A", 0.9),
	}
	result := newAggregator(t).Aggregate(context.Background(), votes, 2)
	require.Len(t, result.VotesByRound, 3)
	assert.Equal(t, 1, result.VotesByRound[0].Round)
	assert.Equal(t, "a@x", result.VotesByRound[1].Participant)
	assert.Equal(t, "b@x", result.VotesByRound[2].Participant)
}
