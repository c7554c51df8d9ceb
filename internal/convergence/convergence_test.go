package convergence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselhq/counsel/internal/model"
)

// scriptedBackend returns scores in sequence, one per Score call.
type scriptedBackend struct {
	scores []float64
	calls  int
	err    error
}

func (s *scriptedBackend) Score(context.Context, string, string) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	score := s.scores[s.calls%len(s.scores)]
	s.calls++
	return score, nil
}

func (s *scriptedBackend) Name() string { return "scripted" }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func responses(round int, texts map[string]string) []model.RoundResponse {
	var out []model.RoundResponse
	for participant, text := range texts {
		out = append(out, model.RoundResponse{
			Round:       round,
			Participant: participant,
			Response:    text,
			Timestamp:   time.Now(),
		})
	}
	return out
}

func enabled() Config { return Config{Enabled: true} }

func TestCheckGatedByMinRounds(t *testing.T) {
	d := New(Config{Enabled: true, MinRoundsBeforeCheck: 2}, &scriptedBackend{scores: []float64{0.9}}, discard())
	prev := responses(1, map[string]string{"a": "x"})
	curr := responses(2, map[string]string{"a": "y"})

	// Round 2 is not checked with min_rounds_before_check=2; round 3 is.
	assert.Nil(t, d.Check(context.Background(), 2, prev, curr, nil))
	assert.NotNil(t, d.Check(context.Background(), 3, prev, curr, nil))
}

func TestCheckDisabled(t *testing.T) {
	d := New(Config{Enabled: false}, &scriptedBackend{scores: []float64{0.9}}, discard())
	assert.Nil(t, d.Check(context.Background(), 2,
		responses(1, map[string]string{"a": "x"}),
		responses(2, map[string]string{"a": "y"}), nil))
}

func TestSemanticThresholdBoundaries(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		want  model.ConvergenceStatus
	}{
		{"exactly at semantic threshold", 0.85, model.StatusConverged},
		{"just below semantic threshold", 0.84999, model.StatusRefining},
		{"exactly at divergence threshold", 0.40, model.StatusRefining},
		{"just below divergence threshold", 0.39999, model.StatusDiverging},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(enabled(), &scriptedBackend{scores: []float64{tt.score}}, discard())
			info := d.Check(context.Background(), 2,
				responses(1, map[string]string{"a": "x"}),
				responses(2, map[string]string{"a": "y"}), nil)
			require.NotNil(t, info)
			assert.Equal(t, tt.want, info.Status)
		})
	}
}

func TestConvergedDetection(t *testing.T) {
	d := New(enabled(), &scriptedBackend{scores: []float64{0.92}}, discard())
	info := d.Check(context.Background(), 2,
		responses(1, map[string]string{"a": "x", "b": "y"}),
		responses(2, map[string]string{"a": "x2", "b": "y2"}), nil)
	require.NotNil(t, info)
	assert.True(t, info.Detected)
	assert.Equal(t, 2, info.DetectionRound)
	assert.InDelta(t, 0.92, info.FinalSimilarity, 1e-9)
	assert.InDelta(t, 0.92, info.MinSimilarity, 1e-9)
	assert.Len(t, info.PerParticipantSimilarity, 2)
}

func TestMinSimilarityTracksWeakestPair(t *testing.T) {
	// Two participants with different scores: the average and the minimum
	// must diverge, whichever participant drew which score.
	d := New(enabled(), &scriptedBackend{scores: []float64{0.9, 0.7}}, discard())
	info := d.Check(context.Background(), 2,
		responses(1, map[string]string{"a": "x", "b": "y"}),
		responses(2, map[string]string{"a": "x2", "b": "y2"}), nil)
	require.NotNil(t, info)
	assert.InDelta(t, 0.8, info.FinalSimilarity, 1e-9)
	assert.InDelta(t, 0.7, info.MinSimilarity, 1e-9)
}

func TestImpasseAfterStableRounds(t *testing.T) {
	// Three checks with near-identical mid-range averages: the third is the
	// second consecutive stable delta, which calls the impasse.
	backend := &scriptedBackend{scores: []float64{0.60}}
	d := New(enabled(), backend, discard())
	prev := responses(1, map[string]string{"a": "x"})

	info := d.Check(context.Background(), 2, prev, responses(2, map[string]string{"a": "y"}), nil)
	require.NotNil(t, info)
	assert.Equal(t, model.StatusRefining, info.Status)

	info = d.Check(context.Background(), 3, prev, responses(3, map[string]string{"a": "y"}), nil)
	require.NotNil(t, info)
	assert.Equal(t, model.StatusRefining, info.Status)

	info = d.Check(context.Background(), 4, prev, responses(4, map[string]string{"a": "y"}), nil)
	require.NotNil(t, info)
	assert.Equal(t, model.StatusImpasse, info.Status)
	assert.True(t, info.Detected)
}

func TestVotingOverridesRefining(t *testing.T) {
	d := New(enabled(), &scriptedBackend{scores: []float64{0.60}}, discard())
	voting := &model.VotingResult{
		ConsensusLevel:   model.ConsensusMajority,
		ConsensusReached: true,
		WinningOption:    "X",
	}
	info := d.Check(context.Background(), 2,
		responses(1, map[string]string{"a": "x", "b": "y", "c": "z"}),
		responses(2, map[string]string{"a": "x2", "b": "y2", "c": "z2"}), voting)
	require.NotNil(t, info)
	assert.Equal(t, model.StatusMajority, info.Status)
	assert.True(t, info.Detected)
	assert.Equal(t, 2, info.DetectionRound)
}

func TestTieOverridesStatusButNotDetected(t *testing.T) {
	d := New(enabled(), &scriptedBackend{scores: []float64{0.60}}, discard())
	voting := &model.VotingResult{ConsensusLevel: model.ConsensusTie}
	info := d.Check(context.Background(), 2,
		responses(1, map[string]string{"a": "x"}),
		responses(2, map[string]string{"a": "y"}), voting)
	require.NotNil(t, info)
	assert.Equal(t, model.StatusTie, info.Status)
	assert.False(t, info.Detected)
}

func TestBackendFailureDegradesToNil(t *testing.T) {
	d := New(enabled(), &scriptedBackend{err: errors.New("backend down")}, discard())
	assert.Nil(t, d.Check(context.Background(), 2,
		responses(1, map[string]string{"a": "x"}),
		responses(2, map[string]string{"a": "y"}), nil))
}

func TestMissingParticipantSkipped(t *testing.T) {
	d := New(enabled(), &scriptedBackend{scores: []float64{0.9}}, discard())
	info := d.Check(context.Background(), 2,
		responses(1, map[string]string{"a": "x"}),
		responses(2, map[string]string{"a": "x2", "b": "new arrival"}), nil)
	require.NotNil(t, info)
	assert.Len(t, info.PerParticipantSimilarity, 1)
	assert.Contains(t, info.PerParticipantSimilarity, "a")
}

func TestNoCommonParticipants(t *testing.T) {
	d := New(enabled(), &scriptedBackend{scores: []float64{0.9}}, discard())
	assert.Nil(t, d.Check(context.Background(), 2,
		responses(1, map[string]string{"a": "x"}),
		responses(2, map[string]string{"b": "y"}), nil))
}

func TestApplyVotingOverrideNilSafe(t *testing.T) {
	ApplyVotingOverride(nil, &model.VotingResult{ConsensusLevel: model.ConsensusUnanimous})

	info := &model.ConvergenceInfo{Status: model.StatusRefining}
	ApplyVotingOverride(info, nil)
	assert.Equal(t, model.StatusRefining, info.Status)

	ApplyVotingOverride(info, &model.VotingResult{ConsensusLevel: model.ConsensusNoVotes})
	assert.Equal(t, model.StatusRefining, info.Status)

	ApplyVotingOverride(info, &model.VotingResult{ConsensusLevel: model.ConsensusUnanimous, ConsensusReached: true})
	assert.Equal(t, model.StatusUnanimous, info.Status)
	assert.True(t, info.Detected)
}
