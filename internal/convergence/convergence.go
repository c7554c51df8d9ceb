// Package convergence classifies how a deliberation evolves between
// consecutive rounds. Semantic similarity between each participant's
// successive responses yields converged/refining/diverging; a run of stable
// scores without convergence is an impasse. Decisive voting always
// overrides the semantic classification.
package convergence

import (
	"context"
	"log/slog"
	"math"

	"github.com/counselhq/counsel/internal/model"
	"github.com/counselhq/counsel/internal/similarity"
)

// Config holds the detection thresholds. Zero values are replaced by the
// defaults below.
type Config struct {
	Enabled                 bool
	SemanticThreshold       float64 // avg similarity at or above which a round is converged
	DivergenceThreshold     float64 // avg similarity below which a round is diverging
	MinRoundsBeforeCheck    int     // checking starts at round MinRoundsBeforeCheck+1
	ConsecutiveStableRounds int     // stable deltas required to call an impasse
}

// Defaults for unset config fields.
const (
	DefaultSemanticThreshold       = 0.85
	DefaultDivergenceThreshold     = 0.40
	DefaultConsecutiveStableRounds = 2
	stabilityDelta                 = 0.05
)

func (c Config) withDefaults() Config {
	if c.SemanticThreshold == 0 {
		c.SemanticThreshold = DefaultSemanticThreshold
	}
	if c.DivergenceThreshold == 0 {
		c.DivergenceThreshold = DefaultDivergenceThreshold
	}
	if c.ConsecutiveStableRounds == 0 {
		c.ConsecutiveStableRounds = DefaultConsecutiveStableRounds
	}
	if c.MinRoundsBeforeCheck < 1 {
		c.MinRoundsBeforeCheck = 1
	}
	return c
}

// Detector classifies rounds for a single deliberation. Not safe for
// concurrent use; each deliberation gets its own detector because impasse
// detection carries history across rounds.
type Detector struct {
	cfg     Config
	backend similarity.Backend
	logger  *slog.Logger
	history []float64 // avg similarity per checked round
	stable  int       // consecutive rounds with delta < stabilityDelta
}

// New creates a detector for one deliberation.
func New(cfg Config, backend similarity.Backend, logger *slog.Logger) *Detector {
	return &Detector{cfg: cfg.withDefaults(), backend: backend, logger: logger}
}

// Check classifies round roundNum against the previous round. It returns
// nil when detection is disabled, gated (roundNum <= min_rounds_before_check),
// no participant appears in both rounds, or the similarity backend fails —
// a nil ConvergenceInfo never fails a deliberation.
func (d *Detector) Check(ctx context.Context, roundNum int, prev, curr []model.RoundResponse, voting *model.VotingResult) *model.ConvergenceInfo {
	if !d.cfg.Enabled || roundNum <= d.cfg.MinRoundsBeforeCheck {
		return nil
	}

	prevByParticipant := make(map[string]string, len(prev))
	for _, r := range prev {
		prevByParticipant[r.Participant] = r.Response
	}

	perParticipant := make(map[string]float64)
	var sum float64
	minSim := math.Inf(1)
	for _, r := range curr {
		prevText, ok := prevByParticipant[r.Participant]
		if !ok {
			continue
		}
		score, err := d.backend.Score(ctx, prevText, r.Response)
		if err != nil {
			d.logger.Warn("convergence: similarity backend failed, skipping check",
				"round", roundNum, "participant", r.Participant, "error", err)
			return nil
		}
		score = model.ClampScore(score)
		perParticipant[r.Participant] = score
		sum += score
		if score < minSim {
			minSim = score
		}
	}
	if len(perParticipant) == 0 {
		return nil
	}
	avg := sum / float64(len(perParticipant))

	// Track stability against the previous checked round for impasse calls.
	if n := len(d.history); n > 0 && math.Abs(avg-d.history[n-1]) < stabilityDelta {
		d.stable++
	} else {
		d.stable = 0
	}
	d.history = append(d.history, avg)

	status := d.rawStatus(avg)
	info := &model.ConvergenceInfo{
		FinalSimilarity:          avg,
		MinSimilarity:            minSim,
		Status:                   status,
		PerParticipantSimilarity: perParticipant,
	}
	if status == model.StatusConverged || status == model.StatusImpasse {
		info.Detected = true
		info.DetectionRound = roundNum
	}

	ApplyVotingOverride(info, voting)
	if info.Detected && info.DetectionRound == 0 {
		info.DetectionRound = roundNum
	}
	return info
}

func (d *Detector) rawStatus(avg float64) model.ConvergenceStatus {
	switch {
	case avg >= d.cfg.SemanticThreshold:
		return model.StatusConverged
	case d.stable >= d.cfg.ConsecutiveStableRounds:
		return model.StatusImpasse
	case avg < d.cfg.DivergenceThreshold:
		return model.StatusDiverging
	default:
		return model.StatusRefining
	}
}

// ApplyVotingOverride replaces the semantic status with the voting-derived
// one when a decisive tally exists. Unanimous and majority outcomes also
// flip Detected, so voting can terminate a deliberation that semantic
// similarity alone would keep running.
func ApplyVotingOverride(info *model.ConvergenceInfo, voting *model.VotingResult) {
	if info == nil || voting == nil || voting.ConsensusLevel == model.ConsensusNoVotes {
		return
	}
	switch voting.ConsensusLevel {
	case model.ConsensusUnanimous:
		info.Status = model.StatusUnanimous
		info.Detected = true
	case model.ConsensusMajority:
		info.Status = model.StatusMajority
		info.Detected = true
	case model.ConsensusTie:
		info.Status = model.StatusTie
	}
}
