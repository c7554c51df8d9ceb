package model

import "time"

// RoundResponse is one participant's full response text for one round.
type RoundResponse struct {
	Round       int       `json:"round"`
	Participant string    `json:"participant"`
	Stance      Stance    `json:"stance"`
	Response    string    `json:"response"`
	Timestamp   time.Time `json:"timestamp"`
}

// Vote is a structured position extracted from a VOTE marker.
type Vote struct {
	Option         string  `json:"option"`
	Confidence     float64 `json:"confidence"`
	Rationale      string  `json:"rationale"`
	ContinueDebate bool    `json:"continue_debate"`
}

// RoundVote associates a vote with the round and participant that cast it.
// At most one per (round, participant); a later vote in the same response
// replaces an earlier one.
type RoundVote struct {
	Round       int       `json:"round"`
	Participant string    `json:"participant"`
	Vote        Vote      `json:"vote"`
	Timestamp   time.Time `json:"timestamp"`
}

// ConsensusLevel classifies the outcome of vote aggregation.
type ConsensusLevel string

const (
	ConsensusUnanimous ConsensusLevel = "unanimous_consensus"
	ConsensusMajority  ConsensusLevel = "majority_decision"
	ConsensusTie       ConsensusLevel = "tie"
	ConsensusNoVotes   ConsensusLevel = "no_votes"
)

// TallyEntry is one grouped option with its accumulated vote count.
// Entries are reported sorted by count descending, then first-seen order.
type TallyEntry struct {
	Option string `json:"option"`
	Count  int    `json:"count"`
}

// VotingResult is the aggregate of all votes cast during a deliberation.
type VotingResult struct {
	FinalTally       []TallyEntry   `json:"final_tally"`
	VotesByRound     []RoundVote    `json:"votes_by_round"`
	ConsensusLevel   ConsensusLevel `json:"consensus_level"`
	ConsensusReached bool           `json:"consensus_reached"`
	WinningOption    string         `json:"winning_option,omitempty"`
}

// ConvergenceStatus classifies round-to-round evolution. Semantic statuses
// come from response similarity; voting statuses override them when votes
// exist.
type ConvergenceStatus string

const (
	StatusConverged ConvergenceStatus = "converged"
	StatusRefining  ConvergenceStatus = "refining"
	StatusDiverging ConvergenceStatus = "diverging"
	StatusImpasse   ConvergenceStatus = "impasse"

	// Voting-derived statuses mirror ConsensusLevel.
	StatusUnanimous ConvergenceStatus = "unanimous_consensus"
	StatusMajority  ConvergenceStatus = "majority_decision"
	StatusTie       ConvergenceStatus = "tie"
)

// ConvergenceInfo reports the convergence classification for a deliberation.
type ConvergenceInfo struct {
	Detected                 bool               `json:"detected"`
	DetectionRound           int                `json:"detection_round,omitempty"`
	FinalSimilarity          float64            `json:"final_similarity"`
	MinSimilarity            float64            `json:"min_similarity"`
	Status                   ConvergenceStatus  `json:"status"`
	PerParticipantSimilarity map[string]float64 `json:"per_participant_similarity,omitempty"`
}
