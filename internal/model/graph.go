package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DecisionNode is a completed deliberation persisted in the decision graph.
type DecisionNode struct {
	ID                 uuid.UUID      `json:"id"`
	Question           string         `json:"question"`
	QuestionNormalized string         `json:"question_normalized"`
	ConsensusStatus    string         `json:"consensus_status"`
	WinningOption      string         `json:"winning_option,omitempty"`
	Participants       []string       `json:"participants"`
	Timestamp          time.Time      `json:"timestamp"`
	TranscriptRef      string         `json:"transcript_ref,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// ParticipantStance records one participant's final position in a persisted
// decision. Owned by the decision node; deleted with it.
type ParticipantStance struct {
	DecisionID  uuid.UUID `json:"decision_id"`
	Participant string    `json:"participant"`
	VoteOption  *string   `json:"vote_option,omitempty"`
	Confidence  *float64  `json:"confidence,omitempty"`
	Rationale   *string   `json:"rationale,omitempty"`
	FinalText   string    `json:"final_position,omitempty"`
}

// DecisionSimilarity is a directed similarity edge between two decisions.
// Scores are clamped into [0,1] before persistence; self-edges are invalid.
type DecisionSimilarity struct {
	SourceID uuid.UUID `json:"source_id"`
	TargetID uuid.UUID `json:"target_id"`
	Score    float64   `json:"score"`
}

// NormalizeQuestion lowercases and collapses all whitespace runs to single
// spaces. The normalized form is what gets hashed for cache keys and
// duplicate detection.
func NormalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// QuestionHash returns a short stable hash of the normalized question,
// suitable for log lines and cache keys.
func QuestionHash(q string) string {
	sum := sha256.Sum256([]byte(NormalizeQuestion(q)))
	return hex.EncodeToString(sum[:8])
}

// ClampScore forces a similarity score into [0,1]. Backends may return
// values like 1.000000007 from cosine arithmetic; those must never reach
// storage or threshold comparisons.
func ClampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
