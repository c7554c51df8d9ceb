package model

// ResultStatus is the terminal state of a deliberation.
type ResultStatus string

const (
	ResultComplete ResultStatus = "complete"
	ResultFailed   ResultStatus = "failed"
)

// Summary is a human-oriented digest of the deliberation outcome.
type Summary struct {
	Consensus           string   `json:"consensus"`
	KeyAgreements       []string `json:"key_agreements,omitempty"`
	KeyDisagreements    []string `json:"key_disagreements,omitempty"`
	FinalRecommendation string   `json:"final_recommendation,omitempty"`
}

// DeliberationResult is the full outcome of one deliberation. FullDebate is
// ordered by (round asc, participant lexicographic); ToolExecutions by
// (round, participant, tool name).
type DeliberationResult struct {
	Status              ResultStatus          `json:"status"`
	Mode                Mode                  `json:"mode"`
	Question            string                `json:"question"`
	Participants        []string              `json:"participants"`
	RoundsCompleted     int                   `json:"rounds_completed"`
	FullDebate          []RoundResponse       `json:"full_debate"`
	FullDebateTruncated bool                  `json:"full_debate_truncated"`
	TotalRounds         int                   `json:"total_rounds,omitempty"`
	VotingResult        *VotingResult         `json:"voting_result,omitempty"`
	ConvergenceInfo     *ConvergenceInfo      `json:"convergence_info,omitempty"`
	ToolExecutions      []ToolExecutionRecord `json:"tool_executions,omitempty"`
	Summary             *Summary              `json:"summary,omitempty"`
	TranscriptRef       string                `json:"transcript_ref,omitempty"`
}
