package deliberation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/counselhq/counsel/internal/model"
)

// TranscriptWriter persists the full debate as a markdown file, one per
// deliberation. The result's transcript_ref points at the written file, so
// transport-level truncation never loses history.
type TranscriptWriter struct {
	dir string
}

// NewTranscriptWriter writes transcripts under dir. An empty dir disables
// writing.
func NewTranscriptWriter(dir string) *TranscriptWriter {
	return &TranscriptWriter{dir: dir}
}

// Write renders and stores the transcript, returning its path.
func (w *TranscriptWriter) Write(result *model.DeliberationResult) (string, error) {
	if w.dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("deliberation: create transcripts dir: %w", err)
	}

	name := fmt.Sprintf("%s_%s.md", time.Now().UTC().Format("20060102T150405"), model.QuestionHash(result.Question))
	path := filepath.Join(w.dir, name)

	var b strings.Builder
	fmt.Fprintf(&b, "# Deliberation: %s\n\n", result.Question)
	fmt.Fprintf(&b, "- Mode: %s\n- Status: %s\n- Rounds: %d\n- Participants: %s\n",
		result.Mode, result.Status, result.RoundsCompleted, strings.Join(result.Participants, ", "))

	for _, r := range result.FullDebate {
		fmt.Fprintf(&b, "\n## Round %d — %s\n\n%s\n", r.Round, r.Participant, r.Response)
	}

	if len(result.ToolExecutions) > 0 {
		b.WriteString("\n## Tool executions\n")
		for _, rec := range result.ToolExecutions {
			status := "ok"
			if !rec.Success {
				status = "failed: " + rec.Error
			}
			fmt.Fprintf(&b, "\n- round %d, %s, %s (%s)\n", rec.Round, rec.Participant, rec.ToolName, status)
		}
	}

	if v := result.VotingResult; v != nil && len(v.FinalTally) > 0 {
		b.WriteString("\n## Final tally\n\n")
		for _, e := range v.FinalTally {
			fmt.Fprintf(&b, "- %s: %d\n", e.Option, e.Count)
		}
		fmt.Fprintf(&b, "\nConsensus: %s", v.ConsensusLevel)
		if v.WinningOption != "" {
			fmt.Fprintf(&b, " for %q", v.WinningOption)
		}
		b.WriteString("\n")
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("deliberation: write transcript: %w", err)
	}
	return path, nil
}
