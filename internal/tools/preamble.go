package tools

import (
	"fmt"
	"strings"

	"github.com/counselhq/counsel/internal/model"
)

// DefaultPreambleCap bounds the result text of each record in the shared
// preamble.
const DefaultPreambleCap = 4 << 10

// RenderPreamble builds the shared context block injected into every
// participant's prompt in the round after tool execution. Each record shows
// the requester, the tool, its arguments as JSON, and the result text
// truncated to limit bytes. An empty record set renders to an empty string.
func RenderPreamble(records []model.ToolExecutionRecord, limit int) string {
	if len(records) == 0 {
		return ""
	}
	if limit <= 0 {
		limit = DefaultPreambleCap
	}

	var b strings.Builder
	b.WriteString("## Tool results from the previous round\n\n")
	for _, rec := range records {
		fmt.Fprintf(&b, "### %s requested %s\nArguments: %s\n", rec.Participant, rec.ToolName, string(rec.Arguments))
		if rec.Success {
			b.WriteString("Result:\n")
			b.WriteString(truncate(rec.Output, limit))
		} else {
			fmt.Fprintf(&b, "Failed: %s", truncate(rec.Error, limit))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n... [truncated]"
}
