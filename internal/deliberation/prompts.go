package deliberation

import (
	"fmt"
	"strings"

	"github.com/counselhq/counsel/internal/model"
)

// votingInstructions tells participants how to cast a machine-readable vote.
const votingInstructions = `## Voting

When you have a position, end your response with a vote marker on its own line:

VOTE: {"option": "<your chosen option>", "confidence": <0.0-1.0>, "rationale": "<one sentence>", "continue_debate": <true|false>}

Set "continue_debate" to false once further rounds would not change your position.
If you revise your vote within a response, only the last marker counts.`

// toolInstructions tells participants how to request evidence.
const toolInstructions = `## Evidence tools

You may request evidence from the working directory. Emit one marker per request:

TOOL_REQUEST: {"name": "read_file", "arguments": {"path": "<relative or absolute path>"}}
TOOL_REQUEST: {"name": "search_code", "arguments": {"pattern": "<regex>", "path": "<dir>"}}
TOOL_REQUEST: {"name": "list_files", "arguments": {"pattern": "<glob>", "path": "<dir>"}}
TOOL_REQUEST: {"name": "run_command", "arguments": {"command": "<ls|grep|find|cat|head|tail>", "args": ["..."]}}

Results are shared with every participant at the start of the next round.`

// stancePrompt nudges a participant toward its assigned disposition.
func stancePrompt(stance model.Stance) string {
	switch stance {
	case model.StanceFor:
		return "Your assigned stance is FOR the proposal. Argue its strongest case, but concede points that are factually wrong."
	case model.StanceAgainst:
		return "Your assigned stance is AGAINST the proposal. Argue its strongest case, but concede points that are factually wrong."
	default:
		return "Your stance is neutral. Weigh the arguments on their merits."
	}
}

// firstRoundPrompt builds the round-1 prompt, identical for every
// participant: question, caller context, decision-graph context, then the
// marker instructions.
func firstRoundPrompt(req *model.DeliberateRequest, graphContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Question\n\n%s\n", req.Question)
	if req.Context != "" {
		fmt.Fprintf(&b, "\n# Context from the caller\n\n%s\n", req.Context)
	}
	if graphContext != "" {
		b.WriteString("\n")
		b.WriteString(graphContext)
	}
	b.WriteString("\n")
	b.WriteString(votingInstructions)
	b.WriteString("\n\n")
	b.WriteString(toolInstructions)
	return b.String()
}

// laterRoundPrompt builds a round r>1 prompt for one participant: the full
// prior debate, tool results from the previous round, the voting
// instructions and the participant's stance.
func laterRoundPrompt(req *model.DeliberateRequest, p model.Participant, round int, debate []model.RoundResponse, toolPreamble string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Question\n\n%s\n", req.Question)
	fmt.Fprintf(&b, "\n# Debate so far (you are %s, round %d)\n", p.ID(), round)
	for _, r := range debate {
		fmt.Fprintf(&b, "\n## Round %d, %s\n\n%s\n", r.Round, r.Participant, r.Response)
	}
	if toolPreamble != "" {
		b.WriteString("\n")
		b.WriteString(toolPreamble)
	}
	b.WriteString("\n")
	b.WriteString(votingInstructions)
	b.WriteString("\n\n")
	b.WriteString(stancePrompt(p.Stance))
	return b.String()
}
